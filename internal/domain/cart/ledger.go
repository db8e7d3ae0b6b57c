package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Ledger owns the cart lines for one storefront session. A ledger starts in
// guest mode (mutations are local, persisted to the Store) and switches to
// authenticated mode after MergeOnLogin, from which point every mutation is
// applied on the Backend before the local state changes.
//
// A failed backend or store call leaves the ledger state unchanged and
// surfaces a recoverable error; the ledger never retries on its own.
type Ledger struct {
	sessionID     string
	authenticated bool
	lines         []Line

	store   Store
	backend Backend
}

// NewGuestLedger creates a guest-mode ledger persisted to store under
// sessionID. The lines slice is adopted as the initial state (typically the
// result of store.Load during session hydration).
func NewGuestLedger(sessionID string, lines []Line, store Store, backend Backend) *Ledger {
	return &Ledger{
		sessionID: sessionID,
		lines:     lines,
		store:     store,
		backend:   backend,
	}
}

// NewAuthenticatedLedger creates a server-backed ledger seeded with the
// server's current cart lines.
func NewAuthenticatedLedger(sessionID string, lines []Line, backend Backend) *Ledger {
	return &Ledger{
		sessionID:     sessionID,
		authenticated: true,
		lines:         lines,
		backend:       backend,
	}
}

// Authenticated reports whether the ledger is in server-backed mode.
func (l *Ledger) Authenticated() bool {
	return l.authenticated
}

// SessionID returns the session the ledger belongs to.
func (l *Ledger) SessionID() string {
	return l.sessionID
}

// AddLine adds quantity units of the given item. When a line with the same
// (productId, variantId) already exists its quantity is incremented,
// otherwise a new line is appended. In authenticated mode the server call is
// made first and the local line adopts the server-issued id, so later update
// and remove calls address a line the server knows about.
func (l *Ledger) AddLine(ctx context.Context, item Line, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	item.Quantity = quantity

	if l.authenticated {
		created, err := l.backend.AddCartItem(ctx, item)
		if err != nil {
			return errors.Wrap(err, "add cart item")
		}
		if created.ID != "" {
			item.ID = created.ID
		}
	}

	next := cloneLines(l.lines)
	merged := false
	for i := range next {
		if next[i].Key() == item.Key() {
			next[i].Quantity += quantity
			if l.authenticated && item.ID != "" {
				next[i].ID = item.ID
			}
			merged = true
			break
		}
	}
	if !merged {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		next = append(next, item)
	}
	return l.commit(ctx, next)
}

// UpdateQuantity sets the quantity of an existing line. A quantity of zero or
// less removes the line instead; a zero-quantity line never exists.
func (l *Ledger) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	if quantity <= 0 {
		return l.RemoveLine(ctx, lineID)
	}

	idx := l.indexOf(lineID)
	if idx < 0 {
		return &LineNotFoundError{LineID: lineID}
	}

	next := cloneLines(l.lines)
	next[idx].Quantity = quantity

	if l.authenticated {
		if err := l.backend.UpdateCartItem(ctx, lineID, quantity); err != nil {
			return errors.Wrap(err, "update cart item")
		}
	}
	return l.commit(ctx, next)
}

// RemoveLine deletes a line from the cart.
func (l *Ledger) RemoveLine(ctx context.Context, lineID string) error {
	idx := l.indexOf(lineID)
	if idx < 0 {
		return &LineNotFoundError{LineID: lineID}
	}

	next := make([]Line, 0, len(l.lines)-1)
	next = append(next, l.lines[:idx]...)
	next = append(next, l.lines[idx+1:]...)

	if l.authenticated {
		if err := l.backend.RemoveCartItem(ctx, lineID); err != nil {
			return errors.Wrap(err, "remove cart item")
		}
	}
	return l.commit(ctx, next)
}

// Snapshot returns the derived view of the cart. It has no side effects; the
// returned lines are copies.
func (l *Ledger) Snapshot() Snapshot {
	s := Snapshot{Lines: cloneLines(l.lines)}
	for _, line := range l.lines {
		s.ItemCount += line.Quantity
		s.TotalAmount += line.Subtotal()
	}
	return s
}

// Clear empties the cart. It is called after a confirmed successful order,
// never speculatively. In authenticated mode every line is removed on the
// server first, one at a time, so a later server fetch cannot resurrect a
// purchased line; a failed removal stops there and keeps the remaining lines.
func (l *Ledger) Clear(ctx context.Context) error {
	if l.authenticated {
		for len(l.lines) > 0 {
			if err := l.backend.RemoveCartItem(ctx, l.lines[0].ID); err != nil {
				return errors.Wrap(err, "clear server cart")
			}
			l.lines = l.lines[1:]
		}
		l.lines = nil
		return nil
	}
	if l.store != nil {
		if err := l.store.Delete(ctx, l.sessionID); err != nil {
			return errors.Wrap(err, "delete guest cart")
		}
	}
	l.lines = nil
	return nil
}

// MergeOnLogin merges the guest-held lines into the server cart and switches
// the ledger to authenticated mode. The local lines are the source of truth:
// the server cart is unioned by (productId, variantId) with quantities summed
// on conflict, which is the Backend's add semantics. On error the ledger
// stays in guest mode with its lines unchanged.
func (l *Ledger) MergeOnLogin(ctx context.Context, serverLines []Line) error {
	if l.authenticated {
		return nil
	}

	merged := cloneLines(serverLines)
	for _, local := range l.lines {
		created, err := l.backend.AddCartItem(ctx, local)
		if err != nil {
			return errors.Wrap(err, "merge guest line")
		}
		found := false
		for i := range merged {
			if merged[i].Key() == local.Key() {
				merged[i].Quantity += local.Quantity
				if created.ID != "" {
					merged[i].ID = created.ID
				}
				found = true
				break
			}
		}
		if !found {
			// guest-minted ids mean nothing to the server; keep its id
			if created.ID != "" {
				local.ID = created.ID
			}
			merged = append(merged, local)
		}
	}

	if l.store != nil {
		if err := l.store.Delete(ctx, l.sessionID); err != nil {
			return errors.Wrap(err, "drop guest cart")
		}
	}

	l.lines = merged
	l.authenticated = true
	return nil
}

// commit persists next (guest mode) and then installs it as the current
// state. On persistence failure the in-memory state is left untouched.
func (l *Ledger) commit(ctx context.Context, next []Line) error {
	if !l.authenticated && l.store != nil {
		if err := l.store.Save(ctx, l.sessionID, next); err != nil {
			return errors.Wrap(err, "persist guest cart")
		}
	}
	l.lines = next
	return nil
}

func (l *Ledger) indexOf(lineID string) int {
	for i := range l.lines {
		if l.lines[i].ID == lineID {
			return i
		}
	}
	return -1
}

func cloneLines(lines []Line) []Line {
	if len(lines) == 0 {
		return nil
	}
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}
