package api

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

// serverCartLister fetches the authenticated user's server cart during the
// login merge.
type serverCartLister interface {
	ListCartItems(ctx context.Context) ([]cart.Line, error)
}

// CartService owns the per-session cart ledgers. Guest ledgers are hydrated
// from the durable store on first touch and cached; all ledger operations for
// one session are serialized on the session's lock.
type CartService struct {
	store   cart.Store
	backend cart.Backend
	lister  serverCartLister

	mu       sync.Mutex
	sessions map[string]*cartSession
}

type cartSession struct {
	mu       sync.Mutex
	ledger   *cart.Ledger
	lastUsed time.Time // guarded by CartService.mu
}

// NewCartService creates a CartService.
func NewCartService(store cart.Store, backend cart.Backend, lister serverCartLister) *CartService {
	return &CartService{
		store:    store,
		backend:  backend,
		lister:   lister,
		sessions: make(map[string]*cartSession),
	}
}

// withLedger runs fn with the session's ledger under the session lock,
// hydrating a guest ledger from the store on first use.
func (s *CartService) withLedger(ctx context.Context, sessionID string, fn func(*cart.Ledger) error) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &cartSession{}
		s.sessions[sessionID] = sess
	}
	sess.lastUsed = time.Now()
	s.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.ledger == nil {
		lines, err := s.store.Load(ctx, sessionID)
		if err != nil {
			return errors.Wrap(err, "hydrate cart")
		}
		sess.ledger = cart.NewGuestLedger(sessionID, lines, s.store, s.backend)
	}
	return fn(sess.ledger)
}

// StartCleanup evicts cached session ledgers idle longer than maxIdle, every
// interval, until ctx is cancelled. Guest state survives eviction through the
// durable store; an evicted authenticated session re-merges on its next
// login.
func (s *CartService) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictIdle(time.Now().Add(-maxIdle))
			}
		}
	}()
}

func (s *CartService) evictIdle(olderThan time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(olderThan) {
			delete(s.sessions, id)
		}
	}
}

// Snapshot returns the derived cart view for the session.
func (s *CartService) Snapshot(ctx context.Context, sessionID string) (cart.Snapshot, error) {
	var snap cart.Snapshot
	err := s.withLedger(ctx, sessionID, func(l *cart.Ledger) error {
		snap = l.Snapshot()
		return nil
	})
	return snap, err
}

// AddLine adds an item to the session cart.
func (s *CartService) AddLine(ctx context.Context, sessionID string, item cart.Line, quantity int) error {
	return s.withLedger(ctx, sessionID, func(l *cart.Ledger) error {
		return l.AddLine(ctx, item, quantity)
	})
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, sessionID, lineID string, quantity int) error {
	return s.withLedger(ctx, sessionID, func(l *cart.Ledger) error {
		return l.UpdateQuantity(ctx, lineID, quantity)
	})
}

// RemoveLine deletes a line from the session cart.
func (s *CartService) RemoveLine(ctx context.Context, sessionID, lineID string) error {
	return s.withLedger(ctx, sessionID, func(l *cart.Ledger) error {
		return l.RemoveLine(ctx, lineID)
	})
}

// Login merges the guest-held lines into the server cart and switches the
// session's ledger to authenticated mode.
func (s *CartService) Login(ctx context.Context, sessionID string) error {
	return s.withLedger(ctx, sessionID, func(l *cart.Ledger) error {
		serverLines, err := s.lister.ListCartItems(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch server cart")
		}
		return l.MergeOnLogin(ctx, serverLines)
	})
}

// ClearCart empties the session cart. Called by the orchestrator after a
// confirmed successful cart-sourced order.
func (s *CartService) ClearCart(ctx context.Context, sessionID string) error {
	return s.withLedger(ctx, sessionID, func(l *cart.Ledger) error {
		return l.Clear(ctx)
	})
}
