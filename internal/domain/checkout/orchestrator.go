package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/money"
)

// DefaultInteractionTimeout bounds how long the gateway waits for the user to
// complete or abandon the hosted payment page.
const DefaultInteractionTimeout = 300 * time.Second

// DefaultTerminalRetention is how long a finished order record stays
// queryable in memory before it is dropped.
const DefaultTerminalRetention = 15 * time.Minute

// EventSink receives a copy of the order record on every status change.
type EventSink interface {
	OrderStatusChanged(ctx context.Context, rec OrderRecord, event Event)
}

// Config holds the tunable values of the orchestrator.
type Config struct {
	// InteractionTimeout forces UserCancelled when the hosted payment page
	// stays open longer than this. Zero means DefaultInteractionTimeout.
	InteractionTimeout time.Duration
	// VerifyAttempts is the total verification call budget per order.
	// Zero means the default of 3.
	VerifyAttempts int
	// VerifyDelay is the fixed delay between verification retries.
	// Zero means the default of 2s.
	VerifyDelay time.Duration
	// TerminalRetention is the grace period a terminal record stays
	// addressable for status polls before it is evicted from memory. The
	// repository keeps the durable copy. Zero means
	// DefaultTerminalRetention.
	TerminalRetention time.Duration
}

// Dependencies are the orchestrator's collaborators. Backend, Gateway, and
// Carts are required; the rest may be nil.
type Dependencies struct {
	Backend   Backend
	Gateway   Gateway
	Carts     CartClearer
	Repo      Repository
	Events    EventSink
	Addresses AddressProvider
	Metrics   *Metrics
}

// Orchestrator owns the order records and drives each checkout attempt
// through the state machine. All record mutation goes through the reducer
// under the orchestrator's lock; blocking collaborator calls happen outside
// of it.
type Orchestrator struct {
	cfg    Config
	deps   Dependencies
	verify *verifier
	now    func() time.Time

	mu        sync.Mutex
	bySession map[string]*OrderRecord
	byOrder   map[string]*OrderRecord
}

// NewOrchestrator creates an Orchestrator with the given configuration and
// collaborators.
func NewOrchestrator(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.InteractionTimeout <= 0 {
		cfg.InteractionTimeout = DefaultInteractionTimeout
	}
	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = DefaultTerminalRetention
	}
	v := newVerifier(deps.Backend)
	if cfg.VerifyAttempts > 0 {
		v.attempts = cfg.VerifyAttempts
	}
	if cfg.VerifyDelay > 0 {
		v.delay = cfg.VerifyDelay
	}
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		verify:    v,
		now:       time.Now,
		bySession: make(map[string]*OrderRecord),
		byOrder:   make(map[string]*OrderRecord),
	}
}

// Checkout runs one checkout attempt to a terminal state. It blocks for the
// whole pipeline, including the user-paced gateway interaction, so callers
// typically run it in its own goroutine and poll Record for progress.
//
// Validation failures and the duplicate-submission guard reject synchronously
// before any record is created. Pipeline failures are encoded on the returned
// record (status plus reason) and also returned as an error; user
// cancellation is informational and returns a nil error.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (OrderRecord, error) {
	lg := zctx.From(ctx)

	if err := o.validate(ctx, req); err != nil {
		return OrderRecord{}, err
	}

	rec, err := o.begin(req)
	if err != nil {
		return OrderRecord{}, err
	}
	o.deps.Metrics.checkoutStarted(ctx, req.Source)

	placed, err := o.deps.Backend.PlaceOrder(ctx, req)
	if err != nil {
		reason := "order placement failed"
		var rej *BackendRejectionError
		if errors.As(err, &rej) {
			reason = rej.Message
		}
		o.transition(ctx, rec, EventPlacementRejected, reason)
		return o.copyOf(rec), err
	}

	o.mu.Lock()
	rec.AppOrderID = placed.AppOrderID
	rec.Amount = placed.Amount
	rec.Session = placed.Session
	o.byOrder[placed.AppOrderID] = rec
	o.mu.Unlock()
	o.transition(ctx, rec, EventOrderPlaced, "")

	// The gateway is opened exactly once per order record.
	o.transition(ctx, rec, EventGatewayOpened, "")
	gwCtx, cancel := context.WithTimeout(ctx, o.cfg.InteractionTimeout)
	res, gwErr := o.deps.Gateway.Open(gwCtx, placed.Session)
	cancel()

	switch {
	case gwErr != nil:
		// Timeout or shutdown while the payment page was open. The backend
		// order stays pending for manual reconciliation; the client stops.
		reason := "payment session interrupted"
		if errors.Is(gwErr, context.DeadlineExceeded) {
			reason = "payment window timed out"
		}
		lg.Info("Gateway interaction ended without outcome",
			zap.String("app_order_id", rec.AppOrderID),
			zap.Error(gwErr))
		o.transition(ctx, rec, EventGatewayDismissed, reason)
		return o.copyOf(rec), nil
	case res.Outcome == GatewayDismissed:
		o.transition(ctx, rec, EventGatewayDismissed, "payment window dismissed")
		return o.copyOf(rec), nil
	case res.Outcome == GatewayFailed:
		o.transition(ctx, rec, EventGatewayFailed, res.Reason)
		return o.copyOf(rec), &GatewayDeclinedError{Reason: res.Reason}
	}

	// Provisional success: never trusted directly, always verified.
	o.transition(ctx, rec, EventGatewaySucceeded, "")

	verdict, verr := o.verify.run(ctx, rec.AppOrderID, res.Reference, func(att VerificationAttempt) error {
		o.recordAttempt(ctx, rec, att)
		return nil
	})

	switch verdict {
	case verdictCompleted:
		o.transition(ctx, rec, EventVerifySucceeded, "")
		if req.Source == SourceCart {
			if err := o.deps.Carts.ClearCart(ctx, req.SessionID); err != nil {
				lg.Error("Clear cart after completed order",
					zap.String("app_order_id", rec.AppOrderID),
					zap.Error(err))
			}
		}
		return o.copyOf(rec), nil
	case verdictRejected:
		o.transition(ctx, rec, EventVerifyRejected, verr.Error())
		return o.copyOf(rec), verr
	default:
		// Money may have moved. This must surface as "status unknown,
		// contact support", never as a plain failure.
		o.transition(ctx, rec, EventVerifyExhausted, "payment status unknown, contact support")
		return o.copyOf(rec), verr
	}
}

// Record returns a copy of the session's current order record.
func (o *Orchestrator) Record(sessionID string) (OrderRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.bySession[sessionID]
	if !ok {
		return OrderRecord{}, false
	}
	return copyRecord(rec), true
}

// RecordByOrderID returns a copy of the record with the given AppOrderID.
func (o *Orchestrator) RecordByOrderID(appOrderID string) (OrderRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.byOrder[appOrderID]
	if !ok {
		return OrderRecord{}, false
	}
	return copyRecord(rec), true
}

func (o *Orchestrator) validate(ctx context.Context, req Request) error {
	if len(req.Lines) == 0 {
		return &ValidationError{Field: "lines", Reason: "cart is empty"}
	}
	if req.AddressID == "" {
		return &ValidationError{Field: "addressId", Reason: "no delivery address selected"}
	}
	if o.deps.Addresses != nil {
		ok, err := o.deps.Addresses.HasAddress(ctx, req.SessionID, req.AddressID)
		if err != nil {
			return errors.Wrap(err, "check address")
		}
		if !ok {
			return &ValidationError{Field: "addressId", Reason: "unknown delivery address"}
		}
	}
	return nil
}

// begin enforces the one-active-record rule and installs a fresh record in
// Placing. A retry after any terminal state replaces the old record; the
// AppOrderID is never reused.
func (o *Orchestrator) begin(req Request) (*OrderRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cur, ok := o.bySession[req.SessionID]; ok && !cur.Status.IsTerminal() {
		return nil, ErrCheckoutInProgress
	}

	var amount int64
	for _, line := range req.Lines {
		amount += int64(line.Subtotal())
	}

	now := o.now()
	rec := &OrderRecord{
		SessionID: req.SessionID,
		Source:    req.Source,
		Status:    StatusIdle,
		Amount:    money.Amount(amount),
		AddressID: req.AddressID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	next, err := Reduce(rec.Status, EventCheckoutRequested)
	if err != nil {
		return nil, err
	}
	rec.Status = next
	o.bySession[req.SessionID] = rec
	return rec, nil
}

// transition applies event to rec through the reducer. Illegal events are
// absorbed: they log and change nothing, which makes terminal states sticky
// against stray duplicate callbacks.
func (o *Orchestrator) transition(ctx context.Context, rec *OrderRecord, event Event, reason string) {
	o.mu.Lock()
	next, err := Reduce(rec.Status, event)
	if err != nil {
		status := rec.Status
		o.mu.Unlock()
		zctx.From(ctx).Debug("Ignoring event",
			zap.String("event", string(event)),
			zap.String("status", status.String()))
		return
	}
	rec.Status = next
	if reason != "" {
		rec.Reason = reason
	}
	rec.UpdatedAt = o.now()
	snap := copyRecord(rec)
	o.mu.Unlock()

	if next.IsTerminal() {
		o.deps.Metrics.checkoutTerminal(ctx, next)
		time.AfterFunc(o.cfg.TerminalRetention, func() { o.evict(rec) })
	}
	if o.deps.Repo != nil {
		if err := o.deps.Repo.SaveOrder(ctx, &snap); err != nil {
			zctx.From(ctx).Error("Persist order record",
				zap.String("app_order_id", snap.AppOrderID),
				zap.Error(err))
		}
	}
	if o.deps.Events != nil {
		o.deps.Events.OrderStatusChanged(ctx, snap, event)
	}
}

// recordAttempt appends a verification attempt to the record and, for
// transient failures, applies the VerifyingPayment self-loop.
func (o *Orchestrator) recordAttempt(ctx context.Context, rec *OrderRecord, att VerificationAttempt) {
	o.mu.Lock()
	rec.Attempts = append(rec.Attempts, att)
	appOrderID := rec.AppOrderID
	o.mu.Unlock()
	o.deps.Metrics.verifyAttempt(ctx, att.Outcome)

	if o.deps.Repo != nil {
		if err := o.deps.Repo.RecordAttempt(ctx, appOrderID, att); err != nil {
			zctx.From(ctx).Error("Persist verification attempt",
				zap.String("app_order_id", appOrderID),
				zap.Int("attempt", att.Number),
				zap.Error(err))
		}
	}
	if att.Outcome == AttemptTransientFailure {
		o.transition(ctx, rec, EventVerifyRetried, "")
	}
}

// evict drops a terminal record from the in-memory indexes once its
// retention ran out. Pointer identity guards against dropping a newer record
// that replaced this one in the meantime.
func (o *Orchestrator) evict(rec *OrderRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.bySession[rec.SessionID]; ok && cur == rec {
		delete(o.bySession, rec.SessionID)
	}
	if rec.AppOrderID != "" {
		if cur, ok := o.byOrder[rec.AppOrderID]; ok && cur == rec {
			delete(o.byOrder, rec.AppOrderID)
		}
	}
}

func (o *Orchestrator) copyOf(rec *OrderRecord) OrderRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyRecord(rec)
}

func copyRecord(rec *OrderRecord) OrderRecord {
	out := *rec
	if len(rec.Attempts) > 0 {
		out.Attempts = make([]VerificationAttempt, len(rec.Attempts))
		copy(out.Attempts, rec.Attempts)
	}
	return out
}
