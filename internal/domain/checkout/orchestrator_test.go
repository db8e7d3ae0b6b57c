package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/money"
)

// --- Mock implementations ---

type orchBackend struct {
	mu         sync.Mutex
	placeErr   error
	verifyErrs []error
	placed     int
	verified   int
}

func (b *orchBackend) PlaceOrder(_ context.Context, req Request) (*PlacedOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.placeErr != nil {
		return nil, b.placeErr
	}
	b.placed++
	var amount money.Amount
	for _, line := range req.Lines {
		amount += line.Subtotal()
	}
	id := fmt.Sprintf("ord-%d", b.placed)
	return &PlacedOrder{
		AppOrderID: id,
		Amount:     amount,
		Session: PaymentSession{
			GatewaySessionID: "gw-" + id,
			Amount:           amount,
			Currency:         "USD",
			AppOrderID:       id,
		},
	}, nil
}

func (b *orchBackend) VerifyPayment(_ context.Context, _ string, _ PaymentReference) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verified++
	if b.verified <= len(b.verifyErrs) {
		return b.verifyErrs[b.verified-1]
	}
	return nil
}

type stubGateway struct {
	result  GatewayResult
	err     error
	block   chan struct{} // when set, Open waits for it (or ctx) before returning
	session PaymentSession
}

func (g *stubGateway) Open(ctx context.Context, session PaymentSession) (GatewayResult, error) {
	g.session = session
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return GatewayResult{}, ctx.Err()
		}
	}
	return g.result, g.err
}

type stubCarts struct {
	mu      sync.Mutex
	cleared []string
	err     error
}

func (c *stubCarts) ClearCart(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.cleared = append(c.cleared, sessionID)
	return nil
}

func (c *stubCarts) clearedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cleared)
}

// --- Helpers ---

func cartLines() []cart.Line {
	return []cart.Line{
		{ID: "l1", ProductID: "p1", Name: "Widget", UnitPrice: 1000, Quantity: 2},
		{ID: "l2", ProductID: "p2", Name: "Gadget", UnitPrice: 500, Quantity: 1},
	}
}

func cartRequest() Request {
	return Request{
		SessionID: "s1",
		Source:    SourceCart,
		Lines:     cartLines(),
		AddressID: "addr-1",
	}
}

func newTestOrchestrator(backend *orchBackend, gw Gateway, carts *stubCarts) *Orchestrator {
	return NewOrchestrator(Config{
		InteractionTimeout: time.Second,
		VerifyDelay:        time.Millisecond,
	}, Dependencies{
		Backend: backend,
		Gateway: gw,
		Carts:   carts,
	})
}

// --- Tests ---

func TestCheckout_EmptyCartRejectedBeforeAnyRecord(t *testing.T) {
	o := newTestOrchestrator(&orchBackend{}, &stubGateway{}, &stubCarts{})

	req := cartRequest()
	req.Lines = nil
	_, err := o.Checkout(context.Background(), req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lines", verr.Field)
	_, ok := o.Record("s1")
	assert.False(t, ok, "validation failure must not create a record")
}

func TestCheckout_MissingAddressRejected(t *testing.T) {
	o := newTestOrchestrator(&orchBackend{}, &stubGateway{}, &stubCarts{})

	req := cartRequest()
	req.AddressID = ""
	_, err := o.Checkout(context.Background(), req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "addressId", verr.Field)
}

func TestCheckout_HappyPath(t *testing.T) {
	backend := &orchBackend{}
	gw := &stubGateway{result: GatewayResult{
		Outcome:   GatewaySuccess,
		Reference: PaymentReference{Ref: "pay-1", Signature: "sig"},
	}}
	carts := &stubCarts{}
	o := newTestOrchestrator(backend, gw, carts)

	rec, err := o.Checkout(context.Background(), cartRequest())

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "ord-1", rec.AppOrderID)
	assert.Equal(t, money.Amount(2500), rec.Amount)
	require.Len(t, rec.Attempts, 1)
	assert.Equal(t, AttemptSuccess, rec.Attempts[0].Outcome)

	// the gateway saw the backend-issued session, and the cart was cleared once
	assert.Equal(t, "gw-ord-1", gw.session.GatewaySessionID)
	assert.Equal(t, []string{"s1"}, carts.cleared)
}

func TestCheckout_SingleItemDoesNotClearCart(t *testing.T) {
	gw := &stubGateway{result: GatewayResult{
		Outcome:   GatewaySuccess,
		Reference: PaymentReference{Ref: "pay-1"},
	}}
	carts := &stubCarts{}
	o := newTestOrchestrator(&orchBackend{}, gw, carts)

	req := cartRequest()
	req.Source = SourceSingleItem
	req.Lines = req.Lines[:1]
	rec, err := o.Checkout(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Zero(t, carts.clearedCount())
}

func TestCheckout_PlacementRejection(t *testing.T) {
	backend := &orchBackend{placeErr: &BackendRejectionError{Code: 422, Message: "price changed"}}
	o := newTestOrchestrator(backend, &stubGateway{}, &stubCarts{})

	rec, err := o.Checkout(context.Background(), cartRequest())

	var rej *BackendRejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, StatusPaymentFailed, rec.Status)
	assert.Equal(t, "price changed", rec.Reason)
	assert.Empty(t, rec.AppOrderID)
}

func TestCheckout_GatewayDeclined(t *testing.T) {
	gw := &stubGateway{result: GatewayResult{Outcome: GatewayFailed, Reason: "card declined"}}
	carts := &stubCarts{}
	o := newTestOrchestrator(&orchBackend{}, gw, carts)

	rec, err := o.Checkout(context.Background(), cartRequest())

	var declined *GatewayDeclinedError
	require.ErrorAs(t, err, &declined)
	assert.Equal(t, StatusPaymentFailed, rec.Status)
	assert.Equal(t, "card declined", rec.Reason)
	assert.Zero(t, carts.clearedCount())
}

func TestCheckout_GatewayDismissedIsNotAnError(t *testing.T) {
	gw := &stubGateway{result: GatewayResult{Outcome: GatewayDismissed}}
	o := newTestOrchestrator(&orchBackend{}, gw, &stubCarts{})

	rec, err := o.Checkout(context.Background(), cartRequest())

	require.NoError(t, err)
	assert.Equal(t, StatusUserCancelled, rec.Status)
}

func TestCheckout_InteractionTimeoutCancels(t *testing.T) {
	gw := &stubGateway{block: make(chan struct{})} // never released
	o := NewOrchestrator(Config{
		InteractionTimeout: 20 * time.Millisecond,
		VerifyDelay:        time.Millisecond,
	}, Dependencies{Backend: &orchBackend{}, Gateway: gw, Carts: &stubCarts{}})

	rec, err := o.Checkout(context.Background(), cartRequest())

	require.NoError(t, err)
	assert.Equal(t, StatusUserCancelled, rec.Status)
	assert.Equal(t, "payment window timed out", rec.Reason)
}

func TestCheckout_GatewayInterruptedIsNotATimeout(t *testing.T) {
	gw := &stubGateway{err: context.Canceled}
	o := newTestOrchestrator(&orchBackend{}, gw, &stubCarts{})

	rec, err := o.Checkout(context.Background(), cartRequest())

	require.NoError(t, err)
	assert.Equal(t, StatusUserCancelled, rec.Status)
	assert.Equal(t, "payment session interrupted", rec.Reason)
}

func TestCheckout_TerminalRecordsEvictedAfterRetention(t *testing.T) {
	gw := &stubGateway{result: GatewayResult{Outcome: GatewayDismissed}}
	o := NewOrchestrator(Config{
		InteractionTimeout: time.Second,
		VerifyDelay:        time.Millisecond,
		TerminalRetention:  20 * time.Millisecond,
	}, Dependencies{Backend: &orchBackend{}, Gateway: gw, Carts: &stubCarts{}})

	rec, err := o.Checkout(context.Background(), cartRequest())
	require.NoError(t, err)
	require.Equal(t, StatusUserCancelled, rec.Status)

	// queryable during the grace period
	_, ok := o.Record("s1")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, bySess := o.Record("s1")
		_, byOrd := o.RecordByOrderID(rec.AppOrderID)
		o.mu.Lock()
		held := len(o.bySession) + len(o.byOrder)
		o.mu.Unlock()
		return !bySess && !byOrd && held == 0
	}, time.Second, 5*time.Millisecond, "terminal record must be released")
}

func TestCheckout_EvictionSparesReplacementRecord(t *testing.T) {
	gw := &stubGateway{result: GatewayResult{Outcome: GatewayDismissed}}
	o := NewOrchestrator(Config{
		InteractionTimeout: time.Second,
		VerifyDelay:        time.Millisecond,
		TerminalRetention:  10 * time.Millisecond,
	}, Dependencies{Backend: &orchBackend{}, Gateway: gw, Carts: &stubCarts{}})

	first, err := o.Checkout(context.Background(), cartRequest())
	require.NoError(t, err)

	// a retry installs a fresh record before the first one's timer fires
	release := make(chan struct{})
	gw.block = release
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Checkout(context.Background(), cartRequest())
	}()
	require.Eventually(t, func() bool {
		rec, ok := o.Record("s1")
		return ok && rec.Status == StatusAwaitingUserPayment
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	rec, ok := o.Record("s1")
	require.True(t, ok, "the active record must survive the stale eviction timer")
	assert.NotEqual(t, first.AppOrderID, rec.AppOrderID)

	close(release)
	<-done
}

func TestCheckout_VerificationExhausted(t *testing.T) {
	backend := &orchBackend{verifyErrs: []error{
		&transientErr{msg: "timeout"},
		&transientErr{msg: "timeout"},
		&transientErr{msg: "timeout"},
	}}
	gw := &stubGateway{result: GatewayResult{
		Outcome:   GatewaySuccess,
		Reference: PaymentReference{Ref: "pay-1"},
	}}
	carts := &stubCarts{}
	o := newTestOrchestrator(backend, gw, carts)

	rec, err := o.Checkout(context.Background(), cartRequest())

	require.NoError(t, err)
	assert.Equal(t, StatusVerificationExhausted, rec.Status)
	assert.Equal(t, "payment status unknown, contact support", rec.Reason)
	assert.Len(t, rec.Attempts, 3)
	// the cart must not be cleared on an unknown outcome
	assert.Zero(t, carts.clearedCount())
}

func TestCheckout_VerificationRejected(t *testing.T) {
	backend := &orchBackend{verifyErrs: []error{
		&BackendRejectionError{Code: 409, Message: "reference mismatch"},
	}}
	gw := &stubGateway{result: GatewayResult{
		Outcome:   GatewaySuccess,
		Reference: PaymentReference{Ref: "pay-1"},
	}}
	o := newTestOrchestrator(backend, gw, &stubCarts{})

	rec, err := o.Checkout(context.Background(), cartRequest())

	var rej *BackendRejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, StatusPaymentFailed, rec.Status)
	require.Len(t, rec.Attempts, 1)
	assert.Equal(t, AttemptPermanentFailure, rec.Attempts[0].Outcome)
}

func TestCheckout_DuplicateSubmissionRejected(t *testing.T) {
	release := make(chan struct{})
	gw := &stubGateway{
		block:  release,
		result: GatewayResult{Outcome: GatewayDismissed},
	}
	o := newTestOrchestrator(&orchBackend{}, gw, &stubCarts{})

	done := make(chan OrderRecord, 1)
	go func() {
		rec, _ := o.Checkout(context.Background(), cartRequest())
		done <- rec
	}()

	// wait for the first checkout to reach the payment page
	require.Eventually(t, func() bool {
		rec, ok := o.Record("s1")
		return ok && rec.Status == StatusAwaitingUserPayment
	}, time.Second, 5*time.Millisecond)

	_, err := o.Checkout(context.Background(), cartRequest())
	require.ErrorIs(t, err, ErrCheckoutInProgress)

	close(release)
	rec := <-done
	assert.Equal(t, StatusUserCancelled, rec.Status)
}

func TestCheckout_RetryAfterTerminalGetsFreshOrderID(t *testing.T) {
	backend := &orchBackend{}
	gw := &stubGateway{result: GatewayResult{Outcome: GatewayDismissed}}
	o := newTestOrchestrator(backend, gw, &stubCarts{})

	first, err := o.Checkout(context.Background(), cartRequest())
	require.NoError(t, err)
	require.Equal(t, StatusUserCancelled, first.Status)

	gw.result = GatewayResult{Outcome: GatewaySuccess, Reference: PaymentReference{Ref: "pay-2"}}
	second, err := o.Checkout(context.Background(), cartRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, second.Status)
	assert.NotEqual(t, first.AppOrderID, second.AppOrderID)

	// both records stay addressable by order id
	byFirst, ok := o.RecordByOrderID(first.AppOrderID)
	require.True(t, ok)
	assert.Equal(t, StatusUserCancelled, byFirst.Status)
	bySecond, ok := o.RecordByOrderID(second.AppOrderID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, bySecond.Status)
}

func TestCheckout_RecordReturnsCopies(t *testing.T) {
	gw := &stubGateway{result: GatewayResult{
		Outcome:   GatewaySuccess,
		Reference: PaymentReference{Ref: "pay-1"},
	}}
	o := newTestOrchestrator(&orchBackend{}, gw, &stubCarts{})

	_, err := o.Checkout(context.Background(), cartRequest())
	require.NoError(t, err)

	rec, ok := o.Record("s1")
	require.True(t, ok)
	rec.Status = StatusIdle
	rec.Attempts[0].Outcome = AttemptPermanentFailure

	again, _ := o.Record("s1")
	assert.Equal(t, StatusCompleted, again.Status)
	assert.Equal(t, AttemptSuccess, again.Attempts[0].Outcome)
}
