package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
)

func testSession(id string) checkout.PaymentSession {
	return checkout.PaymentSession{
		GatewaySessionID: id,
		Amount:           2500,
		Currency:         "USD",
		AppOrderID:       "ord-1",
	}
}

func openAsync(r *Registry, ctx context.Context, id string) chan checkout.GatewayResult {
	out := make(chan checkout.GatewayResult, 1)
	go func() {
		res, err := r.Open(ctx, testSession(id))
		if err == nil {
			out <- res
		}
		close(out)
	}()
	return out
}

func waitPending(t *testing.T, r *Registry, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.PendingCount() == n
	}, time.Second, 2*time.Millisecond)
}

func TestRegistry_ResolveFulfilsOpen(t *testing.T) {
	r := NewRegistry()
	out := openAsync(r, context.Background(), "gw-1")
	waitPending(t, r, 1)

	err := r.Resolve("gw-1", checkout.GatewayResult{
		Outcome:   checkout.GatewaySuccess,
		Reference: checkout.PaymentReference{Ref: "pay-1", Signature: "sig"},
	})
	require.NoError(t, err)

	res := <-out
	assert.Equal(t, checkout.GatewaySuccess, res.Outcome)
	assert.Equal(t, "pay-1", res.Reference.Ref)
	assert.Zero(t, r.PendingCount())
}

func TestRegistry_SecondResolveRejected(t *testing.T) {
	r := NewRegistry()
	out := openAsync(r, context.Background(), "gw-1")
	waitPending(t, r, 1)

	require.NoError(t, r.Resolve("gw-1", checkout.GatewayResult{Outcome: checkout.GatewaySuccess}))
	err := r.Resolve("gw-1", checkout.GatewayResult{Outcome: checkout.GatewayFailed})
	assert.ErrorIs(t, err, ErrUnknownSession)

	res := <-out
	assert.Equal(t, checkout.GatewaySuccess, res.Outcome, "first outcome wins")
}

func TestRegistry_ResolveWithoutWaiter(t *testing.T) {
	r := NewRegistry()
	err := r.Resolve("gw-unknown", checkout.GatewayResult{Outcome: checkout.GatewaySuccess})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestRegistry_OpenTimesOut(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Open(ctx, testSession("gw-1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the session is gone, so a late provider callback is rejected
	assert.Zero(t, r.PendingCount())
	err = r.Resolve("gw-1", checkout.GatewayResult{Outcome: checkout.GatewaySuccess})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestRegistry_DoubleOpenRejected(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	openAsync(r, ctx, "gw-1")
	waitPending(t, r, 1)

	_, err := r.Open(context.Background(), testSession("gw-1"))
	assert.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestRegistry_IndependentSessions(t *testing.T) {
	r := NewRegistry()
	outA := openAsync(r, context.Background(), "gw-a")
	outB := openAsync(r, context.Background(), "gw-b")
	waitPending(t, r, 2)

	require.NoError(t, r.Resolve("gw-b", checkout.GatewayResult{Outcome: checkout.GatewayDismissed}))
	require.NoError(t, r.Resolve("gw-a", checkout.GatewayResult{Outcome: checkout.GatewayFailed, Reason: "declined"}))

	assert.Equal(t, checkout.GatewayFailed, (<-outA).Outcome)
	assert.Equal(t, checkout.GatewayDismissed, (<-outB).Outcome)
}
