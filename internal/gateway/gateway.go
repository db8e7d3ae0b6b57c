// Package gateway bridges the callback-driven payment provider to the
// orchestrator's blocking handoff. The provider (hosted payment page or
// embedded widget) reports its outcome asynchronously via the storefront's
// callback endpoint; Open suspends until exactly one outcome arrives.
package gateway

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
)

var _ checkout.Gateway = (*Registry)(nil)

// ErrUnknownSession is returned by Resolve when no checkout is waiting on the
// given gateway session.
var ErrUnknownSession = errors.New("no pending gateway session")

// ErrAlreadyOpen is returned when Open is called twice for the same gateway
// session id. The orchestrator opens the gateway at most once per order
// record; a second Open is a programming error.
var ErrAlreadyOpen = errors.New("gateway session already open")

// pending is a single-resolution slot for one gateway session.
type pending struct {
	ch chan checkout.GatewayResult
}

// Registry tracks open gateway sessions and delivers each exactly one
// outcome. Open blocks on the session's channel; Resolve fulfils it. The
// first Resolve per session wins, later deliveries are rejected, which keeps
// duplicate provider callbacks away from the state machine.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*pending
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*pending)}
}

// Open registers the session and blocks until Resolve delivers an outcome or
// ctx is done (interaction timeout or shutdown). The session is deregistered
// on return, so a late Resolve after timeout reports ErrUnknownSession
// instead of touching a terminal checkout.
func (r *Registry) Open(ctx context.Context, session checkout.PaymentSession) (checkout.GatewayResult, error) {
	p := &pending{ch: make(chan checkout.GatewayResult, 1)}

	r.mu.Lock()
	if _, exists := r.pending[session.GatewaySessionID]; exists {
		r.mu.Unlock()
		return checkout.GatewayResult{}, ErrAlreadyOpen
	}
	r.pending[session.GatewaySessionID] = p
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, session.GatewaySessionID)
		r.mu.Unlock()
	}()

	select {
	case res := <-p.ch:
		return res, nil
	case <-ctx.Done():
		return checkout.GatewayResult{}, ctx.Err()
	}
}

// Resolve delivers the provider-reported outcome for a gateway session. It
// fulfils the waiting Open exactly once; a second Resolve for the same
// session, or a Resolve with no waiter, returns ErrUnknownSession.
func (r *Registry) Resolve(gatewaySessionID string, res checkout.GatewayResult) error {
	r.mu.Lock()
	p, ok := r.pending[gatewaySessionID]
	if ok {
		delete(r.pending, gatewaySessionID)
	}
	r.mu.Unlock()

	if !ok {
		return ErrUnknownSession
	}
	p.ch <- res
	return nil
}

// PendingCount reports how many gateway sessions are currently awaiting an
// outcome. Used by readiness diagnostics.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
