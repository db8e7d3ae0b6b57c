// Package checkout implements the order orchestrator: the state machine that
// drives a cart snapshot through order placement, the payment gateway
// handoff, and idempotent payment verification to a terminal state.
package checkout

import (
	"context"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/money"
)

// Source distinguishes a full-cart checkout from a buy-it-now single item.
type Source string

const (
	SourceCart       Source = "cart"
	SourceSingleItem Source = "single-item"
)

// Request is one checkout attempt. It is constructed once and never mutated.
type Request struct {
	SessionID string
	Source    Source
	Lines     []cart.Line
	AddressID string
}

// PaymentSession is the backend-issued descriptor handed to the payment
// gateway. It is opaque to the orchestrator and immutable once issued.
type PaymentSession struct {
	GatewaySessionID string       `json:"gatewaySessionId"`
	Amount           money.Amount `json:"amount"`
	Currency         string       `json:"currency"`
	AppOrderID       string       `json:"appOrderId"`
}

// PaymentReference is the signed provisional success reported by the gateway.
// It is never trusted directly; verification against the backend is mandatory.
type PaymentReference struct {
	Ref       string
	Signature string
}

// PlacedOrder is the backend's response to an accepted order.
type PlacedOrder struct {
	AppOrderID string
	Amount     money.Amount
	Session    PaymentSession
}

// AttemptOutcome classifies one verification attempt.
type AttemptOutcome string

const (
	AttemptSuccess          AttemptOutcome = "success"
	AttemptTransientFailure AttemptOutcome = "transient_failure"
	AttemptPermanentFailure AttemptOutcome = "permanent_failure"
)

// VerificationAttempt records one backend verification call for an order.
type VerificationAttempt struct {
	Number  int
	Outcome AttemptOutcome
	Detail  string
	At      time.Time
}

// OrderRecord is the mutable state of a single checkout attempt. Exactly one
// record per session is non-terminal at a time; records are discarded, never
// reused, once terminal. AppOrderID is the idempotency key for all
// verification calls and never changes mid-flow.
type OrderRecord struct {
	AppOrderID string
	SessionID  string
	Source     Source
	Status     Status
	Amount     money.Amount
	AddressID  string
	Session    PaymentSession
	Reason     string
	Attempts   []VerificationAttempt
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Backend places orders and verifies payments against the upstream commerce
// API.
type Backend interface {
	// PlaceOrder submits the checkout request. A business-rule refusal
	// (stock or price changed) is returned as *BackendRejectionError.
	PlaceOrder(ctx context.Context, req Request) (*PlacedOrder, error)
	// VerifyPayment confirms a gateway payment reference for appOrderID.
	// Repeated calls with the same appOrderID are safe. Transient errors
	// satisfy IsTransient; application-level mismatches do not.
	VerifyPayment(ctx context.Context, appOrderID string, ref PaymentReference) error
}

// GatewayOutcome is the user-facing result of the hosted payment interaction.
type GatewayOutcome string

const (
	GatewaySuccess   GatewayOutcome = "success"
	GatewayFailed    GatewayOutcome = "failure"
	GatewayDismissed GatewayOutcome = "dismissed"
)

// GatewayResult carries the single outcome of one Gateway.Open call.
type GatewayResult struct {
	Outcome   GatewayOutcome
	Reference PaymentReference
	Reason    string
}

// Gateway presents a payment session to the user and blocks until exactly one
// outcome is delivered or ctx is done. It is invoked at most once per order
// record.
type Gateway interface {
	Open(ctx context.Context, session PaymentSession) (GatewayResult, error)
}

// Repository is the audit-trail persistence for order records. Failures are
// logged by the orchestrator but do not abort the pipeline; the in-memory
// record stays authoritative.
type Repository interface {
	SaveOrder(ctx context.Context, rec *OrderRecord) error
	RecordAttempt(ctx context.Context, appOrderID string, att VerificationAttempt) error
}

// CartClearer empties the session cart after a confirmed successful order.
type CartClearer interface {
	ClearCart(ctx context.Context, sessionID string) error
}

// AddressProvider supplies the saved delivery addresses for a session. The
// pipeline only reads it to validate the selected address id.
type AddressProvider interface {
	HasAddress(ctx context.Context, sessionID, addressID string) (bool, error)
}
