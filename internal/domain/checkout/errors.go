package checkout

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrCheckoutInProgress guards against duplicate submissions: a new checkout
// is rejected while the session's current order record is non-terminal.
var ErrCheckoutInProgress = errors.New("checkout already in progress")

// ErrInvalidTransition is returned by the reducer for an event that is not
// legal in the current status. Terminal statuses are absorbing, so any event
// delivered after one yields this error and no state change.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidationError is a local precondition failure (empty cart, missing
// address). It is never sent to the backend and the checkout stays in Idle.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// BackendRejectionError is a business-rule refusal of order placement, e.g.
// stock or price changed since the cart was built. Terminal for the record;
// the user must restart checkout.
type BackendRejectionError struct {
	Code    int
	Message string
}

func (e *BackendRejectionError) Error() string {
	return fmt.Sprintf("order rejected by backend (%d): %s", e.Code, e.Message)
}

// GatewayDeclinedError is an explicit gateway-side payment failure (card
// declined and similar). Terminal and user-visible.
type GatewayDeclinedError struct {
	Reason string
}

func (e *GatewayDeclinedError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

// IsTransient reports whether err is a network-class failure worth retrying.
// Infrastructure errors opt in by implementing Transient() bool; everything
// else, including application-level rejections, is permanent.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	return errors.As(err, &t) && t.Transient()
}
