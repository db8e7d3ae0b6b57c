package checkout

// Status is the single authoritative state of an order record.
type Status string

const (
	StatusIdle                  Status = "IDLE"
	StatusPlacing               Status = "PLACING"
	StatusAwaitingGateway       Status = "AWAITING_GATEWAY_SESSION"
	StatusAwaitingUserPayment   Status = "AWAITING_USER_PAYMENT"
	StatusVerifyingPayment      Status = "VERIFYING_PAYMENT"
	StatusCompleted             Status = "COMPLETED"
	StatusPaymentFailed         Status = "PAYMENT_FAILED"
	StatusUserCancelled         Status = "USER_CANCELLED"
	StatusVerificationExhausted Status = "VERIFICATION_EXHAUSTED"
)

// String returns the status name for logging.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the status is absorbing: no further events may
// change an order record once it reaches a terminal status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPaymentFailed, StatusUserCancelled, StatusVerificationExhausted:
		return true
	}
	return false
}

var validNext = map[Status]map[Status]bool{
	StatusIdle:    {StatusPlacing: true},
	StatusPlacing: {StatusAwaitingGateway: true, StatusPaymentFailed: true},
	StatusAwaitingGateway: {
		StatusAwaitingUserPayment: true,
	},
	StatusAwaitingUserPayment: {
		StatusVerifyingPayment: true,
		StatusUserCancelled:    true,
		StatusPaymentFailed:    true,
	},
	StatusVerifyingPayment: {
		StatusVerifyingPayment:      true, // retry
		StatusCompleted:             true,
		StatusPaymentFailed:         true,
		StatusVerificationExhausted: true,
	},
	StatusCompleted:             {},
	StatusPaymentFailed:         {},
	StatusUserCancelled:         {},
	StatusVerificationExhausted: {},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
