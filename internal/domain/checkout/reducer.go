package checkout

// Event is a state-machine trigger observed by the orchestrator.
type Event string

const (
	EventCheckoutRequested Event = "CheckoutRequested"
	EventOrderPlaced       Event = "OrderPlaced"
	EventPlacementRejected Event = "PlacementRejected"
	EventGatewayOpened     Event = "GatewayOpened"
	EventGatewaySucceeded  Event = "GatewaySucceeded"
	EventGatewayFailed     Event = "GatewayFailed"
	EventGatewayDismissed  Event = "GatewayDismissed"
	EventVerifyRetried     Event = "VerifyRetried"
	EventVerifySucceeded   Event = "VerifySucceeded"
	EventVerifyRejected    Event = "VerifyRejected"
	EventVerifyExhausted   Event = "VerifyExhausted"
)

var eventTarget = map[Event]Status{
	EventCheckoutRequested: StatusPlacing,
	EventOrderPlaced:       StatusAwaitingGateway,
	EventPlacementRejected: StatusPaymentFailed,
	EventGatewayOpened:     StatusAwaitingUserPayment,
	EventGatewaySucceeded:  StatusVerifyingPayment,
	EventGatewayFailed:     StatusPaymentFailed,
	EventGatewayDismissed:  StatusUserCancelled,
	EventVerifyRetried:     StatusVerifyingPayment,
	EventVerifySucceeded:   StatusCompleted,
	EventVerifyRejected:    StatusPaymentFailed,
	EventVerifyExhausted:   StatusVerificationExhausted,
}

// Reduce is the pure transition function of the order state machine. It maps
// the current status and an event to the next status, or returns
// ErrInvalidTransition (with the status unchanged) when the event is not
// legal in the current status. Events arriving in a terminal status always
// return ErrInvalidTransition: terminal statuses are absorbing.
func Reduce(current Status, event Event) (Status, error) {
	next, ok := eventTarget[event]
	if !ok {
		return current, ErrInvalidTransition
	}
	if !CanTransition(current, next) {
		return current, ErrInvalidTransition
	}
	return next, nil
}
