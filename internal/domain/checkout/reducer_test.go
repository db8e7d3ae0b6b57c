package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce_HappyPath(t *testing.T) {
	path := []Event{
		EventCheckoutRequested,
		EventOrderPlaced,
		EventGatewayOpened,
		EventGatewaySucceeded,
		EventVerifySucceeded,
	}

	status := StatusIdle
	for _, event := range path {
		next, err := Reduce(status, event)
		require.NoError(t, err, "event %s from %s", event, status)
		status = next
	}
	assert.Equal(t, StatusCompleted, status)
}

func TestReduce_VerifyRetrySelfLoop(t *testing.T) {
	next, err := Reduce(StatusVerifyingPayment, EventVerifyRetried)
	require.NoError(t, err)
	assert.Equal(t, StatusVerifyingPayment, next)
}

func TestReduce_TerminalStatesAreAbsorbing(t *testing.T) {
	terminals := []Status{
		StatusCompleted,
		StatusPaymentFailed,
		StatusUserCancelled,
		StatusVerificationExhausted,
	}
	events := []Event{
		EventCheckoutRequested,
		EventOrderPlaced,
		EventGatewaySucceeded,
		EventGatewayFailed,
		EventGatewayDismissed,
		EventVerifySucceeded,
		EventVerifyRejected,
		EventVerifyExhausted,
	}

	for _, terminal := range terminals {
		require.True(t, terminal.IsTerminal())
		for _, event := range events {
			next, err := Reduce(terminal, event)
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s + %s", terminal, event)
			assert.Equal(t, terminal, next, "%s + %s must not move", terminal, event)
		}
	}
}

func TestReduce_IllegalEventLeavesStatusUnchanged(t *testing.T) {
	next, err := Reduce(StatusIdle, EventVerifySucceeded)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusIdle, next)

	next, err = Reduce(StatusPlacing, EventGatewaySucceeded)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPlacing, next)
}

func TestReduce_UnknownEvent(t *testing.T) {
	next, err := Reduce(StatusIdle, Event("Bogus"))
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusIdle, next)
}

func TestReduce_CancelAndFailFromPaymentPage(t *testing.T) {
	next, err := Reduce(StatusAwaitingUserPayment, EventGatewayDismissed)
	require.NoError(t, err)
	assert.Equal(t, StatusUserCancelled, next)

	next, err = Reduce(StatusAwaitingUserPayment, EventGatewayFailed)
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentFailed, next)
}
