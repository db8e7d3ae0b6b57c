package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline instruments. A nil *Metrics is valid and records
// nothing, so tests can leave it out.
type Metrics struct {
	started  metric.Int64Counter
	terminal metric.Int64Counter
	attempts metric.Int64Counter
}

// NewMetrics registers the checkout pipeline instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("storefront-checkout/pipeline")

	started, err := meter.Int64Counter("checkout.started",
		metric.WithDescription("Checkout attempts accepted past validation"))
	if err != nil {
		return nil, errors.Wrap(err, "checkout.started")
	}
	terminal, err := meter.Int64Counter("checkout.terminal",
		metric.WithDescription("Checkout attempts reaching a terminal status"))
	if err != nil {
		return nil, errors.Wrap(err, "checkout.terminal")
	}
	attempts, err := meter.Int64Counter("checkout.verify_attempts",
		metric.WithDescription("Payment verification calls by outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "checkout.verify_attempts")
	}

	return &Metrics{started: started, terminal: terminal, attempts: attempts}, nil
}

func (m *Metrics) checkoutStarted(ctx context.Context, source Source) {
	if m == nil {
		return
	}
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
}

func (m *Metrics) checkoutTerminal(ctx context.Context, status Status) {
	if m == nil {
		return
	}
	m.terminal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
}

func (m *Metrics) verifyAttempt(ctx context.Context, outcome AttemptOutcome) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}
