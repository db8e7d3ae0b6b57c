// Package events publishes order lifecycle events to Kafka so downstream
// consumers (fulfilment, analytics, support tooling) can follow the checkout
// pipeline without polling the API.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
)

var _ checkout.EventSink = (*Publisher)(nil)

// Envelope is the wire format of one order lifecycle event.
type Envelope struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EventVersion int       `json:"event_version"`
	OccurredAt   time.Time `json:"occurred_at"`
	Producer     string    `json:"producer"`
	AppOrderID   string    `json:"app_order_id,omitempty"`
	SessionID    string    `json:"session_id"`
	Status       string    `json:"status"`
	AmountMinor  int64     `json:"amount_minor"`
	Reason       string    `json:"reason,omitempty"`
}

// Publisher writes order status changes to a single topic, partitioned by
// AppOrderID so all events of one order stay ordered.
type Publisher struct {
	w        *kafka.Writer
	producer string
}

// NewPublisher creates a Publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic, producer string) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		producer: producer,
	}
}

// OrderStatusChanged publishes one envelope per state transition. Publish
// failures are logged, never propagated: the pipeline's own state is
// authoritative and must not fail because the event bus is down.
func (p *Publisher) OrderStatusChanged(ctx context.Context, rec checkout.OrderRecord, event checkout.Event) {
	env := Envelope{
		EventID:      uuid.New().String(),
		EventType:    string(event),
		EventVersion: 1,
		OccurredAt:   rec.UpdatedAt,
		Producer:     p.producer,
		AppOrderID:   rec.AppOrderID,
		SessionID:    rec.SessionID,
		Status:       rec.Status.String(),
		AmountMinor:  int64(rec.Amount),
		Reason:       rec.Reason,
	}

	value, err := json.Marshal(env)
	if err != nil {
		zctx.From(ctx).Error("Marshal order event", zap.Error(err))
		return
	}

	key := rec.AppOrderID
	if key == "" {
		key = rec.SessionID
	}

	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  env.OccurredAt,
	}); err != nil {
		zctx.From(ctx).Error("Publish order event",
			zap.String("event_type", env.EventType),
			zap.String("app_order_id", rec.AppOrderID),
			zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
