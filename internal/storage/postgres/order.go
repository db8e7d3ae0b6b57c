package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/money"
)

var _ checkout.Repository = (*OrderRepository)(nil)

// OrderRepository implements checkout.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// SaveOrder upserts the current state of an order record. Records that were
// rejected before the backend issued an AppOrderID have no durable key and
// are skipped.
func (r *OrderRepository) SaveOrder(ctx context.Context, rec *checkout.OrderRecord) error {
	if rec.AppOrderID == "" {
		return nil
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders (
			app_order_id, session_id, source, status, amount_minor, currency,
			address_id, gateway_session_id, reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (app_order_id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			gateway_session_id = EXCLUDED.gateway_session_id,
			updated_at = EXCLUDED.updated_at`,
		rec.AppOrderID, rec.SessionID, string(rec.Source), rec.Status.String(),
		int64(rec.Amount), rec.Session.Currency, rec.AddressID,
		rec.Session.GatewaySessionID, rec.Reason, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving order %q: %w", rec.AppOrderID, err)
	}
	return nil
}

// RecordAttempt appends one verification attempt for an order.
func (r *OrderRepository) RecordAttempt(ctx context.Context, appOrderID string, att checkout.VerificationAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO verification_attempts (app_order_id, attempt_number, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (app_order_id, attempt_number) DO NOTHING`,
		appOrderID, att.Number, string(att.Outcome), att.Detail, att.At,
	)
	if err != nil {
		return fmt.Errorf("recording attempt %d for order %q: %w", att.Number, appOrderID, err)
	}
	return nil
}

// ForEachTerminal streams all orders in a terminal status to fn, oldest
// first. Used by the export tool.
func (r *OrderRepository) ForEachTerminal(ctx context.Context, fn func(checkout.OrderRecord) error) error {
	rows, err := r.pool.Query(ctx, `
		SELECT app_order_id, session_id, source, status, amount_minor, currency,
		       address_id, gateway_session_id, reason, created_at, updated_at
		FROM orders
		WHERE status IN ('COMPLETED', 'PAYMENT_FAILED', 'USER_CANCELLED', 'VERIFICATION_EXHAUSTED')
		ORDER BY created_at`,
	)
	if err != nil {
		return fmt.Errorf("querying terminal orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec      checkout.OrderRecord
			source   string
			status   string
			amount   int64
			currency string
			gwSessID string
		)
		if err := rows.Scan(
			&rec.AppOrderID, &rec.SessionID, &source, &status, &amount, &currency,
			&rec.AddressID, &gwSessID, &rec.Reason, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return fmt.Errorf("scanning order row: %w", err)
		}
		rec.Source = checkout.Source(source)
		rec.Status = checkout.Status(status)
		rec.Amount = money.Amount(amount)
		rec.Session = checkout.PaymentSession{
			GatewaySessionID: gwSessID,
			Amount:           money.Amount(amount),
			Currency:         currency,
			AppOrderID:       rec.AppOrderID,
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}
