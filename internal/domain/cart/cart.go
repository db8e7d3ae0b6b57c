// Package cart implements the cart ledger: line item state, derived totals,
// and reconciliation between the guest (locally persisted) and authenticated
// (server-backed) representations.
package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/money"
)

// ErrInvalidQuantity is returned when a line is added with a non-positive
// quantity.
var ErrInvalidQuantity = errors.New("quantity must be greater than 0")

// LineNotFoundError indicates the referenced cart line does not exist.
type LineNotFoundError struct {
	LineID string
}

func (e *LineNotFoundError) Error() string {
	return fmt.Sprintf("cart line %s not found", e.LineID)
}

// Line is a single cart line item. Lines are owned by the Ledger and mutated
// only through its operations.
type Line struct {
	ID         string       `json:"id"`
	ProductID  string       `json:"productId"`
	VariantID  string       `json:"variantId,omitempty"`
	Name       string       `json:"name"`
	UnitPrice  money.Amount `json:"unitPrice"`
	Quantity   int          `json:"quantity"`
	StockAtAdd int          `json:"stockAtAdd"`
	Category   string       `json:"category"`
}

// LineKey identifies a line for merge purposes. Two lines with the same key
// are the same product variant and are merged by summing quantities.
type LineKey struct {
	ProductID string
	VariantID string
}

// Key returns the merge key of the line.
func (l Line) Key() LineKey {
	return LineKey{ProductID: l.ProductID, VariantID: l.VariantID}
}

// Subtotal returns the line total in minor units.
func (l Line) Subtotal() money.Amount {
	return l.UnitPrice.Mul(l.Quantity)
}

// Snapshot is a derived, read-only view of the cart. ItemCount and
// TotalAmount are always recomputed from Lines.
type Snapshot struct {
	Lines       []Line       `json:"lines"`
	ItemCount   int          `json:"itemCount"`
	TotalAmount money.Amount `json:"totalAmount"`
}

// Backend is the authenticated-session server cart. Mutations are applied on
// the server before the ledger commits them locally. AddCartItem returns the
// server's view of the created or merged line; its ID is the only id later
// update and remove calls may use.
type Backend interface {
	AddCartItem(ctx context.Context, line Line) (Line, error)
	UpdateCartItem(ctx context.Context, lineID string, quantity int) error
	RemoveCartItem(ctx context.Context, lineID string) error
}

// Store is the durable guest-session persistence for cart lines.
type Store interface {
	Load(ctx context.Context, sessionID string) ([]Line, error)
	Save(ctx context.Context, sessionID string, lines []Line) error
	Delete(ctx context.Context, sessionID string) error
}
