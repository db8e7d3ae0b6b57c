package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/backend"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/money"
)

type cartLineResponse struct {
	ID         string  `json:"id"`
	ProductID  string  `json:"productId"`
	VariantID  string  `json:"variantId,omitempty"`
	Name       string  `json:"name"`
	UnitPrice  int64   `json:"unitPrice"`
	Display    string  `json:"displayPrice"`
	Quantity   int     `json:"quantity"`
	StockAtAdd int     `json:"stockAtAdd"`
	Category   string  `json:"category"`
	Subtotal   float64 `json:"subtotal"`
}

type cartResponse struct {
	Lines        []cartLineResponse `json:"lines"`
	ItemCount    int                `json:"itemCount"`
	TotalAmount  int64              `json:"totalAmount"`
	DisplayTotal string             `json:"displayTotal"`
}

func toCartResponse(snap cart.Snapshot) cartResponse {
	resp := cartResponse{
		Lines:        make([]cartLineResponse, len(snap.Lines)),
		ItemCount:    snap.ItemCount,
		TotalAmount:  int64(snap.TotalAmount),
		DisplayTotal: snap.TotalAmount.String(),
	}
	for i, l := range snap.Lines {
		resp.Lines[i] = cartLineResponse{
			ID:         l.ID,
			ProductID:  l.ProductID,
			VariantID:  l.VariantID,
			Name:       l.Name,
			UnitPrice:  int64(l.UnitPrice),
			Display:    l.UnitPrice.String(),
			Quantity:   l.Quantity,
			StockAtAdd: l.StockAtAdd,
			Category:   l.Category,
			Subtotal:   l.Subtotal().Float64(),
		}
	}
	return resp
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	snap, err := h.carts.Snapshot(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		h.cartError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(snap))
}

type addItemRequest struct {
	ProductID  string `json:"productId"`
	VariantID  string `json:"variantId,omitempty"`
	Name       string `json:"name"`
	UnitPrice  int64  `json:"unitPrice"`
	Quantity   int    `json:"quantity"`
	StockAtAdd int    `json:"stockAtAdd"`
	Category   string `json:"category"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId is required")
		return
	}

	sessionID := sessionFromContext(r.Context())
	item := cart.Line{
		ProductID:  req.ProductID,
		VariantID:  req.VariantID,
		Name:       req.Name,
		UnitPrice:  money.Amount(req.UnitPrice),
		StockAtAdd: req.StockAtAdd,
		Category:   req.Category,
	}
	if err := h.carts.AddLine(r.Context(), sessionID, item, req.Quantity); err != nil {
		h.cartError(w, r, err)
		return
	}

	snap, err := h.carts.Snapshot(r.Context(), sessionID)
	if err != nil {
		h.cartError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(snap))
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sessionID := sessionFromContext(r.Context())
	if err := h.carts.UpdateQuantity(r.Context(), sessionID, chi.URLParam(r, "lineID"), req.Quantity); err != nil {
		h.cartError(w, r, err)
		return
	}

	snap, err := h.carts.Snapshot(r.Context(), sessionID)
	if err != nil {
		h.cartError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(snap))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFromContext(r.Context())
	if err := h.carts.RemoveLine(r.Context(), sessionID, chi.URLParam(r, "lineID")); err != nil {
		h.cartError(w, r, err)
		return
	}

	snap, err := h.carts.Snapshot(r.Context(), sessionID)
	if err != nil {
		h.cartError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(snap))
}

func (h *Handler) mergeCart(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFromContext(r.Context())
	if err := h.carts.Login(r.Context(), sessionID); err != nil {
		h.cartError(w, r, err)
		return
	}

	snap, err := h.carts.Snapshot(r.Context(), sessionID)
	if err != nil {
		h.cartError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(snap))
}

// cartError maps ledger errors to HTTP responses.
func (h *Handler) cartError(w http.ResponseWriter, r *http.Request, err error) {
	var nf *cart.LineNotFoundError
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, nf.Error())
	default:
		var transient *backend.TransientError
		if errors.As(err, &transient) {
			writeError(w, http.StatusBadGateway, "upstream cart temporarily unavailable")
			return
		}
		logError(r, "Cart operation failed", err)
		writeError(w, http.StatusInternalServerError, "cart operation failed")
	}
}
