// Package api exposes the storefront-facing HTTP surface: session-scoped
// cart operations and the checkout pipeline endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/gateway"
)

// Handler wires the cart service, the order orchestrator, and the gateway
// registry to HTTP routes.
type Handler struct {
	carts    *CartService
	orch     *checkout.Orchestrator
	registry *gateway.Registry
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(carts *CartService, orch *checkout.Orchestrator, registry *gateway.Registry) *Handler {
	return &Handler{
		carts:    carts,
		orch:     orch,
		registry: registry,
	}
}

// Routes returns the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(withSession)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Post("/items", h.addCartItem)
		r.Patch("/items/{lineID}", h.updateCartItem)
		r.Delete("/items/{lineID}", h.removeCartItem)
		r.Post("/merge", h.mergeCart)
	})

	r.Route("/checkout", func(r chi.Router) {
		r.Post("/", h.startCheckout)
		r.Get("/{appOrderID}", h.checkoutStatus)
		r.Post("/{appOrderID}/gateway-callback", h.gatewayCallback)
	})

	return r
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func logError(r *http.Request, msg string, err error) {
	zctx.From(r.Context()).Error(msg, zap.Error(err))
}
