package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/gateway"
	"github.com/xenking/storefront-checkout/internal/money"
)

// startWait bounds how long the start endpoint waits for the pipeline to
// reach the user-payment phase before answering with the current state.
const startWait = 15 * time.Second

type startCheckoutRequest struct {
	AddressID string          `json:"addressId"`
	Source    string          `json:"source,omitempty"` // "cart" (default) or "single-item"
	Item      *addItemRequest `json:"item,omitempty"`   // required for single-item
}

type paymentSessionResponse struct {
	GatewaySessionID string `json:"gatewaySessionId"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

type attemptResponse struct {
	Number  int       `json:"number"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

type checkoutResponse struct {
	AppOrderID     string                  `json:"appOrderId,omitempty"`
	Status         string                  `json:"status"`
	Amount         int64                   `json:"amount"`
	DisplayAmount  string                  `json:"displayAmount"`
	AddressID      string                  `json:"addressId"`
	Reason         string                  `json:"reason,omitempty"`
	PaymentSession *paymentSessionResponse `json:"paymentSession,omitempty"`
	Attempts       []attemptResponse       `json:"attempts,omitempty"`
}

func toCheckoutResponse(rec checkout.OrderRecord) checkoutResponse {
	resp := checkoutResponse{
		AppOrderID:    rec.AppOrderID,
		Status:        rec.Status.String(),
		Amount:        int64(rec.Amount),
		DisplayAmount: rec.Amount.String(),
		AddressID:     rec.AddressID,
		Reason:        rec.Reason,
	}
	if rec.Session.GatewaySessionID != "" {
		resp.PaymentSession = &paymentSessionResponse{
			GatewaySessionID: rec.Session.GatewaySessionID,
			Amount:           int64(rec.Session.Amount),
			Currency:         rec.Session.Currency,
		}
	}
	for _, att := range rec.Attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			Number:  att.Number,
			Outcome: string(att.Outcome),
			Detail:  att.Detail,
			At:      att.At,
		})
	}
	return resp
}

type checkoutOutcome struct {
	rec checkout.OrderRecord
	err error
}

func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	var req startCheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sessionID := sessionFromContext(r.Context())
	source := checkout.SourceCart
	var lines []cart.Line

	switch req.Source {
	case "", string(checkout.SourceCart):
		snap, err := h.carts.Snapshot(r.Context(), sessionID)
		if err != nil {
			h.cartError(w, r, err)
			return
		}
		lines = snap.Lines
	case string(checkout.SourceSingleItem):
		source = checkout.SourceSingleItem
		if req.Item == nil {
			writeError(w, http.StatusBadRequest, "item is required for single-item checkout")
			return
		}
		lines = []cart.Line{{
			ProductID:  req.Item.ProductID,
			VariantID:  req.Item.VariantID,
			Name:       req.Item.Name,
			UnitPrice:  money.Amount(req.Item.UnitPrice),
			Quantity:   req.Item.Quantity,
			StockAtAdd: req.Item.StockAtAdd,
			Category:   req.Item.Category,
		}}
	default:
		writeError(w, http.StatusBadRequest, "unknown checkout source")
		return
	}

	creq := checkout.Request{
		SessionID: sessionID,
		Source:    source,
		Lines:     lines,
		AddressID: req.AddressID,
	}

	// The pipeline outlives this request: the user-paced gateway interaction
	// can take minutes. Detach from the request's cancellation but keep its
	// logger and trace context.
	pipelineCtx := context.WithoutCancel(r.Context())

	// A finished earlier attempt may still be cached for this session; its
	// terminal record must not be mistaken for the new attempt while that is
	// still in validation.
	prev, hadPrev := h.orch.Record(sessionID)
	stale := func(rec checkout.OrderRecord) bool {
		return hadPrev && !rec.CreatedAt.After(prev.CreatedAt)
	}

	done := make(chan checkoutOutcome, 1)
	go func() {
		rec, err := h.orch.Checkout(pipelineCtx, creq)
		done <- checkoutOutcome{rec: rec, err: err}
	}()

	// Answer as soon as the payment session is ready for the UI, or sooner if
	// the pipeline ends early (validation, rejection).
	deadline := time.NewTimer(startWait)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case out := <-done:
			h.finishCheckoutStart(w, r, out)
			return
		case <-tick.C:
			rec, ok := h.orch.Record(sessionID)
			if ok && !stale(rec) && rec.AppOrderID != "" && rec.Status != checkout.StatusPlacing &&
				rec.Status != checkout.StatusAwaitingGateway {
				writeJSON(w, http.StatusAccepted, toCheckoutResponse(rec))
				return
			}
		case <-deadline.C:
			if rec, ok := h.orch.Record(sessionID); ok && !stale(rec) {
				writeJSON(w, http.StatusAccepted, toCheckoutResponse(rec))
				return
			}
			writeError(w, http.StatusGatewayTimeout, "checkout did not start in time")
			return
		}
	}
}

func (h *Handler) finishCheckoutStart(w http.ResponseWriter, r *http.Request, out checkoutOutcome) {
	var vErr *checkout.ValidationError
	switch {
	case errors.As(out.err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(out.err, checkout.ErrCheckoutInProgress):
		writeError(w, http.StatusConflict, "checkout already in progress")
	default:
		// Terminal record: completion, rejection, decline, cancellation, or
		// exhausted verification. The status and reason tell the client.
		writeJSON(w, http.StatusOK, toCheckoutResponse(out.rec))
	}
}

func (h *Handler) checkoutStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFromContext(r.Context())
	rec, ok := h.orch.RecordByOrderID(chi.URLParam(r, "appOrderID"))
	if !ok || rec.SessionID != sessionID {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, toCheckoutResponse(rec))
}

type gatewayCallbackRequest struct {
	Outcome    string `json:"outcome"` // success | failure | dismissed
	PaymentRef string `json:"paymentRef,omitempty"`
	Signature  string `json:"signature,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// gatewayCallback receives the payment widget's outcome and resolves the
// pending gateway session. Duplicate or late callbacks find no pending
// session and are rejected here, before they can reach the state machine.
func (h *Handler) gatewayCallback(w http.ResponseWriter, r *http.Request) {
	var req gatewayCallbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var result checkout.GatewayResult
	switch req.Outcome {
	case string(checkout.GatewaySuccess):
		if req.PaymentRef == "" {
			writeError(w, http.StatusBadRequest, "paymentRef is required for a success outcome")
			return
		}
		result = checkout.GatewayResult{
			Outcome: checkout.GatewaySuccess,
			Reference: checkout.PaymentReference{
				Ref:       req.PaymentRef,
				Signature: req.Signature,
			},
		}
	case string(checkout.GatewayFailed):
		result = checkout.GatewayResult{Outcome: checkout.GatewayFailed, Reason: req.Reason}
	case string(checkout.GatewayDismissed):
		result = checkout.GatewayResult{Outcome: checkout.GatewayDismissed}
	default:
		writeError(w, http.StatusBadRequest, "unknown gateway outcome")
		return
	}

	sessionID := sessionFromContext(r.Context())
	rec, ok := h.orch.RecordByOrderID(chi.URLParam(r, "appOrderID"))
	if !ok || rec.SessionID != sessionID {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	if err := h.registry.Resolve(rec.Session.GatewaySessionID, result); err != nil {
		if errors.Is(err, gateway.ErrUnknownSession) {
			writeError(w, http.StatusConflict, "no payment awaiting an outcome for this order")
			return
		}
		logError(r, "Resolve gateway session", err)
		writeError(w, http.StatusInternalServerError, "could not deliver gateway outcome")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "outcome accepted"})
}
