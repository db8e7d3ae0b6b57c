// Package backend is the HTTP client for the upstream commerce API: order
// placement, payment verification, and the authenticated server cart.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/money"
)

// Compile-time checks: the client serves both the cart ledger and the order
// orchestrator.
var (
	_ cart.Backend     = (*Client)(nil)
	_ checkout.Backend = (*Client)(nil)
)

// TransientError marks a network-class failure worth retrying: transport
// errors, timeouts, and upstream 5xx/429 responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient satisfies the retry classification used by the orchestrator.
func (e *TransientError) Transient() bool { return true }

// Config holds the backend client configuration.
type Config struct {
	// BaseURL is the commerce API root, e.g. https://api.shop.internal.
	BaseURL string
	// APIKey authenticates this service to the commerce API.
	APIKey string
	// Timeout bounds a single request. Zero means 10s.
	Timeout time.Duration
	// TracerProvider and MeterProvider instrument outgoing requests. Nil
	// falls back to the otel globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client talks to the commerce API over instrumented HTTP.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

// New creates a Client with an otel-instrumented transport.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base URL")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}
	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		},
	}, nil
}

type placeOrderLine struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type placeOrderRequest struct {
	AddressID string           `json:"addressId"`
	Source    string           `json:"source"`
	Lines     []placeOrderLine `json:"lines"`
}

type paymentSessionBody struct {
	GatewaySessionID string `json:"gatewaySessionId"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

type placeOrderResponse struct {
	AppOrderID     string             `json:"appOrderId"`
	Amount         int64              `json:"amount"`
	PaymentSession paymentSessionBody `json:"paymentSession"`
}

type errorBody struct {
	Error string `json:"error"`
}

// PlaceOrder submits the order and returns the backend-issued payment session
// descriptor. 4xx responses become *checkout.BackendRejectionError.
func (c *Client) PlaceOrder(ctx context.Context, req checkout.Request) (*checkout.PlacedOrder, error) {
	body := placeOrderRequest{
		AddressID: req.AddressID,
		Source:    string(req.Source),
		Lines:     make([]placeOrderLine, len(req.Lines)),
	}
	for i, line := range req.Lines {
		body.Lines[i] = placeOrderLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: int64(line.UnitPrice),
		}
	}

	resp, err := c.post(ctx, "/orders", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
	case isTransientStatus(resp.StatusCode):
		return nil, &TransientError{Err: errors.Errorf("place order: status %d", resp.StatusCode)}
	default:
		return nil, &checkout.BackendRejectionError{
			Code:    resp.StatusCode,
			Message: readError(resp.Body),
		}
	}

	var placed placeOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&placed); err != nil {
		return nil, errors.Wrap(err, "decode place order response")
	}

	return &checkout.PlacedOrder{
		AppOrderID: placed.AppOrderID,
		Amount:     money.Amount(placed.Amount),
		Session: checkout.PaymentSession{
			GatewaySessionID: placed.PaymentSession.GatewaySessionID,
			Amount:           money.Amount(placed.PaymentSession.Amount),
			Currency:         placed.PaymentSession.Currency,
			AppOrderID:       placed.AppOrderID,
		},
	}, nil
}

type verifyRequest struct {
	GatewayPaymentRef string `json:"gatewayPaymentRef"`
	GatewaySignature  string `json:"gatewaySignature"`
}

// VerifyPayment confirms a gateway payment reference. The backend treats
// repeated calls for the same appOrderID as safe; the classification here
// decides what the retry controller does with a failure: transport errors and
// 5xx/429 are transient, everything else is permanent.
func (c *Client) VerifyPayment(ctx context.Context, appOrderID string, ref checkout.PaymentReference) error {
	resp, err := c.post(ctx, "/orders/"+url.PathEscape(appOrderID)+"/verify-payment", verifyRequest{
		GatewayPaymentRef: ref.Ref,
		GatewaySignature:  ref.Signature,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case isTransientStatus(resp.StatusCode):
		return &TransientError{Err: errors.Errorf("verify payment: status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusConflict:
		return errors.Errorf("verify payment %s: mismatch: %s", appOrderID, readError(resp.Body))
	default:
		return errors.Errorf("verify payment %s: status %d: %s", appOrderID, resp.StatusCode, readError(resp.Body))
	}
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
}

// AddCartItem mutates the server cart and returns the created or merged line
// as the server sees it. The ledger adopts the returned id before committing
// the local mutation; the upstream 404s update and remove calls for any id it
// did not issue.
func (c *Client) AddCartItem(ctx context.Context, line cart.Line) (cart.Line, error) {
	resp, err := c.post(ctx, "/cart/items", cartItemRequest{
		ProductID: line.ProductID,
		VariantID: line.VariantID,
		Quantity:  line.Quantity,
	})
	if err != nil {
		return cart.Line{}, err
	}
	defer resp.Body.Close()
	if err := expectOK(resp, "add cart item"); err != nil {
		return cart.Line{}, err
	}

	var body cartLineBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return cart.Line{}, errors.Wrap(err, "decode created cart line")
	}
	return toCartLine(body), nil
}

type cartLineBody struct {
	ID         string `json:"id"`
	ProductID  string `json:"productId"`
	VariantID  string `json:"variantId,omitempty"`
	Name       string `json:"name"`
	UnitPrice  int64  `json:"unitPrice"`
	Quantity   int    `json:"quantity"`
	StockAtAdd int    `json:"stockAtAdd"`
	Category   string `json:"category"`
}

type cartListResponse struct {
	Lines []cartLineBody `json:"lines"`
}

// ListCartItems fetches the authenticated user's server cart, used to seed
// the login merge.
func (c *Client) ListCartItems(ctx context.Context) ([]cart.Line, error) {
	resp, err := c.request(ctx, http.MethodGet, "/cart/items", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := expectOK(resp, "list cart items"); err != nil {
		return nil, err
	}

	var body cartListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode cart response")
	}

	lines := make([]cart.Line, len(body.Lines))
	for i, l := range body.Lines {
		lines[i] = toCartLine(l)
	}
	return lines, nil
}

func toCartLine(l cartLineBody) cart.Line {
	return cart.Line{
		ID:         l.ID,
		ProductID:  l.ProductID,
		VariantID:  l.VariantID,
		Name:       l.Name,
		UnitPrice:  money.Amount(l.UnitPrice),
		Quantity:   l.Quantity,
		StockAtAdd: l.StockAtAdd,
		Category:   l.Category,
	}
}

// UpdateCartItem sets the quantity of a server cart line.
func (c *Client) UpdateCartItem(ctx context.Context, lineID string, quantity int) error {
	resp, err := c.request(ctx, http.MethodPut, "/cart/items/"+url.PathEscape(lineID), cartItemRequest{Quantity: quantity})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expectOK(resp, "update cart item")
}

// RemoveCartItem deletes a server cart line.
func (c *Client) RemoveCartItem(ctx context.Context, lineID string) error {
	resp, err := c.request(ctx, http.MethodDelete, "/cart/items/"+url.PathEscape(lineID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expectOK(resp, "remove cart item")
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.request(ctx, http.MethodPost, path, body)
}

func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		rd = bytes.NewReader(buf)
	}

	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api_key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Caller gave up; not worth retrying on its behalf.
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	return resp, nil
}

func expectOK(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case isTransientStatus(resp.StatusCode):
		return &TransientError{Err: errors.Errorf("%s: status %d", op, resp.StatusCode)}
	default:
		return errors.Errorf("%s: status %d: %s", op, resp.StatusCode, readError(resp.Body))
	}
}

// isTransientStatus classifies upstream statuses for retry purposes: 5xx and
// 429 are transient, all other 4xx are permanent.
func isTransientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func readError(r io.Reader) string {
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil || body.Error == "" {
		return "unknown error"
	}
	return body.Error
}
