package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticket-reconciler/internal/status"
	"ticket-reconciler/models"
	"ticket-reconciler/monitoring"
	"ticket-reconciler/utils"

	"github.com/shopspring/decimal"
)

type ClientConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

type Client struct {
	// baseURL is the base url of the provider API.
	baseURL string

	// accessToken is sent as a bearer token on every call.
	accessToken string

	// hc is the http client.
	hc *http.Client

	// cb stops calling the provider while it keeps failing.
	cb *utils.CircuitBreaker
}

func NewClient(c ClientConfig, cb *utils.CircuitBreaker) *Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cb == nil {
		cb = NewBreaker("provider")
	}
	return &Client{
		baseURL:     strings.TrimRight(c.BaseURL, "/"),
		accessToken: c.AccessToken,
		hc: &http.Client{
			Timeout: timeout,
		},
		cb: cb,
	}
}

// NewBreaker builds a breaker that ignores not-found answers and reports
// its state to the metrics registry.
func NewBreaker(name string) *utils.CircuitBreaker {
	s := utils.DefaultBreakerSettings()
	s.IsFailure = func(err error) bool { return !errors.Is(err, status.ErrNotFound) }
	s.OnStateChange = func(name string, _, to utils.State) {
		monitoring.SetBreakerState(name, int(to))
	}
	return utils.NewCircuitBreaker(name, s)
}

// GetPayment fetches a payment from the provider API.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*models.ProviderPayment, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, fmt.Errorf("getPayment: http.NewReq: %w", err)
	}

	var raw json.RawMessage
	if err := c.do(ctx, "get_payment", req, &raw); err != nil {
		return nil, fmt.Errorf("getPayment %s: %w", paymentID, err)
	}

	return decodePayment(raw)
}

func (c *Client) SearchLatestPayment(ctx context.Context, externalReference string) (*models.ProviderPayment, error) {
	q := url.Values{}
	q.Set("external_reference", externalReference)
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")
	q.Set("limit", "1")

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/payments/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("searchPayments: http.NewReq: %w", err)
	}

	var reply struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := c.do(ctx, "search_payments", req, &reply); err != nil {
		return nil, fmt.Errorf("searchPayments %s: %w", externalReference, err)
	}
	if len(reply.Results) == 0 {
		return nil, fmt.Errorf("searchPayments %s: %w", externalReference, status.ErrNotFound)
	}

	return decodePayment(reply.Results[0])
}

func (c *Client) RefundPayment(ctx context.Context, paymentID string, amount decimal.Decimal, idempotencyKey string) (*models.ProviderRefund, error) {
	body, err := json.Marshal(map[string]any{"amount": amount})
	if err != nil {
		return nil, fmt.Errorf("refundPayment: json.Marshal: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/refunds", body)
	if err != nil {
		return nil, fmt.Errorf("refundPayment: http.NewReq: %w", err)
	}
	req.Header.Set("X-Idempotency-Key", idempotencyKey)

	var reply models.ProviderRefund
	if err := c.do(ctx, "refund_payment", req, &reply); err != nil {
		return nil, fmt.Errorf("refundPayment %s: %w", paymentID, err)
	}

	return &reply, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	return req, nil
}

// do sends req through the breaker and decodes a 2xx JSON answer into out.
func (c *Client) do(ctx context.Context, op string, req *http.Request, out any) error {
	start := time.Now()

	err := c.cb.Call(ctx, func(ctx context.Context) error {
		return c.roundTrip(req, out)
	})

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, status.ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	monitoring.TrackProviderRequest(op, result, time.Since(start))

	if errors.Is(err, utils.ErrCircuitOpen) || errors.Is(err, utils.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", status.ErrUpstream, err)
	}
	return err
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: http.Do: %w", status.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return status.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: http.StatusCode: %d: %s", status.ErrUpstream, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: json.Decode: %w", status.ErrUpstream, err)
	}
	return nil
}

func decodePayment(raw json.RawMessage) (*models.ProviderPayment, error) {
	var p models.ProviderPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: decode payment: %w", status.ErrUpstream, err)
	}
	p.Raw = raw
	return &p, nil
}
