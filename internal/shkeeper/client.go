// Package shkeeper is the outbound client for the Shkeeper payment
// processor API.
//
// Flow:
//  1. Checkout lists supported cryptos (GET /crypto)
//  2. Checkout creates a payment request for an invoice (POST /<CRYPTO>/payment_request)
//  3. Shkeeper later pushes a notification to our callback URL
package shkeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// APIKeyHeader is the shared-secret header carried on every outbound call.
// The same secret comes back on inbound notifications (with Api-Key casing,
// matched case-insensitively by the reconciler).
const APIKeyHeader = "X-Shkeeper-API-Key"

// unavailableMessage is the upstream's soft-fail: the processor is up but
// has no payment gateway configured. Callers get "no result" instead of an
// error so the user can be prompted to re-select.
const unavailableMessage = "payment gateway is unavailable"

var (
	// ErrUpstreamUnavailable covers transport failures, timeouts, and 5xx.
	ErrUpstreamUnavailable = errors.New("shkeeper unavailable")
	// ErrInvalidResponse means the body was not the JSON we expect.
	ErrInvalidResponse = errors.New("invalid response from shkeeper")
	// ErrUpstreamRejected means the processor reported a logical failure.
	ErrUpstreamRejected = errors.New("shkeeper rejected request")
)

// Crypto is one selectable currency, in the order the processor returns them.
type Crypto struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// PaymentRequest describes a pending payment request for an invoice.
type PaymentRequest struct {
	ExternalID  string          // invoice ID on our side
	Fiat        string          // invoice currency code
	Amount      decimal.Decimal // invoice amount in fiat
	CallbackURL string
	Crypto      string // e.g. "BTC"
}

// PaymentAddress is the processor's answer to a payment request.
type PaymentAddress struct {
	Wallet           string          `json:"wallet"`
	Amount           decimal.Decimal `json:"amount"`
	DisplayName      string          `json:"display_name"`
	RecalculateAfter int             `json:"recalculate_after"` // hours the quoted amount stays valid
}

// TxInfo describes a single blockchain transaction known to the processor.
type TxInfo struct {
	Amount decimal.Decimal `json:"amount"`
	Addr   string          `json:"addr"`
	Crypto string          `json:"crypto"`
}

// Client talks to the Shkeeper API. All calls carry the shared-secret
// header and a fixed timeout; no retries are attempted.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the given Shkeeper instance.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListCryptos returns the processor's supported currencies in order.
// A (nil, nil) return means the processor answered but has no gateway
// available; the caller should prompt for another payment method.
func (c *Client) ListCryptos(ctx context.Context) ([]Crypto, error) {
	body, err := c.do(ctx, http.MethodGet, "crypto", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status     string   `json:"status"`
		Message    string   `json:"message"`
		CryptoList []Crypto `json:"crypto_list"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if resp.Status != "success" {
		if resp.Message == unavailableMessage {
			return nil, nil
		}
		return nil, rejectedError(resp.Message, "can not get available crypto from shkeeper")
	}

	return resp.CryptoList, nil
}

// CreatePaymentRequest registers a pending payment request and returns the
// wallet address the customer should pay to.
func (c *Client) CreatePaymentRequest(ctx context.Context, req PaymentRequest) (*PaymentAddress, error) {
	payload := map[string]any{
		"external_id":  req.ExternalID,
		"fiat":         req.Fiat,
		"amount":       req.Amount,
		"callback_url": req.CallbackURL,
	}
	endpoint := strings.ToUpper(req.Crypto) + "/payment_request"

	body, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		PaymentAddress
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if resp.Status != "success" {
		return nil, rejectedError(resp.Message, "can not create payment request in shkeeper")
	}

	addr := resp.PaymentAddress
	return &addr, nil
}

// TxInfo looks up a transaction the processor has seen.
func (c *Client) TxInfo(ctx context.Context, txid string) (*TxInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "tx-info/"+txid, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Info TxInfo `json:"info"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	return &resp.Info, nil
}

// do performs one request against the API and returns the raw body.
// Transport failures and 5xx responses map to ErrUpstreamUnavailable.
func (c *Client) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	return body, nil
}

// rejectedError wraps ErrUpstreamRejected with the upstream message when
// present, or a fallback describing the failed operation.
func rejectedError(message, fallback string) error {
	if message == "" {
		message = fallback
	}
	return fmt.Errorf("%w: %s", ErrUpstreamRejected, message)
}
