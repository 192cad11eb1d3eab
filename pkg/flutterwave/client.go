package flutterwave

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

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.flutterwave.com/v3"
	responseBodyReadLimit int64 = 1024
	statusSuccess               = "success"
)

var errSecretKeyRequired = errors.New("flutterwave secret key is required")

// Client wraps the Flutterwave v3 payments, verification and refund APIs.
// Amounts are exchanged in major currency units.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	secretKey   string
	webhookHash string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the Flutterwave API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithWebhookHash sets the static secret hash expected in the verif-hash header.
func WithWebhookHash(hash string) Option {
	return func(c *Client) {
		c.webhookHash = strings.TrimSpace(hash)
	}
}

// NewClient builds a Flutterwave client for the given secret key.
func NewClient(secretKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(secretKey)
	if trimmedKey == "" {
		return nil, errSecretKeyRequired
	}

	client := &Client{
		secretKey:  trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// WebhookHash returns the configured verif-hash secret.
func (c *Client) WebhookHash() string {
	if c == nil {
		return ""
	}
	return c.webhookHash
}

// Customer identifies the payer on the hosted checkout.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// PaymentRequest is the payload for POST /payments.
type PaymentRequest struct {
	TxRef       string         `json:"tx_ref"`
	Amount      json.Number    `json:"amount"`
	Currency    string         `json:"currency"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	Customer    Customer       `json:"customer"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Amount renders a major-unit amount as a bare JSON number.
func Amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// PaymentLink is the hosted checkout link.
type PaymentLink struct {
	Link string `json:"link"`
}

// Transaction is the verification payload.
type Transaction struct {
	ID        int64           `json:"id"`
	TxRef     string          `json:"tx_ref"`
	FlwRef    string          `json:"flw_ref"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	CreatedAt *time.Time      `json:"created_at"`
	Meta      map[string]any  `json:"meta"`
}

// MetaString returns a string meta field.
func (t Transaction) MetaString(key string) string {
	switch v := t.Meta[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// RefundResult is the refund payload.
type RefundResult struct {
	ID     int64           `json:"id"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount_refunded"`
	FlwRef string          `json:"flw_ref"`
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// CreatePayment starts a hosted checkout.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentLink, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "flutterwave client not configured")
	}
	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil || !amount.IsPositive() || strings.TrimSpace(req.TxRef) == "" || strings.TrimSpace(req.Customer.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tx_ref, positive amount and customer email are required")
	}

	var out envelope[PaymentLink]
	if err := c.do(ctx, http.MethodPost, "/payments", req, &out); err != nil {
		return nil, err
	}
	if out.Status != statusSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, fallback(out.Message, "flutterwave payment rejected"))
	}
	return &out.Data, nil
}

// VerifyByReference looks a transaction up by the merchant tx_ref.
func (c *Client) VerifyByReference(ctx context.Context, txRef string) (*Transaction, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "flutterwave client not configured")
	}
	trimmed := strings.TrimSpace(txRef)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tx_ref is required")
	}

	var out envelope[Transaction]
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(trimmed)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Status != statusSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, fallback(out.Message, "flutterwave verify rejected"))
	}
	return &out.Data, nil
}

// Verify looks a transaction up by the Flutterwave transaction id.
func (c *Client) Verify(ctx context.Context, transactionID int64) (*Transaction, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "flutterwave client not configured")
	}
	if transactionID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}

	var out envelope[Transaction]
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/transactions/%d/verify", transactionID), nil, &out); err != nil {
		return nil, err
	}
	if out.Status != statusSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, fallback(out.Message, "flutterwave verify rejected"))
	}
	return &out.Data, nil
}

// Refund refunds a transaction by id. A nil amount refunds it in full.
func (c *Client) Refund(ctx context.Context, transactionID int64, amount *decimal.Decimal) (*RefundResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "flutterwave client not configured")
	}
	if transactionID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}

	body := map[string]any{}
	if amount != nil {
		body["amount"] = Amount(*amount)
	}

	var out envelope[RefundResult]
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/transactions/%d/refund", transactionID), body, &out); err != nil {
		return nil, err
	}
	if out.Status != statusSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, fallback(out.Message, "flutterwave refund rejected"))
	}
	return &out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal flutterwave request")
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := strings.TrimRight(c.baseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build flutterwave request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "execute flutterwave request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeGateway, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "flutterwave request failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode flutterwave response")
	}
	return nil
}

func fallback(msg, def string) string {
	if strings.TrimSpace(msg) == "" {
		return def
	}
	return msg
}
