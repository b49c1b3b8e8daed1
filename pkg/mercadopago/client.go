// Package mercadopago is a thin HTTP client for the MercadoPago checkout and payments APIs.
package mercadopago

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

	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.mercadopago.com"
	defaultCallTimeout          = 5 * time.Second
	defaultCurrency             = "ARS"
	responseBodyReadLimit int64 = 2048
	metadataOrderKey            = "order_id"
)

var errTokenRequired = errors.New("mercadopago access token is required")

// Client talks to MercadoPago with a single access token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	timeout    time.Duration
	currency   string
	notifyURL  string
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

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout bounds every provider call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithNotificationURL sets the webhook URL attached to new preferences.
func WithNotificationURL(notifyURL string) Option {
	return func(c *Client) {
		c.notifyURL = strings.TrimSpace(notifyURL)
	}
}

// NewClient builds a client for the given access token.
func NewClient(token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errTokenRequired
	}
	client := &Client{
		token:      trimmed,
		baseURL:    defaultBaseURL,
		timeout:    defaultCallTimeout,
		currency:   defaultCurrency,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// PreferenceInput describes a single-item checkout.
type PreferenceInput struct {
	Title   string
	Amount  int64
	OrderID string
}

// Preference is the subset of the created preference callers need.
type Preference struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type preferenceItem struct {
	Title      string `json:"title"`
	Quantity   int    `json:"quantity"`
	CurrencyID string `json:"currency_id"`
	UnitPrice  int64  `json:"unit_price"`
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	Metadata          map[string]string `json:"metadata"`
	ExternalReference string            `json:"external_reference"`
	NotificationURL   string            `json:"notification_url,omitempty"`
}

// CreatePreference registers a checkout and returns its init_point URL.
func (c *Client) CreatePreference(ctx context.Context, input PreferenceInput) (*Preference, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUpstream, "payment gateway not configured")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(input.OrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	body := preferenceRequest{
		Items: []preferenceItem{{
			Title:      input.Title,
			Quantity:   1,
			CurrencyID: c.currency,
			UnitPrice:  input.Amount,
		}},
		Metadata:          map[string]string{metadataOrderKey: input.OrderID},
		ExternalReference: input.OrderID,
		NotificationURL:   c.notifyURL,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode preference")
	}

	var pref Preference
	if err := c.do(ctx, http.MethodPost, "checkout/preferences", payload, "create preference", &pref); err != nil {
		return nil, err
	}
	if pref.InitPoint == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUpstream, "preference missing init_point")
	}
	return &pref, nil
}

// Payment is the subset of a gateway payment used to reconcile orders.
type Payment struct {
	ID      string
	Status  string
	OrderID string
}

// GetPayment resolves a payment id to its status and originating order id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUpstream, "payment gateway not configured")
	}
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	var apiResp struct {
		ID                json.Number    `json:"id"`
		Status            string         `json:"status"`
		ExternalReference string         `json:"external_reference"`
		Metadata          map[string]any `json:"metadata"`
	}
	if err := c.do(ctx, http.MethodGet, "v1/payments/"+url.PathEscape(trimmed), nil, "get payment", &apiResp); err != nil {
		return nil, err
	}

	orderID := ""
	if raw, ok := apiResp.Metadata[metadataOrderKey].(string); ok {
		orderID = raw
	}
	if orderID == "" {
		orderID = apiResp.ExternalReference
	}
	id := apiResp.ID.String()
	if id == "" {
		id = trimmed
	}
	return &Payment{ID: id, Status: apiResp.Status, OrderID: orderID}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, op string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	endpoint := strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(callCtx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "build "+op+" request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "execute "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), op+" failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "decode "+op+" response")
	}
	return nil
}
