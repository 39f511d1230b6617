// Package paystack adapts the Paystack transaction API to payment.Gateway.
package paystack

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

	"glovendor/internal/payment"

	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.paystack.co"

// Amounts travel in kobo.
var koboPerNaira = decimal.NewFromInt(100)

type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client, mainly for tests.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func New(baseURL, secretKey string, timeout time.Duration, opts ...Option) (*Client, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, errors.New("paystack: secret key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("paystack: base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

var _ payment.Gateway = (*Client)(nil)

func (c *Client) Name() string { return "paystack" }

// envelope is the shape of every Paystack response.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	Email       string `json:"email"`
	Amount      string `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	PaidAt          string `json:"paid_at"`
	GatewayResponse string `json:"gateway_response"`
}

func (c *Client) Initialize(ctx context.Context, req payment.CheckoutRequest) (payment.Checkout, error) {
	body, err := json.Marshal(initializeRequest{
		Email:       req.Email,
		Amount:      ToKobo(req.Amount).String(),
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		return payment.Checkout{}, err
	}

	var data initializeData
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return payment.Checkout{}, err
	}
	if data.AuthorizationURL == "" {
		return payment.Checkout{}, fmt.Errorf("%w: empty authorization url", payment.ErrGatewayUnavailable)
	}
	return payment.Checkout{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

// Verify reports the transaction status. A reference Paystack does not know
// yet is reported as pending rather than failed.
func (c *Client) Verify(ctx context.Context, reference string) (payment.Verification, error) {
	var data verifyData
	err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data)
	if errors.Is(err, payment.ErrGatewayRejected) {
		return payment.Verification{Reference: reference, Status: payment.GatewayPending, Message: err.Error()}, nil
	}
	if err != nil {
		return payment.Verification{}, err
	}

	v := payment.Verification{
		Reference: data.Reference,
		Status:    strings.ToLower(data.Status),
		Amount:    FromKobo(data.Amount),
		Message:   data.GatewayResponse,
	}
	if data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			v.PaidAt = t
		}
	}
	return v, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", payment.ErrGatewayUnavailable, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", payment.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d: %s", payment.ErrGatewayRejected, resp.StatusCode, env.Message)
	case decodeErr != nil:
		return fmt.Errorf("%w: decode response: %v", payment.ErrGatewayUnavailable, decodeErr)
	case !env.Status:
		return fmt.Errorf("%w: %s", payment.ErrGatewayRejected, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", payment.ErrGatewayUnavailable, err)
	}
	return nil
}

// ToKobo converts a naira amount to whole kobo.
func ToKobo(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2).Mul(koboPerNaira).Truncate(0)
}

func FromKobo(kobo int64) decimal.Decimal {
	return decimal.New(kobo, -2)
}
