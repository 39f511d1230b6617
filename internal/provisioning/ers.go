package provisioning

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
)

// ERSClient talks to the electronic recharge service over HTTP.
type ERSClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewERSClient(baseURL, apiKey string, timeout time.Duration) (*ERSClient, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("ers: base url: %w", err)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("ers: api key is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ERSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

var _ Provider = (*ERSClient)(nil)

func (c *ERSClient) Name() string { return "ers" }

type ersRequest struct {
	Reference string `json:"reference"`
	MSISDN    string `json:"msisdn"`
	Product   int64  `json:"product_id"`
	Network   string `json:"network"`
	Amount    string `json:"amount"`
}

type ersResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Transaction string `json:"transaction_id"`
}

func (c *ERSClient) Recharge(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(ersRequest{
		Reference: req.Reference,
		MSISDN:    req.MSISDN,
		Product:   req.PlanID,
		Network:   req.Network,
		Amount:    req.Amount.StringFixed(2),
	})
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recharge", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	var out ersResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 400 || !strings.EqualFold(out.Status, "success") {
		return Result{}, fmt.Errorf("%w: %s", ErrRechargeRejected, out.Message)
	}
	return Result{ProviderReference: out.Transaction, Status: strings.ToLower(out.Status), Message: out.Message}, nil
}
