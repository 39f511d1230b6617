// Package provisioning delivers purchased data plans to the subscriber
// through an upstream recharge provider (ERS).
package provisioning

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider is the provider-agnostic recharge interface. No provider calls
// happen outside its adapters.
type Provider interface {
	Name() string
	Recharge(ctx context.Context, req Request) (Result, error)
}

type Request struct {
	// Reference is the purchase debit reference; providers use it to dedupe.
	Reference string          `json:"reference"`
	MSISDN    string          `json:"msisdn"`
	PlanID    int64           `json:"plan_id"`
	PlanName  string          `json:"plan_name"`
	Network   string          `json:"network"`
	Amount    decimal.Decimal `json:"amount"`
}

type Result struct {
	ProviderReference string `json:"provider_reference"`
	Status            string `json:"status"`
	Message           string `json:"message,omitempty"`
}

var (
	ErrProviderUnavailable = errors.New("provisioning provider unavailable")
	ErrRechargeRejected    = errors.New("recharge rejected")
)

// LogProvider accepts every recharge and only logs it. Used for local runs
// when no ERS endpoint is configured.
type LogProvider struct {
	logger *slog.Logger
}

func NewLogProvider(logger *slog.Logger) *LogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Recharge(ctx context.Context, req Request) (Result, error) {
	p.logger.Info("recharge (log provider)", "reference", req.Reference, "msisdn", req.MSISDN, "plan_id", req.PlanID, "network", req.Network)
	return Result{ProviderReference: "LOG-" + uuid.NewString(), Status: "success"}, nil
}
