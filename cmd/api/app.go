package main

import (
	"context"
	"log/slog"
	"time"

	"glovendor/internal/audit"
	"glovendor/internal/config"
	"glovendor/internal/directory"
	"glovendor/internal/httpapi"
	"glovendor/internal/payment"
	"glovendor/internal/payment/paystack"
	"glovendor/internal/pricing"
	"glovendor/internal/provisioning"
	"glovendor/internal/reporting"
	"glovendor/internal/wallet"
	"glovendor/pkg/utils"

	"github.com/jackc/pgx/v5/pgxpool"
)

// deps are the infrastructure handles opened by main.
type deps struct {
	cfg     config.Config
	log     *slog.Logger
	db      *pgxpool.Pool
	limiter payment.Limiter
	events  wallet.Publisher
	audit   audit.Repository
}

type app struct {
	handlers   httpapi.Handlers
	payments   *payment.Service
	dispatcher *provisioning.Dispatcher
}

// buildApp wires the service graph. Keep this file free of business logic.
func buildApp(d deps) (*app, error) {
	auditor := audit.NewService(d.audit, d.log)

	store := wallet.NewPostgresStore(d.db)
	ledger := wallet.NewService(store,
		wallet.WithPublisher(d.events),
		wallet.WithAuditor(auditor),
		wallet.WithLogger(d.log),
	)

	gateway, err := paystack.New(d.cfg.Payment.PaystackBaseURL, d.cfg.Payment.PaystackSecretKey, d.cfg.Payment.GatewayTimeout)
	if err != nil {
		return nil, err
	}
	payOpts := []payment.Option{payment.WithAuditor(auditor), payment.WithLogger(d.log)}
	if d.limiter != nil {
		payOpts = append(payOpts, payment.WithLimiter(d.limiter))
	}
	payments := payment.NewService(payment.NewPostgresRepository(d.db), gateway, ledger, payment.Config{
		MinAmount:      d.cfg.Payment.MinAmount,
		GatewayTimeout: d.cfg.Payment.GatewayTimeout,
		PendingTTL:     d.cfg.Payment.PendingTTL,
		CallbackURL:    d.cfg.Payment.CallbackURL,
	}, payOpts...)

	var provider provisioning.Provider = provisioning.NewLogProvider(d.log)
	if d.cfg.Provisioning.ERSBaseURL != "" {
		ers, err := provisioning.NewERSClient(d.cfg.Provisioning.ERSBaseURL, d.cfg.Provisioning.ERSAPIKey, d.cfg.Provisioning.ERSTimeout)
		if err != nil {
			return nil, err
		}
		provider = ers
	} else {
		d.log.Warn("ERS_BASE_URL not set, recharges are only logged")
	}
	dispatcher, err := provisioning.NewDispatcher(provisioning.DispatcherConfig{
		Size:    d.cfg.WorkerPool.Size,
		Timeout: d.cfg.Provisioning.ERSTimeout,
	}, provider, ledger, auditor, d.log)
	if err != nil {
		return nil, err
	}

	prices := pricing.NewService(pricing.NewPostgresRepo(d.db), ledger,
		pricing.WithFulfiller(dispatcher),
		pricing.WithAuditor(auditor),
		pricing.WithLogger(d.log),
	)

	return &app{
		handlers: httpapi.Handlers{
			Wallet:        ledger,
			Directory:     directory.New(store),
			Payments:      payments,
			Pricing:       prices,
			Reporting:     reporting.NewService(ledger),
			WebhookSecret: d.cfg.Payment.PaystackSecretKey,
			Health: func(ctx context.Context) error {
				return utils.HealthCheck(ctx, d.db, 2*time.Second)
			},
		},
		payments:   payments,
		dispatcher: dispatcher,
	}, nil
}
