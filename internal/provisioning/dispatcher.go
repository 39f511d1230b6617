package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"glovendor/internal/pricing"
	"glovendor/internal/wallet"

	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
)

const refundRefPrefix = "RFD-"

var ErrClosed = errors.New("provisioning: dispatcher closed")

// Refunder returns a purchase amount to the buyer. Credit is idempotent on
// the reference, so a refund is applied at most once per debit.
type Refunder interface {
	Credit(ctx context.Context, accountID int64, amount decimal.Decimal, purpose, reference string) (wallet.Transaction, error)
}

type Auditor interface {
	ProvisioningRefund(ctx context.Context, accountID int64, debitRef, refundRef, reason string)
}

type DispatcherConfig struct {
	Size int
	// Timeout bounds one provider call.
	Timeout time.Duration
}

// Dispatcher runs recharges on an ants worker pool after the purchase debit
// has committed. A failed recharge triggers a compensating refund.
type Dispatcher struct {
	pool     *ants.Pool
	provider Provider
	refunder Refunder
	auditor  Auditor
	logger   *slog.Logger
	timeout  time.Duration

	// mu orders wg.Add in Fulfil before wg.Wait in Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, provider Provider, refunder Refunder, auditor Auditor, logger *slog.Logger) (*Dispatcher, error) {
	if cfg.Size <= 0 {
		cfg.Size = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	// Non-blocking: a saturated pool must not stall the purchase request.
	pool, err := ants.NewPool(cfg.Size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		pool:     pool,
		provider: provider,
		refunder: refunder,
		auditor:  auditor,
		logger:   logger,
		timeout:  cfg.Timeout,
	}, nil
}

var _ pricing.Fulfiller = (*Dispatcher)(nil)

// Fulfil queues the recharge. If it cannot be queued the buyer is refunded
// before returning the error.
func (d *Dispatcher) Fulfil(ctx context.Context, f pricing.Fulfilment) error {
	logger := d.logger.With("reference", f.DebitReference, "buyer_id", f.BuyerID)
	req := Request{
		Reference: f.DebitReference,
		MSISDN:    f.MSISDN,
		PlanID:    f.PlanID,
		PlanName:  f.PlanName,
		Network:   f.Network,
		Amount:    f.Amount,
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		logger.Error("recharge not queued", "error", ErrClosed)
		d.refund(context.WithoutCancel(ctx), logger, f, "not queued: dispatcher closed")
		return ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	err := d.pool.Submit(func() {
		defer d.wg.Done()
		d.run(logger, f, req)
	})
	if err != nil {
		d.wg.Done()
		logger.Error("recharge not queued", "error", err)
		d.refund(context.WithoutCancel(ctx), logger, f, "not queued: "+err.Error())
		return fmt.Errorf("queue recharge: %w", err)
	}
	return nil
}

func (d *Dispatcher) run(logger *slog.Logger, f pricing.Fulfilment, req Request) {
	// Detached from the request: the HTTP call has already returned.
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	res, err := d.provider.Recharge(ctx, req)
	if err != nil {
		logger.Error("recharge failed", "provider", d.provider.Name(), "error", err)
		d.refund(context.Background(), logger, f, err.Error())
		return
	}
	logger.Info("recharge delivered", "provider", d.provider.Name(), "provider_reference", res.ProviderReference)
}

func (d *Dispatcher) refund(ctx context.Context, logger *slog.Logger, f pricing.Fulfilment, reason string) {
	ref := refundRefPrefix + f.DebitReference
	if _, err := d.refunder.Credit(ctx, f.BuyerID, f.Amount, "refund: "+f.PlanName, ref); err != nil {
		logger.Error("refund failed", "refund_reference", ref, "error", err)
		return
	}
	logger.Info("purchase refunded", "refund_reference", ref, "amount", f.Amount.StringFixed(2))
	if d.auditor != nil {
		d.auditor.ProvisioningRefund(ctx, f.BuyerID, f.DebitReference, ref, reason)
	}
}

func (d *Dispatcher) Running() int { return d.pool.Running() }

func (d *Dispatcher) Capacity() int { return d.pool.Cap() }

// Close stops accepting recharges, waits for queued ones, then releases the
// pool. Later calls are no-ops.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.logger.Info("shutting down provisioning pool", "running_workers", d.pool.Running())
	d.wg.Wait()
	d.pool.Release()
}
