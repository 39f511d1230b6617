package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"glovendor/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	fundingPurpose        = "wallet funding"
	referencePrefix       = "GLO-"
	failureAmountMismatch = "amount mismatch"
)

// Ledger is the slice of the wallet engine the funding flow needs.
type Ledger interface {
	Account(ctx context.Context, id int64) (wallet.Account, error)
	RecordPending(ctx context.Context, accountID int64, amount decimal.Decimal, purpose, reference string) (wallet.Transaction, error)
	Credit(ctx context.Context, accountID int64, amount decimal.Decimal, purpose, reference string) (wallet.Transaction, error)
	FailPending(ctx context.Context, reference string) (wallet.Transaction, error)
	FindByReference(ctx context.Context, reference string) (wallet.Transaction, error)
}

// Limiter caps Initiate calls in flight per account; a slot is held only for
// the duration of one call. utils.SlotLimiter implements it.
type Limiter interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Auditor interface {
	FundingExpired(ctx context.Context, accountID int64, reference string)
	LateSettlement(ctx context.Context, accountID int64, reference, amount string)
}

type Config struct {
	MinAmount      decimal.Decimal
	GatewayTimeout time.Duration
	// PendingTTL must outlive the gateway's own checkout expiry so the
	// reaper never fails a checkout the customer can still complete.
	PendingTTL  time.Duration
	CallbackURL string
}

// Service drives a funding attempt through
// INITIATED -> PENDING_VERIFICATION -> SETTLED | FAILED.
// The ledger is the source of truth: a credited reference is never failed,
// and Credit's idempotency makes concurrent Verify calls safe.
type Service struct {
	repo    Repository
	gateway Gateway
	ledger  Ledger
	limiter Limiter
	auditor Auditor
	cfg     Config
	logger  *slog.Logger
	clock   func() time.Time
	newRef  func() string
}

type Option func(*Service)

func WithLimiter(l Limiter) Option     { return func(s *Service) { s.limiter = l } }
func WithAuditor(a Auditor) Option     { return func(s *Service) { s.auditor = a } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithClock(c func() time.Time) Option {
	return func(s *Service) { s.clock = c }
}
func WithReferenceGenerator(f func() string) Option {
	return func(s *Service) { s.newRef = f }
}

func NewService(repo Repository, gateway Gateway, ledger Ledger, cfg Config, opts ...Option) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 24 * time.Hour
	}
	s := &Service{
		repo:    repo,
		gateway: gateway,
		ledger:  ledger,
		cfg:     cfg,
		logger:  slog.Default(),
		clock:   time.Now,
		newRef:  func() string { return referencePrefix + uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) now() time.Time { return s.clock().UTC() }

type InitiateResult struct {
	AuthorizationURL string  `json:"authorization_url"`
	Reference        string  `json:"reference"`
	Attempt          Attempt `json:"-"`
}

// Initiate opens a gateway checkout. Nothing is persisted when the gateway
// call fails.
func (s *Service) Initiate(ctx context.Context, accountID int64, amount decimal.Decimal) (InitiateResult, error) {
	amount = wallet.Round2(amount)
	if !amount.IsPositive() {
		return InitiateResult{}, wallet.ErrInvalidAmount
	}
	if amount.LessThan(s.cfg.MinAmount) {
		return InitiateResult{}, fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, s.cfg.MinAmount.StringFixed(2))
	}
	acct, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return InitiateResult{}, err
	}
	if !acct.Active {
		return InitiateResult{}, wallet.ErrAccountInactive
	}

	if s.limiter != nil {
		key := strconv.FormatInt(accountID, 10)
		ok, err := s.limiter.Acquire(ctx, key)
		switch {
		case err != nil:
			// Redis trouble must not block funding.
			s.logger.Warn("checkout limiter unavailable", "account_id", accountID, "error", err)
		case !ok:
			return InitiateResult{}, ErrTooManyPending
		default:
			defer func() {
				if err := s.limiter.Release(context.WithoutCancel(ctx), key); err != nil {
					s.logger.Warn("checkout limiter release failed", "account_id", accountID, "error", err)
				}
			}()
		}
	}

	ref := s.newRef()
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	checkout, err := s.gateway.Initialize(gctx, CheckoutRequest{
		Reference:   ref,
		Email:       acct.Email,
		Amount:      amount,
		CallbackURL: s.cfg.CallbackURL,
	})
	cancel()
	if err != nil {
		s.logger.Warn("checkout initialize failed", "gateway", s.gateway.Name(), "account_id", accountID, "error", err)
		return InitiateResult{}, gatewayError(err)
	}
	if checkout.Reference != "" {
		ref = checkout.Reference
	}

	if _, err := s.ledger.RecordPending(ctx, accountID, amount, fundingPurpose, ref); err != nil {
		return InitiateResult{}, fmt.Errorf("record pending funding: %w", err)
	}
	now := s.now()
	a := Attempt{
		Reference:        ref,
		AccountID:        accountID,
		Amount:           amount,
		State:            StateInitiated,
		AuthorizationURL: checkout.AuthorizationURL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if _, failErr := s.ledger.FailPending(context.WithoutCancel(ctx), ref); failErr != nil {
			s.logger.Error("orphaned funding stub", "reference", ref, "error", failErr)
		}
		return InitiateResult{}, fmt.Errorf("create funding attempt: %w", err)
	}

	s.logger.Info("funding initiated", "account_id", accountID, "reference", ref, "amount", amount.StringFixed(2))
	return InitiateResult{AuthorizationURL: checkout.AuthorizationURL, Reference: ref, Attempt: a}, nil
}

type VerificationResult struct {
	Status      State               `json:"status"`
	Attempt     Attempt             `json:"attempt"`
	Transaction *wallet.Transaction `json:"transaction,omitempty"`
}

// Verify asks the gateway for the outcome of a checkout and applies it.
// On ErrGatewayUnavailable the attempt is left untouched and the call can be
// retried.
func (s *Service) Verify(ctx context.Context, reference string) (VerificationResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return VerificationResult{}, wallet.ErrInvalidArgument
	}
	a, err := s.repo.Get(ctx, reference)
	if err != nil {
		return VerificationResult{}, err
	}

	switch {
	case a.State == StateSettled:
		return s.settled(ctx, a)
	case a.State == StateFailed && a.FailureReason != FailureExpired:
		return VerificationResult{Status: StateFailed, Attempt: a}, nil
	}

	v, err := s.query(ctx, reference)
	if err != nil {
		return VerificationResult{Status: a.State, Attempt: a}, err
	}

	if a.State == StateFailed {
		// Expired locally. A success now is money the wallet never received.
		if v.Status == GatewaySuccess {
			s.lateSettlement(ctx, a)
			return VerificationResult{Status: StateFailed, Attempt: a},
				fmt.Errorf("reference %q settled after expiry: %w", reference, wallet.ErrInvalidStateTransition)
		}
		return VerificationResult{Status: StateFailed, Attempt: a}, nil
	}

	expect := a.State
	a.GatewayStatus = v.Status
	a.VerifyAttempts++
	a.UpdatedAt = s.now()

	switch v.Status {
	case GatewaySuccess:
		if !wallet.Round2(v.Amount).Equal(a.Amount) {
			s.logger.Error("gateway amount mismatch", "reference", reference, "expected", a.Amount.StringFixed(2), "paid", v.Amount.StringFixed(2))
			return s.fail(ctx, a, expect, failureAmountMismatch)
		}
		tx, err := s.ledger.Credit(ctx, a.AccountID, a.Amount, fundingPurpose, reference)
		if errors.Is(err, wallet.ErrInvalidStateTransition) {
			// The reaper failed the stub first.
			s.lateSettlement(ctx, a)
			return VerificationResult{Status: StateFailed, Attempt: a}, err
		}
		if err != nil {
			return VerificationResult{Status: expect, Attempt: a}, fmt.Errorf("credit funding: %w", err)
		}
		a.State = StateSettled
		a.TransactionID = tx.ID
		a.FailureReason = ""
		out, err := s.repo.Update(ctx, a, expect)
		if errors.Is(err, ErrStateConflict) {
			return s.reload(ctx, reference)
		}
		if err != nil {
			return VerificationResult{}, err
		}
		s.logger.Info("funding settled", "account_id", a.AccountID, "reference", reference, "transaction_id", tx.ID)
		return VerificationResult{Status: StateSettled, Attempt: out, Transaction: &tx}, nil

	case GatewayFailed, GatewayAbandoned, GatewayReversed:
		return s.fail(ctx, a, expect, v.Status)

	default:
		a.State = StatePendingVerification
		out, err := s.repo.Update(ctx, a, expect)
		if errors.Is(err, ErrStateConflict) {
			return s.reload(ctx, reference)
		}
		if err != nil {
			return VerificationResult{}, err
		}
		return VerificationResult{Status: StatePendingVerification, Attempt: out}, nil
	}
}

func (s *Service) query(ctx context.Context, reference string) (Verification, error) {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	v, err := s.gateway.Verify(gctx, reference)
	if err != nil {
		s.logger.Warn("checkout verify failed", "gateway", s.gateway.Name(), "reference", reference, "error", err)
		return Verification{}, gatewayError(err)
	}
	if v.Reference != "" && v.Reference != reference {
		return Verification{}, fmt.Errorf("%w: gateway answered for %q", ErrGatewayUnavailable, v.Reference)
	}
	v.Status = strings.ToLower(strings.TrimSpace(v.Status))
	return v, nil
}

func (s *Service) fail(ctx context.Context, a Attempt, expect State, reason string) (VerificationResult, error) {
	if _, err := s.ledger.FailPending(ctx, a.Reference); err != nil && !errors.Is(err, wallet.ErrTransactionNotFound) {
		if errors.Is(err, wallet.ErrInvalidStateTransition) {
			return s.reload(ctx, a.Reference)
		}
		return VerificationResult{}, fmt.Errorf("fail funding stub: %w", err)
	}
	a.State = StateFailed
	a.FailureReason = reason
	out, err := s.repo.Update(ctx, a, expect)
	if errors.Is(err, ErrStateConflict) {
		return s.reload(ctx, a.Reference)
	}
	if err != nil {
		return VerificationResult{}, err
	}
	s.logger.Info("funding failed", "account_id", a.AccountID, "reference", a.Reference, "reason", reason)
	return VerificationResult{Status: StateFailed, Attempt: out}, nil
}

func (s *Service) reload(ctx context.Context, reference string) (VerificationResult, error) {
	a, err := s.repo.Get(ctx, reference)
	if err != nil {
		return VerificationResult{}, err
	}
	if a.State == StateSettled {
		return s.settled(ctx, a)
	}
	return VerificationResult{Status: a.State, Attempt: a}, nil
}

func (s *Service) settled(ctx context.Context, a Attempt) (VerificationResult, error) {
	tx, err := s.ledger.FindByReference(ctx, a.Reference)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("settled transaction: %w", err)
	}
	return VerificationResult{Status: StateSettled, Attempt: a, Transaction: &tx}, nil
}

func (s *Service) lateSettlement(ctx context.Context, a Attempt) {
	s.logger.Error("gateway settled expired funding", "account_id", a.AccountID, "reference", a.Reference, "amount", a.Amount.StringFixed(2))
	if s.auditor != nil {
		s.auditor.LateSettlement(ctx, a.AccountID, a.Reference, a.Amount.StringFixed(2))
	}
}

// ReapExpired fails open attempts older than the pending TTL. It never
// credits; a stub the ledger already posted is settled instead of failed.
func (s *Service) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	open, err := s.repo.ListOpenBefore(ctx, now.Add(-s.cfg.PendingTTL))
	if err != nil {
		return 0, err
	}
	var (
		expired int
		errs    []error
	)
	for _, a := range open {
		ok, err := s.expire(ctx, a, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("reference %s: %w", a.Reference, err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

func (s *Service) expire(ctx context.Context, a Attempt, now time.Time) (bool, error) {
	expect := a.State
	a.UpdatedAt = now.UTC()

	_, err := s.ledger.FailPending(ctx, a.Reference)
	switch {
	case errors.Is(err, wallet.ErrInvalidStateTransition):
		tx, findErr := s.ledger.FindByReference(ctx, a.Reference)
		if findErr != nil {
			return false, findErr
		}
		a.State = StateSettled
		a.TransactionID = tx.ID
		if _, err := s.repo.Update(ctx, a, expect); err != nil && !errors.Is(err, ErrStateConflict) {
			return false, err
		}
		return false, nil
	case err != nil && !errors.Is(err, wallet.ErrTransactionNotFound):
		return false, err
	}

	a.State = StateFailed
	a.FailureReason = FailureExpired
	if _, err := s.repo.Update(ctx, a, expect); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return false, nil
		}
		return false, err
	}
	s.logger.Info("funding expired", "account_id", a.AccountID, "reference", a.Reference)
	if s.auditor != nil {
		s.auditor.FundingExpired(ctx, a.AccountID, a.Reference)
	}
	return true, nil
}

// gatewayError keeps rejections distinct and folds everything else
// (network errors, timeouts, 5xx) into the retryable sentinel.
func gatewayError(err error) error {
	if errors.Is(err, ErrGatewayRejected) || errors.Is(err, ErrGatewayUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}
