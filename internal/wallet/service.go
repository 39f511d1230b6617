package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"glovendor/internal/rbac"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	debitRefPrefix = "DBT-"
	adminRefPrefix = "ADM-"
)

// Event types published after a ledger commit.
const (
	EventTransactionPosted = "transaction.posted"
	EventFundingFailed     = "funding.failed"
)

// Event is the payload published for every committed ledger change.
type Event struct {
	Type        string      `json:"type"`
	Transaction Transaction `json:"transaction"`
}

// Publisher receives ledger events once the store has committed.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// Auditor records operator actions.
type Auditor interface {
	AdminCredit(ctx context.Context, adminID int64, adminRole string, accountID int64, reference, amount, reason string)
}

// Service is the wallet ledger engine.
//
// Money invariants:
//   - No balance change without a transaction row, committed together.
//   - Posted transactions are immutable.
//   - Per account, each BalanceBefore equals the previous BalanceAfter.
type Service struct {
	store     Store
	publisher Publisher
	auditor   Auditor
	logger    *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }
func WithAuditor(a Auditor) Option     { return func(s *Service) { s.auditor = a } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithClock(c func() time.Time) Option {
	return func(s *Service) { s.clock = c }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default(), clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// OpenAccount creates an account with a zero balance.
// Retailers must name their supplying subvendor.
func (s *Service) OpenAccount(ctx context.Context, kind AccountKind, email string, supplierID int64) (Account, error) {
	email = strings.TrimSpace(email)
	if !kind.Valid() || email == "" {
		return Account{}, ErrInvalidArgument
	}
	if kind == KindRetailer {
		supplier, err := s.store.GetAccount(ctx, supplierID)
		if err != nil {
			return Account{}, fmt.Errorf("supplier %d: %w", supplierID, err)
		}
		if supplier.Kind != KindSubvendor {
			return Account{}, fmt.Errorf("supplier %d is %s: %w", supplierID, supplier.Kind, ErrInvalidArgument)
		}
	} else {
		supplierID = 0
	}
	return s.store.CreateAccount(ctx, Account{
		Kind:       kind,
		Email:      email,
		SupplierID: supplierID,
		Active:     true,
		CreatedAt:  s.now(),
	})
}

func (s *Service) Account(ctx context.Context, id int64) (Account, error) {
	return s.store.GetAccount(ctx, id)
}

// Deactivate blocks further debits. Credits still land so that settled
// payments are never lost.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.store.SetActive(ctx, id, false)
}

// Credit posts a FUNDING transaction. reference is the idempotency key:
// replaying a posted reference returns the original transaction.
func (s *Service) Credit(ctx context.Context, accountID int64, amount decimal.Decimal, purpose, reference string) (Transaction, error) {
	amount, err := normalizeAmount(amount)
	if err != nil {
		return Transaction{}, err
	}
	reference = strings.TrimSpace(reference)
	if accountID <= 0 || reference == "" {
		return Transaction{}, ErrInvalidArgument
	}

	t, posted, err := s.store.PostCredit(ctx, Posting{
		AccountID: accountID,
		Amount:    amount,
		Purpose:   purpose,
		Reference: reference,
		Clock:     s.now,
	})
	if err != nil {
		return Transaction{}, err
	}
	if posted {
		s.logger.Info("wallet credited", "account_id", accountID, "reference", reference, "amount", amount.StringFixed(2), "balance", t.BalanceAfter.StringFixed(2))
		s.publish(ctx, EventTransactionPosted, t)
	} else {
		s.logger.Debug("credit replayed", "account_id", accountID, "reference", reference)
	}
	return t, nil
}

// Debit posts a DEBIT transaction under a fresh system reference.
func (s *Service) Debit(ctx context.Context, accountID int64, amount decimal.Decimal, purpose string) (Transaction, error) {
	amount, err := normalizeAmount(amount)
	if err != nil {
		return Transaction{}, err
	}
	if accountID <= 0 {
		return Transaction{}, ErrInvalidArgument
	}
	a, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Transaction{}, err
	}
	if !a.Active {
		return Transaction{}, ErrAccountInactive
	}

	t, err := s.store.PostDebit(ctx, Posting{
		AccountID: accountID,
		Amount:    amount,
		Purpose:   purpose,
		Reference: debitRefPrefix + uuid.NewString(),
		Clock:     s.now,
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			s.logger.Info("debit rejected", "account_id", accountID, "amount", amount.StringFixed(2), "reason", "insufficient_funds")
		}
		return Transaction{}, err
	}
	s.logger.Info("wallet debited", "account_id", accountID, "reference", t.Reference, "amount", amount.StringFixed(2), "balance", t.BalanceAfter.StringFixed(2))
	s.publish(ctx, EventTransactionPosted, t)
	return t, nil
}

// RecordPending stores the FUNDING stub created when a gateway checkout starts.
func (s *Service) RecordPending(ctx context.Context, accountID int64, amount decimal.Decimal, purpose, reference string) (Transaction, error) {
	amount, err := normalizeAmount(amount)
	if err != nil {
		return Transaction{}, err
	}
	reference = strings.TrimSpace(reference)
	if accountID <= 0 || reference == "" {
		return Transaction{}, ErrInvalidArgument
	}
	return s.store.InsertPending(ctx, Posting{
		AccountID: accountID,
		Amount:    amount,
		Purpose:   purpose,
		Reference: reference,
		Clock:     s.now,
	})
}

// FailPending marks a stub FAILED. It has no balance effect.
func (s *Service) FailPending(ctx context.Context, reference string) (Transaction, error) {
	if strings.TrimSpace(reference) == "" {
		return Transaction{}, ErrInvalidArgument
	}
	t, err := s.store.FailPending(ctx, reference, s.now())
	if err != nil {
		return Transaction{}, err
	}
	s.publish(ctx, EventFundingFailed, t)
	return t, nil
}

func (s *Service) FindByReference(ctx context.Context, reference string) (Transaction, error) {
	return s.store.FindByReference(ctx, reference)
}

func (s *Service) CurrentBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	a, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return a.Balance, nil
}

// History lists posted transactions newest first. Per account, each row's
// BalanceBefore is the BalanceAfter of the row below it and the first row
// carries the current balance. Admins see every account.
func (s *Service) History(ctx context.Context, caller Caller) ([]Transaction, error) {
	rows, err := s.Activity(ctx, caller)
	if err != nil {
		return nil, err
	}
	posted := rows[:0]
	for _, t := range rows {
		if t.Posted() {
			posted = append(posted, t)
		}
	}
	return posted, nil
}

// Activity is History plus the PENDING and FAILED funding stubs.
func (s *Service) Activity(ctx context.Context, caller Caller) ([]Transaction, error) {
	if rbac.IsAdmin(caller.Role) {
		return s.store.ListAll(ctx)
	}
	if caller.AccountID <= 0 {
		return nil, ErrInvalidArgument
	}
	return s.store.ListByAccount(ctx, caller.AccountID)
}

type AdminCreditRequest struct {
	AdminID        int64
	AdminRole      string
	AccountID      int64
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// AdminManualCredit lets an operator credit a wallet, for example to resolve
// a payment the gateway settled after its attempt expired.
func (s *Service) AdminManualCredit(ctx context.Context, req AdminCreditRequest) (Transaction, error) {
	if !rbac.IsAdmin(req.AdminRole) {
		return Transaction{}, ErrForbidden
	}
	if req.AdminID <= 0 || strings.TrimSpace(req.Reason) == "" || strings.TrimSpace(req.IdempotencyKey) == "" {
		return Transaction{}, ErrInvalidArgument
	}

	ref := adminRefPrefix + strings.TrimSpace(req.IdempotencyKey)
	t, err := s.Credit(ctx, req.AccountID, req.Amount, "admin credit: "+req.Reason, ref)
	if err != nil {
		return Transaction{}, err
	}
	if s.auditor != nil {
		s.auditor.AdminCredit(ctx, req.AdminID, req.AdminRole, req.AccountID, ref, t.Amount.StringFixed(2), req.Reason)
	}
	return t, nil
}

// publish is best-effort; the ledger has already committed.
func (s *Service) publish(ctx context.Context, typ string, t Transaction) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, t.Reference, Event{Type: typ, Transaction: t}); err != nil {
		s.logger.Warn("ledger event publish failed", "type", typ, "reference", t.Reference, "error", err)
	}
}
