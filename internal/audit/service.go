package audit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there is no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
}

// Service records internal audit information. Records are internal-only.
type Service struct {
	repo   Repository
	logger *slog.Logger
	clock  func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Event, error) {
	return s.repo.List(ctx, f)
}

// record appends and only logs failures.
func (s *Service) record(ctx context.Context, e Event) {
	if err := s.Append(ctx, e); err != nil {
		s.logger.Warn("audit append failed", "type", string(e.Type), "reference", e.Reference, "error", err)
	}
}

// AdminCredit records a manual wallet credit by an operator.
func (s *Service) AdminCredit(ctx context.Context, adminID int64, adminRole string, accountID int64, reference, amount, reason string) {
	s.record(ctx, Event{
		Type:           EventTypeAdminCredit,
		ActorAccountID: adminID,
		ActorRole:      adminRole,
		AccountID:      accountID,
		Reference:      reference,
		Message:        reason,
		Metadata:       map[string]string{"amount": amount},
	})
}

func (s *Service) MarginApplied(ctx context.Context, subvendorID int64, margin string, offers int) {
	s.record(ctx, Event{
		Type:           EventTypeMarginApplied,
		ActorAccountID: subvendorID,
		AccountID:      subvendorID,
		Metadata:       map[string]string{"margin_percent": margin, "offers": strconv.Itoa(offers)},
	})
}

func (s *Service) PriceOverridden(ctx context.Context, subvendorID, offerID int64, price string) {
	s.record(ctx, Event{
		Type:           EventTypePriceOverridden,
		ActorAccountID: subvendorID,
		AccountID:      subvendorID,
		Metadata:       map[string]string{"offer_id": strconv.FormatInt(offerID, 10), "custom_price": price},
	})
}

func (s *Service) BasePriceUpdated(ctx context.Context, planID int64, price string, offers int) {
	s.record(ctx, Event{
		Type: EventTypeBasePriceUpdated,
		Metadata: map[string]string{
			"plan_id":    strconv.FormatInt(planID, 10),
			"base_price": price,
			"offers":     strconv.Itoa(offers),
		},
	})
}

func (s *Service) FundingExpired(ctx context.Context, accountID int64, reference string) {
	s.record(ctx, Event{
		Type:      EventTypeFundingExpired,
		AccountID: accountID,
		Reference: reference,
		Message:   "funding attempt expired before verification",
	})
}

// LateSettlement flags a gateway success reported after the attempt expired.
// The wallet was not credited; an operator resolves it with a manual credit.
func (s *Service) LateSettlement(ctx context.Context, accountID int64, reference, amount string) {
	s.record(ctx, Event{
		Type:      EventTypeLateSettlement,
		AccountID: accountID,
		Reference: reference,
		Message:   "gateway reported success for an expired attempt",
		Metadata:  map[string]string{"amount": amount},
	})
}

func (s *Service) ProvisioningRefund(ctx context.Context, accountID int64, debitRef, refundRef, reason string) {
	s.record(ctx, Event{
		Type:      EventTypeProvisioningRefund,
		AccountID: accountID,
		Reference: refundRef,
		Message:   reason,
		Metadata:  map[string]string{"debit_reference": debitRef},
	})
}
