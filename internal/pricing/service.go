package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"glovendor/internal/wallet"

	"github.com/shopspring/decimal"
)

// Service derives resale prices across the aggregator -> subvendor -> retailer
// chain and gates purchases on the ledger.
//
// Contract:
//   - Prices are always re-resolved server-side at purchase time; a quoted
//     price is compared, never charged.
//   - Bulk margin changes persist all-or-nothing.
//   - Provisioning is dispatched only after the debit commits.
type Service struct {
	repo      Repository
	ledger    Ledger
	fulfiller Fulfiller
	auditor   Auditor
	logger    *slog.Logger
	clock     func() time.Time
}

// Repository abstracts catalog and offer persistence.
// The Mutate* methods lock the rows they hand to fn and persist its result
// atomically.
type Repository interface {
	GetPlan(ctx context.Context, id int64) (DataPlan, error)
	ListPlans(ctx context.Context) ([]DataPlan, error)
	GetOffer(ctx context.Context, id int64) (Offer, error)
	CreateOffer(ctx context.Context, o Offer) (Offer, error)
	ListOffers(ctx context.Context, subvendorID int64) ([]Offer, error)
	ListOffersForPlan(ctx context.Context, planID int64) ([]Offer, error)
	MutateSubvendorOffers(ctx context.Context, subvendorID int64, fn func([]Offer) ([]Offer, error)) ([]Offer, error)
	MutateOffer(ctx context.Context, id int64, fn func(Offer) (Offer, error)) (Offer, error)
	SetBasePrice(ctx context.Context, planID int64, price decimal.Decimal, at time.Time, fn func(Offer) Offer) (DataPlan, []Offer, error)
}

type Ledger interface {
	Account(ctx context.Context, id int64) (wallet.Account, error)
	Debit(ctx context.Context, accountID int64, amount decimal.Decimal, purpose string) (wallet.Transaction, error)
}

// Fulfiller provisions a purchased plan. It must not block on the network.
type Fulfiller interface {
	Fulfil(ctx context.Context, f Fulfilment) error
}

type Auditor interface {
	MarginApplied(ctx context.Context, subvendorID int64, margin string, offers int)
	PriceOverridden(ctx context.Context, subvendorID, offerID int64, price string)
	BasePriceUpdated(ctx context.Context, planID int64, price string, offers int)
}

type Option func(*Service)

func WithFulfiller(f Fulfiller) Option { return func(s *Service) { s.fulfiller = f } }
func WithAuditor(a Auditor) Option     { return func(s *Service) { s.auditor = a } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithClock(c func() time.Time) Option {
	return func(s *Service) { s.clock = c }
}

func NewService(repo Repository, ledger Ledger, opts ...Option) *Service {
	s := &Service{repo: repo, ledger: ledger, logger: slog.Default(), clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) now() time.Time { return s.clock().UTC() }

func (s *Service) Plans(ctx context.Context) ([]DataPlan, error) {
	return s.repo.ListPlans(ctx)
}

func (s *Service) Offer(ctx context.Context, id int64) (Offer, error) {
	o, err := s.repo.GetOffer(ctx, id)
	if err != nil {
		return Offer{}, err
	}
	return withProfit(o), nil
}

// GrantOffer gives a subvendor access to a plan at margin 0.
func (s *Service) GrantOffer(ctx context.Context, subvendorID, planID int64) (Offer, error) {
	acct, err := s.ledger.Account(ctx, subvendorID)
	if err != nil {
		return Offer{}, err
	}
	if acct.Kind != wallet.KindSubvendor {
		return Offer{}, fmt.Errorf("account %d is %s: %w", subvendorID, acct.Kind, ErrInvalidPricingReq)
	}
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return Offer{}, err
	}
	o, err := s.repo.CreateOffer(ctx, Offer{
		SubvendorID:   subvendorID,
		PlanID:        plan.ID,
		BasePrice:     plan.BasePrice,
		MarginPercent: decimal.Zero,
		CustomPrice:   plan.BasePrice.Round(2),
		UpdatedAt:     s.now(),
	})
	if err != nil {
		return Offer{}, err
	}
	return withProfit(o), nil
}

func (s *Service) ListOffers(ctx context.Context, subvendorID int64) ([]Offer, error) {
	offers, err := s.repo.ListOffers(ctx, subvendorID)
	if err != nil {
		return nil, err
	}
	for i := range offers {
		offers[i] = withProfit(offers[i])
	}
	return offers, nil
}

// ApplyMargin reprices every offer of the subvendor and clears overrides.
func (s *Service) ApplyMargin(ctx context.Context, subvendorID int64, marginPercent decimal.Decimal) ([]Offer, error) {
	if subvendorID <= 0 {
		return nil, ErrInvalidPricingReq
	}
	marginPercent = marginPercent.Round(2)
	if marginPercent.IsNegative() {
		return nil, ErrInvalidMargin
	}
	at := s.now()
	offers, err := s.repo.MutateSubvendorOffers(ctx, subvendorID, func(current []Offer) ([]Offer, error) {
		out := make([]Offer, len(current))
		for i, o := range current {
			o.MarginPercent = marginPercent
			o.CustomPrice = CustomPriceFor(o.BasePrice, marginPercent)
			o.Overridden = false
			o.UpdatedAt = at
			out[i] = o
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	for i := range offers {
		offers[i] = withProfit(offers[i])
	}

	s.logger.Info("margin applied", "subvendor_id", subvendorID, "margin", marginPercent.String(), "offers", len(offers))
	if s.auditor != nil {
		s.auditor.MarginApplied(ctx, subvendorID, marginPercent.String(), len(offers))
	}
	return offers, nil
}

// SetCustomPrice overrides one offer's price until the next ApplyMargin.
func (s *Service) SetCustomPrice(ctx context.Context, offerID int64, price decimal.Decimal) (Offer, error) {
	price = price.Round(2)
	if !price.IsPositive() {
		return Offer{}, ErrInvalidPrice
	}
	o, err := s.repo.MutateOffer(ctx, offerID, func(o Offer) (Offer, error) {
		if price.LessThan(o.BasePrice) {
			return Offer{}, fmt.Errorf("%w: %s is below base price %s", ErrInvalidPrice, price.StringFixed(2), o.BasePrice.StringFixed(2))
		}
		o.CustomPrice = price
		o.MarginPercent = DerivedMargin(price, o.BasePrice)
		o.Overridden = true
		o.UpdatedAt = s.now()
		return o, nil
	})
	if err != nil {
		return Offer{}, err
	}

	s.logger.Info("offer price overridden", "subvendor_id", o.SubvendorID, "offer_id", o.ID, "price", price.StringFixed(2))
	if s.auditor != nil {
		s.auditor.PriceOverridden(ctx, o.SubvendorID, o.ID, price.StringFixed(2))
	}
	return withProfit(o), nil
}

// UpdateBasePrice propagates a catalog price change to every offer of the
// plan. Margin-priced offers are recomputed; overridden offers keep their
// price and get a new derived margin.
func (s *Service) UpdateBasePrice(ctx context.Context, planID int64, price decimal.Decimal) (DataPlan, []Offer, error) {
	price = price.Round(2)
	if !price.IsPositive() {
		return DataPlan{}, nil, ErrInvalidPrice
	}
	at := s.now()
	plan, offers, err := s.repo.SetBasePrice(ctx, planID, price, at, func(o Offer) Offer {
		o.BasePrice = price
		if o.Overridden {
			o.MarginPercent = DerivedMargin(o.CustomPrice, price)
		} else {
			o.CustomPrice = CustomPriceFor(price, o.MarginPercent)
		}
		o.UpdatedAt = at
		return o
	})
	if err != nil {
		return DataPlan{}, nil, err
	}
	for i := range offers {
		offers[i] = withProfit(offers[i])
	}

	s.logger.Info("base price updated", "plan_id", planID, "price", price.StringFixed(2), "offers", len(offers))
	if s.auditor != nil {
		s.auditor.BasePriceUpdated(ctx, planID, price.StringFixed(2), len(offers))
	}
	return plan, offers, nil
}

// CoVendorStats summarises what other subvendors charge for a plan.
func (s *Service) CoVendorStats(ctx context.Context, planID, excludeSubvendorID int64) (CoVendorStats, error) {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return CoVendorStats{}, err
	}
	offers, err := s.repo.ListOffersForPlan(ctx, planID)
	if err != nil {
		return CoVendorStats{}, err
	}

	stats := CoVendorStats{PlanID: planID}
	sum := decimal.Zero
	for _, o := range offers {
		if o.SubvendorID == excludeSubvendorID {
			continue
		}
		p := EffectivePrice(plan, o)
		if stats.Count == 0 || p.LessThan(stats.MinPrice) {
			stats.MinPrice = p
		}
		if stats.Count == 0 || p.GreaterThan(stats.MaxPrice) {
			stats.MaxPrice = p
		}
		sum = sum.Add(p)
		stats.Count++
	}
	if stats.Count > 0 {
		stats.AvgPrice = sum.Div(decimal.NewFromInt(int64(stats.Count))).Round(2)
	}
	return stats, nil
}

// PriceWarning compares an offer against its co-vendors.
func (s *Service) PriceWarning(ctx context.Context, offerID int64) (PriceCheck, error) {
	o, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return PriceCheck{}, err
	}
	stats, err := s.CoVendorStats(ctx, o.PlanID, o.SubvendorID)
	if err != nil {
		return PriceCheck{}, err
	}
	return PriceCheck{
		Offer:   withProfit(o),
		Stats:   stats,
		Warning: ExceedsAverage(o.CustomPrice, stats),
	}, nil
}

// Purchase debits the buyer at the price in effect now and then hands the
// order to provisioning. An InsufficientFunds debit provisions nothing.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (Receipt, error) {
	if req.BuyerID <= 0 || req.ItemID <= 0 {
		return Receipt{}, ErrInvalidPricingReq
	}
	buyer, err := s.ledger.Account(ctx, req.BuyerID)
	if err != nil {
		return Receipt{}, err
	}

	var (
		plan  DataPlan
		price decimal.Decimal
	)
	switch req.Level {
	case LevelOffer:
		if buyer.Kind != wallet.KindRetailer && buyer.Kind != wallet.KindCustomer {
			return Receipt{}, ErrLevelNotAllowed
		}
		offer, err := s.repo.GetOffer(ctx, req.ItemID)
		if err != nil {
			return Receipt{}, err
		}
		if buyer.Kind == wallet.KindRetailer && buyer.SupplierID != offer.SubvendorID {
			return Receipt{}, ErrNotSupplier
		}
		if plan, err = s.repo.GetPlan(ctx, offer.PlanID); err != nil {
			return Receipt{}, err
		}
		price = EffectivePrice(plan, offer)
	case LevelBasePlan:
		if buyer.Kind != wallet.KindSubvendor && buyer.Kind != wallet.KindAggregator {
			return Receipt{}, ErrLevelNotAllowed
		}
		if plan, err = s.repo.GetPlan(ctx, req.ItemID); err != nil {
			return Receipt{}, err
		}
		price = plan.BasePrice.Round(2)
	default:
		return Receipt{}, ErrInvalidPricingReq
	}
	if plan.Status != PlanStatusActive {
		return Receipt{}, ErrPlanUnavailable
	}

	stale := req.QuotedPrice != nil && !req.QuotedPrice.Round(2).Equal(price)
	if stale {
		s.logger.Info("quoted price re-resolved", "buyer_id", buyer.ID, "plan_id", plan.ID, "quoted", req.QuotedPrice.StringFixed(2), "price", price.StringFixed(2))
	}

	tx, err := s.ledger.Debit(ctx, buyer.ID, price, "plan purchase: "+plan.Name)
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			s.logger.Info("purchase rejected", "buyer_id", buyer.ID, "plan_id", plan.ID, "price", price.StringFixed(2), "reason", "insufficient_funds")
		}
		return Receipt{}, err
	}

	r := Receipt{
		Transaction:  tx,
		PlanID:       plan.ID,
		PlanName:     plan.Name,
		Price:        price,
		QuotedPrice:  req.QuotedPrice,
		Stale:        stale,
		Provisioning: ProvisioningSkipped,
	}
	if s.fulfiller != nil && req.MSISDN != "" {
		err := s.fulfiller.Fulfil(ctx, Fulfilment{
			DebitReference: tx.Reference,
			BuyerID:        buyer.ID,
			Amount:         price,
			PlanID:         plan.ID,
			PlanName:       plan.Name,
			Network:        plan.Network,
			MSISDN:         req.MSISDN,
		})
		if err != nil {
			// The fulfiller refunds on its own failures; the debit stands here.
			s.logger.Error("provisioning dispatch failed", "reference", tx.Reference, "error", err)
			r.Provisioning = ProvisioningFailed
		} else {
			r.Provisioning = ProvisioningQueued
		}
	}
	return r, nil
}
