package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"glovendor/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

type recordingFulfiller struct {
	mu   sync.Mutex
	jobs []Fulfilment
	err  error
}

func (f *recordingFulfiller) Fulfil(ctx context.Context, job Fulfilment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type recordingAuditor struct{ calls []string }

func (a *recordingAuditor) MarginApplied(ctx context.Context, subvendorID int64, margin string, offers int) {
	a.calls = append(a.calls, "margin:"+margin)
}

func (a *recordingAuditor) PriceOverridden(ctx context.Context, subvendorID, offerID int64, price string) {
	a.calls = append(a.calls, "override:"+price)
}

func (a *recordingAuditor) BasePriceUpdated(ctx context.Context, planID int64, price string, offers int) {
	a.calls = append(a.calls, "base:"+price)
}

type world struct {
	svc       *Service
	ledger    *wallet.Service
	repo      *MemoryRepo
	fulfiller *recordingFulfiller
	auditor   *recordingAuditor
	subvendor wallet.Account
	rival     wallet.Account
	retailer  wallet.Account
	seeded    int
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	w := &world{
		repo: NewMemoryRepo(
			DataPlan{ID: 1, Name: "MTN 10GB", Network: "MTN", BasePrice: d("1000"), ValidityDays: 30, Status: PlanStatusActive, UpdatedAt: at},
			DataPlan{ID: 2, Name: "Glo 2GB", Network: "GLO", BasePrice: d("500"), ValidityDays: 7, Status: PlanStatusActive, UpdatedAt: at},
			DataPlan{ID: 3, Name: "Retired", Network: "GLO", BasePrice: d("100"), Status: PlanStatusInactive, UpdatedAt: at},
		),
		fulfiller: &recordingFulfiller{},
		auditor:   &recordingAuditor{},
	}
	w.ledger = wallet.NewService(wallet.NewMemoryStore())

	var err error
	w.subvendor, err = w.ledger.OpenAccount(ctx, wallet.KindSubvendor, "sub@glo.test", 0)
	require.NoError(t, err)
	w.rival, err = w.ledger.OpenAccount(ctx, wallet.KindSubvendor, "rival@glo.test", 0)
	require.NoError(t, err)
	w.retailer, err = w.ledger.OpenAccount(ctx, wallet.KindRetailer, "shop@glo.test", w.subvendor.ID)
	require.NoError(t, err)

	w.svc = NewService(w.repo, w.ledger,
		WithFulfiller(w.fulfiller),
		WithAuditor(w.auditor),
		WithClock(func() time.Time { return at }))
	return w
}

func (w *world) fund(t *testing.T, accountID int64, amount string) {
	t.Helper()
	w.seeded++
	_, err := w.ledger.Credit(context.Background(), accountID, d(amount), "wallet funding", fmt.Sprintf("SEED-%d", w.seeded))
	require.NoError(t, err)
}

func TestCustomPriceFor(t *testing.T) {
	assert.Equal(t, "1150.00", CustomPriceFor(d("1000"), d("15")).StringFixed(2))
	assert.Equal(t, "1200.00", CustomPriceFor(d("1000"), d("20")).StringFixed(2))
	assert.Equal(t, "12.35", CustomPriceFor(d("9.99"), d("23.6")).StringFixed(2))
	assert.Equal(t, "16.67", DerivedMargin(d("350"), d("300")).StringFixed(2))
	assert.True(t, DerivedMargin(d("5"), d("0")).IsZero())
}

func TestGrantOffer(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	o, err := w.svc.GrantOffer(ctx, w.subvendor.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", o.CustomPrice.StringFixed(2))
	assert.True(t, o.MarginPercent.IsZero())
	assert.Equal(t, "MTN 10GB", o.PlanName)

	_, err = w.svc.GrantOffer(ctx, w.subvendor.ID, 1)
	assert.ErrorIs(t, err, ErrOfferExists)
	_, err = w.svc.GrantOffer(ctx, w.retailer.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidPricingReq)
	_, err = w.svc.GrantOffer(ctx, w.subvendor.ID, 99)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestApplyMargin_RepricesEveryOfferAndClearsOverrides(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	a, err := w.svc.GrantOffer(ctx, w.subvendor.ID, 1)
	require.NoError(t, err)
	_, err = w.svc.GrantOffer(ctx, w.subvendor.ID, 2)
	require.NoError(t, err)
	_, err = w.svc.SetCustomPrice(ctx, a.ID, d("1999"))
	require.NoError(t, err)

	offers, err := w.svc.ApplyMargin(ctx, w.subvendor.ID, d("15"))
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, "1150.00", offers[0].CustomPrice.StringFixed(2))
	assert.False(t, offers[0].Overridden)
	assert.Equal(t, "150.00", offers[0].Profit.StringFixed(2))
	assert.Equal(t, "575.00", offers[1].CustomPrice.StringFixed(2))

	_, err = w.svc.ApplyMargin(ctx, w.subvendor.ID, d("-1"))
	assert.ErrorIs(t, err, ErrInvalidMargin)
	assert.Equal(t, []string{"override:1999.00", "margin:15"}, w.auditor.calls)
}

func TestApplyMargin_AllOrNothing(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, err := w.svc.GrantOffer(ctx, w.subvendor.ID, 1)
	require.NoError(t, err)
	_, err = w.svc.GrantOffer(ctx, w.subvendor.ID, 2)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = w.repo.MutateSubvendorOffers(ctx, w.subvendor.ID, func(current []Offer) ([]Offer, error) {
		current[0].CustomPrice = d("1")
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	offers, err := w.svc.ListOffers(ctx, w.subvendor.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", offers[0].CustomPrice.StringFixed(2))
}

func TestSetCustomPrice(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	o, err := w.svc.GrantOffer(ctx, w.subvendor.ID, 2)
	require.NoError(t, err)

	out, err := w.svc.SetCustomPrice(ctx, o.ID, d("583.333"))
	require.NoError(t, err)
	assert.True(t, out.Overridden)
	assert.Equal(t, "583.33", out.CustomPrice.StringFixed(2))
	assert.Equal(t, "16.67", out.MarginPercent.StringFixed(2))

	_, err = w.svc.SetCustomPrice(ctx, o.ID, d("0"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = w.svc.SetCustomPrice(ctx, o.ID, d("499.99"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = w.svc.SetCustomPrice(ctx, 404, d("600"))
	assert.ErrorIs(t, err, ErrOfferNotFound)
}

func TestUpdateBasePrice_Propagates(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	a, err := w.svc.GrantOffer(ctx, w.subvendor.ID, 1)
	require.NoError(t, err)
	_, err = w.svc.ApplyMargin(ctx, w.subvendor.ID, d("10"))
	require.NoError(t, err)
	b, err := w.svc.GrantOffer(ctx, w.rival.ID, 1)
	require.NoError(t, err)
	_, err = w.svc.SetCustomPrice(ctx, b.ID, d("1500"))
	require.NoError(t, err)

	plan, offers, err := w.svc.UpdateBasePrice(ctx, 1, d("1200"))
	require.NoError(t, err)
	assert.Equal(t, "1200.00", plan.BasePrice.StringFixed(2))
	require.Len(t, offers, 2)

	assert.Equal(t, a.ID, offers[0].ID)
	assert.Equal(t, "1320.00", offers[0].CustomPrice.StringFixed(2))
	assert.Equal(t, "1500.00", offers[1].CustomPrice.StringFixed(2))
	assert.Equal(t, "25.00", offers[1].MarginPercent.StringFixed(2))
}

func TestCoVendorStatsAndWarning(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	third, err := w.ledger.OpenAccount(ctx, wallet.KindSubvendor, "third@glo.test", 0)
	require.NoError(t, err)

	mine, err := w.svc.GrantOffer(ctx, w.subvendor.ID, 1)
	require.NoError(t, err)
	_, err = w.svc.GrantOffer(ctx, w.rival.ID, 1)
	require.NoError(t, err)
	_, err = w.svc.GrantOffer(ctx, third.ID, 1)
	require.NoError(t, err)
	_, err = w.svc.ApplyMargin(ctx, w.rival.ID, d("10"))
	require.NoError(t, err)

	stats, err := w.svc.CoVendorStats(ctx, 1, w.subvendor.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, "1050.00", stats.AvgPrice.StringFixed(2))
	assert.Equal(t, "1000.00", stats.MinPrice.StringFixed(2))
	assert.Equal(t, "1100.00", stats.MaxPrice.StringFixed(2))

	_, err = w.svc.SetCustomPrice(ctx, mine.ID, d("1207"))
	require.NoError(t, err)
	check, err := w.svc.PriceWarning(ctx, mine.ID)
	require.NoError(t, err)
	assert.False(t, check.Warning)

	_, err = w.svc.SetCustomPrice(ctx, mine.ID, d("1208"))
	require.NoError(t, err)
	check, err = w.svc.PriceWarning(ctx, mine.ID)
	require.NoError(t, err)
	assert.True(t, check.Warning)
}

func TestPurchase_UsesPriceInEffectAtDebit(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	o, err := w.svc.GrantOffer(ctx, w.subvendor.ID, 1)
	require.NoError(t, err)
	_, err = w.svc.ApplyMargin(ctx, w.subvendor.ID, d("15"))
	require.NoError(t, err)
	w.fund(t, w.retailer.ID, "5000")

	// Buyer saw 1150.00, then the subvendor moved to 20%.
	_, err = w.svc.ApplyMargin(ctx, w.subvendor.ID, d("20"))
	require.NoError(t, err)

	r, err := w.svc.Purchase(ctx, PurchaseRequest{BuyerID: w.retailer.ID, Level: LevelOffer, ItemID: o.ID, QuotedPrice: ptr(d("1150")), MSISDN: "08050000000"})
	require.NoError(t, err)
	assert.Equal(t, "1200.00", r.Price.StringFixed(2))
	assert.True(t, r.Stale)
	assert.Equal(t, "1200.00", r.Transaction.Amount.StringFixed(2))
	assert.Equal(t, "plan purchase: MTN 10GB", r.Transaction.Purpose)
	assert.Equal(t, ProvisioningQueued, r.Provisioning)
	require.Len(t, w.fulfiller.jobs, 1)
	assert.Equal(t, r.Transaction.Reference, w.fulfiller.jobs[0].DebitReference)
}

func TestPurchase_EndToEndThenInsufficientFunds(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	o, err := w.svc.GrantOffer(ctx, w.subvendor.ID, 1)
	require.NoError(t, err)
	_, err = w.svc.ApplyMargin(ctx, w.subvendor.ID, d("15"))
	require.NoError(t, err)
	w.fund(t, w.retailer.ID, "1200")

	r, err := w.svc.Purchase(ctx, PurchaseRequest{BuyerID: w.retailer.ID, Level: LevelOffer, ItemID: o.ID, QuotedPrice: ptr(d("1150.00")), MSISDN: "08050000000"})
	require.NoError(t, err)
	assert.False(t, r.Stale)
	assert.Equal(t, wallet.TxDebit, r.Transaction.Kind)
	assert.Equal(t, "1200.00", r.Transaction.BalanceBefore.StringFixed(2))
	assert.Equal(t, "50.00", r.Transaction.BalanceAfter.StringFixed(2))

	_, err = w.svc.Purchase(ctx, PurchaseRequest{BuyerID: w.retailer.ID, Level: LevelOffer, ItemID: o.ID, MSISDN: "08050000000"})
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	bal, err := w.ledger.CurrentBalance(ctx, w.retailer.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", bal.StringFixed(2))
	assert.Len(t, w.fulfiller.jobs, 1)
}

func TestPurchase_RetailerLimitedToSupplier(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	rivalOffer, err := w.svc.GrantOffer(ctx, w.rival.ID, 2)
	require.NoError(t, err)
	w.fund(t, w.retailer.ID, "1000")

	_, err = w.svc.Purchase(ctx, PurchaseRequest{BuyerID: w.retailer.ID, Level: LevelOffer, ItemID: rivalOffer.ID})
	assert.ErrorIs(t, err, ErrNotSupplier)
}

func TestPurchase_BasePlanLevel(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.fund(t, w.subvendor.ID, "600")

	r, err := w.svc.Purchase(ctx, PurchaseRequest{BuyerID: w.subvendor.ID, Level: LevelBasePlan, ItemID: 2})
	require.NoError(t, err)
	assert.Equal(t, "500.00", r.Price.StringFixed(2))
	assert.Equal(t, ProvisioningSkipped, r.Provisioning)

	_, err = w.svc.Purchase(ctx, PurchaseRequest{BuyerID: w.retailer.ID, Level: LevelBasePlan, ItemID: 2})
	assert.ErrorIs(t, err, ErrLevelNotAllowed)
	_, err = w.svc.Purchase(ctx, PurchaseRequest{BuyerID: w.subvendor.ID, Level: LevelBasePlan, ItemID: 3})
	assert.ErrorIs(t, err, ErrPlanUnavailable)
}

func TestPurchase_FulfilmentFailureKeepsDebit(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.fulfiller.err = errors.New("pool closed")
	w.fund(t, w.subvendor.ID, "600")

	r, err := w.svc.Purchase(ctx, PurchaseRequest{BuyerID: w.subvendor.ID, Level: LevelBasePlan, ItemID: 2, MSISDN: "0805"})
	require.NoError(t, err)
	assert.Equal(t, ProvisioningFailed, r.Provisioning)
	bal, err := w.ledger.CurrentBalance(ctx, w.subvendor.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", bal.StringFixed(2))
}
