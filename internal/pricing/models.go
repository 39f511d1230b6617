package pricing

import (
	"errors"
	"time"

	"glovendor/internal/wallet"

	"github.com/shopspring/decimal"
)

// Amounts are decimals in the base currency. Every derived price is rounded
// to 2 places.

// DataPlan is the upstream catalog entry a subvendor resells.
type DataPlan struct {
	ID           int64           `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Network      string          `json:"network" db:"network"`
	BasePrice    decimal.Decimal `json:"base_price" db:"base_price"`
	ValidityDays int             `json:"validity_days" db:"validity_days"`
	Status       PlanStatus      `json:"status" db:"status"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusInactive PlanStatus = "inactive"
)

// Offer is a subvendor's resale price for one plan.
//
// CustomPrice = round2(BasePrice * (1 + MarginPercent/100)) unless Overridden,
// in which case CustomPrice is authoritative and MarginPercent is derived.
type Offer struct {
	ID            int64           `json:"id" db:"id"`
	SubvendorID   int64           `json:"subvendor_id" db:"subvendor_id"`
	PlanID        int64           `json:"plan_id" db:"plan_id"`
	PlanName      string          `json:"plan_name" db:"plan_name"`
	Network       string          `json:"network" db:"network"`
	BasePrice     decimal.Decimal `json:"base_price" db:"base_price"`
	MarginPercent decimal.Decimal `json:"margin_percent" db:"margin_percent"`
	CustomPrice   decimal.Decimal `json:"custom_price" db:"custom_price"`
	Overridden    bool            `json:"overridden" db:"overridden"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`

	// Profit is derived on read.
	Profit decimal.Decimal `json:"profit" db:"-"`
}

// Level selects which tier of the hierarchy a purchase is made at.
type Level string

const (
	// LevelOffer buys a subvendor offer at its custom price (retailers, customers).
	LevelOffer Level = "offer"
	// LevelBasePlan buys the upstream plan at its base price (subvendors, aggregators).
	LevelBasePlan Level = "base_plan"
)

type PurchaseRequest struct {
	BuyerID int64
	Level   Level
	// ItemID is an offer id for LevelOffer and a plan id for LevelBasePlan.
	ItemID int64
	// QuotedPrice is what the buyer was shown. It is compared, never charged.
	QuotedPrice *decimal.Decimal
	// MSISDN is the number to provision; empty skips provisioning.
	MSISDN string
}

type Receipt struct {
	Transaction  wallet.Transaction `json:"transaction"`
	PlanID       int64              `json:"plan_id"`
	PlanName     string             `json:"plan_name"`
	Price        decimal.Decimal    `json:"price"`
	QuotedPrice  *decimal.Decimal   `json:"quoted_price,omitempty"`
	Stale        bool               `json:"stale"`
	Provisioning string             `json:"provisioning"`
}

// Provisioning outcomes reported on a Receipt.
const (
	ProvisioningSkipped = "skipped"
	ProvisioningQueued  = "queued"
	ProvisioningFailed  = "failed"
)

// Fulfilment is handed to the provisioning side after the debit commits.
type Fulfilment struct {
	DebitReference string          `json:"debit_reference"`
	BuyerID        int64           `json:"buyer_id"`
	Amount         decimal.Decimal `json:"amount"`
	PlanID         int64           `json:"plan_id"`
	PlanName       string          `json:"plan_name"`
	Network        string          `json:"network"`
	MSISDN         string          `json:"msisdn"`
}

type CoVendorStats struct {
	PlanID   int64           `json:"plan_id"`
	Count    int             `json:"count"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	MinPrice decimal.Decimal `json:"min_price"`
	MaxPrice decimal.Decimal `json:"max_price"`
}

type PriceCheck struct {
	Offer   Offer         `json:"offer"`
	Stats   CoVendorStats `json:"stats"`
	Warning bool          `json:"warning"`
}

var (
	ErrPlanNotFound      = errors.New("data plan not found")
	ErrPlanUnavailable   = errors.New("data plan unavailable")
	ErrOfferNotFound     = errors.New("offer not found")
	ErrOfferExists       = errors.New("offer already granted")
	ErrInvalidMargin     = errors.New("invalid margin")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrNotSupplier       = errors.New("offer not published by buyer's supplier")
	ErrLevelNotAllowed   = errors.New("purchase level not allowed for account")
	ErrInvalidPricingReq = errors.New("invalid pricing request")
)

var hundred = decimal.NewFromInt(100)

// warnRatio flags prices more than 15% above the co-vendor average.
var warnRatio = decimal.RequireFromString("1.15")

// CustomPriceFor returns round2(base * (1 + margin/100)).
func CustomPriceFor(base, marginPercent decimal.Decimal) decimal.Decimal {
	return base.Mul(hundred.Add(marginPercent)).Div(hundred).Round(2)
}

// DerivedMargin returns round2((price/base - 1) * 100).
func DerivedMargin(price, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(base).Mul(hundred).Div(base).Round(2)
}

// EffectivePrice re-derives what a buyer pays for an offer from the plan's
// current base price.
func EffectivePrice(plan DataPlan, o Offer) decimal.Decimal {
	if o.Overridden {
		return o.CustomPrice.Round(2)
	}
	return CustomPriceFor(plan.BasePrice, o.MarginPercent)
}

// ExceedsAverage reports whether price is more than 15% above the average.
func ExceedsAverage(price decimal.Decimal, stats CoVendorStats) bool {
	if stats.Count == 0 {
		return false
	}
	return price.GreaterThan(stats.AvgPrice.Mul(warnRatio))
}

func withProfit(o Offer) Offer {
	o.Profit = o.CustomPrice.Sub(o.BasePrice).Round(2)
	return o
}
