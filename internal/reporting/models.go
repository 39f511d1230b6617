package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeRange bounds a summary by transaction CreatedAt, [From, To).
// A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// SummaryRequest asks for a wallet summary. Non-admin callers are always
// scoped to their own account; AccountID only narrows an admin's view.
type SummaryRequest struct {
	CallerID   int64     `json:"-"`
	CallerRole string    `json:"-"`
	AccountID  int64     `json:"account_id,omitempty"`
	Range      TimeRange `json:"range"`
}

// WalletSummary aggregates posted ledger rows. Pending and failed funding
// stubs are counted but never summed.
type WalletSummary struct {
	AccountID int64     `json:"account_id,omitempty"`
	Range     TimeRange `json:"range"`

	Funded       decimal.Decimal `json:"funded"`
	Refunded     decimal.Decimal `json:"refunded"`
	AdminCredits decimal.Decimal `json:"admin_credits"`
	Debited      decimal.Decimal `json:"debited"`
	Net          decimal.Decimal `json:"net"`

	FundingCount int `json:"funding_count"`
	DebitCount   int `json:"debit_count"`
	PendingCount int `json:"pending_count"`
	FailedCount  int `json:"failed_count"`

	// Balance is the closing balance of the newest posted row in range.
	// Only set for single-account summaries.
	Balance *decimal.Decimal `json:"balance,omitempty"`
}
