package wallet

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind is the tier an account belongs to.
type AccountKind string

const (
	KindCustomer   AccountKind = "CUSTOMER"
	KindRetailer   AccountKind = "RETAILER"
	KindSubvendor  AccountKind = "SUBVENDOR"
	KindAggregator AccountKind = "AGGREGATOR"
	KindAdmin      AccountKind = "ADMIN"
)

func (k AccountKind) Valid() bool {
	switch k {
	case KindCustomer, KindRetailer, KindSubvendor, KindAggregator, KindAdmin:
		return true
	}
	return false
}

// Role is the RBAC role carried in tokens for this kind.
func (k AccountKind) Role() string { return strings.ToLower(string(k)) }

// Account holds a prepaid wallet.
// Invariant: Balance equals BalanceAfter of the latest posted transaction.
type Account struct {
	ID         int64           `json:"id"`
	Kind       AccountKind     `json:"kind"`
	Email      string          `json:"email"`
	SupplierID int64           `json:"supplier_id,omitempty"`
	Balance    decimal.Decimal `json:"balance"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
}

type TxKind string

const (
	TxFunding TxKind = "FUNDING"
	TxDebit   TxKind = "DEBIT"
)

type TxStatus string

const (
	StatusPending TxStatus = "PENDING"
	StatusSuccess TxStatus = "SUCCESS"
	StatusFailed  TxStatus = "FAILED"
)

// Transaction is an immutable ledger record. The only mutations are the
// PENDING -> SUCCESS posting of a funding stub and PENDING -> FAILED.
type Transaction struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"account_id"`
	Kind          TxKind          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reference     string          `json:"reference"`
	Status        TxStatus        `json:"status"`
	Purpose       string          `json:"purpose"`
	InitiatedAt   time.Time       `json:"initiated_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (t Transaction) Posted() bool { return t.Status == StatusSuccess }

// Caller scopes History.
type Caller struct {
	AccountID int64
	Role      string
}

// Posting is one balance mutation handed to the Store.
type Posting struct {
	AccountID int64
	Amount    decimal.Decimal
	Purpose   string
	Reference string
	// Clock is read by the store once the account is locked.
	Clock func() time.Time
}

// stamp reads the posting time. The result is truncated to the microsecond
// Postgres keeps and is strictly after last, so an account's posted rows
// sort in the order they were applied.
func (p Posting) stamp(last time.Time) time.Time {
	at := time.Now().UTC()
	if p.Clock != nil {
		at = p.Clock()
	}
	at = at.Truncate(time.Microsecond)
	if !at.After(last) {
		at = last.Add(time.Microsecond)
	}
	return at
}

// Round2 rounds half away from zero to 2 decimal places.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// normalizeAmount rounds to 2 dp and rejects non-positive results.
func normalizeAmount(d decimal.Decimal) (decimal.Decimal, error) {
	d = Round2(d)
	if !d.IsPositive() {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}
