package wallet

import (
	"context"
	"time"
)

// Store is the durable ledger. Each mutating call is atomic: the transaction
// row and the cached account balance commit together or not at all.
type Store interface {
	CreateAccount(ctx context.Context, a Account) (Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	SetActive(ctx context.Context, id int64, active bool) error

	// PostCredit applies a FUNDING posting keyed by p.Reference.
	// An existing SUCCESS row for the same account and amount is returned with
	// posted=false. A matching PENDING stub is posted in place. A FAILED
	// stub yields ErrInvalidStateTransition.
	PostCredit(ctx context.Context, p Posting) (tx Transaction, posted bool, err error)
	// PostDebit fails with ErrInsufficientFunds when the locked balance is short.
	PostDebit(ctx context.Context, p Posting) (Transaction, error)

	// InsertPending records a FUNDING stub with zero snapshots.
	InsertPending(ctx context.Context, p Posting) (Transaction, error)
	FailPending(ctx context.Context, reference string, at time.Time) (Transaction, error)

	FindByReference(ctx context.Context, reference string) (Transaction, error)
	// ListByAccount and ListAll order newest first by CreatedAt, ties by ascending ID.
	ListByAccount(ctx context.Context, accountID int64) ([]Transaction, error)
	ListAll(ctx context.Context) ([]Transaction, error)
}

// matchesStub reports whether a PENDING stub belongs to posting p.
func matchesStub(t Transaction, p Posting) bool {
	return t.AccountID == p.AccountID && t.Kind == TxFunding && t.Amount.Equal(p.Amount)
}
