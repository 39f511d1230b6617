package wallet

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	accountCols = []string{"id", "kind", "email", "supplier_id", "balance", "active", "created_at"}
	txCols      = []string{"id", "account_id", "kind", "amount", "balance_before", "balance_after", "reference", "status", "purpose", "initiated_at", "created_at"}
	t0          = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

func q(s string) string { return regexp.QuoteMeta(s) }

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresStore(mock)
}

func accountRow(id int64, balance string) *pgxmock.Rows {
	return pgxmock.NewRows(accountCols).AddRow(id, KindCustomer, "c@glo.test", int64(0), d(balance), true, t0)
}

func TestPostgresStore_PostCreditInsertsNew(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM accounts WHERE id = $1 FOR UPDATE")).WithArgs(int64(1)).
		WillReturnRows(accountRow(1, "40.00"))
	mock.ExpectQuery(q("FROM wallet_transactions WHERE reference = $1 FOR UPDATE")).WithArgs("PSK-1").
		WillReturnRows(pgxmock.NewRows(txCols))
	mock.ExpectQuery(q("GREATEST($10, (SELECT max(p.created_at) + interval '1 microsecond'")).WithArgs(anyArgs(10)...).
		WillReturnRows(pgxmock.NewRows(txCols).AddRow(int64(10), int64(1), TxFunding, d("60"), d("40"), d("100"), "PSK-1", StatusSuccess, "wallet funding", t0, t0))
	mock.ExpectExec(q("UPDATE accounts SET balance = $2 WHERE id = $1")).WithArgs(int64(1), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	tx, posted, err := store.PostCredit(context.Background(), Posting{AccountID: 1, Amount: d("60"), Purpose: "wallet funding", Reference: "PSK-1", Clock: fixedClock(t0)})
	require.NoError(t, err)
	assert.True(t, posted)
	assert.Equal(t, int64(10), tx.ID)
	assert.Equal(t, "100.00", tx.BalanceAfter.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PostCreditReplaysSuccess(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WithArgs(int64(1)).WillReturnRows(accountRow(1, "100.00"))
	mock.ExpectQuery(q("WHERE reference = $1 FOR UPDATE")).WithArgs("PSK-1").
		WillReturnRows(pgxmock.NewRows(txCols).AddRow(int64(10), int64(1), TxFunding, d("60"), d("40"), d("100"), "PSK-1", StatusSuccess, "wallet funding", t0, t0))
	mock.ExpectCommit()

	tx, posted, err := store.PostCredit(context.Background(), Posting{AccountID: 1, Amount: d("60"), Reference: "PSK-1", Clock: fixedClock(t0)})
	require.NoError(t, err)
	assert.False(t, posted)
	assert.Equal(t, int64(10), tx.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PostCreditPostsStub(t *testing.T) {
	mock, store := newMockStore(t)
	later := t0.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WithArgs(int64(1)).WillReturnRows(accountRow(1, "25.00"))
	mock.ExpectQuery(q("WHERE reference = $1 FOR UPDATE")).WithArgs("PSK-2").
		WillReturnRows(pgxmock.NewRows(txCols).AddRow(int64(7), int64(1), TxFunding, d("100"), d("0"), d("0"), "PSK-2", StatusPending, "wallet funding", t0, t0))
	mock.ExpectQuery(q("SET balance_before = $3, balance_after = $4, status = 'SUCCESS', created_at = GREATEST($5,")).
		WithArgs(int64(1), int64(7), pgxmock.AnyArg(), pgxmock.AnyArg(), later).
		WillReturnRows(pgxmock.NewRows(txCols).AddRow(int64(7), int64(1), TxFunding, d("100"), d("25"), d("125"), "PSK-2", StatusSuccess, "wallet funding", t0, later))
	mock.ExpectExec(q("UPDATE accounts SET balance")).WithArgs(int64(1), pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	tx, posted, err := store.PostCredit(context.Background(), Posting{AccountID: 1, Amount: d("100"), Reference: "PSK-2", Clock: fixedClock(later)})
	require.NoError(t, err)
	assert.True(t, posted)
	assert.Equal(t, later, tx.CreatedAt)
	assert.Equal(t, t0, tx.InitiatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PostCreditFailedStub(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WithArgs(int64(1)).WillReturnRows(accountRow(1, "0"))
	mock.ExpectQuery(q("WHERE reference = $1 FOR UPDATE")).WithArgs("PSK-3").
		WillReturnRows(pgxmock.NewRows(txCols).AddRow(int64(7), int64(1), TxFunding, d("100"), d("0"), d("0"), "PSK-3", StatusFailed, "wallet funding", t0, t0))
	mock.ExpectRollback()

	_, _, err := store.PostCredit(context.Background(), Posting{AccountID: 1, Amount: d("100"), Reference: "PSK-3", Clock: fixedClock(t0)})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PostDebitInsufficientRollsBack(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM accounts WHERE id = $1 FOR UPDATE")).WithArgs(int64(1)).WillReturnRows(accountRow(1, "5.00"))
	mock.ExpectRollback()

	_, err := store.PostDebit(context.Background(), Posting{AccountID: 1, Amount: d("10"), Reference: "DBT-x", Clock: fixedClock(t0)})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PostDebitUnknownAccount(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM accounts WHERE id = $1 FOR UPDATE")).WithArgs(int64(9)).WillReturnRows(pgxmock.NewRows(accountCols))
	mock.ExpectRollback()

	_, err := store.PostDebit(context.Background(), Posting{AccountID: 9, Amount: d("10"), Reference: "DBT-y", Clock: fixedClock(t0)})
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailPending(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("WHERE reference = $1 FOR UPDATE")).WithArgs("PSK-4").
		WillReturnRows(pgxmock.NewRows(txCols).AddRow(int64(7), int64(1), TxFunding, d("100"), d("0"), d("0"), "PSK-4", StatusPending, "wallet funding", t0, t0))
	mock.ExpectQuery(q("SET status = 'FAILED' WHERE id = $1")).WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(txCols).AddRow(int64(7), int64(1), TxFunding, d("100"), d("0"), d("0"), "PSK-4", StatusFailed, "wallet funding", t0, t0))
	mock.ExpectCommit()

	tx, err := store.FailPending(context.Background(), "PSK-4", t0)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, tx.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByAccountOrdering(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(q("WHERE account_id = $1 ORDER BY created_at DESC, id ASC")).WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(txCols).
			AddRow(int64(2), int64(1), TxDebit, d("10"), d("100"), d("90"), "DBT-a", StatusSuccess, "p", t0, t0.Add(time.Second)).
			AddRow(int64(1), int64(1), TxFunding, d("100"), d("0"), d("100"), "PSK-5", StatusSuccess, "f", t0, t0))

	txs, err := store.ListByAccount(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "DBT-a", txs[0].Reference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetActiveMissing(t *testing.T) {
	mock, store := newMockStore(t)
	mock.ExpectExec(q("UPDATE accounts SET active = $2 WHERE id = $1")).WithArgs(int64(3), false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.ErrorIs(t, store.SetActive(context.Background(), 3, false), ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
