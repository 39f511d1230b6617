package payment

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var attemptCols = []string{"reference", "account_id", "amount", "state", "authorization_url", "gateway_status",
	"failure_reason", "transaction_id", "verify_attempts", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresRepository(mock)
}

func attemptRow(ref string, state State, at time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(attemptCols).
		AddRow(ref, int64(7), d("500"), state, "https://checkout.test/"+ref, "", "", int64(0), 0, at, at)
}

func TestPostgresRepository_CreateDuplicate(t *testing.T) {
	mock, repo := newMockRepo(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	args := make([]any, 10)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO funding_attempts")).WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), Attempt{Reference: "GLO-1", AccountID: 7, Amount: d("500"), State: StateInitiated, CreatedAt: at, UpdatedAt: at})
	assert.ErrorIs(t, err, ErrDuplicateAttempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpdateAppliesWhenStateMatches(t *testing.T) {
	mock, repo := newMockRepo(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE reference = $1 AND state = $8")).
		WithArgs("GLO-1", StateSettled, GatewaySuccess, "", int64(42), 1, at, StateInitiated).
		WillReturnRows(attemptRow("GLO-1", StateSettled, at))

	out, err := repo.Update(context.Background(), Attempt{
		Reference: "GLO-1", State: StateSettled, GatewayStatus: GatewaySuccess,
		TransactionID: 42, VerifyAttempts: 1, UpdatedAt: at,
	}, StateInitiated)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, out.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpdateConflict(t *testing.T) {
	mock, repo := newMockRepo(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	args := make([]any, 8)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE reference = $1 AND state = $8")).WithArgs(args...).
		WillReturnRows(pgxmock.NewRows(attemptCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM funding_attempts WHERE reference = $1")).WithArgs("GLO-1").
		WillReturnRows(attemptRow("GLO-1", StateSettled, at))

	_, err := repo.Update(context.Background(), Attempt{Reference: "GLO-1", State: StateFailed, UpdatedAt: at}, StateInitiated)
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListOpenBefore(t *testing.T) {
	mock, repo := newMockRepo(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(attemptCols).
		AddRow("GLO-1", int64(7), d("500"), StateInitiated, "u1", "", "", int64(0), 0, at, at).
		AddRow("GLO-2", int64(7), d("300"), StatePendingVerification, "u2", "ongoing", "", int64(0), 2, at.Add(time.Minute), at)
	mock.ExpectQuery(regexp.QuoteMeta("state IN ('INITIATED', 'PENDING_VERIFICATION') AND created_at < $1")).
		WithArgs(at.Add(time.Hour)).
		WillReturnRows(rows)

	out, err := repo.ListOpenBefore(context.Background(), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "GLO-2", out[1].Reference)
	assert.Equal(t, 2, out[1].VerifyAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
