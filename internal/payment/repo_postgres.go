package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"glovendor/pkg/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresRepository struct {
	db utils.Querier
}

func NewPostgresRepository(db utils.Querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const attemptColumns = `reference, account_id, amount, state, authorization_url, gateway_status, failure_reason, COALESCE(transaction_id, 0), verify_attempts, created_at, updated_at`

func scanAttempt(row pgx.Row) (Attempt, error) {
	var a Attempt
	err := row.Scan(&a.Reference, &a.AccountID, &a.Amount, &a.State, &a.AuthorizationURL, &a.GatewayStatus,
		&a.FailureReason, &a.TransactionID, &a.VerifyAttempts, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, err
}

func (r *PostgresRepository) Create(ctx context.Context, a Attempt) error {
	const q = `
INSERT INTO funding_attempts (reference, account_id, amount, state, authorization_url, gateway_status, failure_reason, verify_attempts, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, q, a.Reference, a.AccountID, a.Amount, a.State, a.AuthorizationURL,
		a.GatewayStatus, a.FailureReason, a.VerifyAttempts, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAttempt
		}
		return fmt.Errorf("insert funding attempt: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, reference string) (Attempt, error) {
	return scanAttempt(r.db.QueryRow(ctx, `SELECT `+attemptColumns+` FROM funding_attempts WHERE reference = $1`, reference))
}

func (r *PostgresRepository) Update(ctx context.Context, a Attempt, expect State) (Attempt, error) {
	const q = `
UPDATE funding_attempts
SET state = $2, gateway_status = $3, failure_reason = $4, transaction_id = NULLIF($5, 0), verify_attempts = $6, updated_at = $7
WHERE reference = $1 AND state = $8
RETURNING ` + attemptColumns

	out, err := scanAttempt(r.db.QueryRow(ctx, q, a.Reference, a.State, a.GatewayStatus, a.FailureReason,
		a.TransactionID, a.VerifyAttempts, a.UpdatedAt, expect))
	if errors.Is(err, ErrAttemptNotFound) {
		// Either the row is gone or another writer moved it on.
		if _, getErr := r.Get(ctx, a.Reference); getErr != nil {
			return Attempt{}, getErr
		}
		return Attempt{}, ErrStateConflict
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("update funding attempt: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListOpenBefore(ctx context.Context, cutoff time.Time) ([]Attempt, error) {
	const q = `
SELECT ` + attemptColumns + `
FROM funding_attempts
WHERE state IN ('INITIATED', 'PENDING_VERIFICATION') AND created_at < $1
ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list open attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
