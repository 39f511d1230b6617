package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"glovendor/pkg/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// PostgresStore persists the ledger in the accounts and wallet_transactions
// tables. Every posting locks the account row with SELECT ... FOR UPDATE and
// relies on the UNIQUE (reference) constraint for idempotency.
type PostgresStore struct {
	db utils.DB
}

func NewPostgresStore(db utils.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, kind, email, COALESCE(supplier_id, 0), balance, active, created_at`

const txColumns = `id, account_id, kind, amount, balance_before, balance_after, reference, status, purpose, initiated_at, created_at`

const pgUniqueViolation = "23505"

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Kind, &a.Email, &a.SupplierID, &a.Balance, &a.Active, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func scanTx(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
		&t.Reference, &t.Status, &t.Purpose, &t.InitiatedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a Account) (Account, error) {
	const q = `
INSERT INTO accounts (kind, email, supplier_id, balance, active, created_at)
VALUES ($1, $2, NULLIF($3, 0), 0, $4, $5)
RETURNING ` + accountColumns

	out, err := scanAccount(s.db.QueryRow(ctx, q, a.Kind, a.Email, a.SupplierID, a.Active, a.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Account{}, fmt.Errorf("email %q: %w", a.Email, ErrInvalidArgument)
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (s *PostgresStore) AccountByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = $1`, strings.ToLower(email)))
}

func (s *PostgresStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE accounts SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func lockAccount(ctx context.Context, q utils.Querier, id int64) (Account, error) {
	return scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

func lockReference(ctx context.Context, q utils.Querier, ref string) (Transaction, bool, error) {
	t, err := scanTx(q.QueryRow(ctx, `SELECT `+txColumns+` FROM wallet_transactions WHERE reference = $1 FOR UPDATE`, ref))
	if errors.Is(err, ErrTransactionNotFound) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return t, true, nil
}

// afterLastPosted keeps created_at strictly after the account's newest posted
// row even when application clocks disagree. $1 is the account id in both
// statements that use it.
const afterLastPosted = `(SELECT max(p.created_at) + interval '1 microsecond'
        FROM wallet_transactions p WHERE p.account_id = $1 AND p.status = 'SUCCESS')`

// insertTx returns found=false when the reference already exists. Callers
// hold the account lock.
func insertTx(ctx context.Context, q utils.Querier, t Transaction) (Transaction, bool, error) {
	const stmt = `
INSERT INTO wallet_transactions (account_id, kind, amount, balance_before, balance_after, reference, status, purpose, initiated_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, GREATEST($10, ` + afterLastPosted + `))
ON CONFLICT (reference) DO NOTHING
RETURNING ` + txColumns

	out, err := scanTx(q.QueryRow(ctx, stmt, t.AccountID, t.Kind, t.Amount, t.BalanceBefore, t.BalanceAfter,
		t.Reference, t.Status, t.Purpose, t.InitiatedAt, t.CreatedAt))
	if errors.Is(err, ErrTransactionNotFound) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, fmt.Errorf("insert transaction: %w", err)
	}
	return out, true, nil
}

func setBalance(ctx context.Context, q utils.Querier, id int64, balance decimal.Decimal) error {
	if _, err := q.Exec(ctx, `UPDATE accounts SET balance = $2 WHERE id = $1`, id, balance); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func (s *PostgresStore) PostCredit(ctx context.Context, p Posting) (out Transaction, posted bool, err error) {
	err = utils.WithTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		a, err := lockAccount(ctx, tx, p.AccountID)
		if err != nil {
			return err
		}

		// A second pass covers a concurrent insert of the same reference on
		// another account: ON CONFLICT waits for it, then the row is visible.
		for attempt := 0; attempt < 2; attempt++ {
			existing, found, err := lockReference(ctx, tx, p.Reference)
			if err != nil {
				return err
			}
			if found {
				switch {
				case !matchesStub(existing, p):
					return fmt.Errorf("reference %q bound to another posting: %w", p.Reference, ErrDuplicateReference)
				case existing.Status == StatusSuccess:
					out = existing
					return nil
				case existing.Status == StatusFailed:
					return fmt.Errorf("reference %q: %w", p.Reference, ErrInvalidStateTransition)
				}
				out, err = postStub(ctx, tx, a.ID, existing.ID, a.Balance, a.Balance.Add(p.Amount), p.stamp(time.Time{}))
				if err != nil {
					return err
				}
				posted = true
				return setBalance(ctx, tx, a.ID, out.BalanceAfter)
			}

			at := p.stamp(time.Time{})
			inserted, ok, err := insertTx(ctx, tx, Transaction{
				AccountID:     a.ID,
				Kind:          TxFunding,
				Amount:        p.Amount,
				BalanceBefore: a.Balance,
				BalanceAfter:  a.Balance.Add(p.Amount),
				Reference:     p.Reference,
				Status:        StatusSuccess,
				Purpose:       p.Purpose,
				InitiatedAt:   at,
				CreatedAt:     at,
			})
			if err != nil {
				return err
			}
			if ok {
				out, posted = inserted, true
				return setBalance(ctx, tx, a.ID, inserted.BalanceAfter)
			}
		}
		return ErrDuplicateReference
	})
	return out, posted, err
}

func postStub(ctx context.Context, q utils.Querier, accountID, id int64, before, after decimal.Decimal, at time.Time) (Transaction, error) {
	const stmt = `
UPDATE wallet_transactions
SET balance_before = $3, balance_after = $4, status = 'SUCCESS', created_at = GREATEST($5, ` + afterLastPosted + `)
WHERE id = $2 AND account_id = $1 AND status = 'PENDING'
RETURNING ` + txColumns
	t, err := scanTx(q.QueryRow(ctx, stmt, accountID, id, before, after, at))
	if errors.Is(err, ErrTransactionNotFound) {
		return Transaction{}, ErrInvalidStateTransition
	}
	return t, err
}

func (s *PostgresStore) PostDebit(ctx context.Context, p Posting) (out Transaction, err error) {
	err = utils.WithTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		a, err := lockAccount(ctx, tx, p.AccountID)
		if err != nil {
			return err
		}
		if a.Balance.LessThan(p.Amount) {
			return ErrInsufficientFunds
		}

		at := p.stamp(time.Time{})
		inserted, ok, err := insertTx(ctx, tx, Transaction{
			AccountID:     a.ID,
			Kind:          TxDebit,
			Amount:        p.Amount,
			BalanceBefore: a.Balance,
			BalanceAfter:  a.Balance.Sub(p.Amount),
			Reference:     p.Reference,
			Status:        StatusSuccess,
			Purpose:       p.Purpose,
			InitiatedAt:   at,
			CreatedAt:     at,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrDuplicateReference
		}
		out = inserted
		return setBalance(ctx, tx, a.ID, inserted.BalanceAfter)
	})
	return out, err
}

func (s *PostgresStore) InsertPending(ctx context.Context, p Posting) (out Transaction, err error) {
	err = utils.WithTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := lockAccount(ctx, tx, p.AccountID); err != nil {
			return err
		}
		at := p.stamp(time.Time{})
		inserted, ok, err := insertTx(ctx, tx, Transaction{
			AccountID:     p.AccountID,
			Kind:          TxFunding,
			Amount:        p.Amount,
			BalanceBefore: decimal.Zero,
			BalanceAfter:  decimal.Zero,
			Reference:     p.Reference,
			Status:        StatusPending,
			Purpose:       p.Purpose,
			InitiatedAt:   at,
			CreatedAt:     at,
		})
		if err != nil {
			return err
		}
		if ok {
			out = inserted
			return nil
		}
		existing, found, err := lockReference(ctx, tx, p.Reference)
		if err != nil {
			return err
		}
		if found && existing.Status == StatusPending && matchesStub(existing, p) {
			out = existing
			return nil
		}
		return ErrDuplicateReference
	})
	return out, err
}

func (s *PostgresStore) FailPending(ctx context.Context, reference string, at time.Time) (out Transaction, err error) {
	err = utils.WithTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		existing, found, err := lockReference(ctx, tx, reference)
		if err != nil {
			return err
		}
		if !found {
			return ErrTransactionNotFound
		}
		switch existing.Status {
		case StatusFailed:
			out = existing
			return nil
		case StatusSuccess:
			return fmt.Errorf("reference %q already posted: %w", reference, ErrInvalidStateTransition)
		}
		out, err = scanTx(tx.QueryRow(ctx,
			`UPDATE wallet_transactions SET status = 'FAILED' WHERE id = $1 RETURNING `+txColumns, existing.ID))
		return err
	})
	return out, err
}

func (s *PostgresStore) FindByReference(ctx context.Context, reference string) (Transaction, error) {
	return scanTx(s.db.QueryRow(ctx, `SELECT `+txColumns+` FROM wallet_transactions WHERE reference = $1`, reference))
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID int64) ([]Transaction, error) {
	return s.list(ctx, `SELECT `+txColumns+` FROM wallet_transactions WHERE account_id = $1 ORDER BY created_at DESC, id ASC`, accountID)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]Transaction, error) {
	return s.list(ctx, `SELECT `+txColumns+` FROM wallet_transactions ORDER BY created_at DESC, id ASC`)
}

func (s *PostgresStore) list(ctx context.Context, q string, args ...any) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
