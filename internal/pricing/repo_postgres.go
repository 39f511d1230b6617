package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"glovendor/pkg/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// PostgresRepo stores the catalog in data_plans and offers in
// subvendor_plan_offers. Bulk updates lock the affected offer rows and
// commit in one transaction.
type PostgresRepo struct {
	db utils.DB
}

func NewPostgresRepo(db utils.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const planColumns = `id, name, network, base_price, validity_days, status, updated_at`

const offerColumns = `o.id, o.subvendor_id, o.plan_id, p.name, p.network, o.base_price, o.margin_percent, o.custom_price, o.overridden, o.updated_at`

const offerFrom = ` FROM subvendor_plan_offers o JOIN data_plans p ON p.id = o.plan_id`

func scanPlan(row pgx.Row) (DataPlan, error) {
	var p DataPlan
	err := row.Scan(&p.ID, &p.Name, &p.Network, &p.BasePrice, &p.ValidityDays, &p.Status, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DataPlan{}, ErrPlanNotFound
	}
	return p, err
}

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	err := row.Scan(&o.ID, &o.SubvendorID, &o.PlanID, &o.PlanName, &o.Network, &o.BasePrice,
		&o.MarginPercent, &o.CustomPrice, &o.Overridden, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, ErrOfferNotFound
	}
	return o, err
}

func queryOffers(ctx context.Context, q utils.Querier, sql string, args ...any) ([]Offer, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var out []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func updateOffer(ctx context.Context, q utils.Querier, o Offer) error {
	const stmt = `
UPDATE subvendor_plan_offers
SET base_price = $2, margin_percent = $3, custom_price = $4, overridden = $5, updated_at = $6
WHERE id = $1`
	if _, err := q.Exec(ctx, stmt, o.ID, o.BasePrice, o.MarginPercent, o.CustomPrice, o.Overridden, o.UpdatedAt); err != nil {
		return fmt.Errorf("update offer %d: %w", o.ID, err)
	}
	return nil
}

func (r *PostgresRepo) GetPlan(ctx context.Context, id int64) (DataPlan, error) {
	return scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM data_plans WHERE id = $1`, id))
}

func (r *PostgresRepo) ListPlans(ctx context.Context) ([]DataPlan, error) {
	rows, err := r.db.Query(ctx, `SELECT `+planColumns+` FROM data_plans ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []DataPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetOffer(ctx context.Context, id int64) (Offer, error) {
	return scanOffer(r.db.QueryRow(ctx, `SELECT `+offerColumns+offerFrom+` WHERE o.id = $1`, id))
}

func (r *PostgresRepo) CreateOffer(ctx context.Context, o Offer) (Offer, error) {
	const stmt = `
WITH ins AS (
	INSERT INTO subvendor_plan_offers (subvendor_id, plan_id, base_price, margin_percent, custom_price, overridden, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING *
)
SELECT o.id, o.subvendor_id, o.plan_id, p.name, p.network, o.base_price, o.margin_percent, o.custom_price, o.overridden, o.updated_at
FROM ins o JOIN data_plans p ON p.id = o.plan_id`

	out, err := scanOffer(r.db.QueryRow(ctx, stmt, o.SubvendorID, o.PlanID, o.BasePrice, o.MarginPercent,
		o.CustomPrice, o.Overridden, o.UpdatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return Offer{}, ErrOfferExists
			case "23503":
				return Offer{}, ErrPlanNotFound
			}
		}
		return Offer{}, fmt.Errorf("insert offer: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) ListOffers(ctx context.Context, subvendorID int64) ([]Offer, error) {
	return queryOffers(ctx, r.db, `SELECT `+offerColumns+offerFrom+` WHERE o.subvendor_id = $1 ORDER BY o.id`, subvendorID)
}

func (r *PostgresRepo) ListOffersForPlan(ctx context.Context, planID int64) ([]Offer, error) {
	return queryOffers(ctx, r.db, `SELECT `+offerColumns+offerFrom+` WHERE o.plan_id = $1 ORDER BY o.id`, planID)
}

func (r *PostgresRepo) MutateSubvendorOffers(ctx context.Context, subvendorID int64, fn func([]Offer) ([]Offer, error)) (out []Offer, err error) {
	err = utils.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		current, err := queryOffers(ctx, tx,
			`SELECT `+offerColumns+offerFrom+` WHERE o.subvendor_id = $1 ORDER BY o.id FOR UPDATE OF o`, subvendorID)
		if err != nil {
			return err
		}
		updated, err := fn(current)
		if err != nil {
			return err
		}
		for _, o := range updated {
			if err := updateOffer(ctx, tx, o); err != nil {
				return err
			}
		}
		out = updated
		return nil
	})
	return out, err
}

func (r *PostgresRepo) MutateOffer(ctx context.Context, id int64, fn func(Offer) (Offer, error)) (out Offer, err error) {
	err = utils.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanOffer(tx.QueryRow(ctx, `SELECT `+offerColumns+offerFrom+` WHERE o.id = $1 FOR UPDATE OF o`, id))
		if err != nil {
			return err
		}
		updated, err := fn(current)
		if err != nil {
			return err
		}
		if err := updateOffer(ctx, tx, updated); err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

func (r *PostgresRepo) SetBasePrice(ctx context.Context, planID int64, price decimal.Decimal, at time.Time, fn func(Offer) Offer) (plan DataPlan, offers []Offer, err error) {
	err = utils.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		p, err := scanPlan(tx.QueryRow(ctx,
			`UPDATE data_plans SET base_price = $2, updated_at = $3 WHERE id = $1 RETURNING `+planColumns, planID, price, at))
		if err != nil {
			return err
		}
		plan = p
		current, err := queryOffers(ctx, tx,
			`SELECT `+offerColumns+offerFrom+` WHERE o.plan_id = $1 ORDER BY o.id FOR UPDATE OF o`, planID)
		if err != nil {
			return err
		}
		offers = make([]Offer, 0, len(current))
		for _, o := range current {
			o = fn(o)
			if err := updateOffer(ctx, tx, o); err != nil {
				return err
			}
			offers = append(offers, o)
		}
		return nil
	})
	return plan, offers, err
}
