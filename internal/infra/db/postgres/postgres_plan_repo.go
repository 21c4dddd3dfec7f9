package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/repository"
)

var _ repository.PlanRepository = (*planRepo)(nil)

type planRepo struct{ pool *pgxpool.Pool }

func NewPlanRepo(pool *pgxpool.Pool) *planRepo {
	return &planRepo{pool: pool}
}

func (r *planRepo) Save(ctx context.Context, tx repository.Tx, p *model.SubscriptionPlan) error {
	const q = `
INSERT INTO subscription_plans (id, name, description, data_limit_gb, duration_days, price_toman, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  name=$2, description=$3, data_limit_gb=$4, duration_days=$5, price_toman=$6, is_active=$7, updated_at=NOW();`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Name, p.Description, p.DataLimitGB, p.DurationDays, p.PriceToman, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func scanPlan(row pgx.Row) (*model.SubscriptionPlan, error) {
	p := &model.SubscriptionPlan{}
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.DataLimitGB, &p.DurationDays, &p.PriceToman, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *planRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	const q = `SELECT id, name, description, data_limit_gb, duration_days, price_toman, is_active, created_at, updated_at FROM subscription_plans WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPlan(row)
}

func (r *planRepo) FindWithPanels(ctx context.Context, tx repository.Tx, id string) (*model.PlanWithPanels, error) {
	plan, err := r.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	const q = `SELECT id, plan_id, panel_id, is_primary, inbound_ids FROM plan_panel_mappings WHERE plan_id=$1 ORDER BY is_primary DESC;`
	rows, err := pickRows(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := &model.PlanWithPanels{Plan: *plan}
	for rows.Next() {
		var m model.PlanPanelMapping
		if err := rows.Scan(&m.ID, &m.PlanID, &m.PanelID, &m.IsPrimary, &m.InboundIDs); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out.Mappings = append(out.Mappings, m)
	}
	return out, rows.Err()
}

func (r *planRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	const q = `SELECT id, name, description, data_limit_gb, duration_days, price_toman, is_active, created_at, updated_at FROM subscription_plans WHERE is_active ORDER BY price_toman ASC;`
	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.SubscriptionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *planRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE subscription_plans SET is_active=FALSE, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
