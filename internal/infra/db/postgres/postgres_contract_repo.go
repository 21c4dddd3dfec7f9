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

var _ repository.ContractRepository = (*contractRepo)(nil)

type contractRepo struct{ pool *pgxpool.Pool }

func NewContractRepo(pool *pgxpool.Pool) *contractRepo {
	return &contractRepo{pool: pool}
}

const contractColumns = `id, mobile, payman_authority, signature, max_daily_count, max_monthly_count, max_amount_rial, expire_at, status, created_at, updated_at`

func (r *contractRepo) Save(ctx context.Context, tx repository.Tx, c *model.ZarinpalContract) error {
	const q = `
INSERT INTO zarinpal_contracts (` + contractColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  mobile=$2, payman_authority=$3, signature=$4, max_daily_count=$5, max_monthly_count=$6,
  max_amount_rial=$7, expire_at=$8, status=$9, updated_at=NOW();`
	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.Mobile, c.PaymanAuthority, c.Signature, c.MaxDailyCount, c.MaxMonthlyCount, c.MaxAmountRial, c.ExpireAt, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func scanContract(row pgx.Row) (*model.ZarinpalContract, error) {
	c := &model.ZarinpalContract{}
	if err := row.Scan(&c.ID, &c.Mobile, &c.PaymanAuthority, &c.Signature, &c.MaxDailyCount, &c.MaxMonthlyCount, &c.MaxAmountRial, &c.ExpireAt, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return c, nil
}

func (r *contractRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ZarinpalContract, error) {
	const q = `SELECT ` + contractColumns + ` FROM zarinpal_contracts WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanContract(row)
}

func (r *contractRepo) FindByPaymanAuthority(ctx context.Context, tx repository.Tx, authority string) (*model.ZarinpalContract, error) {
	const q = `SELECT ` + contractColumns + ` FROM zarinpal_contracts WHERE payman_authority=$1 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, authority)
	if err != nil {
		return nil, err
	}
	return scanContract(row)
}

func (r *contractRepo) FindActiveByMobile(ctx context.Context, tx repository.Tx, mobile string) (*model.ZarinpalContract, error) {
	const q = `SELECT ` + contractColumns + ` FROM zarinpal_contracts WHERE mobile=$1 AND status='active' AND expire_at > NOW() ORDER BY created_at DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, mobile)
	if err != nil {
		return nil, err
	}
	return scanContract(row)
}

func (r *contractRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.ContractStatus, signature *string) error {
	const q = `UPDATE zarinpal_contracts SET status=$2, signature=COALESCE($3, signature), updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, status, signature)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
