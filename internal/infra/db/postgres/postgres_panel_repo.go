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

var _ repository.PanelRepository = (*panelRepo)(nil)

type panelRepo struct{ pool *pgxpool.Pool }

func NewPanelRepo(pool *pgxpool.Pool) *panelRepo {
	return &panelRepo{pool: pool}
}

const panelColumns = `id, name, type, url, admin_username, admin_password, is_active, health_status, template_username, created_at, updated_at`

func (r *panelRepo) Save(ctx context.Context, tx repository.Tx, p *model.PanelServer) error {
	const q = `
INSERT INTO panel_servers (` + panelColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  name=$2, type=$3, url=$4, admin_username=$5, admin_password=$6, is_active=$7,
  health_status=$8, template_username=$9, updated_at=NOW();`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Name, p.Type, p.URL, p.AdminUsername, p.AdminPassword, p.IsActive, p.HealthStatus, p.TemplateUsername, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func scanPanel(row pgx.Row) (*model.PanelServer, error) {
	p := &model.PanelServer{}
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &p.URL, &p.AdminUsername, &p.AdminPassword, &p.IsActive, &p.HealthStatus, &p.TemplateUsername, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *panelRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PanelServer, error) {
	const q = `SELECT ` + panelColumns + ` FROM panel_servers WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPanel(row)
}

func (r *panelRepo) ListByType(ctx context.Context, tx repository.Tx, t model.PanelType) ([]*model.PanelServer, error) {
	const q = `SELECT ` + panelColumns + ` FROM panel_servers WHERE type=$1 ORDER BY health_status='online' DESC, name;`
	rows, err := pickRows(ctx, r.pool, tx, q, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.PanelServer
	for rows.Next() {
		p, err := scanPanel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *panelRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.PanelServer, error) {
	const q = `SELECT ` + panelColumns + ` FROM panel_servers ORDER BY name;`
	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.PanelServer
	for rows.Next() {
		p, err := scanPanel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *panelRepo) UpdateHealth(ctx context.Context, tx repository.Tx, id string, health model.PanelHealth) error {
	const q = `UPDATE panel_servers SET health_status=$2, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, health)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
