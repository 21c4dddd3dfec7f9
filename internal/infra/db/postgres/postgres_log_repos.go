package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/repository"
)

// Audit log repos. These are append-mostly; ListRecent feeds the admin
// debug panel.

var (
	_ repository.UserCreationLogRepository   = (*userCreationLogRepo)(nil)
	_ repository.WebhookLogRepository        = (*webhookLogRepo)(nil)
	_ repository.EmailNotificationRepository = (*emailNotificationRepo)(nil)
)

type userCreationLogRepo struct{ pool *pgxpool.Pool }

func NewUserCreationLogRepo(pool *pgxpool.Pool) *userCreationLogRepo {
	return &userCreationLogRepo{pool: pool}
}

func (r *userCreationLogRepo) Save(ctx context.Context, tx repository.Tx, l *model.UserCreationLog) error {
	const q = `
INSERT INTO user_creation_logs (id, panel_id, subscription_id, username, request_body, response_body, success, error_message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	_, err := execSQL(ctx, r.pool, tx, q, l.ID, l.PanelID, l.SubscriptionID, l.Username, l.RequestBody, l.ResponseBody, l.Success, l.ErrorMessage, l.CreatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *userCreationLogRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.UserCreationLog, error) {
	q := `SELECT id, panel_id, subscription_id, username, request_body, response_body, success, error_message, created_at FROM user_creation_logs ORDER BY created_at DESC LIMIT ` + limitClause(limit) + `;`
	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.UserCreationLog
	for rows.Next() {
		l := &model.UserCreationLog{}
		if err := rows.Scan(&l.ID, &l.PanelID, &l.SubscriptionID, &l.Username, &l.RequestBody, &l.ResponseBody, &l.Success, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type webhookLogRepo struct{ pool *pgxpool.Pool }

func NewWebhookLogRepo(pool *pgxpool.Pool) *webhookLogRepo {
	return &webhookLogRepo{pool: pool}
}

func (r *webhookLogRepo) Save(ctx context.Context, tx repository.Tx, l *model.WebhookLog) error {
	const q = `
INSERT INTO webhook_logs (id, url, event_type, payload, status_code, response_body, error_message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err := execSQL(ctx, r.pool, tx, q, l.ID, l.URL, l.EventType, l.Payload, l.StatusCode, l.ResponseBody, l.ErrorMessage, l.CreatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *webhookLogRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.WebhookLog, error) {
	q := `SELECT id, url, event_type, payload, status_code, response_body, error_message, created_at FROM webhook_logs ORDER BY created_at DESC LIMIT ` + limitClause(limit) + `;`
	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.WebhookLog
	for rows.Next() {
		l := &model.WebhookLog{}
		if err := rows.Scan(&l.ID, &l.URL, &l.EventType, &l.Payload, &l.StatusCode, &l.ResponseBody, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type emailNotificationRepo struct{ pool *pgxpool.Pool }

func NewEmailNotificationRepo(pool *pgxpool.Pool) *emailNotificationRepo {
	return &emailNotificationRepo{pool: pool}
}

func (r *emailNotificationRepo) Save(ctx context.Context, tx repository.Tx, l *model.EmailNotification) error {
	const q = `
INSERT INTO email_notifications (id, recipient, subject, event_type, success, error_message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7);`
	_, err := execSQL(ctx, r.pool, tx, q, l.ID, l.Recipient, l.Subject, l.EventType, l.Success, l.ErrorMessage, l.CreatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *emailNotificationRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.EmailNotification, error) {
	q := `SELECT id, recipient, subject, event_type, success, error_message, created_at FROM email_notifications ORDER BY created_at DESC LIMIT ` + limitClause(limit) + `;`
	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.EmailNotification
	for rows.Next() {
		l := &model.EmailNotification{}
		if err := rows.Scan(&l.ID, &l.Recipient, &l.Subject, &l.EventType, &l.Success, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
