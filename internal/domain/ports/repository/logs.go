package repository

import (
	"context"

	"vpn-subscription-shop/internal/domain/model"
)

// Audit log repositories. Implementations must be safe to call on a
// best-effort basis: a failed insert is reported but callers ignore it so
// logging can never change a workflow outcome.

type UserCreationLogRepository interface {
	Save(ctx context.Context, tx Tx, l *model.UserCreationLog) error
	ListRecent(ctx context.Context, tx Tx, limit int) ([]*model.UserCreationLog, error)
}

type WebhookLogRepository interface {
	Save(ctx context.Context, tx Tx, l *model.WebhookLog) error
	ListRecent(ctx context.Context, tx Tx, limit int) ([]*model.WebhookLog, error)
}

type EmailNotificationRepository interface {
	Save(ctx context.Context, tx Tx, l *model.EmailNotification) error
	ListRecent(ctx context.Context, tx Tx, limit int) ([]*model.EmailNotification, error)
}
