// File: internal/infra/adapters/panel/audit.go
package panel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
)

var _ adapter.PanelClient = (*AuditedClient)(nil)

// AuditedClient wraps a PanelClient and appends every CreateUser attempt to
// the creation-log table. A failed log insert is reported on the logger and
// otherwise swallowed: logging can never change the primary result.
type AuditedClient struct {
	inner adapter.PanelClient
	logs  repository.UserCreationLogRepository
	log   *zerolog.Logger
}

func NewAuditedClient(inner adapter.PanelClient, logs repository.UserCreationLogRepository, logger *zerolog.Logger) *AuditedClient {
	return &AuditedClient{inner: inner, logs: logs, log: logger}
}

func (a *AuditedClient) Type() model.PanelType { return a.inner.Type() }

func (a *AuditedClient) CreateUser(ctx context.Context, panel *model.PanelServer, req adapter.CreateUserRequest) (*adapter.PanelUser, error) {
	user, err := a.inner.CreateUser(ctx, panel, req)

	entry := &model.UserCreationLog{
		ID:        uuid.NewString(),
		PanelID:   panel.ID,
		Username:  req.Username,
		Success:   err == nil,
		CreatedAt: time.Now(),
	}
	if b, mErr := json.Marshal(req); mErr == nil {
		entry.RequestBody = string(b)
	}
	if user != nil {
		if b, mErr := json.Marshal(user); mErr == nil {
			entry.ResponseBody = string(b)
		}
	}
	if err != nil {
		msg := err.Error()
		entry.ErrorMessage = &msg
	}
	if logErr := a.logs.Save(ctx, nil, entry); logErr != nil {
		a.log.Error().Err(logErr).Str("panel", panel.ID).Str("username", req.Username).Msg("user creation log write failed")
	}
	return user, err
}

func (a *AuditedClient) GetUser(ctx context.Context, panel *model.PanelServer, username string) (*adapter.PanelUser, error) {
	return a.inner.GetUser(ctx, panel, username)
}
