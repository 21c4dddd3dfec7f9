package adapter

import (
	"context"
	"time"

	"vpn-subscription-shop/internal/domain/model"
)

// CreateUserRequest carries the plan terms to provision on a panel.
type CreateUserRequest struct {
	Username     string
	DataLimitGB  int
	DurationDays int
	Notes        string
	// InboundIDs restricts the protocols enabled for the user; empty means
	// the panel default (template user or full catalog).
	InboundIDs []int
}

// PanelUser is the normalized shape of a provisioned panel account.
type PanelUser struct {
	Username        string
	SubscriptionURL string
	ExpireAt        time.Time
	DataLimitBytes  int64
	UsedBytes       int64
	Status          string
}

// PanelClient is the hex port for VPN panel systems (Marzban, Marzneshin).
// Implementations normalize auth and payload quirks behind this contract
// and classify failures as domain.ErrAuthFailed, domain.ErrProviderUnavailable,
// domain.ErrProviderRejected or domain.ErrConflict (duplicate username).
type PanelClient interface {
	Type() model.PanelType
	CreateUser(ctx context.Context, panel *model.PanelServer, req CreateUserRequest) (*PanelUser, error)
	GetUser(ctx context.Context, panel *model.PanelServer, username string) (*PanelUser, error)
}

// PanelSelector applies the panel selection policy: an explicit panelID is
// binding, otherwise an online panel of the requested type is preferred with
// a warned fallback to any active one.
type PanelSelector interface {
	Resolve(ctx context.Context, panelID string, panelType model.PanelType) (*model.PanelServer, PanelClient, error)
}
