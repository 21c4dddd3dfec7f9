package repository

import (
	"context"

	"vpn-subscription-shop/internal/domain/model"
)

// PanelRepository is the port for panel server records.
type PanelRepository interface {
	Save(ctx context.Context, tx Tx, p *model.PanelServer) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PanelServer, error)
	ListByType(ctx context.Context, tx Tx, t model.PanelType) ([]*model.PanelServer, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.PanelServer, error)
	UpdateHealth(ctx context.Context, tx Tx, id string, health model.PanelHealth) error
}
