package repository

import (
	"context"

	"vpn-subscription-shop/internal/domain/model"
)

// ContractRepository persists Payman direct-debit contracts.
type ContractRepository interface {
	Save(ctx context.Context, tx Tx, c *model.ZarinpalContract) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.ZarinpalContract, error)
	FindByPaymanAuthority(ctx context.Context, tx Tx, authority string) (*model.ZarinpalContract, error)
	FindActiveByMobile(ctx context.Context, tx Tx, mobile string) (*model.ZarinpalContract, error)
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.ContractStatus, signature *string) error
}
