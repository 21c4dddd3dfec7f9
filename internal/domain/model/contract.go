package model

import "time"

type ContractStatus string

const (
	ContractStatusPending   ContractStatus = "pending"   // payman requested, awaiting bank approval
	ContractStatusActive    ContractStatus = "active"    // signature obtained, direct debit allowed
	ContractStatusCancelled ContractStatus = "cancelled"
	ContractStatusFailed    ContractStatus = "failed"
)

// ZarinpalContract is a recurring "Payman" direct-debit contract.
// Contracts live independently of any single subscription.
type ZarinpalContract struct {
	ID              string // UUID
	Mobile          string
	PaymanAuthority string
	Signature       *string // durable debit credential, set after verify
	MaxDailyCount   int
	MaxMonthlyCount int
	MaxAmountRial   int64
	ExpireAt        time.Time
	Status          ContractStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
