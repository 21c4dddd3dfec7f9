package model

import (
	"time"

	"vpn-subscription-shop/internal/domain"
)

type SubscriptionStatus string

const (
	StatusPending           SubscriptionStatus = "pending"
	StatusPendingManual     SubscriptionStatus = "pending_manual_verification"
	StatusPendingActivation SubscriptionStatus = "pending_activation"
	StatusPaid              SubscriptionStatus = "paid"
	StatusActive            SubscriptionStatus = "active"
	StatusFailed            SubscriptionStatus = "failed"
	StatusRejected          SubscriptionStatus = "rejected"
	StatusCancelled         SubscriptionStatus = "cancelled"
	StatusExpired           SubscriptionStatus = "expired"
)

type AdminDecision string

const (
	DecisionPending  AdminDecision = "pending"
	DecisionApproved AdminDecision = "approved"
	DecisionRejected AdminDecision = "rejected"
)

// legalTransitions is the closed transition table for subscription statuses.
// Terminal states (rejected, cancelled, expired) have no outgoing edges;
// failed may be pushed back into pending_activation by support for a retry,
// or re-opened to paid when a late verification proves the money was taken.
var legalTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	StatusPending:           {StatusPendingManual, StatusPaid, StatusActive, StatusFailed, StatusCancelled},
	StatusPendingManual:     {StatusActive, StatusPendingActivation, StatusRejected, StatusCancelled},
	StatusPaid:              {StatusActive, StatusPendingActivation, StatusFailed},
	StatusPendingActivation: {StatusActive, StatusFailed, StatusCancelled},
	StatusFailed:            {StatusPaid, StatusPendingActivation},
	StatusActive:            {StatusExpired, StatusCancelled},
}

// CanTransition reports whether moving a subscription from -> to is legal.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, t := range legalTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further workflow transitions are expected.
func (s SubscriptionStatus) IsTerminal() bool {
	return len(legalTransitions[s]) == 0
}

// Subscription is the central order record. All workflow state lives here.
type Subscription struct {
	ID       string // UUID
	Username string // VPN account username
	Mobile   string
	Email    *string

	PlanID       *string
	DataLimitGB  int
	DurationDays int
	PriceToman   int64
	Protocol     *string
	Notes        *string

	Status             SubscriptionStatus
	AdminDecision      *AdminDecision
	AdminDecisionToken *string // one-time approve/reject token (ULID)
	AdminDecidedAt     *time.Time

	// Provider references
	ZarinpalAuthority *string
	ZarinpalRefID     *string
	ReceiptImageURL   *string // manual payment proof
	ProviderPaymentID *string // nowpayments/stripe reference

	// Provisioning output
	SubscriptionURL  *string
	PanelUserCreated bool
	ExpireAt         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSubscription creates a pending order for the given plan terms.
func NewSubscription(id, username, mobile string, plan *SubscriptionPlan) (*Subscription, error) {
	if id == "" || username == "" || plan == nil {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	planID := plan.ID
	return &Subscription{
		ID:           id,
		Username:     username,
		Mobile:       mobile,
		PlanID:       &planID,
		DataLimitGB:  plan.DataLimitGB,
		DurationDays: plan.DurationDays,
		PriceToman:   plan.PriceToman,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsFree reports whether the order bypasses payment gateways entirely.
func (s *Subscription) IsFree() bool { return s.PriceToman == 0 }

// AmountRial converts the Toman price to the Rial amount ZarinPal expects.
func (s *Subscription) AmountRial() int64 { return s.PriceToman * 10 }
