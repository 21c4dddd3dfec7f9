package repository

import (
	"context"
	"time"

	"vpn-subscription-shop/internal/domain/model"
)

// SubscriptionRepository is the port for the order record store.
//
// The Mark*/Claim* methods are compare-and-swap updates: each one is a single
// UPDATE guarded by the current status (and token, where relevant) with the
// affected-row count checked, so two racing requests cannot both win.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByZarinpalAuthority(ctx context.Context, tx Tx, authority string) (*model.Subscription, error)
	FindByProviderPaymentID(ctx context.Context, tx Tx, providerPaymentID string) (*model.Subscription, error)

	// ClaimAdminDecision consumes the one-time decision token. Returns
	// domain.ErrTokenConsumed when the decision is no longer pending and
	// domain.ErrNotFound when id/token do not match any row.
	ClaimAdminDecision(ctx context.Context, tx Tx, id, token string, decision model.AdminDecision, decidedAt time.Time) error

	// MarkPaymentConfirmed attaches the provider ref and moves the row to
	// paid. Accepts pending, pending_manual_verification and failed (a late
	// genuine verification re-opens a failed row); anything already confirmed
	// returns domain.ErrConflict (replayed callback).
	MarkPaymentConfirmed(ctx context.Context, tx Tx, id, provider, refID string) error

	// MarkProvisioned writes the provisioning output and status atomically.
	// url must be non-empty; active is never set without it.
	MarkProvisioned(ctx context.Context, tx Tx, id, url string, expireAt time.Time) error

	// MarkProvisionFailed parks a paid-but-unprovisioned row in
	// pending_activation with a failure note, retaining payment proof.
	MarkProvisionFailed(ctx context.Context, tx Tx, id, note string) error

	UpdateStatus(ctx context.Context, tx Tx, id string, status model.SubscriptionStatus) error
	// UpdateStatusFrom moves the row from one status to another in a single
	// guarded UPDATE. Returns domain.ErrConflict when the row is not in the
	// expected status anymore.
	UpdateStatusFrom(ctx context.Context, tx Tx, id string, from, to model.SubscriptionStatus) error
	SetZarinpalAuthority(ctx context.Context, tx Tx, id, authority string) error
	SetProviderPaymentID(ctx context.Context, tx Tx, id, providerPaymentID string) error

	ListByStatus(ctx context.Context, tx Tx, status model.SubscriptionStatus, limit int) ([]*model.Subscription, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Subscription, error)
	ListActiveExpiredBefore(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Subscription, error)
}
