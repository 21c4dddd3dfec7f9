// File: internal/usecase/decision_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/infra/metrics"
)

type DecisionAction string

const (
	ActionApprove DecisionAction = "approve"
	ActionReject  DecisionAction = "reject"
)

// DecisionResult reports what the one-time link did.
type DecisionResult struct {
	Subscription *model.Subscription
	Decision     model.AdminDecision
	// ProvisioningErr is set when the approval stood but panel creation
	// failed; the row is parked in pending_activation for a retry.
	ProvisioningErr error
}

var _ DecisionUseCase = (*decisionUC)(nil)

// DecisionUseCase resolves manual bank-transfer payments through the one-time
// approve/reject links mailed to the admin. The token claim is a single
// compare-and-swap, so a link can never act twice.
type DecisionUseCase interface {
	Decide(ctx context.Context, subscriptionID, token string, action DecisionAction) (*DecisionResult, error)
}

type decisionUC struct {
	subs      repository.SubscriptionRepository
	provision ProvisionUseCase
	notify    NotificationUseCase
	log       *zerolog.Logger
}

func NewDecisionUseCase(
	subs repository.SubscriptionRepository,
	provision ProvisionUseCase,
	notify NotificationUseCase,
	logger *zerolog.Logger,
) *decisionUC {
	return &decisionUC{subs: subs, provision: provision, notify: notify, log: logger}
}

func (u *decisionUC) Decide(ctx context.Context, subscriptionID, token string, action DecisionAction) (*DecisionResult, error) {
	if subscriptionID == "" || token == "" {
		return nil, domain.ErrInvalidArgument
	}

	var decision model.AdminDecision
	switch action {
	case ActionApprove:
		decision = model.DecisionApproved
	case ActionReject:
		decision = model.DecisionRejected
	default:
		return nil, fmt.Errorf("unknown decision action %q: %w", action, domain.ErrInvalidArgument)
	}

	if err := u.subs.ClaimAdminDecision(ctx, nil, subscriptionID, token, decision, time.Now()); err != nil {
		return nil, err
	}
	u.log.Info().Str("subscription_id", subscriptionID).Str("decision", string(decision)).
		Msg("manual payment decided")

	sub, err := u.subs.FindByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}

	if decision == model.DecisionRejected {
		if err := u.subs.UpdateStatus(ctx, nil, sub.ID, model.StatusRejected); err != nil {
			return nil, err
		}
		sub.Status = model.StatusRejected
		metrics.IncTransition(string(model.StatusRejected))
		u.notify.NotifyEvent(ctx, EventSubscriptionRejected, sub)
		return &DecisionResult{Subscription: sub, Decision: decision}, nil
	}

	u.notify.NotifyEvent(ctx, EventSubscriptionApproved, sub)
	sub, pErr := u.provision.Provision(ctx, sub)
	if pErr != nil {
		// The approval stands: payment is accepted even though the panel
		// account is not up yet. Support retries from pending_activation.
		u.log.Error().Str("subscription_id", sub.ID).Err(pErr).Msg("approved but provisioning failed")
		u.notify.NotifyEvent(ctx, EventProvisioningFailed, sub)
		return &DecisionResult{Subscription: sub, Decision: decision, ProvisioningErr: pErr}, nil
	}
	u.notify.NotifyEvent(ctx, EventSubscriptionActivated, sub)
	return &DecisionResult{Subscription: sub, Decision: decision}, nil
}
