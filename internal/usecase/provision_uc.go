// File: internal/usecase/provision_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/infra/metrics"
)

var _ ProvisionUseCase = (*provisionUC)(nil)

// ProvisionUseCase creates the VPN account for a subscription and records
// the outcome. It is shared by the order orchestrator (gateway confirmations,
// zero-price checkouts), the admin decision flow and the support retry path.
type ProvisionUseCase interface {
	// Provision creates the panel user and atomically marks the row active
	// with its subscription URL. On panel failure the row is parked in
	// pending_activation with a note and the panel error is returned.
	Provision(ctx context.Context, sub *model.Subscription) (*model.Subscription, error)
}

type provisionUC struct {
	subs             repository.SubscriptionRepository
	plans            repository.PlanRepository
	selector         adapter.PanelSelector
	defaultPanelType model.PanelType
	log              *zerolog.Logger
}

func NewProvisionUseCase(
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	selector adapter.PanelSelector,
	defaultPanelType model.PanelType,
	logger *zerolog.Logger,
) *provisionUC {
	return &provisionUC{
		subs:             subs,
		plans:            plans,
		selector:         selector,
		defaultPanelType: defaultPanelType,
		log:              logger,
	}
}

// resolveTarget finds the panel to provision on. Plan lookup failures fall
// back to the configured default panel type rather than blocking activation.
func (u *provisionUC) resolveTarget(ctx context.Context, sub *model.Subscription) (*model.PanelServer, adapter.PanelClient, []int, error) {
	panelID := ""
	var inbounds []int
	if sub.PlanID != nil {
		pw, err := u.plans.FindWithPanels(ctx, nil, *sub.PlanID)
		if err != nil {
			u.log.Warn().Str("plan_id", *sub.PlanID).Err(err).Msg("plan lookup failed, using default panel type")
		} else {
			panelID = pw.PrimaryPanelID()
			for _, m := range pw.Mappings {
				if m.IsPrimary {
					inbounds = m.InboundIDs
					break
				}
			}
		}
	}
	panelType := u.defaultPanelType
	if sub.Protocol != nil && *sub.Protocol != "" {
		if t := model.PanelType(*sub.Protocol); t == model.PanelTypeMarzban || t == model.PanelTypeMarzneshin {
			panelType = t
		}
	}
	panelSrv, client, err := u.selector.Resolve(ctx, panelID, panelType)
	if err != nil {
		return nil, nil, nil, err
	}
	return panelSrv, client, inbounds, nil
}

func (u *provisionUC) Provision(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	panelSrv, client, inbounds, err := u.resolveTarget(ctx, sub)
	if err != nil {
		u.parkFailed(ctx, sub, err)
		return sub, err
	}

	notes := ""
	if sub.Notes != nil {
		notes = *sub.Notes
	}
	req := adapter.CreateUserRequest{
		Username:     sub.Username,
		DataLimitGB:  sub.DataLimitGB,
		DurationDays: sub.DurationDays,
		Notes:        notes,
		InboundIDs:   inbounds,
	}

	start := time.Now()
	user, err := client.CreateUser(ctx, panelSrv, req)
	metrics.ObserveProvisioningLatency(string(client.Type()), float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.IncProvisioning(string(client.Type()), "error")
		// A duplicate username with a live panel account is recoverable:
		// adopt the existing account instead of failing the paid order.
		if errors.Is(err, domain.ErrConflict) {
			if existing, gErr := client.GetUser(ctx, panelSrv, sub.Username); gErr == nil && existing.SubscriptionURL != "" {
				u.log.Info().Str("username", sub.Username).Msg("adopting existing panel user")
				return u.finish(ctx, sub, existing)
			}
		}
		u.parkFailed(ctx, sub, err)
		return sub, err
	}
	metrics.IncProvisioning(string(client.Type()), "ok")
	if user.SubscriptionURL == "" {
		err := fmt.Errorf("panel returned no subscription url: %w", domain.ErrProviderRejected)
		u.parkFailed(ctx, sub, err)
		return sub, err
	}
	return u.finish(ctx, sub, user)
}

func (u *provisionUC) finish(ctx context.Context, sub *model.Subscription, user *adapter.PanelUser) (*model.Subscription, error) {
	if err := u.subs.MarkProvisioned(ctx, nil, sub.ID, user.SubscriptionURL, user.ExpireAt); err != nil {
		return sub, err
	}
	metrics.IncTransition(string(model.StatusActive))
	sub.Status = model.StatusActive
	sub.SubscriptionURL = &user.SubscriptionURL
	sub.PanelUserCreated = true
	sub.ExpireAt = &user.ExpireAt
	return sub, nil
}

// parkFailed leaves a paid row recoverable so support can retry without
// re-charging; the payment proof on the row is untouched.
func (u *provisionUC) parkFailed(ctx context.Context, sub *model.Subscription, cause error) {
	note := "provisioning failed: " + cause.Error()
	if err := u.subs.MarkProvisionFailed(ctx, nil, sub.ID, note); err != nil {
		u.log.Error().Str("subscription_id", sub.ID).Err(err).Msg("could not park failed provisioning")
		return
	}
	metrics.IncTransition(string(model.StatusPendingActivation))
	sub.Status = model.StatusPendingActivation
}
