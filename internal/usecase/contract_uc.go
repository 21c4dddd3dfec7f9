// File: internal/usecase/contract_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/infra/metrics"
)

// Default Payman contract caps. The bank enforces these server-side; we ask
// for enough headroom to renew a subscription monthly for a year.
const (
	contractMaxDailyCount   = 2
	contractMaxMonthlyCount = 4
	contractDurationDays    = 365
)

var _ ContractUseCase = (*contractUC)(nil)

// ContractUseCase manages Payman direct-debit contracts: setup, bank callback,
// cancellation, and charging a renewal against an active contract's signature.
type ContractUseCase interface {
	// RequestContract starts contract setup for a customer and returns the
	// bank selection redirect URL.
	RequestContract(ctx context.Context, mobile string, maxAmountRial int64, callbackURL string) (*model.ZarinpalContract, string, error)
	// HandleCallback resolves the bank redirect: on approval the payman
	// authority is exchanged for a durable signature and the contract
	// activates, otherwise it is marked failed.
	HandleCallback(ctx context.Context, paymanAuthority string, approved bool) (*model.ZarinpalContract, error)
	// Cancel revokes an active contract at the provider and locally.
	Cancel(ctx context.Context, contractID string) error
	// ChargeRenewal debits a plan renewal for the subscription's mobile
	// against their active contract, then provisions on success.
	ChargeRenewal(ctx context.Context, subscriptionID string) (*model.Subscription, error)
}

type contractUC struct {
	contracts repository.ContractRepository
	subs      repository.SubscriptionRepository
	gateway   adapter.RecurringGateway
	provision ProvisionUseCase
	notify    NotificationUseCase
	log       *zerolog.Logger
}

func NewContractUseCase(
	contracts repository.ContractRepository,
	subs repository.SubscriptionRepository,
	gateway adapter.RecurringGateway,
	provision ProvisionUseCase,
	notify NotificationUseCase,
	logger *zerolog.Logger,
) *contractUC {
	return &contractUC{
		contracts: contracts,
		subs:      subs,
		gateway:   gateway,
		provision: provision,
		notify:    notify,
		log:       logger,
	}
}

func (u *contractUC) RequestContract(ctx context.Context, mobile string, maxAmountRial int64, callbackURL string) (*model.ZarinpalContract, string, error) {
	if mobile == "" || maxAmountRial <= 0 {
		return nil, "", domain.ErrInvalidArgument
	}
	if existing, err := u.contracts.FindActiveByMobile(ctx, nil, mobile); err == nil && existing != nil {
		return nil, "", fmt.Errorf("mobile %s already has contract %s: %w", mobile, existing.ID, domain.ErrAlreadyExists)
	}

	expireAt := time.Now().AddDate(0, 0, contractDurationDays)
	terms := adapter.ContractTerms{
		Mobile:          mobile,
		MaxDailyCount:   contractMaxDailyCount,
		MaxMonthlyCount: contractMaxMonthlyCount,
		MaxAmountRial:   maxAmountRial,
		ExpireAt:        expireAt,
	}
	cr, err := u.gateway.RequestContract(ctx, terms, callbackURL)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	c := &model.ZarinpalContract{
		ID:              uuid.NewString(),
		Mobile:          mobile,
		PaymanAuthority: cr.PaymanAuthority,
		MaxDailyCount:   contractMaxDailyCount,
		MaxMonthlyCount: contractMaxMonthlyCount,
		MaxAmountRial:   maxAmountRial,
		ExpireAt:        expireAt,
		Status:          model.ContractStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := u.contracts.Save(ctx, nil, c); err != nil {
		return nil, "", err
	}
	return c, cr.RedirectURL, nil
}

func (u *contractUC) HandleCallback(ctx context.Context, paymanAuthority string, approved bool) (*model.ZarinpalContract, error) {
	c, err := u.contracts.FindByPaymanAuthority(ctx, nil, paymanAuthority)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ContractStatusPending {
		// Replayed callback: report the settled state without re-verifying.
		return c, nil
	}
	if !approved {
		if err := u.contracts.UpdateStatus(ctx, nil, c.ID, model.ContractStatusFailed, nil); err != nil {
			return nil, err
		}
		c.Status = model.ContractStatusFailed
		return c, nil
	}

	sig, err := u.gateway.VerifyContract(ctx, paymanAuthority)
	if err != nil {
		if uErr := u.contracts.UpdateStatus(ctx, nil, c.ID, model.ContractStatusFailed, nil); uErr != nil {
			u.log.Error().Str("contract_id", c.ID).Err(uErr).Msg("could not mark contract failed")
		}
		c.Status = model.ContractStatusFailed
		return c, err
	}
	if err := u.contracts.UpdateStatus(ctx, nil, c.ID, model.ContractStatusActive, &sig); err != nil {
		return nil, err
	}
	c.Status = model.ContractStatusActive
	c.Signature = &sig
	u.log.Info().Str("contract_id", c.ID).Str("mobile", c.Mobile).Msg("payman contract activated")
	return c, nil
}

func (u *contractUC) Cancel(ctx context.Context, contractID string) error {
	c, err := u.contracts.FindByID(ctx, nil, contractID)
	if err != nil {
		return err
	}
	if c.Status != model.ContractStatusActive || c.Signature == nil {
		return fmt.Errorf("contract %s is %s: %w", c.ID, c.Status, domain.ErrConflict)
	}
	if err := u.gateway.CancelContract(ctx, *c.Signature); err != nil {
		return err
	}
	return u.contracts.UpdateStatus(ctx, nil, c.ID, model.ContractStatusCancelled, nil)
}

// ChargeRenewal debits a pending renewal order directly, with no customer
// redirect. The order must already exist in pending with the plan terms set.
func (u *contractUC) ChargeRenewal(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	sub, err := u.subs.FindByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.StatusPending {
		return nil, fmt.Errorf("subscription %s is %s, not pending: %w", sub.ID, sub.Status, domain.ErrConflict)
	}
	c, err := u.contracts.FindActiveByMobile(ctx, nil, sub.Mobile)
	if err != nil {
		return nil, err
	}
	if c.Signature == nil {
		return nil, fmt.Errorf("contract %s has no signature: %w", c.ID, domain.ErrConflict)
	}
	if amount := sub.AmountRial(); amount > c.MaxAmountRial {
		return nil, fmt.Errorf("renewal amount %d exceeds contract cap %d: %w", amount, c.MaxAmountRial, domain.ErrInvalidArgument)
	}

	desc := fmt.Sprintf("VPN renewal %dGB/%dd for %s", sub.DataLimitGB, sub.DurationDays, sub.Username)
	refID, err := u.gateway.DirectCheckout(ctx, *c.Signature, sub.AmountRial(), desc)
	if err != nil {
		metrics.IncPaymentVerified("payman", "failed")
		if uErr := u.subs.UpdateStatus(ctx, nil, sub.ID, model.StatusFailed); uErr != nil {
			u.log.Error().Str("subscription_id", sub.ID).Err(uErr).Msg("could not mark renewal failed")
		}
		sub.Status = model.StatusFailed
		return sub, err
	}
	if err := u.subs.MarkPaymentConfirmed(ctx, nil, sub.ID, "payman", refID); err != nil {
		return nil, err
	}
	metrics.IncPaymentVerified("payman", "ok")
	metrics.AddRevenueToman("payman", sub.PriceToman)
	sub.Status = model.StatusPaid
	sub.ZarinpalRefID = &refID

	sub, pErr := u.provision.Provision(ctx, sub)
	if pErr != nil {
		u.notify.NotifyEvent(ctx, EventProvisioningFailed, sub)
		return sub, nil
	}
	u.notify.NotifyEvent(ctx, EventSubscriptionActivated, sub)
	return sub, nil
}
