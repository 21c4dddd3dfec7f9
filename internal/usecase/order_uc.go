// File: internal/usecase/order_uc.go
package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/infra/metrics"
	red "vpn-subscription-shop/internal/infra/redis"
)

type PaymentMethod string

const (
	MethodZarinpal PaymentMethod = "zarinpal"
	MethodCrypto   PaymentMethod = "crypto"
	MethodStripe   PaymentMethod = "stripe"
	MethodManual   PaymentMethod = "manual"
)

// CheckoutRequest starts an order.
type CheckoutRequest struct {
	Username        string
	Mobile          string
	Email           string
	PlanID          string
	Method          PaymentMethod
	DiscountPercent int    // 100 makes the order free and skips all gateways
	ReceiptImageURL string // manual method only
	Notes           string
}

// CheckoutResponse tells the UI where to send the customer next.
type CheckoutResponse struct {
	Subscription *model.Subscription
	RedirectURL  string
	PayAddress   string // crypto deposit address
	PayAmount    string // crypto amount
	// Provisioned is true for free orders activated inline.
	Provisioned bool
}

// CryptoStatus is what the browser poll endpoint returns.
type CryptoStatus struct {
	Status   model.SubscriptionStatus `json:"status"`
	Settled  bool                     `json:"settled"`
	Pending  bool                     `json:"pending"`
	Attempts int                      `json:"-"`
}

var _ OrderUseCase = (*orderUC)(nil)

// OrderUseCase is the orchestrator: it owns the subscription row through
// checkout, payment confirmation and provisioning.
type OrderUseCase interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error)
	// ConfirmZarinpal handles the bank redirect callback. okStatus is the
	// Status=OK query flag from the gateway.
	ConfirmZarinpal(ctx context.Context, authority string, okStatus bool) (*model.Subscription, error)
	// ReconcileZarinpal re-verifies a stale pending order without a bank
	// redirect. A verification failure here means "not paid yet", not a
	// rejected payment, so the row stays pending.
	ReconcileZarinpal(ctx context.Context, authority string) (*model.Subscription, error)
	// PollCrypto performs one status check for the browser's 5-second poll
	// loop, confirming and provisioning when the payment settles.
	PollCrypto(ctx context.Context, subscriptionID string) (*CryptoStatus, error)
	// AwaitCrypto polls until the payment settles or the attempt budget runs
	// out (default 60 polls, 5s apart).
	AwaitCrypto(ctx context.Context, subscriptionID string) (*CryptoStatus, error)
	// ConfirmStripe verifies a checkout session from the success page.
	ConfirmStripe(ctx context.Context, sessionID string) (*model.Subscription, error)
	// RetryProvisioning re-runs panel creation for a pending_activation row.
	RetryProvisioning(ctx context.Context, subscriptionID string) (*model.Subscription, error)
}

type orderUC struct {
	subs      repository.SubscriptionRepository
	plans     repository.PlanRepository
	gateways  map[PaymentMethod]adapter.PaymentGateway
	provision ProvisionUseCase
	notify    NotificationUseCase
	locker    red.Locker
	tm        repository.TransactionManager
	baseURL   string
	log       *zerolog.Logger

	cryptoPollInterval time.Duration
	cryptoPollMax      int
}

func NewOrderUseCase(
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	gateways map[PaymentMethod]adapter.PaymentGateway,
	provision ProvisionUseCase,
	notify NotificationUseCase,
	locker red.Locker,
	tm repository.TransactionManager,
	baseURL string,
	logger *zerolog.Logger,
) *orderUC {
	return &orderUC{
		subs:      subs,
		plans:     plans,
		gateways:  gateways,
		provision: provision,
		notify:    notify,
		locker:    locker,
		tm:        tm,
		baseURL:   baseURL,
		log:       logger,

		cryptoPollInterval: 5 * time.Second,
		cryptoPollMax:      60,
	}
}

// SetCryptoPollPolicy overrides the settlement-wait cadence. Used by tests.
func (u *orderUC) SetCryptoPollPolicy(interval time.Duration, maxAttempts int) {
	u.cryptoPollInterval = interval
	u.cryptoPollMax = maxAttempts
}

func newDecisionToken() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func (u *orderUC) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error) {
	if req.Username == "" || req.PlanID == "" {
		return nil, domain.ErrInvalidArgument
	}
	plan, err := u.plans.FindByID(ctx, nil, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("plan %s is inactive: %w", plan.ID, domain.ErrInvalidArgument)
	}

	sub, err := model.NewSubscription(uuid.NewString(), req.Username, req.Mobile, plan)
	if err != nil {
		return nil, err
	}
	if req.Email != "" {
		sub.Email = &req.Email
	}
	if req.Notes != "" {
		sub.Notes = &req.Notes
	}
	if req.DiscountPercent > 0 {
		if req.DiscountPercent > 100 {
			req.DiscountPercent = 100
		}
		sub.PriceToman = plan.PriceToman * int64(100-req.DiscountPercent) / 100
	}

	// Free orders never touch a gateway: provision straight away.
	if sub.IsFree() {
		if err := u.subs.Save(ctx, nil, sub); err != nil {
			return nil, err
		}
		sub, pErr := u.provision.Provision(ctx, sub)
		if pErr != nil {
			u.notify.NotifyEvent(ctx, EventProvisioningFailed, sub)
			return &CheckoutResponse{Subscription: sub}, pErr
		}
		u.notify.NotifyEvent(ctx, EventSubscriptionActivated, sub)
		return &CheckoutResponse{Subscription: sub, Provisioned: true}, nil
	}

	switch req.Method {
	case MethodManual:
		return u.checkoutManual(ctx, sub, req.ReceiptImageURL)
	case MethodZarinpal, MethodCrypto, MethodStripe:
		return u.checkoutGateway(ctx, sub, req.Method)
	default:
		return nil, fmt.Errorf("unknown payment method %q: %w", req.Method, domain.ErrInvalidArgument)
	}
}

func (u *orderUC) checkoutManual(ctx context.Context, sub *model.Subscription, receiptURL string) (*CheckoutResponse, error) {
	if receiptURL == "" {
		return nil, fmt.Errorf("receipt image required for manual payment: %w", domain.ErrInvalidArgument)
	}
	token := newDecisionToken()
	pending := model.DecisionPending
	sub.Status = model.StatusPendingManual
	sub.AdminDecision = &pending
	sub.AdminDecisionToken = &token
	sub.ReceiptImageURL = &receiptURL
	if err := u.subs.Save(ctx, nil, sub); err != nil {
		return nil, err
	}
	metrics.IncTransition(string(model.StatusPendingManual))

	approveURL := fmt.Sprintf("%s/api/v1/admin/decision?subscription_id=%s&action=approve&token=%s", u.baseURL, sub.ID, token)
	rejectURL := fmt.Sprintf("%s/api/v1/admin/decision?subscription_id=%s&action=reject&token=%s", u.baseURL, sub.ID, token)
	u.notify.SendDecisionEmail(ctx, sub, approveURL, rejectURL)
	u.notify.NotifyEvent(ctx, EventNewSubscription, sub)
	return &CheckoutResponse{Subscription: sub}, nil
}

func (u *orderUC) checkoutGateway(ctx context.Context, sub *model.Subscription, method PaymentMethod) (*CheckoutResponse, error) {
	gw, ok := u.gateways[method]
	if !ok {
		return nil, fmt.Errorf("payment method %s not configured: %w", method, domain.ErrConfiguration)
	}
	if err := u.subs.Save(ctx, nil, sub); err != nil {
		return nil, err
	}

	desc := fmt.Sprintf("VPN plan %dGB/%dd for %s", sub.DataLimitGB, sub.DurationDays, sub.Username)
	meta := map[string]string{"order_id": sub.ID, "mobile": sub.Mobile}
	pr, err := gw.RequestPayment(ctx, sub.AmountRial(), desc, "", meta)
	if err != nil {
		return nil, err
	}
	metrics.IncPaymentRequested(gw.Name())

	switch method {
	case MethodZarinpal:
		err = u.subs.SetZarinpalAuthority(ctx, nil, sub.ID, pr.Reference)
		sub.ZarinpalAuthority = &pr.Reference
	default:
		err = u.subs.SetProviderPaymentID(ctx, nil, sub.ID, pr.Reference)
		sub.ProviderPaymentID = &pr.Reference
	}
	if err != nil {
		return nil, err
	}
	u.notify.NotifyEvent(ctx, EventNewSubscription, sub)
	return &CheckoutResponse{
		Subscription: sub,
		RedirectURL:  pr.RedirectURL,
		PayAddress:   pr.PayAddress,
		PayAmount:    pr.PayAmount,
	}, nil
}

func (u *orderUC) ConfirmZarinpal(ctx context.Context, authority string, okStatus bool) (*model.Subscription, error) {
	gw, ok := u.gateways[MethodZarinpal]
	if !ok {
		return nil, fmt.Errorf("zarinpal not configured: %w", domain.ErrConfiguration)
	}
	sub, err := u.subs.FindByZarinpalAuthority(ctx, nil, authority)
	if err != nil {
		return nil, err
	}
	if !okStatus {
		// Only a still-pending order can be cancelled; a late NOK redirect
		// for an already-confirmed authority must not undo the payment.
		err := u.subs.UpdateStatusFrom(ctx, nil, sub.ID, model.StatusPending, model.StatusCancelled)
		if errors.Is(err, domain.ErrConflict) {
			return u.subs.FindByID(ctx, nil, sub.ID)
		}
		if err != nil {
			return nil, err
		}
		sub.Status = model.StatusCancelled
		metrics.IncTransition(string(model.StatusCancelled))
		return sub, nil
	}
	return u.confirmAndProvision(ctx, sub, gw, authority, sub.AmountRial(), true)
}

func (u *orderUC) ReconcileZarinpal(ctx context.Context, authority string) (*model.Subscription, error) {
	gw, ok := u.gateways[MethodZarinpal]
	if !ok {
		return nil, fmt.Errorf("zarinpal not configured: %w", domain.ErrConfiguration)
	}
	sub, err := u.subs.FindByZarinpalAuthority(ctx, nil, authority)
	if err != nil {
		return nil, err
	}
	return u.confirmAndProvision(ctx, sub, gw, authority, sub.AmountRial(), false)
}

// confirmAndProvision is the shared verify -> mark paid -> provision path.
// A redis lock on the provider reference serializes replayed callbacks, and
// the status-guarded UPDATE inside a row-locking transaction makes the
// confirmation idempotent even if the lock is lost. failOnReject controls the
// verify-failure write: a customer returning from the provider gets failed,
// a background probe leaves the row as it was (the customer may still pay).
func (u *orderUC) confirmAndProvision(ctx context.Context, sub *model.Subscription, gw adapter.PaymentGateway, reference string, expectedRial int64, failOnReject bool) (*model.Subscription, error) {
	lockKey := red.CallbackLockKey(gw.Name(), reference)
	token, err := u.locker.TryLock(ctx, lockKey, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("callback already in flight: %w", domain.ErrConflict)
	}
	defer func() { _ = u.locker.Unlock(ctx, lockKey, token) }()

	v, err := gw.VerifyPayment(ctx, reference, expectedRial)
	if err != nil {
		return nil, err
	}
	if v.Pending {
		return sub, nil
	}
	if !v.Success {
		if !failOnReject {
			return sub, domain.ErrPaymentNotVerified
		}
		metrics.IncPaymentVerified(gw.Name(), "failed")
		err := u.subs.UpdateStatusFrom(ctx, nil, sub.ID, model.StatusPending, model.StatusFailed)
		if errors.Is(err, domain.ErrConflict) {
			fresh, fErr := u.subs.FindByID(ctx, nil, sub.ID)
			if fErr != nil {
				return nil, fErr
			}
			return fresh, domain.ErrPaymentNotVerified
		}
		if err != nil {
			return nil, err
		}
		sub.Status = model.StatusFailed
		metrics.IncTransition(string(model.StatusFailed))
		return sub, domain.ErrPaymentNotVerified
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		fresh, err := u.subs.FindByID(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		// failed is recoverable: the provider says the money is captured,
		// so a previously failed row is re-opened and confirmed.
		switch fresh.Status {
		case model.StatusPending, model.StatusPendingManual, model.StatusFailed:
		default:
			return domain.ErrConflict
		}
		return u.subs.MarkPaymentConfirmed(ctx, tx, sub.ID, gw.Name(), v.ProviderRefID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Replayed callback: report current state, never re-provision.
			return u.subs.FindByID(ctx, nil, sub.ID)
		}
		return nil, err
	}
	metrics.IncPaymentVerified(gw.Name(), "ok")
	metrics.AddRevenueToman(gw.Name(), sub.PriceToman)
	sub.Status = model.StatusPaid
	if gw.Name() == "zarinpal" {
		sub.ZarinpalRefID = &v.ProviderRefID
	} else {
		sub.ProviderPaymentID = &v.ProviderRefID
	}

	sub, pErr := u.provision.Provision(ctx, sub)
	if pErr != nil {
		u.log.Error().Str("subscription_id", sub.ID).Err(pErr).Msg("payment confirmed but provisioning failed")
		u.notify.NotifyEvent(ctx, EventProvisioningFailed, sub)
		return sub, nil // payment stands; row parked for support retry
	}
	u.notify.NotifyEvent(ctx, EventSubscriptionActivated, sub)
	return sub, nil
}

func (u *orderUC) PollCrypto(ctx context.Context, subscriptionID string) (*CryptoStatus, error) {
	gw, ok := u.gateways[MethodCrypto]
	if !ok {
		return nil, fmt.Errorf("crypto payments not configured: %w", domain.ErrConfiguration)
	}
	sub, err := u.subs.FindByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	switch {
	case sub.Status == model.StatusActive:
		return &CryptoStatus{Status: sub.Status, Settled: true}, nil
	case sub.Status != model.StatusPending:
		return &CryptoStatus{Status: sub.Status}, nil
	}
	if sub.ProviderPaymentID == nil {
		return nil, fmt.Errorf("subscription %s has no crypto payment: %w", sub.ID, domain.ErrInvalidArgument)
	}

	v, err := gw.VerifyPayment(ctx, *sub.ProviderPaymentID, sub.AmountRial())
	if err != nil {
		return nil, err
	}
	if v.Pending {
		return &CryptoStatus{Status: sub.Status, Pending: true}, nil
	}
	sub, err = u.confirmAndProvision(ctx, sub, gw, *sub.ProviderPaymentID, sub.AmountRial(), true)
	if err != nil && !errors.Is(err, domain.ErrPaymentNotVerified) {
		return nil, err
	}
	return &CryptoStatus{Status: sub.Status, Settled: sub.Status == model.StatusActive}, nil
}

// AwaitCrypto blocks until the crypto payment settles, fails or the attempt
// budget is spent. The final non-pending result is returned; running out of
// attempts leaves the row pending for the reconciler to pick up later.
func (u *orderUC) AwaitCrypto(ctx context.Context, subscriptionID string) (*CryptoStatus, error) {
	var last *CryptoStatus
	for attempt := 1; attempt <= u.cryptoPollMax; attempt++ {
		st, err := u.PollCrypto(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		st.Attempts = attempt
		if !st.Pending {
			return st, nil
		}
		last = st
		if attempt == u.cryptoPollMax {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(u.cryptoPollInterval):
		}
	}
	u.log.Info().Str("subscription_id", subscriptionID).Int("attempts", u.cryptoPollMax).
		Msg("crypto payment still unsettled after poll budget")
	return last, nil
}

func (u *orderUC) ConfirmStripe(ctx context.Context, sessionID string) (*model.Subscription, error) {
	gw, ok := u.gateways[MethodStripe]
	if !ok {
		return nil, fmt.Errorf("stripe not configured: %w", domain.ErrConfiguration)
	}
	sub, err := u.subs.FindByProviderPaymentID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	return u.confirmAndProvision(ctx, sub, gw, sessionID, sub.AmountRial(), true)
}

func (u *orderUC) RetryProvisioning(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	sub, err := u.subs.FindByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.StatusPendingActivation {
		return nil, fmt.Errorf("subscription %s is %s, not pending_activation: %w", sub.ID, sub.Status, domain.ErrConflict)
	}
	sub, pErr := u.provision.Provision(ctx, sub)
	if pErr != nil {
		return sub, pErr
	}
	u.notify.NotifyEvent(ctx, EventSubscriptionActivated, sub)
	return sub, nil
}
