package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/usecase"
)

// PaymentReconciler periodically scans for stale pending orders and tries to
// finalize them through the same confirmation paths the callbacks use. This
// covers a lost bank redirect, a closed browser tab mid-crypto-poll, or the
// process crashing between verify and provision.
type PaymentReconciler struct {
	orders     usecase.OrderUseCase
	subs       repository.SubscriptionRepository
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending order must be to retry
	log        *zerolog.Logger
}

func NewPaymentReconciler(orders usecase.OrderUseCase, subs repository.SubscriptionRepository, interval, staleAfter time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{orders: orders, subs: subs, interval: interval, staleAfter: staleAfter, log: &l}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting payment reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.subs.ListPendingOlderThan(ctx, nil, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale pending failed")
		return
	}
	for _, s := range pending {
		w.reconcile(ctx, s)
	}
}

func (w *PaymentReconciler) reconcile(ctx context.Context, s *model.Subscription) {
	switch {
	case s.ZarinpalAuthority != nil && *s.ZarinpalAuthority != "":
		// A probe, not a callback: an unverified authority here only means
		// the customer has not paid yet, so the row must stay pending.
		if _, err := w.orders.ReconcileZarinpal(ctx, *s.ZarinpalAuthority); err != nil {
			if errors.Is(err, domain.ErrPaymentNotVerified) {
				w.log.Debug().Str("subscription_id", s.ID).Msg("stale order still unpaid")
				return
			}
			w.log.Warn().Str("subscription_id", s.ID).Err(err).Msg("zarinpal reconcile failed")
			return
		}
	case s.ProviderPaymentID != nil && *s.ProviderPaymentID != "":
		if _, err := w.orders.PollCrypto(ctx, s.ID); err != nil {
			w.log.Warn().Str("subscription_id", s.ID).Err(err).Msg("crypto reconcile failed")
			return
		}
	default:
		// No provider reference: the customer never reached a gateway.
		return
	}
	w.log.Info().Str("subscription_id", s.ID).Msg("reconciled stale pending order")
}
