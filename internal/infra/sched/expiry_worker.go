package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/infra/metrics"
)

// ExpiryWorker periodically moves active subscriptions past their expiry
// into the expired state. The panel enforces the cutoff on its own; this
// keeps the order records in agreement.
type ExpiryWorker struct {
	interval time.Duration
	subs     repository.SubscriptionRepository
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, subs repository.SubscriptionRepository, logger *zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	l := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{interval: interval, subs: subs, log: &l}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.finishExpired(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("expiry worker error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("expired subscriptions finished")
			}
		}
	}
}

func (w *ExpiryWorker) finishExpired(ctx context.Context) (int, error) {
	expired, err := w.subs.ListActiveExpiredBefore(ctx, nil, time.Now(), 500)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range expired {
		if err := w.subs.UpdateStatus(ctx, nil, s.ID, model.StatusExpired); err != nil {
			w.log.Warn().Str("subscription_id", s.ID).Err(err).Msg("could not expire subscription")
			continue
		}
		metrics.IncTransition(string(model.StatusExpired))
		n++
	}
	return n, nil
}
