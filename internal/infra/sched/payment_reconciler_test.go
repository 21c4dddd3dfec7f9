//go:build !integration

package sched

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/usecase"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// stubOrders records which confirmation path each stale row was routed to.
type stubOrders struct {
	reconciled []string
	confirmed  []string
	polled     []string
	reconcile  func(authority string) (*model.Subscription, error)
}

var _ usecase.OrderUseCase = (*stubOrders)(nil)

func (s *stubOrders) Checkout(ctx context.Context, req usecase.CheckoutRequest) (*usecase.CheckoutResponse, error) {
	return nil, domain.ErrOperationFailed
}

func (s *stubOrders) ConfirmZarinpal(ctx context.Context, authority string, okStatus bool) (*model.Subscription, error) {
	s.confirmed = append(s.confirmed, authority)
	return &model.Subscription{ID: "sub", Status: model.StatusActive}, nil
}

func (s *stubOrders) ReconcileZarinpal(ctx context.Context, authority string) (*model.Subscription, error) {
	s.reconciled = append(s.reconciled, authority)
	if s.reconcile != nil {
		return s.reconcile(authority)
	}
	return &model.Subscription{ID: "sub", Status: model.StatusActive}, nil
}

func (s *stubOrders) PollCrypto(ctx context.Context, id string) (*usecase.CryptoStatus, error) {
	s.polled = append(s.polled, id)
	return &usecase.CryptoStatus{Status: model.StatusPending, Pending: true}, nil
}

func (s *stubOrders) AwaitCrypto(ctx context.Context, id string) (*usecase.CryptoStatus, error) {
	return s.PollCrypto(ctx, id)
}

func (s *stubOrders) ConfirmStripe(ctx context.Context, sessionID string) (*model.Subscription, error) {
	return nil, domain.ErrOperationFailed
}

func (s *stubOrders) RetryProvisioning(ctx context.Context, id string) (*model.Subscription, error) {
	return nil, domain.ErrOperationFailed
}

// stubSubs only answers the stale-pending scan; the reconciler touches
// nothing else on the repository.
type stubSubs struct {
	repository.SubscriptionRepository
	pending []*model.Subscription
}

func (s *stubSubs) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	return s.pending, nil
}

func strPtr(s string) *string { return &s }

func TestPaymentReconciler_Tick(t *testing.T) {
	zarinpalRow := &model.Subscription{ID: "sub-z", Status: model.StatusPending, ZarinpalAuthority: strPtr("A-1")}
	cryptoRow := &model.Subscription{ID: "sub-c", Status: model.StatusPending, ProviderPaymentID: strPtr("np-1")}
	abandonedRow := &model.Subscription{ID: "sub-a", Status: model.StatusPending}

	t.Run("routes rows by provider reference, probes never confirm blindly", func(t *testing.T) {
		orders := &stubOrders{}
		w := NewPaymentReconciler(orders, &stubSubs{pending: []*model.Subscription{zarinpalRow, cryptoRow, abandonedRow}}, time.Minute, time.Minute, testLogger())

		w.tick(context.Background())

		if len(orders.reconciled) != 1 || orders.reconciled[0] != "A-1" {
			t.Fatalf("reconciled = %v, want the zarinpal authority", orders.reconciled)
		}
		if len(orders.confirmed) != 0 {
			t.Fatalf("confirmed = %v, a probe must not use the callback path", orders.confirmed)
		}
		if len(orders.polled) != 1 || orders.polled[0] != "sub-c" {
			t.Fatalf("polled = %v, want the crypto row", orders.polled)
		}
	})

	t.Run("a still-unpaid probe is not an error", func(t *testing.T) {
		orders := &stubOrders{
			reconcile: func(authority string) (*model.Subscription, error) {
				return &model.Subscription{ID: "sub-z", Status: model.StatusPending}, domain.ErrPaymentNotVerified
			},
		}
		w := NewPaymentReconciler(orders, &stubSubs{pending: []*model.Subscription{zarinpalRow}}, time.Minute, time.Minute, testLogger())

		w.tick(context.Background())

		if len(orders.reconciled) != 1 {
			t.Fatalf("reconciled = %v, want one probe", orders.reconciled)
		}
	})
}
