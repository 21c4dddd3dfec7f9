//go:build !integration

package web

import (
	"context"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/usecase"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// stubOrderUC scripts the order operations per test.
type stubOrderUC struct {
	CheckoutFunc        func(ctx context.Context, req usecase.CheckoutRequest) (*usecase.CheckoutResponse, error)
	ConfirmZarinpalFunc func(ctx context.Context, authority string, okStatus bool) (*model.Subscription, error)
	ReconcileFunc       func(ctx context.Context, authority string) (*model.Subscription, error)
	PollCryptoFunc      func(ctx context.Context, id string) (*usecase.CryptoStatus, error)
	AwaitCryptoFunc     func(ctx context.Context, id string) (*usecase.CryptoStatus, error)
	ConfirmStripeFunc   func(ctx context.Context, sessionID string) (*model.Subscription, error)
	RetryFunc           func(ctx context.Context, id string) (*model.Subscription, error)
}

var _ usecase.OrderUseCase = (*stubOrderUC)(nil)

func (s *stubOrderUC) Checkout(ctx context.Context, req usecase.CheckoutRequest) (*usecase.CheckoutResponse, error) {
	return s.CheckoutFunc(ctx, req)
}

func (s *stubOrderUC) ConfirmZarinpal(ctx context.Context, authority string, okStatus bool) (*model.Subscription, error) {
	return s.ConfirmZarinpalFunc(ctx, authority, okStatus)
}

func (s *stubOrderUC) ReconcileZarinpal(ctx context.Context, authority string) (*model.Subscription, error) {
	return s.ReconcileFunc(ctx, authority)
}

func (s *stubOrderUC) PollCrypto(ctx context.Context, id string) (*usecase.CryptoStatus, error) {
	return s.PollCryptoFunc(ctx, id)
}

func (s *stubOrderUC) AwaitCrypto(ctx context.Context, id string) (*usecase.CryptoStatus, error) {
	if s.AwaitCryptoFunc != nil {
		return s.AwaitCryptoFunc(ctx, id)
	}
	return s.PollCryptoFunc(ctx, id)
}

func (s *stubOrderUC) ConfirmStripe(ctx context.Context, sessionID string) (*model.Subscription, error) {
	return s.ConfirmStripeFunc(ctx, sessionID)
}

func (s *stubOrderUC) RetryProvisioning(ctx context.Context, id string) (*model.Subscription, error) {
	return s.RetryFunc(ctx, id)
}

type stubDecisionUC struct {
	DecideFunc func(ctx context.Context, subscriptionID, token string, action usecase.DecisionAction) (*usecase.DecisionResult, error)
}

var _ usecase.DecisionUseCase = (*stubDecisionUC)(nil)

func (s *stubDecisionUC) Decide(ctx context.Context, subscriptionID, token string, action usecase.DecisionAction) (*usecase.DecisionResult, error) {
	return s.DecideFunc(ctx, subscriptionID, token, action)
}
