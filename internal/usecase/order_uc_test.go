//go:build !integration

// File: internal/usecase/order_uc_test.go
package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

type orderUCTestDeps struct {
	subs     *memSubscriptionRepo
	plans    *memPlanRepo
	gateway  *mockGateway
	crypto   *mockGateway
	panel    *mockPanelClient
	mailer   *mockMailer
	webhooks *mockWebhookSender
	locker   *mockLocker
	uc       *orderUC
}

func newOrderUCDeps() *orderUCTestDeps {
	logger := newTestLogger()
	d := &orderUCTestDeps{
		subs:     newMemSubscriptionRepo(),
		plans:    newMemPlanRepo(),
		gateway:  &mockGateway{name: "zarinpal"},
		crypto:   &mockGateway{name: "nowpayments"},
		panel:    &mockPanelClient{},
		mailer:   &mockMailer{},
		webhooks: &mockWebhookSender{},
		locker:   &mockLocker{},
	}
	selector := &mockSelector{
		panel:  &model.PanelServer{ID: "panel-1", Name: "de-1", Type: model.PanelTypeMarzban, IsActive: true},
		client: d.panel,
	}
	notify := NewNotificationUseCase(d.mailer, d.webhooks, []string{"https://hooks.example/a"}, "admin@example.com", &memEmailLogRepo{}, &memWebhookLogRepo{}, logger)
	provision := NewProvisionUseCase(d.subs, d.plans, selector, model.PanelTypeMarzban, logger)
	gateways := map[PaymentMethod]adapter.PaymentGateway{
		MethodZarinpal: d.gateway,
		MethodCrypto:   d.crypto,
	}
	d.uc = NewOrderUseCase(d.subs, d.plans, gateways, provision, notify, d.locker, mockTxManager{}, "https://shop.example", logger)
	d.uc.SetCryptoPollPolicy(time.Millisecond, 5)
	return d
}

func (d *orderUCTestDeps) savePlan(ctx context.Context, priceToman int64) *model.SubscriptionPlan {
	plan := &model.SubscriptionPlan{
		ID:           "plan-1",
		Name:         "50GB / 30d",
		DataLimitGB:  50,
		DurationDays: 30,
		PriceToman:   priceToman,
		IsActive:     true,
	}
	d.plans.Save(ctx, nil, plan)
	return plan
}

func TestOrderUseCase_Checkout(t *testing.T) {
	ctx := context.Background()

	t.Run("free order provisions immediately without any gateway", func(t *testing.T) {
		// --- Arrange ---
		d := newOrderUCDeps()
		d.savePlan(ctx, 0)

		// --- Act ---
		resp, err := d.uc.Checkout(ctx, CheckoutRequest{Username: "alice", Mobile: "0912", PlanID: "plan-1", Method: MethodZarinpal})

		// --- Assert ---
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.Provisioned {
			t.Fatal("expected inline provisioning")
		}
		if d.gateway.requestCalls != 0 || d.crypto.requestCalls != 0 {
			t.Fatalf("free order must not touch gateways, got %d/%d calls", d.gateway.requestCalls, d.crypto.requestCalls)
		}
		got, _ := d.subs.FindByID(ctx, nil, resp.Subscription.ID)
		if got.Status != model.StatusActive {
			t.Fatalf("status = %s, want active", got.Status)
		}
		if got.SubscriptionURL == nil || *got.SubscriptionURL == "" {
			t.Fatal("active subscription must carry a subscription URL")
		}
	})

	t.Run("full discount makes the order free", func(t *testing.T) {
		d := newOrderUCDeps()
		d.savePlan(ctx, 250_000)

		resp, err := d.uc.Checkout(ctx, CheckoutRequest{Username: "bob", PlanID: "plan-1", Method: MethodZarinpal, DiscountPercent: 100})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.Provisioned || d.gateway.requestCalls != 0 {
			t.Fatal("fully discounted order must provision without a gateway")
		}
	})

	t.Run("zarinpal checkout converts Toman to Rial and stores the authority", func(t *testing.T) {
		d := newOrderUCDeps()
		d.savePlan(ctx, 250_000)
		d.gateway.RequestFunc = func(ctx context.Context, amountRial int64, description, callbackURL string, meta map[string]string) (*adapter.PaymentRequest, error) {
			return &adapter.PaymentRequest{Reference: "A-100", RedirectURL: "https://zarinpal.example/StartPay/A-100"}, nil
		}

		resp, err := d.uc.Checkout(ctx, CheckoutRequest{Username: "carol", PlanID: "plan-1", Method: MethodZarinpal})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.gateway.lastAmountRial != 2_500_000 {
			t.Fatalf("gateway amount = %d Rial, want 2500000", d.gateway.lastAmountRial)
		}
		if resp.RedirectURL != "https://zarinpal.example/StartPay/A-100" {
			t.Fatalf("redirect = %q", resp.RedirectURL)
		}
		got, _ := d.subs.FindByID(ctx, nil, resp.Subscription.ID)
		if got.ZarinpalAuthority == nil || *got.ZarinpalAuthority != "A-100" {
			t.Fatal("authority not persisted")
		}
		if got.Status != model.StatusPending {
			t.Fatalf("status = %s, want pending", got.Status)
		}
	})

	t.Run("manual checkout issues a one-time decision token and emails the admin", func(t *testing.T) {
		d := newOrderUCDeps()
		d.savePlan(ctx, 250_000)

		resp, err := d.uc.Checkout(ctx, CheckoutRequest{
			Username: "dave", Mobile: "0913", PlanID: "plan-1",
			Method: MethodManual, ReceiptImageURL: "https://img.example/r.png",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, _ := d.subs.FindByID(ctx, nil, resp.Subscription.ID)
		if got.Status != model.StatusPendingManual {
			t.Fatalf("status = %s, want pending_manual_verification", got.Status)
		}
		if got.AdminDecisionToken == nil || len(*got.AdminDecisionToken) != 26 {
			t.Fatal("expected a ULID decision token")
		}
		if len(d.mailer.sent) == 0 {
			t.Fatal("expected a decision email")
		}
		body := d.mailer.sent[0].HTML
		if !strings.Contains(body, "action=approve") || !strings.Contains(body, "action=reject") {
			t.Fatalf("decision email missing links: %q", body)
		}
		if !strings.Contains(body, *got.AdminDecisionToken) {
			t.Fatal("decision email must carry the token")
		}
	})

	t.Run("manual checkout without a receipt is rejected", func(t *testing.T) {
		d := newOrderUCDeps()
		d.savePlan(ctx, 250_000)

		_, err := d.uc.Checkout(ctx, CheckoutRequest{Username: "eve", PlanID: "plan-1", Method: MethodManual})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("inactive plan is rejected", func(t *testing.T) {
		d := newOrderUCDeps()
		plan := d.savePlan(ctx, 250_000)
		plan.IsActive = false
		d.plans.Save(ctx, nil, plan)

		_, err := d.uc.Checkout(ctx, CheckoutRequest{Username: "frank", PlanID: "plan-1", Method: MethodZarinpal})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("err = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestOrderUseCase_ConfirmZarinpal(t *testing.T) {
	ctx := context.Background()

	checkout := func(t *testing.T, d *orderUCTestDeps) *model.Subscription {
		t.Helper()
		d.savePlan(ctx, 250_000)
		d.gateway.RequestFunc = func(ctx context.Context, amountRial int64, description, callbackURL string, meta map[string]string) (*adapter.PaymentRequest, error) {
			return &adapter.PaymentRequest{Reference: "A-200", RedirectURL: "https://zarinpal.example/StartPay/A-200"}, nil
		}
		resp, err := d.uc.Checkout(ctx, CheckoutRequest{Username: "alice", PlanID: "plan-1", Method: MethodZarinpal})
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		return resp.Subscription
	}

	t.Run("successful callback verifies, activates and provisions exactly once", func(t *testing.T) {
		d := newOrderUCDeps()
		checkout(t, d)
		d.gateway.VerifyFunc = func(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
			if expectedAmountRial != 2_500_000 {
				t.Fatalf("verify amount = %d Rial, want 2500000", expectedAmountRial)
			}
			return &adapter.PaymentVerification{Success: true, ProviderRefID: "12345"}, nil
		}

		sub, err := d.uc.ConfirmZarinpal(ctx, "A-200", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sub.Status != model.StatusActive {
			t.Fatalf("status = %s, want active", sub.Status)
		}
		if sub.SubscriptionURL == nil {
			t.Fatal("active subscription must carry a URL")
		}
		if d.panel.createCalls != 1 {
			t.Fatalf("panel create calls = %d, want 1", d.panel.createCalls)
		}
	})

	t.Run("replayed callback does not provision twice", func(t *testing.T) {
		d := newOrderUCDeps()
		checkout(t, d)

		if _, err := d.uc.ConfirmZarinpal(ctx, "A-200", true); err != nil {
			t.Fatalf("first confirm: %v", err)
		}
		sub, err := d.uc.ConfirmZarinpal(ctx, "A-200", true)
		if err != nil {
			t.Fatalf("replay must not error, got %v", err)
		}
		if sub.Status != model.StatusActive {
			t.Fatalf("replay status = %s, want active", sub.Status)
		}
		if d.panel.createCalls != 1 {
			t.Fatalf("panel create calls = %d, want 1", d.panel.createCalls)
		}
	})

	t.Run("failed verification marks the order failed", func(t *testing.T) {
		d := newOrderUCDeps()
		sub := checkout(t, d)
		d.gateway.VerifyFunc = func(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
			return &adapter.PaymentVerification{Success: false}, nil
		}

		_, err := d.uc.ConfirmZarinpal(ctx, "A-200", true)
		if !errors.Is(err, domain.ErrPaymentNotVerified) {
			t.Fatalf("err = %v, want ErrPaymentNotVerified", err)
		}
		got, _ := d.subs.FindByID(ctx, nil, sub.ID)
		if got.Status != model.StatusFailed {
			t.Fatalf("status = %s, want failed", got.Status)
		}
		if d.panel.createCalls != 0 {
			t.Fatal("failed payment must not provision")
		}
	})

	t.Run("NOK status cancels the order without verifying", func(t *testing.T) {
		d := newOrderUCDeps()
		sub := checkout(t, d)

		got, err := d.uc.ConfirmZarinpal(ctx, "A-200", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != model.StatusCancelled {
			t.Fatalf("status = %s, want cancelled", got.Status)
		}
		if d.gateway.verifyCalls != 0 {
			t.Fatal("cancelled callback must not call verify")
		}
		stored, _ := d.subs.FindByID(ctx, nil, sub.ID)
		if stored.Status != model.StatusCancelled {
			t.Fatalf("stored status = %s, want cancelled", stored.Status)
		}
	})

	t.Run("unknown authority returns not found", func(t *testing.T) {
		d := newOrderUCDeps()
		_, err := d.uc.ConfirmZarinpal(ctx, "A-404", true)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("late NOK redirect cannot cancel a confirmed order", func(t *testing.T) {
		d := newOrderUCDeps()
		sub := checkout(t, d)
		if _, err := d.uc.ConfirmZarinpal(ctx, "A-200", true); err != nil {
			t.Fatalf("confirm: %v", err)
		}

		got, err := d.uc.ConfirmZarinpal(ctx, "A-200", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != model.StatusActive {
			t.Fatalf("status = %s, the replayed NOK must not undo the payment", got.Status)
		}
		stored, _ := d.subs.FindByID(ctx, nil, sub.ID)
		if stored.Status != model.StatusActive {
			t.Fatalf("stored status = %s, want active", stored.Status)
		}
		if d.panel.createCalls != 1 {
			t.Fatalf("panel create calls = %d, want 1", d.panel.createCalls)
		}
	})
}

func TestOrderUseCase_ReconcileZarinpal(t *testing.T) {
	ctx := context.Background()

	checkout := func(t *testing.T, d *orderUCTestDeps) *model.Subscription {
		t.Helper()
		d.savePlan(ctx, 250_000)
		d.gateway.RequestFunc = func(ctx context.Context, amountRial int64, description, callbackURL string, meta map[string]string) (*adapter.PaymentRequest, error) {
			return &adapter.PaymentRequest{Reference: "A-300", RedirectURL: "https://zarinpal.example/StartPay/A-300"}, nil
		}
		resp, err := d.uc.Checkout(ctx, CheckoutRequest{Username: "alice", PlanID: "plan-1", Method: MethodZarinpal})
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		return resp.Subscription
	}

	t.Run("probing an unpaid order leaves it pending", func(t *testing.T) {
		// The customer is still at the bank: verify fails because nothing
		// was paid yet, not because the payment was rejected.
		d := newOrderUCDeps()
		sub := checkout(t, d)
		d.gateway.VerifyFunc = func(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
			return &adapter.PaymentVerification{Success: false}, nil
		}

		_, err := d.uc.ReconcileZarinpal(ctx, "A-300")
		if !errors.Is(err, domain.ErrPaymentNotVerified) {
			t.Fatalf("err = %v, want ErrPaymentNotVerified", err)
		}
		got, _ := d.subs.FindByID(ctx, nil, sub.ID)
		if got.Status != model.StatusPending {
			t.Fatalf("status = %s, a probe must leave the row pending", got.Status)
		}
		if d.panel.createCalls != 0 {
			t.Fatal("probe must not provision")
		}
	})

	t.Run("probe confirms and provisions once the payment settles", func(t *testing.T) {
		d := newOrderUCDeps()
		sub := checkout(t, d)
		d.gateway.VerifyFunc = func(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
			return &adapter.PaymentVerification{Success: true, ProviderRefID: "777"}, nil
		}

		got, err := d.uc.ReconcileZarinpal(ctx, "A-300")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != model.StatusActive {
			t.Fatalf("status = %s, want active", got.Status)
		}
		stored, _ := d.subs.FindByID(ctx, nil, sub.ID)
		if stored.ZarinpalRefID == nil || *stored.ZarinpalRefID != "777" {
			t.Fatal("ref id not persisted")
		}
	})

	t.Run("a genuine verification re-opens a failed order", func(t *testing.T) {
		d := newOrderUCDeps()
		sub := checkout(t, d)

		// First callback: verify fails, the row goes to failed.
		paid := false
		d.gateway.VerifyFunc = func(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
			if !paid {
				return &adapter.PaymentVerification{Success: false}, nil
			}
			return &adapter.PaymentVerification{Success: true, ProviderRefID: "888"}, nil
		}
		if _, err := d.uc.ConfirmZarinpal(ctx, "A-300", true); !errors.Is(err, domain.ErrPaymentNotVerified) {
			t.Fatalf("err = %v, want ErrPaymentNotVerified", err)
		}

		// The bank settles late; the retried callback now verifies. The
		// money is captured, so the failed row must be confirmed, not
		// silently discarded.
		paid = true
		got, err := d.uc.ConfirmZarinpal(ctx, "A-300", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != model.StatusActive {
			t.Fatalf("status = %s, want active", got.Status)
		}
		stored, _ := d.subs.FindByID(ctx, nil, sub.ID)
		if stored.ZarinpalRefID == nil || *stored.ZarinpalRefID != "888" {
			t.Fatal("ref id not persisted on the re-opened row")
		}
		if d.panel.createCalls != 1 {
			t.Fatalf("panel create calls = %d, want 1", d.panel.createCalls)
		}
	})
}

func TestOrderUseCase_AwaitCrypto(t *testing.T) {
	ctx := context.Background()

	cryptoCheckout := func(t *testing.T, d *orderUCTestDeps) *model.Subscription {
		t.Helper()
		d.savePlan(ctx, 250_000)
		d.crypto.RequestFunc = func(ctx context.Context, amountRial int64, description, callbackURL string, meta map[string]string) (*adapter.PaymentRequest, error) {
			return &adapter.PaymentRequest{Reference: "np-1", PayAddress: "TAddr", PayAmount: "4.9"}, nil
		}
		resp, err := d.uc.Checkout(ctx, CheckoutRequest{Username: "alice", PlanID: "plan-1", Method: MethodCrypto})
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		if resp.PayAddress != "TAddr" {
			t.Fatalf("pay address = %q", resp.PayAddress)
		}
		return resp.Subscription
	}

	t.Run("settles after three polls and provisions", func(t *testing.T) {
		d := newOrderUCDeps()
		sub := cryptoCheckout(t, d)
		d.crypto.VerifyFunc = func(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
			if d.crypto.verifyCalls < 3 {
				return &adapter.PaymentVerification{Pending: true}, nil
			}
			return &adapter.PaymentVerification{Success: true, ProviderRefID: "np-1"}, nil
		}

		st, err := d.uc.AwaitCrypto(ctx, sub.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !st.Settled || st.Status != model.StatusActive {
			t.Fatalf("status = %+v, want settled active", st)
		}
		// Poll 3 settles, then confirmAndProvision verifies once more.
		if st.Attempts != 3 {
			t.Fatalf("attempts = %d, want 3", st.Attempts)
		}
		if d.panel.createCalls != 1 {
			t.Fatalf("panel create calls = %d, want 1", d.panel.createCalls)
		}
	})

	t.Run("stops at the attempt budget while still pending", func(t *testing.T) {
		d := newOrderUCDeps()
		sub := cryptoCheckout(t, d)
		polls := 0
		d.crypto.VerifyFunc = func(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
			polls++
			return &adapter.PaymentVerification{Pending: true}, nil
		}

		st, err := d.uc.AwaitCrypto(ctx, sub.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if polls != 5 {
			t.Fatalf("polls = %d, want exactly the budget of 5", polls)
		}
		if !st.Pending {
			t.Fatal("expected a pending final status")
		}
		got, _ := d.subs.FindByID(ctx, nil, sub.ID)
		if got.Status != model.StatusPending {
			t.Fatalf("status = %s, want pending for the reconciler", got.Status)
		}
	})

	t.Run("terminal provider failure marks the order failed", func(t *testing.T) {
		d := newOrderUCDeps()
		sub := cryptoCheckout(t, d)
		d.crypto.VerifyFunc = func(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
			return &adapter.PaymentVerification{Success: false}, nil
		}

		st, err := d.uc.PollCrypto(ctx, sub.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if st.Status != model.StatusFailed {
			t.Fatalf("status = %s, want failed", st.Status)
		}
	})
}

func TestOrderUseCase_RetryProvisioning(t *testing.T) {
	ctx := context.Background()

	t.Run("retries a parked row and activates it", func(t *testing.T) {
		d := newOrderUCDeps()
		d.savePlan(ctx, 250_000)
		plan, _ := d.plans.FindByID(ctx, nil, "plan-1")
		sub, _ := model.NewSubscription("sub-1", "alice", "0912", plan)
		sub.Status = model.StatusPendingActivation
		d.subs.Save(ctx, nil, sub)

		got, err := d.uc.RetryProvisioning(ctx, "sub-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != model.StatusActive {
			t.Fatalf("status = %s, want active", got.Status)
		}
	})

	t.Run("rejects rows not in pending_activation", func(t *testing.T) {
		d := newOrderUCDeps()
		d.savePlan(ctx, 250_000)
		plan, _ := d.plans.FindByID(ctx, nil, "plan-1")
		sub, _ := model.NewSubscription("sub-2", "bob", "0913", plan)
		d.subs.Save(ctx, nil, sub)

		_, err := d.uc.RetryProvisioning(ctx, "sub-2")
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("err = %v, want ErrConflict", err)
		}
	})
}
