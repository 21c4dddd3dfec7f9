// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vpn-subscription-shop/internal/config"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	notifyAdapters "vpn-subscription-shop/internal/infra/adapters/notify"
	panelAdapters "vpn-subscription-shop/internal/infra/adapters/panel"
	payAdapters "vpn-subscription-shop/internal/infra/adapters/payment"
	pg "vpn-subscription-shop/internal/infra/db/postgres"
	"vpn-subscription-shop/internal/infra/logging"
	red "vpn-subscription-shop/internal/infra/redis"
	"vpn-subscription-shop/internal/infra/sched"
	"vpn-subscription-shop/internal/infra/web"
	"vpn-subscription-shop/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logging, insecure cookies)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	txManager := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	subRepo := pg.NewSubscriptionRepo(pool)
	planRepo := pg.NewPlanRepo(pool)
	panelRepo := pg.NewPanelRepo(pool)
	contractRepo := pg.NewContractRepo(pool)
	creationLogRepo := pg.NewUserCreationLogRepo(pool)
	webhookLogRepo := pg.NewWebhookLogRepo(pool)
	emailLogRepo := pg.NewEmailNotificationRepo(pool)

	// ---- Panel clients ----
	marzban := panelAdapters.NewMarzbanClient(cfg.Panel.RequestTimeout, logger)
	marzneshin := panelAdapters.NewMarzneshinClient(cfg.Panel.RequestTimeout, logger)
	clients := []adapter.PanelClient{
		panelAdapters.NewAuditedClient(marzban, creationLogRepo, logger),
		panelAdapters.NewAuditedClient(marzneshin, creationLogRepo, logger),
	}
	selector := panelAdapters.NewSelector(panelRepo, clients, logger)

	// ---- Payment gateways (each rail is optional per deployment) ----
	gateways := map[usecase.PaymentMethod]adapter.PaymentGateway{}
	var recurring adapter.RecurringGateway
	if cfg.Payment.ZarinPal.MerchantID != "" {
		zp, err := payAdapters.NewZarinPalGateway(cfg.Payment.ZarinPal.MerchantID, cfg.Payment.ZarinPal.CallbackURL, cfg.Payment.ZarinPal.Sandbox, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("zarinpal gateway")
		}
		gateways[usecase.MethodZarinpal] = zp
		recurring = zp
	}
	if cfg.Payment.NOWPayments.APIKey != "" {
		np, err := payAdapters.NewNOWPaymentsGateway(cfg.Payment.NOWPayments.APIKey, cfg.Payment.NOWPayments.PayCurrency, cfg.Payment.NOWPayments.USDRate, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nowpayments gateway")
		}
		gateways[usecase.MethodCrypto] = np
	}
	if cfg.Payment.Stripe.APIKey != "" {
		st, err := payAdapters.NewStripeGateway(cfg.Payment.Stripe.APIKey, cfg.Payment.Stripe.SuccessURL, cfg.Payment.Stripe.CancelURL, cfg.Payment.Stripe.Currency, cfg.Payment.Stripe.USDRate, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("stripe gateway")
		}
		gateways[usecase.MethodStripe] = st
	}
	if len(gateways) == 0 {
		logger.Warn().Msg("no payment gateways configured; only free and manual orders will work")
	}

	// ---- Notifications ----
	var mailer adapter.Mailer
	if cfg.Email.APIKey != "" {
		mailer, err = notifyAdapters.NewAPIMailer(cfg.Email.APIKey, cfg.Email.APIURL, cfg.Email.From)
		if err != nil {
			logger.Fatal().Err(err).Msg("mailer")
		}
	} else {
		mailer = notifyAdapters.NopMailer{}
		logger.Warn().Msg("no email provider configured; decision emails disabled")
	}
	webhookSender := notifyAdapters.NewHTTPWebhookSender(15 * time.Second)

	// ---- Use cases ----
	notifyUC := usecase.NewNotificationUseCase(mailer, webhookSender, cfg.Webhook.URLs, cfg.Email.AdminAddr, emailLogRepo, webhookLogRepo, logger)
	provisionUC := usecase.NewProvisionUseCase(subRepo, planRepo, selector, model.PanelType(cfg.Panel.DefaultType), logger)
	orderUC := usecase.NewOrderUseCase(subRepo, planRepo, gateways, provisionUC, notifyUC, locker, txManager, cfg.Web.BaseURL, logger)
	decisionUC := usecase.NewDecisionUseCase(subRepo, provisionUC, notifyUC, logger)

	var contractUC usecase.ContractUseCase
	if recurring != nil {
		contractUC = usecase.NewContractUseCase(contractRepo, subRepo, recurring, provisionUC, notifyUC, logger)
	}

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Web.JWTSecret, cfg.Web.AdminUser, cfg.Web.AdminPass, !cfg.Runtime.Dev, 30*time.Minute)
	srv := web.NewServer(web.ServerDeps{
		OrderUC:       orderUC,
		DecisionUC:    decisionUC,
		ContractUC:    contractUC,
		NotifyUC:      notifyUC,
		Subscriptions: subRepo,
		Plans:         planRepo,
		Panels:        panelRepo,
		Selector:      selector,
		CreationLogs:  creationLogRepo,
		WebhookLogs:   webhookLogRepo,
		EmailLogs:     emailLogRepo,
		Auth:          auth,
		RateLimiter:   rateLimiter,
		BaseURL:       cfg.Web.BaseURL,
		Port:          cfg.Web.Port,
		Logger:        logger,
	})
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Workers ----
	reconciler := sched.NewPaymentReconciler(orderUC, subRepo, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.StaleAfter, logger)
	go func() { _ = reconciler.Run(ctx) }()
	expiry := sched.NewExpiryWorker(cfg.Scheduler.ExpiryInterval, subRepo, logger)
	go func() { _ = expiry.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
