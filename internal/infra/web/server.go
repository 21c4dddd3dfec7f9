package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
	"vpn-subscription-shop/internal/infra/redis"
	"vpn-subscription-shop/internal/usecase"
)

// Server exposes the storefront and admin HTTP API.
type Server struct {
	orderUC    usecase.OrderUseCase
	decisionUC usecase.DecisionUseCase
	contractUC usecase.ContractUseCase
	notifyUC   usecase.NotificationUseCase

	subs         repository.SubscriptionRepository
	plans        repository.PlanRepository
	panels       repository.PanelRepository
	selector     adapter.PanelSelector
	creationLogs repository.UserCreationLogRepository
	webhookLogs  repository.WebhookLogRepository
	emailLogs    repository.EmailNotificationRepository

	auth    *AuthManager
	limiter *redis.RateLimiter
	baseURL string
	port    int
	log     *zerolog.Logger

	httpSrv *http.Server
}

type ServerDeps struct {
	OrderUC    usecase.OrderUseCase
	DecisionUC usecase.DecisionUseCase
	ContractUC usecase.ContractUseCase
	NotifyUC   usecase.NotificationUseCase

	Subscriptions repository.SubscriptionRepository
	Plans         repository.PlanRepository
	Panels        repository.PanelRepository
	Selector      adapter.PanelSelector
	CreationLogs  repository.UserCreationLogRepository
	WebhookLogs   repository.WebhookLogRepository
	EmailLogs     repository.EmailNotificationRepository

	Auth        *AuthManager
	RateLimiter *redis.RateLimiter
	BaseURL     string
	Port        int
	Logger      *zerolog.Logger
}

func NewServer(d ServerDeps) *Server {
	return &Server{
		orderUC:      d.OrderUC,
		decisionUC:   d.DecisionUC,
		contractUC:   d.ContractUC,
		notifyUC:     d.NotifyUC,
		subs:         d.Subscriptions,
		plans:        d.Plans,
		panels:       d.Panels,
		selector:     d.Selector,
		creationLogs: d.CreationLogs,
		webhookLogs:  d.WebhookLogs,
		emailLogs:    d.EmailLogs,
		auth:         d.Auth,
		limiter:      d.RateLimiter,
		baseURL:      d.BaseURL,
		port:         d.Port,
		log:          d.Logger,
	}
}

func newID() string { return uuid.NewString() }

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	// Provider redirects land here; no session.
	r.Get("/payment/zarinpal/callback", s.zarinpalCallbackHandler)
	r.Get("/payment/stripe/verify", s.stripeVerifyHandler)
	r.Get("/payment/payman/callback", s.paymanCallbackHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Storefront.
		r.Post("/orders", s.orderCreateHandler)
		r.Get("/orders/{id}", s.orderGetHandler)
		r.Get("/orders/{id}/crypto-status", s.cryptoStatusHandler)
		r.Get("/plans", s.plansListHandler)
		r.Post("/contracts", s.contractCreateHandler)

		r.Post("/auth/login", s.loginHandler)
		r.Post("/auth/logout", s.logoutHandler)

		// The emailed decision link: the one-time token is the credential.
		r.Get("/admin/decision", s.decisionHandler)

		// Admin panel, behind the session.
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/admin/decision", s.decisionJSONHandler)
			r.Get("/admin/orders", s.ordersListHandler)
			r.Post("/admin/orders/{id}/retry", s.orderRetryHandler)
			r.Post("/admin/orders/{id}/charge-renewal", s.chargeRenewalHandler)
			r.Post("/admin/plans", s.planCreateHandler)
			r.Delete("/admin/plans/{id}", s.planDeleteHandler)
			r.Get("/admin/panels", s.panelsListHandler)
			r.Post("/admin/panels/{id}/test", s.panelTestHandler)
			r.Delete("/admin/contracts/{id}", s.contractCancelHandler)
			r.Get("/admin/logs/creations", s.creationLogsHandler)
			r.Get("/admin/logs/webhooks", s.webhookLogsHandler)
			r.Get("/admin/logs/emails", s.emailLogsHandler)
			r.Post("/admin/webhook-test", s.webhookTestHandler)
		})
	})

	return r
}

// Start runs the HTTP server until ListenAndServe returns.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              ":" + strconv.Itoa(s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", s.port).Msg("http server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
