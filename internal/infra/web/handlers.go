package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/infra/redis"
	"vpn-subscription-shop/internal/usecase"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errResponse struct {
	Error string `json:"error"`
}

// httpStatus maps domain sentinel errors to HTTP status codes. Anything not
// classified is a 500 with the detail kept out of the response body.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrTokenConsumed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentNotVerified):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrAuthFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errResponse{Error: msg})
}

// ---- auth ----

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !s.auth.CheckCredentials(req.Username, req.Password) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		http.Error(w, "Failed to mint session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// ---- orders ----

type orderCreateRequest struct {
	Username        string `json:"username"`
	Mobile          string `json:"mobile"`
	Email           string `json:"email"`
	PlanID          string `json:"plan_id"`
	Method          string `json:"method"` // zarinpal|crypto|stripe|manual
	DiscountPercent int    `json:"discount_percent"`
	ReceiptImageURL string `json:"receipt_image_url"`
	Notes           string `json:"notes"`
}

type orderResponse struct {
	Subscription *subscriptionView `json:"subscription"`
	RedirectURL  string            `json:"redirect_url,omitempty"`
	PayAddress   string            `json:"pay_address,omitempty"`
	PayAmount    string            `json:"pay_amount,omitempty"`
	Provisioned  bool              `json:"provisioned"`
}

// subscriptionView is the customer-facing projection: internal references
// (decision token, provider ids) never leave the API.
type subscriptionView struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Status          string     `json:"status"`
	PriceToman      int64      `json:"price_toman"`
	DataLimitGB     int        `json:"data_limit_gb"`
	DurationDays    int        `json:"duration_days"`
	SubscriptionURL *string    `json:"subscription_url,omitempty"`
	ExpireAt        *time.Time `json:"expire_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toView(sub *model.Subscription) *subscriptionView {
	if sub == nil {
		return nil
	}
	return &subscriptionView{
		ID:              sub.ID,
		Username:        sub.Username,
		Status:          string(sub.Status),
		PriceToman:      sub.PriceToman,
		DataLimitGB:     sub.DataLimitGB,
		DurationDays:    sub.DurationDays,
		SubscriptionURL: sub.SubscriptionURL,
		ExpireAt:        sub.ExpireAt,
		CreatedAt:       sub.CreatedAt,
	}
}

func (s *Server) orderCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req orderCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := s.orderUC.Checkout(r.Context(), usecase.CheckoutRequest{
		Username:        req.Username,
		Mobile:          req.Mobile,
		Email:           req.Email,
		PlanID:          req.PlanID,
		Method:          usecase.PaymentMethod(req.Method),
		DiscountPercent: req.DiscountPercent,
		ReceiptImageURL: req.ReceiptImageURL,
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	// Crypto settlements are also watched server-side: the browser poll
	// loop dies with the tab, the watcher keeps polling until the attempt
	// budget runs out and the reconciler takes over.
	if usecase.PaymentMethod(req.Method) == usecase.MethodCrypto && !resp.Provisioned {
		subID := resp.Subscription.ID
		watchCtx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := s.orderUC.AwaitCrypto(watchCtx, subID); err != nil {
				s.log.Warn().Str("subscription_id", subID).Err(err).Msg("crypto settlement watch failed")
			}
		}()
	}
	writeJSON(w, http.StatusCreated, orderResponse{
		Subscription: toView(resp.Subscription),
		RedirectURL:  resp.RedirectURL,
		PayAddress:   resp.PayAddress,
		PayAmount:    resp.PayAmount,
		Provisioned:  resp.Provisioned,
	})
}

func (s *Server) orderGetHandler(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.FindByID(r.Context(), nil, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(sub))
}

func (s *Server) cryptoStatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.orderUC.PollCrypto(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) orderRetryHandler(w http.ResponseWriter, r *http.Request) {
	sub, err := s.orderUC.RetryProvisioning(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(sub))
}

// ---- payment callbacks ----

// zarinpalCallbackHandler receives the bank redirect:
// GET /payment/zarinpal/callback?Authority=...&Status=OK|NOK
func (s *Server) zarinpalCallbackHandler(w http.ResponseWriter, r *http.Request) {
	authority := r.URL.Query().Get("Authority")
	if authority == "" {
		http.Error(w, "Authority is required", http.StatusBadRequest)
		return
	}
	ok := r.URL.Query().Get("Status") == "OK"
	sub, err := s.orderUC.ConfirmZarinpal(r.Context(), authority, ok)
	if err != nil && !errors.Is(err, domain.ErrPaymentNotVerified) {
		s.renderResult(w, "Payment error", "We could not process your payment. Contact support with your order id.")
		return
	}
	s.renderOrderOutcome(w, sub)
}

// stripeVerifyHandler is the success-page return:
// GET /payment/stripe/verify?session_id=...
func (s *Server) stripeVerifyHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	sub, err := s.orderUC.ConfirmStripe(r.Context(), sessionID)
	if err != nil && !errors.Is(err, domain.ErrPaymentNotVerified) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(sub))
}

// renderOrderOutcome shows the customer where their order landed after a
// payment redirect.
func (s *Server) renderOrderOutcome(w http.ResponseWriter, sub *model.Subscription) {
	if sub == nil {
		s.renderResult(w, "Payment error", "Order not found.")
		return
	}
	switch sub.Status {
	case model.StatusActive:
		body := "Your subscription is active."
		if sub.SubscriptionURL != nil {
			body += ` Subscription link: <a href="` + html.EscapeString(*sub.SubscriptionURL) + `">` + html.EscapeString(*sub.SubscriptionURL) + `</a>`
		}
		s.renderResult(w, "Payment successful", body)
	case model.StatusPendingActivation:
		s.renderResult(w, "Payment received", "Your payment is confirmed; the account is being set up. You will be notified shortly.")
	case model.StatusFailed:
		s.renderResult(w, "Payment failed", "The payment could not be verified. No money has been taken; contact support if your bank says otherwise.")
	case model.StatusCancelled:
		s.renderResult(w, "Payment cancelled", "You cancelled the payment. The order has been closed.")
	default:
		s.renderResult(w, "Payment in progress", "Order status: "+html.EscapeString(string(sub.Status)))
	}
}

func (s *Server) renderResult(w http.ResponseWriter, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html><html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>`,
		html.EscapeString(title), html.EscapeString(title), body)
}

// ---- payman contracts ----

type contractCreateRequest struct {
	Mobile        string `json:"mobile"`
	MaxAmountRial int64  `json:"max_amount_rial"`
}

func (s *Server) contractCreateHandler(w http.ResponseWriter, r *http.Request) {
	if s.contractUC == nil {
		http.Error(w, "Direct debit is not available", http.StatusServiceUnavailable)
		return
	}
	var req contractCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	callback := s.baseURL + "/payment/payman/callback"
	c, redirect, err := s.contractUC.RequestContract(r.Context(), req.Mobile, req.MaxAmountRial, callback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"contract_id":  c.ID,
		"status":       c.Status,
		"redirect_url": redirect,
	})
}

// paymanCallbackHandler resolves the bank redirect for a contract:
// GET /payment/payman/callback?payman_authority=...&status=OK|NOK
func (s *Server) paymanCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if s.contractUC == nil {
		http.Error(w, "Direct debit is not available", http.StatusServiceUnavailable)
		return
	}
	authority := r.URL.Query().Get("payman_authority")
	if authority == "" {
		http.Error(w, "payman_authority is required", http.StatusBadRequest)
		return
	}
	approved := r.URL.Query().Get("status") == "OK"
	c, err := s.contractUC.HandleCallback(r.Context(), authority, approved)
	if err != nil {
		s.renderResult(w, "Contract error", "The direct debit contract could not be activated. Contact support.")
		return
	}
	if c.Status == model.ContractStatusActive {
		s.renderResult(w, "Contract active", "Direct debit is set up; renewals will be charged automatically.")
		return
	}
	s.renderResult(w, "Contract not activated", "Status: "+html.EscapeString(string(c.Status)))
}

func (s *Server) contractCancelHandler(w http.ResponseWriter, r *http.Request) {
	if s.contractUC == nil {
		http.Error(w, "Direct debit is not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.contractUC.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) chargeRenewalHandler(w http.ResponseWriter, r *http.Request) {
	if s.contractUC == nil {
		http.Error(w, "Direct debit is not available", http.StatusServiceUnavailable)
		return
	}
	sub, err := s.contractUC.ChargeRenewal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(sub))
}

// ---- admin decision ----

// decisionHandler consumes a one-time approve/reject link from the decision
// email. It is a GET because it must work from a mail client; the token is
// the credential, backed by a per-IP rate limit.
func (s *Server) decisionHandler(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		ip, _, _ := net.SplitHostPort(r.RemoteAddr)
		if ip == "" {
			ip = r.RemoteAddr
		}
		allowed, err := s.limiter.Allow(r.Context(), redis.DecisionKey(ip), 10, time.Minute)
		if err == nil && !allowed {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
	}

	q := r.URL.Query()
	res, err := s.decisionUC.Decide(r.Context(),
		q.Get("subscription_id"), q.Get("token"), usecase.DecisionAction(q.Get("action")))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTokenConsumed):
			s.renderResult(w, "Already decided", "This payment has already been approved or rejected.")
		case errors.Is(err, domain.ErrNotFound):
			s.renderResult(w, "Invalid link", "This decision link is not valid.")
		case errors.Is(err, domain.ErrInvalidArgument):
			http.Error(w, "Bad request", http.StatusBadRequest)
		default:
			s.renderResult(w, "Error", "The decision could not be applied; try again.")
		}
		return
	}
	s.renderDecisionOutcome(w, res)
}

// decisionJSONHandler is the same operation for the admin panel UI.
func (s *Server) decisionJSONHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
		Token          string `json:"token"`
		Action         string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.decisionUC.Decide(r.Context(), req.SubscriptionID, req.Token, usecase.DecisionAction(req.Action))
	if err != nil {
		writeError(w, err)
		return
	}
	out := map[string]any{
		"subscription": toView(res.Subscription),
		"decision":     res.Decision,
	}
	if res.ProvisioningErr != nil {
		out["provisioning_error"] = res.ProvisioningErr.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) renderDecisionOutcome(w http.ResponseWriter, res *usecase.DecisionResult) {
	if res.Decision == model.DecisionRejected {
		s.renderResult(w, "Payment rejected", "The order has been rejected; the customer will be notified.")
		return
	}
	if res.ProvisioningErr != nil {
		s.renderResult(w, "Approved, activation pending",
			"The payment was approved but the VPN account could not be created yet. It is queued for a retry.")
		return
	}
	s.renderResult(w, "Payment approved", "The subscription is active.")
}

// ---- plans ----

func (s *Server) plansListHandler(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.ListActive(r.Context(), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Data []*model.SubscriptionPlan `json:"data"`
	}{Data: plans})
}

type planCreateRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	DataLimitGB  int    `json:"data_limit_gb"`
	DurationDays int    `json:"duration_days"`
	PriceToman   int64  `json:"price_toman"`
}

func (s *Server) planCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req planCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.DurationDays <= 0 || req.PriceToman < 0 {
		http.Error(w, "name, duration_days and a non-negative price are required", http.StatusBadRequest)
		return
	}
	now := time.Now()
	plan := &model.SubscriptionPlan{
		ID:           newID(),
		Name:         req.Name,
		Description:  req.Description,
		DataLimitGB:  req.DataLimitGB,
		DurationDays: req.DurationDays,
		PriceToman:   req.PriceToman,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.plans.Save(r.Context(), nil, plan); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) planDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.plans.Delete(r.Context(), nil, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- panels ----

func (s *Server) panelsListHandler(w http.ResponseWriter, r *http.Request) {
	panels, err := s.panels.ListAll(r.Context(), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	// Admin credentials stay server-side.
	type panelView struct {
		ID           string            `json:"id"`
		Name         string            `json:"name"`
		Type         model.PanelType   `json:"type"`
		URL          string            `json:"url"`
		IsActive     bool              `json:"is_active"`
		HealthStatus model.PanelHealth `json:"health_status"`
	}
	out := make([]panelView, 0, len(panels))
	for _, p := range panels {
		out = append(out, panelView{
			ID: p.ID, Name: p.Name, Type: p.Type, URL: p.URL,
			IsActive: p.IsActive, HealthStatus: p.HealthStatus,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Data []panelView `json:"data"`
	}{Data: out})
}

// panelTestHandler checks connectivity to one panel by fetching a well-known
// account, and records the result as the panel's health.
func (s *Server) panelTestHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	panel, client, err := s.selector.Resolve(r.Context(), id, "")
	if err != nil {
		writeError(w, err)
		return
	}
	health := model.PanelHealthOnline
	probe := "admin"
	if panel.TemplateUsername != nil {
		probe = *panel.TemplateUsername
	}
	_, pErr := client.GetUser(r.Context(), panel, probe)
	if pErr != nil && !errors.Is(pErr, domain.ErrNotFound) {
		health = model.PanelHealthOffline
	}
	if err := s.panels.UpdateHealth(r.Context(), nil, panel.ID, health); err != nil {
		s.log.Warn().Str("panel_id", panel.ID).Err(err).Msg("panel health update failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{"panel_id": panel.ID, "health": health})
}

// ---- logs & notifications ----

func listLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return limit
}

func (s *Server) creationLogsHandler(w http.ResponseWriter, r *http.Request) {
	logs, err := s.creationLogs.ListRecent(r.Context(), nil, listLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Data []*model.UserCreationLog `json:"data"`
	}{Data: logs})
}

func (s *Server) webhookLogsHandler(w http.ResponseWriter, r *http.Request) {
	logs, err := s.webhookLogs.ListRecent(r.Context(), nil, listLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Data []*model.WebhookLog `json:"data"`
	}{Data: logs})
}

func (s *Server) emailLogsHandler(w http.ResponseWriter, r *http.Request) {
	logs, err := s.emailLogs.ListRecent(r.Context(), nil, listLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Data []*model.EmailNotification `json:"data"`
	}{Data: logs})
}

func (s *Server) webhookTestHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType string `json:"event_type"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	results := s.notifyUC.SendTestWebhook(r.Context(), req.EventType)
	writeJSON(w, http.StatusOK, struct {
		Results []usecase.WebhookResult `json:"results"`
	}{Results: results})
}

// ---- orders admin listing ----

func (s *Server) ordersListHandler(w http.ResponseWriter, r *http.Request) {
	status := model.SubscriptionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.StatusPendingManual
	}
	subs, err := s.subs.ListByStatus(r.Context(), nil, status, listLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*subscriptionView, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toView(sub))
	}
	writeJSON(w, http.StatusOK, struct {
		Data []*subscriptionView `json:"data"`
	}{Data: out})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
