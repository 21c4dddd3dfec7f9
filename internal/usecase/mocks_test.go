// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memSubscriptionRepo is a small in-memory implementation used by unit tests.
// The Mark*/Claim* methods reproduce the guarded-update semantics of the
// Postgres repo so the orchestrator's idempotency paths are exercised.
type memSubscriptionRepo struct {
	mu      sync.RWMutex
	store   map[string]*model.Subscription
	saveErr error // used by tests to simulate save failures
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{store: make(map[string]*model.Subscription)}
}

func (m *memSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *memSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubscriptionRepo) FindByZarinpalAuthority(ctx context.Context, tx repository.Tx, authority string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.store {
		if s.ZarinpalAuthority != nil && *s.ZarinpalAuthority == authority {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSubscriptionRepo) FindByProviderPaymentID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.store {
		if s.ProviderPaymentID != nil && *s.ProviderPaymentID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSubscriptionRepo) ClaimAdminDecision(ctx context.Context, tx repository.Tx, id, token string, decision model.AdminDecision, decidedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok || s.AdminDecisionToken == nil || *s.AdminDecisionToken != token {
		return domain.ErrNotFound
	}
	if s.AdminDecision == nil || *s.AdminDecision != model.DecisionPending {
		return domain.ErrTokenConsumed
	}
	d := decision
	at := decidedAt
	s.AdminDecision = &d
	s.AdminDecidedAt = &at
	return nil
}

func (m *memSubscriptionRepo) MarkPaymentConfirmed(ctx context.Context, tx repository.Tx, id, provider, refID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return domain.ErrConflict
	}
	if s.Status != model.StatusPending && s.Status != model.StatusPendingManual && s.Status != model.StatusFailed {
		return domain.ErrConflict
	}
	s.Status = model.StatusPaid
	ref := refID
	if provider == "zarinpal" {
		s.ZarinpalRefID = &ref
	} else {
		s.ProviderPaymentID = &ref
	}
	return nil
}

func (m *memSubscriptionRepo) MarkProvisioned(ctx context.Context, tx repository.Tx, id, url string, expireAt time.Time) error {
	if url == "" {
		return domain.ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	u := url
	exp := expireAt
	s.Status = model.StatusActive
	s.SubscriptionURL = &u
	s.PanelUserCreated = true
	s.ExpireAt = &exp
	return nil
}

func (m *memSubscriptionRepo) MarkProvisionFailed(ctx context.Context, tx repository.Tx, id, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = model.StatusPendingActivation
	n := note
	s.Notes = &n
	return nil
}

func (m *memSubscriptionRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.SubscriptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = status
	return nil
}

func (m *memSubscriptionRepo) UpdateStatusFrom(ctx context.Context, tx repository.Tx, id string, from, to model.SubscriptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok || s.Status != from {
		return domain.ErrConflict
	}
	s.Status = to
	return nil
}

func (m *memSubscriptionRepo) SetZarinpalAuthority(ctx context.Context, tx repository.Tx, id, authority string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	a := authority
	s.ZarinpalAuthority = &a
	return nil
}

func (m *memSubscriptionRepo) SetProviderPaymentID(ctx context.Context, tx repository.Tx, id, pid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	p := pid
	s.ProviderPaymentID = &p
	return nil
}

func (m *memSubscriptionRepo) ListByStatus(ctx context.Context, tx repository.Tx, status model.SubscriptionStatus, limit int) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.Status == status {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.Status == model.StatusPending && s.CreatedAt.Before(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) ListActiveExpiredBefore(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.Status == model.StatusActive && s.ExpireAt != nil && s.ExpireAt.Before(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memPlanRepo provides in-memory plans for tests.
type memPlanRepo struct {
	mu       sync.RWMutex
	plans    map[string]*model.SubscriptionPlan
	mappings map[string][]model.PlanPanelMapping
}

func newMemPlanRepo() *memPlanRepo {
	return &memPlanRepo{
		plans:    make(map[string]*model.SubscriptionPlan),
		mappings: make(map[string][]model.PlanPanelMapping),
	}
}

func (m *memPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.SubscriptionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.plans[p.ID] = &cp
	return nil
}

func (m *memPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPlanRepo) FindWithPanels(ctx context.Context, tx repository.Tx, id string) (*model.PlanWithPanels, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &model.PlanWithPanels{Plan: *p, Mappings: m.mappings[id]}, nil
}

func (m *memPlanRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.SubscriptionPlan
	for _, p := range m.plans {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPlanRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plans, id)
	return nil
}

// memContractRepo provides in-memory payman contracts for tests.
type memContractRepo struct {
	mu    sync.RWMutex
	store map[string]*model.ZarinpalContract
}

func newMemContractRepo() *memContractRepo {
	return &memContractRepo{store: make(map[string]*model.ZarinpalContract)}
}

func (m *memContractRepo) Save(ctx context.Context, tx repository.Tx, c *model.ZarinpalContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *memContractRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ZarinpalContract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memContractRepo) FindByPaymanAuthority(ctx context.Context, tx repository.Tx, authority string) (*model.ZarinpalContract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.store {
		if c.PaymanAuthority == authority {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memContractRepo) FindActiveByMobile(ctx context.Context, tx repository.Tx, mobile string) (*model.ZarinpalContract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.store {
		if c.Mobile == mobile && c.Status == model.ContractStatusActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memContractRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.ContractStatus, signature *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	if signature != nil {
		sig := *signature
		c.Signature = &sig
	}
	return nil
}

// memWebhookLogRepo / memEmailLogRepo record notification attempts.
type memWebhookLogRepo struct {
	mu   sync.Mutex
	logs []*model.WebhookLog
}

func (m *memWebhookLogRepo) Save(ctx context.Context, tx repository.Tx, l *model.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *memWebhookLogRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.WebhookLog(nil), m.logs...), nil
}

type memEmailLogRepo struct {
	mu   sync.Mutex
	logs []*model.EmailNotification
}

func (m *memEmailLogRepo) Save(ctx context.Context, tx repository.Tx, l *model.EmailNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *memEmailLogRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.EmailNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.EmailNotification(nil), m.logs...), nil
}

// mockGateway lets tests script gateway behavior per call.
type mockGateway struct {
	name            string
	RequestFunc     func(ctx context.Context, amountRial int64, description, callbackURL string, meta map[string]string) (*adapter.PaymentRequest, error)
	VerifyFunc      func(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error)
	requestCalls    int
	verifyCalls     int
	lastAmountRial  int64
	lastDescription string
}

func (g *mockGateway) Name() string {
	if g.name == "" {
		return "mock"
	}
	return g.name
}

func (g *mockGateway) RequestPayment(ctx context.Context, amountRial int64, description, callbackURL string, meta map[string]string) (*adapter.PaymentRequest, error) {
	g.requestCalls++
	g.lastAmountRial = amountRial
	g.lastDescription = description
	if g.RequestFunc != nil {
		return g.RequestFunc(ctx, amountRial, description, callbackURL, meta)
	}
	return &adapter.PaymentRequest{Reference: "ref-1", RedirectURL: "https://pay.example/ref-1"}, nil
}

func (g *mockGateway) VerifyPayment(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
	g.verifyCalls++
	g.lastAmountRial = expectedAmountRial
	if g.VerifyFunc != nil {
		return g.VerifyFunc(ctx, reference, expectedAmountRial)
	}
	return &adapter.PaymentVerification{Success: true, ProviderRefID: "prov-1"}, nil
}

// mockRecurringGateway scripts payman behavior.
type mockRecurringGateway struct {
	RequestContractFunc func(ctx context.Context, terms adapter.ContractTerms, callbackURL string) (*adapter.ContractRequest, error)
	VerifyContractFunc  func(ctx context.Context, paymanAuthority string) (string, error)
	DirectCheckoutFunc  func(ctx context.Context, signature string, amountRial int64, description string) (string, error)
	cancelCalls         int
}

func (g *mockRecurringGateway) RequestContract(ctx context.Context, terms adapter.ContractTerms, callbackURL string) (*adapter.ContractRequest, error) {
	if g.RequestContractFunc != nil {
		return g.RequestContractFunc(ctx, terms, callbackURL)
	}
	return &adapter.ContractRequest{PaymanAuthority: "payman-1", RedirectURL: "https://bank.example/payman-1"}, nil
}

func (g *mockRecurringGateway) VerifyContract(ctx context.Context, paymanAuthority string) (string, error) {
	if g.VerifyContractFunc != nil {
		return g.VerifyContractFunc(ctx, paymanAuthority)
	}
	return "sig-1", nil
}

func (g *mockRecurringGateway) DirectCheckout(ctx context.Context, signature string, amountRial int64, description string) (string, error) {
	if g.DirectCheckoutFunc != nil {
		return g.DirectCheckoutFunc(ctx, signature, amountRial, description)
	}
	return "55501", nil
}

func (g *mockRecurringGateway) CancelContract(ctx context.Context, signature string) error {
	g.cancelCalls++
	return nil
}

// mockSelector resolves every request to one scripted panel and client.
type mockSelector struct {
	panel  *model.PanelServer
	client adapter.PanelClient
	err    error
}

func (s *mockSelector) Resolve(ctx context.Context, panelID string, panelType model.PanelType) (*model.PanelServer, adapter.PanelClient, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.panel, s.client, nil
}

// mockPanelClient scripts panel creation.
type mockPanelClient struct {
	typ         model.PanelType
	CreateFunc  func(ctx context.Context, panel *model.PanelServer, req adapter.CreateUserRequest) (*adapter.PanelUser, error)
	GetFunc     func(ctx context.Context, panel *model.PanelServer, username string) (*adapter.PanelUser, error)
	createCalls int
}

func (c *mockPanelClient) Type() model.PanelType {
	if c.typ == "" {
		return model.PanelTypeMarzban
	}
	return c.typ
}

func (c *mockPanelClient) CreateUser(ctx context.Context, panel *model.PanelServer, req adapter.CreateUserRequest) (*adapter.PanelUser, error) {
	c.createCalls++
	if c.CreateFunc != nil {
		return c.CreateFunc(ctx, panel, req)
	}
	return &adapter.PanelUser{
		Username:        req.Username,
		SubscriptionURL: "https://panel.example/sub/" + req.Username,
		ExpireAt:        time.Now().AddDate(0, 0, req.DurationDays),
	}, nil
}

func (c *mockPanelClient) GetUser(ctx context.Context, panel *model.PanelServer, username string) (*adapter.PanelUser, error) {
	if c.GetFunc != nil {
		return c.GetFunc(ctx, panel, username)
	}
	return nil, domain.ErrNotFound
}

// mockLocker always grants; lock contention is simulated via grantErr.
type mockLocker struct {
	grantErr    error
	lockCalls   int
	unlockCalls int
}

func (l *mockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.lockCalls++
	if l.grantErr != nil {
		return "", l.grantErr
	}
	return "tok", nil
}

func (l *mockLocker) Unlock(ctx context.Context, key, token string) error {
	l.unlockCalls++
	return nil
}

// mockTxManager runs the function inline with a nil tx.
type mockTxManager struct{}

func (mockTxManager) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// mockMailer and mockWebhookSender record notification traffic.
type mockMailer struct {
	mu   sync.Mutex
	sent []adapter.EmailMessage
	err  error
}

func (m *mockMailer) Send(ctx context.Context, msg adapter.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

type mockWebhookSender struct {
	mu     sync.Mutex
	posted []string // URLs
	bodies [][]byte
	status int
	err    error
}

func (m *mockWebhookSender) Send(ctx context.Context, url string, payload []byte) (int, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posted = append(m.posted, url)
	m.bodies = append(m.bodies, append([]byte(nil), payload...))
	status := m.status
	if status == 0 && m.err == nil {
		status = 200
	}
	return status, "", m.err
}
