// File: internal/infra/adapters/panel/marzneshin_client.go
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

var _ adapter.PanelClient = (*MarzneshinClient)(nil)

// requiredServices are resolved against the panel's service catalog; users
// are created with whichever of these exist on the deployment.
var requiredServices = []string{"all", "default", "general"}

// MarzneshinClient provisions accounts on a Marzneshin panel.
//
// Marzneshin deployments disagree on two points this client has to absorb:
// the admin token endpoint accepts JSON on some versions and form-encoding on
// others, and the accepted user expire payload varies. CreateUser probes a
// fixed sequence of expire strategies and stops at the first one the panel
// accepts. A 409 (username taken) aborts the sequence immediately.
type MarzneshinClient struct {
	client *http.Client
	log    *zerolog.Logger
}

func NewMarzneshinClient(timeout time.Duration, logger *zerolog.Logger) *MarzneshinClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MarzneshinClient{
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

func (c *MarzneshinClient) Type() model.PanelType { return model.PanelTypeMarzneshin }

func (c *MarzneshinClient) token(ctx context.Context, panel *model.PanelServer) (string, error) {
	if panel.AdminUsername == "" || panel.AdminPassword == "" {
		return "", fmt.Errorf("marzneshin %s: %w: missing admin credentials", panel.Name, domain.ErrConfiguration)
	}
	base := strings.TrimRight(panel.URL, "/")

	// JSON first, then form-encoded: the panel inconsistently accepts either.
	jsonBody, _ := json.Marshal(map[string]string{
		"username": panel.AdminUsername,
		"password": panel.AdminPassword,
	})
	if tok, err := c.tokenAttempt(ctx, base, "application/json", bytes.NewReader(jsonBody)); err == nil {
		return tok, nil
	} else if errors.Is(err, domain.ErrAuthFailed) {
		return "", err
	}

	form := url.Values{}
	form.Set("username", panel.AdminUsername)
	form.Set("password", panel.AdminPassword)
	return c.tokenAttempt(ctx, base, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (c *MarzneshinClient) tokenAttempt(ctx context.Context, base, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/admins/token", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("marzneshin token: %w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("marzneshin token: %w", domain.ErrAuthFailed)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("marzneshin token: %w: http %d", domain.ErrProviderRejected, resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" {
		return "", fmt.Errorf("marzneshin token: %w: empty access token", domain.ErrAuthFailed)
	}
	return out.AccessToken, nil
}

// serviceIDs resolves the required service names to numeric ids from the
// panel's catalog. An empty result is allowed; the panel then applies its
// defaults.
func (c *MarzneshinClient) serviceIDs(ctx context.Context, panel *model.PanelServer, token string) ([]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(panel.URL, "/")+"/api/services", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marzneshin services: %w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marzneshin services: %w: http %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	var out struct {
		Items []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("marzneshin services: %w: bad response body", domain.ErrProviderUnavailable)
	}
	var ids []int
	for _, svc := range out.Items {
		for _, want := range requiredServices {
			if strings.EqualFold(svc.Name, want) {
				ids = append(ids, svc.ID)
				break
			}
		}
	}
	return ids, nil
}

// expireStrategies returns the payload variants to probe, in order. The
// accepted schema varies by deployment/version, so each is tried until one
// sticks.
func expireStrategies(expire time.Time, durationDays int) []map[string]any {
	dateStr := expire.UTC().Format(time.RFC3339)
	return []map[string]any{
		{"expire_strategy": "fixed_date", "expire_date": dateStr},
		{"expire_strategy": "fixed_date", "expire": dateStr},
		{"expire_strategy": "start_on_first_use", "usage_duration": durationDays * 86400},
		{"expire_strategy": "never"},
	}
}

func (c *MarzneshinClient) CreateUser(ctx context.Context, panel *model.PanelServer, r adapter.CreateUserRequest) (*adapter.PanelUser, error) {
	token, err := c.token(ctx, panel)
	if err != nil {
		return nil, err
	}
	svcIDs, err := c.serviceIDs(ctx, panel, token)
	if err != nil {
		return nil, err
	}
	if len(r.InboundIDs) > 0 {
		svcIDs = r.InboundIDs
	}

	expire := time.Now().Add(time.Duration(r.DurationDays) * 24 * time.Hour)
	var lastErr error
	for _, strat := range expireStrategies(expire, r.DurationDays) {
		body := map[string]any{
			"username":   r.Username,
			"data_limit": int64(r.DataLimitGB) * gib,
			"note":       r.Notes,
		}
		if len(svcIDs) > 0 {
			body["service_ids"] = svcIDs
		}
		for k, v := range strat {
			body[k] = v
		}

		user, err := c.postUser(ctx, panel, token, body)
		if err == nil {
			return user, nil
		}
		// Username taken or hard failures end the probe; only validation
		// rejections fall through to the next strategy.
		if !errors.Is(err, domain.ErrProviderRejected) {
			return nil, err
		}
		lastErr = err
		c.log.Debug().Str("panel", panel.Name).Interface("strategy", strat["expire_strategy"]).Msg("marzneshin expire strategy rejected, trying next")
	}
	return nil, lastErr
}

func (c *MarzneshinClient) postUser(ctx context.Context, panel *model.PanelServer, token string, body map[string]any) (*adapter.PanelUser, error) {
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(panel.URL, "/")+"/api/users", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marzneshin create user: %w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("marzneshin create user %s: %w: username taken", body["username"], domain.ErrConflict)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("marzneshin create user: %w", domain.ErrAuthFailed)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("marzneshin create user: %w: http %d", domain.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("marzneshin create user: %w: http %d: %s", domain.ErrProviderRejected, resp.StatusCode, truncate(string(raw), 200))
	}

	var out marzneshinUser
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("marzneshin create user: %w: bad response body", domain.ErrProviderUnavailable)
	}
	return out.toPanelUser(panel.URL), nil
}

func (c *MarzneshinClient) GetUser(ctx context.Context, panel *model.PanelServer, username string) (*adapter.PanelUser, error) {
	token, err := c.token(ctx, panel)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(panel.URL, "/")+"/api/users/"+username, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marzneshin get user: %w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("marzneshin user %s: %w", username, domain.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("marzneshin get user: %w", domain.ErrAuthFailed)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("marzneshin get user: %w: http %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	var out marzneshinUser
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("marzneshin get user: %w: bad response body", domain.ErrProviderUnavailable)
	}
	return out.toPanelUser(panel.URL), nil
}

type marzneshinUser struct {
	Username        string `json:"username"`
	SubscriptionURL string `json:"subscription_url"`
	ExpireDate      string `json:"expire_date"`
	DataLimit       int64  `json:"data_limit"`
	UsedTraffic     int64  `json:"used_traffic"`
	IsActive        bool   `json:"is_active"`
}

func (u marzneshinUser) toPanelUser(panelURL string) *adapter.PanelUser {
	var expireAt time.Time
	if u.ExpireDate != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, u.ExpireDate); err == nil {
				expireAt = t
				break
			}
		}
	}
	status := "disabled"
	if u.IsActive {
		status = "active"
	}
	return &adapter.PanelUser{
		Username:        u.Username,
		SubscriptionURL: absoluteURL(panelURL, u.SubscriptionURL),
		ExpireAt:        expireAt,
		DataLimitBytes:  u.DataLimit,
		UsedBytes:       u.UsedTraffic,
		Status:          status,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
