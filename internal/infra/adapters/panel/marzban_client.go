// File: internal/infra/adapters/panel/marzban_client.go
package panel

import (
	"bytes"
	"context"
	"encoding/json"
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

const gib = int64(1) << 30

var _ adapter.PanelClient = (*MarzbanClient)(nil)

// MarzbanClient provisions accounts on a Marzban panel.
//
// Flow: form-encoded credentials to /api/admin/token for a bearer token,
// optionally copy a template user's proxies/inbounds, then POST the new user
// with expire (unix seconds) and data_limit (bytes).
type MarzbanClient struct {
	client *http.Client
	log    *zerolog.Logger
}

func NewMarzbanClient(timeout time.Duration, logger *zerolog.Logger) *MarzbanClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MarzbanClient{
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

func (c *MarzbanClient) Type() model.PanelType { return model.PanelTypeMarzban }

func (c *MarzbanClient) token(ctx context.Context, panel *model.PanelServer) (string, error) {
	if panel.AdminUsername == "" || panel.AdminPassword == "" {
		return "", fmt.Errorf("marzban %s: %w: missing admin credentials", panel.Name, domain.ErrConfiguration)
	}
	form := url.Values{}
	form.Set("username", panel.AdminUsername)
	form.Set("password", panel.AdminPassword)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(panel.URL, "/")+"/api/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("marzban token: %w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("marzban token: %w", domain.ErrAuthFailed)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("marzban token: %w: http %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" {
		return "", fmt.Errorf("marzban token: %w: empty access token", domain.ErrAuthFailed)
	}
	return out.AccessToken, nil
}

// templateConfig fetches the template user's proxies/inbounds so new users
// inherit the panel's protocol setup. Missing template is not fatal.
func (c *MarzbanClient) templateConfig(ctx context.Context, panel *model.PanelServer, token string) (map[string]any, map[string][]string) {
	if panel.TemplateUsername == nil || *panel.TemplateUsername == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(panel.URL, "/")+"/api/user/"+*panel.TemplateUsername, nil)
	if err != nil {
		return nil, nil
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn().Str("panel", panel.Name).Err(err).Msg("marzban template fetch failed")
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Str("panel", panel.Name).Int("status", resp.StatusCode).Msg("marzban template user not found")
		return nil, nil
	}
	var tpl struct {
		Proxies  map[string]any      `json:"proxies"`
		Inbounds map[string][]string `json:"inbounds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tpl); err != nil {
		return nil, nil
	}
	return tpl.Proxies, tpl.Inbounds
}

func (c *MarzbanClient) CreateUser(ctx context.Context, panel *model.PanelServer, r adapter.CreateUserRequest) (*adapter.PanelUser, error) {
	token, err := c.token(ctx, panel)
	if err != nil {
		return nil, err
	}

	proxies, inbounds := c.templateConfig(ctx, panel, token)
	if proxies == nil {
		proxies = map[string]any{"vless": map[string]any{}}
	}

	expire := time.Now().Add(time.Duration(r.DurationDays) * 24 * time.Hour)
	body := map[string]any{
		"username":   r.Username,
		"proxies":    proxies,
		"expire":     expire.Unix(),
		"data_limit": int64(r.DataLimitGB) * gib,
		"note":       r.Notes,
	}
	if inbounds != nil {
		body["inbounds"] = inbounds
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(panel.URL, "/")+"/api/user", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marzban create user: %w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("marzban create user %s: %w: username taken", r.Username, domain.ErrConflict)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("marzban create user: %w", domain.ErrAuthFailed)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("marzban create user: %w: http %d", domain.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		c.log.Warn().Str("panel", panel.Name).Int("status", resp.StatusCode).Str("body", string(raw)).Msg("marzban rejected user")
		return nil, fmt.Errorf("marzban create user: %w: http %d", domain.ErrProviderRejected, resp.StatusCode)
	}

	var out struct {
		Username        string `json:"username"`
		SubscriptionURL string `json:"subscription_url"`
		Expire          int64  `json:"expire"`
		DataLimit       int64  `json:"data_limit"`
		Status          string `json:"status"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("marzban create user: %w: bad response body", domain.ErrProviderUnavailable)
	}
	return &adapter.PanelUser{
		Username:        out.Username,
		SubscriptionURL: absoluteURL(panel.URL, out.SubscriptionURL),
		ExpireAt:        time.Unix(out.Expire, 0),
		DataLimitBytes:  out.DataLimit,
		Status:          out.Status,
	}, nil
}

func (c *MarzbanClient) GetUser(ctx context.Context, panel *model.PanelServer, username string) (*adapter.PanelUser, error) {
	token, err := c.token(ctx, panel)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(panel.URL, "/")+"/api/user/"+username, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marzban get user: %w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("marzban user %s: %w", username, domain.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("marzban get user: %w", domain.ErrAuthFailed)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("marzban get user: %w: http %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	var out struct {
		Username        string `json:"username"`
		SubscriptionURL string `json:"subscription_url"`
		Expire          int64  `json:"expire"`
		DataLimit       int64  `json:"data_limit"`
		UsedTraffic     int64  `json:"used_traffic"`
		Status          string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("marzban get user: %w: bad response body", domain.ErrProviderUnavailable)
	}
	return &adapter.PanelUser{
		Username:        out.Username,
		SubscriptionURL: absoluteURL(panel.URL, out.SubscriptionURL),
		ExpireAt:        time.Unix(out.Expire, 0),
		DataLimitBytes:  out.DataLimit,
		UsedBytes:       out.UsedTraffic,
		Status:          out.Status,
	}, nil
}

// absoluteURL resolves panel-relative subscription paths against the panel URL.
func absoluteURL(panelURL, sub string) string {
	if sub == "" || strings.HasPrefix(sub, "http://") || strings.HasPrefix(sub, "https://") {
		return sub
	}
	return strings.TrimRight(panelURL, "/") + "/" + strings.TrimLeft(sub, "/")
}
