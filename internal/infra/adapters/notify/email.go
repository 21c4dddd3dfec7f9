// File: internal/infra/adapters/notify/email.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

var (
	_ adapter.Mailer = (*APIMailer)(nil)
	_ adapter.Mailer = NopMailer{}
)

// NopMailer is used when no email provider is configured: sends report a
// configuration error so the attempt still lands in the notification log.
type NopMailer struct{}

func (NopMailer) Send(ctx context.Context, msg adapter.EmailMessage) error {
	return fmt.Errorf("no email provider configured: %w", domain.ErrConfiguration)
}

// APIMailer sends transactional email through an HTTP API (Resend-style
// JSON endpoint with a bearer key).
type APIMailer struct {
	apiKey string
	apiURL string
	from   string
	client *http.Client
}

func NewAPIMailer(apiKey, apiURL, from string) (*APIMailer, error) {
	if apiKey == "" || apiURL == "" || from == "" {
		return nil, fmt.Errorf("mailer: %w: api_key, api_url and from are required", domain.ErrConfiguration)
	}
	return &APIMailer{
		apiKey: apiKey,
		apiURL: apiURL,
		from:   from,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (m *APIMailer) Send(ctx context.Context, msg adapter.EmailMessage) error {
	payload := map[string]any{
		"from":    m.from,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
	}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("email send: %w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("email send: %w", domain.ErrAuthFailed)
	case resp.StatusCode >= 400:
		return fmt.Errorf("email send: %w: http %d", domain.ErrProviderRejected, resp.StatusCode)
	}
	return nil
}
