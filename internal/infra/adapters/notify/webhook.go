// File: internal/infra/adapters/notify/webhook.go
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

var _ adapter.WebhookSender = (*HTTPWebhookSender)(nil)

// HTTPWebhookSender POSTs JSON event payloads to customer-configured URLs.
// The response status and a bounded slice of the body are returned so the
// dispatcher can log them for the admin debug panel.
type HTTPWebhookSender struct {
	client *http.Client
}

func NewHTTPWebhookSender(timeout time.Duration) *HTTPWebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPWebhookSender{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPWebhookSender) Send(ctx context.Context, url string, payload []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("webhook post: %w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(body), nil
}
