// File: internal/infra/adapters/payment/zarinpal_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*ZarinPalGateway)(nil)

// ZarinPalGateway implements adapter.PaymentGateway against ZarinPal REST v4.
// Amounts are in Rial; the orchestrator converts from Toman before calling.
type ZarinPalGateway struct {
	merchantID string
	callback   string
	sandbox    bool
	client     *http.Client
	baseURL    string // overridable in tests
	log        *zerolog.Logger
}

func NewZarinPalGateway(merchantID, callbackURL string, sandbox bool, logger *zerolog.Logger) (*ZarinPalGateway, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("zarinpal: %w: merchant_id empty", domain.ErrConfiguration)
	}
	if _, err := url.Parse(callbackURL); err != nil {
		return nil, fmt.Errorf("zarinpal: invalid callback url: %w", err)
	}
	return &ZarinPalGateway{
		merchantID: merchantID,
		callback:   callbackURL,
		sandbox:    sandbox,
		client:     &http.Client{Timeout: 15 * time.Second},
		log:        logger,
	}, nil
}

// SetBaseURL points the gateway at a different API host. Used by tests.
func (z *ZarinPalGateway) SetBaseURL(u string) { z.baseURL = u }

func (z *ZarinPalGateway) Name() string { return "zarinpal" }

func (z *ZarinPalGateway) endpoint(path string) string {
	if z.baseURL != "" {
		return z.baseURL + path
	}
	base := "https://api.zarinpal.com/pg/v4"
	if z.sandbox {
		base = "https://sandbox.zarinpal.com/pg/v4"
	}
	return base + path
}

func (z *ZarinPalGateway) startPayURL(authority string) string {
	if z.sandbox {
		return fmt.Sprintf("https://sandbox.zarinpal.com/pg/StartPay/%s", authority)
	}
	return fmt.Sprintf("https://www.zarinpal.com/pg/StartPay/%s", authority)
}

func (z *ZarinPalGateway) postJSON(ctx context.Context, path string, payload any, out any) error {
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.endpoint(path), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := z.client.Do(req)
	if err != nil {
		return fmt.Errorf("zarinpal %s: %w: %v", path, domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("zarinpal %s: %w: http %d", path, domain.ErrProviderUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("zarinpal %s: %w: bad response body", path, domain.ErrProviderUnavailable)
	}
	return nil
}

// RequestPayment calls /payment/request.json and returns the authority plus
// the StartPay redirect URL.
func (z *ZarinPalGateway) RequestPayment(ctx context.Context, amountRial int64, description, callbackURL string, meta map[string]string) (*adapter.PaymentRequest, error) {
	if callbackURL == "" {
		callbackURL = z.callback
	}
	payload := map[string]any{
		"merchant_id":  z.merchantID,
		"amount":       amountRial,
		"description":  description,
		"callback_url": callbackURL,
	}
	if len(meta) > 0 {
		payload["metadata"] = meta
	}
	var out struct {
		Data struct {
			Authority string `json:"authority"`
			Code      int    `json:"code"`
			Message   string `json:"message"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.postJSON(ctx, "/payment/request.json", payload, &out); err != nil {
		return nil, err
	}
	if out.Data.Code != 100 || out.Data.Authority == "" {
		z.log.Warn().Int("code", out.Data.Code).Interface("errors", out.Errors).Msg("zarinpal request rejected")
		return nil, fmt.Errorf("zarinpal request: %w: code %d", domain.ErrProviderRejected, out.Data.Code)
	}
	return &adapter.PaymentRequest{
		Reference:   out.Data.Authority,
		RedirectURL: z.startPayURL(out.Data.Authority),
	}, nil
}

// VerifyPayment calls /payment/verify.json. Success codes are 100 and 101
// (101 means already verified); anything else, including an amount mismatch,
// is a rejected verification, not an error in transport.
func (z *ZarinPalGateway) VerifyPayment(ctx context.Context, authority string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
	payload := map[string]any{
		"merchant_id": z.merchantID,
		"amount":      expectedAmountRial,
		"authority":   authority,
	}
	var out struct {
		Data struct {
			Code  int   `json:"code"`
			RefID int64 `json:"ref_id"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.postJSON(ctx, "/payment/verify.json", payload, &out); err != nil {
		return nil, err
	}
	if (out.Data.Code != 100 && out.Data.Code != 101) || out.Data.RefID == 0 {
		z.log.Warn().Int("code", out.Data.Code).Str("authority", authority).Msg("zarinpal verify failed")
		return &adapter.PaymentVerification{Success: false}, nil
	}
	return &adapter.PaymentVerification{
		Success:       true,
		ProviderRefID: fmt.Sprintf("%d", out.Data.RefID),
	}, nil
}
