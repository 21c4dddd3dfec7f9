// File: internal/infra/adapters/payment/nowpayments_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NOWPaymentsGateway)(nil)

// Terminal payment_status values from NOWPayments.
const (
	npStatusFinished = "finished"
	npStatusFailed   = "failed"
	npStatusExpired  = "expired"
	npStatusRefunded = "refunded"
)

// NOWPaymentsGateway implements adapter.PaymentGateway for crypto payments.
// Invoices are priced in USD; the Rial amount is converted with a configured
// Toman-per-USD rate. pay_currency is fixed per deployment (usdttrc20).
type NOWPaymentsGateway struct {
	apiKey       string
	payCurrency  string
	usdRateToman int64 // Toman per USD
	client       *http.Client
	baseURL      string
	log          *zerolog.Logger
}

func NewNOWPaymentsGateway(apiKey, payCurrency string, usdRateToman int64, logger *zerolog.Logger) (*NOWPaymentsGateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("nowpayments: %w: api_key empty", domain.ErrConfiguration)
	}
	if usdRateToman <= 0 {
		return nil, fmt.Errorf("nowpayments: %w: usd_rate must be positive", domain.ErrConfiguration)
	}
	if payCurrency == "" {
		payCurrency = "usdttrc20"
	}
	return &NOWPaymentsGateway{
		apiKey:       apiKey,
		payCurrency:  payCurrency,
		usdRateToman: usdRateToman,
		client:       &http.Client{Timeout: 15 * time.Second},
		baseURL:      "https://api.nowpayments.io/v1",
		log:          logger,
	}, nil
}

// SetBaseURL points the gateway at a different API host. Used by tests.
func (n *NOWPaymentsGateway) SetBaseURL(u string) { n.baseURL = u }

func (n *NOWPaymentsGateway) Name() string { return "nowpayments" }

func (n *NOWPaymentsGateway) do(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", n.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("nowpayments %s: %w: %v", path, domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("nowpayments %s: %w", path, domain.ErrAuthFailed)
	case resp.StatusCode >= 500:
		return fmt.Errorf("nowpayments %s: %w: http %d", path, domain.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("nowpayments %s: %w: http %d", path, domain.ErrProviderRejected, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nowpayments %s: %w: bad response body", path, domain.ErrProviderUnavailable)
	}
	return nil
}

// RequestPayment creates a payment (deposit address) priced in USD.
func (n *NOWPaymentsGateway) RequestPayment(ctx context.Context, amountRial int64, description, callbackURL string, meta map[string]string) (*adapter.PaymentRequest, error) {
	amountToman := amountRial / 10
	priceUSD := float64(amountToman) / float64(n.usdRateToman)
	payload := map[string]any{
		"price_amount":   priceUSD,
		"price_currency": "usd",
		"pay_currency":   n.payCurrency,
	}
	if description != "" {
		payload["order_description"] = description
	}
	if id, ok := meta["order_id"]; ok {
		payload["order_id"] = id
	}
	if callbackURL != "" {
		payload["ipn_callback_url"] = callbackURL
	}
	var out struct {
		PaymentID  json.Number `json:"payment_id"`
		PayAddress string      `json:"pay_address"`
		PayAmount  json.Number `json:"pay_amount"`
		InvoiceURL string      `json:"invoice_url"`
		PaymentURL string      `json:"payment_url"`
	}
	if err := n.do(ctx, http.MethodPost, "/payment", payload, &out); err != nil {
		return nil, err
	}
	if out.PaymentID.String() == "" || out.PayAddress == "" {
		return nil, fmt.Errorf("nowpayments create: %w: incomplete response", domain.ErrProviderRejected)
	}
	redirect := out.InvoiceURL
	if redirect == "" {
		redirect = out.PaymentURL
	}
	return &adapter.PaymentRequest{
		Reference:   out.PaymentID.String(),
		RedirectURL: redirect,
		PayAddress:  out.PayAddress,
		PayAmount:   out.PayAmount.String(),
	}, nil
}

// VerifyPayment queries the payment status once. finished => success;
// failed/expired/refunded => terminal failure; anything else is pending.
func (n *NOWPaymentsGateway) VerifyPayment(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
	var out struct {
		PaymentID     json.Number `json:"payment_id"`
		PaymentStatus string      `json:"payment_status"`
	}
	if err := n.do(ctx, http.MethodGet, "/payment/"+reference, nil, &out); err != nil {
		return nil, err
	}
	switch out.PaymentStatus {
	case npStatusFinished:
		return &adapter.PaymentVerification{Success: true, ProviderRefID: out.PaymentID.String()}, nil
	case npStatusFailed, npStatusExpired, npStatusRefunded:
		return &adapter.PaymentVerification{Success: false}, nil
	default:
		return &adapter.PaymentVerification{Success: false, Pending: true}, nil
	}
}
