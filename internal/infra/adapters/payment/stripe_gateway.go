// File: internal/infra/adapters/payment/stripe_gateway.go
package payment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

// StripeGateway implements adapter.PaymentGateway with Checkout Sessions.
// The Rial amount is converted to USD cents with a configured Toman-per-USD
// rate. Verification retrieves the session and checks payment_status; there
// is no polling loop for Stripe, the success page calls verify once.
type StripeGateway struct {
	successURL   string
	cancelURL    string
	currency     string
	usdRateToman int64
	log          *zerolog.Logger
}

func NewStripeGateway(apiKey, successURL, cancelURL, currency string, usdRateToman int64, logger *zerolog.Logger) (*StripeGateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stripe: %w: api_key empty", domain.ErrConfiguration)
	}
	if usdRateToman <= 0 {
		return nil, fmt.Errorf("stripe: %w: usd_rate must be positive", domain.ErrConfiguration)
	}
	stripe.Key = apiKey
	if currency == "" {
		currency = "usd"
	}
	return &StripeGateway{
		successURL:   successURL,
		cancelURL:    cancelURL,
		currency:     currency,
		usdRateToman: usdRateToman,
		log:          logger,
	}, nil
}

func (s *StripeGateway) Name() string { return "stripe" }

func (s *StripeGateway) amountCents(amountRial int64) int64 {
	amountToman := amountRial / 10
	// cents = toman * 100 / rate
	return amountToman * 100 / s.usdRateToman
}

// RequestPayment creates a Checkout Session; the session id is the reference
// and the hosted page URL is the redirect.
func (s *StripeGateway) RequestPayment(ctx context.Context, amountRial int64, description, callbackURL string, meta map[string]string) (*adapter.PaymentRequest, error) {
	successURL := callbackURL
	if successURL == "" {
		successURL = s.successURL
	}
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(s.currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
					UnitAmount: stripe.Int64(s.amountCents(amountRial)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(successURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.cancelURL),
	}
	params.Context = ctx
	if meta != nil {
		params.Metadata = meta
	}
	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create session: %w: %v", domain.ErrProviderUnavailable, err)
	}
	return &adapter.PaymentRequest{
		Reference:   sess.ID,
		RedirectURL: sess.URL,
	}, nil
}

// VerifyPayment retrieves the session by id and confirms it was paid.
func (s *StripeGateway) VerifyPayment(ctx context.Context, reference string, expectedAmountRial int64) (*adapter.PaymentVerification, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := session.Get(reference, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get session: %w: %v", domain.ErrProviderUnavailable, err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		if sess.Status == stripe.CheckoutSessionStatusOpen {
			return &adapter.PaymentVerification{Success: false, Pending: true}, nil
		}
		return &adapter.PaymentVerification{Success: false}, nil
	}
	refID := sess.ID
	if sess.PaymentIntent != nil {
		refID = sess.PaymentIntent.ID
	}
	return &adapter.PaymentVerification{Success: true, ProviderRefID: refID}, nil
}
