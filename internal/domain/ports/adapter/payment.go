package adapter

import (
	"context"
	"time"
)

// PaymentRequest is the normalized result of creating a payment intent.
type PaymentRequest struct {
	Reference   string // provider authority / payment id / session id
	RedirectURL string // where to send the customer, "" for providers without a redirect
	PayAddress  string // crypto deposit address (NOWPayments)
	PayAmount   string // crypto amount in pay currency (NOWPayments)
}

// PaymentVerification is the normalized result of verifying a payment.
type PaymentVerification struct {
	Success       bool
	ProviderRefID string
	// Pending means the provider has not reached a terminal state yet
	// (crypto confirmations in flight). Success is false while pending.
	Pending bool
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Name() string

	// RequestPayment initiates a payment intent. amountRial is in Rial
	// (ZarinPal); crypto/card providers convert internally.
	RequestPayment(ctx context.Context, amountRial int64, description, callbackURL string, meta map[string]string) (*PaymentRequest, error)
	// VerifyPayment checks a payment given the provider reference and the
	// expected Rial amount.
	VerifyPayment(ctx context.Context, reference string, expectedAmountRial int64) (*PaymentVerification, error)
}

// ContractRequest is the result of initiating a Payman contract.
type ContractRequest struct {
	PaymanAuthority string
	RedirectURL     string // bank selection page
}

// ContractTerms caps a Payman direct-debit contract.
type ContractTerms struct {
	Mobile          string
	MaxDailyCount   int
	MaxMonthlyCount int
	MaxAmountRial   int64
	ExpireAt        time.Time
}

// RecurringGateway covers ZarinPal "Payman" direct-debit contracts.
type RecurringGateway interface {
	// RequestContract starts a contract; the customer is redirected to
	// bank selection.
	RequestContract(ctx context.Context, terms ContractTerms, callbackURL string) (*ContractRequest, error)
	// VerifyContract exchanges a bank-approved payman authority for a
	// durable debit signature.
	VerifyContract(ctx context.Context, paymanAuthority string) (signature string, err error)
	// DirectCheckout charges amountRial against a verified signature and
	// returns the provider reference id.
	DirectCheckout(ctx context.Context, signature string, amountRial int64, description string) (refID string, err error)
	// CancelContract revokes a contract's signature.
	CancelContract(ctx context.Context, signature string) error
}
