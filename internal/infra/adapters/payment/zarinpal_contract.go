// File: internal/infra/adapters/payment/zarinpal_contract.go
package payment

import (
	"context"
	"fmt"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

var _ adapter.RecurringGateway = (*ZarinPalGateway)(nil)

// Payman (direct-debit contract) operations. These share the gateway's HTTP
// plumbing; contract rows are persisted by the usecase layer, independent of
// any single subscription.

// RequestContract calls /payman/request.json and returns the payman authority
// plus the bank-selection redirect URL.
func (z *ZarinPalGateway) RequestContract(ctx context.Context, terms adapter.ContractTerms, callbackURL string) (*adapter.ContractRequest, error) {
	if callbackURL == "" {
		callbackURL = z.callback
	}
	payload := map[string]any{
		"merchant_id":       z.merchantID,
		"mobile":            terms.Mobile,
		"expire_at":         terms.ExpireAt.Format("2006-01-02 15:04:05"),
		"max_daily_count":   terms.MaxDailyCount,
		"max_monthly_count": terms.MaxMonthlyCount,
		"max_amount":        terms.MaxAmountRial,
		"callback_url":      callbackURL,
	}
	var out struct {
		Data struct {
			PaymanAuthority string `json:"payman_authority"`
			Code            int    `json:"code"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.postJSON(ctx, "/payman/request.json", payload, &out); err != nil {
		return nil, err
	}
	if out.Data.Code != 100 || out.Data.PaymanAuthority == "" {
		return nil, fmt.Errorf("zarinpal payman request: %w: code %d", domain.ErrProviderRejected, out.Data.Code)
	}
	return &adapter.ContractRequest{
		PaymanAuthority: out.Data.PaymanAuthority,
		RedirectURL:     z.startPayURL(out.Data.PaymanAuthority),
	}, nil
}

// VerifyContract exchanges a bank-approved payman authority for the durable
// debit signature via /payman/verify.json.
func (z *ZarinPalGateway) VerifyContract(ctx context.Context, paymanAuthority string) (string, error) {
	payload := map[string]any{
		"merchant_id":      z.merchantID,
		"payman_authority": paymanAuthority,
	}
	var out struct {
		Data struct {
			Code      int    `json:"code"`
			Signature string `json:"signature"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.postJSON(ctx, "/payman/verify.json", payload, &out); err != nil {
		return "", err
	}
	if out.Data.Code != 100 || out.Data.Signature == "" {
		return "", fmt.Errorf("zarinpal payman verify: %w: code %d", domain.ErrProviderRejected, out.Data.Code)
	}
	return out.Data.Signature, nil
}

// DirectCheckout charges a verified signature via /payman/checkout.json.
func (z *ZarinPalGateway) DirectCheckout(ctx context.Context, signature string, amountRial int64, description string) (string, error) {
	payload := map[string]any{
		"merchant_id": z.merchantID,
		"signature":   signature,
		"amount":      amountRial,
		"description": description,
	}
	var out struct {
		Data struct {
			Code  int   `json:"code"`
			RefID int64 `json:"ref_id"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.postJSON(ctx, "/payman/checkout.json", payload, &out); err != nil {
		return "", err
	}
	if out.Data.Code != 100 || out.Data.RefID == 0 {
		return "", fmt.Errorf("zarinpal direct checkout: %w: code %d", domain.ErrProviderRejected, out.Data.Code)
	}
	return fmt.Sprintf("%d", out.Data.RefID), nil
}

// CancelContract revokes the signature via /payman/cancelContract.json.
func (z *ZarinPalGateway) CancelContract(ctx context.Context, signature string) error {
	payload := map[string]any{
		"merchant_id": z.merchantID,
		"signature":   signature,
	}
	var out struct {
		Data struct {
			Code int `json:"code"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.postJSON(ctx, "/payman/cancelContract.json", payload, &out); err != nil {
		return err
	}
	if out.Data.Code != 100 {
		return fmt.Errorf("zarinpal cancel contract: %w: code %d", domain.ErrProviderRejected, out.Data.Code)
	}
	return nil
}
