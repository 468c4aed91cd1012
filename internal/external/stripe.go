package external

import (
	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookVerifier abstracts Stripe webhook signature checking so the handler
// can be tested without real signatures.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature
	// header and signing secret. Returns nil on success.
	Verify(payload []byte, header string, secret string) error
}

// StripeVerifier implements WebhookVerifier with the stripe-go signature
// validation (HMAC-SHA256 over timestamp + payload, with tolerance checking
// against replay).
type StripeVerifier struct{}

// Verify checks the Stripe-Signature header against the signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}

// Compile-time interface compliance check.
var _ WebhookVerifier = (*StripeVerifier)(nil)
