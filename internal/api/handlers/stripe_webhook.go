// stripe_webhook.go implements the payment webhook endpoint.
//
// The handler is NOT behind auth middleware -- it is called directly by
// Stripe. Security is provided by verifying the Stripe-Signature header.
// Stripe is the system of record for money; this service only consumes the
// verified plan-change signal and applies it through the ledger.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"inkwell/internal/core"
	"inkwell/internal/external"
	"inkwell/internal/types"
)

// maxWebhookBodySize is the maximum allowed webhook payload (64 KB).
// Stripe event payloads are small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// PlanChanger applies trusted external plan-change signals.
// Implemented by credits.Ledger.
type PlanChanger interface {
	SetPlan(ctx context.Context, accountID string, plan types.PlanTier) error
}

// StripeWebhookHandler handles asynchronous plan events from Stripe.
type StripeWebhookHandler struct {
	verifier       external.WebhookVerifier
	ledger         PlanChanger
	secret         string
	premiumPriceID string
	logger         *slog.Logger
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	ledger PlanChanger,
	secret string,
	premiumPriceID string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:       verifier,
		ledger:         ledger,
		secret:         secret,
		premiumPriceID: premiumPriceID,
		logger:         logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from the
// authenticated route registrars because webhook routes are public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes incoming Stripe webhook events:
//  1. Reads the body and the Stripe-Signature header.
//  2. Verifies the signature against the signing secret.
//  3. Extracts the account ID from client_reference_id / metadata.
//  4. Maps the event to a plan tier and applies it via the ledger.
//
// Unrecognized event types and events for other prices are acknowledged
// with 200 so Stripe does not retry them forever.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "unreadable webhook payload", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeWebhookSignature, "invalid webhook signature", err))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed webhook payload", err))
		return
	}

	if err := h.process(r.Context(), &event); err != nil {
		// Return 5xx so Stripe retries transient failures; the ledger is
		// idempotent under redelivery (SetPlan overwrites the same state).
		h.logger.ErrorContext(r.Context(), "webhook processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"received": event.ID}})
}

// process routes the event to the ledger. Only plan-affecting events are
// acted on.
func (h *StripeWebhookHandler) process(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case types.EventStripeCheckoutCompleted, types.EventStripeSubUpdated:
		accountID, priceID := event.accountAndPrice()
		if accountID == "" {
			h.logger.WarnContext(ctx, "webhook event missing account reference",
				"event_id", event.ID,
				"event_type", event.Type,
			)
			return nil
		}
		if priceID != "" && priceID != h.premiumPriceID {
			h.logger.InfoContext(ctx, "ignoring event for unrecognized price",
				"event_id", event.ID,
				"price_id", priceID,
			)
			return nil
		}
		h.logger.InfoContext(ctx, "applying premium plan from payment signal",
			"event_id", event.ID,
			"account_id", accountID,
		)
		return h.ledger.SetPlan(ctx, accountID, types.PlanPremium)

	case types.EventStripeSubDeleted:
		accountID, _ := event.accountAndPrice()
		if accountID == "" {
			return nil
		}
		h.logger.InfoContext(ctx, "downgrading to free plan from cancellation signal",
			"event_id", event.ID,
			"account_id", accountID,
		)
		return h.ledger.SetPlan(ctx, accountID, types.PlanFree)

	default:
		// Acknowledge without action.
		return nil
	}
}

// ---------------------------------------------------------------------------
// Stripe event parsing
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal representation of a Stripe event tailored
// to extract the fields needed for routing. The full stripe.Event type is
// deliberately not used so the handler stays decoupled from the SDK's
// payload shapes and tests stay simple.
type stripeWebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object stripeEventObject `json:"object"`
}

// stripeEventObject covers the union of fields across the event types this
// handler processes: checkout sessions carry client_reference_id;
// subscription objects carry metadata and price items.
type stripeEventObject struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	Items             stripeSubItems    `json:"items"`
}

type stripeSubItems struct {
	Data []stripeSubItem `json:"data"`
}

type stripeSubItem struct {
	Price stripeSubPrice `json:"price"`
}

type stripeSubPrice struct {
	ID string `json:"id"`
}

// accountAndPrice extracts the account ID and, when present, the price ID.
// The account ID is stored in client_reference_id during checkout and in
// metadata.account_id on subscription objects.
func (e *stripeWebhookEvent) accountAndPrice() (accountID, priceID string) {
	obj := e.Data.Object
	accountID = obj.ClientReferenceID
	if accountID == "" {
		accountID = obj.Metadata["account_id"]
	}
	if len(obj.Items.Data) > 0 {
		priceID = obj.Items.Data[0].Price.ID
	}
	return accountID, priceID
}
