package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inkwell/internal/types"
)

// mockWebhookVerifier implements external.WebhookVerifier for testing.
type mockWebhookVerifier struct {
	verifyFn func(payload []byte, header string, secret string) error
}

func (m *mockWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	if m.verifyFn != nil {
		return m.verifyFn(payload, header, secret)
	}
	return nil
}

// mockPlanChanger implements PlanChanger for testing.
type mockPlanChanger struct {
	setPlanFn func(ctx context.Context, accountID string, plan types.PlanTier) error
	calls     []planChange
}

type planChange struct {
	accountID string
	plan      types.PlanTier
}

func (m *mockPlanChanger) SetPlan(ctx context.Context, accountID string, plan types.PlanTier) error {
	m.calls = append(m.calls, planChange{accountID: accountID, plan: plan})
	if m.setPlanFn != nil {
		return m.setPlanFn(ctx, accountID, plan)
	}
	return nil
}

const testPremiumPriceID = "price_premium_monthly"

func newWebhookHandler(verifier *mockWebhookVerifier, ledger *mockPlanChanger) *StripeWebhookHandler {
	return NewStripeWebhookHandler(verifier, ledger, "whsec_test", testPremiumPriceID, testLogger())
}

func webhookRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	r.Header.Set("Stripe-Signature", "t=1,v1=sig")
	return r
}

func TestWebhook_CheckoutCompletedUpgradesToPremium(t *testing.T) {
	ledger := &mockPlanChanger{}
	handler := newWebhookHandler(&mockWebhookVerifier{}, ledger)

	body := `{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"client_reference_id": "acct_1"}}
	}`
	w := httptest.NewRecorder()
	handler.Handle(w, webhookRequest(body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(ledger.calls) != 1 {
		t.Fatalf("expected 1 plan change, got %d", len(ledger.calls))
	}
	if ledger.calls[0].accountID != "acct_1" || ledger.calls[0].plan != types.PlanPremium {
		t.Errorf("unexpected plan change: %+v", ledger.calls[0])
	}
	if !strings.Contains(w.Body.String(), "evt_1") {
		t.Errorf("response should acknowledge the event ID: %s", w.Body.String())
	}
}

func TestWebhook_SubscriptionUpdatedUsesMetadataAccount(t *testing.T) {
	ledger := &mockPlanChanger{}
	handler := newWebhookHandler(&mockWebhookVerifier{}, ledger)

	body := `{
		"id": "evt_2",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"metadata": {"account_id": "acct_2"},
			"items": {"data": [{"price": {"id": "` + testPremiumPriceID + `"}}]}
		}}
	}`
	w := httptest.NewRecorder()
	handler.Handle(w, webhookRequest(body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(ledger.calls) != 1 || ledger.calls[0].accountID != "acct_2" || ledger.calls[0].plan != types.PlanPremium {
		t.Errorf("unexpected plan changes: %+v", ledger.calls)
	}
}

func TestWebhook_SubscriptionDeletedDowngradesToFree(t *testing.T) {
	ledger := &mockPlanChanger{}
	handler := newWebhookHandler(&mockWebhookVerifier{}, ledger)

	body := `{
		"id": "evt_3",
		"type": "customer.subscription.deleted",
		"data": {"object": {"metadata": {"account_id": "acct_3"}}}
	}`
	w := httptest.NewRecorder()
	handler.Handle(w, webhookRequest(body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(ledger.calls) != 1 || ledger.calls[0].plan != types.PlanFree {
		t.Errorf("unexpected plan changes: %+v", ledger.calls)
	}
}

func TestWebhook_UnrecognizedPriceIgnored(t *testing.T) {
	ledger := &mockPlanChanger{}
	handler := newWebhookHandler(&mockWebhookVerifier{}, ledger)

	body := `{
		"id": "evt_4",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"metadata": {"account_id": "acct_4"},
			"items": {"data": [{"price": {"id": "price_some_other_product"}}]}
		}}
	}`
	w := httptest.NewRecorder()
	handler.Handle(w, webhookRequest(body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", w.Code)
	}
	if len(ledger.calls) != 0 {
		t.Errorf("expected no plan changes, got %+v", ledger.calls)
	}
}

func TestWebhook_UnknownEventTypeAcked(t *testing.T) {
	ledger := &mockPlanChanger{}
	handler := newWebhookHandler(&mockWebhookVerifier{}, ledger)

	body := `{"id": "evt_5", "type": "invoice.paid", "data": {"object": {}}}`
	w := httptest.NewRecorder()
	handler.Handle(w, webhookRequest(body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", w.Code)
	}
	if len(ledger.calls) != 0 {
		t.Errorf("expected no plan changes, got %+v", ledger.calls)
	}
}

func TestWebhook_MissingAccountReferenceAcked(t *testing.T) {
	ledger := &mockPlanChanger{}
	handler := newWebhookHandler(&mockWebhookVerifier{}, ledger)

	body := `{"id": "evt_6", "type": "checkout.session.completed", "data": {"object": {}}}`
	w := httptest.NewRecorder()
	handler.Handle(w, webhookRequest(body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", w.Code)
	}
	if len(ledger.calls) != 0 {
		t.Errorf("expected no plan changes, got %+v", ledger.calls)
	}
}

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	var gotPayload []byte
	var gotHeader, gotSecret string
	verifier := &mockWebhookVerifier{
		verifyFn: func(payload []byte, header string, secret string) error {
			gotPayload, gotHeader, gotSecret = payload, header, secret
			return errors.New("signature mismatch")
		},
	}
	ledger := &mockPlanChanger{}
	handler := newWebhookHandler(verifier, ledger)

	body := `{"id": "evt_7", "type": "checkout.session.completed", "data": {"object": {"client_reference_id": "acct_1"}}}`
	w := httptest.NewRecorder()
	handler.Handle(w, webhookRequest(body))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Error.Code != string(types.ErrCodeWebhookSignature) {
		t.Errorf("expected webhook signature error, got %s", resp.Error.Code)
	}
	if len(ledger.calls) != 0 {
		t.Errorf("plan must not change on signature failure: %+v", ledger.calls)
	}
	if string(gotPayload) != body || gotHeader != "t=1,v1=sig" || gotSecret != "whsec_test" {
		t.Error("verifier did not receive raw payload, header, and secret")
	}
}

func TestWebhook_MalformedPayloadRejected(t *testing.T) {
	handler := newWebhookHandler(&mockWebhookVerifier{}, &mockPlanChanger{})

	w := httptest.NewRecorder()
	handler.Handle(w, webhookRequest(`{"id": "evt_8", `))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWebhook_LedgerFailureReturns5xxForRetry(t *testing.T) {
	ledger := &mockPlanChanger{
		setPlanFn: func(ctx context.Context, accountID string, plan types.PlanTier) error {
			return types.NewAppError(types.ErrCodeCreditsUnavailable, "plan store down", nil)
		},
	}
	handler := newWebhookHandler(&mockWebhookVerifier{}, ledger)

	body := `{"id": "evt_9", "type": "checkout.session.completed", "data": {"object": {"client_reference_id": "acct_1"}}}`
	w := httptest.NewRecorder()
	handler.Handle(w, webhookRequest(body))

	if w.Code < 500 {
		t.Fatalf("expected 5xx so the sender retries, got %d", w.Code)
	}
}

func TestWebhook_OversizedPayloadRejected(t *testing.T) {
	handler := newWebhookHandler(&mockWebhookVerifier{}, &mockPlanChanger{})

	body := `{"padding": "` + strings.Repeat("x", maxWebhookBodySize+1) + `"}`
	w := httptest.NewRecorder()
	handler.Handle(w, webhookRequest(body))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
