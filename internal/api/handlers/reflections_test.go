package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"inkwell/internal/core"
	"inkwell/internal/types"
)

// mockReflectionRequester implements ReflectionRequester for testing.
type mockReflectionRequester struct {
	requestFn func(ctx context.Context, accountID string, entry types.EntryContent) (*types.ReflectionResult, error)
}

func (m *mockReflectionRequester) Request(ctx context.Context, accountID string, entry types.EntryContent) (*types.ReflectionResult, error) {
	if m.requestFn != nil {
		return m.requestFn(ctx, accountID, entry)
	}
	return &types.ReflectionResult{
		State: types.ReflectionDebited,
		Reflection: &types.Reflection{
			Summary:        "A quiet day of steady progress.",
			Themes:         []string{"routine", "persistence"},
			GentleNextStep: "Take a short walk before starting tomorrow.",
		},
		RemainingCredits: 4,
	}, nil
}

func newReflectionsHandler(orch ReflectionRequester) *ReflectionsHandler {
	return NewReflectionsHandler(orch, core.NewValidator(testLogger()), testLogger())
}

func TestCreateReflection_Success(t *testing.T) {
	var gotAccount string
	var gotEntry types.EntryContent
	orch := &mockReflectionRequester{
		requestFn: func(ctx context.Context, accountID string, entry types.EntryContent) (*types.ReflectionResult, error) {
			gotAccount = accountID
			gotEntry = entry
			return &types.ReflectionResult{
				Reflection:       &types.Reflection{Summary: "ok"},
				RemainingCredits: 4,
			}, nil
		},
	}
	handler := newReflectionsHandler(orch)

	body := `{"title": "Tuesday", "content": "Long day, but the deploy went out clean."}`
	w := httptest.NewRecorder()
	handler.CreateReflection(w, authedRequest(http.MethodPost, "/v1/reflections", body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotAccount != "acct_1" {
		t.Errorf("expected account acct_1, got %s", gotAccount)
	}
	if gotEntry.Title != "Tuesday" || gotEntry.Content == "" {
		t.Errorf("entry not passed through: %+v", gotEntry)
	}

	var resp struct {
		Data ReflectionResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.Reflection == nil || resp.Data.Reflection.Summary != "ok" {
		t.Errorf("unexpected reflection payload: %+v", resp.Data.Reflection)
	}
	if resp.Data.RemainingCredits != 4 {
		t.Errorf("expected 4 remaining credits, got %d", resp.Data.RemainingCredits)
	}
}

func TestCreateReflection_LimitReached402(t *testing.T) {
	orch := &mockReflectionRequester{
		requestFn: func(ctx context.Context, accountID string, entry types.EntryContent) (*types.ReflectionResult, error) {
			return nil, types.NewAppError(types.ErrCodeLimitReached, "monthly reflection limit reached", nil)
		},
	}
	handler := newReflectionsHandler(orch)

	w := httptest.NewRecorder()
	handler.CreateReflection(w, authedRequest(http.MethodPost, "/v1/reflections", `{"content": "entry"}`))

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Error.Code != string(types.ErrCodeLimitReached) {
		t.Errorf("expected limit_reached, got %s", resp.Error.Code)
	}
}

func TestCreateReflection_GenerationFailed502(t *testing.T) {
	orch := &mockReflectionRequester{
		requestFn: func(ctx context.Context, accountID string, entry types.EntryContent) (*types.ReflectionResult, error) {
			return nil, types.NewAppError(types.ErrCodeGenerationFailed, "insight provider unavailable", nil)
		},
	}
	handler := newReflectionsHandler(orch)

	w := httptest.NewRecorder()
	handler.CreateReflection(w, authedRequest(http.MethodPost, "/v1/reflections", `{"content": "entry"}`))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestCreateReflection_CreditsUnavailable503(t *testing.T) {
	orch := &mockReflectionRequester{
		requestFn: func(ctx context.Context, accountID string, entry types.EntryContent) (*types.ReflectionResult, error) {
			return nil, types.NewAppError(types.ErrCodeCreditsUnavailable, "plan store down", nil)
		},
	}
	handler := newReflectionsHandler(orch)

	w := httptest.NewRecorder()
	handler.CreateReflection(w, authedRequest(http.MethodPost, "/v1/reflections", `{"content": "entry"}`))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestCreateReflection_ValidationFailures(t *testing.T) {
	orchCalled := false
	orch := &mockReflectionRequester{
		requestFn: func(ctx context.Context, accountID string, entry types.EntryContent) (*types.ReflectionResult, error) {
			orchCalled = true
			return nil, nil
		},
	}
	handler := newReflectionsHandler(orch)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty content", body: `{"title": "Tuesday", "content": ""}`},
		{name: "missing content", body: `{"title": "Tuesday"}`},
		{name: "malformed json", body: `{"content": `},
		{name: "unknown field", body: `{"content": "entry", "mood": "fine"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.CreateReflection(w, authedRequest(http.MethodPost, "/v1/reflections", tt.body))

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	if orchCalled {
		t.Error("orchestrator must not be called for invalid requests")
	}
}

func TestCreateReflection_Unauthenticated(t *testing.T) {
	handler := newReflectionsHandler(&mockReflectionRequester{})

	w := httptest.NewRecorder()
	handler.CreateReflection(w, httptest.NewRequest(http.MethodPost, "/v1/reflections", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
