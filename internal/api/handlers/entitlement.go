// Package handlers contains the HTTP handler implementations for the
// Inkwell entitlement API. Handlers define the service contracts they need
// as local interfaces and receive implementations via their constructors,
// which keeps them decoupled from concrete types and easy to mock.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"inkwell/internal/core"
	"inkwell/internal/types"
)

// EntitlementReader is the freshen-and-read surface the entitlement
// handler needs. Implemented by credits.Service.
type EntitlementReader interface {
	Refresh(ctx context.Context, accountID string) (*types.Entitlement, error)
}

// HistoryReader returns an account's credit transaction history.
// Implemented by credits.Ledger.
type HistoryReader interface {
	History(ctx context.Context, accountID string, limit int) ([]types.CreditTransaction, error)
}

// EntitlementResponse is the response for GET /v1/entitlement.
// RemainingCredits is reported as -1 for premium: the UI renders unlimited
// tiers without a number and the stored balance is meaningless there.
type EntitlementResponse struct {
	Plan             types.PlanTier `json:"plan"`
	RemainingCredits int            `json:"remaining_credits"`
	RenewalAt        *time.Time     `json:"renewal_at"`
	Unlimited        bool           `json:"unlimited"`
}

// defaultHistoryLimit bounds GET /v1/credits/history when no limit is given.
const defaultHistoryLimit = 50

// maxHistoryLimit caps the history page size.
const maxHistoryLimit = 200

// EntitlementHandler serves the read-only entitlement surface.
type EntitlementHandler struct {
	entitlements EntitlementReader
	history      HistoryReader
	logger       *slog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(entitlements EntitlementReader, history HistoryReader, logger *slog.Logger) *EntitlementHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementHandler{
		entitlements: entitlements,
		history:      history,
		logger:       logger,
	}
}

// RegisterRoutes mounts the entitlement endpoints.
func (h *EntitlementHandler) RegisterRoutes(r chi.Router) {
	r.Get("/entitlement", h.GetEntitlement)
	r.Get("/credits/history", h.GetHistory)
}

// GetEntitlement handles GET /v1/entitlement. Reading triggers the renewal
// policy as a side effect, so a stale balance is reset before it is shown.
func (h *EntitlementHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	accountID, ok := types.GetAccountID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotAuthenticated, "authentication required", nil))
		return
	}

	rec, err := h.entitlements.Refresh(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := EntitlementResponse{
		Plan:             rec.Plan,
		RemainingCredits: rec.RemainingCredits,
		RenewalAt:        rec.RenewalAt,
		Unlimited:        rec.Unlimited(),
	}
	if rec.Unlimited() {
		resp.RemainingCredits = types.UnlimitedBalance
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// GetHistory handles GET /v1/credits/history?limit=N.
func (h *EntitlementHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := types.GetAccountID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotAuthenticated, "authentication required", nil))
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationAmountRange, "limit must be a positive integer", nil))
			return
		}
		limit = parsed
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
	}

	txns, err := h.history.History(r.Context(), accountID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"transactions": txns,
	}})
}
