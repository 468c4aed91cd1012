package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"inkwell/internal/core"
	"inkwell/internal/types"
)

// CreditGranter is the administrative ledger surface.
// Implemented by credits.Ledger.
type CreditGranter interface {
	Grant(ctx context.Context, accountID string, amount int, source types.CreditSource, description string) (int, *types.CreditTransaction, error)
	SetPlan(ctx context.Context, accountID string, plan types.PlanTier) error
}

// GrantCreditsRequest is the request body for POST /v1/admin/credits.
type GrantCreditsRequest struct {
	AccountID   string `json:"account_id" validate:"required"`
	Amount      int    `json:"amount" validate:"required,gt=0"`
	Source      string `json:"source" validate:"required"`
	Description string `json:"description" validate:"max=500"`
}

// GrantCreditsResponse is the response for POST /v1/admin/credits.
type GrantCreditsResponse struct {
	NewBalance  int                      `json:"new_balance"`
	Transaction *types.CreditTransaction `json:"transaction"`
}

// SetPlanRequest is the request body for POST /v1/admin/plan.
// Plan accepts the legacy external spellings; they are normalized into the
// closed enum at this boundary and nowhere else.
type SetPlanRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Plan      string `json:"plan" validate:"required,plan_tier"`
}

// AdminHandler serves the administrative credit and plan endpoints. Routes
// are mounted behind core.AdminAuthMiddleware; the handler itself still
// re-checks the admin marker as a second line of defense.
type AdminHandler struct {
	ledger    CreditGranter
	validator *core.Validator
	logger    *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(ledger CreditGranter, v *core.Validator, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		ledger:    ledger,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts the admin endpoints behind the admin token check.
func (h *AdminHandler) RegisterRoutes(adminTokenHash string) core.RouteRegistrar {
	return func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(core.AdminAuthMiddleware(adminTokenHash))
			r.Post("/admin/credits", h.GrantCredits)
			r.Post("/admin/plan", h.SetPlan)
		})
	}
}

// GrantCredits handles POST /v1/admin/credits.
func (h *AdminHandler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	if !types.IsAdmin(r.Context()) {
		core.Error(w, r, types.NewAppError(types.ErrCodePermissionAdmin, "admin credential required", nil))
		return
	}

	var req GrantCreditsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	source := types.CreditSource(req.Source)
	newBalance, txn, err := h.ledger.Grant(r.Context(), req.AccountID, req.Amount, source, req.Description)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "admin credit grant",
		"account_id", req.AccountID,
		"amount", req.Amount,
		"source", req.Source,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: GrantCreditsResponse{
		NewBalance:  newBalance,
		Transaction: txn,
	}})
}

// SetPlan handles POST /v1/admin/plan.
func (h *AdminHandler) SetPlan(w http.ResponseWriter, r *http.Request) {
	if !types.IsAdmin(r.Context()) {
		core.Error(w, r, types.NewAppError(types.ErrCodePermissionAdmin, "admin credential required", nil))
		return
	}

	var req SetPlanRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	plan, ok := types.ParsePlanTier(req.Plan)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPlan, "unknown plan tier", nil))
		return
	}

	if err := h.ledger.SetPlan(r.Context(), req.AccountID, plan); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "admin plan change",
		"account_id", req.AccountID,
		"plan", string(plan),
	)

	w.WriteHeader(http.StatusNoContent)
}
