package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"inkwell/internal/core"
	"inkwell/internal/reflection"
	"inkwell/internal/types"
)

// ReflectionRequester is the orchestrator surface the handler needs.
// Implemented by reflection.Orchestrator.
type ReflectionRequester interface {
	Request(ctx context.Context, accountID string, entry types.EntryContent) (*types.ReflectionResult, error)
}

// CreateReflectionRequest is the request body for POST /v1/reflections.
type CreateReflectionRequest struct {
	Title   string `json:"title" validate:"max=200"`
	Content string `json:"content" validate:"required,min=1,max=20000"`
}

// ReflectionResponse is the response for POST /v1/reflections.
type ReflectionResponse struct {
	Reflection       *types.Reflection `json:"reflection"`
	RemainingCredits int               `json:"remaining_credits"`
}

// ReflectionsHandler serves the metered reflection endpoint.
type ReflectionsHandler struct {
	orchestrator ReflectionRequester
	validator    *core.Validator
	logger       *slog.Logger
}

// NewReflectionsHandler creates a new ReflectionsHandler.
func NewReflectionsHandler(orchestrator ReflectionRequester, v *core.Validator, logger *slog.Logger) *ReflectionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReflectionsHandler{
		orchestrator: orchestrator,
		validator:    v,
		logger:       logger,
	}
}

// RegisterRoutes mounts the reflections endpoint.
func (h *ReflectionsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/reflections", h.CreateReflection)
}

// CreateReflection handles POST /v1/reflections.
//
// The outcome taxonomy maps directly onto status codes:
//
//	402 limit_reached       - upgrade prompt, not an error page
//	502 generation_failed   - retryable, no credit consumed
//	503 credits_unavailable - retryable, plan store is down
func (h *ReflectionsHandler) CreateReflection(w http.ResponseWriter, r *http.Request) {
	accountID, ok := types.GetAccountID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotAuthenticated, "authentication required", nil))
		return
	}

	var req CreateReflectionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.orchestrator.Request(r.Context(), accountID, types.EntryContent{
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		// Limit denials are expected product behavior; only infrastructure
		// failures warrant error-level noise (they were already logged with
		// context at the point of failure).
		if reflection.IsDenial(err) {
			h.logger.InfoContext(r.Context(), "reflection limit reached",
				"account_id", accountID,
			)
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ReflectionResponse{
		Reflection:       result.Reflection,
		RemainingCredits: result.RemainingCredits,
	}})
}
