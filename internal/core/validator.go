package core

import (
	"log/slog"

	"github.com/go-playground/validator/v10"

	"inkwell/internal/types"
)

// Validator wraps go-playground/validator and translates its failures into
// AppErrors with field-level details, so handlers return the same error
// shape for tag validation as for any other validation.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator and registers custom tags.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()

	// plan_tier validates a string against the closed tier enum, accepting
	// the legacy spellings handled by ParsePlanTier.
	_ = v.RegisterValidation("plan_tier", func(fl validator.FieldLevel) bool {
		_, ok := types.ParsePlanTier(fl.Field().String())
		return ok
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates the struct's tags and returns a validation
// AppError describing the first failing field, or nil.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		fe := errs[0]
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationFailed,
			"request validation failed",
			err,
			map[string]any{
				"field": fe.Field(),
				"rule":  fe.Tag(),
			},
		)
	}

	return types.NewAppError(types.ErrCodeValidationFailed, "request validation failed", err)
}
