package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInsufficientCredits is the sentinel returned by the store's conditional
// debit when the balance is already zero. It is shared vocabulary between the
// store and the ledger; it never escapes to the HTTP layer.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidPlan  ErrorCode = "validation_invalid_plan"
	ErrCodeValidationInvalidJSON  ErrorCode = "validation_invalid_json"
	ErrCodeValidationAmountRange  ErrorCode = "validation_amount_out_of_range"
	ErrCodeValidationFailed       ErrorCode = "validation_failed"

	// Auth (401)
	ErrCodeNotAuthenticated  ErrorCode = "auth_not_authenticated"
	ErrCodeAuthTokenInvalid  ErrorCode = "auth_token_invalid"
	ErrCodeAuthSessionExpired ErrorCode = "auth_session_expired"

	// Permission (403)
	ErrCodePermissionAdmin ErrorCode = "permission_admin_required"

	// Entitlement (402)
	ErrCodeLimitReached ErrorCode = "limit_reached"

	// Not Found (404)
	ErrCodeNotFoundAccount ErrorCode = "not_found_account"

	// Internal/Upstream (500/502/503)
	ErrCodeCreditsUnavailable ErrorCode = "credits_unavailable"
	ErrCodeDebitFailed        ErrorCode = "debit_failed"
	ErrCodeGenerationFailed   ErrorCode = "generation_failed"
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeWebhookSignature    ErrorCode = "webhook_signature_invalid"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
//
// limit_reached deliberately maps to 402 so the UI can distinguish
// "please upgrade" from "something broke".
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case c == ErrCodeLimitReached:
		return http.StatusPaymentRequired // 402
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case c == ErrCodeCreditsUnavailable:
		return http.StatusServiceUnavailable // 503
	case c == ErrCodeGenerationFailed, strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case c == ErrCodeWebhookSignature:
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// Retryable reports whether the caller may safely retry the request.
// Entitlement denials are not retryable; infrastructure failures are.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeCreditsUnavailable, ErrCodeGenerationFailed,
		ErrCodeUpstreamUnavailable, ErrCodeUpstreamRateLimited:
		return true
	}
	return false
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
