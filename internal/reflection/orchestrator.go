// Package reflection implements the request-level workflow that ties the
// credit system to the external generation service: refresh the entitlement,
// check it, generate, then debit on success only.
package reflection

import (
	"context"
	"errors"
	"log/slog"

	"inkwell/internal/credits"
	"inkwell/internal/types"
)

// Generator is the external AI-generation service. It is untrusted I/O: it
// may be slow, may fail, may return unusable content. Implemented by
// external.InsightClient; faked in tests.
type Generator interface {
	Generate(ctx context.Context, entry types.EntryContent) (*types.Reflection, error)
}

// EntitlementRefresher is the freshen-and-read surface of the credit
// service. Implemented by credits.Service.
type EntitlementRefresher interface {
	Refresh(ctx context.Context, accountID string) (*types.Entitlement, error)
}

// Debiter is the post-generation debit surface of the ledger.
// Implemented by credits.Ledger.
type Debiter interface {
	Debit(ctx context.Context, e *types.Entitlement, amount int) (int, error)
}

// debitPerReflection is the cost of one generation in credits.
const debitPerReflection = 1

// Orchestrator drives one reflection request through its states:
//
//	START -> FRESHENED -> CHECKED -> {DENIED | GENERATING} -> {DEBITED | FAILED}
//
// The ordering generate-then-debit is the primary defense against charging
// users for failed work and must be preserved exactly: a generation that
// times out, errors, or is cancelled never reaches the debit.
type Orchestrator struct {
	entitlements EntitlementRefresher
	ledger       Debiter
	generator    Generator
	logger       *slog.Logger
}

// NewOrchestrator creates the reflection orchestrator.
func NewOrchestrator(
	entitlements EntitlementRefresher,
	ledger Debiter,
	generator Generator,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		entitlements: entitlements,
		ledger:       ledger,
		generator:    generator,
		logger:       logger,
	}
}

// Request processes one reflection request for the given account.
// On success it returns the generated reflection and the remaining balance
// (types.UnlimitedBalance for premium). All failures return an AppError
// from the outcome taxonomy; callers never see raw storage errors:
//
//	credits_unavailable - plan store failed; fail closed, retryable
//	limit_reached       - metered balance exhausted; no generation attempted
//	generation_failed   - generation call failed; no debit
func (o *Orchestrator) Request(ctx context.Context, accountID string, entry types.EntryContent) (*types.ReflectionResult, error) {
	// FRESHENED: apply the renewal policy before trusting any balance.
	rec, err := o.entitlements.Refresh(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// CHECKED: pure decision over the fresh record.
	if d := credits.CheckEntitlement(rec); !d.Allowed {
		o.logger.InfoContext(ctx, "reflection denied",
			"account_id", accountID,
			"plan", string(rec.Plan),
			"reason", string(d.Reason),
		)
		return nil, types.NewAppError(d.Reason, "monthly reflection limit reached", nil)
	}

	// GENERATING: untrusted external call. Any failure here maps to
	// generation_failed and the user is never debited.
	generated, err := o.generator.Generate(ctx, entry)
	if err != nil {
		o.logger.ErrorContext(ctx, "reflection generation failed",
			"account_id", accountID,
			"error", err,
		)
		return nil, types.NewAppError(types.ErrCodeGenerationFailed, "reflection generation failed", err)
	}

	// DEBITED: the user already received value, so a debit failure is
	// logged and accepted as a lost debit rather than surfaced or retried.
	// Retrying would risk double-charging the next success; re-running the
	// generation would hand out a second result for one credit.
	remaining, err := o.ledger.Debit(ctx, rec, debitPerReflection)
	if err != nil {
		o.logger.ErrorContext(ctx, "debit failed after successful generation; accepting lost debit",
			"account_id", accountID,
			"error", err,
		)
		remaining = rec.RemainingCredits - debitPerReflection
		if remaining < 0 {
			remaining = 0
		}
	}

	return &types.ReflectionResult{
		State:            types.ReflectionDebited,
		Reflection:       generated,
		RemainingCredits: remaining,
	}, nil
}

// IsDenial reports whether the error is the expected user-facing limit
// denial rather than an infrastructure failure. Handlers use it to avoid
// error-level logging for ordinary upgrade prompts.
func IsDenial(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeLimitReached
}
