package credits

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"inkwell/internal/types"
)

// Ledger performs the balance mutations: post-generation debits,
// administrative grants, and plan changes from trusted external signals.
type Ledger struct {
	store  EntitlementStore
	grants GrantStore
	policy RenewalPolicy
	logger *slog.Logger

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// NewLedger creates the credit ledger.
func NewLedger(store EntitlementStore, grants GrantStore, policy RenewalPolicy, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		grants: grants,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the ledger clock. Tests only.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Debit consumes amount credits after a successful metered action.
// Preconditioned on CheckEntitlement having just returned Allowed for this
// record. Premium accounts are exempt: the call is a no-op returning the
// unlimited marker.
//
// A concurrent debit that emptied the balance between the guard and this
// call surfaces as types.ErrInsufficientCredits from the store; the balance
// floored at zero, the action already happened, so this is logged and
// reported as a zero balance rather than an error. The ordering
// generate-then-debit means at worst one extra generation went out free; it
// never charges a user for failed work.
func (l *Ledger) Debit(ctx context.Context, e *types.Entitlement, amount int) (int, error) {
	if e.Unlimited() {
		return types.UnlimitedBalance, nil
	}

	remaining, err := l.store.AtomicDebit(ctx, e.AccountID, amount)
	if err != nil {
		if errors.Is(err, types.ErrInsufficientCredits) {
			l.logger.WarnContext(ctx, "debit raced to an empty balance",
				"account_id", e.AccountID,
			)
			return 0, nil
		}
		return 0, types.NewAppError(types.ErrCodeDebitFailed, "failed to debit credits", err)
	}
	return remaining, nil
}

// Grant credits the account and appends the audit row. Amounts must be
// positive; zero and negative grants are rejected. Grants are independent
// of plan tier and work for accounts that have never used the feature (the
// record is lazily created first).
func (l *Ledger) Grant(
	ctx context.Context,
	accountID string,
	amount int,
	source types.CreditSource,
	description string,
) (int, *types.CreditTransaction, error) {
	if amount <= 0 {
		return 0, nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationAmountRange,
			"grant amount must be positive",
			nil,
			map[string]any{"amount": amount},
		)
	}
	if !source.Valid() {
		return 0, nil, types.NewAppError(types.ErrCodeValidationMissingField, "unknown credit source", nil)
	}

	now := l.now().UTC()
	if err := l.store.Ensure(ctx, accountID, l.policy.Allotment, l.policy.NextRenewal(now)); err != nil {
		return 0, nil, types.NewAppError(types.ErrCodeCreditsUnavailable, "credit balance is temporarily unavailable", err)
	}

	newBalance, txn, err := l.grants.Credit(ctx, accountID, amount, source, description)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundAccount {
			return 0, nil, err
		}
		return 0, nil, types.NewAppError(types.ErrCodeCreditsUnavailable, "failed to apply credit grant", err)
	}

	l.logger.InfoContext(ctx, "credits granted",
		"account_id", accountID,
		"amount", amount,
		"source", string(source),
		"new_balance", newBalance,
	)
	return newBalance, txn, nil
}

// SetPlan overwrites the account's tier in response to a trusted external
// signal and opens a fresh renewal window one month out. The balance is not
// modified: premium ignores it, and a downgrade's allotment is materialized
// lazily by the next renewal pass.
func (l *Ledger) SetPlan(ctx context.Context, accountID string, plan types.PlanTier) error {
	if !plan.Valid() {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			"unknown plan tier",
			nil,
			map[string]any{"plan": string(plan)},
		)
	}

	now := l.now().UTC()
	if err := l.store.SetPlan(ctx, accountID, plan, l.policy.NextRenewal(now)); err != nil {
		return types.NewAppError(types.ErrCodeCreditsUnavailable, "failed to change plan", err)
	}

	l.logger.InfoContext(ctx, "plan changed",
		"account_id", accountID,
		"plan", string(plan),
	)
	return nil
}

// History returns the account's recent credit transactions, newest first.
func (l *Ledger) History(ctx context.Context, accountID string, limit int) ([]types.CreditTransaction, error) {
	txns, err := l.grants.History(ctx, accountID, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeCreditsUnavailable, "credit history is temporarily unavailable", err)
	}
	return txns, nil
}
