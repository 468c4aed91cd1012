package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"inkwell/internal/types"
)

// EntitlementRepo provides data access for the entitlements table.
// It is the only write path for entitlement rows.
//
// Key invariants:
//   - remaining_credits never goes negative: debits are a single conditional
//     UPDATE guarded by remaining_credits > 0, not a read-modify-write.
//   - ResetIfStale is idempotent under concurrency: the UPDATE only applies
//     while renewal_at is still in the past, so racing refreshes for the
//     same account reset the balance at most once per window.
type EntitlementRepo struct {
	db DBTX
}

// NewEntitlementRepo creates a new EntitlementRepo backed by the given
// database connection (pool or transaction).
func NewEntitlementRepo(db DBTX) *EntitlementRepo {
	return &EntitlementRepo{db: db}
}

// entitlementColumns is the standard column set for entitlement queries.
// Used consistently across all query methods to avoid column drift.
const entitlementColumns = `account_id, plan, remaining_credits, renewal_at, updated_at`

// scanEntitlement scans a single entitlement row. The columns must match
// the order defined in entitlementColumns.
func scanEntitlement(row pgx.Row) (*types.Entitlement, error) {
	var e types.Entitlement
	err := row.Scan(
		&e.AccountID,
		&e.Plan,
		&e.RemainingCredits,
		&e.RenewalAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Get returns the entitlement record for the given account.
// Returns a not_found_account AppError if no row exists; callers that want
// lazy creation should call Ensure first.
func (r *EntitlementRepo) Get(ctx context.Context, accountID string) (*types.Entitlement, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+entitlementColumns+`
		 FROM entitlements
		 WHERE account_id = $1`,
		accountID,
	)
	e, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "no entitlement record for account", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read entitlement", err)
	}
	return e, nil
}

// Ensure lazily creates the entitlement record for an account that has never
// touched the credit system: free tier, the configured monthly allotment,
// and a renewal one month out. Existing rows are left untouched.
func (r *EntitlementRepo) Ensure(ctx context.Context, accountID string, allotment int, renewalAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO entitlements (account_id, plan, remaining_credits, renewal_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (account_id) DO NOTHING`,
		accountID,
		types.PlanFree,
		allotment,
		renewalAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to initialize entitlement", err)
	}
	return nil
}

// ResetIfStale applies the renewal policy write: if the record's renewal_at
// is absent or in the past, metered tiers get their balance restored to the
// monthly allotment and every tier has renewal_at advanced. Premium balances
// are left untouched because they are never consulted.
//
// The staleness condition lives in the WHERE clause so concurrent refreshes
// for the same account apply at most once (RowsAffected gate). Returns true
// when this call performed the reset.
func (r *EntitlementRepo) ResetIfStale(ctx context.Context, accountID string, allotment int, now, nextRenewal time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET remaining_credits = CASE WHEN plan = $2 THEN remaining_credits ELSE $3 END,
		     renewal_at = $4,
		     updated_at = NOW()
		 WHERE account_id = $1
		   AND (renewal_at IS NULL OR renewal_at <= $5)`,
		accountID,
		types.PlanPremium,
		allotment,
		nextRenewal,
		now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to apply credit renewal", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AtomicDebit consumes up to amount credits in a single conditional UPDATE
// and returns the new balance. If concurrent debits race, the balance floors
// at zero and only the units that remained are consumed. A balance already
// at zero yields types.ErrInsufficientCredits without modifying the row.
func (r *EntitlementRepo) AtomicDebit(ctx context.Context, accountID string, amount int) (int, error) {
	var remaining int
	err := r.db.QueryRow(ctx,
		`UPDATE entitlements
		 SET remaining_credits = GREATEST(remaining_credits - $2, 0),
		     updated_at = NOW()
		 WHERE account_id = $1
		   AND remaining_credits > 0
		 RETURNING remaining_credits`,
		accountID,
		amount,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, types.ErrInsufficientCredits
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to debit credits", err)
	}
	return remaining, nil
}

// SetPlan overwrites the plan tier in response to a trusted external signal
// (payment webhook or admin action) and starts a fresh allotment window one
// month out. The balance is never modified here: premium ignores it, and
// metered tiers have theirs materialized lazily by the next renewal pass.
// Accounts without a row yet get one created with a zero balance.
func (r *EntitlementRepo) SetPlan(ctx context.Context, accountID string, plan types.PlanTier, renewalAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO entitlements (account_id, plan, remaining_credits, renewal_at, updated_at)
		 VALUES ($1, $2, 0, $3, NOW())
		 ON CONFLICT (account_id) DO UPDATE
		 SET plan = EXCLUDED.plan,
		     renewal_at = EXCLUDED.renewal_at,
		     updated_at = NOW()`,
		accountID,
		plan,
		renewalAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set plan", err)
	}
	return nil
}
