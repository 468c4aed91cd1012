package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"inkwell/internal/types"
)

// LedgerRepo manages credit grants and the append-only credit_transactions
// audit trail. Grants pair a balance increment with a history row inside one
// transaction so the trail never records a grant that was not applied.
//
// The history is best-effort observational data: the entitlement balance is
// the source of truth, and archiver pruning of old rows does not affect any
// balance invariant.
type LedgerRepo struct {
	pool TxBeginner
	db   DBTX
}

// NewLedgerRepo creates a new LedgerRepo. The pool is used to open
// transactions for grants; db serves plain reads.
func NewLedgerRepo(pool TxBeginner, db DBTX) *LedgerRepo {
	return &LedgerRepo{pool: pool, db: db}
}

// Credit atomically increments the account balance and appends the audit
// row. Returns the new balance and the recorded transaction.
// Amount validation (> 0) is the ledger service's job; this method assumes
// a sane amount and a row that already exists.
func (r *LedgerRepo) Credit(
	ctx context.Context,
	accountID string,
	amount int,
	source types.CreditSource,
	description string,
) (int, *types.CreditTransaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin grant transaction", err)
	}
	defer tx.Rollback(ctx)

	var newBalance int
	var planAtGrant types.PlanTier
	err = tx.QueryRow(ctx,
		`UPDATE entitlements
		 SET remaining_credits = remaining_credits + $2,
		     updated_at = NOW()
		 WHERE account_id = $1
		 RETURNING remaining_credits, plan`,
		accountID,
		amount,
	).Scan(&newBalance, &planAtGrant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, types.NewAppError(types.ErrCodeNotFoundAccount, "no entitlement record for account", nil)
		}
		return 0, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to apply credit grant", err)
	}

	txn := &types.CreditTransaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Amount:      amount,
		PlanAtGrant: planAtGrant,
		Source:      source,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, account_id, amount, plan_at_grant, source, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.ID,
		txn.AccountID,
		txn.Amount,
		txn.PlanAtGrant,
		txn.Source,
		txn.Description,
		txn.CreatedAt,
	)
	if err != nil {
		return 0, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to record credit transaction", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit credit grant", err)
	}

	return newBalance, txn, nil
}

// History returns the most recent credit transactions for an account,
// newest first.
func (r *LedgerRepo) History(ctx context.Context, accountID string, limit int) ([]types.CreditTransaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, amount, plan_at_grant, source, description, created_at
		 FROM credit_transactions
		 WHERE account_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		accountID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query credit history", err)
	}
	defer rows.Close()

	var results []types.CreditTransaction
	for rows.Next() {
		var t types.CreditTransaction
		if err := rows.Scan(
			&t.ID,
			&t.AccountID,
			&t.Amount,
			&t.PlanAtGrant,
			&t.Source,
			&t.Description,
			&t.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan credit transaction row", err)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating credit transaction rows", err)
	}

	return results, nil
}

// OldestBefore returns up to limit transactions created before the cutoff,
// oldest first. Used by the archiver to page through export candidates.
func (r *LedgerRepo) OldestBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.CreditTransaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, amount, plan_at_grant, source, description, created_at
		 FROM credit_transactions
		 WHERE created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query archivable transactions", err)
	}
	defer rows.Close()

	var results []types.CreditTransaction
	for rows.Next() {
		var t types.CreditTransaction
		if err := rows.Scan(
			&t.ID,
			&t.AccountID,
			&t.Amount,
			&t.PlanAtGrant,
			&t.Source,
			&t.Description,
			&t.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan archivable transaction row", err)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating archivable transaction rows", err)
	}

	return results, nil
}

// DeleteByIDs prunes archived transactions. Only called by the archiver
// after the export file has been durably written.
func (r *LedgerRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM credit_transactions WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune archived transactions", err)
	}
	return tag.RowsAffected(), nil
}
