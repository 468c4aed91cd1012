package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"inkwell/internal/types"
)

// SessionRepo resolves session tokens to account IDs. Session creation and
// expiry are owned by the web application's auth system; this service only
// needs the read path to attach an account identity to each request.
type SessionRepo struct {
	db DBTX
}

// NewSessionRepo creates a new SessionRepo backed by the given database
// connection (pool or transaction).
func NewSessionRepo(db DBTX) *SessionRepo {
	return &SessionRepo{db: db}
}

// AccountForTokenHash returns the account ID owning the unexpired session
// with the given token hash. Returns an auth AppError when no live session
// matches; storage failures surface as internal errors so the caller can
// distinguish "bad token" from "auth backend down".
func (r *SessionRepo) AccountForTokenHash(ctx context.Context, tokenHash string) (string, error) {
	var accountID string
	err := r.db.QueryRow(ctx,
		`SELECT account_id
		 FROM sessions
		 WHERE token_hash = $1
		   AND expires_at > NOW()`,
		tokenHash,
	).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "session not found or expired", nil)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to resolve session", err)
	}
	return accountID, nil
}
