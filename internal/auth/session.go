// Package auth resolves request credentials to account identities. Session
// issuance and expiry are owned by the journaling web application; this
// service only consumes its sessions table to map bearer tokens to accounts.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// SessionLookup is the read path into the sessions table.
// Implemented by db.SessionRepo.
type SessionLookup interface {
	AccountForTokenHash(ctx context.Context, tokenHash string) (string, error)
}

// SessionAuthenticator implements core.Authenticator by hashing the bearer
// token and resolving it against the shared sessions table. Tokens are
// stored hashed so a database leak does not expose live credentials.
type SessionAuthenticator struct {
	sessions SessionLookup
	logger   *slog.Logger
}

// NewSessionAuthenticator creates a session-backed authenticator.
func NewSessionAuthenticator(sessions SessionLookup, logger *slog.Logger) *SessionAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionAuthenticator{
		sessions: sessions,
		logger:   logger,
	}
}

// Authenticate resolves the token to an account ID. Unknown and expired
// tokens return the auth error from the lookup unchanged; the middleware
// writes it as a 401.
func (a *SessionAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	return a.sessions.AccountForTokenHash(ctx, HashToken(token))
}

// HashToken returns the hex SHA-256 digest of a session token, matching the
// hashing scheme the web application uses when writing the sessions table.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
