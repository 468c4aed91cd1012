package credits

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"inkwell/internal/types"
)

// EntitlementStore is the durable plan store. Implemented by
// db.EntitlementRepo; accepted as an interface so the core carries no
// ambient database handle and tests can substitute fakes.
type EntitlementStore interface {
	// Get returns the record, or a not_found_account error if absent.
	Get(ctx context.Context, accountID string) (*types.Entitlement, error)

	// Ensure lazily creates a missing record with the free tier, the given
	// allotment, and the given renewal timestamp. Existing rows untouched.
	Ensure(ctx context.Context, accountID string, allotment int, renewalAt time.Time) error

	// ResetIfStale applies the renewal write iff renewal_at is absent or
	// in the past. Returns true when this call performed the reset.
	ResetIfStale(ctx context.Context, accountID string, allotment int, now, nextRenewal time.Time) (bool, error)

	// AtomicDebit consumes up to amount credits, flooring at zero, and
	// returns the new balance. Returns types.ErrInsufficientCredits when
	// the balance was already zero.
	AtomicDebit(ctx context.Context, accountID string, amount int) (int, error)

	// SetPlan overwrites the tier and starts a fresh renewal window.
	SetPlan(ctx context.Context, accountID string, plan types.PlanTier, renewalAt time.Time) error
}

// GrantStore records credit grants with their audit trail.
// Implemented by db.LedgerRepo.
type GrantStore interface {
	Credit(ctx context.Context, accountID string, amount int, source types.CreditSource, description string) (int, *types.CreditTransaction, error)
	History(ctx context.Context, accountID string, limit int) ([]types.CreditTransaction, error)
}

// Service owns the freshen-and-read path for entitlement records.
// Every caller that touches credits goes through Refresh first; the guard
// and the ledger assume records they see have passed through it.
type Service struct {
	store  EntitlementStore
	policy RenewalPolicy
	logger *slog.Logger

	// refreshGroup collapses concurrent refreshes for the same account into
	// one store round trip. Correctness does not depend on it (the staleness
	// WHERE clause already makes the reset apply at most once); it only
	// spares the database duplicate writes under bursts.
	refreshGroup singleflight.Group

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// NewService creates the entitlement service.
func NewService(store EntitlementStore, policy RenewalPolicy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Refresh ensures the account's record exists and is fresh, then returns it.
// This is the only correct way to read an entitlement: guard decisions made
// against records from any other path may see a stale balance.
//
// Any store failure fails closed: the caller receives credits_unavailable
// and must deny the metered action rather than silently granting access.
func (s *Service) Refresh(ctx context.Context, accountID string) (*types.Entitlement, error) {
	v, err, _ := s.refreshGroup.Do(accountID, func() (any, error) {
		return s.refresh(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Entitlement), nil
}

func (s *Service) refresh(ctx context.Context, accountID string) (*types.Entitlement, error) {
	now := s.now().UTC()
	next := s.policy.NextRenewal(now)

	if err := s.store.Ensure(ctx, accountID, s.policy.Allotment, next); err != nil {
		return nil, s.failClosed(ctx, accountID, "ensure", err)
	}

	reset, err := s.store.ResetIfStale(ctx, accountID, s.policy.Allotment, now, next)
	if err != nil {
		return nil, s.failClosed(ctx, accountID, "reset", err)
	}
	if reset {
		s.logger.InfoContext(ctx, "credit renewal applied",
			"account_id", accountID,
			"next_renewal", next,
		)
	}

	rec, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, s.failClosed(ctx, accountID, "read", err)
	}
	return rec, nil
}

// failClosed translates a store failure into credits_unavailable. The
// distinction matters: an unreachable plan store must deny metered actions,
// never grant them.
func (s *Service) failClosed(ctx context.Context, accountID, op string, err error) error {
	s.logger.ErrorContext(ctx, "plan store failure during refresh",
		"account_id", accountID,
		"op", op,
		"error", err,
	)
	return types.NewAppError(
		types.ErrCodeCreditsUnavailable,
		"credit balance is temporarily unavailable",
		err,
	)
}
