package types

import "time"

// Entitlement is the canonical per-account credit record. It is the single
// shared mutable resource in the service and is mutated only through the
// renewal policy and the ledger operations; no other code path writes to it.
type Entitlement struct {
	AccountID        string    `json:"account_id"`
	Plan             PlanTier  `json:"plan"`
	RemainingCredits int       `json:"remaining_credits"`
	// RenewalAt marks the next point at which Free/Trial credits reset.
	// Nil means the record has never been through the renewal policy and
	// needs initialization.
	RenewalAt *time.Time `json:"renewal_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Unlimited reports whether entitlement checks ignore the stored balance.
func (e *Entitlement) Unlimited() bool {
	return e.Plan == PlanPremium
}

// Stale reports whether the record must pass through the renewal policy
// before its balance can be trusted. A nil RenewalAt is always stale.
func (e *Entitlement) Stale(now time.Time) bool {
	return e.RenewalAt == nil || !now.Before(*e.RenewalAt)
}

// CreditTransaction is one row of the append-only grant audit trail.
// Rows are never mutated after creation and do not participate in balance
// invariants; the entitlement balance is the source of truth.
type CreditTransaction struct {
	ID          string       `json:"id"`
	AccountID   string       `json:"account_id"`
	Amount      int          `json:"amount"`
	PlanAtGrant PlanTier     `json:"plan_at_grant"`
	Source      CreditSource `json:"source"`
	Description string       `json:"description"`
	CreatedAt   time.Time    `json:"created_at"`
}

// EntryContent is the journal entry submitted for reflection.
type EntryContent struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Reflection is the structured output of the generation service.
type Reflection struct {
	Summary        string   `json:"summary"`
	Themes         []string `json:"themes"`
	Emotions       []string `json:"emotions"`
	GentleNextStep string   `json:"gentle_next_step"`
	Questions      []string `json:"questions"`
}

// ReflectionResult is the orchestrator's terminal outcome for one request.
// Exactly one of Reflection or the error surfaced to the caller is set;
// RemainingCredits is UnlimitedBalance for premium accounts.
type ReflectionResult struct {
	State            ReflectionState `json:"state"`
	Reflection       *Reflection     `json:"reflection,omitempty"`
	RemainingCredits int             `json:"remaining_credits"`
}
