package types

import "strings"

// PlanTier identifies the billing plan for an account.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanTrial   PlanTier = "trial"
	PlanPremium PlanTier = "premium"
)

// Metered reports whether the tier consumes credits per reflection.
// Premium is unlimited; Free and Trial draw from the monthly allotment.
func (p PlanTier) Metered() bool {
	return p != PlanPremium
}

// Valid reports whether the tier is one of the closed set.
func (p PlanTier) Valid() bool {
	switch p {
	case PlanFree, PlanTrial, PlanPremium:
		return true
	}
	return false
}

// ParsePlanTier normalizes an external tier spelling into the closed enum.
// Historical clients used uppercase spellings and the legacy "essential"
// name for the paid plan; both are accepted here and nowhere else.
func ParsePlanTier(s string) (PlanTier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "free":
		return PlanFree, true
	case "trial":
		return PlanTrial, true
	case "premium", "essential":
		return PlanPremium, true
	}
	return "", false
}

// CreditSource identifies the origin of a credit grant.
type CreditSource string

const (
	CreditSourceAdmin    CreditSource = "admin_grant"
	CreditSourcePurchase CreditSource = "purchase"
	CreditSourceRenewal  CreditSource = "renewal"
	CreditSourcePromo    CreditSource = "promo"
)

// Valid reports whether the source is one of the known set.
func (s CreditSource) Valid() bool {
	switch s {
	case CreditSourceAdmin, CreditSourcePurchase, CreditSourceRenewal, CreditSourcePromo:
		return true
	}
	return false
}

// ReflectionState labels the terminal state of a reflection request.
// The orchestrator walks START -> FRESHENED -> CHECKED -> {DENIED |
// GENERATING} -> {DEBITED | FAILED}; only the terminal states are
// observable by callers.
type ReflectionState string

const (
	ReflectionDebited ReflectionState = "debited"
	ReflectionDenied  ReflectionState = "denied"
	ReflectionFailed  ReflectionState = "failed"
)

// Stripe event type constants prevent magic strings in the webhook handler.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
)

// UnlimitedBalance is the sentinel returned by ledger operations for
// premium accounts, whose stored balance is ignored.
const UnlimitedBalance = -1
