package credits

import "inkwell/internal/types"

// Decision is the entitlement guard's answer for one metered action.
type Decision struct {
	Allowed bool
	// Reason is set only when denied. The sole denial reason today is
	// limit_reached; store failures surface before the guard runs.
	Reason types.ErrorCode
}

// CheckEntitlement answers "may this account perform a metered action right
// now" from an already-fresh record. It has no side effects and must only be
// called after the renewal policy has been applied in the same request,
// otherwise it may read a stale balance.
//
// Premium is allowed unconditionally: the stored balance is never consulted
// for unlimited tiers. Metered tiers require a positive balance.
func CheckEntitlement(e *types.Entitlement) Decision {
	if e.Unlimited() {
		return Decision{Allowed: true}
	}
	if e.RemainingCredits > 0 {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: types.ErrCodeLimitReached}
}
