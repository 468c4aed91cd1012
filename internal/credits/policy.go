// Package credits implements the entitlement and credit-accounting core:
// the renewal policy, the entitlement guard, and the ledger operations.
// It is the only package that mutates entitlement records, always through
// the store interfaces defined here.
package credits

import "time"

// RenewalPolicy decides when a credit balance must be reset and computes
// the next renewal timestamp. The decision itself is pure; the single
// conditional write it drives lives in the store.
type RenewalPolicy struct {
	// Allotment is the monthly credit grant for metered tiers. This is the
	// single authoritative value; no other constant exists.
	Allotment int
}

// NextRenewal returns the renewal timestamp for a window opening at now.
// Windows are rolling (one calendar month from the reset), not aligned to
// calendar boundaries.
func (p RenewalPolicy) NextRenewal(now time.Time) time.Time {
	return now.AddDate(0, 1, 0)
}
