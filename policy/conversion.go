/*
conversion.go - Credit-to-subscription-day conversion policy

PURPOSE:
  Pure arithmetic deciding how many meal credits convert into
  subscription days. The ledger applies the result transactionally and
  re-runs the policy after every balance increase, so a second
  consecutive run over the same balance must always be a no-op.

RULES:
  - Nothing happens below AutoConvertThreshold (or below CreditsPerDay).
  - Above MaxCredits the balance drains: as many whole days as the
    balance affords.
  - Otherwise enough days convert to land the balance strictly below
    the threshold, at least one day per triggered run.

SEE ALSO:
  - ledger/ledger.go: Applies Outcome inside the same transaction as
    the balance change that triggered it
*/
package policy

// =============================================================================
// CONVERSION
// =============================================================================

// Conversion holds the credit-to-day exchange knobs.
type Conversion struct {
	CreditsPerDay        int
	AutoConvertThreshold int
	MaxCredits           int
}

// DefaultConversion returns the production knobs: 2 credits buy a day,
// conversion triggers at 2 credits, balances cap at 30.
func DefaultConversion() Conversion {
	return Conversion{CreditsPerDay: 2, AutoConvertThreshold: 2, MaxCredits: 30}
}

// Outcome describes one conversion: Days subscription days granted for
// CreditsUsed credits, leaving Remaining on the balance. The zero
// Outcome means "no conversion".
type Outcome struct {
	Days        int
	CreditsUsed int
	Remaining   int
}

// Converted reports whether the outcome grants any days.
func (o Outcome) Converted() bool { return o.Days > 0 }

// Evaluate computes the conversion for a balance. It never returns an
// outcome that would leave the balance negative, and whenever it
// triggers, the remaining balance is strictly below the threshold - so
// Evaluate(Evaluate(b).Remaining) is always a no-op.
func (c Conversion) Evaluate(balance int) Outcome {
	if c.CreditsPerDay <= 0 || balance < c.CreditsPerDay || balance < c.AutoConvertThreshold {
		return Outcome{Remaining: balance}
	}

	var days int
	if balance > c.MaxCredits {
		// Over the cap: drain every affordable day.
		days = balance / c.CreditsPerDay
	} else {
		// Convert just enough to drop strictly below the threshold.
		excess := balance - (c.AutoConvertThreshold - 1)
		days = (excess + c.CreditsPerDay - 1) / c.CreditsPerDay
	}

	used := days * c.CreditsPerDay
	if used > balance {
		// Misconfigured threshold below CreditsPerDay; never overdraw.
		days = balance / c.CreditsPerDay
		used = days * c.CreditsPerDay
	}
	return Outcome{Days: days, CreditsUsed: used, Remaining: balance - used}
}

// Eligible reports whether a balance could convert at all. Used by the
// bulk sweep to skip users cheaply.
func (c Conversion) Eligible(balance int) bool {
	return c.CreditsPerDay > 0 && balance >= c.CreditsPerDay && balance >= c.AutoConvertThreshold
}
