/*
threshold.go - Meal request/cancel cutoff policy

PURPOSE:
  Decides, for a given date and the current moment, which meals may
  still be requested off (or cancelled). Pure: no storage, no clock of
  its own - callers pass `now`.

RULES:
  - Future dates: both meals allowed.
  - Today: lunch allowed strictly before LunchCutoffHour, dinner
    strictly before DinnerCutoffHour (kitchen-local wall clock).
  - Past dates: nothing allowed, for any meal value including "both".

SEE ALSO:
  - ledger/ledger.go: Enforces this policy before every insert
  - config/config.go: Supplies the cutoff hours and timezone
*/
package policy

import (
	"fmt"
	"time"

	"github.com/tiffin/mess-engine/mess"
)

// =============================================================================
// THRESHOLDS
// =============================================================================

// Thresholds holds the same-day cutoff hours and the kitchen timezone.
type Thresholds struct {
	LunchCutoffHour  int
	DinnerCutoffHour int
	Location         *time.Location
}

// DefaultThresholds returns the production cutoffs: lunch closes at
// 11:00 and dinner at 17:00, Asia/Kolkata wall clock.
func DefaultThresholds() Thresholds {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return Thresholds{LunchCutoffHour: 11, DinnerCutoffHour: 17, Location: loc}
}

// Decision is the outcome of evaluating a date against the cutoffs.
type Decision struct {
	Date          mess.Date
	LunchAllowed  bool
	DinnerAllowed bool
}

// Allows reports whether every meal in m is still open.
func (d Decision) Allows(m mess.Meal) bool {
	if m.IncludesLunch() && !d.LunchAllowed {
		return false
	}
	if m.IncludesDinner() && !d.DinnerAllowed {
		return false
	}
	return true
}

// Now returns the current moment in the kitchen timezone.
func (t Thresholds) Now() time.Time {
	return time.Now().In(t.Location)
}

// Evaluate resolves dateInput ("today" or YYYY-MM-DD) against now and
// returns the per-meal availability. Past dates resolve with both
// meals disallowed; only a malformed date is an error.
func (t Thresholds) Evaluate(dateInput string, now time.Time) (Decision, error) {
	local := now.In(t.Location)
	today := mess.DateOf(local)

	var date mess.Date
	if dateInput == "today" {
		date = today
	} else {
		var err error
		date, err = mess.ParseDate(dateInput)
		if err != nil {
			return Decision{}, err
		}
	}
	return t.Decide(date, now), nil
}

// Decide returns the per-meal availability for an already-parsed date.
func (t Thresholds) Decide(date mess.Date, now time.Time) Decision {
	local := now.In(t.Location)
	today := mess.DateOf(local)

	d := Decision{Date: date}
	switch {
	case date.After(today):
		d.LunchAllowed = true
		d.DinnerAllowed = true
	case date.Equal(today):
		d.LunchAllowed = local.Hour() < t.LunchCutoffHour
		d.DinnerAllowed = local.Hour() < t.DinnerCutoffHour
	}
	// Past dates keep both flags false.
	return d
}

// Check returns a CutoffError unless every meal in m is still open on
// date. Used by the ledger before inserting or upgrading a record.
func (t Thresholds) Check(date mess.Date, m mess.Meal, now time.Time) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %q", mess.ErrInvalidMeal, m)
	}
	d := t.Decide(date, now)
	if d.Allows(m) {
		return nil
	}
	today := mess.DateOf(now.In(t.Location))
	return &mess.CutoffError{Date: date, Meal: m, Past: date.Before(today)}
}
