/*
ranges.go - Multi-date off-request fan-out

PURPOSE:
  Applies one off-request across an inclusive date range. Each date is
  its own transaction: a rejected date (cutoff passed, already fully
  covered) does not roll back the dates that succeeded. The caller gets
  both lists back and reports them side by side.

SEE ALSO:
  - ledger.go: RequestOff, the per-date operation
  - mess/parse.go: ExpandRange / ParseOffDates
*/
package ledger

import (
	"context"

	"github.com/tiffin/mess-engine/mess"
)

// RangeFailure records why one date in a range was not recorded.
type RangeFailure struct {
	Date mess.Date
	Err  error
}

// RangeResult aggregates the per-date outcomes of a range request.
type RangeResult struct {
	Handle   string
	Meal     mess.Meal
	Recorded []OffResult
	Failures []RangeFailure
}

// RequestOffRange records the meal off for every date from from to to
// inclusive. Dates are processed independently; policy rejections and
// already-off conflicts are collected per date while the rest commit.
// Only a bad range, an unknown user, or a storage failure aborts the
// whole call.
func (l *Ledger) RequestOffRange(ctx context.Context, handle string, from, to mess.Date, meal mess.Meal) (*RangeResult, error) {
	dates, err := mess.ExpandRange(from, to)
	if err != nil {
		return nil, err
	}
	if _, err := l.store.GetUser(ctx, handle); err != nil {
		return nil, err
	}

	res := &RangeResult{Handle: handle, Meal: meal}
	for _, d := range dates {
		r, err := l.RequestOff(ctx, handle, d, meal)
		if err != nil {
			if mess.IsPolicyReject(err) || mess.IsConflict(err) {
				res.Failures = append(res.Failures, RangeFailure{Date: d, Err: err})
				continue
			}
			return nil, err
		}
		res.Recorded = append(res.Recorded, *r)
	}
	return res, nil
}
