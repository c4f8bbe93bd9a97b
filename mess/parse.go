package mess

import (
	"fmt"
	"strings"
)

// MaxRangeDays bounds an inclusive date range so a typo like
// "2025-01-01 to 2035-01-01" cannot expand into thousands of rows.
const MaxRangeDays = 366

// ExpandRange returns every date from from to to inclusive.
func ExpandRange(from, to Date) ([]Date, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidRange, from, to)
	}
	n := from.DaysUntil(to) + 1
	if n > MaxRangeDays {
		return nil, fmt.Errorf("%w: %d days exceeds %d", ErrInvalidRange, n, MaxRangeDays)
	}
	dates := make([]Date, 0, n)
	for d := from; !d.After(to); d = d.AddDays(1) {
		dates = append(dates, d)
	}
	return dates, nil
}

// ParseOffDates parses a comma-separated list of dates and inclusive
// "A to B" ranges, e.g.
//
//	"2025-05-10, 2025-05-12 to 2025-05-14"
//
// into the expanded, deduplicated list of dates in input order. Used
// for seeding off-days at user creation.
func ParseOffDates(input string) ([]Date, error) {
	var out []Date
	seen := make(map[string]bool)

	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var dates []Date
		if lo, hi, ok := splitRange(part); ok {
			from, err := ParseDate(lo)
			if err != nil {
				return nil, err
			}
			to, err := ParseDate(hi)
			if err != nil {
				return nil, err
			}
			dates, err = ExpandRange(from, to)
			if err != nil {
				return nil, err
			}
		} else {
			d, err := ParseDate(part)
			if err != nil {
				return nil, err
			}
			dates = []Date{d}
		}

		for _, d := range dates {
			if seen[d.String()] {
				continue
			}
			seen[d.String()] = true
			out = append(out, d)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no dates in %q", ErrInvalidDate, input)
	}
	return out, nil
}

func splitRange(s string) (lo, hi string, ok bool) {
	i := strings.Index(s, " to ")
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+4:]), true
}
