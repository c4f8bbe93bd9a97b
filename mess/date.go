package mess

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar date at day granularity
// =============================================================================

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date with no time-of-day component. The zero value
// is not a valid date; construct via ParseDate, NewDate, or Today.
type Date struct {
	t time.Time
}

// NewDate builds a Date from year/month/day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a moment to its calendar date in that moment's
// location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// Today returns the current calendar date in the given location.
func Today(loc *time.Location) Date {
	return DateOf(time.Now().In(loc))
}

// ParseDate parses a strict YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", ErrInvalidDate, s)
	}
	return Date{t: t}, nil
}

// MustDate parses a date or panics. For tests and constants.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string { return d.t.Format(DateLayout) }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Before reports whether d falls before other.
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

// After reports whether d falls after other.
func (d Date) After(other Date) bool { return d.t.After(other.t) }

// Equal reports whether d and other are the same calendar date.
func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// DaysUntil returns the whole number of days from d to other; negative
// when other precedes d.
func (d Date) DaysUntil(other Date) int {
	return int(other.t.Sub(d.t) / (24 * time.Hour))
}

// MarshalJSON implements json.Marshaler as a quoted YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("%w: date must be a JSON string", ErrInvalidDate)
	}
	parsed, err := ParseDate(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
