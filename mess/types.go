// Package mess defines the domain model for the mess subscription
// system: users, off-requests, payments, meal credits, and the meal
// set algebra used by the off-request ledger.
package mess

// =============================================================================
// MEAL - Which meal(s) an off-request covers
// =============================================================================

// Meal identifies the meal slot(s) of an off-request.
// "both" is the union of lunch and dinner; the ledger guarantees that a
// (user, date) pair never holds more than one record, so overlapping
// requests collapse into a single record via Union.
type Meal string

const (
	MealLunch  Meal = "lunch"
	MealDinner Meal = "dinner"
	MealBoth   Meal = "both"
)

// Valid reports whether m is one of the three known meal values.
func (m Meal) Valid() bool {
	return m == MealLunch || m == MealDinner || m == MealBoth
}

// Credits returns the credit value of the meal set: one credit per
// skipped meal.
func (m Meal) Credits() int {
	if m == MealBoth {
		return 2
	}
	return 1
}

// IncludesLunch reports whether the meal set covers lunch.
func (m Meal) IncludesLunch() bool { return m == MealLunch || m == MealBoth }

// IncludesDinner reports whether the meal set covers dinner.
func (m Meal) IncludesDinner() bool { return m == MealDinner || m == MealBoth }

// Covers reports whether m already includes every meal in other.
func (m Meal) Covers(other Meal) bool {
	if m == MealBoth {
		return true
	}
	return m == other
}

// Union returns the smallest meal set covering both m and other.
func (m Meal) Union(other Meal) Meal {
	if m == other {
		return m
	}
	return MealBoth
}

// =============================================================================
// RECORDS
// =============================================================================

// User is a registered mess subscriber.
//
// Handle is assigned at creation (not chosen) and never changes.
// ChatID is empty until the user links a chat identity to their phone
// number. MealCredits is a running total kept consistent by the ledger;
// it is never negative.
type User struct {
	Handle      string
	Name        string
	Phone       string
	ChatID      string
	SubStart    *Date
	SubEnd      *Date
	MealCredits int
}

// Subscribed reports whether the user has an active subscription window
// as of the given date.
func (u User) Subscribed(today Date) bool {
	return u.SubEnd != nil && !u.SubEnd.Before(today)
}

// DaysRemaining returns the number of subscription days left from
// today, floored at zero.
func (u User) DaysRemaining(today Date) int {
	if u.SubEnd == nil {
		return 0
	}
	d := today.DaysUntil(*u.SubEnd)
	if d < 0 {
		return 0
	}
	return d
}

// OffRequest records that a user skips the given meal(s) on a date.
// At most one active record exists per (user, date); its Meal is the
// union of everything ever requested for that slot.
type OffRequest struct {
	ID         int64
	UserHandle string
	Date       Date
	Meal       Meal
}

// Payment is one append-only entry in the subscription-day grant log.
// Rows are written for manual payments and for every credit conversion
// (including automatic ones); they are never mutated or deleted, so the
// log alone reconstructs all days ever granted to a user.
type Payment struct {
	ID          int64
	UserHandle  string
	PaymentDate Date
	DaysAdded   int
}

// =============================================================================
// CREDIT AUDIT TRAIL
// =============================================================================

// CreditEntryType classifies a credit balance mutation.
type CreditEntryType string

const (
	// CreditEarn: credits granted for a new or upgraded off-request.
	CreditEarn CreditEntryType = "earn"
	// CreditRefundOff: deduction when an off-request is cancelled
	// (clamped so the balance never goes negative).
	CreditRefundOff CreditEntryType = "refund_off"
	// CreditConvert: credits consumed by a conversion into
	// subscription days.
	CreditConvert CreditEntryType = "convert"
	// CreditAdjust: manual administrator correction.
	CreditAdjust CreditEntryType = "adjust"
)

// CreditEntry is one append-only audit record of a balance change.
// Delta is the applied (post-clamp) change, so replaying all entries
// for a user yields exactly the stored MealCredits total.
type CreditEntry struct {
	ID         int64
	UserHandle string
	Delta      int
	Type       CreditEntryType
	Reference  string
	CreatedAt  Date
}
