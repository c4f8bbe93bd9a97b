/*
errors.go - Centralized error taxonomy for the mess engine

PURPOSE:
  All domain error types in one place. The API layer maps them onto
  HTTP statuses through the classifier helpers at the bottom; nothing
  outside this package should inspect error strings.

ERROR CATEGORIES:
  1. Validation errors - malformed input (dates, meals, phones, counts)
  2. Policy rejections - well-formed but refused by the threshold policy
  3. Conflicts - state collisions (duplicate phone, linked chat, off row)
  4. Not found - missing user / off-request

USAGE:
  Callers branch with errors.Is or the classifiers:

    if mess.IsPolicyReject(err) { ... 422 ... }

SEE ALSO:
  - policy/threshold.go: Produces CutoffError
  - ledger/ledger.go: Produces AlreadyOffError and the conflicts
  - api/handlers.go: Maps classifiers to statuses
*/
package mess

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDate is returned when a date string is not "today" or
	// a well-formed YYYY-MM-DD value.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidMeal is returned for meal values outside
	// lunch/dinner/both.
	ErrInvalidMeal = errors.New("invalid meal")

	// ErrInvalidPhone is returned when a phone number is not exactly
	// ten digits.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrInvalidName is returned when a user name is empty.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidDays is returned when a payment or adjustment count is
	// out of range (payments must add at least one day).
	ErrInvalidDays = errors.New("invalid day count")

	// ErrInvalidRange is returned when a date range ends before it
	// starts.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrMealCutoff is returned when the threshold policy refuses a
	// same-day or past-date request. Wrapped by CutoffError.
	ErrMealCutoff = errors.New("meal no longer requestable")

	// ErrAlreadyOff is returned when an off-request adds nothing: the
	// existing record for that day already covers the requested meals.
	ErrAlreadyOff = errors.New("already off")

	// ErrDuplicatePhone is returned when creating a user with a phone
	// number that is already registered.
	ErrDuplicatePhone = errors.New("phone number already registered")

	// ErrAlreadyLinked is returned when the user's chat identity is
	// already set, or the chat identity is bound to another user.
	ErrAlreadyLinked = errors.New("chat identity already linked")

	// ErrUserNotFound is returned when a handle, phone, or chat lookup
	// matches no user.
	ErrUserNotFound = errors.New("user not found")

	// ErrOffNotFound is returned when an off-request id does not exist.
	ErrOffNotFound = errors.New("off request not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AlreadyOffError reports that a (user, date) off record already covers
// the requested meals.
type AlreadyOffError struct {
	Handle   string
	Date     Date
	Existing Meal
}

func (e *AlreadyOffError) Error() string {
	return fmt.Sprintf("already off: %s has %s covered on %s", e.Handle, e.Existing, e.Date)
}

func (e *AlreadyOffError) Unwrap() error { return ErrAlreadyOff }

// CutoffError reports that the threshold policy refused a meal for a
// date: either the date is past or the same-day cutoff hour has passed.
type CutoffError struct {
	Date Date
	Meal Meal
	Past bool
}

func (e *CutoffError) Error() string {
	if e.Past {
		return fmt.Sprintf("meal no longer requestable: %s is in the past", e.Date)
	}
	return fmt.Sprintf("meal no longer requestable: %s cutoff passed for %s", e.Meal, e.Date)
}

func (e *CutoffError) Unwrap() error { return ErrMealCutoff }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true for malformed-input errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidMeal) ||
		errors.Is(err, ErrInvalidPhone) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidDays) ||
		errors.Is(err, ErrInvalidRange)
}

// IsPolicyReject returns true when the threshold policy refused a
// well-formed request.
func IsPolicyReject(err error) bool {
	return errors.Is(err, ErrMealCutoff)
}

// IsConflict returns true for state-collision errors.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyOff) ||
		errors.Is(err, ErrDuplicatePhone) ||
		errors.Is(err, ErrAlreadyLinked)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrOffNotFound)
}
