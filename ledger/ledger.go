/*
ledger.go - Core mess engine: off-requests, credits, conversions

PURPOSE:
  Orchestrates the domain: records off-requests (merging overlapping
  ones into a single row per user/day), accrues meal credits for every
  skipped meal, converts credits into subscription days, and manages
  users, payments, and chat-identity links.

INVARIANTS:
  - At most one active off-request per (user, date); its meal value is
    the union of everything requested for that day.
  - meal_credits never goes negative: cancellations deduct at most the
    current balance and never reverse a past conversion.
  - Every balance mutation appends a credit_entries audit row with the
    applied delta, in the same transaction as the balance update.
  - The conversion policy runs after every balance increase, inside
    that same transaction, and is idempotent over its own output.

CONSISTENCY:
  All read-modify-write sequences run inside store.WithTx, so a
  concurrent duplicate request cannot double-credit: the second writer
  sees the first one's row and merges (or rejects) against it.

SEE ALSO:
  - policy/: The pure threshold and conversion rules applied here
  - store.go: The persistence contract
  - ranges.go: Multi-date fan-out with partial-failure collection
*/
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tiffin/mess-engine/mess"
	"github.com/tiffin/mess-engine/policy"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the transactional core engine.
type Ledger struct {
	store      TxStore
	thresholds policy.Thresholds
	conversion policy.Conversion

	// Clock supplies "now" for threshold decisions and audit stamps.
	// Overridable in tests; defaults to the kitchen-local wall clock.
	Clock func() time.Time
}

// New builds a Ledger over the given store and policies.
func New(store TxStore, th policy.Thresholds, cv policy.Conversion) *Ledger {
	return &Ledger{
		store:      store,
		thresholds: th,
		conversion: cv,
		Clock:      th.Now,
	}
}

func (l *Ledger) now() time.Time { return l.Clock() }

func (l *Ledger) today() mess.Date {
	return mess.DateOf(l.now().In(l.thresholds.Location))
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// OffResult describes a recorded or upgraded off-request.
type OffResult struct {
	ID            int64
	Handle        string
	Date          mess.Date
	Meal          mess.Meal // stored meal after merging
	CreditsEarned int
	NewBalance    int
	Conversion    *ConversionReport // nil when no conversion triggered
}

// CancelResult describes a cancelled off-request.
type CancelResult struct {
	Handle          string
	Date            mess.Date
	Meal            mess.Meal
	CreditsDeducted int
	NewBalance      int
}

// ConversionReport describes credits turned into subscription days.
type ConversionReport struct {
	Handle      string
	DaysAdded   int
	CreditsUsed int
	NewBalance  int
	NewEnd      mess.Date
}

// AdjustResult describes a manual credit adjustment.
type AdjustResult struct {
	Handle     string
	Applied    int // post-clamp delta actually written
	NewBalance int
	Conversion *ConversionReport
}

// PaymentResult describes a recorded payment.
type PaymentResult struct {
	Handle    string
	DaysAdded int
	NewEnd    mess.Date
}

// StatusReport is the per-user summary.
type StatusReport struct {
	User          mess.User
	Today         mess.Date
	DaysRemaining int
	UpcomingOffs  []mess.OffRequest
}

// DayEntry is one user appearing in a day report.
type DayEntry struct {
	Handle string
	Name   string
}

// DayReport lists who is off for each meal on a date. A user appears
// at most once per meal.
type DayReport struct {
	Date   mess.Date
	Lunch  []DayEntry
	Dinner []DayEntry
}

// =============================================================================
// THRESHOLD RESOLUTION
// =============================================================================

// ResolveThreshold resolves "today" or a YYYY-MM-DD string against the
// current moment and reports which meals are still requestable.
func (l *Ledger) ResolveThreshold(dateInput string) (policy.Decision, error) {
	return l.thresholds.Evaluate(dateInput, l.now())
}

// =============================================================================
// OFF REQUESTS
// =============================================================================

// RequestOff records that a user skips the given meal(s) on a date.
//
// If a record for the day already exists, the new request merges into
// it: the record is replaced by the union, and only the newly covered
// meals earn credits. A request that adds nothing returns
// AlreadyOffError. Every earned credit may trigger conversion.
func (l *Ledger) RequestOff(ctx context.Context, handle string, date mess.Date, meal mess.Meal) (*OffResult, error) {
	if !meal.Valid() {
		return nil, fmt.Errorf("%w: %q", mess.ErrInvalidMeal, meal)
	}
	if err := l.thresholds.Check(date, meal, l.now()); err != nil {
		return nil, err
	}

	var res *OffResult
	err := l.store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUser(ctx, handle)
		if err != nil {
			return err
		}

		stored := meal
		delta := meal.Credits()
		existing, err := s.GetOffForDate(ctx, handle, date)
		switch {
		case err == nil:
			union := existing.Meal.Union(meal)
			if union == existing.Meal {
				return &mess.AlreadyOffError{Handle: handle, Date: date, Existing: existing.Meal}
			}
			// Upgrade: replace the row, credit only the newly
			// covered meal.
			stored = union
			delta = union.Credits() - existing.Meal.Credits()
			if err := s.DeleteOff(ctx, existing.ID); err != nil {
				return err
			}
		case mess.IsNotFound(err):
			// First request for this day.
		default:
			return err
		}

		id, err := s.InsertOff(ctx, mess.OffRequest{UserHandle: handle, Date: date, Meal: stored})
		if err != nil {
			return err
		}

		newBal := u.MealCredits + delta
		if err := l.writeBalance(ctx, s, handle, delta, newBal, mess.CreditEarn, offRef(id)); err != nil {
			return err
		}

		conv, err := l.convert(ctx, s, handle, newBal, u.SubEnd)
		if err != nil {
			return err
		}
		if conv != nil {
			newBal = conv.NewBalance
		}
		res = &OffResult{
			ID:            id,
			Handle:        handle,
			Date:          date,
			Meal:          stored,
			CreditsEarned: delta,
			NewBalance:    newBal,
			Conversion:    conv,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CancelOff deletes an off-request and deducts the credits it earned,
// clamped at the current balance. It never reverses a conversion that
// already consumed those credits.
func (l *Ledger) CancelOff(ctx context.Context, id int64) (*CancelResult, error) {
	var res *CancelResult
	err := l.store.WithTx(ctx, func(s Store) error {
		off, err := s.GetOff(ctx, id)
		if err != nil {
			return err
		}
		u, err := s.GetUser(ctx, off.UserHandle)
		if err != nil {
			return err
		}

		deduct := off.Meal.Credits()
		if deduct > u.MealCredits {
			deduct = u.MealCredits
		}
		newBal := u.MealCredits - deduct
		if deduct > 0 {
			if err := l.writeBalance(ctx, s, u.Handle, -deduct, newBal, mess.CreditRefundOff, offRef(id)); err != nil {
				return err
			}
		}
		if err := s.DeleteOff(ctx, id); err != nil {
			return err
		}
		res = &CancelResult{
			Handle:          u.Handle,
			Date:            off.Date,
			Meal:            off.Meal,
			CreditsDeducted: deduct,
			NewBalance:      newBal,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ActiveOffs returns every off-request on record for a user.
func (l *Ledger) ActiveOffs(ctx context.Context, handle string) ([]mess.OffRequest, error) {
	if _, err := l.store.GetUser(ctx, handle); err != nil {
		return nil, err
	}
	return l.store.ListOffs(ctx, handle)
}

// CancellableOffs returns the user's off-requests that are still
// inside the cutoff window, i.e. the ones a transport UI should offer
// for cancellation.
func (l *Ledger) CancellableOffs(ctx context.Context, handle string) ([]mess.OffRequest, error) {
	if _, err := l.store.GetUser(ctx, handle); err != nil {
		return nil, err
	}
	offs, err := l.store.ListOffsFrom(ctx, handle, l.today())
	if err != nil {
		return nil, err
	}
	now := l.now()
	out := make([]mess.OffRequest, 0, len(offs))
	for _, off := range offs {
		if l.thresholds.Decide(off.Date, now).Allows(off.Meal) {
			out = append(out, off)
		}
	}
	return out, nil
}

// OffsForDate reports who is off for lunch and dinner on a date.
func (l *Ledger) OffsForDate(ctx context.Context, date mess.Date) (*DayReport, error) {
	offs, err := l.store.ListOffsForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	report := &DayReport{Date: date}
	for _, off := range offs {
		u, err := l.store.GetUser(ctx, off.UserHandle)
		if err != nil {
			return nil, err
		}
		entry := DayEntry{Handle: u.Handle, Name: u.Name}
		if off.Meal.IncludesLunch() {
			report.Lunch = append(report.Lunch, entry)
		}
		if off.Meal.IncludesDinner() {
			report.Dinner = append(report.Dinner, entry)
		}
	}
	return report, nil
}

// =============================================================================
// CONVERSION
// =============================================================================

// ConvertCredits runs the conversion policy for one user regardless of
// how the balance got there. Returns nil when nothing converts.
func (l *Ledger) ConvertCredits(ctx context.Context, handle string) (*ConversionReport, error) {
	var report *ConversionReport
	err := l.store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUser(ctx, handle)
		if err != nil {
			return err
		}
		report, err = l.convert(ctx, s, handle, u.MealCredits, u.SubEnd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ConvertAllEligible sweeps every user whose balance could convert and
// runs the policy for each in its own transaction. Only users who
// actually gained days appear in the result.
func (l *Ledger) ConvertAllEligible(ctx context.Context) ([]ConversionReport, error) {
	users, err := l.store.ListUsersWithCredits(ctx, l.conversion.CreditsPerDay)
	if err != nil {
		return nil, err
	}
	var reports []ConversionReport
	for _, u := range users {
		r, err := l.ConvertCredits(ctx, u.Handle)
		if err != nil {
			return reports, fmt.Errorf("convert %s: %w", u.Handle, err)
		}
		if r != nil {
			reports = append(reports, *r)
		}
	}
	return reports, nil
}

// convert applies the conversion policy to a balance inside the
// caller's transaction: debits the credits, extends the subscription
// (from the current end date when set, else from today), and appends a
// payment row for the granted days. Returns nil when below threshold.
func (l *Ledger) convert(ctx context.Context, s Store, handle string, balance int, subEnd *mess.Date) (*ConversionReport, error) {
	out := l.conversion.Evaluate(balance)
	if !out.Converted() {
		return nil, nil
	}

	today := l.today()
	base := today
	if subEnd != nil {
		base = *subEnd
	}
	newEnd := base.AddDays(out.Days)

	if err := l.writeBalance(ctx, s, handle, -out.CreditsUsed, out.Remaining, mess.CreditConvert, "convert"); err != nil {
		return nil, err
	}
	if err := s.SetSubscriptionEnd(ctx, handle, newEnd); err != nil {
		return nil, err
	}
	if _, err := s.AppendPayment(ctx, mess.Payment{
		UserHandle:  handle,
		PaymentDate: today,
		DaysAdded:   out.Days,
	}); err != nil {
		return nil, err
	}
	return &ConversionReport{
		Handle:      handle,
		DaysAdded:   out.Days,
		CreditsUsed: out.CreditsUsed,
		NewBalance:  out.Remaining,
		NewEnd:      newEnd,
	}, nil
}

// writeBalance appends the audit entry and updates the running total
// together. This is the only path that touches meal_credits.
func (l *Ledger) writeBalance(ctx context.Context, s Store, handle string, delta, newBalance int, typ mess.CreditEntryType, ref string) error {
	if err := s.AppendCreditEntry(ctx, mess.CreditEntry{
		UserHandle: handle,
		Delta:      delta,
		Type:       typ,
		Reference:  ref,
		CreatedAt:  l.today(),
	}); err != nil {
		return err
	}
	return s.SetCredits(ctx, handle, newBalance)
}

func offRef(id int64) string { return fmt.Sprintf("off:%d", id) }

// =============================================================================
// USERS
// =============================================================================

// CreateUserInput carries the admin-supplied fields for registration.
type CreateUserInput struct {
	Name     string
	Phone    string
	SubStart *mess.Date
	// OffDates seeds full-day offs (both meals) at creation; each
	// earns credits and may trigger conversion.
	OffDates []mess.Date
}

// CreateUser registers a user, assigns a handle, and seeds any initial
// off-days. The subscription end starts equal to the start date.
func (l *Ledger) CreateUser(ctx context.Context, in CreateUserInput) (*mess.User, *ConversionReport, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: name is required", mess.ErrInvalidName)
	}
	if !validPhone(in.Phone) {
		return nil, nil, fmt.Errorf("%w: %q", mess.ErrInvalidPhone, in.Phone)
	}

	var (
		created *mess.User
		conv    *ConversionReport
	)
	err := l.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetUserByPhone(ctx, in.Phone); err == nil {
			return fmt.Errorf("%w: %s", mess.ErrDuplicatePhone, in.Phone)
		} else if !mess.IsNotFound(err) {
			return err
		}

		handle, err := l.assignHandle(ctx, s, name)
		if err != nil {
			return err
		}
		u := mess.User{Handle: handle, Name: name, Phone: in.Phone, SubStart: in.SubStart}
		if in.SubStart != nil {
			end := *in.SubStart
			u.SubEnd = &end
		}
		if err := s.CreateUser(ctx, u); err != nil {
			return err
		}

		balance := 0
		for _, d := range dedupeDates(in.OffDates) {
			id, err := s.InsertOff(ctx, mess.OffRequest{UserHandle: handle, Date: d, Meal: mess.MealBoth})
			if err != nil {
				return err
			}
			balance += mess.MealBoth.Credits()
			if err := s.AppendCreditEntry(ctx, mess.CreditEntry{
				UserHandle: handle,
				Delta:      mess.MealBoth.Credits(),
				Type:       mess.CreditEarn,
				Reference:  offRef(id),
				CreatedAt:  l.today(),
			}); err != nil {
				return err
			}
		}
		if balance > 0 {
			if err := s.SetCredits(ctx, handle, balance); err != nil {
				return err
			}
			u.MealCredits = balance
			conv, err = l.convert(ctx, s, handle, balance, u.SubEnd)
			if err != nil {
				return err
			}
			if conv != nil {
				u.MealCredits = conv.NewBalance
				end := conv.NewEnd
				u.SubEnd = &end
			}
		}
		created = &u
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, conv, nil
}

// assignHandle derives "@<FirstName><n>" with the smallest positive
// suffix not already taken.
func (l *Ledger) assignHandle(ctx context.Context, s Store, name string) (string, error) {
	prefix := "@" + strings.Fields(name)[0]
	existing, err := s.Handles(ctx, prefix)
	if err != nil {
		return "", err
	}
	used := make(map[int]bool, len(existing))
	for _, h := range existing {
		if n, err := strconv.Atoi(strings.TrimPrefix(h, prefix)); err == nil {
			used[n] = true
		}
	}
	n := 1
	for used[n] {
		n++
	}
	return prefix + strconv.Itoa(n), nil
}

func dedupeDates(dates []mess.Date) []mess.Date {
	seen := make(map[string]bool, len(dates))
	out := make([]mess.Date, 0, len(dates))
	for _, d := range dates {
		if seen[d.String()] {
			continue
		}
		seen[d.String()] = true
		out = append(out, d)
	}
	return out
}

func validPhone(phone string) bool {
	if len(phone) != 10 {
		return false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// User returns a user by handle.
func (l *Ledger) User(ctx context.Context, handle string) (*mess.User, error) {
	return l.store.GetUser(ctx, handle)
}

// Users returns every registered user.
func (l *Ledger) Users(ctx context.Context) ([]mess.User, error) {
	return l.store.ListUsers(ctx)
}

// Status summarizes a user: subscription window, days remaining,
// balance, and upcoming offs.
func (l *Ledger) Status(ctx context.Context, handle string) (*StatusReport, error) {
	u, err := l.store.GetUser(ctx, handle)
	if err != nil {
		return nil, err
	}
	today := l.today()
	offs, err := l.store.ListOffsFrom(ctx, handle, today)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		User:          *u,
		Today:         today,
		DaysRemaining: u.DaysRemaining(today),
		UpcomingOffs:  offs,
	}, nil
}

// =============================================================================
// IDENTITY
// =============================================================================

// LinkChat binds a chat identity to the user registered under phone.
// Fails if the phone is unknown, the user is already linked, or the
// chat identity belongs to someone else.
func (l *Ledger) LinkChat(ctx context.Context, phone, chatID string) (*mess.User, error) {
	if chatID == "" {
		return nil, fmt.Errorf("%w: empty chat id", mess.ErrAlreadyLinked)
	}
	var linked *mess.User
	err := l.store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUserByPhone(ctx, phone)
		if err != nil {
			return err
		}
		if u.ChatID != "" {
			return fmt.Errorf("%w: %s", mess.ErrAlreadyLinked, u.Handle)
		}
		if other, err := s.GetUserByChatID(ctx, chatID); err == nil {
			return fmt.Errorf("%w: chat bound to %s", mess.ErrAlreadyLinked, other.Handle)
		} else if !mess.IsNotFound(err) {
			return err
		}
		if err := s.SetChatID(ctx, u.Handle, chatID); err != nil {
			return err
		}
		u.ChatID = chatID
		linked = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return linked, nil
}

// UserByPhone looks a user up by phone number.
func (l *Ledger) UserByPhone(ctx context.Context, phone string) (*mess.User, error) {
	return l.store.GetUserByPhone(ctx, phone)
}

// UserByChatID looks a user up by linked chat identity.
func (l *Ledger) UserByChatID(ctx context.Context, chatID string) (*mess.User, error) {
	return l.store.GetUserByChatID(ctx, chatID)
}

// =============================================================================
// PAYMENTS AND ADJUSTMENTS
// =============================================================================

// AddPayment extends the subscription by days (from the current end
// date when set, else from today) and appends a payment row.
func (l *Ledger) AddPayment(ctx context.Context, handle string, days int) (*PaymentResult, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: payment must add at least one day", mess.ErrInvalidDays)
	}
	var res *PaymentResult
	err := l.store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUser(ctx, handle)
		if err != nil {
			return err
		}
		base := l.today()
		if u.SubEnd != nil {
			base = *u.SubEnd
		}
		newEnd := base.AddDays(days)
		if err := s.SetSubscriptionEnd(ctx, handle, newEnd); err != nil {
			return err
		}
		if _, err := s.AppendPayment(ctx, mess.Payment{
			UserHandle:  handle,
			PaymentDate: l.today(),
			DaysAdded:   days,
		}); err != nil {
			return err
		}
		res = &PaymentResult{Handle: handle, DaysAdded: days, NewEnd: newEnd}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Payments returns a user's full payment log.
func (l *Ledger) Payments(ctx context.Context, handle string) ([]mess.Payment, error) {
	if _, err := l.store.GetUser(ctx, handle); err != nil {
		return nil, err
	}
	return l.store.ListPayments(ctx, handle)
}

// CreditHistory returns a user's credit audit trail.
func (l *Ledger) CreditHistory(ctx context.Context, handle string) ([]mess.CreditEntry, error) {
	if _, err := l.store.GetUser(ctx, handle); err != nil {
		return nil, err
	}
	return l.store.ListCreditEntries(ctx, handle)
}

// AdjustCredits applies a manual delta to a balance, clamped so it
// never goes below zero. A positive applied delta can trigger
// conversion like any other balance increase.
func (l *Ledger) AdjustCredits(ctx context.Context, handle string, delta int) (*AdjustResult, error) {
	var res *AdjustResult
	err := l.store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUser(ctx, handle)
		if err != nil {
			return err
		}
		newBal := u.MealCredits + delta
		if newBal < 0 {
			newBal = 0
		}
		applied := newBal - u.MealCredits
		if applied != 0 {
			if err := l.writeBalance(ctx, s, handle, applied, newBal, mess.CreditAdjust, "adjust"); err != nil {
				return err
			}
		}
		res = &AdjustResult{Handle: handle, Applied: applied, NewBalance: newBal}
		if applied > 0 {
			conv, err := l.convert(ctx, s, handle, newBal, u.SubEnd)
			if err != nil {
				return err
			}
			if conv != nil {
				res.NewBalance = conv.NewBalance
				res.Conversion = conv
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
