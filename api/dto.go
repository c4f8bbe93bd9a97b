/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Wire types only. Requests carry validate tags checked with
  go-playground/validator before any domain call; responses are built
  from domain results by the toXxx helpers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/tiffin/mess-engine/ledger"
	"github.com/tiffin/mess-engine/mess"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateUserRequest registers a subscriber. OffDates optionally seeds
// full-day offs, e.g. "2025-05-10, 2025-05-12 to 2025-05-14".
type CreateUserRequest struct {
	Name     string `json:"name" validate:"required"`
	Phone    string `json:"phone" validate:"required,len=10,numeric"`
	SubStart string `json:"subscription_start,omitempty" validate:"omitempty,datetime=2006-01-02"`
	OffDates string `json:"off_dates,omitempty"`
}

// RequestOffRequest records an off for one date ("today" allowed) or
// an inclusive from/to range.
type RequestOffRequest struct {
	Handle string `json:"handle" validate:"required"`
	Meal   string `json:"meal" validate:"required,oneof=lunch dinner both"`
	Date   string `json:"date,omitempty"`
	From   string `json:"from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	To     string `json:"to,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type LinkIdentityRequest struct {
	Phone  string `json:"phone" validate:"required,len=10,numeric"`
	ChatID string `json:"chat_id" validate:"required"`
}

type AddPaymentRequest struct {
	Days int `json:"days" validate:"required,gt=0"`
}

type AdjustCreditsRequest struct {
	Delta int `json:"delta" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type UserDTO struct {
	Handle      string  `json:"handle"`
	Name        string  `json:"name"`
	Phone       string  `json:"phone"`
	ChatID      string  `json:"chat_id,omitempty"`
	SubStart    *string `json:"subscription_start,omitempty"`
	SubEnd      *string `json:"subscription_end,omitempty"`
	MealCredits int     `json:"meal_credits"`
}

func toUserDTO(u mess.User) UserDTO {
	dto := UserDTO{
		Handle:      u.Handle,
		Name:        u.Name,
		Phone:       u.Phone,
		ChatID:      u.ChatID,
		MealCredits: u.MealCredits,
	}
	if u.SubStart != nil {
		s := u.SubStart.String()
		dto.SubStart = &s
	}
	if u.SubEnd != nil {
		s := u.SubEnd.String()
		dto.SubEnd = &s
	}
	return dto
}

type ThresholdDTO struct {
	Date          string `json:"date"`
	LunchAllowed  bool   `json:"lunch_allowed"`
	DinnerAllowed bool   `json:"dinner_allowed"`
}

type OffDTO struct {
	ID     int64  `json:"id"`
	Handle string `json:"handle"`
	Date   string `json:"date"`
	Meal   string `json:"meal"`
}

func toOffDTO(o mess.OffRequest) OffDTO {
	return OffDTO{ID: o.ID, Handle: o.UserHandle, Date: o.Date.String(), Meal: string(o.Meal)}
}

func toOffDTOs(offs []mess.OffRequest) []OffDTO {
	out := make([]OffDTO, len(offs))
	for i, o := range offs {
		out[i] = toOffDTO(o)
	}
	return out
}

type ConversionDTO struct {
	Handle      string `json:"handle"`
	DaysAdded   int    `json:"days_added"`
	CreditsUsed int    `json:"credits_used"`
	NewBalance  int    `json:"new_balance"`
	NewEnd      string `json:"subscription_end"`
}

func toConversionDTO(r *ledger.ConversionReport) *ConversionDTO {
	if r == nil {
		return nil
	}
	return &ConversionDTO{
		Handle:      r.Handle,
		DaysAdded:   r.DaysAdded,
		CreditsUsed: r.CreditsUsed,
		NewBalance:  r.NewBalance,
		NewEnd:      r.NewEnd.String(),
	}
}

type OffResultDTO struct {
	ID            int64          `json:"id"`
	Handle        string         `json:"handle"`
	Date          string         `json:"date"`
	Meal          string         `json:"meal"`
	CreditsEarned int            `json:"credits_earned"`
	NewBalance    int            `json:"new_balance"`
	Conversion    *ConversionDTO `json:"conversion,omitempty"`
}

func toOffResultDTO(r ledger.OffResult) OffResultDTO {
	return OffResultDTO{
		ID:            r.ID,
		Handle:        r.Handle,
		Date:          r.Date.String(),
		Meal:          string(r.Meal),
		CreditsEarned: r.CreditsEarned,
		NewBalance:    r.NewBalance,
		Conversion:    toConversionDTO(r.Conversion),
	}
}

type RangeFailureDTO struct {
	Date  string `json:"date"`
	Error string `json:"error"`
}

type RangeResultDTO struct {
	Handle   string            `json:"handle"`
	Meal     string            `json:"meal"`
	Recorded []OffResultDTO    `json:"recorded"`
	Failures []RangeFailureDTO `json:"failures,omitempty"`
}

func toRangeResultDTO(r *ledger.RangeResult) RangeResultDTO {
	dto := RangeResultDTO{
		Handle:   r.Handle,
		Meal:     string(r.Meal),
		Recorded: make([]OffResultDTO, len(r.Recorded)),
	}
	for i, rec := range r.Recorded {
		dto.Recorded[i] = toOffResultDTO(rec)
	}
	for _, f := range r.Failures {
		dto.Failures = append(dto.Failures, RangeFailureDTO{Date: f.Date.String(), Error: f.Err.Error()})
	}
	return dto
}

type CancelResultDTO struct {
	Handle          string `json:"handle"`
	Date            string `json:"date"`
	Meal            string `json:"meal"`
	CreditsDeducted int    `json:"credits_deducted"`
	NewBalance      int    `json:"new_balance"`
}

type StatusDTO struct {
	User          UserDTO  `json:"user"`
	Today         string   `json:"today"`
	DaysRemaining int      `json:"days_remaining"`
	UpcomingOffs  []OffDTO `json:"upcoming_offs"`
}

type DayEntryDTO struct {
	Handle string `json:"handle"`
	Name   string `json:"name"`
}

type DayReportDTO struct {
	Date   string        `json:"date"`
	Lunch  []DayEntryDTO `json:"lunch"`
	Dinner []DayEntryDTO `json:"dinner"`
}

type PaymentDTO struct {
	ID        int64  `json:"id"`
	Handle    string `json:"handle"`
	Date      string `json:"date"`
	DaysAdded int    `json:"days_added"`
}

type PaymentResultDTO struct {
	Handle    string `json:"handle"`
	DaysAdded int    `json:"days_added"`
	NewEnd    string `json:"subscription_end"`
}

type AdjustResultDTO struct {
	Handle     string         `json:"handle"`
	Applied    int            `json:"applied"`
	NewBalance int            `json:"new_balance"`
	Conversion *ConversionDTO `json:"conversion,omitempty"`
}

type CreateUserResponse struct {
	User       UserDTO        `json:"user"`
	Conversion *ConversionDTO `json:"conversion,omitempty"`
}
