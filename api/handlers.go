/*
handlers.go - HTTP API handlers for the mess engine

PURPOSE:
  Exposes the core engine via REST. Handles HTTP request/response,
  JSON serialization and DTO validation, and delegates everything else
  to ledger.Ledger.

ENDPOINTS:
  Users:
    POST   /api/users                    Create user (admin)
    GET    /api/users                    List users (admin)
    GET    /api/users/{handle}           Status summary
    GET    /api/users/{handle}/offs      Active offs (?cancellable=true)
    GET    /api/users/{handle}/payments  Payment log (admin)
    POST   /api/users/{handle}/payments  Record payment (admin)
    POST   /api/users/{handle}/credits   Adjust credits (admin)

  Offs:
    GET    /api/thresholds?date=...      Resolve meal cutoffs
    POST   /api/offs                     Request off (single or range)
    DELETE /api/offs/{id}                Cancel off
    GET    /api/offs?date=...            Day report (admin)

  Identity:
    POST   /api/identity/link            Bind chat id to phone
    GET    /api/identity/by-phone/{phone}
    GET    /api/identity/by-chat/{chatID}

  Admin:
    POST   /api/admin/convert            Bulk credit conversion

ERROR HANDLING:
  Domain errors map onto statuses via the mess classifiers:
  - 400: validation (malformed dates, meals, phones, counts)
  - 404: unknown user / off-request
  - 409: conflicts (already off, duplicate phone, linked chat)
  - 422: threshold policy rejections
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup, middleware, admin token gate
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/tiffin/mess-engine/ledger"
	"github.com/tiffin/mess-engine/mess"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *ledger.Ledger
	Log      zerolog.Logger
	validate *validator.Validate
}

// NewHandler creates a new handler around the engine.
func NewHandler(l *ledger.Ledger, log zerolog.Logger) *Handler {
	return &Handler{
		Ledger:   l,
		Log:      log,
		validate: validator.New(),
	}
}

// decode unmarshals and validates a request body.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

// =============================================================================
// THRESHOLDS
// =============================================================================

// ResolveThreshold reports which meals are still requestable for a
// date ("today" or YYYY-MM-DD; defaults to today).
func (h *Handler) ResolveThreshold(w http.ResponseWriter, r *http.Request) {
	dateInput := r.URL.Query().Get("date")
	if dateInput == "" {
		dateInput = "today"
	}
	d, err := h.Ledger.ResolveThreshold(dateInput)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ThresholdDTO{
		Date:          d.Date.String(),
		LunchAllowed:  d.LunchAllowed,
		DinnerAllowed: d.DinnerAllowed,
	})
}

// =============================================================================
// OFF REQUESTS
// =============================================================================

// RequestOff records an off for one date or a range, depending on
// which fields the body carries.
func (h *Handler) RequestOff(w http.ResponseWriter, r *http.Request) {
	var req RequestOffRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	meal := mess.Meal(req.Meal)

	if req.From != "" || req.To != "" {
		if req.From == "" || req.To == "" || req.Date != "" {
			writeError(w, http.StatusBadRequest, "Provide either date, or both from and to", nil)
			return
		}
		from, err := mess.ParseDate(req.From)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		to, err := mess.ParseDate(req.To)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		res, err := h.Ledger.RequestOffRange(r.Context(), req.Handle, from, to, meal)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRangeResultDTO(res))
		return
	}

	dateInput := req.Date
	if dateInput == "" {
		dateInput = "today"
	}
	decision, err := h.Ledger.ResolveThreshold(dateInput)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	res, err := h.Ledger.RequestOff(r.Context(), req.Handle, decision.Date, meal)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOffResultDTO(*res))
}

// CancelOff cancels an off-request by id.
func (h *Handler) CancelOff(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid off id", err)
		return
	}
	res, err := h.Ledger.CancelOff(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResultDTO{
		Handle:          res.Handle,
		Date:            res.Date.String(),
		Meal:            string(res.Meal),
		CreditsDeducted: res.CreditsDeducted,
		NewBalance:      res.NewBalance,
	})
}

// DayReport lists who is off for each meal on ?date=.
func (h *Handler) DayReport(w http.ResponseWriter, r *http.Request) {
	dateInput := r.URL.Query().Get("date")
	if dateInput == "" {
		writeError(w, http.StatusBadRequest, "date query parameter is required", nil)
		return
	}
	decision, err := h.Ledger.ResolveThreshold(dateInput)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	report, err := h.Ledger.OffsForDate(r.Context(), decision.Date)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dto := DayReportDTO{Date: report.Date.String()}
	for _, e := range report.Lunch {
		dto.Lunch = append(dto.Lunch, DayEntryDTO{Handle: e.Handle, Name: e.Name})
	}
	for _, e := range report.Dinner {
		dto.Dinner = append(dto.Dinner, DayEntryDTO{Handle: e.Handle, Name: e.Name})
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListOffs returns a user's offs; ?cancellable=true filters to the
// ones still inside the cutoff window.
func (h *Handler) ListOffs(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	var (
		offs []mess.OffRequest
		err  error
	)
	if r.URL.Query().Get("cancellable") == "true" {
		offs, err = h.Ledger.CancellableOffs(r.Context(), handle)
	} else {
		offs, err = h.Ledger.ActiveOffs(r.Context(), handle)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOffDTOs(offs))
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser registers a subscriber with optional seed off-dates.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := ledger.CreateUserInput{Name: req.Name, Phone: req.Phone}
	if req.SubStart != "" {
		d, err := mess.ParseDate(req.SubStart)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		in.SubStart = &d
	}
	if req.OffDates != "" {
		dates, err := mess.ParseOffDates(req.OffDates)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		in.OffDates = dates
	}

	u, conv, err := h.Ledger.CreateUser(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Log.Info().Str("handle", u.Handle).Msg("user created")
	writeJSON(w, http.StatusCreated, CreateUserResponse{
		User:       toUserDTO(*u),
		Conversion: toConversionDTO(conv),
	})
}

// ListUsers returns every registered user.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Ledger.Users(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Status returns the per-user summary.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.Ledger.Status(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusDTO{
		User:          toUserDTO(report.User),
		Today:         report.Today.String(),
		DaysRemaining: report.DaysRemaining,
		UpcomingOffs:  toOffDTOs(report.UpcomingOffs),
	})
}

// =============================================================================
// IDENTITY
// =============================================================================

// LinkIdentity binds a chat identity to the user owning a phone.
func (h *Handler) LinkIdentity(w http.ResponseWriter, r *http.Request) {
	var req LinkIdentityRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	u, err := h.Ledger.LinkChat(r.Context(), req.Phone, req.ChatID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Log.Info().Str("handle", u.Handle).Msg("chat identity linked")
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// UserByPhone looks a user up by phone number.
func (h *Handler) UserByPhone(w http.ResponseWriter, r *http.Request) {
	u, err := h.Ledger.UserByPhone(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// UserByChat looks a user up by linked chat identity.
func (h *Handler) UserByChat(w http.ResponseWriter, r *http.Request) {
	u, err := h.Ledger.UserByChatID(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// =============================================================================
// PAYMENTS AND CREDITS
// =============================================================================

// AddPayment extends a subscription and logs the payment.
func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	var req AddPaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	res, err := h.Ledger.AddPayment(r.Context(), chi.URLParam(r, "handle"), req.Days)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentResultDTO{
		Handle:    res.Handle,
		DaysAdded: res.DaysAdded,
		NewEnd:    res.NewEnd.String(),
	})
}

// ListPayments returns a user's payment log.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Ledger.Payments(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = PaymentDTO{
			ID:        p.ID,
			Handle:    p.UserHandle,
			Date:      p.PaymentDate.String(),
			DaysAdded: p.DaysAdded,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdjustCredits applies a manual delta to a user's balance.
func (h *Handler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	var req AdjustCreditsRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	res, err := h.Ledger.AdjustCredits(r.Context(), chi.URLParam(r, "handle"), req.Delta)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AdjustResultDTO{
		Handle:     res.Handle,
		Applied:    res.Applied,
		NewBalance: res.NewBalance,
		Conversion: toConversionDTO(res.Conversion),
	})
}

// =============================================================================
// ADMIN
// =============================================================================

// ConvertAll runs the conversion sweep over every eligible user.
func (h *Handler) ConvertAll(w http.ResponseWriter, r *http.Request) {
	reports, err := h.Ledger.ConvertAllEligible(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]ConversionDTO, len(reports))
	for i := range reports {
		dtos[i] = *toConversionDTO(&reports[i])
	}
	h.Log.Info().Int("converted", len(dtos)).Msg("bulk conversion complete")
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error onto an HTTP status.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case mess.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case mess.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case mess.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case mess.IsPolicyReject(err):
		writeError(w, http.StatusUnprocessableEntity, "Request refused by policy", err)
	default:
		h.Log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
