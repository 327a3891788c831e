/*
handlers.go - HTTP API handlers for the reservation engine

PURPOSE:
  Exposes generic.Engine over REST. Handlers decode JSON, take the actor
  from the bearer token, call exactly one engine operation and encode the
  result. No lifecycle rules live here.

ENDPOINTS:
  Reservations:
    GET    /api/reservations                 List (own, or all for admins)
    POST   /api/reservations                 Create
    GET    /api/reservations/{id}            Get
    POST   /api/reservations/{id}/cancel     Cancel
    POST   /api/reservations/{id}/decision   Approve / reject
    POST   /api/reservations/decisions       Bulk approve / reject
    POST   /api/reservations/{id}/escalate   Escalate
    POST   /api/reservations/{id}/checkin    Check in (organizer or participant)
    POST   /api/reservations/{id}/checkout   Early release
    POST   /api/reservations/{id}/extend     Extend
    POST   /api/reservations/{id}/participants Invite
    POST   /api/reservations/{id}/invitation Accept / decline invitation
    POST   /api/checkin/qr                   Check in by QR token

  Waitlist:
    POST   /api/waitlist                     Join
    POST   /api/waitlist/{id}/accept         Accept offer
    POST   /api/waitlist/{id}/decline        Decline offer
    DELETE /api/waitlist/{id}                Leave

  Series:
    POST   /api/series                       Create and materialize
    POST   /api/series/{id}/generate         Materialize up to a date
    DELETE /api/series/{id}                  Cancel series and future occurrences

  Resources / admin:
    GET    /api/resources                    Catalog
    GET    /api/resources/{id}/availability  Conflict check with free windows
    POST   /api/admin/sweep                  Run reconciliation now
    GET    /api/admin/sweeps                 Recent sweep runs
    POST   /api/admin/seed                   Load the demo campus

ERROR HANDLING:
  Engine errors map by kind:
  - 400: Validation errors, invalid transitions
  - 403: Actor may not perform the action
  - 404: Unknown reservation, resource, series, entry or token
  - 409: Conflict (body carries free sub-windows)
  - 410: Check-in window expired
  - 422: Booking or extension limit exceeded
  - 425: Check-in too early
  - 500: Anything else (logged, details withheld)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/reservation-engine/generic"
	"github.com/warp/reservation-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *generic.Engine
	Store  *sqlite.Store
	Logger *slog.Logger
}

// NewHandler creates a handler over an engine backed by store.
func NewHandler(engine *generic.Engine, store *sqlite.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Engine: engine, Store: store, Logger: logger}
}

// Health pings the database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// ListReservations supports ?resource_id=, ?status= (repeatable) and
// ?from=&to= overlap filtering.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := generic.ReservationFilter{
		ResourceID:  generic.ResourceID(q.Get("resource_id")),
		RequesterID: generic.UserID(q.Get("requester_id")),
	}
	for _, s := range q["status"] {
		f.Statuses = append(f.Statuses, generic.Status(strings.ToUpper(s)))
	}
	if q.Get("from") != "" || q.Get("to") != "" {
		window, err := parseWindow(q.Get("from"), q.Get("to"))
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		f.Overlapping = &window
	}

	reservations, err := h.Engine.ListReservations(r.Context(), actor(r), f)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTOs(reservations))
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if !decode(w, r, &req) {
		return
	}
	window, err := parseWindow(req.Start, req.End)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	res, err := h.Engine.CreateReservation(r.Context(), actor(r), generic.CreateRequest{
		ResourceID:   generic.ResourceID(req.ResourceID),
		Window:       window,
		Purpose:      req.Purpose,
		Participants: userIDs(req.Participants),
		OnBehalfOf:   generic.UserID(req.OnBehalfOf),
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(res))
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.GetReservation(r.Context(), actor(r), reservationID(r))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.Engine.CancelReservation(r.Context(), actor(r), reservationID(r), req.Reason)
	h.respondReservation(w, r, res, err)
}

func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Decide(r.Context(), actor(r), reservationID(r), req.Approve, req.Reason)
	h.respondReservation(w, r, res, err)
}

// DecideBulk always answers 200; per-item failures are in the body.
func (h *Handler) DecideBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkDecisionRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		h.writeEngineError(w, r, &generic.ValidationError{Field: "ids", Message: "at least one reservation id is required"})
		return
	}
	ids := make([]generic.ReservationID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = generic.ReservationID(id)
	}

	report := h.Engine.DecideBulk(r.Context(), actor(r), ids, req.Approve, req.Reason)
	dto := BulkDecisionDTO{
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Results:   make([]BulkResultDTO, len(report.Results)),
	}
	for i, res := range report.Results {
		dto.Results[i] = BulkResultDTO{ID: string(res.ID)}
		if res.Err != nil {
			_, body := classify(res.Err)
			dto.Results[i].Error = &body
			continue
		}
		rd := toReservationDTO(res.Reservation)
		dto.Results[i].Reservation = &rd
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) Escalate(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.Engine.Escalate(r.Context(), actor(r), reservationID(r), req.Reason)
	h.respondReservation(w, r, res, err)
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req CheckInRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.Engine.CheckIn(r.Context(), actor(r), reservationID(r), generic.UserID(req.ParticipantID))
	h.respondReservation(w, r, res, err)
}

func (h *Handler) CheckInByQR(w http.ResponseWriter, r *http.Request) {
	var req QRCheckInRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		h.writeEngineError(w, r, &generic.ValidationError{Field: "token", Message: "required"})
		return
	}
	details, err := h.Engine.CheckInByQR(r.Context(), actor(r), req.Token)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDetailsDTO(details))
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Checkout(r.Context(), actor(r), reservationID(r))
	h.respondReservation(w, r, res, err)
}

func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if !decode(w, r, &req) {
		return
	}
	unit := generic.UnitHours
	switch strings.ToLower(req.Unit) {
	case "", "hours", "h":
	case "minutes", "min", "m":
		unit = generic.UnitMinutes
	default:
		h.writeEngineError(w, r, &generic.ValidationError{Field: "unit", Message: "must be hours or minutes"})
		return
	}
	res, err := h.Engine.Extend(r.Context(), actor(r), reservationID(r), generic.Amount{Value: req.Amount, Unit: unit})
	h.respondReservation(w, r, res, err)
}

func (h *Handler) InviteParticipants(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.InviteParticipants(r.Context(), actor(r), reservationID(r), userIDs(req.UserIDs))
	h.respondReservation(w, r, res, err)
}

func (h *Handler) RespondInvitation(w http.ResponseWriter, r *http.Request) {
	var req InvitationResponseRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.RespondInvitation(r.Context(), actor(r), reservationID(r), req.Accept)
	h.respondReservation(w, r, res, err)
}

// =============================================================================
// WAITLIST HANDLERS
// =============================================================================

func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req JoinWaitlistRequest
	if !decode(w, r, &req) {
		return
	}
	window, err := parseWindow(req.Start, req.End)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	join := generic.JoinWaitlistRequest{
		ResourceID: generic.ResourceID(req.ResourceID),
		Window:     window,
		Priority:   req.Priority,
	}
	if req.ExpiresAt != nil {
		t, err := parseTime("expires_at", *req.ExpiresAt)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		join.ExpiresAt = &t
	}

	entry, err := h.Engine.JoinWaitlist(r.Context(), actor(r), join)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWaitlistEntryDTO(entry))
}

func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.AcceptOffer(r.Context(), actor(r), waitlistID(r))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(res))
}

func (h *Handler) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeclineOffer(r.Context(), actor(r), waitlistID(r)); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.LeaveWaitlist(r.Context(), actor(r), waitlistID(r)); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SERIES HANDLERS
// =============================================================================

func (h *Handler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	var req CreateSeriesRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := time.Parse("15:04", req.StartTime)
	if err != nil {
		h.writeEngineError(w, r, &generic.ValidationError{Field: "start_time", Message: "use HH:MM"})
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil || duration <= 0 {
		h.writeEngineError(w, r, &generic.ValidationError{Field: "duration", Message: "use a positive duration such as 1h30m"})
		return
	}

	series, report, err := h.Engine.CreateSeries(r.Context(), actor(r), generic.CreateSeriesRequest{
		ResourceID: generic.ResourceID(req.ResourceID),
		Rule:       req.Rule,
		StartTime:  time.Duration(start.Hour())*time.Hour + time.Duration(start.Minute())*time.Minute,
		Duration:   duration,
		Purpose:    req.Purpose,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateSeriesResponse{
		Series: toSeriesDTO(series),
		Report: toGenerationReportDTO(report),
	})
}

func (h *Handler) GenerateSeries(w http.ResponseWriter, r *http.Request) {
	var req GenerateSeriesRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UpTo.IsZero() {
		h.writeEngineError(w, r, &generic.ValidationError{Field: "up_to", Message: "required"})
		return
	}
	report, err := h.Engine.GenerateSeriesUpTo(r.Context(), actor(r), generic.SeriesID(chi.URLParam(r, "id")), req.UpTo)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGenerationReportDTO(report))
}

func (h *Handler) CancelSeries(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Engine.CancelSeries(r.Context(), actor(r), generic.SeriesID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	resp := CancelSeriesResponse{Cancelled: make([]string, len(ids))}
	for i, id := range ids {
		resp.Cancelled[i] = string(id)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// RESOURCE HANDLERS
// =============================================================================

// ListResources supports ?kind=.
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	kind := generic.ResourceKind(strings.ToUpper(r.URL.Query().Get("kind")))
	resources, err := h.Store.ListResources(r.Context(), kind)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]ResourceDTO, len(resources))
	for i, res := range resources {
		dtos[i] = toResourceDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Availability answers ?start=&end=[&excluding=] with 200 either way; a
// contended window reports its free sub-windows.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := parseWindow(q.Get("start"), q.Get("end"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	id := generic.ResourceID(chi.URLParam(r, "id"))
	res, err := h.Engine.Availability(r.Context(), id, window, generic.ReservationID(q.Get("excluding")))

	dto := AvailabilityDTO{
		ResourceID: string(id),
		Start:      formatTime(window.Start),
		End:        formatTime(window.End),
	}
	var conflict *generic.ConflictError
	switch {
	case err == nil:
		dto.Available = true
		dto.Availability = "AVAILABLE"
		dto.Units = res.AvailableUnits()
	case errors.As(err, &conflict):
		dto.Availability = string(conflict.Availability)
		dto.Units = conflict.Capacity
		dto.PeakLoad = conflict.PeakLoad
		for _, f := range conflict.Free {
			dto.Free = append(dto.Free, toWindowDTO(f))
		}
	default:
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs one reconciliation sweep at the engine's clock.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	if !a.IsAdmin() {
		h.writeEngineError(w, r, &generic.UnauthorizedError{ActorID: a.ID, Action: "run", Target: "sweep"})
		return
	}
	report, err := runSweep(r.Context(), h.Engine, h.Store, h.Logger)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sqlite.NewSweepRun(report))
}

// ListSweepRuns supports ?limit= (default 20).
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	if !a.IsAdmin() {
		h.writeEngineError(w, r, &generic.UnauthorizedError{ActorID: a.ID, Action: "list", Target: "sweeps"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeEngineError(w, r, &generic.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := h.Store.ListSweepRuns(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func (h *Handler) respondReservation(w http.ResponseWriter, r *http.Request, res *generic.Reservation, err error) {
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// writeEngineError maps an engine error to its status. Infrastructure
// failures are logged and reported without details.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, ErrorResponse) {
	var (
		conflict   *generic.ConflictError
		limit      *generic.LimitExceededError
		window     *generic.CheckInWindowError
		validation *generic.ValidationError
	)
	body := ErrorResponse{Error: err.Error()}
	switch {
	case errors.As(err, &window):
		body.Details = map[string]string{
			"reason": string(window.Reason),
			"opens":  formatTime(window.Opens),
			"closes": formatTime(window.Closes),
		}
		if window.Reason == generic.CheckInTooEarly {
			body.Code = "check_in_too_early"
			return http.StatusTooEarly, body
		}
		body.Code = "check_in_expired"
		return http.StatusGone, body
	case errors.As(err, &conflict):
		body.Code = "conflict"
		free := make([]WindowDTO, len(conflict.Free))
		for i, f := range conflict.Free {
			free[i] = toWindowDTO(f)
		}
		body.Details = map[string]any{
			"availability": conflict.Availability,
			"peak_load":    conflict.PeakLoad,
			"units":        conflict.Capacity,
			"free":         free,
		}
		return http.StatusConflict, body
	case errors.Is(err, generic.ErrConflict):
		body.Code = "conflict"
		return http.StatusConflict, body
	case errors.As(err, &limit):
		body.Code = "limit_exceeded"
		body.Details = map[string]string{
			"limit":     string(limit.Limit),
			"used":      limit.Used.String(),
			"requested": limit.Requested.String(),
			"max":       limit.Max.String(),
		}
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, generic.ErrLimitExceeded):
		body.Code = "limit_exceeded"
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, generic.ErrUnauthorized):
		body.Code = "forbidden"
		return http.StatusForbidden, body
	case errors.Is(err, generic.ErrNotFound):
		body.Code = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, generic.ErrInvalidTransition):
		body.Code = "invalid_transition"
		return http.StatusBadRequest, body
	case errors.As(err, &validation):
		body.Code = "validation"
		if validation.Field != "" {
			body.Details = map[string]string{"field": validation.Field}
		}
		return http.StatusBadRequest, body
	case errors.Is(err, generic.ErrValidation), errors.Is(err, generic.ErrCheckInWindow):
		body.Code = "validation"
		return http.StatusBadRequest, body
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Code: "internal"}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decode(w, r, dst)
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &generic.ValidationError{Field: field, Message: "use RFC 3339, e.g. 2025-03-10T09:00:00Z"}
	}
	return t, nil
}

func parseWindow(start, end string) (generic.TimeWindow, error) {
	s, err := parseTime("start", start)
	if err != nil {
		return generic.TimeWindow{}, err
	}
	e, err := parseTime("end", end)
	if err != nil {
		return generic.TimeWindow{}, err
	}
	return generic.NewTimeWindow(s, e)
}

// actor is set by Authenticate on every /api route.
func actor(r *http.Request) generic.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

func reservationID(r *http.Request) generic.ReservationID {
	return generic.ReservationID(chi.URLParam(r, "id"))
}

func waitlistID(r *http.Request) generic.WaitlistEntryID {
	return generic.WaitlistEntryID(chi.URLParam(r, "id"))
}

func userIDs(ss []string) []generic.UserID {
	if len(ss) == 0 {
		return nil
	}
	out := make([]generic.UserID, len(ss))
	for i, s := range ss {
		out[i] = generic.UserID(s)
	}
	return out
}
