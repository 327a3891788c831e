/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication so the engine types
  can change without breaking clients. Timestamps are RFC 3339 strings;
  calendar dates are YYYY-MM-DD.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Done in handlers (parseWindow etc.), not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/reservation-engine/generic"
)

// =============================================================================
// RESERVATIONS
// =============================================================================

type ReservationDTO struct {
	ID               string                `json:"id"`
	ResourceID       string                `json:"resource_id"`
	ResourceKind     string                `json:"resource_kind"`
	RequesterID      string                `json:"requester_id"`
	Start            string                `json:"start"`
	End              string                `json:"end"`
	Status           string                `json:"status"`
	Purpose          string                `json:"purpose,omitempty"`
	RequiresApproval bool                  `json:"requires_approval"`
	Decision         *generic.Decision     `json:"decision,omitempty"`
	Escalation       *generic.Escalation   `json:"escalation,omitempty"`
	CheckIn          *generic.CheckIn      `json:"check_in,omitempty"`
	Cancellation     *generic.Cancellation `json:"cancellation,omitempty"`
	Completion       *generic.Completion   `json:"completion,omitempty"`
	NoShowAt         *string               `json:"no_show_at,omitempty"`
	Extension        *ExtensionDTO         `json:"extension,omitempty"`
	Participants     []generic.Participant `json:"participants,omitempty"`
	SeriesID         *string               `json:"series_id,omitempty"`
	CreatedAt        string                `json:"created_at"`
	UpdatedAt        string                `json:"updated_at"`
}

type ExtensionDTO struct {
	OriginalEnd  string          `json:"original_end"`
	GrantedHours decimal.Decimal `json:"granted_hours"`
	Count        int             `json:"count"`
}

type CreateReservationRequest struct {
	ResourceID   string   `json:"resource_id"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
	Purpose      string   `json:"purpose,omitempty"`
	Participants []string `json:"participants,omitempty"`
	OnBehalfOf   string   `json:"on_behalf_of,omitempty"`
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type DecisionRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

type BulkDecisionRequest struct {
	IDs     []string `json:"ids"`
	Approve bool     `json:"approve"`
	Reason  string   `json:"reason,omitempty"`
}

type BulkResultDTO struct {
	ID          string          `json:"id"`
	Reservation *ReservationDTO `json:"reservation,omitempty"`
	Error       *ErrorResponse  `json:"error,omitempty"`
}

type BulkDecisionDTO struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Results   []BulkResultDTO `json:"results"`
}

type CheckInRequest struct {
	// ParticipantID checks in an invited participant instead of the organizer.
	ParticipantID string `json:"participant_id,omitempty"`
}

type QRCheckInRequest struct {
	Token string `json:"token"`
}

// BookingDetailsDTO is the QR check-in answer. Room fields are omitted for seats.
type BookingDetailsDTO struct {
	Kind        string         `json:"kind"`
	Name        string         `json:"name"`
	Location    string         `json:"location,omitempty"`
	Capacity    int            `json:"capacity,omitempty"`
	Attendees   int            `json:"attendees,omitempty"`
	Invited     int            `json:"invited,omitempty"`
	Reservation ReservationDTO `json:"reservation"`
}

type ExtendRequest struct {
	Amount decimal.Decimal `json:"amount"`
	// Unit is "hours" (default) or "minutes".
	Unit string `json:"unit,omitempty"`
}

type InviteRequest struct {
	UserIDs []string `json:"user_ids"`
}

type InvitationResponseRequest struct {
	Accept bool `json:"accept"`
}

// =============================================================================
// WAITLIST
// =============================================================================

type JoinWaitlistRequest struct {
	ResourceID string  `json:"resource_id"`
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Priority   *int    `json:"priority,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
}

type WaitlistEntryDTO struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	ResourceID     string  `json:"resource_id"`
	Start          string  `json:"start"`
	End            string  `json:"end"`
	Priority       int     `json:"priority"`
	CreatedAt      string  `json:"created_at"`
	ExpiresAt      *string `json:"expires_at,omitempty"`
	OfferedAt      *string `json:"offered_at,omitempty"`
	OfferExpiresAt *string `json:"offer_expires_at,omitempty"`
}

// =============================================================================
// SERIES
// =============================================================================

type CreateSeriesRequest struct {
	ResourceID string                 `json:"resource_id"`
	Rule       generic.RecurrenceRule `json:"rule"`
	// StartTime is the local wall-clock start, "HH:MM".
	StartTime string `json:"start_time"`
	// Duration is a Go duration string such as "1h30m".
	Duration string `json:"duration"`
	Purpose  string `json:"purpose,omitempty"`
}

type SeriesDTO struct {
	ID            string                 `json:"id"`
	OwnerID       string                 `json:"owner_id"`
	ResourceID    string                 `json:"resource_id"`
	Rule          generic.RecurrenceRule `json:"rule"`
	StartTime     string                 `json:"start_time"`
	Duration      string                 `json:"duration"`
	Timezone      string                 `json:"timezone"`
	Purpose       string                 `json:"purpose,omitempty"`
	LastGenerated *generic.Date          `json:"last_generated,omitempty"`
	Active        bool                   `json:"active"`
	CreatedAt     string                 `json:"created_at"`
	CancelledAt   *string                `json:"cancelled_at,omitempty"`
}

type SkippedOccurrenceDTO struct {
	Date   generic.Date `json:"date"`
	Reason string       `json:"reason"`
	Error  string       `json:"error,omitempty"`
}

type GenerationReportDTO struct {
	SeriesID  string                 `json:"series_id"`
	From      generic.Date           `json:"from"`
	To        generic.Date           `json:"to"`
	Created   []string               `json:"created"`
	Skipped   []SkippedOccurrenceDTO `json:"skipped"`
	Watermark *generic.Date          `json:"watermark,omitempty"`
}

type CreateSeriesResponse struct {
	Series SeriesDTO           `json:"series"`
	Report GenerationReportDTO `json:"report"`
}

type GenerateSeriesRequest struct {
	UpTo generic.Date `json:"up_to"`
}

type CancelSeriesResponse struct {
	Cancelled []string `json:"cancelled"`
}

// =============================================================================
// RESOURCES
// =============================================================================

type WindowDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type ResourceDTO struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
	Units    int    `json:"units"`
	Policy   string `json:"policy"`
}

type AvailabilityDTO struct {
	ResourceID   string      `json:"resource_id"`
	Start        string      `json:"start"`
	End          string      `json:"end"`
	Available    bool        `json:"available"`
	Availability string      `json:"availability"`
	Units        int         `json:"units"`
	PeakLoad     int         `json:"peak_load"`
	Free         []WindowDTO `json:"free,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toWindowDTO(w generic.TimeWindow) WindowDTO {
	return WindowDTO{Start: formatTime(w.Start), End: formatTime(w.End)}
}

func toReservationDTO(r *generic.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:               string(r.ID),
		ResourceID:       string(r.ResourceID),
		ResourceKind:     string(r.ResourceKind),
		RequesterID:      string(r.RequesterID),
		Start:            formatTime(r.Window.Start),
		End:              formatTime(r.Window.End),
		Status:           string(r.Status),
		Purpose:          r.Purpose,
		RequiresApproval: r.RequiresApproval,
		Decision:         r.Decision,
		Escalation:       r.Escalation,
		CheckIn:          r.CheckIn,
		Cancellation:     r.Cancellation,
		Completion:       r.Completion,
		NoShowAt:         formatTimePtr(r.NoShowAt),
		Participants:     r.Participants,
		CreatedAt:        formatTime(r.CreatedAt),
		UpdatedAt:        formatTime(r.UpdatedAt),
	}
	if r.Extension != nil {
		dto.Extension = &ExtensionDTO{
			OriginalEnd:  formatTime(r.Extension.OriginalEnd),
			GrantedHours: r.Extension.Granted.InHours().Value,
			Count:        r.Extension.Count,
		}
	}
	if r.SeriesID != nil {
		id := string(*r.SeriesID)
		dto.SeriesID = &id
	}
	return dto
}

func toReservationDTOs(rs []*generic.Reservation) []ReservationDTO {
	dtos := make([]ReservationDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toReservationDTO(r)
	}
	return dtos
}

func toWaitlistEntryDTO(e *generic.WaitlistEntry) WaitlistEntryDTO {
	return WaitlistEntryDTO{
		ID:             string(e.ID),
		UserID:         string(e.UserID),
		ResourceID:     string(e.ResourceID),
		Start:          formatTime(e.Window.Start),
		End:            formatTime(e.Window.End),
		Priority:       e.Priority,
		CreatedAt:      formatTime(e.CreatedAt),
		ExpiresAt:      formatTimePtr(e.ExpiresAt),
		OfferedAt:      formatTimePtr(e.OfferedAt),
		OfferExpiresAt: formatTimePtr(e.OfferExpiresAt),
	}
}

func toSeriesDTO(s *generic.Series) SeriesDTO {
	start := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(s.StartTime)
	return SeriesDTO{
		ID:            string(s.ID),
		OwnerID:       string(s.OwnerID),
		ResourceID:    string(s.ResourceID),
		Rule:          s.Rule,
		StartTime:     start.Format("15:04"),
		Duration:      s.Duration.String(),
		Timezone:      s.Timezone,
		Purpose:       s.Purpose,
		LastGenerated: s.LastGenerated,
		Active:        s.Active,
		CreatedAt:     formatTime(s.CreatedAt),
		CancelledAt:   formatTimePtr(s.CancelledAt),
	}
}

func toGenerationReportDTO(r *generic.GenerationReport) GenerationReportDTO {
	dto := GenerationReportDTO{
		SeriesID:  string(r.SeriesID),
		From:      r.From,
		To:        r.To,
		Created:   make([]string, len(r.Created)),
		Skipped:   make([]SkippedOccurrenceDTO, len(r.Skipped)),
		Watermark: r.Watermark,
	}
	for i, id := range r.Created {
		dto.Created[i] = string(id)
	}
	for i, s := range r.Skipped {
		dto.Skipped[i] = SkippedOccurrenceDTO{Date: s.Date, Reason: s.Reason}
		if s.Err != nil {
			dto.Skipped[i].Error = s.Err.Error()
		}
	}
	return dto
}

func toBookingDetailsDTO(d generic.BookingDetails) BookingDetailsDTO {
	switch v := d.(type) {
	case generic.SeatBookingDetails:
		return BookingDetailsDTO{Kind: "seat", Name: v.SeatName, Location: v.Location, Reservation: toReservationDTO(v.Reservation)}
	case generic.RoomBookingDetails:
		return BookingDetailsDTO{
			Kind:        "room",
			Name:        v.RoomName,
			Location:    v.Location,
			Capacity:    v.Capacity,
			Attendees:   v.Attendees,
			Invited:     v.Invited,
			Reservation: toReservationDTO(v.Reservation),
		}
	}
	return BookingDetailsDTO{Reservation: toReservationDTO(d.Booking())}
}

func toResourceDTO(r generic.Resource) ResourceDTO {
	return ResourceDTO{
		ID:       string(r.ID),
		Kind:     string(r.Kind),
		Name:     r.Name,
		Location: r.Location,
		Capacity: r.Capacity,
		Units:    r.AvailableUnits(),
		Policy:   r.Policy.Name,
	}
}
