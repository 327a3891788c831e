/*
errors.go - Centralized error types for the reservation engine

PURPOSE:
  All error kinds in one place so the HTTP boundary and the CLI can map them
  without knowing which component raised them. Every structured error
  unwraps to exactly one sentinel.

ERROR CATEGORIES:
  1. Conflict - the window is taken (409)
  2. Validation / invalid transition - bad input or illegal state change (400)
  3. Limit exceeded - a booking or extension budget is exhausted (422)
  4. Unauthorized - the actor may not perform the action (403)
  5. Check-in window - too early (425) or expired (410)
  6. Not found (404)
  Anything else is an infrastructure failure and is wrapped with %w.

USAGE:
    var conflict *generic.ConflictError
    if errors.As(err, &conflict) {
        suggest(conflict.Free)
    }

SEE ALSO:
  - conflict.go: Builds ConflictError
  - reservation.go: Builds TransitionError
  - api/handlers.go: Maps kinds to status codes
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConflict is returned when the requested window overlaps live bookings
	// beyond what the resource can hold.
	ErrConflict = errors.New("reservation conflict")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a lifecycle transition is not allowed
	// from the current state. It is a validation-class error.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrAlreadyEscalated is returned on a second escalation attempt.
	ErrAlreadyEscalated = errors.New("reservation already escalated")

	ErrLimitExceeded = errors.New("limit exceeded")
	ErrUnauthorized  = errors.New("unauthorized")

	// ErrCheckInWindow is returned when check-in happens outside its window.
	ErrCheckInWindow = errors.New("outside check-in window")

	ErrNotFound = errors.New("not found")

	// ErrStoreRequired is returned when an operation requires a transactional store.
	ErrStoreRequired = errors.New("operation requires a transactional store")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Availability classifies a conflicting window.
type Availability string

const (
	FullyBooked        Availability = "FULLY_BOOKED"
	PartiallyAvailable Availability = "PARTIALLY_AVAILABLE"
)

// ConflictError describes why a window could not be granted.
type ConflictError struct {
	ResourceID   ResourceID
	Window       TimeWindow
	Availability Availability
	Capacity     int
	PeakLoad     int
	Conflicting  []ReservationID
	Free         []TimeWindow
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource %s %s for %s (load %d/%d)",
		e.ResourceID, strings.ToLower(string(e.Availability)), e.Window, e.PeakLoad, e.Capacity)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// LimitKind names the budget that was exhausted.
type LimitKind string

const (
	LimitDailyBookings       LimitKind = "daily_bookings"
	LimitWeeklyBookings      LimitKind = "weekly_bookings"
	LimitDailyExtensionHours LimitKind = "daily_extension_hours"
	LimitExtensionPerRequest LimitKind = "extension_per_request"
	LimitParticipants        LimitKind = "participant_capacity"
)

type LimitExceededError struct {
	Limit     LimitKind
	UserID    UserID
	Used      decimal.Decimal
	Requested decimal.Decimal
	Max       decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s exceeded for %s: used %s, requested %s, max %s",
		e.Limit, e.UserID, e.Used, e.Requested, e.Max)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

type UnauthorizedError struct {
	ActorID UserID
	Action  string
	Target  string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("user %s may not %s %s", e.ActorID, e.Action, e.Target)
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

func forbidden(actor Actor, action string, target any) error {
	return &UnauthorizedError{ActorID: actor.ID, Action: action, Target: fmt.Sprint(target)}
}

// CheckInReason tells which side of the window was missed.
type CheckInReason string

const (
	CheckInTooEarly CheckInReason = "TOO_EARLY"
	CheckInExpired  CheckInReason = "WINDOW_EXPIRED"
)

type CheckInWindowError struct {
	ReservationID ReservationID
	Reason        CheckInReason
	At            time.Time
	Opens         time.Time
	Closes        time.Time
}

func (e *CheckInWindowError) Error() string {
	return fmt.Sprintf("check-in for %s: %s (window %s - %s, at %s)",
		e.ReservationID, strings.ToLower(string(e.Reason)),
		e.Opens.Format(time.RFC3339), e.Closes.Format(time.RFC3339), e.At.Format(time.RFC3339))
}

func (e *CheckInWindowError) Unwrap() error { return ErrCheckInWindow }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// TransitionError reports a refused lifecycle transition.
type TransitionError struct {
	ReservationID ReservationID
	From          Status
	To            Status
	Reason        string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("reservation %s: cannot move from %s to %s", e.ReservationID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Is makes transition errors match ErrValidation as well.
func (e *TransitionError) Is(target error) bool { return target == ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to the caller's request
// rather than an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrCheckInWindow) ||
		errors.Is(err, ErrNotFound)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
