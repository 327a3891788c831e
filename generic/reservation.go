/*
reservation.go - Reservation entity and lifecycle state machine

PURPOSE:
  A Reservation is one user's claim on one resource for one window. Its
  status only changes through the transition methods below; each one checks
  the transition table and records a typed payload so the reservation can
  always be validated on save.

STATE MACHINE:
  ┌─────────────────────────────────────────────────────────────────┐
  │                                                                 │
  │   PENDING ──approve──▶ CONFIRMED ──check-in──▶ CHECKED_IN       │
  │      │                    │    │                  │    │        │
  │   reject               cancel  no-show         cancel  end /    │
  │      ▼                    ▼    ▼                  ▼    checkout │
  │   REJECTED            CANCELLED NO_SHOW     CANCELLED COMPLETED │
  │      │                                                          │
  │      └──escalate (once)──▶ PENDING                              │
  │                                                                 │
  └─────────────────────────────────────────────────────────────────┘

  Live states: PENDING, CONFIRMED, CHECKED_IN. Only live reservations hold
  capacity. Terminal states are retained forever.

PAYLOADS:
  Decision      set iff a decision moved the booking out of PENDING
  CheckIn       set iff the booking passed through CHECKED_IN
  Cancellation  set iff CANCELLED
  NoShowAt      set iff NO_SHOW
  Completion    set iff COMPLETED
  Escalation    set once escalated; keeps the decision it re-opened

SEE ALSO:
  - engine.go: Create / cancel
  - approval.go, checkin.go, extension.go: Other transitions
*/
package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCheckedIn Status = "CHECKED_IN"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
)

// LiveStatuses are the states that occupy capacity.
var LiveStatuses = []Status{StatusPending, StatusConfirmed, StatusCheckedIn}

func (s Status) IsLive() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCheckedIn
}

func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusNoShow || s == StatusCompleted || s == StatusRejected
}

func (s Status) Valid() bool { return s.IsLive() || s.IsTerminal() }

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the regular table allows from → to.
// REJECTED → PENDING is not in the table; only escalation performs it.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// =============================================================================
// PAYLOADS
// =============================================================================

type Decision struct {
	ApproverID UserID    `json:"approver_id"`
	Approved   bool      `json:"approved"`
	At         time.Time `json:"at"`
	Reason     string    `json:"reason,omitempty"`
	Escalated  bool      `json:"escalated,omitempty"`
}

type CheckInMethod string

const (
	CheckInManual CheckInMethod = "manual"
	CheckInQR     CheckInMethod = "qr"
)

type CheckIn struct {
	At      time.Time     `json:"at"`
	ActorID UserID        `json:"actor_id"`
	Method  CheckInMethod `json:"method"`
}

type Cancellation struct {
	At      time.Time `json:"at"`
	ActorID UserID    `json:"actor_id"`
	Reason  string    `json:"reason,omitempty"`
}

type Escalation struct {
	At            time.Time `json:"at"`
	By            UserID    `json:"by"`
	Reason        string    `json:"reason,omitempty"`
	PriorDecision *Decision `json:"prior_decision,omitempty"`
}

type Extension struct {
	OriginalEnd time.Time `json:"original_end"`
	Granted     Amount    `json:"granted"`
	Count       int       `json:"count"`
	LastAt      time.Time `json:"last_at"`
}

type Completion struct {
	At      time.Time `json:"at"`
	ActorID UserID    `json:"actor_id"`
	Early   bool      `json:"early"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "invited"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

type Participant struct {
	UserID      UserID           `json:"user_id"`
	Status      InvitationStatus `json:"status"`
	InvitedAt   time.Time        `json:"invited_at"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
	CheckedInAt *time.Time       `json:"checked_in_at,omitempty"`
}

// =============================================================================
// RESERVATION
// =============================================================================

type Reservation struct {
	ID           ReservationID
	ResourceID   ResourceID
	ResourceKind ResourceKind
	RequesterID  UserID
	Window       TimeWindow
	Status       Status
	Purpose      string

	RequiresApproval bool
	Decision         *Decision
	Escalation       *Escalation
	CheckIn          *CheckIn
	Cancellation     *Cancellation
	Completion       *Completion
	NoShowAt         *time.Time
	Extension        *Extension
	Participants     []Participant
	SeriesID         *SeriesID
	RemindedAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy; payloads are never shared between copies.
func (r *Reservation) Clone() *Reservation {
	c := *r
	c.Decision = clonePtr(r.Decision)
	c.Escalation = clonePtr(r.Escalation)
	if c.Escalation != nil {
		c.Escalation.PriorDecision = clonePtr(r.Escalation.PriorDecision)
	}
	c.CheckIn = clonePtr(r.CheckIn)
	c.Cancellation = clonePtr(r.Cancellation)
	c.Completion = clonePtr(r.Completion)
	c.NoShowAt = clonePtr(r.NoShowAt)
	c.Extension = clonePtr(r.Extension)
	c.SeriesID = clonePtr(r.SeriesID)
	c.RemindedAt = clonePtr(r.RemindedAt)
	if r.Participants != nil {
		c.Participants = make([]Participant, len(r.Participants))
		for i, p := range r.Participants {
			p.RespondedAt = clonePtr(p.RespondedAt)
			p.CheckedInAt = clonePtr(p.CheckedInAt)
			c.Participants[i] = p
		}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Escalated reports whether the reservation has used its one escalation.
func (r *Reservation) Escalated() bool { return r.Escalation != nil }

// Validate checks that payloads agree with the status.
func (r *Reservation) Validate() error {
	if r.ID == "" || r.ResourceID == "" || r.RequesterID == "" {
		return invalid("reservation", "id, resource and requester are required")
	}
	if !r.Status.Valid() {
		return invalid("status", "unknown status %q", r.Status)
	}
	if err := r.Window.Validate(); err != nil {
		return err
	}
	switch {
	case r.Decision != nil && !r.RequiresApproval:
		return invalid("decision", "set on a reservation that needs no approval")
	case r.Decision != nil && r.Status == StatusPending:
		return invalid("decision", "set while still pending")
	case r.Status == StatusRejected && r.Decision == nil:
		return invalid("decision", "rejected without a decision")
	case r.Status == StatusConfirmed && r.RequiresApproval && r.Decision == nil:
		return invalid("decision", "confirmed without a decision")
	}
	switch r.Status {
	case StatusCheckedIn, StatusCompleted:
		if r.CheckIn == nil {
			return invalid("checked_in_at", "%s without check-in", r.Status)
		}
	case StatusCancelled:
	default:
		if r.CheckIn != nil {
			return invalid("checked_in_at", "set on %s reservation", r.Status)
		}
	}
	if (r.Cancellation != nil) != (r.Status == StatusCancelled) {
		return invalid("cancellation", "must be set iff cancelled")
	}
	if (r.NoShowAt != nil) != (r.Status == StatusNoShow) {
		return invalid("no_show_at", "must be set iff no-show")
	}
	if (r.Completion != nil) != (r.Status == StatusCompleted) {
		return invalid("completion", "must be set iff completed")
	}
	return nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (r *Reservation) transition(to Status, at time.Time) error {
	if !CanTransition(r.Status, to) {
		return &TransitionError{ReservationID: r.ID, From: r.Status, To: to}
	}
	r.Status = to
	r.UpdatedAt = at
	return nil
}

func (r *Reservation) decide(approver UserID, approve bool, reason string, at time.Time) error {
	if !r.RequiresApproval {
		return &TransitionError{ReservationID: r.ID, From: r.Status, To: StatusConfirmed,
			Reason: "reservation does not require approval"}
	}
	to := StatusRejected
	if approve {
		to = StatusConfirmed
	}
	if err := r.transition(to, at); err != nil {
		return err
	}
	r.Decision = &Decision{
		ApproverID: approver,
		Approved:   approve,
		At:         at,
		Reason:     reason,
		Escalated:  r.Escalation != nil,
	}
	return nil
}

// reopen performs the escalation-only REJECTED → PENDING move.
func (r *Reservation) reopen(by UserID, reason string, at time.Time) error {
	if r.Escalation != nil {
		return fmt.Errorf("%w: %w", ErrValidation, ErrAlreadyEscalated)
	}
	switch r.Status {
	case StatusRejected, StatusPending:
	default:
		return &TransitionError{ReservationID: r.ID, From: r.Status, To: StatusPending,
			Reason: "only rejected or pending reservations can be escalated"}
	}
	r.Escalation = &Escalation{At: at, By: by, Reason: reason, PriorDecision: r.Decision}
	r.Decision = nil
	r.Status = StatusPending
	r.UpdatedAt = at
	return nil
}

func (r *Reservation) checkIn(actor UserID, method CheckInMethod, at time.Time) error {
	if err := r.transition(StatusCheckedIn, at); err != nil {
		return err
	}
	r.CheckIn = &CheckIn{At: at, ActorID: actor, Method: method}
	return nil
}

func (r *Reservation) cancel(actor UserID, reason string, at time.Time) error {
	if err := r.transition(StatusCancelled, at); err != nil {
		return err
	}
	r.Cancellation = &Cancellation{At: at, ActorID: actor, Reason: reason}
	return nil
}

func (r *Reservation) markNoShow(at time.Time) error {
	if err := r.transition(StatusNoShow, at); err != nil {
		return err
	}
	r.NoShowAt = &at
	return nil
}

func (r *Reservation) complete(actor UserID, at time.Time) error {
	if err := r.transition(StatusCompleted, at); err != nil {
		return err
	}
	r.Completion = &Completion{At: at, ActorID: actor, Early: at.Before(r.Window.End)}
	return nil
}

func (r *Reservation) extend(hours Amount, at time.Time) {
	if r.Extension == nil {
		r.Extension = &Extension{OriginalEnd: r.Window.End, Granted: hours.Zero()}
	}
	r.Window.End = r.Window.End.Add(hours.Duration())
	r.Extension.Granted = r.Extension.Granted.Add(hours)
	r.Extension.Count++
	r.Extension.LastAt = at
	r.UpdatedAt = at
}

func (r *Reservation) participant(id UserID) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID == id {
			return &r.Participants[i]
		}
	}
	return nil
}

// headcount is the organizer plus every invitee who has not declined.
func (r *Reservation) headcount() int {
	n := 1
	for _, p := range r.Participants {
		if p.Status != InvitationDeclined {
			n++
		}
	}
	return n
}
