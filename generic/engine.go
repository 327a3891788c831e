/*
engine.go - Engine wiring, reservation creation and cancellation

PURPOSE:
  The Engine is the single entry point for every state change. HTTP
  handlers, the CLI and the reconciliation sweep all call the same methods,
  so a transition has exactly one code path no matter who triggers it.

CREATE FLOW:
  ┌─────────────────────────────────────────────────────────────────┐
  │  validate window ─▶ resolve resource + requester (outside tx)   │
  │        │                                                        │
  │        ▼                                                        │
  │  WithTx: booking limits ─▶ conflict check ─▶ insert ─▶ audit    │
  │        │                                                        │
  │        ▼                                                        │
  │  emit reservation.created (after commit, fire-and-forget)       │
  └─────────────────────────────────────────────────────────────────┘

  Directory and catalog lookups happen before the transaction. Only the
  store view handed to the WithTx callback is used inside it.

CANCEL:
  Owner or admin. The slot is released in the same transaction that writes
  CANCELLED; the freed remainder of the window is then offered to the
  waitlist.

SEE ALSO:
  - conflict.go: Detector
  - approval.go, checkin.go, extension.go, waitlist.go, series.go
  - reconcile.go: Sweep
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store     TxStore
	Users     UserDirectory
	Resources ResourceCatalog
	Tokens    TokenResolver
	Events    EventEmitter
	Closures  ClosureCalendar
	Clock     Clock
	Logger    *slog.Logger

	// SeriesHorizon is how far ahead recurring series are materialized.
	SeriesHorizon time.Duration

	// NewID generates identifiers; defaults to random UUIDs.
	NewID func() string
}

const DefaultSeriesHorizon = 14 * 24 * time.Hour

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e *Engine) log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) horizon() time.Duration {
	if e.SeriesHorizon <= 0 {
		return DefaultSeriesHorizon
	}
	return e.SeriesHorizon
}

func (e *Engine) closures() ClosureCalendar {
	if e.Closures == nil {
		return NoClosures{}
	}
	return e.Closures
}

// emit delivers ev detached from the request's cancellation.
func (e *Engine) emit(ctx context.Context, ev Event) {
	if e.Events == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = e.newID()
	}
	e.Events.Emit(context.WithoutCancel(ctx), ev)
}

func (e *Engine) resource(ctx context.Context, id ResourceID) (*Resource, error) {
	res, err := e.Resources.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}
	r := *res
	r.Policy = PolicyFor(r)
	return &r, nil
}

func (e *Engine) user(ctx context.Context, id UserID) (*User, error) {
	return e.Users.GetUser(ctx, id)
}

func (e *Engine) audit(ctx context.Context, s Store, actor Actor, action AuditAction, r *Reservation, payload map[string]any) error {
	entry := AuditEntry{
		ID:      e.newID(),
		At:      e.now(),
		ActorID: actor.ID,
		Action:  action,
		Payload: payload,
	}
	if r != nil {
		entry.ReservationID = r.ID
		entry.ResourceID = r.ResourceID
	}
	if err := s.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// save validates and persists a mutated reservation with its audit entry.
func (e *Engine) save(ctx context.Context, s Store, actor Actor, action AuditAction, r *Reservation, payload map[string]any) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.UpdateReservation(ctx, r); err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	return e.audit(ctx, s, actor, action, r, payload)
}

// load reads a reservation inside a transaction.
func load(ctx context.Context, s Store, id ReservationID) (*Reservation, error) {
	r, err := s.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// =============================================================================
// READS
// =============================================================================

// GetReservation returns a reservation visible to the actor: the requester,
// an invited participant, an approver for the resource, or an admin.
func (e *Engine) GetReservation(ctx context.Context, actor Actor, id ReservationID) (*Reservation, error) {
	r, err := e.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() || r.RequesterID == actor.ID || r.participant(actor.ID) != nil {
		return r, nil
	}
	res, err := e.resource(ctx, r.ResourceID)
	if err != nil {
		return nil, err
	}
	if res.Policy.CanDecide(actor, r.Escalated()) || res.Policy.CanDecide(actor, false) {
		return r, nil
	}
	return nil, forbidden(actor, "view", r.ID)
}

// ListReservations returns reservations matching f. Non-admins only see
// their own bookings.
func (e *Engine) ListReservations(ctx context.Context, actor Actor, f ReservationFilter) ([]*Reservation, error) {
	if !actor.IsAdmin() {
		f.RequesterID = actor.ID
	}
	return e.Store.ListReservations(ctx, f)
}

// =============================================================================
// CREATE
// =============================================================================

type CreateRequest struct {
	ResourceID ResourceID
	Window     TimeWindow
	Purpose    string
	// Participants are invited at creation (rooms and labs).
	Participants []UserID
	// OnBehalfOf lets an admin book for another user.
	OnBehalfOf UserID

	seriesID *SeriesID
}

type prepared struct {
	res  *Resource
	user *User
	r    *Reservation
}

// prepare validates the request and resolves collaborators. It must run
// outside any transaction.
func (e *Engine) prepare(ctx context.Context, actor Actor, req CreateRequest, now time.Time) (*prepared, error) {
	if err := req.Window.Validate(); err != nil {
		return nil, err
	}
	if req.Window.Start.Before(now) {
		return nil, invalid("window", "starts in the past")
	}
	requester := actor.ID
	if req.OnBehalfOf != "" && req.OnBehalfOf != actor.ID {
		if !actor.IsAdmin() {
			return nil, forbidden(actor, "book on behalf of", req.OnBehalfOf)
		}
		requester = req.OnBehalfOf
	}
	res, err := e.resource(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	user, err := e.user(ctx, requester)
	if err != nil {
		return nil, err
	}
	policy := res.Policy
	if policy.MaxDuration > 0 && req.Window.Duration() > policy.MaxDuration {
		return nil, invalid("window", "duration %s exceeds maximum %s", req.Window.Duration(), policy.MaxDuration)
	}

	if err := e.resolveUsers(ctx, req.Participants); err != nil {
		return nil, err
	}
	participants, err := buildParticipants(*res, user.ID, nil, req.Participants, now)
	if err != nil {
		return nil, err
	}

	requiresApproval := policy.RequiresApprovalFor(*user, *res)
	status := StatusConfirmed
	if requiresApproval {
		status = StatusPending
	}
	r := &Reservation{
		ID:               ReservationID(e.newID()),
		ResourceID:       res.ID,
		ResourceKind:     res.Kind,
		RequesterID:      user.ID,
		Window:           req.Window,
		Status:           status,
		Purpose:          req.Purpose,
		RequiresApproval: requiresApproval,
		Participants:     participants,
		SeriesID:         req.seriesID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &prepared{res: res, user: user, r: r}, nil
}

// insert runs the capacity-sensitive part of creation on the store view s.
func (e *Engine) insert(ctx context.Context, s Store, actor Actor, p *prepared) error {
	if err := e.checkLimits(ctx, s, *p.user, *p.res, p.r.Window); err != nil {
		return err
	}
	if err := e.checkConflict(ctx, s, *p.res, p.r.Window, "", p.r.RequesterID); err != nil {
		return err
	}
	if err := s.CreateReservation(ctx, p.r); err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return e.audit(ctx, s, actor, AuditCreated, p.r, map[string]any{
		"status":            string(p.r.Status),
		"requires_approval": p.r.RequiresApproval,
	})
}

// CreateReservation books a resource window. The reservation starts
// CONFIRMED, or PENDING when approval is required.
func (e *Engine) CreateReservation(ctx context.Context, actor Actor, req CreateRequest) (*Reservation, error) {
	now := e.now()
	p, err := e.prepare(ctx, actor, req, now)
	if err != nil {
		return nil, err
	}
	if err := e.Store.WithTx(ctx, func(tx Store) error {
		return e.insert(ctx, tx, actor, p)
	}); err != nil {
		return nil, err
	}

	e.log().Info("reservation created",
		"reservation_id", p.r.ID, "resource_id", p.r.ResourceID,
		"requester_id", p.r.RequesterID, "status", p.r.Status)
	e.emit(ctx, reservationEvent(EventCreated, p.r, now))
	if len(p.r.Participants) > 0 {
		e.emitInvitations(ctx, p.r, p.r.Participants, now)
	}
	return p.r, nil
}

// checkLimits enforces per-day and per-week booking counts for the
// requester on this kind of resource. Admins are exempt.
func (e *Engine) checkLimits(ctx context.Context, s Store, user User, res Resource, window TimeWindow) error {
	policy := res.Policy
	if user.Role == RoleAdmin || user.Role == RoleSystem {
		return nil
	}
	loc := policy.Location()
	checks := []struct {
		max    int
		kind   LimitKind
		bucket TimeWindow
	}{
		{policy.MaxPerDay, LimitDailyBookings, DayWindow(window.Start, loc)},
		{policy.MaxPerWeek, LimitWeeklyBookings, WeekWindow(window.Start, loc)},
	}
	for _, c := range checks {
		if c.max <= 0 {
			continue
		}
		bucket := c.bucket
		held, err := s.ListReservations(ctx, ReservationFilter{
			RequesterID: user.ID,
			Kind:        res.Kind,
			Statuses:    []Status{StatusPending, StatusConfirmed, StatusCheckedIn, StatusCompleted},
			Overlapping: &bucket,
		})
		if err != nil {
			return fmt.Errorf("failed to count bookings: %w", err)
		}
		used := 0
		for _, r := range held {
			if bucket.Contains(r.Window.Start) {
				used++
			}
		}
		if used >= c.max {
			return &LimitExceededError{
				Limit:     c.kind,
				UserID:    user.ID,
				Used:      decimal.NewFromInt(int64(used)),
				Requested: decimal.NewFromInt(1),
				Max:       decimal.NewFromInt(int64(c.max)),
			}
		}
	}
	return nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelReservation cancels a live reservation. Only the requester or an
// admin may cancel.
func (e *Engine) CancelReservation(ctx context.Context, actor Actor, id ReservationID, reason string) (*Reservation, error) {
	now := e.now()
	var r *Reservation
	err := e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if r, err = load(ctx, tx, id); err != nil {
			return err
		}
		if r.RequesterID != actor.ID && !actor.IsAdmin() {
			return forbidden(actor, "cancel", r.ID)
		}
		if err := r.cancel(actor.ID, reason, now); err != nil {
			return err
		}
		return e.save(ctx, tx, actor, AuditCancelled, r, map[string]any{"reason": reason})
	})
	if err != nil {
		return nil, err
	}

	e.log().Info("reservation cancelled", "reservation_id", r.ID, "actor_id", actor.ID)
	e.emit(ctx, reservationEvent(EventCancelled, r, now))
	e.releaseSlot(ctx, r.ResourceID, r.Window, now)
	return r, nil
}

// releaseSlot offers the not-yet-elapsed part of a freed window to the
// waitlist. Promotion failures are logged; the release itself already
// committed.
func (e *Engine) releaseSlot(ctx context.Context, resourceID ResourceID, window TimeWindow, now time.Time) {
	if !window.End.After(now) {
		return
	}
	if window.Start.Before(now) {
		window.Start = now
	}
	if _, err := e.Promote(ctx, resourceID, window); err != nil && !errors.Is(err, ErrNotFound) {
		e.log().Warn("waitlist promotion failed",
			"resource_id", resourceID, "window", window.String(), "error", err)
	}
}
