/*
reconcile.go - Reconciliation sweep: pure planner + engine application

PURPOSE:
  Time moves reservations along even when nobody calls the API. The sweep
  finds everything that is due at `now` and applies it through the same
  engine transitions interactive callers use.

SPLIT:
  PlanSweep(now, snapshot, horizon)  pure; no I/O, fully unit-testable
  Engine.Sweep(ctx)                  loads the snapshot, plans, applies
  api.ReconciliationScheduler        owns the ticker and calls Sweep

WHAT IS DUE:
  no-show          CONFIRMED and now > start + CheckInLate
  completion       CHECKED_IN and now >= end
  lapsed approval  PENDING and now >= start → REJECTED by "system"
  reminder         CONFIRMED, not reminded, start within ReminderLead
  lapsed offer     waitlist offer past its TTL → entry dropped, re-promote
  expired entry    waitlist entry past expiry or desired start
  series           active series whose watermark is behind now + horizon

ISOLATION:
  Every item runs in its own transaction and re-checks its condition inside
  it. A failed item is logged and reported; it never stops the sweep. Items
  that an interactive call already moved on are counted as skipped.
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// PLAN
// =============================================================================

type SweepSnapshot struct {
	// Reservations in live states.
	Reservations []*Reservation
	Policies     map[ResourceID]ResourcePolicy
	Waitlist     []*WaitlistEntry
	Series       []*Series
}

type SeriesDue struct {
	ID   SeriesID
	UpTo Date
}

type SweepPlan struct {
	NoShows         []ReservationID
	Completions     []ReservationID
	LapsedApprovals []ReservationID
	Reminders       []ReservationID
	LapsedOffers    []WaitlistEntryID
	ExpiredEntries  []WaitlistEntryID
	SeriesDue       []SeriesDue
}

func (p SweepPlan) Empty() bool {
	return len(p.NoShows)+len(p.Completions)+len(p.LapsedApprovals)+len(p.Reminders)+
		len(p.LapsedOffers)+len(p.ExpiredEntries)+len(p.SeriesDue) == 0
}

// PlanSweep decides what is due at now.
func PlanSweep(now time.Time, snap SweepSnapshot, horizon time.Duration) SweepPlan {
	var plan SweepPlan
	rs := append([]*Reservation(nil), snap.Reservations...)
	sort.Slice(rs, func(i, j int) bool { return rs[i].Window.Start.Before(rs[j].Window.Start) })

	for _, r := range rs {
		policy, ok := snap.Policies[r.ResourceID]
		if !ok {
			continue
		}
		switch r.Status {
		case StatusConfirmed:
			_, closes := policy.CheckInWindow(r.Window.Start)
			if now.After(closes) {
				plan.NoShows = append(plan.NoShows, r.ID)
				continue
			}
			lead := policy.ReminderLead
			if lead > 0 && r.RemindedAt == nil && r.Window.Start.After(now) && r.Window.Start.Sub(now) <= lead {
				plan.Reminders = append(plan.Reminders, r.ID)
			}
		case StatusCheckedIn:
			if !now.Before(r.Window.End) {
				plan.Completions = append(plan.Completions, r.ID)
			}
		case StatusPending:
			if !now.Before(r.Window.Start) {
				plan.LapsedApprovals = append(plan.LapsedApprovals, r.ID)
			}
		}
	}

	for _, w := range snap.Waitlist {
		switch {
		case w.Expired(now):
			plan.ExpiredEntries = append(plan.ExpiredEntries, w.ID)
		case w.OfferLapsed(now):
			plan.LapsedOffers = append(plan.LapsedOffers, w.ID)
		}
	}

	for _, s := range snap.Series {
		if !s.Active || s.Exhausted() {
			continue
		}
		upTo := DateOf(now.Add(horizon).In(s.Location()))
		if !s.Rule.EndDate.IsZero() && s.Rule.EndDate.Before(upTo) {
			upTo = s.Rule.EndDate
		}
		if !s.NextDate().After(upTo) {
			plan.SeriesDue = append(plan.SeriesDue, SeriesDue{ID: s.ID, UpTo: upTo})
		}
	}
	return plan
}

// =============================================================================
// APPLY
// =============================================================================

type SweepFailure struct {
	Kind string
	ID   string
	Err  error
}

type SweepReport struct {
	At              time.Time
	NoShows         int
	Completions     int
	LapsedApprovals int
	Reminders       int
	LapsedOffers    int
	ExpiredEntries  int
	SeriesGenerated int
	Skipped         int
	Failures        []SweepFailure
}

func (r SweepReport) Processed() int {
	return r.NoShows + r.Completions + r.LapsedApprovals + r.Reminders +
		r.LapsedOffers + r.ExpiredEntries + r.SeriesGenerated
}

var errNotDue = errors.New("no longer due")

// Sweep applies every due transition at the engine clock's now.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	now := e.now()
	report := SweepReport{At: now}

	snap, err := e.snapshot(ctx, &report)
	if err != nil {
		return report, err
	}
	plan := PlanSweep(now, snap, e.horizon())

	apply := func(kind, id string, counter *int, fn func() error) {
		if ctx.Err() != nil {
			return
		}
		err := fn()
		switch {
		case err == nil:
			*counter++
		case errors.Is(err, errNotDue):
			report.Skipped++
		default:
			report.Failures = append(report.Failures, SweepFailure{Kind: kind, ID: id, Err: err})
			e.log().Error("sweep item failed", "kind", kind, "id", id, "error", err)
		}
	}

	for _, id := range plan.NoShows {
		id := id
		apply("no_show", string(id), &report.NoShows, func() error {
			return e.sweepReservation(ctx, id, snap.Policies, e.applyNoShow)
		})
	}
	for _, id := range plan.Completions {
		id := id
		apply("completion", string(id), &report.Completions, func() error {
			return e.sweepReservation(ctx, id, snap.Policies, e.applyCompletion)
		})
	}
	for _, id := range plan.LapsedApprovals {
		id := id
		apply("lapsed_approval", string(id), &report.LapsedApprovals, func() error {
			return e.sweepReservation(ctx, id, snap.Policies, e.applyLapsedApproval)
		})
	}
	for _, id := range plan.Reminders {
		id := id
		apply("reminder", string(id), &report.Reminders, func() error {
			return e.sweepReservation(ctx, id, snap.Policies, e.applyReminder)
		})
	}
	for _, id := range plan.LapsedOffers {
		id := id
		apply("lapsed_offer", string(id), &report.LapsedOffers, func() error {
			err := e.lapseOffer(ctx, id)
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
				return errNotDue
			}
			return err
		})
	}
	for _, id := range plan.ExpiredEntries {
		id := id
		apply("expired_entry", string(id), &report.ExpiredEntries, func() error {
			err := e.expireEntry(ctx, id)
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
				return errNotDue
			}
			return err
		})
	}
	for _, due := range plan.SeriesDue {
		due := due
		apply("series", string(due.ID), &report.SeriesGenerated, func() error {
			_, err := e.GenerateSeriesUpTo(ctx, SystemActor(), due.ID, due.UpTo)
			return err
		})
	}

	e.log().Info("sweep completed",
		"at", now, "processed", report.Processed(), "skipped", report.Skipped, "failures", len(report.Failures))
	return report, ctx.Err()
}

func (e *Engine) snapshot(ctx context.Context, report *SweepReport) (SweepSnapshot, error) {
	live, err := e.Store.ListReservations(ctx, ReservationFilter{Statuses: LiveStatuses})
	if err != nil {
		return SweepSnapshot{}, fmt.Errorf("failed to load live reservations: %w", err)
	}
	waitlist, err := e.Store.ListWaitlist(ctx, "")
	if err != nil {
		return SweepSnapshot{}, fmt.Errorf("failed to load waitlist: %w", err)
	}
	series, err := e.Store.ListSeries(ctx, true)
	if err != nil {
		return SweepSnapshot{}, fmt.Errorf("failed to load series: %w", err)
	}
	policies := make(map[ResourceID]ResourcePolicy)
	for _, r := range live {
		if _, ok := policies[r.ResourceID]; ok {
			continue
		}
		res, err := e.resource(ctx, r.ResourceID)
		if err != nil {
			report.Failures = append(report.Failures, SweepFailure{Kind: "resource", ID: string(r.ResourceID), Err: err})
			e.log().Error("sweep cannot resolve resource", "resource_id", r.ResourceID, "error", err)
			policies[r.ResourceID] = ResourcePolicy{}
			continue
		}
		policies[r.ResourceID] = res.Policy
	}
	for id, p := range policies {
		if p.Exclusivity == "" {
			delete(policies, id)
		}
	}
	return SweepSnapshot{Reservations: live, Policies: policies, Waitlist: waitlist, Series: series}, nil
}

type sweepStep func(r *Reservation, p ResourcePolicy, now time.Time) (AuditAction, EventType, error)

// sweepReservation re-reads the reservation in its own transaction and
// applies step when it is still due.
func (e *Engine) sweepReservation(ctx context.Context, id ReservationID, policies map[ResourceID]ResourcePolicy, step sweepStep) error {
	now := e.now()
	system := SystemActor()
	var r *Reservation
	var ev EventType
	err := e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if r, err = load(ctx, tx, id); err != nil {
			return err
		}
		var action AuditAction
		action, ev, err = step(r, policies[r.ResourceID], now)
		if err != nil {
			return err
		}
		return e.save(ctx, tx, system, action, r, map[string]any{"source": "sweep"})
	})
	if err != nil {
		return err
	}

	e.emit(ctx, reservationEvent(ev, r, now))
	switch ev {
	case EventNoShow, EventRejected:
		e.releaseSlot(ctx, r.ResourceID, r.Window, now)
	}
	return nil
}

func (e *Engine) applyNoShow(r *Reservation, p ResourcePolicy, now time.Time) (AuditAction, EventType, error) {
	_, closes := p.CheckInWindow(r.Window.Start)
	if r.Status != StatusConfirmed || !now.After(closes) {
		return "", "", errNotDue
	}
	if err := r.markNoShow(now); err != nil {
		return "", "", err
	}
	e.log().Info("reservation marked no-show", "reservation_id", r.ID)
	return AuditNoShow, EventNoShow, nil
}

func (e *Engine) applyCompletion(r *Reservation, _ ResourcePolicy, now time.Time) (AuditAction, EventType, error) {
	if r.Status != StatusCheckedIn || now.Before(r.Window.End) {
		return "", "", errNotDue
	}
	if err := r.complete(SystemActor().ID, now); err != nil {
		return "", "", err
	}
	return AuditCompleted, EventCompleted, nil
}

func (e *Engine) applyLapsedApproval(r *Reservation, _ ResourcePolicy, now time.Time) (AuditAction, EventType, error) {
	if r.Status != StatusPending || now.Before(r.Window.Start) {
		return "", "", errNotDue
	}
	if err := r.decide(SystemActor().ID, false, "approval window lapsed", now); err != nil {
		return "", "", err
	}
	e.log().Info("pending reservation lapsed", "reservation_id", r.ID)
	return AuditRejected, EventRejected, nil
}

func (e *Engine) applyReminder(r *Reservation, p ResourcePolicy, now time.Time) (AuditAction, EventType, error) {
	if r.Status != StatusConfirmed || r.RemindedAt != nil || !r.Window.Start.After(now) ||
		r.Window.Start.Sub(now) > p.ReminderLead {
		return "", "", errNotDue
	}
	at := now
	r.RemindedAt = &at
	r.UpdatedAt = now
	return AuditReminded, EventReminder, nil
}
