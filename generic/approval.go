/*
approval.go - Approval workflow: decide, bulk decide, escalate

PURPOSE:
  Moves PENDING reservations that require approval to CONFIRMED or REJECTED.
  Escalation lets the requester re-open a rejected (or stale pending)
  booking once, for a higher authority to decide.

RULES:
  - Only PENDING reservations with RequiresApproval are decidable.
  - The approver must hold one of the policy's ApproverRoles; after
    escalation only EscalationRoles (head of department) or admins.
  - Nobody decides their own booking.
  - Rejection is terminal: the requester books again or escalates.
  - Escalation is allowed once, by the requester, on escalatable policies.
    REJECTED → PENDING re-runs the conflict check because a rejected
    booking released its slot.
  - A decision after escalation is final; a second escalation fails.

BULK:
  Each id is decided in its own transaction; one failure never rolls back
  another. The report lists every id with its outcome.
*/
package generic

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// DECIDE
// =============================================================================

// Decide approves or rejects a pending reservation.
func (e *Engine) Decide(ctx context.Context, actor Actor, id ReservationID, approve bool, reason string) (*Reservation, error) {
	current, err := e.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := e.resource(ctx, current.ResourceID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var r *Reservation
	err = e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if r, err = load(ctx, tx, id); err != nil {
			return err
		}
		if r.RequesterID == actor.ID {
			return forbidden(actor, "decide own reservation", r.ID)
		}
		if !res.Policy.CanDecide(actor, r.Escalated()) {
			return forbidden(actor, "decide", r.ID)
		}
		if r.Status != StatusPending {
			to := StatusRejected
			if approve {
				to = StatusConfirmed
			}
			return &TransitionError{ReservationID: r.ID, From: r.Status, To: to, Reason: "only pending reservations can be decided"}
		}
		if err := r.decide(actor.ID, approve, reason, now); err != nil {
			return err
		}
		action := AuditRejected
		if approve {
			action = AuditApproved
		}
		return e.save(ctx, tx, actor, action, r, map[string]any{
			"reason":    reason,
			"escalated": r.Escalated(),
		})
	})
	if err != nil {
		return nil, err
	}

	e.log().Info("reservation decided",
		"reservation_id", r.ID, "approver_id", actor.ID, "approved", approve, "escalated", r.Escalated())
	if approve {
		e.emit(ctx, reservationEvent(EventApproved, r, now))
	} else {
		ev := reservationEvent(EventRejected, r, now)
		ev.Attributes = map[string]string{"reason": reason}
		e.emit(ctx, ev)
		e.releaseSlot(ctx, r.ResourceID, r.Window, now)
	}
	return r, nil
}

// =============================================================================
// BULK DECIDE
// =============================================================================

type BulkResult struct {
	ID          ReservationID
	Reservation *Reservation
	Err         error
}

type BulkReport struct {
	Results   []BulkResult
	Succeeded int
	Failed    int
}

// DecideBulk applies the same decision to every id independently.
func (e *Engine) DecideBulk(ctx context.Context, actor Actor, ids []ReservationID, approve bool, reason string) BulkReport {
	report := BulkReport{Results: make([]BulkResult, 0, len(ids))}
	for _, id := range ids {
		r, err := e.Decide(ctx, actor, id, approve, reason)
		report.Results = append(report.Results, BulkResult{ID: id, Reservation: r, Err: err})
		if err != nil {
			report.Failed++
			e.log().Warn("bulk decision failed", "reservation_id", id, "error", err)
			continue
		}
		report.Succeeded++
	}
	return report
}

// =============================================================================
// ESCALATE
// =============================================================================

// Escalate re-opens a rejected or stale pending reservation for the
// escalation approvers. Allowed once per reservation.
func (e *Engine) Escalate(ctx context.Context, actor Actor, id ReservationID, reason string) (*Reservation, error) {
	current, err := e.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := e.resource(ctx, current.ResourceID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var r *Reservation
	err = e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if r, err = load(ctx, tx, id); err != nil {
			return err
		}
		if r.RequesterID != actor.ID {
			return forbidden(actor, "escalate", r.ID)
		}
		if r.Escalated() {
			return fmt.Errorf("%w: %w", ErrValidation, ErrAlreadyEscalated)
		}
		if !res.Policy.Escalatable {
			return invalid("escalation", "not available for %s resources", res.Kind)
		}
		if !r.Window.Start.After(now) {
			return invalid("escalation", "reservation window has already started")
		}
		switch r.Status {
		case StatusPending:
			if age := now.Sub(r.CreatedAt); age < res.Policy.StaleAfter {
				return invalid("escalation", "pending for %s, escalation allowed after %s",
					age.Truncate(time.Second), res.Policy.StaleAfter)
			}
		case StatusRejected:
			if err := e.checkConflict(ctx, tx, *res, r.Window, r.ID, r.RequesterID); err != nil {
				return err
			}
		}
		if err := r.reopen(actor.ID, reason, now); err != nil {
			return err
		}
		return e.save(ctx, tx, actor, AuditEscalated, r, map[string]any{"reason": reason})
	})
	if err != nil {
		return nil, err
	}

	e.log().Info("reservation escalated", "reservation_id", r.ID, "requester_id", actor.ID)
	e.emit(ctx, reservationEvent(EventEscalated, r, now))
	return r, nil
}
