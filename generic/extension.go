/*
extension.go - Extension arbiter

PURPOSE:
  Lets a requester push the end of an active booking later. Two independent
  checks can deny it, and they fail with different error kinds so the user
  knows whether to wait (conflict) or give up for the day (budget):

    1. Budget: per-request maximum and the daily cap, summed from the
       extension ledger for the current calendar day in the resource's
       timezone, across all of the requester's reservations.
    2. Conflict: only the delta window [end, end + hours) is checked, with
       the reservation itself excluded.

  Extensions are not bound by the policy's MaxDuration, which only limits
  new bookings.

SEE ALSO:
  - ledger.go: ExtensionRecord and budget sums
*/
package generic

import (
	"context"
	"fmt"
)

// Extend adds hours to the reservation's end.
func (e *Engine) Extend(ctx context.Context, actor Actor, id ReservationID, hours Amount) (*Reservation, error) {
	hours = hours.InHours()
	if !hours.IsPositive() {
		return nil, invalid("hours", "must be positive")
	}
	if hours.Duration() <= 0 {
		return nil, invalid("hours", "too small")
	}
	current, err := e.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := e.resource(ctx, current.ResourceID)
	if err != nil {
		return nil, err
	}
	policy := res.Policy

	now := e.now()
	var r *Reservation
	err = e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if r, err = load(ctx, tx, id); err != nil {
			return err
		}
		if r.RequesterID != actor.ID && !actor.IsAdmin() {
			return forbidden(actor, "extend", r.ID)
		}
		if !policy.IsExtendable(r.Status) {
			return &TransitionError{ReservationID: r.ID, From: r.Status, To: r.Status,
				Reason: fmt.Sprintf("%s reservations cannot be extended", r.Status)}
		}
		if !r.Window.End.After(now) {
			return invalid("window", "reservation has already ended")
		}

		if perRequest := policy.MaxExtensionPerRequest; perRequest.IsPositive() && hours.GreaterThan(perRequest) {
			return &LimitExceededError{
				Limit:     LimitExtensionPerRequest,
				UserID:    r.RequesterID,
				Used:      hours.Zero().Value,
				Requested: hours.Value,
				Max:       perRequest.InHours().Value,
			}
		}
		if limit := policy.DailyExtensionCap; limit.IsPositive() {
			used, err := ExtensionHoursUsed(ctx, tx, r.RequesterID, now, policy.Location())
			if err != nil {
				return fmt.Errorf("failed to sum extensions: %w", err)
			}
			if used.Add(hours).GreaterThan(limit) {
				return &LimitExceededError{
					Limit:     LimitDailyExtensionHours,
					UserID:    r.RequesterID,
					Used:      used.Value,
					Requested: hours.Value,
					Max:       limit.InHours().Value,
				}
			}
		}

		delta := TimeWindow{Start: r.Window.End, End: r.Window.End.Add(hours.Duration())}
		if err := e.checkConflict(ctx, tx, *res, delta, r.ID, r.RequesterID); err != nil {
			return err
		}

		r.extend(hours, now)
		if err := tx.AppendExtension(ctx, ExtensionRecord{
			ID:            e.newID(),
			ReservationID: r.ID,
			ResourceID:    r.ResourceID,
			RequesterID:   r.RequesterID,
			Hours:         hours,
			GrantedAt:     now,
		}); err != nil {
			return fmt.Errorf("failed to record extension: %w", err)
		}
		return e.save(ctx, tx, actor, AuditExtended, r, map[string]any{
			"hours":   hours.Value.String(),
			"new_end": r.Window.End,
		})
	})
	if err != nil {
		return nil, err
	}

	e.log().Info("reservation extended",
		"reservation_id", r.ID, "hours", hours.Value.String(), "new_end", r.Window.End)
	ev := reservationEvent(EventExtended, r, now)
	ev.Attributes = map[string]string{"hours": hours.Value.String()}
	e.emit(ctx, ev)
	return r, nil
}
