/*
checkin.go - Check-in gate, QR check-in and checkout

PURPOSE:
  Confirms that the booker actually showed up. Check-in is accepted only
  inside the inclusive window [start - CheckInEarly, start + CheckInLate].
  Confirmed bookings that miss the window are flipped to NO_SHOW by the
  sweep and their slot is released.

RULES:
  - Before the window: CheckInWindowError{Reason: TOO_EARLY}
  - After the window, or already NO_SHOW: CheckInWindowError{Reason: WINDOW_EXPIRED}
  - Already CHECKED_IN: no-op success
  - Any other state: TransitionError
  - Participants check in independently; only the organizer's check-in
    moves the reservation to CHECKED_IN.

QR:
  A QR token printed on a seat or room resolves to (kind, resource). The
  actor's open reservation on that resource is checked in and returned as
  a BookingDetails value: SeatBookingDetails or RoomBookingDetails.

SEE ALSO:
  - reconcile.go: NO_SHOW and completion
  - qr/: Token resolvers
*/
package generic

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// BOOKING DETAILS - Sealed result of a QR check-in
// =============================================================================

// BookingDetails is implemented only by SeatBookingDetails and
// RoomBookingDetails.
type BookingDetails interface {
	Booking() *Reservation
	bookingDetails()
}

type SeatBookingDetails struct {
	Reservation *Reservation
	SeatName    string
	Location    string
}

func (d SeatBookingDetails) Booking() *Reservation { return d.Reservation }
func (SeatBookingDetails) bookingDetails()          {}

type RoomBookingDetails struct {
	Reservation *Reservation
	RoomName    string
	Location    string
	Capacity    int
	// Attendees counts the organizer (once checked in) plus checked-in participants.
	Attendees int
	Invited   int
}

func (d RoomBookingDetails) Booking() *Reservation { return d.Reservation }
func (RoomBookingDetails) bookingDetails()          {}

func bookingDetailsFor(res *Resource, r *Reservation) (BookingDetails, error) {
	switch res.Kind {
	case KindSeat:
		return SeatBookingDetails{Reservation: r, SeatName: res.Name, Location: res.Location}, nil
	case KindRoom, KindLab:
		d := RoomBookingDetails{Reservation: r, RoomName: res.Name, Location: res.Location, Capacity: res.Capacity}
		if r.CheckIn != nil {
			d.Attendees++
		}
		for _, p := range r.Participants {
			if p.Status != InvitationDeclined {
				d.Invited++
			}
			if p.CheckedInAt != nil {
				d.Attendees++
			}
		}
		return d, nil
	}
	return nil, invalid("resource.kind", "QR check-in is not available for %s", res.Kind)
}

// =============================================================================
// CHECK-IN
// =============================================================================

// CheckIn checks in the organizer, or the given participant when
// participantID is set.
func (e *Engine) CheckIn(ctx context.Context, actor Actor, id ReservationID, participantID UserID) (*Reservation, error) {
	current, err := e.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := e.resource(ctx, current.ResourceID)
	if err != nil {
		return nil, err
	}
	if participantID != "" && participantID != current.RequesterID {
		return e.checkInParticipant(ctx, actor, res, id, participantID, CheckInManual)
	}
	return e.checkInOrganizer(ctx, actor, res, id, CheckInManual)
}

func checkWindow(p ResourcePolicy, r *Reservation, now time.Time) error {
	opens, closes := p.CheckInWindow(r.Window.Start)
	werr := &CheckInWindowError{ReservationID: r.ID, At: now, Opens: opens, Closes: closes}
	switch {
	case now.Before(opens):
		werr.Reason = CheckInTooEarly
		return werr
	case now.After(closes):
		werr.Reason = CheckInExpired
		return werr
	}
	return nil
}

func (e *Engine) checkInOrganizer(ctx context.Context, actor Actor, res *Resource, id ReservationID, method CheckInMethod) (*Reservation, error) {
	now := e.now()
	var r *Reservation
	changed := false
	err := e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if r, err = load(ctx, tx, id); err != nil {
			return err
		}
		if r.RequesterID != actor.ID && !actor.IsAdmin() {
			return forbidden(actor, "check in", r.ID)
		}
		switch r.Status {
		case StatusCheckedIn:
			return nil
		case StatusNoShow:
			opens, closes := res.Policy.CheckInWindow(r.Window.Start)
			return &CheckInWindowError{ReservationID: r.ID, Reason: CheckInExpired, At: now, Opens: opens, Closes: closes}
		case StatusConfirmed:
			if err := checkWindow(res.Policy, r, now); err != nil {
				return err
			}
		}
		if err := r.checkIn(actor.ID, method, now); err != nil {
			return err
		}
		changed = true
		return e.save(ctx, tx, actor, AuditCheckedIn, r, map[string]any{"method": string(method)})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.log().Info("reservation checked in", "reservation_id", r.ID, "method", method)
		e.emit(ctx, reservationEvent(EventCheckedIn, r, now))
	}
	return r, nil
}

func (e *Engine) checkInParticipant(ctx context.Context, actor Actor, res *Resource, id ReservationID, participantID UserID, method CheckInMethod) (*Reservation, error) {
	now := e.now()
	var r *Reservation
	changed := false
	err := e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if r, err = load(ctx, tx, id); err != nil {
			return err
		}
		if actor.ID != participantID && actor.ID != r.RequesterID && !actor.IsAdmin() {
			return forbidden(actor, "check in participant of", r.ID)
		}
		p := r.participant(participantID)
		if p == nil || p.Status == InvitationDeclined {
			return notFound("participant", participantID)
		}
		if p.CheckedInAt != nil {
			return nil
		}
		switch r.Status {
		case StatusConfirmed, StatusCheckedIn:
		case StatusNoShow:
			opens, closes := res.Policy.CheckInWindow(r.Window.Start)
			return &CheckInWindowError{ReservationID: r.ID, Reason: CheckInExpired, At: now, Opens: opens, Closes: closes}
		default:
			return &TransitionError{ReservationID: r.ID, From: r.Status, To: StatusCheckedIn,
				Reason: "participant check-in needs a confirmed reservation"}
		}
		if err := checkWindow(res.Policy, r, now); err != nil {
			return err
		}
		at := now
		p.CheckedInAt = &at
		if p.Status == InvitationPending {
			p.Status = InvitationAccepted
			p.RespondedAt = &at
		}
		r.UpdatedAt = now
		changed = true
		return e.save(ctx, tx, actor, AuditCheckedIn, r, map[string]any{
			"participant_id": string(participantID),
			"method":         string(method),
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		ev := reservationEvent(EventParticipantCheckedIn, r, now)
		ev.Attributes = map[string]string{"participant_id": string(participantID)}
		e.emit(ctx, ev)
	}
	return r, nil
}

// CheckInByQR resolves a printed token to its resource and checks the actor
// into their open reservation there.
func (e *Engine) CheckInByQR(ctx context.Context, actor Actor, token string) (BookingDetails, error) {
	if e.Tokens == nil {
		return nil, invalid("token", "QR check-in is not configured")
	}
	kind, resourceID, err := e.Tokens.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	res, err := e.resource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if res.Kind != kind {
		return nil, invalid("token", "token is for a %s but resource %s is a %s", kind, res.ID, res.Kind)
	}
	if !res.Policy.QRCheckIn {
		return nil, invalid("token", "QR check-in is disabled for %s", res.ID)
	}

	now := e.now()
	candidates, err := e.Store.ListReservations(ctx, ReservationFilter{
		ResourceID: res.ID,
		Statuses:   []Status{StatusConfirmed, StatusCheckedIn},
	})
	if err != nil {
		return nil, err
	}
	var target *Reservation
	asParticipant := false
	for _, r := range candidates {
		if checkWindow(res.Policy, r, now) != nil && !(r.Status == StatusCheckedIn && r.Window.Contains(now)) {
			continue
		}
		if r.RequesterID == actor.ID {
			target = r
			asParticipant = false
			break
		}
		if p := r.participant(actor.ID); p != nil && p.Status != InvitationDeclined && target == nil {
			target = r
			asParticipant = true
		}
	}
	if target == nil {
		return nil, &NotFoundError{Kind: "open reservation", ID: string(res.ID)}
	}

	var r *Reservation
	if asParticipant {
		r, err = e.checkInParticipant(ctx, actor, res, target.ID, actor.ID, CheckInQR)
	} else {
		r, err = e.checkInOrganizer(ctx, actor, res, target.ID, CheckInQR)
	}
	if err != nil {
		return nil, err
	}
	return bookingDetailsFor(res, r)
}

// =============================================================================
// CHECKOUT
// =============================================================================

// Checkout completes a checked-in reservation before its end and offers the
// remainder of the window to the waitlist.
func (e *Engine) Checkout(ctx context.Context, actor Actor, id ReservationID) (*Reservation, error) {
	now := e.now()
	var r *Reservation
	err := e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if r, err = load(ctx, tx, id); err != nil {
			return err
		}
		if r.RequesterID != actor.ID && !actor.IsAdmin() {
			return forbidden(actor, "check out", r.ID)
		}
		if err := r.complete(actor.ID, now); err != nil {
			return err
		}
		return e.save(ctx, tx, actor, AuditCompleted, r, map[string]any{"early": r.Completion.Early})
	})
	if err != nil {
		return nil, err
	}

	e.log().Info("reservation checked out", "reservation_id", r.ID, "early", r.Completion.Early)
	e.emit(ctx, reservationEvent(EventCompleted, r, now))
	if r.Completion.Early {
		e.releaseSlot(ctx, r.ResourceID, r.Window, now)
	}
	return r, nil
}

// IsTooEarly reports whether err is a too-early check-in.
func IsTooEarly(err error) bool {
	var w *CheckInWindowError
	return errors.As(err, &w) && w.Reason == CheckInTooEarly
}

// IsWindowExpired reports whether err is an expired check-in window.
func IsWindowExpired(err error) bool {
	var w *CheckInWindowError
	return errors.As(err, &w) && w.Reason == CheckInExpired
}
