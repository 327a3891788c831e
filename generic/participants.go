package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PARTICIPANTS - Invitees on room and lab bookings
// =============================================================================

func (e *Engine) resolveUsers(ctx context.Context, ids []UserID) error {
	for _, id := range ids {
		if _, err := e.user(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// buildParticipants merges invitees into existing and enforces capacity.
// The organizer always counts as one head.
func buildParticipants(res Resource, organizer UserID, existing []Participant, invitees []UserID, now time.Time) ([]Participant, error) {
	out := append([]Participant(nil), existing...)
	if len(invitees) == 0 {
		return out, nil
	}
	if !res.Policy.AllowsParticipants {
		return nil, invalid("participants", "%s resources do not take participants", res.Kind)
	}
	added := 0
	for _, id := range invitees {
		if id == organizer {
			return nil, invalid("participants", "organizer %s cannot be invited", id)
		}
		found := false
		for i := range out {
			if out[i].UserID != id {
				continue
			}
			found = true
			if out[i].Status == InvitationDeclined {
				out[i] = Participant{UserID: id, Status: InvitationPending, InvitedAt: now}
				added++
			}
		}
		if !found {
			out = append(out, Participant{UserID: id, Status: InvitationPending, InvitedAt: now})
			added++
		}
	}
	r := Reservation{Participants: out}
	if res.Capacity > 0 && r.headcount() > res.Capacity {
		return nil, &LimitExceededError{
			Limit:     LimitParticipants,
			UserID:    organizer,
			Used:      decimal.NewFromInt(int64(r.headcount() - added)),
			Requested: decimal.NewFromInt(int64(added)),
			Max:       decimal.NewFromInt(int64(res.Capacity)),
		}
	}
	return out, nil
}

func (e *Engine) emitInvitations(ctx context.Context, r *Reservation, ps []Participant, now time.Time) {
	for _, p := range ps {
		if p.Status != InvitationPending {
			continue
		}
		ev := reservationEvent(EventParticipantsInvited, r, now)
		ev.UserID = p.UserID
		ev.Attributes = map[string]string{"organizer_id": string(r.RequesterID)}
		e.emit(ctx, ev)
	}
}

// InviteParticipants adds invitees to a live reservation. Organizer or
// admin only; the headcount may not exceed the resource capacity.
func (e *Engine) InviteParticipants(ctx context.Context, actor Actor, id ReservationID, users []UserID) (*Reservation, error) {
	if len(users) == 0 {
		return nil, invalid("participants", "no users to invite")
	}
	current, err := e.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := e.resource(ctx, current.ResourceID)
	if err != nil {
		return nil, err
	}
	if err := e.resolveUsers(ctx, users); err != nil {
		return nil, err
	}

	now := e.now()
	var r *Reservation
	var invited []Participant
	err = e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if r, err = load(ctx, tx, id); err != nil {
			return err
		}
		if r.RequesterID != actor.ID && !actor.IsAdmin() {
			return forbidden(actor, "invite to", r.ID)
		}
		if !r.Status.IsLive() {
			return &TransitionError{ReservationID: r.ID, From: r.Status, To: r.Status,
				Reason: "participants can only be invited to live reservations"}
		}
		before := len(r.Participants)
		ps, err := buildParticipants(*res, r.RequesterID, r.Participants, users, now)
		if err != nil {
			return err
		}
		r.Participants = ps
		r.UpdatedAt = now
		for _, p := range ps {
			if p.InvitedAt.Equal(now) {
				invited = append(invited, p)
			}
		}
		return e.save(ctx, tx, actor, AuditParticipants, r, map[string]any{
			"op": "invite", "before": before, "after": len(ps),
		})
	})
	if err != nil {
		return nil, err
	}
	e.emitInvitations(ctx, r, invited, now)
	return r, nil
}

// RespondInvitation records the invitee's answer.
func (e *Engine) RespondInvitation(ctx context.Context, actor Actor, id ReservationID, accept bool) (*Reservation, error) {
	now := e.now()
	var r *Reservation
	err := e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if r, err = load(ctx, tx, id); err != nil {
			return err
		}
		p := r.participant(actor.ID)
		if p == nil {
			return notFound("invitation", fmt.Sprintf("%s/%s", id, actor.ID))
		}
		if !r.Status.IsLive() {
			return &TransitionError{ReservationID: r.ID, From: r.Status, To: r.Status,
				Reason: "reservation is no longer live"}
		}
		if p.CheckedInAt != nil && !accept {
			return invalid("invitation", "already checked in")
		}
		if p.Status == InvitationDeclined && accept {
			return invalid("invitation", "declined; the organizer must invite again")
		}
		p.Status = InvitationDeclined
		if accept {
			p.Status = InvitationAccepted
		}
		at := now
		p.RespondedAt = &at
		r.UpdatedAt = now
		return e.save(ctx, tx, actor, AuditParticipants, r, map[string]any{
			"op": "respond", "accepted": accept,
		})
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
