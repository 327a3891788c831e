package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/generic"
)

func TestCheckIn_WindowBoundaries(t *testing.T) {
	// GIVEN: Three seat bookings with a ±10 minute check-in window
	f := newFixture(t)
	r1 := f.book(t, student, "seat-1", window(time.Hour, time.Hour))
	r2 := f.book(t, student, "seat-1", window(3*time.Hour, time.Hour))
	r3 := f.book(t, student, "seat-1", window(5*time.Hour, time.Hour))

	// T-11m: too early
	f.clock.Set(r1.Window.Start.Add(-11 * time.Minute))
	_, err := f.engine.CheckIn(f.ctx, student, r1.ID, "")
	require.Error(t, err)
	assert.True(t, generic.IsTooEarly(err))
	assert.ErrorIs(t, err, generic.ErrCheckInWindow)

	// T-9m: accepted
	f.clock.Set(r1.Window.Start.Add(-9 * time.Minute))
	got, err := f.engine.CheckIn(f.ctx, student, r1.ID, "")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCheckedIn, got.Status)
	require.NotNil(t, got.CheckIn)
	assert.Equal(t, generic.CheckInManual, got.CheckIn.Method)

	// T+9m: accepted
	f.clock.Set(r2.Window.Start.Add(9 * time.Minute))
	_, err = f.engine.CheckIn(f.ctx, student, r2.ID, "")
	require.NoError(t, err)

	// T+11m: expired
	f.clock.Set(r3.Window.Start.Add(11 * time.Minute))
	_, err = f.engine.CheckIn(f.ctx, student, r3.ID, "")
	require.Error(t, err)
	assert.True(t, generic.IsWindowExpired(err))
	assert.Equal(t, generic.StatusConfirmed, f.get(t, r3.ID).Status)
}

func TestCheckIn_BoundsAreInclusive(t *testing.T) {
	f := newFixture(t)
	early := f.book(t, student, "seat-1", window(time.Hour, time.Hour))
	late := f.book(t, student, "seat-2", window(time.Hour, time.Hour))

	f.clock.Set(early.Window.Start.Add(-10 * time.Minute))
	_, err := f.engine.CheckIn(f.ctx, student, early.ID, "")
	assert.NoError(t, err)

	f.clock.Set(late.Window.Start.Add(10 * time.Minute))
	_, err = f.engine.CheckIn(f.ctx, student, late.ID, "")
	assert.NoError(t, err)
}

func TestCheckIn_Idempotent(t *testing.T) {
	// GIVEN: A checked-in reservation
	f := newFixture(t)
	r := f.book(t, student, "seat-1", window(time.Hour, time.Hour))
	f.clock.Set(r.Window.Start)
	first, err := f.engine.CheckIn(f.ctx, student, r.ID, "")
	require.NoError(t, err)

	// WHEN: Checking in again, even after the window closed
	f.clock.Set(r.Window.Start.Add(30 * time.Minute))
	second, err := f.engine.CheckIn(f.ctx, student, r.ID, "")

	// THEN: Same outcome, no second event or audit entry
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCheckedIn, second.Status)
	assert.Equal(t, first.CheckIn.At, second.CheckIn.At)
	assert.Equal(t, []generic.EventType{generic.EventCreated, generic.EventCheckedIn}, f.events.Types())

	audit, err := f.mem.QueryAudit(f.ctx, generic.AuditFilter{
		ReservationID: r.ID, Actions: []generic.AuditAction{generic.AuditCheckedIn},
	})
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestCheckIn_PendingIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, student, "room-1", window(time.Hour, time.Hour))
	f.clock.Set(r.Window.Start)

	_, err := f.engine.CheckIn(f.ctx, student, r.ID, "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestCheckIn_OnlyOwnerOrAdmin(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, student, "seat-1", window(time.Hour, time.Hour))
	f.clock.Set(r.Window.Start)

	_, err := f.engine.CheckIn(f.ctx, student2, r.ID, "")
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	_, err = f.engine.CheckIn(f.ctx, admin, r.ID, "")
	assert.NoError(t, err)
}

func TestCheckInByQR_Seat(t *testing.T) {
	// GIVEN: A seat booking and the seat's printed token
	f := newFixture(t)
	r := f.book(t, student, "seat-1", window(time.Hour, time.Hour))
	f.clock.Set(r.Window.Start.Add(-5 * time.Minute))

	// WHEN: The booker scans it
	details, err := f.engine.CheckInByQR(f.ctx, student, "qr-seat-1")

	// THEN: Seat details come back and the booking is checked in by QR
	require.NoError(t, err)
	seat, ok := details.(generic.SeatBookingDetails)
	require.True(t, ok, "expected seat details, got %T", details)
	assert.Equal(t, "Seat 1", seat.SeatName)
	assert.Equal(t, r.ID, seat.Booking().ID)
	assert.Equal(t, generic.CheckInQR, seat.Booking().CheckIn.Method)
}

func TestCheckInByQR_NoOpenReservation(t *testing.T) {
	f := newFixture(t)
	f.book(t, student, "seat-1", window(time.Hour, time.Hour))

	// Someone else's booking is not theirs to check into
	f.clock.Set(base.Add(time.Hour))
	_, err := f.engine.CheckInByQR(f.ctx, student2, "qr-seat-1")
	assert.True(t, generic.IsNotFound(err))

	_, err = f.engine.CheckInByQR(f.ctx, student, "qr-unknown")
	assert.True(t, generic.IsNotFound(err))
}

func TestCheckInByQR_RoomParticipant(t *testing.T) {
	// GIVEN: A faculty room booking with two invitees
	f := newFixture(t)
	r, err := f.engine.CreateReservation(f.ctx, faculty, generic.CreateRequest{
		ResourceID:   "room-1",
		Window:       window(time.Hour, time.Hour),
		Participants: []generic.UserID{"p-1", "p-2"},
	})
	require.NoError(t, err)
	f.clock.Set(r.Window.Start)

	// WHEN: An invitee scans the room token
	details, err := f.engine.CheckInByQR(f.ctx, generic.Actor{ID: "p-1", Role: generic.RoleStudent}, "qr-room-1")

	// THEN: Only the participant is checked in; the reservation stays CONFIRMED
	require.NoError(t, err)
	room, ok := details.(generic.RoomBookingDetails)
	require.True(t, ok)
	assert.Equal(t, 4, room.Capacity)
	assert.Equal(t, 2, room.Invited)
	assert.Equal(t, 1, room.Attendees)
	assert.Equal(t, generic.StatusConfirmed, room.Booking().Status)

	// AND: The organizer's scan moves it to CHECKED_IN
	details, err = f.engine.CheckInByQR(f.ctx, faculty, "qr-room-1")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCheckedIn, details.Booking().Status)
	assert.Equal(t, 2, details.(generic.RoomBookingDetails).Attendees)
}

func TestCheckout_EarlyReleasesRemainder(t *testing.T) {
	// GIVEN: A checked-in 2h booking and a waiting user
	f := newFixture(t)
	r := f.book(t, student, "seat-1", window(time.Hour, 2*time.Hour))
	entry, err := f.engine.JoinWaitlist(f.ctx, student2, generic.JoinWaitlistRequest{
		ResourceID: "seat-1", Window: window(2*time.Hour, time.Hour),
	})
	require.NoError(t, err)
	f.clock.Set(r.Window.Start)
	_, err = f.engine.CheckIn(f.ctx, student, r.ID, "")
	require.NoError(t, err)

	// WHEN: The booker leaves after 30 minutes
	f.clock.Set(r.Window.Start.Add(30 * time.Minute))
	done, err := f.engine.Checkout(f.ctx, student, r.ID)

	// THEN: COMPLETED early and the rest of the window is offered
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCompleted, done.Status)
	assert.True(t, done.Completion.Early)

	got, err := f.mem.GetWaitlistEntry(f.ctx, entry.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.OfferExpiresAt)
}

// =============================================================================
// PARTICIPANTS
// =============================================================================

func TestParticipants_CapacityIncludesOrganizer(t *testing.T) {
	// GIVEN: A 4-person room booked by faculty with 3 invitees
	f := newFixture(t)
	r, err := f.engine.CreateReservation(f.ctx, faculty, generic.CreateRequest{
		ResourceID:   "room-1",
		Window:       window(time.Hour, time.Hour),
		Participants: []generic.UserID{"p-1", "p-2", "p-3"},
	})
	require.NoError(t, err)
	assert.Len(t, r.Participants, 3)

	// WHEN: A fourth invitee is added
	_, err = f.engine.InviteParticipants(f.ctx, faculty, r.ID, []generic.UserID{"p-4"})

	// THEN: The room would hold 5 people
	var limit *generic.LimitExceededError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, generic.LimitParticipants, limit.Limit)
	assert.Equal(t, "4", limit.Max.String())
}

func TestParticipants_DeclineAndReinvite(t *testing.T) {
	f := newFixture(t)
	r, err := f.engine.CreateReservation(f.ctx, faculty, generic.CreateRequest{
		ResourceID:   "room-1",
		Window:       window(time.Hour, time.Hour),
		Participants: []generic.UserID{"p-1", "p-2", "p-3"},
	})
	require.NoError(t, err)
	p1 := generic.Actor{ID: "p-1", Role: generic.RoleStudent}

	_, err = f.engine.RespondInvitation(f.ctx, p1, r.ID, false)
	require.NoError(t, err)

	// A declined invitee frees a seat and cannot accept on their own
	_, err = f.engine.RespondInvitation(f.ctx, p1, r.ID, true)
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.engine.InviteParticipants(f.ctx, faculty, r.ID, []generic.UserID{"p-4"})
	require.NoError(t, err)

	// Re-inviting p-1 would now exceed capacity
	_, err = f.engine.InviteParticipants(f.ctx, faculty, r.ID, []generic.UserID{"p-1"})
	assert.ErrorIs(t, err, generic.ErrLimitExceeded)
}

func TestParticipants_SeatsTakeNone(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateReservation(f.ctx, student, generic.CreateRequest{
		ResourceID:   "seat-1",
		Window:       window(time.Hour, time.Hour),
		Participants: []generic.UserID{"p-1"},
	})
	assert.ErrorIs(t, err, generic.ErrValidation)
}
