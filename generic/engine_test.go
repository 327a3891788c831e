package generic_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/generic"
	"github.com/warp/reservation-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// Monday 2025-03-10 08:00 UTC.
var base = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

var (
	student   = generic.Actor{ID: "stu-1", Role: generic.RoleStudent}
	student2  = generic.Actor{ID: "stu-2", Role: generic.RoleStudent}
	faculty   = generic.Actor{ID: "fac-1", Role: generic.RoleFaculty}
	librarian = generic.Actor{ID: "lib-1", Role: generic.RoleLibrarian}
	labMgr    = generic.Actor{ID: "lm-1", Role: generic.RoleLabManager}
	hod       = generic.Actor{ID: "hod-1", Role: generic.RoleHeadOfDepartment}
	admin     = generic.Actor{ID: "admin-1", Role: generic.RoleAdmin}
	visitor   = generic.Actor{ID: "stu-north", Role: generic.RoleStudent}
)

type fixture struct {
	ctx    context.Context
	mem    *store.Memory
	clock  *generic.ManualClock
	events *generic.RecordingEmitter
	engine *generic.Engine
}

type tokenMap map[string]generic.ResourceID

func (m tokenMap) Resolve(_ context.Context, token string) (generic.ResourceKind, generic.ResourceID, error) {
	id, ok := m[token]
	if !ok {
		return "", "", &generic.NotFoundError{Kind: "token", ID: token}
	}
	switch id {
	case "seat-1", "seat-2":
		return generic.KindSeat, id, nil
	case "room-1":
		return generic.KindRoom, id, nil
	}
	return generic.KindEquipment, id, nil
}

func seatPolicy() generic.ResourcePolicy {
	return generic.ResourcePolicy{
		Name:                   "seat",
		Exclusivity:            generic.SingleOccupancy,
		MaxDuration:            4 * time.Hour,
		CheckInEarly:           10 * time.Minute,
		CheckInLate:            10 * time.Minute,
		QRCheckIn:              true,
		ExtendableStates:       []generic.Status{generic.StatusCheckedIn},
		MaxExtensionPerRequest: generic.Hours(2),
		DailyExtensionCap:      generic.Hours(3),
		ReminderLead:           30 * time.Minute,
		OfferTTL:               15 * time.Minute,
		Timezone:               "UTC",
	}
}

func roomPolicy() generic.ResourcePolicy {
	p := seatPolicy()
	p.Name = "room"
	p.RequiresApproval = true
	p.ApprovalExemptRoles = []generic.Role{generic.RoleFaculty, generic.RoleStaff}
	p.ApproverRoles = []generic.Role{generic.RoleLibrarian}
	p.AllowsParticipants = true
	p.LocationScoped = true
	return p
}

func equipmentPolicy() generic.ResourcePolicy {
	p := seatPolicy()
	p.Name = "equipment"
	p.Exclusivity = generic.QuantityPool
	p.MaxDuration = 0
	p.QRCheckIn = false
	p.RequiresApproval = true
	p.ApproverRoles = []generic.Role{generic.RoleLabManager}
	p.Escalatable = true
	p.EscalationRoles = []generic.Role{generic.RoleHeadOfDepartment}
	p.StaleAfter = 24 * time.Hour
	return p
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	for _, u := range []generic.User{
		{ID: student.ID, Role: generic.RoleStudent, Location: "main"},
		{ID: student2.ID, Role: generic.RoleStudent, Location: "main"},
		{ID: faculty.ID, Role: generic.RoleFaculty, Location: "main"},
		{ID: librarian.ID, Role: generic.RoleLibrarian, Location: "main"},
		{ID: labMgr.ID, Role: generic.RoleLabManager, Location: "main"},
		{ID: hod.ID, Role: generic.RoleHeadOfDepartment, Location: "main"},
		{ID: admin.ID, Role: generic.RoleAdmin, Location: "main"},
		{ID: visitor.ID, Role: generic.RoleStudent, Location: "north"},
		{ID: "p-1", Role: generic.RoleStudent}, {ID: "p-2", Role: generic.RoleStudent},
		{ID: "p-3", Role: generic.RoleStudent}, {ID: "p-4", Role: generic.RoleStudent},
	} {
		mem.AddUser(u)
	}
	mem.AddResource(generic.Resource{ID: "seat-1", Kind: generic.KindSeat, Name: "Seat 1", Location: "main", Units: 1, Policy: seatPolicy()})
	mem.AddResource(generic.Resource{ID: "seat-2", Kind: generic.KindSeat, Name: "Seat 2", Location: "main", Units: 1, Policy: seatPolicy()})
	mem.AddResource(generic.Resource{ID: "room-1", Kind: generic.KindRoom, Name: "Study Room A", Location: "main", Capacity: 4, Units: 1, Policy: roomPolicy()})
	mem.AddResource(generic.Resource{ID: "projectors", Kind: generic.KindEquipment, Name: "Projector pool", Location: "main", Units: 2, Policy: equipmentPolicy()})

	clock := generic.NewManualClock(base)
	events := &generic.RecordingEmitter{}
	return &fixture{
		ctx:    context.Background(),
		mem:    mem,
		clock:  clock,
		events: events,
		engine: &generic.Engine{
			Store:     mem,
			Users:     mem,
			Resources: mem,
			Closures:  mem,
			Tokens:    tokenMap{"qr-seat-1": "seat-1", "qr-room-1": "room-1"},
			Events:    events,
			Clock:     clock,
		},
	}
}

// window returns [base+from, base+from+d).
func window(from, d time.Duration) generic.TimeWindow {
	return generic.TimeWindow{Start: base.Add(from), End: base.Add(from + d)}
}

func (f *fixture) book(t *testing.T, actor generic.Actor, resource generic.ResourceID, w generic.TimeWindow) *generic.Reservation {
	t.Helper()
	r, err := f.engine.CreateReservation(f.ctx, actor, generic.CreateRequest{ResourceID: resource, Window: w})
	require.NoError(t, err)
	return r
}

func (f *fixture) get(t *testing.T, id generic.ReservationID) *generic.Reservation {
	t.Helper()
	r, err := f.mem.GetReservation(f.ctx, id)
	require.NoError(t, err)
	return r
}

// =============================================================================
// CREATION
// =============================================================================

func TestCreate_NoApproval_Confirmed(t *testing.T) {
	// GIVEN: A seat with no approval requirement
	// WHEN: A student books it
	// THEN: The reservation is CONFIRMED without a decision and an event fires
	f := newFixture(t)

	r := f.book(t, student, "seat-1", window(time.Hour, time.Hour))

	assert.Equal(t, generic.StatusConfirmed, r.Status)
	assert.False(t, r.RequiresApproval)
	assert.Nil(t, r.Decision)
	assert.Equal(t, generic.KindSeat, r.ResourceKind)
	assert.Equal(t, []generic.EventType{generic.EventCreated}, f.events.Types())

	audit, err := f.mem.QueryAudit(f.ctx, generic.AuditFilter{ReservationID: r.ID})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, generic.AuditCreated, audit[0].Action)
}

func TestCreate_ApprovalRequired_Pending(t *testing.T) {
	// GIVEN: A room that requires approval for students but not faculty
	f := newFixture(t)

	// WHEN: A student and a faculty member book different windows
	pending := f.book(t, student, "room-1", window(time.Hour, time.Hour))
	confirmed := f.book(t, faculty, "room-1", window(3*time.Hour, time.Hour))

	// THEN: Only the student's booking waits for approval
	assert.Equal(t, generic.StatusPending, pending.Status)
	assert.True(t, pending.RequiresApproval)
	assert.Equal(t, generic.StatusConfirmed, confirmed.Status)
	assert.False(t, confirmed.RequiresApproval)
}

func TestCreate_CrossLocationRequesterNeedsApproval(t *testing.T) {
	// GIVEN: A location-scoped room on the main campus
	// WHEN: A student from the north campus books it
	// THEN: Approval is required even though students normally would
	//       need it anyway; faculty from elsewhere would need it too
	f := newFixture(t)
	f.mem.AddUser(generic.User{ID: "fac-north", Role: generic.RoleFaculty, Location: "north"})

	r := f.book(t, visitor, "room-1", window(time.Hour, time.Hour))
	assert.Equal(t, generic.StatusPending, r.Status)

	fr := f.book(t, generic.Actor{ID: "fac-north", Role: generic.RoleFaculty}, "room-1", window(3*time.Hour, time.Hour))
	assert.Equal(t, generic.StatusPending, fr.Status)
}

func TestCreate_InvalidWindows(t *testing.T) {
	f := newFixture(t)
	cases := map[string]generic.TimeWindow{
		"zero length": window(time.Hour, 0),
		"inverted":    {Start: base.Add(2 * time.Hour), End: base.Add(time.Hour)},
		"past":        window(-2*time.Hour, time.Hour),
		"too long":    window(time.Hour, 5*time.Hour),
	}
	for name, w := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.CreateReservation(f.ctx, student, generic.CreateRequest{ResourceID: "seat-1", Window: w})
			require.Error(t, err)
			assert.ErrorIs(t, err, generic.ErrValidation)
			assert.NotErrorIs(t, err, generic.ErrConflict)
		})
	}
}

func TestCreate_UnknownResource(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateReservation(f.ctx, student, generic.CreateRequest{ResourceID: "nope", Window: window(time.Hour, time.Hour)})
	assert.True(t, generic.IsNotFound(err))
}

func TestCreate_OnBehalfOf_AdminOnly(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateReservation(f.ctx, student, generic.CreateRequest{
		ResourceID: "seat-1", Window: window(time.Hour, time.Hour), OnBehalfOf: student2.ID,
	})
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	r, err := f.engine.CreateReservation(f.ctx, admin, generic.CreateRequest{
		ResourceID: "seat-1", Window: window(time.Hour, time.Hour), OnBehalfOf: student2.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, student2.ID, r.RequesterID)
}

// =============================================================================
// CONFLICTS
// =============================================================================

func TestNoOverlap_SingleOccupancy(t *testing.T) {
	// GIVEN: seat-1 booked 09:00-11:00
	f := newFixture(t)
	f.book(t, student, "seat-1", window(time.Hour, 2*time.Hour))

	// WHEN: Another student asks for 10:00-12:00
	_, err := f.engine.CreateReservation(f.ctx, student2, generic.CreateRequest{
		ResourceID: "seat-1", Window: window(2*time.Hour, 2*time.Hour),
	})

	// THEN: Conflict, with 11:00-12:00 suggested as free
	var conflict *generic.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, generic.PartiallyAvailable, conflict.Availability)
	require.Len(t, conflict.Free, 1)
	assert.Equal(t, window(3*time.Hour, time.Hour), conflict.Free[0])

	// AND: Back-to-back 11:00-12:00 is fine
	f.book(t, student2, "seat-1", window(3*time.Hour, time.Hour))
}

func TestQuantityPool_NeverExceedsUnits(t *testing.T) {
	// GIVEN: A pool of 2 projectors
	f := newFixture(t)
	f.book(t, student, "projectors", window(time.Hour, 2*time.Hour))
	f.book(t, student2, "projectors", window(2*time.Hour, 2*time.Hour))

	// WHEN: A third request overlaps the instant where both are out
	_, err := f.engine.CreateReservation(f.ctx, faculty, generic.CreateRequest{
		ResourceID: "projectors", Window: window(2*time.Hour, 30*time.Minute),
	})

	// THEN: It is refused as fully booked
	var conflict *generic.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, generic.FullyBooked, conflict.Availability)
	assert.Equal(t, 2, conflict.PeakLoad)

	// AND: A window touching only one of them is granted
	f.book(t, faculty, "projectors", window(0, time.Hour))
}

func TestCancellation_FreesSlot(t *testing.T) {
	// GIVEN: A confirmed booking
	f := newFixture(t)
	r := f.book(t, student, "seat-1", window(time.Hour, time.Hour))

	// WHEN: The owner cancels it
	cancelled, err := f.engine.CancelReservation(f.ctx, student, r.ID, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Cancellation)
	assert.Equal(t, "plans changed", cancelled.Cancellation.Reason)

	// THEN: The same window is immediately bookable
	f.book(t, student2, "seat-1", window(time.Hour, time.Hour))
}

func TestCancellation_OwnerOrAdminOnly(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, student, "seat-1", window(time.Hour, time.Hour))

	_, err := f.engine.CancelReservation(f.ctx, student2, r.ID, "")
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	_, err = f.engine.CancelReservation(f.ctx, admin, r.ID, "maintenance")
	assert.NoError(t, err)

	// Cancelling again is an invalid transition, not silently ignored
	_, err = f.engine.CancelReservation(f.ctx, admin, r.ID, "")
	var te *generic.TransitionError
	assert.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestConcurrentRace_ExactlyOneWins(t *testing.T) {
	// GIVEN: 20 users racing for the same seat and window
	f := newFixture(t)
	const n = 20
	for i := 0; i < n; i++ {
		f.mem.AddUser(generic.User{ID: generic.UserID("racer-" + string(rune('a'+i))), Role: generic.RoleStudent})
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := generic.Actor{ID: generic.UserID("racer-" + string(rune('a'+i))), Role: generic.RoleStudent}
			_, errs[i] = f.engine.CreateReservation(f.ctx, actor, generic.CreateRequest{
				ResourceID: "seat-1", Window: window(time.Hour, time.Hour),
			})
		}(i)
	}
	wg.Wait()

	// THEN: One success, every other caller sees a conflict
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, generic.ErrConflict)
	}
	assert.Equal(t, 1, wins)

	live, err := f.mem.ListReservations(f.ctx, generic.ReservationFilter{ResourceID: "seat-1", Statuses: generic.LiveStatuses})
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

// =============================================================================
// LIMITS
// =============================================================================

func TestBookingLimits_PerDay(t *testing.T) {
	// GIVEN: A seat policy allowing 2 bookings per day
	f := newFixture(t)
	p := seatPolicy()
	p.MaxPerDay = 2
	f.mem.AddResource(generic.Resource{ID: "seat-1", Kind: generic.KindSeat, Location: "main", Units: 1, Policy: p})

	f.book(t, student, "seat-1", window(time.Hour, time.Hour))
	f.book(t, student, "seat-2", window(3*time.Hour, time.Hour))

	// WHEN: A third seat booking on the same day
	_, err := f.engine.CreateReservation(f.ctx, student, generic.CreateRequest{
		ResourceID: "seat-1", Window: window(5*time.Hour, time.Hour),
	})

	// THEN: The daily limit is reported with used/max
	var limit *generic.LimitExceededError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, generic.LimitDailyBookings, limit.Limit)
	assert.Equal(t, "2", limit.Used.String())
	assert.Equal(t, "2", limit.Max.String())

	// AND: The next day is fine; admins are exempt
	f.book(t, student, "seat-1", window(25*time.Hour, time.Hour))
	f.book(t, admin, "seat-1", window(7*time.Hour, time.Hour))
}

func TestErrorHelpers(t *testing.T) {
	f := newFixture(t)
	f.book(t, student, "seat-1", window(time.Hour, time.Hour))
	_, err := f.engine.CreateReservation(f.ctx, student2, generic.CreateRequest{ResourceID: "seat-1", Window: window(time.Hour, time.Hour)})

	assert.True(t, generic.IsClientError(err))
	assert.True(t, generic.IsRetryable(err))
	assert.False(t, generic.IsClientError(errors.New("disk on fire")))
}
