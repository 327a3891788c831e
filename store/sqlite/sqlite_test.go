package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/generic"
	"github.com/warp/reservation-engine/store/sqlite"
)

// Monday 2025-03-10 09:00 UTC.
var start = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func window(offset, d time.Duration) generic.TimeWindow {
	return generic.TimeWindow{Start: start.Add(offset), End: start.Add(offset + d)}
}

func reservation(id string, w generic.TimeWindow, status generic.Status) *generic.Reservation {
	return &generic.Reservation{
		ID:           generic.ReservationID(id),
		ResourceID:   "seat-1",
		ResourceKind: generic.KindSeat,
		RequesterID:  "u1",
		Window:       w,
		Status:       status,
		CreatedAt:    start.Add(-time.Hour),
		UpdatedAt:    start.Add(-time.Hour),
	}
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func TestReservations_RoundTripWithPayloads(t *testing.T) {
	// GIVEN: A decided room booking from a series, with participants
	ctx := context.Background()
	s := newStore(t)
	series := generic.SeriesID("series-1")
	responded := start.Add(-30 * time.Minute)
	r := reservation("r1", window(0, time.Hour), generic.StatusConfirmed)
	r.ResourceID, r.ResourceKind = "room-1", generic.KindRoom
	r.Purpose = "thesis review"
	r.RequiresApproval = true
	r.SeriesID = &series
	r.Decision = &generic.Decision{ApproverID: "lib-1", Approved: true, At: start.Add(-45 * time.Minute), Reason: "ok"}
	r.Participants = []generic.Participant{
		{UserID: "p-1", Status: generic.InvitationAccepted, InvitedAt: start.Add(-time.Hour), RespondedAt: &responded},
		{UserID: "p-2", Status: generic.InvitationPending, InvitedAt: start.Add(-time.Hour)},
	}

	// WHEN: It is stored and loaded
	require.NoError(t, s.CreateReservation(ctx, r))
	got, err := s.GetReservation(ctx, "r1")

	// THEN: Every field survives
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestReservations_UpdateAndErrors(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	r := reservation("r1", window(0, time.Hour), generic.StatusConfirmed)
	require.NoError(t, s.CreateReservation(ctx, r))

	// Duplicate ids are rejected
	err := s.CreateReservation(ctx, r)
	assert.ErrorIs(t, err, generic.ErrValidation)

	// Status payloads are written by update
	noShow := start.Add(11 * time.Minute)
	r.Status = generic.StatusNoShow
	r.NoShowAt = &noShow
	r.UpdatedAt = noShow
	require.NoError(t, s.UpdateReservation(ctx, r))
	got, err := s.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusNoShow, got.Status)
	require.NotNil(t, got.NoShowAt)
	assert.Equal(t, noShow, *got.NoShowAt)

	// Unknown ids are not found
	_, err = s.GetReservation(ctx, "nope")
	assert.True(t, generic.IsNotFound(err))
	err = s.UpdateReservation(ctx, reservation("nope", window(0, time.Hour), generic.StatusConfirmed))
	assert.True(t, generic.IsNotFound(err))
}

func TestReservations_OverlapFilter(t *testing.T) {
	// GIVEN: Back-to-back bookings and a cancelled one in the middle
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CreateReservation(ctx, reservation("before", window(0, time.Hour), generic.StatusConfirmed)))
	require.NoError(t, s.CreateReservation(ctx, reservation("after", window(2*time.Hour, time.Hour), generic.StatusCheckedIn)))
	require.NoError(t, s.CreateReservation(ctx, reservation("gone", window(time.Hour, time.Hour), generic.StatusCancelled)))
	require.NoError(t, s.CreateReservation(ctx, reservation("inside", window(90*time.Minute, 15*time.Minute), generic.StatusPending)))

	// WHEN: Listing live bookings overlapping [1h, 2h)
	w := window(time.Hour, time.Hour)
	live, err := s.ListReservations(ctx, generic.ReservationFilter{
		ResourceID:  "seat-1",
		Statuses:    generic.LiveStatuses,
		Overlapping: &w,
	})

	// THEN: Touching windows are not overlaps
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, generic.ReservationID("inside"), live[0].ID)

	// AND: An unfiltered list is ordered by start
	all, err := s.ListReservations(ctx, generic.ReservationFilter{})
	require.NoError(t, err)
	ids := make([]generic.ReservationID, len(all))
	for i, r := range all {
		ids[i] = r.ID
	}
	assert.Equal(t, []generic.ReservationID{"before", "gone", "inside", "after"}, ids)
}

func TestWithTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CreateReservation(ctx, reservation("a", window(0, time.Hour), generic.StatusConfirmed)))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx generic.Store) error {
		r, err := tx.GetReservation(ctx, "a")
		require.NoError(t, err)
		r.Status = generic.StatusCancelled
		require.NoError(t, tx.UpdateReservation(ctx, r))
		require.NoError(t, tx.CreateReservation(ctx, reservation("b", window(time.Hour, time.Hour), generic.StatusConfirmed)))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	got, err := s.GetReservation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusConfirmed, got.Status)
	_, err = s.GetReservation(ctx, "b")
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// SERIES / WAITLIST / LEDGER / AUDIT
// =============================================================================

func TestSeries_OpenEndedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	sr := &generic.Series{
		ID:         "s1",
		OwnerID:    "fac-1",
		ResourceID: "room-1",
		Rule: generic.RecurrenceRule{
			Frequency:  generic.FrequencyWeekly,
			DaysOfWeek: []time.Weekday{time.Tuesday, time.Thursday},
			StartDate:  generic.DateOf(start),
		},
		StartTime: 10 * time.Hour,
		Duration:  90 * time.Minute,
		Timezone:  "UTC",
		Active:    true,
		CreatedAt: start,
	}
	require.NoError(t, s.CreateSeries(ctx, sr))

	watermark := generic.DateOf(start).AddDays(13)
	sr.LastGenerated = &watermark
	require.NoError(t, s.UpdateSeries(ctx, sr))

	got, err := s.GetSeries(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sr, got)
	assert.True(t, got.Rule.EndDate.IsZero())

	cancelled := start.Add(time.Hour)
	sr.Active = false
	sr.CancelledAt = &cancelled
	require.NoError(t, s.UpdateSeries(ctx, sr))
	active, err := s.ListSeries(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestWaitlist_PriorityThenArrival(t *testing.T) {
	// GIVEN: A student who queued first, then faculty
	ctx := context.Background()
	s := newStore(t)
	w := window(time.Hour, time.Hour)
	entries := []*generic.WaitlistEntry{
		{ID: "w-student", UserID: "stu-1", ResourceID: "seat-1", Window: w, Priority: 1, CreatedAt: start},
		{ID: "w-faculty", UserID: "fac-1", ResourceID: "seat-1", Window: w, Priority: 2, CreatedAt: start.Add(time.Minute)},
		{ID: "w-late", UserID: "stu-2", ResourceID: "seat-1", Window: w, Priority: 1, CreatedAt: start.Add(2 * time.Minute)},
		{ID: "w-other", UserID: "stu-3", ResourceID: "seat-2", Window: w, Priority: 5, CreatedAt: start},
	}
	for _, e := range entries {
		require.NoError(t, s.CreateWaitlistEntry(ctx, e))
	}

	// WHEN: The queue for seat-1 is listed
	queue, err := s.ListWaitlist(ctx, "seat-1")

	// THEN: Faculty first, then students by arrival
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, generic.WaitlistEntryID("w-faculty"), queue[0].ID)
	assert.Equal(t, generic.WaitlistEntryID("w-student"), queue[1].ID)
	assert.Equal(t, generic.WaitlistEntryID("w-late"), queue[2].ID)

	// AND: Offers are persisted and entries can be removed
	offered := start.Add(10 * time.Minute)
	until := offered.Add(15 * time.Minute)
	queue[0].OfferedAt, queue[0].OfferExpiresAt = &offered, &until
	require.NoError(t, s.UpdateWaitlistEntry(ctx, queue[0]))
	got, err := s.GetWaitlistEntry(ctx, "w-faculty")
	require.NoError(t, err)
	assert.True(t, got.HasOffer(offered))

	require.NoError(t, s.DeleteWaitlistEntry(ctx, "w-faculty"))
	assert.True(t, generic.IsNotFound(s.DeleteWaitlistEntry(ctx, "w-faculty")))
	everyone, err := s.ListWaitlist(ctx, "")
	require.NoError(t, err)
	assert.Len(t, everyone, 3)
}

func TestExtensions_DailyWindow(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	grants := []generic.ExtensionRecord{
		{ID: "x1", ReservationID: "r1", RequesterID: "u1", Hours: generic.Hours(1.5), GrantedAt: start},
		{ID: "x2", ReservationID: "r2", RequesterID: "u1", Hours: generic.NewAmount(60, generic.UnitMinutes), GrantedAt: start.Add(5 * time.Hour)},
		{ID: "x3", ReservationID: "r3", RequesterID: "u1", Hours: generic.Hours(2), GrantedAt: start.Add(24 * time.Hour)},
		{ID: "x4", ReservationID: "r4", RequesterID: "u2", Hours: generic.Hours(2), GrantedAt: start},
	}
	for _, g := range grants {
		require.NoError(t, s.AppendExtension(ctx, g))
	}

	used, err := generic.ExtensionHoursUsed(ctx, s, "u1", start, time.UTC)

	require.NoError(t, err)
	assert.True(t, used.Equal(generic.Hours(2.5)), "got %s", used)
}

func TestAudit_Query(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AppendAudit(ctx, generic.AuditEntry{
		ID: "a1", At: start, ActorID: "stu-1", Action: generic.AuditCreated, ReservationID: "r1", ResourceID: "seat-1",
		Payload: map[string]any{"status": "CONFIRMED"},
	}))
	require.NoError(t, s.AppendAudit(ctx, generic.AuditEntry{
		ID: "a2", At: start.Add(time.Minute), ActorID: "lib-1", Action: generic.AuditApproved, ReservationID: "r1",
	}))
	require.NoError(t, s.AppendAudit(ctx, generic.AuditEntry{
		ID: "a3", At: start.Add(2 * time.Minute), ActorID: "stu-1", Action: generic.AuditCreated, ReservationID: "r2",
	}))

	history, err := s.QueryAudit(ctx, generic.AuditFilter{ReservationID: "r1"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "CONFIRMED", history[0].Payload["status"])
	assert.Equal(t, generic.AuditApproved, history[1].Action)

	from := start.Add(30 * time.Second)
	created, err := s.QueryAudit(ctx, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditCreated}, From: &from})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "a3", created[0].ID)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_ResourcePolicySurvives(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	policy := generic.DefaultPolicy()
	policy.Name = "projectors"
	policy.Exclusivity = generic.QuantityPool
	policy.RequiresApproval = true
	policy.ApproverRoles = []generic.Role{generic.RoleLabManager}
	policy.Escalatable = true
	policy.MaxPerWeek = 3
	require.NoError(t, s.PutResource(ctx, generic.Resource{
		ID: "proj", Kind: generic.KindEquipment, Name: "Projectors", Location: "eng", Units: 3, Policy: policy,
	}))

	got, err := s.GetResource(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 3, got.AvailableUnits())
	assert.Equal(t, policy.ApproverRoles, got.Policy.ApproverRoles)
	assert.True(t, got.Policy.Escalatable)
	assert.Equal(t, 3, got.Policy.MaxPerWeek)
	assert.True(t, got.Policy.DailyExtensionCap.Equal(policy.DailyExtensionCap))

	list, err := s.ListResources(ctx, generic.KindEquipment)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	none, err := s.ListResources(ctx, generic.KindSeat)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.GetResource(ctx, "missing")
	assert.True(t, generic.IsNotFound(err))
}

func TestCatalog_UsersAndClosures(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.PutUser(ctx, generic.User{ID: "u1", Name: "Ada", Role: generic.RoleStudent, Location: "main"}))
	require.NoError(t, s.PutUser(ctx, generic.User{ID: "u1", Name: "Ada", Role: generic.RoleFaculty, Location: "main"}))
	assert.ErrorIs(t, s.PutUser(ctx, generic.User{ID: "u2", Role: "janitor"}), generic.ErrValidation)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, generic.RoleFaculty, u.Role, "upsert replaces")

	day := generic.DateOf(start)
	require.NoError(t, s.PutClosure(ctx, generic.Closure{Location: "north", Date: day, Reason: "maintenance"}))
	require.NoError(t, s.PutClosure(ctx, generic.Closure{Date: day.AddDays(1), Reason: "holiday"}))

	closed, err := s.IsClosed(ctx, "north", day)
	require.NoError(t, err)
	assert.True(t, closed)
	closed, err = s.IsClosed(ctx, "main", day)
	require.NoError(t, err)
	assert.False(t, closed)
	closed, err = s.IsClosed(ctx, "main", day.AddDays(1))
	require.NoError(t, err)
	assert.True(t, closed, "campus-wide closure")

	closures, err := s.ListClosures(ctx)
	require.NoError(t, err)
	assert.Len(t, closures, 2)
}

func TestSweepRuns(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.RecordSweep(ctx, generic.SweepReport{At: start, NoShows: 2}))
	require.NoError(t, s.RecordSweep(ctx, generic.SweepReport{
		At: start.Add(time.Minute), Completions: 1, Skipped: 1,
		Failures: []generic.SweepFailure{{Kind: "no_show", ID: "r9", Err: errors.New("disk full")}},
	}))

	runs, err := s.ListSweepRuns(ctx, 10)

	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 1, runs[0].Processed(), "newest first")
	assert.Equal(t, []string{"no_show r9: disk full"}, runs[0].Failures)
	assert.Equal(t, 2, runs[1].NoShows)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestEngine_ConcurrentBookingsOnFile(t *testing.T) {
	// GIVEN: A file-backed store with one seat and ten students
	ctx := context.Background()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "campus.db"))
	require.NoError(t, err)
	defer s.Close()

	policy := generic.DefaultPolicy()
	policy.Name = "seat"
	require.NoError(t, s.PutResource(ctx, generic.Resource{ID: "seat-1", Kind: generic.KindSeat, Units: 1, Policy: policy}))
	for i := 0; i < 10; i++ {
		require.NoError(t, s.PutUser(ctx, generic.User{ID: generic.UserID(fmt.Sprintf("stu-%d", i)), Role: generic.RoleStudent}))
	}
	engine := &generic.Engine{
		Store: s, Users: s, Resources: s, Closures: s,
		Clock: generic.NewManualClock(start.Add(-24 * time.Hour)),
	}

	// WHEN: They all book the same hour at once
	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := generic.Actor{ID: generic.UserID(fmt.Sprintf("stu-%d", i)), Role: generic.RoleStudent}
			_, results[i] = engine.CreateReservation(ctx, actor, generic.CreateRequest{ResourceID: "seat-1", Window: window(0, time.Hour)})
		}(i)
	}
	wg.Wait()

	// THEN: Exactly one wins and the others see a conflict
	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, generic.ErrConflict)
	}
	assert.Equal(t, 1, wins)

	live, err := s.ListReservations(ctx, generic.ReservationFilter{ResourceID: "seat-1", Statuses: generic.LiveStatuses})
	require.NoError(t, err)
	assert.Len(t, live, 1)

	audit, err := s.QueryAudit(ctx, generic.AuditFilter{ReservationID: live[0].ID})
	require.NoError(t, err)
	assert.NotEmpty(t, audit)
}
