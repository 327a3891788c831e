package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/generic"
	"github.com/warp/reservation-engine/generic/store"
)

func offeredTo(f *fixture) []generic.UserID {
	var out []generic.UserID
	for _, ev := range f.events.Events() {
		if ev.Type == generic.EventWaitlistOffered {
			out = append(out, ev.UserID)
		}
	}
	return out
}

func TestWaitlist_JoinRequiresTakenSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.JoinWaitlist(f.ctx, student2, generic.JoinWaitlistRequest{
		ResourceID: "seat-1", Window: window(time.Hour, time.Hour),
	})
	assert.ErrorIs(t, err, generic.ErrValidation)

	f.book(t, student, "seat-1", window(time.Hour, time.Hour))
	entry, err := f.engine.JoinWaitlist(f.ctx, student2, generic.JoinWaitlistRequest{
		ResourceID: "seat-1", Window: window(time.Hour, time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Priority)
	require.NotNil(t, entry.ExpiresAt)
	assert.Equal(t, base.Add(time.Hour), *entry.ExpiresAt)

	// Duplicate overlapping entries are refused
	_, err = f.engine.JoinWaitlist(f.ctx, student2, generic.JoinWaitlistRequest{
		ResourceID: "seat-1", Window: window(90*time.Minute, 30*time.Minute),
	})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// unreadable fails reservation listings inside transactions.
type unreadable struct {
	*store.Memory
}

func (s unreadable) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return s.Memory.WithTx(ctx, func(tx generic.Store) error {
		return fn(unreadableTx{Store: tx})
	})
}

type unreadableTx struct {
	generic.Store
}

func (unreadableTx) ListReservations(context.Context, generic.ReservationFilter) ([]*generic.Reservation, error) {
	return nil, errors.New("database is locked")
}

func TestWaitlist_JoinSurfacesStoreFailures(t *testing.T) {
	// GIVEN: A taken slot and a store that cannot list reservations
	f := newFixture(t)
	f.book(t, student, "seat-1", window(time.Hour, time.Hour))
	f.engine.Store = unreadable{Memory: f.mem}

	// WHEN: Joining the waitlist
	_, err := f.engine.JoinWaitlist(f.ctx, student2, generic.JoinWaitlistRequest{
		ResourceID: "seat-1", Window: window(time.Hour, time.Hour),
	})

	// THEN: The failure is returned, not mistaken for a conflict
	require.ErrorContains(t, err, "database is locked")
	assert.NotErrorIs(t, err, generic.ErrConflict)
	queued, err := f.mem.ListWaitlist(f.ctx, "seat-1")
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestWaitlist_PromotionOrderAndHandOff(t *testing.T) {
	// GIVEN: A booked seat with a student queued before a faculty member
	f := newFixture(t)
	w := window(time.Hour, time.Hour)
	r := f.book(t, student, "seat-1", w)
	stuEntry, err := f.engine.JoinWaitlist(f.ctx, student2, generic.JoinWaitlistRequest{ResourceID: "seat-1", Window: w})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	facEntry, err := f.engine.JoinWaitlist(f.ctx, faculty, generic.JoinWaitlistRequest{ResourceID: "seat-1", Window: w})
	require.NoError(t, err)
	assert.Equal(t, 2, facEntry.Priority)

	// WHEN: The booking is cancelled
	_, err = f.engine.CancelReservation(f.ctx, student, r.ID, "")
	require.NoError(t, err)

	// THEN: Faculty outranks the earlier student and holds the slot
	assert.Equal(t, []generic.UserID{faculty.ID}, offeredTo(f))
	_, err = f.engine.CreateReservation(f.ctx, student2, generic.CreateRequest{ResourceID: "seat-1", Window: w})
	assert.ErrorIs(t, err, generic.ErrConflict)

	// WHEN: Faculty declines
	require.NoError(t, f.engine.DeclineOffer(f.ctx, faculty, facEntry.ID))

	// THEN: The student gets the offer and can accept it
	assert.Equal(t, []generic.UserID{faculty.ID, student2.ID}, offeredTo(f))
	got, err := f.engine.AcceptOffer(f.ctx, student2, stuEntry.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusConfirmed, got.Status)
	assert.Equal(t, student2.ID, got.RequesterID)

	_, err = f.mem.GetWaitlistEntry(f.ctx, stuEntry.ID)
	assert.True(t, generic.IsNotFound(err))
}

func TestWaitlist_AdminPriorityOverride(t *testing.T) {
	f := newFixture(t)
	w := window(time.Hour, time.Hour)
	f.book(t, faculty, "seat-1", w)
	low := -5
	high := 10

	e1, err := f.engine.JoinWaitlist(f.ctx, student, generic.JoinWaitlistRequest{ResourceID: "seat-1", Window: w, Priority: &high})
	require.NoError(t, err)
	assert.Equal(t, 0, e1.Priority, "non-admin priority is ignored")

	e2, err := f.engine.JoinWaitlist(f.ctx, admin, generic.JoinWaitlistRequest{ResourceID: "seat-1", Window: w, Priority: &low})
	require.NoError(t, err)
	assert.Equal(t, -5, e2.Priority)

	queue, err := f.mem.ListWaitlist(f.ctx, "seat-1")
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, e1.ID, queue[0].ID)
}

func TestWaitlist_PoolOffersEachFreedUnitOnce(t *testing.T) {
	// GIVEN: Both projectors out and three people waiting
	f := newFixture(t)
	w := window(time.Hour, time.Hour)
	a := f.book(t, admin, "projectors", w)
	f.book(t, admin, "projectors", w)
	for _, actor := range []generic.Actor{student, student2, faculty} {
		_, err := f.engine.JoinWaitlist(f.ctx, actor, generic.JoinWaitlistRequest{ResourceID: "projectors", Window: w})
		require.NoError(t, err)
	}

	// WHEN: One unit frees up
	_, err := f.engine.CancelReservation(f.ctx, admin, a.ID, "")
	require.NoError(t, err)

	// THEN: Exactly one offer is made, to the highest priority
	assert.Equal(t, []generic.UserID{faculty.ID}, offeredTo(f))
}

func TestWaitlist_OfferLapsesViaSweep(t *testing.T) {
	// GIVEN: An offer to faculty with a student still waiting
	f := newFixture(t)
	w := window(2*time.Hour, time.Hour)
	r := f.book(t, student, "seat-1", w)
	_, err := f.engine.JoinWaitlist(f.ctx, student2, generic.JoinWaitlistRequest{ResourceID: "seat-1", Window: w})
	require.NoError(t, err)
	facEntry, err := f.engine.JoinWaitlist(f.ctx, faculty, generic.JoinWaitlistRequest{ResourceID: "seat-1", Window: w})
	require.NoError(t, err)
	_, err = f.engine.CancelReservation(f.ctx, student, r.ID, "")
	require.NoError(t, err)

	// WHEN: The 15 minute offer TTL passes and the sweep runs
	f.clock.Advance(16 * time.Minute)
	report, err := f.engine.Sweep(f.ctx)

	// THEN: The offer lapsed and moved on to the student
	require.NoError(t, err)
	assert.Equal(t, 1, report.LapsedOffers)
	assert.Empty(t, report.Failures)
	assert.Contains(t, f.events.Types(), generic.EventWaitlistOfferLapsed)
	assert.Equal(t, []generic.UserID{faculty.ID, student2.ID}, offeredTo(f))

	_, err = f.engine.AcceptOffer(f.ctx, faculty, facEntry.ID)
	assert.True(t, generic.IsNotFound(err))
}

func TestWaitlist_ExpiredEntriesPurged(t *testing.T) {
	f := newFixture(t)
	w := window(time.Hour, time.Hour)
	f.book(t, student, "seat-1", w)
	expires := base.Add(10 * time.Minute)
	entry, err := f.engine.JoinWaitlist(f.ctx, student2, generic.JoinWaitlistRequest{
		ResourceID: "seat-1", Window: w, ExpiresAt: &expires,
	})
	require.NoError(t, err)

	f.clock.Set(expires)
	report, err := f.engine.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExpiredEntries)

	_, err = f.mem.GetWaitlistEntry(f.ctx, entry.ID)
	assert.True(t, generic.IsNotFound(err))
}

func TestWaitlist_Leave(t *testing.T) {
	f := newFixture(t)
	w := window(time.Hour, time.Hour)
	f.book(t, student, "seat-1", w)
	entry, err := f.engine.JoinWaitlist(f.ctx, student2, generic.JoinWaitlistRequest{ResourceID: "seat-1", Window: w})
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.LeaveWaitlist(f.ctx, faculty, entry.ID), generic.ErrUnauthorized)
	require.NoError(t, f.engine.LeaveWaitlist(f.ctx, student2, entry.ID))
	assert.True(t, generic.IsNotFound(f.engine.LeaveWaitlist(f.ctx, student2, entry.ID)))
}
