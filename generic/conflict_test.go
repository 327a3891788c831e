package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/generic"
)

func held(id string, status generic.Status, w generic.TimeWindow) *generic.Reservation {
	return &generic.Reservation{ID: generic.ReservationID(id), ResourceID: "r", Status: status, Window: w}
}

func TestTimeWindow_Overlaps(t *testing.T) {
	a := window(time.Hour, time.Hour)
	tests := []struct {
		name string
		b    generic.TimeWindow
		want bool
	}{
		{"identical", a, true},
		{"touching after", window(2*time.Hour, time.Hour), false},
		{"touching before", window(0, time.Hour), false},
		{"inside", window(70*time.Minute, 10*time.Minute), true},
		{"straddles start", window(30*time.Minute, time.Hour), true},
		{"covers", window(0, 3*time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(a), "overlap is symmetric")
		})
	}
}

func TestTimeWindow_IntersectAndValidate(t *testing.T) {
	a := window(time.Hour, 2*time.Hour)
	part, ok := a.Intersect(window(2*time.Hour, 2*time.Hour))
	require.True(t, ok)
	assert.Equal(t, window(2*time.Hour, time.Hour), part)

	_, ok = a.Intersect(window(3*time.Hour, time.Hour))
	assert.False(t, ok)

	_, err := generic.NewTimeWindow(base, base)
	assert.ErrorIs(t, err, generic.ErrValidation)
	_, err = generic.NewTimeWindow(time.Time{}, base)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestDetectConflict_Single(t *testing.T) {
	res := generic.Resource{ID: "r", Kind: generic.KindSeat, Policy: generic.ResourcePolicy{Exclusivity: generic.SingleOccupancy}}
	existing := []*generic.Reservation{
		held("a", generic.StatusConfirmed, window(time.Hour, time.Hour)),
		held("b", generic.StatusCancelled, window(3*time.Hour, time.Hour)),
		held("c", generic.StatusPending, window(5*time.Hour, time.Hour)),
	}

	assert.Nil(t, generic.DetectConflict(res, window(2*time.Hour, time.Hour), existing, ""), "touching")
	assert.Nil(t, generic.DetectConflict(res, window(3*time.Hour, time.Hour), existing, ""), "cancelled ignored")
	assert.Nil(t, generic.DetectConflict(res, window(time.Hour, time.Hour), existing, "a"), "self excluded")

	c := generic.DetectConflict(res, window(5*time.Hour, time.Hour), existing, "")
	require.NotNil(t, c, "pending holds the slot")
	assert.Equal(t, generic.FullyBooked, c.Availability)
	assert.Equal(t, []generic.ReservationID{"c"}, c.Conflicting)
}

func TestDetectConflict_FreeSegments(t *testing.T) {
	res := generic.Resource{ID: "r", Policy: generic.ResourcePolicy{Exclusivity: generic.SingleOccupancy}}
	existing := []*generic.Reservation{
		held("a", generic.StatusConfirmed, window(time.Hour, time.Hour)),
		held("b", generic.StatusCheckedIn, window(3*time.Hour, time.Hour)),
	}

	c := generic.DetectConflict(res, window(0, 5*time.Hour), existing, "")

	require.NotNil(t, c)
	assert.Equal(t, generic.PartiallyAvailable, c.Availability)
	assert.Equal(t, []generic.TimeWindow{
		window(0, time.Hour),
		window(2*time.Hour, time.Hour),
		window(4*time.Hour, time.Hour),
	}, c.Free)
}

// Pools are judged by the peak number of bookings held at any one instant,
// not by how many bookings overlap the window in total. A plain overlap count
// would refuse the first case below (3 overlapping, 3 units) even though at
// most two units are ever in use; the per-instant capacity bound is the same.
func TestDetectConflict_PoolUsesPeakConcurrency(t *testing.T) {
	// Three bookings overlap the candidate but never more than two at once
	res := generic.Resource{ID: "r", Units: 3, Policy: generic.ResourcePolicy{Exclusivity: generic.QuantityPool}}
	existing := []*generic.Reservation{
		held("a", generic.StatusConfirmed, window(0, time.Hour)),
		held("b", generic.StatusConfirmed, window(30*time.Minute, time.Hour)),
		held("c", generic.StatusConfirmed, window(time.Hour, time.Hour)),
	}
	assert.Nil(t, generic.DetectConflict(res, window(0, 2*time.Hour), existing, ""))

	// With two units the middle stretch is full
	res.Units = 2
	c := generic.DetectConflict(res, window(0, 2*time.Hour), existing, "")
	require.NotNil(t, c)
	assert.Equal(t, 2, c.PeakLoad)
	assert.Equal(t, 2, c.Capacity)
	assert.Equal(t, generic.PartiallyAvailable, c.Availability)
	assert.Equal(t, []generic.TimeWindow{window(0, 30*time.Minute), window(90*time.Minute, 30*time.Minute)}, c.Free)
}

func TestEngineAvailability(t *testing.T) {
	f := newFixture(t)
	f.book(t, student, "seat-1", window(time.Hour, time.Hour))

	busy, err := f.engine.Conflicts(f.ctx, "seat-1", window(90*time.Minute, time.Hour), "")
	require.NoError(t, err)
	assert.True(t, busy)

	busy, err = f.engine.Conflicts(f.ctx, "seat-2", window(90*time.Minute, time.Hour), "")
	require.NoError(t, err)
	assert.False(t, busy)

	_, err = f.engine.Conflicts(f.ctx, "seat-1", window(time.Hour, 0), "")
	assert.ErrorIs(t, err, generic.ErrValidation)
}
