package campus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/campus"
	"github.com/warp/reservation-engine/generic"
	"github.com/warp/reservation-engine/generic/store"
)

func TestPresets_AreValidAndRegistered(t *testing.T) {
	for kind, p := range campus.Policies() {
		t.Run(string(kind), func(t *testing.T) {
			require.NoError(t, p.Validate())
			registered, ok := generic.KindDefaults(kind)
			require.True(t, ok)
			assert.Equal(t, p.Name, registered.Name)
			assert.True(t, registered.DailyExtensionCap.Equal(generic.Hours(campus.DailyExtensionHours)))
		})
	}
}

func TestPresets_Shape(t *testing.T) {
	student := generic.User{ID: "s", Role: generic.RoleStudent, Location: "main"}
	faculty := generic.User{ID: "f", Role: generic.RoleFaculty, Location: "main"}
	room := generic.Resource{ID: "r", Kind: generic.KindRoom, Location: "main"}
	away := generic.Resource{ID: "r2", Kind: generic.KindRoom, Location: "north"}

	rp := campus.RoomPolicy()
	assert.True(t, rp.RequiresApprovalFor(student, room))
	assert.False(t, rp.RequiresApprovalFor(faculty, room))
	assert.True(t, rp.RequiresApprovalFor(faculty, away), "other building")

	sp := campus.SeatPolicy()
	assert.False(t, sp.RequiresApprovalFor(student, generic.Resource{ID: "s", Kind: generic.KindSeat}))
	assert.True(t, sp.QRCheckIn)

	ep := campus.EquipmentPolicy()
	assert.Equal(t, generic.QuantityPool, ep.Exclusivity)
	assert.True(t, ep.IsExtendable(generic.StatusConfirmed))
	assert.True(t, ep.CanDecide(generic.Actor{ID: "h", Role: generic.RoleHeadOfDepartment}, true))
	assert.False(t, ep.CanDecide(generic.Actor{ID: "l", Role: generic.RoleLabManager}, true))
}

func TestDemoCatalog(t *testing.T) {
	resources, err := campus.DemoCatalog()
	require.NoError(t, err)

	byID := make(map[generic.ResourceID]generic.Resource)
	for _, r := range resources {
		byID[r.ID] = r
	}
	require.Len(t, byID, len(resources), "ids are unique")

	// Entries without a policy take the presets
	assert.Equal(t, campus.SeatPolicy().Name, byID["S-101"].Policy.Name)
	assert.Equal(t, 4*time.Hour, byID["S-101"].Policy.MaxDuration)

	// Overrides keep the rest of the preset
	north := byID["S-201"].Policy
	assert.Equal(t, 2*time.Hour, north.MaxDuration)
	assert.Equal(t, 1, north.MaxPerDay)
	assert.True(t, north.QRCheckIn)

	seminar := byID["R-310"].Policy
	assert.Contains(t, seminar.ApprovalExemptRoles, generic.RoleHeadOfDepartment)
	assert.Equal(t, []generic.Role{generic.RoleLibrarian}, seminar.ApproverRoles)

	assert.Equal(t, 4, byID["EQ-PROJ"].AvailableUnits())
	assert.Equal(t, 72*time.Hour, byID["EQ-CAM"].Policy.MaxDuration)
}

func TestDemoCampus_RoomApprovalFlow(t *testing.T) {
	// GIVEN: The demo campus in memory
	ctx := context.Background()
	mem := store.NewMemory()
	resources, err := campus.DemoCatalog()
	require.NoError(t, err)
	for _, r := range resources {
		mem.AddResource(r)
	}
	for _, u := range campus.DemoUsers() {
		mem.AddUser(u)
	}
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	engine := &generic.Engine{Store: mem, Users: mem, Resources: mem, Closures: mem, Clock: generic.NewManualClock(now)}
	w := generic.TimeWindow{Start: now.Add(2 * time.Hour), End: now.Add(4 * time.Hour)}

	// WHEN: A student requests the group study room
	ada := generic.Actor{ID: "stu-ada", Role: generic.RoleStudent}
	r, err := engine.CreateReservation(ctx, ada, generic.CreateRequest{ResourceID: "R-204", Window: w, Participants: []generic.UserID{"stu-ben"}})

	// THEN: It waits for the librarian
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPending, r.Status)

	_, err = engine.Decide(ctx, generic.Actor{ID: "lm-gus", Role: generic.RoleLabManager}, r.ID, true, "")
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	approved, err := engine.Decide(ctx, generic.Actor{ID: "lib-fay", Role: generic.RoleLibrarian}, r.ID, true, "enjoy")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusConfirmed, approved.Status)

	// AND: A second room booking that day hits the daily limit
	_, err = engine.CreateReservation(ctx, ada, generic.CreateRequest{
		ResourceID: "R-204",
		Window:     generic.TimeWindow{Start: now.Add(6 * time.Hour), End: now.Add(7 * time.Hour)},
	})
	assert.ErrorIs(t, err, generic.ErrLimitExceeded)
}
