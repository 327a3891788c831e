package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/api"
	"github.com/warp/reservation-engine/config"
	"github.com/warp/reservation-engine/generic"
	"github.com/warp/reservation-engine/store/sqlite"
)

var monday = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

// execute runs the CLI against dbPath and returns stdout.
func execute(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = dbPath
	cfg.JWTSecret = "cli-secret"

	var out, errOut bytes.Buffer
	root := newRootCmd(cfg)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "campus.db")
}

func TestMigrate_UpToDate(t *testing.T) {
	db := tempDB(t)

	out, err := execute(t, db, "migrate")

	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")
}

func TestSeed_DemoThenList(t *testing.T) {
	// GIVEN: A fresh database
	db := tempDB(t)

	// WHEN: The demo campus is seeded twice
	out, err := execute(t, db, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 9 resources and 9 users")
	_, err = execute(t, db, "seed")
	require.NoError(t, err)

	// THEN: Listing by kind shows only that kind
	out, err = execute(t, db, "resources", "--kind", "equipment")
	require.NoError(t, err)
	assert.Contains(t, out, "EQ-PROJ")
	assert.Contains(t, out, "EQ-CAM")
	assert.NotContains(t, out, "S-101")
}

func TestSeed_CatalogFile(t *testing.T) {
	db := tempDB(t)
	file := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(file, []byte(`[
		{"id": "S-900", "kind": "SEAT", "name": "Annex seat 900", "location": "annex"},
		{"id": "R-901", "kind": "ROOM", "name": "Annex room 901", "location": "annex", "capacity": 4}
	]`), 0o644))

	out, err := execute(t, db, "seed", "--catalog", file, "--no-users")

	require.NoError(t, err)
	assert.Contains(t, out, "seeded 2 resources and 0 users")
	out, err = execute(t, db, "resources")
	require.NoError(t, err)
	assert.Contains(t, out, "S-900")
	assert.Contains(t, out, "R-901")
}

func TestSeed_BadCatalog(t *testing.T) {
	db := tempDB(t)
	file := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"id": "X-1", "kind": "SPACESHIP", "name": "nope"}]`), 0o644))

	_, err := execute(t, db, "seed", "--catalog", file)

	assert.Error(t, err)
}

func TestSweep_AtMarksNoShow(t *testing.T) {
	// GIVEN: A seeded campus with a confirmed seat booking at 09:00
	db := tempDB(t)
	_, err := execute(t, db, "seed")
	require.NoError(t, err)

	store, err := sqlite.New(db)
	require.NoError(t, err)
	engine := &generic.Engine{Store: store, Users: store, Resources: store, Closures: store, Clock: generic.NewManualClock(monday)}
	_, err = engine.CreateReservation(context.Background(), generic.Actor{ID: "stu-ada", Role: generic.RoleStudent}, generic.CreateRequest{
		ResourceID: "S-101",
		Window:     generic.TimeWindow{Start: monday.Add(time.Hour), End: monday.Add(2 * time.Hour)},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// WHEN: A sweep runs as of 09:30, past the check-in window
	out, err := execute(t, db, "sweep", "--at", "2025-03-10T09:30:00Z")

	// THEN: The booking is reported as a no-show and the run is recorded
	require.NoError(t, err)
	assert.Contains(t, out, "processed 1")
	assert.Contains(t, out, "no-shows:          1")

	out, err = execute(t, db, "sweeps")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-03-10T09:30:00Z")
}

func TestSweep_InvalidAt(t *testing.T) {
	_, err := execute(t, tempDB(t), "sweep", "--at", "tomorrow-ish")

	assert.ErrorContains(t, err, "invalid time")
}

func TestGenerateSeries_Errors(t *testing.T) {
	db := tempDB(t)

	_, err := execute(t, db, "generate-series", "missing")
	assert.ErrorContains(t, err, "--up-to")

	_, err = execute(t, db, "generate-series", "missing", "--up-to", "2025-13-01")
	assert.ErrorContains(t, err, "YYYY-MM-DD")

	_, err = execute(t, db, "generate-series", "missing", "--up-to", "2025-04-01")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestToken_RoundTrip(t *testing.T) {
	out, err := execute(t, tempDB(t), "token", "--user", "lib-fay", "--role", "librarian", "--ttl", "1h")
	require.NoError(t, err)

	actor, err := api.ParseToken([]byte("cli-secret"), string(bytes.TrimSpace([]byte(out))))

	require.NoError(t, err)
	assert.Equal(t, generic.Actor{ID: "lib-fay", Role: generic.RoleLibrarian}, actor)
}

func TestToken_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing user", []string{"token", "--role", "student"}, "--user"},
		{"unknown role", []string{"token", "--user", "x", "--role", "dean"}, "invalid role"},
		{"system role", []string{"token", "--user", "x", "--role", "system"}, "invalid role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tempDB(t), tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestParseAt(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	got, err := parseAt("2025-03-10T09:30", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, time.March, 10, 8, 30, 0, 0, time.UTC)))

	got, err = parseAt("2025-03-10T09:30:00Z", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)))
}
