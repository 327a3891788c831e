/*
scenarios.go - Demo campus loader

PURPOSE:

	Populates the catalog and user directory with the demo campus from the
	campus package: library seats, group study rooms, an equipment pool and
	a teaching lab, plus one user per role. Used by `server -seed`,
	`reservectl seed` and POST /api/admin/seed.

HOW SEEDING WORKS:
 1. Parse the catalog (embedded demo, or a JSON file in the same format)
 2. Upsert every resource (policy stored as JSON)
 3. Upsert every user

	Seeding is idempotent; existing reservations are left alone.

USAGE VIA API:

	POST /api/admin/seed   (admin token)

SEE ALSO:
  - campus/catalog.json: Demo resources
  - factory/policy.go: Catalog JSON format
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/reservation-engine/campus"
	"github.com/warp/reservation-engine/generic"
	"github.com/warp/reservation-engine/store/sqlite"
)

// SeedResult counts what was written.
type SeedResult struct {
	Resources int `json:"resources"`
	Users     int `json:"users"`
}

// Seed upserts resources and users.
func Seed(ctx context.Context, s *sqlite.Store, resources []generic.Resource, users []generic.User) (SeedResult, error) {
	var result SeedResult
	for _, r := range resources {
		if err := s.PutResource(ctx, r); err != nil {
			return result, fmt.Errorf("failed to seed resource %s: %w", r.ID, err)
		}
		result.Resources++
	}
	for _, u := range users {
		if err := s.PutUser(ctx, u); err != nil {
			return result, fmt.Errorf("failed to seed user %s: %w", u.ID, err)
		}
		result.Users++
	}
	return result, nil
}

// LoadDemoCampus seeds the embedded demo catalog and users.
func LoadDemoCampus(ctx context.Context, s *sqlite.Store) (SeedResult, error) {
	resources, err := campus.DemoCatalog()
	if err != nil {
		return SeedResult{}, err
	}
	return Seed(ctx, s, resources, campus.DemoUsers())
}

// SeedDemo loads the demo campus. Admin only.
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	if !a.IsAdmin() {
		h.writeEngineError(w, r, &generic.UnauthorizedError{ActorID: a.ID, Action: "seed", Target: "campus"})
		return
	}
	result, err := LoadDemoCampus(r.Context(), h.Store)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.Logger.Info("demo campus loaded", "resources", result.Resources, "users", result.Users)
	writeJSON(w, http.StatusOK, result)
}
