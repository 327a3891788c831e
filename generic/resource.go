/*
resource.go - Bookable resources, users and kind registration

PURPOSE:
  Describes what can be booked (seats, rooms, equipment pools, labs) and who
  books it. The engine never owns this data: it reads it through the
  UserDirectory and ResourceCatalog collaborators.

HOW KIND DEFAULTS WORK:
  1. Domain packages (campus/) register a default policy per kind
  2. Resources created without an explicit policy get the kind default
  3. Factory/storage uses the registry when a stored policy is missing

USAGE:
  // In campus/policies.go
  func init() {
      generic.RegisterKind(generic.KindSeat, SeatPolicy())
  }

  policy, ok := generic.KindDefaults(generic.KindSeat)

SEE ALSO:
  - policy.go: ResourcePolicy
  - campus/policies.go: Kind presets
*/
package generic

import (
	"context"
	"sync"
)

// =============================================================================
// RESOURCE KINDS
// =============================================================================

type ResourceKind string

const (
	KindSeat      ResourceKind = "SEAT"
	KindRoom      ResourceKind = "ROOM"
	KindEquipment ResourceKind = "EQUIPMENT"
	KindLab       ResourceKind = "LAB"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case KindSeat, KindRoom, KindEquipment, KindLab:
		return true
	}
	return false
}

// Exclusivity decides how overlapping bookings are counted.
type Exclusivity string

const (
	// SingleOccupancy: any overlap with a live booking conflicts.
	SingleOccupancy Exclusivity = "single"
	// QuantityPool: overlaps are allowed up to the available unit count.
	QuantityPool Exclusivity = "pool"
)

// =============================================================================
// RESOURCE / USER
// =============================================================================

type Resource struct {
	ID       ResourceID
	Kind     ResourceKind
	Name     string
	Location string
	// Capacity is the number of people a room or lab holds (organizer included).
	Capacity int
	// Units is the pool size for equipment; 1 for single-occupancy resources.
	Units  int
	Policy ResourcePolicy
}

// AvailableUnits is how many overlapping live bookings the resource can hold.
func (r Resource) AvailableUnits() int {
	if r.Policy.Exclusivity != QuantityPool {
		return 1
	}
	if r.Units < 1 {
		return 1
	}
	return r.Units
}

func (r Resource) Validate() error {
	if r.ID == "" {
		return invalid("resource.id", "required")
	}
	if !r.Kind.Valid() {
		return invalid("resource.kind", "unknown kind %q", r.Kind)
	}
	if r.Capacity < 0 || r.Units < 0 {
		return invalid("resource", "capacity and units must not be negative")
	}
	return r.Policy.Validate()
}

type User struct {
	ID       UserID
	Name     string
	Role     Role
	Location string
}

func (u User) Actor() Actor { return Actor{ID: u.ID, Role: u.Role} }

// =============================================================================
// COLLABORATORS
// =============================================================================

// UserDirectory resolves a user's role and home location.
type UserDirectory interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
}

// ResourceCatalog resolves a resource with its policy.
type ResourceCatalog interface {
	GetResource(ctx context.Context, id ResourceID) (*Resource, error)
}

// TokenResolver maps an opaque QR token to the resource it is printed on.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (ResourceKind, ResourceID, error)
}

// =============================================================================
// KIND REGISTRY
// =============================================================================

var (
	kindRegistry = make(map[ResourceKind]ResourcePolicy)
	registryMu   sync.RWMutex
)

// RegisterKind installs the default policy for a kind.
// Call this from domain package init() functions.
func RegisterKind(kind ResourceKind, p ResourcePolicy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	kindRegistry[kind] = p
}

// KindDefaults returns the registered default policy for a kind.
func KindDefaults(kind ResourceKind) (ResourcePolicy, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := kindRegistry[kind]
	return p, ok
}

// PolicyFor returns the resource's policy, falling back to the kind default
// when the resource carries none.
func PolicyFor(r Resource) ResourcePolicy {
	if r.Policy.Exclusivity != "" {
		return r.Policy
	}
	if p, ok := KindDefaults(r.Kind); ok {
		return p
	}
	return DefaultPolicy()
}
