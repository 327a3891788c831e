/*
Package generic provides the core reservation engine.

PURPOSE:
  This package contains the kind-agnostic types and algorithms for granting
  time-bounded reservations of shared resources. Whether the resource is a
  library seat, a meeting room, a pool of projectors or a lab class, the same
  engine performs conflict detection, drives the booking lifecycle, runs the
  approval workflow and reconciles time-driven transitions.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity of time with a unit (e.g., 1.5 hours)
  - Identifiers: Type-safe ids for reservations, resources, users, series
  - Role / Actor: Who is acting; passed explicitly into every engine call

DESIGN PRINCIPLES:
  1. Explicit actors: no ambient "current user" lookups
  2. Precision: Uses decimal.Decimal for hour budgets
  3. Type Safety: Strong typing for IDs prevents mixing resource/user IDs
  4. Auditability: Every transition is written to the audit log

USAGE:
  actor := generic.Actor{ID: "u-42", Role: generic.RoleStudent}
  res, err := engine.CreateReservation(ctx, actor, generic.CreateRequest{
      ResourceID: "seat-101",
      Window:     window,
  })

SEE ALSO:
  - window.go: TimeWindow value type
  - conflict.go: Overlap / capacity rules
  - reservation.go: Lifecycle state machine
  - engine.go: Engine entry points
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit (extension budgets are time-based)
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitHours   Unit = "hours"
	UnitMinutes Unit = "minutes"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

// Hours is shorthand for NewAmount(v, UnitHours).
func Hours(v float64) Amount { return NewAmount(v, UnitHours) }

// HoursFromDuration converts a duration into an hour amount.
func HoursFromDuration(d time.Duration) Amount {
	return Amount{Value: decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(int64(time.Hour))), Unit: UnitHours}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// InHours normalizes the amount to hours.
func (a Amount) InHours() Amount {
	if a.Unit == UnitMinutes {
		return Amount{Value: a.Value.Div(decimal.NewFromInt(60)), Unit: UnitHours}
	}
	return Amount{Value: a.Value, Unit: UnitHours}
}

// Duration converts the amount to a time.Duration, truncated to the nanosecond.
func (a Amount) Duration() time.Duration {
	ns := a.InHours().Value.Mul(decimal.NewFromInt(int64(time.Hour)))
	return time.Duration(ns.IntPart())
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.InHours().Value.Add(b.InHours().Value), Unit: UnitHours} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.InHours().Value.Sub(b.InHours().Value), Unit: UnitHours} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.InHours().Value.GreaterThan(b.InHours().Value) }
func (a Amount) LessThan(b Amount) bool    { return a.InHours().Value.LessThan(b.InHours().Value) }
func (a Amount) Equal(b Amount) bool       { return a.InHours().Value.Equal(b.InHours().Value) }
func (a Amount) String() string            { return a.Value.String() + " " + string(a.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ReservationID string
type ResourceID string
type UserID string
type SeriesID string
type WaitlistEntryID string

// =============================================================================
// ACTORS
// =============================================================================

// Role is the requester/approver role resolved from the user directory.
type Role string

const (
	RoleStudent          Role = "student"
	RoleFaculty          Role = "faculty"
	RoleStaff            Role = "staff"
	RoleLibrarian        Role = "librarian"
	RoleLabManager       Role = "lab_manager"
	RoleHeadOfDepartment Role = "hod"
	RoleAdmin            Role = "admin"
	RoleSystem           Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleStaff, RoleLibrarian, RoleLabManager,
		RoleHeadOfDepartment, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the acting user for one engine call.
type Actor struct {
	ID   UserID
	Role Role
}

// SystemActor is used by the reconciliation sweep.
func SystemActor() Actor { return Actor{ID: "system", Role: RoleSystem} }

// IsAdmin reports whether the actor may act on any reservation.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin || a.Role == RoleSystem }

// WaitlistPriority is the queue priority granted to a role when it joins a waitlist.
func WaitlistPriority(r Role) int {
	switch r {
	case RoleAdmin, RoleSystem:
		return 3
	case RoleFaculty, RoleHeadOfDepartment:
		return 2
	case RoleStaff, RoleLibrarian, RoleLabManager:
		return 1
	default:
		return 0
	}
}

func hasRole(roles []Role, r Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}
