/*
policies.go - Pre-built resource policies for a campus

PURPOSE:
  Provides ready-to-use policies for the four resource kinds. They are
  registered as kind defaults in init(), so a catalog entry that carries no
  policy of its own (or a JSON policy that only overrides a few fields)
  starts from these values.

AVAILABLE POLICIES:
  SeatPolicy:      Library seats. Instant booking, QR check-in, short stays
  RoomPolicy:      Group study rooms. Librarian approval for students,
                   location-scoped, participants allowed
  EquipmentPolicy: Lending pools (projectors, cameras). Lab manager approval,
                   escalation to the head of department
  LabPolicy:       Teaching labs. Lab manager approval, participants allowed

EXTENSION RULES:
  All kinds share one extension budget per requester per calendar day
  (DailyExtensionHours) and a per-request maximum (MaxExtensionHours).
  Extensions are not bound by MaxDuration.

CUSTOMIZATION:
  These are starting points. Override per resource in the catalog JSON:

    {"id": "R-204", "kind": "ROOM", "policy": {"kind": "ROOM", "max_duration": "4h"}}

SEE ALSO:
  - factory/policy.go: JSON policy overlay on these defaults
  - generic/policy.go: ResourcePolicy type definition
*/
package campus

import (
	"time"

	"github.com/warp/reservation-engine/generic"
)

const (
	CheckInMargin       = 10 * time.Minute
	MaxExtensionHours   = 2.0
	DailyExtensionHours = 3.0
	ReminderLead        = 30 * time.Minute
	OfferTTL            = 15 * time.Minute
	DefaultTimezone     = "UTC"
)

func init() {
	generic.RegisterKind(generic.KindSeat, SeatPolicy())
	generic.RegisterKind(generic.KindRoom, RoomPolicy())
	generic.RegisterKind(generic.KindEquipment, EquipmentPolicy())
	generic.RegisterKind(generic.KindLab, LabPolicy())
}

// =============================================================================
// COMMON CAMPUS POLICIES
// =============================================================================

// base holds what every campus kind shares.
func base(name string) generic.ResourcePolicy {
	return generic.ResourcePolicy{
		Name:                   name,
		Exclusivity:            generic.SingleOccupancy,
		ApproverRoles:          []generic.Role{generic.RoleAdmin},
		EscalationRoles:        []generic.Role{generic.RoleHeadOfDepartment},
		StaleAfter:             24 * time.Hour,
		CheckInEarly:           CheckInMargin,
		CheckInLate:            CheckInMargin,
		ExtendableStates:       []generic.Status{generic.StatusCheckedIn},
		MaxExtensionPerRequest: generic.Hours(MaxExtensionHours),
		DailyExtensionCap:      generic.Hours(DailyExtensionHours),
		ReminderLead:           ReminderLead,
		OfferTTL:               OfferTTL,
		Timezone:               DefaultTimezone,
	}
}

// SeatPolicy returns the library seat policy: no approval, QR check-in,
// at most 4 hours per booking and 2 bookings per day.
func SeatPolicy() generic.ResourcePolicy {
	p := base("library-seat")
	p.MaxDuration = 4 * time.Hour
	p.QRCheckIn = true
	p.MaxPerDay = 2
	p.MaxPerWeek = 10
	return p
}

// RoomPolicy returns the group study room policy. Students need a
// librarian's approval; faculty and staff book directly. Anyone booking a
// room in another building needs approval.
func RoomPolicy() generic.ResourcePolicy {
	p := base("group-study-room")
	p.MaxDuration = 3 * time.Hour
	p.RequiresApproval = true
	p.ApprovalExemptRoles = []generic.Role{generic.RoleFaculty, generic.RoleStaff}
	p.ApproverRoles = []generic.Role{generic.RoleLibrarian}
	p.LocationScoped = true
	p.QRCheckIn = true
	p.AllowsParticipants = true
	p.MaxPerDay = 1
	p.MaxPerWeek = 5
	return p
}

// EquipmentPolicy returns the lending pool policy. Loans may run for days
// and are extendable before pickup as well as during the loan.
func EquipmentPolicy() generic.ResourcePolicy {
	p := base("equipment-pool")
	p.Exclusivity = generic.QuantityPool
	p.MaxDuration = 7 * 24 * time.Hour
	p.RequiresApproval = true
	p.ApprovalExemptRoles = []generic.Role{generic.RoleLabManager}
	p.ApproverRoles = []generic.Role{generic.RoleLabManager}
	p.Escalatable = true
	p.CheckInEarly = 30 * time.Minute
	p.CheckInLate = 30 * time.Minute
	p.ExtendableStates = []generic.Status{generic.StatusConfirmed, generic.StatusCheckedIn}
	p.MaxPerWeek = 3
	p.ReminderLead = 2 * time.Hour
	return p
}

// LabPolicy returns the teaching lab policy.
func LabPolicy() generic.ResourcePolicy {
	p := base("teaching-lab")
	p.MaxDuration = 4 * time.Hour
	p.RequiresApproval = true
	p.ApprovalExemptRoles = []generic.Role{generic.RoleLabManager}
	p.ApproverRoles = []generic.Role{generic.RoleLabManager}
	p.Escalatable = true
	p.EscalationRoles = []generic.Role{generic.RoleHeadOfDepartment, generic.RoleAdmin}
	p.QRCheckIn = true
	p.AllowsParticipants = true
	p.MaxPerWeek = 4
	return p
}

// Policies returns every preset keyed by kind.
func Policies() map[generic.ResourceKind]generic.ResourcePolicy {
	return map[generic.ResourceKind]generic.ResourcePolicy{
		generic.KindSeat:      SeatPolicy(),
		generic.KindRoom:      RoomPolicy(),
		generic.KindEquipment: EquipmentPolicy(),
		generic.KindLab:       LabPolicy(),
	}
}
