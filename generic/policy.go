/*
policy.go - Per-resource booking rules

PURPOSE:
  A ResourcePolicy is the contract between the campus and its users about a
  resource: whether bookings overlap, who approves them, how long the
  check-in window is, how much a booking may be extended per day and how
  many bookings a user may hold.

KEY CONCEPTS:
  - Exclusivity: single occupancy vs quantity pool (see conflict.go)
  - Approval: RequiresApproval, exempt roles, approver roles, escalation
  - Check-in window: [start - CheckInEarly, start + CheckInLate]
  - Extension budget: MaxExtensionPerRequest, DailyExtensionCap
  - Booking limits: MaxPerDay, MaxPerWeek per requester per kind

APPROVAL:
  Approval is required when the policy says so and the requester's role is
  not exempt, or when the policy is location scoped and the requester's home
  location differs from the resource's. Admins never need approval.

EXAMPLE:
  policy := ResourcePolicy{
      Exclusivity:       SingleOccupancy,
      MaxDuration:       4 * time.Hour,
      CheckInEarly:      10 * time.Minute,
      CheckInLate:       10 * time.Minute,
      ExtendableStates:  []Status{StatusCheckedIn},
      DailyExtensionCap: Hours(3),
  }
*/
package generic

import (
	"time"
)

// =============================================================================
// POLICY
// =============================================================================

type ResourcePolicy struct {
	Name        string
	Exclusivity Exclusivity
	// MaxDuration bounds a new booking's window. Zero means unbounded.
	MaxDuration time.Duration

	// Approval
	RequiresApproval    bool
	ApprovalExemptRoles []Role
	ApproverRoles       []Role
	// LocationScoped requires approval for requesters from another location.
	LocationScoped  bool
	Escalatable     bool
	EscalationRoles []Role
	// StaleAfter is how long a PENDING booking waits before it may be escalated.
	StaleAfter time.Duration

	// Check-in
	CheckInEarly time.Duration
	CheckInLate  time.Duration
	QRCheckIn    bool

	// Extension
	ExtendableStates       []Status
	MaxExtensionPerRequest Amount
	DailyExtensionCap      Amount

	// Limits; zero means unlimited
	MaxPerDay  int
	MaxPerWeek int

	// Participants may be invited (rooms and labs).
	AllowsParticipants bool

	ReminderLead time.Duration
	OfferTTL     time.Duration

	// Timezone is the IANA zone used for calendar-day budgets and series.
	Timezone string
}

// DefaultPolicy is used when neither the resource nor its kind defines one.
func DefaultPolicy() ResourcePolicy {
	return ResourcePolicy{
		Name:                   "default",
		Exclusivity:            SingleOccupancy,
		ApproverRoles:          []Role{RoleAdmin},
		EscalationRoles:        []Role{RoleHeadOfDepartment, RoleAdmin},
		CheckInEarly:           10 * time.Minute,
		CheckInLate:            10 * time.Minute,
		ExtendableStates:       []Status{StatusCheckedIn},
		MaxExtensionPerRequest: Hours(2),
		DailyExtensionCap:      Hours(3),
		ReminderLead:           30 * time.Minute,
		OfferTTL:               15 * time.Minute,
		StaleAfter:             24 * time.Hour,
		Timezone:               "UTC",
	}
}

func (p ResourcePolicy) Validate() error {
	switch p.Exclusivity {
	case SingleOccupancy, QuantityPool:
	default:
		return invalid("policy.exclusivity", "unknown value %q", p.Exclusivity)
	}
	if p.MaxDuration < 0 || p.CheckInEarly < 0 || p.CheckInLate < 0 ||
		p.StaleAfter < 0 || p.ReminderLead < 0 || p.OfferTTL < 0 {
		return invalid("policy", "durations must not be negative")
	}
	if p.MaxPerDay < 0 || p.MaxPerWeek < 0 {
		return invalid("policy", "limits must not be negative")
	}
	if p.DailyExtensionCap.IsNegative() || p.MaxExtensionPerRequest.IsNegative() {
		return invalid("policy", "extension caps must not be negative")
	}
	for _, s := range p.ExtendableStates {
		if !s.IsLive() {
			return invalid("policy.extendable_states", "%s is not a live state", s)
		}
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return invalid("policy.timezone", "%v", err)
	}
	return nil
}

// Location returns the policy timezone, UTC when unset or unknown.
func (p ResourcePolicy) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RequiresApprovalFor decides the initial status of a booking by this user.
func (p ResourcePolicy) RequiresApprovalFor(u User, r Resource) bool {
	if u.Role == RoleAdmin || u.Role == RoleSystem {
		return false
	}
	if p.LocationScoped && u.Location != "" && r.Location != "" && u.Location != r.Location {
		return true
	}
	return p.RequiresApproval && !hasRole(p.ApprovalExemptRoles, u.Role)
}

// CanDecide reports whether the actor may decide the reservation.
// Escalated reservations are decided by escalation roles only.
func (p ResourcePolicy) CanDecide(a Actor, escalated bool) bool {
	if a.Role == RoleAdmin {
		return true
	}
	if escalated {
		roles := p.EscalationRoles
		if len(roles) == 0 {
			roles = []Role{RoleHeadOfDepartment}
		}
		return hasRole(roles, a.Role)
	}
	return hasRole(p.ApproverRoles, a.Role)
}

func (p ResourcePolicy) IsExtendable(s Status) bool {
	states := p.ExtendableStates
	if len(states) == 0 {
		states = []Status{StatusCheckedIn}
	}
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}

// CheckInWindow returns the inclusive bounds within which check-in is accepted.
func (p ResourcePolicy) CheckInWindow(start time.Time) (opens, closes time.Time) {
	return start.Add(-p.CheckInEarly), start.Add(p.CheckInLate)
}
