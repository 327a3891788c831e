/*
Package factory provides JSON to Go resource policy conversion.

PURPOSE:
  Converts JSON policy and resource definitions into generic.ResourcePolicy
  and generic.Resource values. Facilities staff describe a room or a
  projector pool in JSON; the factory turns it into the struct the engine
  enforces. The SQLite catalog stores policies in this form too.

JSON SCHEMA:
  {
    "name": "group-study-room",
    "kind": "ROOM",
    "exclusivity": "single",
    "max_duration": "3h",
    "approval": {
      "required": true,
      "exempt_roles": ["faculty", "staff"],
      "approver_roles": ["librarian"],
      "location_scoped": true,
      "escalatable": false
    },
    "check_in": {"early": "10m", "late": "10m", "qr": true},
    "extension": {"states": ["CHECKED_IN"], "max_per_request_hours": 2, "daily_cap_hours": 3},
    "limits": {"max_per_day": 2, "max_per_week": 6},
    "participants": true,
    "reminder_lead": "30m",
    "offer_ttl": "15m",
    "timezone": "Europe/London"
  }

DEFAULTS:
  Every omitted field is taken from the kind's registered defaults
  (campus presets) or, failing that, generic.DefaultPolicy().

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(jsonString)
  resources, err := f.ParseCatalog(catalogJSON)

SEE ALSO:
  - generic/policy.go: ResourcePolicy type definition
  - campus/policies.go: Go-based presets registered per kind
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/warp/reservation-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a resource policy.
type PolicyJSON struct {
	Name         string         `json:"name,omitempty"`
	Kind         string         `json:"kind,omitempty"`
	Exclusivity  string         `json:"exclusivity,omitempty"`
	MaxDuration  *Duration      `json:"max_duration,omitempty"`
	Approval     *ApprovalJSON  `json:"approval,omitempty"`
	CheckIn      *CheckInJSON   `json:"check_in,omitempty"`
	Extension    *ExtensionJSON `json:"extension,omitempty"`
	Limits       *LimitsJSON    `json:"limits,omitempty"`
	Participants *bool          `json:"participants,omitempty"`
	ReminderLead *Duration      `json:"reminder_lead,omitempty"`
	OfferTTL     *Duration      `json:"offer_ttl,omitempty"`
	Timezone     string         `json:"timezone,omitempty"`
}

type ApprovalJSON struct {
	Required        *bool     `json:"required,omitempty"`
	ExemptRoles     []string  `json:"exempt_roles"`
	ApproverRoles   []string  `json:"approver_roles"`
	LocationScoped  *bool     `json:"location_scoped,omitempty"`
	Escalatable     *bool     `json:"escalatable,omitempty"`
	EscalationRoles []string  `json:"escalation_roles"`
	StaleAfter      *Duration `json:"stale_after,omitempty"`
}

type CheckInJSON struct {
	Early *Duration `json:"early,omitempty"`
	Late  *Duration `json:"late,omitempty"`
	QR    *bool     `json:"qr,omitempty"`
}

type ExtensionJSON struct {
	States             []string `json:"states"`
	MaxPerRequestHours *float64 `json:"max_per_request_hours,omitempty"`
	DailyCapHours      *float64 `json:"daily_cap_hours,omitempty"`
}

type LimitsJSON struct {
	MaxPerDay  *int `json:"max_per_day,omitempty"`
	MaxPerWeek *int `json:"max_per_week,omitempty"`
}

// ResourceJSON describes one catalog entry.
type ResourceJSON struct {
	ID       string      `json:"id"`
	Kind     string      `json:"kind"`
	Name     string      `json:"name"`
	Location string      `json:"location,omitempty"`
	Capacity int         `json:"capacity,omitempty"`
	Units    int         `json:"units,omitempty"`
	Policy   *PolicyJSON `json:"policy,omitempty"`
}

// Duration reads "90m" style strings or integer seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		secs, nerr := strconv.ParseInt(string(b), 10, 64)
		if nerr != nil {
			return fmt.Errorf("duration must be a string like \"15m\" or seconds: %w", err)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func dur(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to Go structs.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a validated ResourcePolicy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (generic.ResourcePolicy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return generic.ResourcePolicy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON overlays pj on the kind defaults and validates the result.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (generic.ResourcePolicy, error) {
	p := generic.DefaultPolicy()
	if pj.Kind != "" {
		kind := generic.ResourceKind(pj.Kind)
		if !kind.Valid() {
			return generic.ResourcePolicy{}, &generic.ValidationError{Field: "kind", Message: "unknown kind " + pj.Kind}
		}
		if defaults, ok := generic.KindDefaults(kind); ok {
			p = defaults
		}
	}

	if pj.Name != "" {
		p.Name = pj.Name
	}
	if pj.Exclusivity != "" {
		p.Exclusivity = generic.Exclusivity(pj.Exclusivity)
	}
	setDuration(&p.MaxDuration, pj.MaxDuration)
	setDuration(&p.ReminderLead, pj.ReminderLead)
	setDuration(&p.OfferTTL, pj.OfferTTL)
	setBool(&p.AllowsParticipants, pj.Participants)
	if pj.Timezone != "" {
		p.Timezone = pj.Timezone
	}

	if a := pj.Approval; a != nil {
		setBool(&p.RequiresApproval, a.Required)
		setBool(&p.LocationScoped, a.LocationScoped)
		setBool(&p.Escalatable, a.Escalatable)
		setDuration(&p.StaleAfter, a.StaleAfter)
		if a.ExemptRoles != nil {
			p.ApprovalExemptRoles = parseRoles(a.ExemptRoles)
		}
		if a.ApproverRoles != nil {
			p.ApproverRoles = parseRoles(a.ApproverRoles)
		}
		if a.EscalationRoles != nil {
			p.EscalationRoles = parseRoles(a.EscalationRoles)
		}
	}
	if c := pj.CheckIn; c != nil {
		setDuration(&p.CheckInEarly, c.Early)
		setDuration(&p.CheckInLate, c.Late)
		setBool(&p.QRCheckIn, c.QR)
	}
	if x := pj.Extension; x != nil {
		if x.States != nil {
			p.ExtendableStates = nil
			for _, s := range x.States {
				p.ExtendableStates = append(p.ExtendableStates, generic.Status(s))
			}
		}
		if x.MaxPerRequestHours != nil {
			p.MaxExtensionPerRequest = generic.Hours(*x.MaxPerRequestHours)
		}
		if x.DailyCapHours != nil {
			p.DailyExtensionCap = generic.Hours(*x.DailyCapHours)
		}
	}
	if l := pj.Limits; l != nil {
		if l.MaxPerDay != nil {
			p.MaxPerDay = *l.MaxPerDay
		}
		if l.MaxPerWeek != nil {
			p.MaxPerWeek = *l.MaxPerWeek
		}
	}

	for _, r := range append(append(append([]generic.Role(nil), p.ApprovalExemptRoles...), p.ApproverRoles...), p.EscalationRoles...) {
		if !r.Valid() {
			return generic.ResourcePolicy{}, &generic.ValidationError{Field: "roles", Message: "unknown role " + string(r)}
		}
	}
	if err := p.Validate(); err != nil {
		return generic.ResourcePolicy{}, err
	}
	return p, nil
}

// ToJSON converts a policy to its fully explicit JSON form.
func (f *PolicyFactory) ToJSON(p generic.ResourcePolicy) PolicyJSON {
	perRequest := p.MaxExtensionPerRequest.InHours().Value.InexactFloat64()
	dailyCap := p.DailyExtensionCap.InHours().Value.InexactFloat64()
	maxPerDay, maxPerWeek := p.MaxPerDay, p.MaxPerWeek
	required, scoped, escalatable := p.RequiresApproval, p.LocationScoped, p.Escalatable
	qr, participants := p.QRCheckIn, p.AllowsParticipants

	states := make([]string, 0, len(p.ExtendableStates))
	for _, s := range p.ExtendableStates {
		states = append(states, string(s))
	}
	return PolicyJSON{
		Name:        p.Name,
		Exclusivity: string(p.Exclusivity),
		MaxDuration: dur(p.MaxDuration),
		Approval: &ApprovalJSON{
			Required:        &required,
			ExemptRoles:     roleStrings(p.ApprovalExemptRoles),
			ApproverRoles:   roleStrings(p.ApproverRoles),
			LocationScoped:  &scoped,
			Escalatable:     &escalatable,
			EscalationRoles: roleStrings(p.EscalationRoles),
			StaleAfter:      dur(p.StaleAfter),
		},
		CheckIn: &CheckInJSON{Early: dur(p.CheckInEarly), Late: dur(p.CheckInLate), QR: &qr},
		Extension: &ExtensionJSON{
			States:             states,
			MaxPerRequestHours: &perRequest,
			DailyCapHours:      &dailyCap,
		},
		Limits:       &LimitsJSON{MaxPerDay: &maxPerDay, MaxPerWeek: &maxPerWeek},
		Participants: &participants,
		ReminderLead: dur(p.ReminderLead),
		OfferTTL:     dur(p.OfferTTL),
		Timezone:     p.Timezone,
	}
}

// MarshalPolicy is ToJSON encoded.
func (f *PolicyFactory) MarshalPolicy(p generic.ResourcePolicy) (string, error) {
	b, err := json.Marshal(f.ToJSON(p))
	if err != nil {
		return "", fmt.Errorf("failed to encode policy: %w", err)
	}
	return string(b), nil
}

// =============================================================================
// RESOURCES
// =============================================================================

// FromResourceJSON builds a validated resource. A missing policy block
// means the kind defaults.
func (f *PolicyFactory) FromResourceJSON(rj ResourceJSON) (generic.Resource, error) {
	pj := PolicyJSON{}
	if rj.Policy != nil {
		pj = *rj.Policy
	}
	if pj.Kind == "" {
		pj.Kind = rj.Kind
	}
	policy, err := f.FromJSON(pj)
	if err != nil {
		return generic.Resource{}, fmt.Errorf("resource %s: %w", rj.ID, err)
	}
	units := rj.Units
	if units == 0 {
		units = 1
	}
	r := generic.Resource{
		ID:       generic.ResourceID(rj.ID),
		Kind:     generic.ResourceKind(rj.Kind),
		Name:     rj.Name,
		Location: rj.Location,
		Capacity: rj.Capacity,
		Units:    units,
		Policy:   policy,
	}
	if err := r.Validate(); err != nil {
		return generic.Resource{}, fmt.Errorf("resource %s: %w", rj.ID, err)
	}
	return r, nil
}

// ParseCatalog parses a JSON array of resources.
func (f *PolicyFactory) ParseCatalog(data []byte) ([]generic.Resource, error) {
	var rjs []ResourceJSON
	if err := json.Unmarshal(data, &rjs); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	seen := make(map[string]bool, len(rjs))
	out := make([]generic.Resource, 0, len(rjs))
	for _, rj := range rjs {
		if seen[rj.ID] {
			return nil, &generic.ValidationError{Field: "id", Message: "duplicate resource " + rj.ID}
		}
		seen[rj.ID] = true
		r, err := f.FromResourceJSON(rj)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// parseRoles maps an explicit empty list to nil.
func parseRoles(ss []string) []generic.Role {
	var out []generic.Role
	for _, s := range ss {
		out = append(out, generic.Role(s))
	}
	return out
}

func roleStrings(rs []generic.Role) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, string(r))
	}
	return out
}
