/*
store.go - Persistence interfaces for reservations and related data

PURPOSE:
  Defines the interface between the engine and the database. Every
  check-then-write in the engine runs inside TxStore.WithTx so that two
  concurrent requests for the same slot cannot both pass the conflict check.

KEY INTERFACES:
  ReservationStore: Reservations (never deleted; status changes are updates)
  SeriesStore:      Recurring series definitions and watermarks
  WaitlistStore:    Waitlist entries and their offers
  ExtensionLedger:  Append-only extension grants (ledger.go)
  AuditLog:         Append-only record of every transition
  TxStore:          All of the above plus WithTx

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Durable SQLite store
  - generic/store/memory.go: In-memory for testing

EXAMPLE:
  err := store.WithTx(ctx, func(tx generic.Store) error {
      existing, err := tx.ListReservations(ctx, generic.ReservationFilter{...})
      ...
      return tx.CreateReservation(ctx, r)
  })

SEE ALSO:
  - ledger.go: Extension ledger
  - store/sqlite/sqlite.go: Concrete implementation
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type ReservationStore interface {
	// GetReservation returns a *NotFoundError when the id is unknown.
	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)
	CreateReservation(ctx context.Context, r *Reservation) error
	UpdateReservation(ctx context.Context, r *Reservation) error
	ListReservations(ctx context.Context, f ReservationFilter) ([]*Reservation, error)
}

type SeriesStore interface {
	GetSeries(ctx context.Context, id SeriesID) (*Series, error)
	CreateSeries(ctx context.Context, s *Series) error
	UpdateSeries(ctx context.Context, s *Series) error
	ListSeries(ctx context.Context, activeOnly bool) ([]*Series, error)
}

type WaitlistStore interface {
	GetWaitlistEntry(ctx context.Context, id WaitlistEntryID) (*WaitlistEntry, error)
	CreateWaitlistEntry(ctx context.Context, e *WaitlistEntry) error
	UpdateWaitlistEntry(ctx context.Context, e *WaitlistEntry) error
	DeleteWaitlistEntry(ctx context.Context, id WaitlistEntryID) error
	// ListWaitlist returns entries for a resource, or all entries when
	// resourceID is empty, ordered by priority desc then createdAt asc.
	ListWaitlist(ctx context.Context, resourceID ResourceID) ([]*WaitlistEntry, error)
}

// Store is everything the engine reads and writes.
type Store interface {
	ReservationStore
	SeriesStore
	WaitlistStore
	ExtensionLedger
	AuditLog
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic check-then-write
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// FILTERS
// =============================================================================

type ReservationFilter struct {
	ResourceID  ResourceID
	RequesterID UserID
	SeriesID    SeriesID
	Kind        ResourceKind
	Statuses    []Status
	// Overlapping keeps reservations whose window overlaps this one.
	Overlapping *TimeWindow
}

// Matches is the reference semantics every store implementation follows.
func (f ReservationFilter) Matches(r *Reservation) bool {
	if f.ResourceID != "" && r.ResourceID != f.ResourceID {
		return false
	}
	if f.RequesterID != "" && r.RequesterID != f.RequesterID {
		return false
	}
	if f.SeriesID != "" && (r.SeriesID == nil || *r.SeriesID != f.SeriesID) {
		return false
	}
	if f.Kind != "" && r.ResourceKind != f.Kind {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Overlapping != nil && !r.Window.Overlaps(*f.Overlapping) {
		return false
	}
	return true
}

// =============================================================================
// AUDIT LOG - Separate from reservations, tracks who did what when
// =============================================================================

type AuditEntry struct {
	ID            string
	At            time.Time
	ActorID       UserID
	Action        AuditAction
	ReservationID ReservationID
	ResourceID    ResourceID
	Payload       map[string]any
}

type AuditAction string

const (
	AuditCreated       AuditAction = "reservation_created"
	AuditApproved      AuditAction = "reservation_approved"
	AuditRejected      AuditAction = "reservation_rejected"
	AuditEscalated     AuditAction = "reservation_escalated"
	AuditCheckedIn     AuditAction = "reservation_checked_in"
	AuditCancelled     AuditAction = "reservation_cancelled"
	AuditNoShow        AuditAction = "reservation_no_show"
	AuditCompleted     AuditAction = "reservation_completed"
	AuditExtended      AuditAction = "reservation_extended"
	AuditReminded      AuditAction = "reservation_reminded"
	AuditParticipants  AuditAction = "participants_changed"
	AuditSeriesCreated AuditAction = "series_created"
	AuditSeriesEnded   AuditAction = "series_cancelled"
	AuditWaitlist      AuditAction = "waitlist_changed"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	ReservationID ReservationID
	ActorID       UserID
	Actions       []AuditAction
	From          *time.Time
	To            *time.Time
}

func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.ReservationID != "" && e.ReservationID != f.ReservationID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.At.Before(*f.From) {
		return false
	}
	if f.To != nil && e.At.After(*f.To) {
		return false
	}
	return true
}
