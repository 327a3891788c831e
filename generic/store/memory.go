// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/reservation-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a generic.TxStore that also serves as UserDirectory,
// ResourceCatalog and ClosureCalendar.
type Memory struct {
	mu    sync.RWMutex
	state *memState

	dirMu     sync.RWMutex
	users     map[generic.UserID]generic.User
	resources map[generic.ResourceID]generic.Resource
	closures  generic.StaticClosures
}

type memState struct {
	reservations map[generic.ReservationID]*generic.Reservation
	series       map[generic.SeriesID]*generic.Series
	waitlist     map[generic.WaitlistEntryID]*generic.WaitlistEntry
	extensions   []generic.ExtensionRecord
	audit        []generic.AuditEntry
}

func newMemState() *memState {
	return &memState{
		reservations: make(map[generic.ReservationID]*generic.Reservation),
		series:       make(map[generic.SeriesID]*generic.Series),
		waitlist:     make(map[generic.WaitlistEntryID]*generic.WaitlistEntry),
	}
}

func NewMemory() *Memory {
	return &Memory{
		state:     newMemState(),
		users:     make(map[generic.UserID]generic.User),
		resources: make(map[generic.ResourceID]generic.Resource),
	}
}

// =============================================================================
// DIRECTORY / CATALOG
// =============================================================================

func (m *Memory) AddUser(u generic.User) {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) AddResource(r generic.Resource) {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	m.resources[r.ID] = r
}

func (m *Memory) AddClosure(c generic.Closure) {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	m.closures = append(m.closures, c)
}

func (m *Memory) GetUser(_ context.Context, id generic.UserID) (*generic.User, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "user", ID: string(id)}
	}
	return &u, nil
}

func (m *Memory) GetResource(_ context.Context, id generic.ResourceID) (*generic.Resource, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "resource", ID: string(id)}
	}
	return &r, nil
}

func (m *Memory) IsClosed(ctx context.Context, location string, day generic.Date) (bool, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	return m.closures.IsClosed(ctx, location, day)
}

// =============================================================================
// LOCKED ACCESS
// =============================================================================

func (m *Memory) read(fn func(s *memState) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

func (m *Memory) write(fn func(s *memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func (m *Memory) GetReservation(ctx context.Context, id generic.ReservationID) (r *generic.Reservation, err error) {
	err = m.read(func(s *memState) error { r, err = s.GetReservation(ctx, id); return err })
	return r, err
}

func (m *Memory) CreateReservation(ctx context.Context, r *generic.Reservation) error {
	return m.write(func(s *memState) error { return s.CreateReservation(ctx, r) })
}

func (m *Memory) UpdateReservation(ctx context.Context, r *generic.Reservation) error {
	return m.write(func(s *memState) error { return s.UpdateReservation(ctx, r) })
}

func (m *Memory) ListReservations(ctx context.Context, f generic.ReservationFilter) (out []*generic.Reservation, err error) {
	err = m.read(func(s *memState) error { out, err = s.ListReservations(ctx, f); return err })
	return out, err
}

func (m *Memory) GetSeries(ctx context.Context, id generic.SeriesID) (out *generic.Series, err error) {
	err = m.read(func(s *memState) error { out, err = s.GetSeries(ctx, id); return err })
	return out, err
}

func (m *Memory) CreateSeries(ctx context.Context, sr *generic.Series) error {
	return m.write(func(s *memState) error { return s.CreateSeries(ctx, sr) })
}

func (m *Memory) UpdateSeries(ctx context.Context, sr *generic.Series) error {
	return m.write(func(s *memState) error { return s.UpdateSeries(ctx, sr) })
}

func (m *Memory) ListSeries(ctx context.Context, activeOnly bool) (out []*generic.Series, err error) {
	err = m.read(func(s *memState) error { out, err = s.ListSeries(ctx, activeOnly); return err })
	return out, err
}

func (m *Memory) GetWaitlistEntry(ctx context.Context, id generic.WaitlistEntryID) (out *generic.WaitlistEntry, err error) {
	err = m.read(func(s *memState) error { out, err = s.GetWaitlistEntry(ctx, id); return err })
	return out, err
}

func (m *Memory) CreateWaitlistEntry(ctx context.Context, e *generic.WaitlistEntry) error {
	return m.write(func(s *memState) error { return s.CreateWaitlistEntry(ctx, e) })
}

func (m *Memory) UpdateWaitlistEntry(ctx context.Context, e *generic.WaitlistEntry) error {
	return m.write(func(s *memState) error { return s.UpdateWaitlistEntry(ctx, e) })
}

func (m *Memory) DeleteWaitlistEntry(ctx context.Context, id generic.WaitlistEntryID) error {
	return m.write(func(s *memState) error { return s.DeleteWaitlistEntry(ctx, id) })
}

func (m *Memory) ListWaitlist(ctx context.Context, resourceID generic.ResourceID) (out []*generic.WaitlistEntry, err error) {
	err = m.read(func(s *memState) error { out, err = s.ListWaitlist(ctx, resourceID); return err })
	return out, err
}

func (m *Memory) AppendExtension(ctx context.Context, rec generic.ExtensionRecord) error {
	return m.write(func(s *memState) error { return s.AppendExtension(ctx, rec) })
}

func (m *Memory) ListExtensions(ctx context.Context, requester generic.UserID, w generic.TimeWindow) (out []generic.ExtensionRecord, err error) {
	err = m.read(func(s *memState) error { out, err = s.ListExtensions(ctx, requester, w); return err })
	return out, err
}

func (m *Memory) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	return m.write(func(s *memState) error { return s.AppendAudit(ctx, entry) })
}

func (m *Memory) QueryAudit(ctx context.Context, f generic.AuditFilter) (out []generic.AuditEntry, err error) {
	err = m.read(func(s *memState) error { out, err = s.QueryAudit(ctx, f); return err })
	return out, err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error;
// the write lock is held for the whole unit of work.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.reservations {
		c.reservations[k] = v.Clone()
	}
	for k, v := range s.series {
		c.series[k] = cloneSeries(v)
	}
	for k, v := range s.waitlist {
		c.waitlist[k] = cloneEntry(v)
	}
	c.extensions = append([]generic.ExtensionRecord(nil), s.extensions...)
	c.audit = append([]generic.AuditEntry(nil), s.audit...)
	return c
}

// =============================================================================
// UNLOCKED STATE - The generic.Store seen inside WithTx
// =============================================================================

func (s *memState) GetReservation(_ context.Context, id generic.ReservationID) (*generic.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "reservation", ID: string(id)}
	}
	return r.Clone(), nil
}

func (s *memState) CreateReservation(_ context.Context, r *generic.Reservation) error {
	if _, ok := s.reservations[r.ID]; ok {
		return &generic.ValidationError{Field: "id", Message: "duplicate reservation id " + string(r.ID)}
	}
	s.reservations[r.ID] = r.Clone()
	return nil
}

func (s *memState) UpdateReservation(_ context.Context, r *generic.Reservation) error {
	if _, ok := s.reservations[r.ID]; !ok {
		return &generic.NotFoundError{Kind: "reservation", ID: string(r.ID)}
	}
	s.reservations[r.ID] = r.Clone()
	return nil
}

func (s *memState) ListReservations(_ context.Context, f generic.ReservationFilter) ([]*generic.Reservation, error) {
	var out []*generic.Reservation
	for _, r := range s.reservations {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Window.Start.Equal(out[j].Window.Start) {
			return out[i].Window.Start.Before(out[j].Window.Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func cloneSeries(sr *generic.Series) *generic.Series {
	c := *sr
	if sr.LastGenerated != nil {
		d := *sr.LastGenerated
		c.LastGenerated = &d
	}
	if sr.CancelledAt != nil {
		at := *sr.CancelledAt
		c.CancelledAt = &at
	}
	c.Rule.DaysOfWeek = append(c.Rule.DaysOfWeek[:0:0], sr.Rule.DaysOfWeek...)
	c.Rule.Dates = append(c.Rule.Dates[:0:0], sr.Rule.Dates...)
	return &c
}

func (s *memState) GetSeries(_ context.Context, id generic.SeriesID) (*generic.Series, error) {
	sr, ok := s.series[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "series", ID: string(id)}
	}
	return cloneSeries(sr), nil
}

func (s *memState) CreateSeries(_ context.Context, sr *generic.Series) error {
	if _, ok := s.series[sr.ID]; ok {
		return &generic.ValidationError{Field: "id", Message: "duplicate series id " + string(sr.ID)}
	}
	s.series[sr.ID] = cloneSeries(sr)
	return nil
}

func (s *memState) UpdateSeries(_ context.Context, sr *generic.Series) error {
	if _, ok := s.series[sr.ID]; !ok {
		return &generic.NotFoundError{Kind: "series", ID: string(sr.ID)}
	}
	s.series[sr.ID] = cloneSeries(sr)
	return nil
}

func (s *memState) ListSeries(_ context.Context, activeOnly bool) ([]*generic.Series, error) {
	var out []*generic.Series
	for _, sr := range s.series {
		if activeOnly && !sr.Active {
			continue
		}
		out = append(out, cloneSeries(sr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneEntry(e *generic.WaitlistEntry) *generic.WaitlistEntry {
	c := *e
	c.ExpiresAt = cloneTime(e.ExpiresAt)
	c.OfferedAt = cloneTime(e.OfferedAt)
	c.OfferExpiresAt = cloneTime(e.OfferExpiresAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (s *memState) GetWaitlistEntry(_ context.Context, id generic.WaitlistEntryID) (*generic.WaitlistEntry, error) {
	e, ok := s.waitlist[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "waitlist entry", ID: string(id)}
	}
	return cloneEntry(e), nil
}

func (s *memState) CreateWaitlistEntry(_ context.Context, e *generic.WaitlistEntry) error {
	if _, ok := s.waitlist[e.ID]; ok {
		return &generic.ValidationError{Field: "id", Message: "duplicate waitlist entry " + string(e.ID)}
	}
	s.waitlist[e.ID] = cloneEntry(e)
	return nil
}

func (s *memState) UpdateWaitlistEntry(_ context.Context, e *generic.WaitlistEntry) error {
	if _, ok := s.waitlist[e.ID]; !ok {
		return &generic.NotFoundError{Kind: "waitlist entry", ID: string(e.ID)}
	}
	s.waitlist[e.ID] = cloneEntry(e)
	return nil
}

func (s *memState) DeleteWaitlistEntry(_ context.Context, id generic.WaitlistEntryID) error {
	if _, ok := s.waitlist[id]; !ok {
		return &generic.NotFoundError{Kind: "waitlist entry", ID: string(id)}
	}
	delete(s.waitlist, id)
	return nil
}

func (s *memState) ListWaitlist(_ context.Context, resourceID generic.ResourceID) ([]*generic.WaitlistEntry, error) {
	var out []*generic.WaitlistEntry
	for _, e := range s.waitlist {
		if resourceID != "" && e.ResourceID != resourceID {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *memState) AppendExtension(_ context.Context, rec generic.ExtensionRecord) error {
	s.extensions = append(s.extensions, rec)
	return nil
}

func (s *memState) ListExtensions(_ context.Context, requester generic.UserID, w generic.TimeWindow) ([]generic.ExtensionRecord, error) {
	var out []generic.ExtensionRecord
	for _, rec := range s.extensions {
		if rec.RequesterID == requester && w.Contains(rec.GrantedAt) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memState) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	s.audit = append(s.audit, entry)
	return nil
}

func (s *memState) QueryAudit(_ context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var out []generic.AuditEntry
	for _, e := range s.audit {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
