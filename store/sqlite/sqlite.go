/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore (reservations, series, waitlist, extension
  ledger, audit log) plus the user directory, resource catalog and closure
  calendar the engine consults. One database file holds a whole campus.

INTERFACES IMPLEMENTED:
  generic.TxStore:         Reservations, series, waitlist, ledger, audit
  generic.UserDirectory:   users table
  generic.ResourceCatalog: resources table (policy stored as JSON)
  generic.ClosureCalendar: closures table

KEY TABLES:
  reservations: One row per booking; status payloads live in detail_json
  series:       Recurring definitions with their generation watermark
  waitlist:     Queued users, ordered by priority then arrival
  extensions:   Append-only extension grants (daily budget source)
  audit_log:    Append-only transition history
  sweep_runs:   One row per reconciliation sweep

INDEXES:
  - idx_reservations_resource_window: conflict detection (hot path)
  - idx_waitlist_order: promotion order
  - idx_extensions_requester_granted: daily extension budget

TIME STORAGE:
  Instants are stored as fixed-width UTC text so that lexical comparison
  in SQL agrees with chronological order. Overlap is start_at < end AND
  end_at > start.

CONCURRENCY:
  Writes are serialized twice: a process-level sync.RWMutex, and BEGIN
  IMMEDIATE (_txlock=immediate) so that a second process sharing the file
  waits for the writer instead of failing at commit. The conflict check and
  the insert that follows it therefore see the same data.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

MIGRATIONS:
  Versioned goose migrations are embedded from migrations/*.sql and applied
  on New(). `reservectl migrate` runs them without starting the server.

USAGE:
  store, err := sqlite.New("./data/campus.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := &generic.Engine{Store: store, Users: store, Resources: store, Closures: store}

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - factory/policy.go: Policy JSON stored in resources.policy_json
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/warp/reservation-engine/factory"
	"github.com/warp/reservation-engine/generic"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// timeLayout is fixed width so stored instants sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}

	store := &Store{db: db, q: queries{db: db, policies: factory.NewPolicyFactory()}}
	if _, err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies pending migrations and returns the versions it applied.
func (s *Store) Migrate(ctx context.Context) ([]int64, error) {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose up: %w", err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The generic.Store
// handed to fn is bound to the transaction and must not escape it.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx, policies: s.q.policies}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id generic.ReservationID) (*generic.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetReservation(ctx, id)
}

func (s *Store) CreateReservation(ctx context.Context, r *generic.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateReservation(ctx, r)
}

func (s *Store) UpdateReservation(ctx context.Context, r *generic.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateReservation(ctx, r)
}

func (s *Store) ListReservations(ctx context.Context, f generic.ReservationFilter) ([]*generic.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListReservations(ctx, f)
}

func (s *Store) GetSeries(ctx context.Context, id generic.SeriesID) (*generic.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetSeries(ctx, id)
}

func (s *Store) CreateSeries(ctx context.Context, sr *generic.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateSeries(ctx, sr)
}

func (s *Store) UpdateSeries(ctx context.Context, sr *generic.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateSeries(ctx, sr)
}

func (s *Store) ListSeries(ctx context.Context, activeOnly bool) ([]*generic.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListSeries(ctx, activeOnly)
}

func (s *Store) GetWaitlistEntry(ctx context.Context, id generic.WaitlistEntryID) (*generic.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetWaitlistEntry(ctx, id)
}

func (s *Store) CreateWaitlistEntry(ctx context.Context, e *generic.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateWaitlistEntry(ctx, e)
}

func (s *Store) UpdateWaitlistEntry(ctx context.Context, e *generic.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateWaitlistEntry(ctx, e)
}

func (s *Store) DeleteWaitlistEntry(ctx context.Context, id generic.WaitlistEntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.DeleteWaitlistEntry(ctx, id)
}

func (s *Store) ListWaitlist(ctx context.Context, resourceID generic.ResourceID) ([]*generic.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListWaitlist(ctx, resourceID)
}

func (s *Store) AppendExtension(ctx context.Context, rec generic.ExtensionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AppendExtension(ctx, rec)
}

func (s *Store) ListExtensions(ctx context.Context, requester generic.UserID, w generic.TimeWindow) ([]generic.ExtensionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListExtensions(ctx, requester, w)
}

func (s *Store) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AppendAudit(ctx, entry)
}

func (s *Store) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.QueryAudit(ctx, f)
}

// =============================================================================
// QUERIES - Shared by Store and transactions; never locks
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db       dbtx
	policies *factory.PolicyFactory
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// reservationDetail holds the status payloads of a reservation.
type reservationDetail struct {
	Decision     *generic.Decision     `json:"decision,omitempty"`
	Escalation   *generic.Escalation   `json:"escalation,omitempty"`
	CheckIn      *generic.CheckIn      `json:"check_in,omitempty"`
	Cancellation *generic.Cancellation `json:"cancellation,omitempty"`
	Completion   *generic.Completion   `json:"completion,omitempty"`
	NoShowAt     *time.Time            `json:"no_show_at,omitempty"`
	Extension    *generic.Extension    `json:"extension,omitempty"`
	Participants []generic.Participant `json:"participants,omitempty"`
	RemindedAt   *time.Time            `json:"reminded_at,omitempty"`
}

const reservationColumns = `id, resource_id, resource_kind, requester_id, start_at, end_at, status,
	purpose, requires_approval, series_id, detail_json, created_at, updated_at`

func (q queries) GetReservation(ctx context.Context, id generic.ReservationID) (*generic.Reservation, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, string(id))
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "reservation", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation %s: %w", id, err)
	}
	return r, nil
}

func (q queries) CreateReservation(ctx context.Context, r *generic.Reservation) error {
	detail, err := encodeDetail(r)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.ResourceID), string(r.ResourceKind), string(r.RequesterID),
		formatTime(r.Window.Start), formatTime(r.Window.End), string(r.Status),
		r.Purpose, r.RequiresApproval, seriesIDValue(r.SeriesID), detail,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return &generic.ValidationError{Field: "id", Message: "duplicate reservation id " + string(r.ID)}
	}
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (q queries) UpdateReservation(ctx context.Context, r *generic.Reservation) error {
	detail, err := encodeDetail(r)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE reservations SET
			resource_id = ?, resource_kind = ?, requester_id = ?, start_at = ?, end_at = ?,
			status = ?, purpose = ?, requires_approval = ?, series_id = ?, detail_json = ?,
			updated_at = ?
		WHERE id = ?`,
		string(r.ResourceID), string(r.ResourceKind), string(r.RequesterID),
		formatTime(r.Window.Start), formatTime(r.Window.End),
		string(r.Status), r.Purpose, r.RequiresApproval, seriesIDValue(r.SeriesID), detail,
		formatTime(r.UpdatedAt), string(r.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	return requireRow(res, "reservation", string(r.ID))
}

func (q queries) ListReservations(ctx context.Context, f generic.ReservationFilter) ([]*generic.Reservation, error) {
	var where []string
	var args []any
	if f.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, string(f.ResourceID))
	}
	if f.RequesterID != "" {
		where = append(where, "requester_id = ?")
		args = append(args, string(f.RequesterID))
	}
	if f.SeriesID != "" {
		where = append(where, "series_id = ?")
		args = append(args, string(f.SeriesID))
	}
	if f.Kind != "" {
		where = append(where, "resource_kind = ?")
		args = append(args, string(f.Kind))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.Overlapping != nil {
		where = append(where, "start_at < ? AND end_at > ?")
		args = append(args, formatTime(f.Overlapping.End), formatTime(f.Overlapping.Start))
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_at, id"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var out []*generic.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReservation(row scanner) (*generic.Reservation, error) {
	var (
		r                            generic.Reservation
		start, end, created, updated string
		seriesID                     sql.NullString
		detailJSON                   string
	)
	if err := row.Scan(
		&r.ID, &r.ResourceID, &r.ResourceKind, &r.RequesterID, &start, &end, &r.Status,
		&r.Purpose, &r.RequiresApproval, &seriesID, &detailJSON, &created, &updated,
	); err != nil {
		return nil, err
	}

	var err error
	if r.Window.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if r.Window.End, err = parseTime(end); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if seriesID.Valid {
		id := generic.SeriesID(seriesID.String)
		r.SeriesID = &id
	}

	var d reservationDetail
	if err := json.Unmarshal([]byte(detailJSON), &d); err != nil {
		return nil, fmt.Errorf("failed to decode reservation %s detail: %w", r.ID, err)
	}
	r.Decision = d.Decision
	r.Escalation = d.Escalation
	r.CheckIn = d.CheckIn
	r.Cancellation = d.Cancellation
	r.Completion = d.Completion
	r.NoShowAt = d.NoShowAt
	r.Extension = d.Extension
	r.Participants = d.Participants
	r.RemindedAt = d.RemindedAt
	return &r, nil
}

func encodeDetail(r *generic.Reservation) (string, error) {
	b, err := json.Marshal(reservationDetail{
		Decision:     r.Decision,
		Escalation:   r.Escalation,
		CheckIn:      r.CheckIn,
		Cancellation: r.Cancellation,
		Completion:   r.Completion,
		NoShowAt:     r.NoShowAt,
		Extension:    r.Extension,
		Participants: r.Participants,
		RemindedAt:   r.RemindedAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode reservation detail: %w", err)
	}
	return string(b), nil
}

func seriesIDValue(id *generic.SeriesID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

// =============================================================================
// SERIES
// =============================================================================

const seriesColumns = `id, owner_id, resource_id, rule_json, start_time_ns, duration_ns,
	timezone, purpose, last_generated, active, created_at, cancelled_at`

func (q queries) GetSeries(ctx context.Context, id generic.SeriesID) (*generic.Series, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+seriesColumns+` FROM series WHERE id = ?`, string(id))
	s, err := scanSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "series", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load series %s: %w", id, err)
	}
	return s, nil
}

func (q queries) CreateSeries(ctx context.Context, s *generic.Series) error {
	rule, err := json.Marshal(s.Rule)
	if err != nil {
		return fmt.Errorf("failed to encode recurrence rule: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO series (`+seriesColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(s.ID), string(s.OwnerID), string(s.ResourceID), string(rule),
		int64(s.StartTime), int64(s.Duration), s.Timezone, s.Purpose,
		datePtrValue(s.LastGenerated), s.Active, formatTime(s.CreatedAt), timePtrValue(s.CancelledAt),
	)
	if isUniqueConstraintError(err) {
		return &generic.ValidationError{Field: "id", Message: "duplicate series id " + string(s.ID)}
	}
	if err != nil {
		return fmt.Errorf("failed to insert series: %w", err)
	}
	return nil
}

func (q queries) UpdateSeries(ctx context.Context, s *generic.Series) error {
	rule, err := json.Marshal(s.Rule)
	if err != nil {
		return fmt.Errorf("failed to encode recurrence rule: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE series SET
			owner_id = ?, resource_id = ?, rule_json = ?, start_time_ns = ?, duration_ns = ?,
			timezone = ?, purpose = ?, last_generated = ?, active = ?, cancelled_at = ?
		WHERE id = ?`,
		string(s.OwnerID), string(s.ResourceID), string(rule), int64(s.StartTime), int64(s.Duration),
		s.Timezone, s.Purpose, datePtrValue(s.LastGenerated), s.Active, timePtrValue(s.CancelledAt),
		string(s.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update series: %w", err)
	}
	return requireRow(res, "series", string(s.ID))
}

func (q queries) ListSeries(ctx context.Context, activeOnly bool) ([]*generic.Series, error) {
	query := `SELECT ` + seriesColumns + ` FROM series`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	var out []*generic.Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSeries(row scanner) (*generic.Series, error) {
	var (
		s                   generic.Series
		ruleJSON, created   string
		startNS, durationNS int64
		lastGenerated       sql.NullString
		cancelledAt         sql.NullString
	)
	if err := row.Scan(
		&s.ID, &s.OwnerID, &s.ResourceID, &ruleJSON, &startNS, &durationNS,
		&s.Timezone, &s.Purpose, &lastGenerated, &s.Active, &created, &cancelledAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ruleJSON), &s.Rule); err != nil {
		return nil, fmt.Errorf("failed to decode series %s rule: %w", s.ID, err)
	}
	s.StartTime = time.Duration(startNS)
	s.Duration = time.Duration(durationNS)

	var err error
	if s.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if s.CancelledAt, err = parseTimePtr(cancelledAt); err != nil {
		return nil, err
	}
	if lastGenerated.Valid {
		d, err := generic.ParseDate(lastGenerated.String)
		if err != nil {
			return nil, err
		}
		s.LastGenerated = &d
	}
	return &s, nil
}

// =============================================================================
// WAITLIST
// =============================================================================

const waitlistColumns = `id, user_id, resource_id, start_at, end_at, priority, created_at,
	expires_at, offered_at, offer_expires_at`

func (q queries) GetWaitlistEntry(ctx context.Context, id generic.WaitlistEntryID) (*generic.WaitlistEntry, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+waitlistColumns+` FROM waitlist WHERE id = ?`, string(id))
	e, err := scanWaitlistEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "waitlist entry", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load waitlist entry %s: %w", id, err)
	}
	return e, nil
}

func (q queries) CreateWaitlistEntry(ctx context.Context, e *generic.WaitlistEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO waitlist (`+waitlistColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.UserID), string(e.ResourceID),
		formatTime(e.Window.Start), formatTime(e.Window.End), e.Priority, formatTime(e.CreatedAt),
		timePtrValue(e.ExpiresAt), timePtrValue(e.OfferedAt), timePtrValue(e.OfferExpiresAt),
	)
	if isUniqueConstraintError(err) {
		return &generic.ValidationError{Field: "id", Message: "duplicate waitlist entry " + string(e.ID)}
	}
	if err != nil {
		return fmt.Errorf("failed to insert waitlist entry: %w", err)
	}
	return nil
}

func (q queries) UpdateWaitlistEntry(ctx context.Context, e *generic.WaitlistEntry) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE waitlist SET
			user_id = ?, resource_id = ?, start_at = ?, end_at = ?, priority = ?,
			expires_at = ?, offered_at = ?, offer_expires_at = ?
		WHERE id = ?`,
		string(e.UserID), string(e.ResourceID), formatTime(e.Window.Start), formatTime(e.Window.End),
		e.Priority, timePtrValue(e.ExpiresAt), timePtrValue(e.OfferedAt), timePtrValue(e.OfferExpiresAt),
		string(e.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update waitlist entry: %w", err)
	}
	return requireRow(res, "waitlist entry", string(e.ID))
}

func (q queries) DeleteWaitlistEntry(ctx context.Context, id generic.WaitlistEntryID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM waitlist WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete waitlist entry: %w", err)
	}
	return requireRow(res, "waitlist entry", string(id))
}

func (q queries) ListWaitlist(ctx context.Context, resourceID generic.ResourceID) ([]*generic.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist`
	var args []any
	if resourceID != "" {
		query += ` WHERE resource_id = ?`
		args = append(args, string(resourceID))
	}
	query += ` ORDER BY priority DESC, created_at, id`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list waitlist: %w", err)
	}
	defer rows.Close()

	var out []*generic.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanWaitlistEntry(row scanner) (*generic.WaitlistEntry, error) {
	var (
		e                                generic.WaitlistEntry
		start, end, created              string
		expiresAt, offeredAt, offerUntil sql.NullString
	)
	if err := row.Scan(
		&e.ID, &e.UserID, &e.ResourceID, &start, &end, &e.Priority, &created,
		&expiresAt, &offeredAt, &offerUntil,
	); err != nil {
		return nil, err
	}

	var err error
	if e.Window.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if e.Window.End, err = parseTime(end); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, err
	}
	if e.OfferedAt, err = parseTimePtr(offeredAt); err != nil {
		return nil, err
	}
	if e.OfferExpiresAt, err = parseTimePtr(offerUntil); err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// EXTENSION LEDGER (append-only)
// =============================================================================

func (q queries) AppendExtension(ctx context.Context, rec generic.ExtensionRecord) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO extensions (id, reservation_id, resource_id, requester_id, hours_value, hours_unit, granted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.ReservationID), string(rec.ResourceID), string(rec.RequesterID),
		rec.Hours.Value.String(), string(rec.Hours.Unit), formatTime(rec.GrantedAt),
	)
	if isUniqueConstraintError(err) {
		return &generic.ValidationError{Field: "id", Message: "duplicate extension record " + rec.ID}
	}
	if err != nil {
		return fmt.Errorf("failed to append extension: %w", err)
	}
	return nil
}

func (q queries) ListExtensions(ctx context.Context, requester generic.UserID, w generic.TimeWindow) ([]generic.ExtensionRecord, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, reservation_id, resource_id, requester_id, hours_value, hours_unit, granted_at
		FROM extensions
		WHERE requester_id = ? AND granted_at >= ? AND granted_at < ?
		ORDER BY granted_at, id`,
		string(requester), formatTime(w.Start), formatTime(w.End),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list extensions: %w", err)
	}
	defer rows.Close()

	var out []generic.ExtensionRecord
	for rows.Next() {
		var rec generic.ExtensionRecord
		var value, unit, granted string
		if err := rows.Scan(&rec.ID, &rec.ReservationID, &rec.ResourceID, &rec.RequesterID, &value, &unit, &granted); err != nil {
			return nil, err
		}
		rec.Hours = parseAmount(value, unit)
		if rec.GrantedAt, err = parseTime(granted); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT LOG (append-only)
// =============================================================================

func (q queries) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	var payload sql.NullString
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode audit payload: %w", err)
		}
		payload = nullString(string(b))
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, reservation_id, resource_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.At), string(e.ActorID), string(e.Action),
		string(e.ReservationID), string(e.ResourceID), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (q queries) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var where []string
	var args []any
	if f.ReservationID != "" {
		where = append(where, "reservation_id = ?")
		args = append(args, string(f.ReservationID))
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, string(f.ActorID))
	}
	if len(f.Actions) > 0 {
		where = append(where, "action IN ("+placeholders(len(f.Actions))+")")
		for _, a := range f.Actions {
			args = append(args, string(a))
		}
	}
	if f.From != nil {
		where = append(where, "at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "at <= ?")
		args = append(args, formatTime(*f.To))
	}

	query := `SELECT id, at, actor_id, action, reservation_id, resource_id, payload_json FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at, seq"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var e generic.AuditEntry
		var at string
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.Action, &e.ReservationID, &e.ResourceID, &payload); err != nil {
			return nil, err
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

func timePtrValue(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullString(formatTime(*t))
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func datePtrValue(d *generic.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return nullString(d.String())
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseAmount(value, unit string) generic.Amount {
	return generic.Amount{
		Value: generic.MustParseDecimal(value),
		Unit:  generic.Unit(unit),
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
