package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/reservation-engine/generic"
)

// =============================================================================
// USER DIRECTORY (generic.UserDirectory)
// =============================================================================

// PutUser inserts or replaces a user.
func (s *Store) PutUser(ctx context.Context, u generic.User) error {
	if u.ID == "" {
		return &generic.ValidationError{Field: "user.id", Message: "required"}
	}
	if !u.Role.Valid() {
		return &generic.ValidationError{Field: "user.role", Message: "unknown role " + string(u.Role)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, role, location) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			location = excluded.location`,
		string(u.ID), u.Name, string(u.Role), u.Location,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id generic.UserID) (*generic.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u generic.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, role, location FROM users WHERE id = ?`, string(id),
	).Scan(&u.ID, &u.Name, &u.Role, &u.Location)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "user", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]generic.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, role, location FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []generic.User
	for rows.Next() {
		var u generic.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.Location); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// =============================================================================
// RESOURCE CATALOG (generic.ResourceCatalog)
// =============================================================================

// PutResource inserts or replaces a resource. A resource without its own
// policy is stored with its kind's defaults.
func (s *Store) PutResource(ctx context.Context, r generic.Resource) error {
	r.Policy = generic.PolicyFor(r)
	if err := r.Validate(); err != nil {
		return err
	}
	policy, err := s.q.policies.MarshalPolicy(r.Policy)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources (id, kind, name, location, capacity, units, policy_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			location = excluded.location,
			capacity = excluded.capacity,
			units = excluded.units,
			policy_json = excluded.policy_json`,
		string(r.ID), string(r.Kind), r.Name, r.Location, r.Capacity, r.Units, policy,
	)
	if err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}
	return nil
}

const resourceColumns = `id, kind, name, location, capacity, units, policy_json`

func (s *Store) GetResource(ctx context.Context, id generic.ResourceID) (*generic.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, string(id))
	r, err := s.scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "resource", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load resource: %w", err)
	}
	return r, nil
}

// ListResources returns the catalog, optionally narrowed to one kind.
func (s *Store) ListResources(ctx context.Context, kind generic.ResourceKind) ([]generic.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + resourceColumns + ` FROM resources`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var out []generic.Resource
	for rows.Next() {
		r, err := s.scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) scanResource(row scanner) (*generic.Resource, error) {
	var r generic.Resource
	var policyJSON string
	if err := row.Scan(&r.ID, &r.Kind, &r.Name, &r.Location, &r.Capacity, &r.Units, &policyJSON); err != nil {
		return nil, err
	}
	policy, err := s.q.policies.ParsePolicy(policyJSON)
	if err != nil {
		return nil, fmt.Errorf("resource %s has an invalid stored policy: %w", r.ID, err)
	}
	r.Policy = policy
	return &r, nil
}

// =============================================================================
// CLOSURE CALENDAR (generic.ClosureCalendar)
// =============================================================================

// PutClosure records a closure. An empty location closes the whole campus.
func (s *Store) PutClosure(ctx context.Context, c generic.Closure) error {
	if c.Date.IsZero() {
		return &generic.ValidationError{Field: "closure.date", Message: "required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO closures (location, date, reason) VALUES (?, ?, ?)
		ON CONFLICT(location, date) DO UPDATE SET reason = excluded.reason`,
		c.Location, c.Date.String(), c.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to save closure: %w", err)
	}
	return nil
}

func (s *Store) IsClosed(ctx context.Context, location string, day generic.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM closures
		WHERE date = ? AND (location = '' OR location = ?)`,
		day.String(), location,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check closures: %w", err)
	}
	return count > 0, nil
}

func (s *Store) ListClosures(ctx context.Context) ([]generic.Closure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT location, date, reason FROM closures ORDER BY date, location`)
	if err != nil {
		return nil, fmt.Errorf("failed to list closures: %w", err)
	}
	defer rows.Close()

	var out []generic.Closure
	for rows.Next() {
		var c generic.Closure
		var date string
		if err := rows.Scan(&c.Location, &date, &c.Reason); err != nil {
			return nil, err
		}
		if c.Date, err = generic.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
