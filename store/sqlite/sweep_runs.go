package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/reservation-engine/generic"
)

// =============================================================================
// SWEEP RUNS
// =============================================================================

// SweepRun is the stored outcome of one reconciliation sweep.
type SweepRun struct {
	ID              string    `json:"id"`
	At              time.Time `json:"at"`
	NoShows         int       `json:"no_shows"`
	Completions     int       `json:"completions"`
	LapsedApprovals int       `json:"lapsed_approvals"`
	Reminders       int       `json:"reminders"`
	LapsedOffers    int       `json:"lapsed_offers"`
	ExpiredEntries  int       `json:"expired_entries"`
	SeriesGenerated int       `json:"series_generated"`
	Skipped         int       `json:"skipped"`
	Failures        []string  `json:"failures,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (r SweepRun) Processed() int {
	return r.NoShows + r.Completions + r.LapsedApprovals + r.Reminders +
		r.LapsedOffers + r.ExpiredEntries + r.SeriesGenerated
}

// NewSweepRun flattens a report for storage.
func NewSweepRun(report generic.SweepReport) SweepRun {
	run := SweepRun{
		ID:              uuid.NewString(),
		At:              report.At,
		NoShows:         report.NoShows,
		Completions:     report.Completions,
		LapsedApprovals: report.LapsedApprovals,
		Reminders:       report.Reminders,
		LapsedOffers:    report.LapsedOffers,
		ExpiredEntries:  report.ExpiredEntries,
		SeriesGenerated: report.SeriesGenerated,
		Skipped:         report.Skipped,
		CreatedAt:       time.Now().UTC(),
	}
	for _, f := range report.Failures {
		run.Failures = append(run.Failures, fmt.Sprintf("%s %s: %v", f.Kind, f.ID, f.Err))
	}
	return run
}

// RecordSweep stores the report of a finished sweep.
func (s *Store) RecordSweep(ctx context.Context, report generic.SweepReport) error {
	return s.SaveSweepRun(ctx, NewSweepRun(report))
}

func (s *Store) SaveSweepRun(ctx context.Context, run SweepRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	b, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode sweep run: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, at, processed, skipped, failures, report_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.At), run.Processed(), run.Skipped, len(run.Failures),
		string(b), formatTime(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save sweep run: %w", err)
	}
	return nil
}

// ListSweepRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListSweepRuns(ctx context.Context, limit int) ([]SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT report_json FROM sweep_runs ORDER BY at DESC, created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep runs: %w", err)
	}
	defer rows.Close()

	var runs []SweepRun
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var run SweepRun
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			return nil, fmt.Errorf("failed to decode sweep run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
