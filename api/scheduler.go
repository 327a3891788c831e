/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically runs Engine.Sweep so time-driven transitions happen without
  a request: no-shows, completions, lapsed approvals, reminders, waitlist
  offers that ran out, and series materialization up to the horizon.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on start
  - Each sweep is recorded (SweepRecorder) for audit and GET /api/admin/sweeps
  - A failed sweep is logged; the next tick tries again

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(engine, store)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - generic/reconcile.go: Sweep planner and apply
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/reservation-engine/generic"
)

// SweepRecorder stores sweep outcomes. *sqlite.Store implements it.
type SweepRecorder interface {
	RecordSweep(ctx context.Context, report generic.SweepReport) error
}

// ReconciliationScheduler runs the sweep on a ticker.
type ReconciliationScheduler struct {
	Engine        *generic.Engine
	Recorder      SweepRecorder
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler. recorder may be nil.
func NewReconciliationScheduler(engine *generic.Engine, recorder SweepRecorder) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Engine:        engine,
		Recorder:      recorder,
		Logger:        slog.Default(),
		CheckInterval: time.Minute,
		Enabled:       true,
	}
}

// Start begins the scheduler. Starting a running scheduler is a no-op.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	logger := rs.logger()
	if !rs.Enabled {
		logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	logger.Info("scheduler started", "interval", rs.CheckInterval.String())
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.logger().Info("scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run immediately on start
	rs.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			rs.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce sweeps and records the result.
func (rs *ReconciliationScheduler) RunOnce(ctx context.Context) (generic.SweepReport, error) {
	report, err := runSweep(ctx, rs.Engine, rs.Recorder, rs.logger())
	if err != nil {
		rs.logger().Error("sweep failed", "error", err)
	}
	return report, err
}

func (rs *ReconciliationScheduler) logger() *slog.Logger {
	if rs.Logger == nil {
		return slog.Default()
	}
	return rs.Logger
}

// runSweep is shared by the scheduler and the admin endpoint.
func runSweep(ctx context.Context, engine *generic.Engine, recorder SweepRecorder, logger *slog.Logger) (generic.SweepReport, error) {
	started := time.Now()
	report, err := engine.Sweep(ctx)
	if err != nil {
		return report, fmt.Errorf("sweep: %w", err)
	}
	for _, f := range report.Failures {
		logger.Warn("sweep item failed", "kind", f.Kind, "id", f.ID, "error", f.Err)
	}
	if recorder != nil {
		if err := recorder.RecordSweep(ctx, report); err != nil {
			return report, fmt.Errorf("failed to record sweep: %w", err)
		}
	}
	if report.Processed() > 0 || len(report.Failures) > 0 {
		logger.Info("sweep completed",
			"at", report.At,
			"processed", report.Processed(),
			"no_shows", report.NoShows,
			"completions", report.Completions,
			"lapsed_approvals", report.LapsedApprovals,
			"reminders", report.Reminders,
			"lapsed_offers", report.LapsedOffers,
			"series_generated", report.SeriesGenerated,
			"skipped", report.Skipped,
			"failures", len(report.Failures),
			"took", time.Since(started).String())
	}
	return report, nil
}
