/*
series.go - Recurring series generator

PURPOSE:
  A RecurringSeries describes a repeating booking (every Tuesday 14:00-16:00
  in Lab 2 until the end of term). It does not own its reservations; each
  occurrence is an ordinary reservation created through the normal
  creation path with a back-reference to the series.

GENERATION:
  generate(series, upTo) covers [watermark + 1 day, min(upTo, endDate)]:

    for each occurrence date d in range:
        past start        → skipped
        location closed   → skipped
        conflict / limit  → skipped (reason recorded)
        infrastructure    → stop; watermark = d - 1 so d is retried
        otherwise         → created
    watermark = last date covered

  The watermark only moves forward, so generating twice up to the same
  date never creates duplicates.

RULES:
  DAILY    every Interval days from StartDate
  WEEKLY   on DaysOfWeek (default: StartDate's weekday) every Interval weeks
  MONTHLY  on StartDate's day of month every Interval months; months
           without that day are skipped
  CUSTOM   exactly the listed Dates

CANCELLATION:
  Cancelling a series marks it inactive and cancels its live instances that
  have not started. Past instances keep their history.
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// RECURRENCE RULE
// =============================================================================

type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyCustom  Frequency = "CUSTOM"
)

type RecurrenceRule struct {
	Frequency  Frequency      `json:"frequency"`
	Interval   int            `json:"interval,omitempty"`
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`
	Dates      []Date         `json:"dates,omitempty"`
	StartDate  Date           `json:"start_date"`
	// EndDate is inclusive; zero means open-ended (bounded by the horizon).
	EndDate Date `json:"end_date,omitempty"`
}

func (r RecurrenceRule) Validate() error {
	if r.StartDate.IsZero() {
		return invalid("rule.start_date", "required")
	}
	if !r.EndDate.IsZero() && r.EndDate.Before(r.StartDate) {
		return invalid("rule.end_date", "before start date")
	}
	if r.Interval < 0 {
		return invalid("rule.interval", "must not be negative")
	}
	switch r.Frequency {
	case FrequencyDaily, FrequencyMonthly:
	case FrequencyWeekly:
		for _, d := range r.DaysOfWeek {
			if d < time.Sunday || d > time.Saturday {
				return invalid("rule.days_of_week", "invalid weekday %d", d)
			}
		}
	case FrequencyCustom:
		if len(r.Dates) == 0 {
			return invalid("rule.dates", "custom rule needs at least one date")
		}
	default:
		return invalid("rule.frequency", "unknown frequency %q", r.Frequency)
	}
	return nil
}

func (r RecurrenceRule) interval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// Matches reports whether d is an occurrence, ignoring the range bounds.
func (r RecurrenceRule) Matches(d Date) bool {
	if d.Before(r.StartDate) {
		return false
	}
	switch r.Frequency {
	case FrequencyDaily:
		return d.DaysSince(r.StartDate)%r.interval() == 0
	case FrequencyWeekly:
		days := r.DaysOfWeek
		if len(days) == 0 {
			days = []time.Weekday{r.StartDate.Weekday()}
		}
		found := false
		for _, wd := range days {
			if d.Weekday() == wd {
				found = true
				break
			}
		}
		if !found {
			return false
		}
		week := mondayOf(d).DaysSince(mondayOf(r.StartDate)) / 7
		return week%r.interval() == 0
	case FrequencyMonthly:
		if d.Day != r.StartDate.Day {
			return false
		}
		months := (d.Year-r.StartDate.Year)*12 + int(d.Month) - int(r.StartDate.Month)
		return months%r.interval() == 0
	case FrequencyCustom:
		for _, x := range r.Dates {
			if x == d {
				return true
			}
		}
	}
	return false
}

// Occurrences lists the occurrence dates within [from, to], clipped to the
// rule's own bounds.
func (r RecurrenceRule) Occurrences(from, to Date) []Date {
	if from.Before(r.StartDate) {
		from = r.StartDate
	}
	if !r.EndDate.IsZero() && r.EndDate.Before(to) {
		to = r.EndDate
	}
	var out []Date
	if r.Frequency == FrequencyCustom {
		for _, d := range r.Dates {
			if !d.Before(from) && !d.After(to) {
				out = append(out, d)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
		return out
	}
	for d := from; !d.After(to); d = d.AddDays(1) {
		if r.Matches(d) {
			out = append(out, d)
		}
	}
	return out
}

func mondayOf(d Date) Date {
	return d.AddDays(-((int(d.Weekday()) + 6) % 7))
}

// =============================================================================
// SERIES
// =============================================================================

type Series struct {
	ID         SeriesID
	OwnerID    UserID
	ResourceID ResourceID
	Rule       RecurrenceRule
	// StartTime is the offset from local midnight.
	StartTime time.Duration
	Duration  time.Duration
	Timezone  string
	Purpose   string
	// LastGenerated is the watermark: every date up to it has been attempted.
	LastGenerated *Date
	Active        bool
	CreatedAt     time.Time
	CancelledAt   *time.Time
}

func (s *Series) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WindowOn returns the occurrence window for day d.
func (s *Series) WindowOn(d Date) TimeWindow {
	start := d.At(s.StartTime, s.Location())
	return TimeWindow{Start: start, End: start.Add(s.Duration)}
}

// NextDate is the first date not yet covered by the watermark.
func (s *Series) NextDate() Date {
	if s.LastGenerated == nil {
		return s.Rule.StartDate
	}
	return s.LastGenerated.AddDays(1)
}

// Exhausted reports whether the watermark has passed the rule's end.
func (s *Series) Exhausted() bool {
	return !s.Rule.EndDate.IsZero() && s.LastGenerated != nil && !s.LastGenerated.Before(s.Rule.EndDate)
}

type CreateSeriesRequest struct {
	ResourceID ResourceID
	Rule       RecurrenceRule
	StartTime  time.Duration
	Duration   time.Duration
	Purpose    string
}

type SkippedOccurrence struct {
	Date   Date
	Reason string
	Err    error
}

type GenerationReport struct {
	SeriesID  SeriesID
	From      Date
	To        Date
	Created   []ReservationID
	Skipped   []SkippedOccurrence
	Watermark *Date
}

// =============================================================================
// ENGINE OPERATIONS
// =============================================================================

// CreateSeries stores the series and materializes it up to the horizon.
func (e *Engine) CreateSeries(ctx context.Context, actor Actor, req CreateSeriesRequest) (*Series, *GenerationReport, error) {
	if err := req.Rule.Validate(); err != nil {
		return nil, nil, err
	}
	if req.Duration <= 0 {
		return nil, nil, invalid("duration", "must be positive")
	}
	if req.StartTime < 0 || req.StartTime >= 24*time.Hour {
		return nil, nil, invalid("start_time", "must be within the day")
	}
	res, err := e.resource(ctx, req.ResourceID)
	if err != nil {
		return nil, nil, err
	}
	if res.Policy.MaxDuration > 0 && req.Duration > res.Policy.MaxDuration {
		return nil, nil, invalid("duration", "exceeds maximum %s", res.Policy.MaxDuration)
	}

	now := e.now()
	s := &Series{
		ID:         SeriesID(e.newID()),
		OwnerID:    actor.ID,
		ResourceID: res.ID,
		Rule:       req.Rule,
		StartTime:  req.StartTime,
		Duration:   req.Duration,
		Timezone:   res.Policy.Timezone,
		Purpose:    req.Purpose,
		Active:     true,
		CreatedAt:  now,
	}
	err = e.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateSeries(ctx, s); err != nil {
			return fmt.Errorf("failed to create series: %w", err)
		}
		return e.audit(ctx, tx, actor, AuditSeriesCreated, nil, map[string]any{
			"series_id": string(s.ID), "resource_id": string(res.ID), "frequency": string(req.Rule.Frequency),
		})
	})
	if err != nil {
		return nil, nil, err
	}
	e.log().Info("series created", "series_id", s.ID, "resource_id", res.ID, "owner_id", actor.ID)

	report, err := e.GenerateSeriesUpTo(ctx, actor, s.ID, DateOf(now.Add(e.horizon()).In(s.Location())))
	if err != nil {
		return s, report, err
	}
	s, err = e.Store.GetSeries(ctx, s.ID)
	return s, report, err
}

// GenerateSeriesUpTo materializes occurrences after the watermark up to upTo.
func (e *Engine) GenerateSeriesUpTo(ctx context.Context, actor Actor, id SeriesID, upTo Date) (*GenerationReport, error) {
	s, err := e.Store.GetSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.OwnerID != actor.ID && !actor.IsAdmin() {
		return nil, forbidden(actor, "generate", s.ID)
	}
	if !s.Active {
		return nil, invalid("series", "series %s is cancelled", s.ID)
	}
	owner, err := e.user(ctx, s.OwnerID)
	if err != nil {
		return nil, err
	}
	res, err := e.resource(ctx, s.ResourceID)
	if err != nil {
		return nil, err
	}

	from, to := s.NextDate(), upTo
	if !s.Rule.EndDate.IsZero() && s.Rule.EndDate.Before(to) {
		to = s.Rule.EndDate
	}
	report := &GenerationReport{SeriesID: s.ID, From: from, To: to, Watermark: s.LastGenerated}
	if from.After(to) {
		return report, nil
	}

	now := e.now()
	watermark := to
	var stop error
	for _, d := range s.Rule.Occurrences(from, to) {
		created, skip, err := e.generateOne(ctx, owner.Actor(), s, res, d, now)
		if errors.Is(err, errSeriesInactive) {
			e.log().Info("series cancelled during generation", "series_id", s.ID, "at", d.String())
			return report, nil
		}
		if err != nil {
			watermark = d.AddDays(-1)
			stop = fmt.Errorf("series %s stopped at %s: %w", s.ID, d, err)
			break
		}
		if skip != nil {
			report.Skipped = append(report.Skipped, *skip)
			continue
		}
		report.Created = append(report.Created, created)
	}

	if err := e.advanceWatermark(ctx, s.ID, watermark, report); err != nil {
		return report, errors.Join(stop, fmt.Errorf("failed to advance watermark: %w", err))
	}

	e.log().Info("series generated",
		"series_id", s.ID, "from", from.String(), "to", watermark.String(),
		"created", len(report.Created), "skipped", len(report.Skipped))
	return report, stop
}

// errSeriesInactive stops generation when the series was cancelled after
// generation started.
var errSeriesInactive = errors.New("series is no longer active")

// errAlreadyGenerated marks a date a concurrent generation already handled.
var errAlreadyGenerated = errors.New("occurrence already generated")

// advanceWatermark moves the stored watermark forward to d. It re-reads the
// series so a concurrent cancel or generation is never overwritten, and it
// never moves the watermark backwards.
func (e *Engine) advanceWatermark(ctx context.Context, id SeriesID, d Date, report *GenerationReport) error {
	return e.Store.WithTx(ctx, func(tx Store) error {
		cur, err := tx.GetSeries(ctx, id)
		if err != nil {
			return err
		}
		report.Watermark = cur.LastGenerated
		if cur.LastGenerated != nil && !d.After(*cur.LastGenerated) {
			return nil
		}
		cur.LastGenerated = &d
		if err := tx.UpdateSeries(ctx, cur); err != nil {
			return err
		}
		report.Watermark = cur.LastGenerated
		return nil
	})
}

// generateOne creates the occurrence on d. It returns a skip record for
// expected refusals and an error only for infrastructure failures.
func (e *Engine) generateOne(ctx context.Context, owner Actor, s *Series, res *Resource, d Date, now time.Time) (ReservationID, *SkippedOccurrence, error) {
	window := s.WindowOn(d)
	if window.Start.Before(now) {
		return "", &SkippedOccurrence{Date: d, Reason: "past"}, nil
	}
	closed, err := e.closures().IsClosed(ctx, res.Location, d)
	if err != nil {
		return "", nil, err
	}
	if closed {
		return "", &SkippedOccurrence{Date: d, Reason: "closed"}, nil
	}
	sid := s.ID
	p, err := e.prepare(ctx, owner, CreateRequest{
		ResourceID: s.ResourceID,
		Window:     window,
		Purpose:    s.Purpose,
		seriesID:   &sid,
	}, now)
	if err == nil {
		err = e.Store.WithTx(ctx, func(tx Store) error {
			cur, err := tx.GetSeries(ctx, s.ID)
			if err != nil {
				return err
			}
			if !cur.Active {
				return errSeriesInactive
			}
			if cur.LastGenerated != nil && !d.After(*cur.LastGenerated) {
				return errAlreadyGenerated
			}
			if err := e.insert(ctx, tx, owner, p); err != nil {
				return err
			}
			cur.LastGenerated = &d
			return tx.UpdateSeries(ctx, cur)
		})
	}
	if errors.Is(err, errAlreadyGenerated) {
		return "", &SkippedOccurrence{Date: d, Reason: "generated"}, nil
	}
	if err != nil {
		if errors.Is(err, errSeriesInactive) {
			return "", nil, err
		}
		if IsClientError(err) {
			return "", &SkippedOccurrence{Date: d, Reason: skipReason(err), Err: err}, nil
		}
		return "", nil, err
	}
	e.emit(ctx, reservationEvent(EventCreated, p.r, now))
	return p.r.ID, nil, nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrLimitExceeded):
		return "limit"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "invalid"
	}
}

// CancelSeries deactivates the series and cancels its live instances that
// have not started yet.
func (e *Engine) CancelSeries(ctx context.Context, actor Actor, id SeriesID) ([]ReservationID, error) {
	now := e.now()
	var s *Series
	err := e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if s, err = tx.GetSeries(ctx, id); err != nil {
			return err
		}
		if s.OwnerID != actor.ID && !actor.IsAdmin() {
			return forbidden(actor, "cancel", s.ID)
		}
		if !s.Active {
			return invalid("series", "series %s is already cancelled", s.ID)
		}
		s.Active = false
		s.CancelledAt = &now
		if err := tx.UpdateSeries(ctx, s); err != nil {
			return fmt.Errorf("failed to update series: %w", err)
		}
		return e.audit(ctx, tx, actor, AuditSeriesEnded, nil, map[string]any{"series_id": string(s.ID)})
	})
	if err != nil {
		return nil, err
	}

	instances, err := e.Store.ListReservations(ctx, ReservationFilter{SeriesID: id, Statuses: LiveStatuses})
	if err != nil {
		return nil, fmt.Errorf("failed to list series reservations: %w", err)
	}
	var cancelled []ReservationID
	var errs []error
	for _, r := range instances {
		if !r.Window.Start.After(now) {
			continue
		}
		if _, err := e.CancelReservation(ctx, actor, r.ID, "series cancelled"); err != nil {
			errs = append(errs, fmt.Errorf("reservation %s: %w", r.ID, err))
			continue
		}
		cancelled = append(cancelled, r.ID)
	}

	e.log().Info("series cancelled", "series_id", id, "cancelled", len(cancelled), "failed", len(errs))
	e.emit(ctx, Event{
		Type:       EventSeriesCancelled,
		At:         now,
		ResourceID: s.ResourceID,
		UserID:     s.OwnerID,
		Attributes: map[string]string{"series_id": string(id)},
	})
	return cancelled, errors.Join(errs...)
}
