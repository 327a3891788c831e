package generic

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// CLOCK - Injected "now" so the sweep and tests control time
// =============================================================================

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// ManualClock is a settable clock for tests and for `reservectl sweep --at`.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(t time.Time) *ManualClock { return &ManualClock{now: t} }

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// =============================================================================
// DATE - Civil calendar day (series rules, closures, day budgets)
// =============================================================================

type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, invalid("date", "expected YYYY-MM-DD, got %q", s)
	}
	return DateOf(t), nil
}

func (d Date) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// At returns the instant at the given offset from midnight in loc.
func (d Date) At(offset time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	base := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
	return base.Add(offset)
}

func (d Date) AddDays(n int) Date    { return DateOf(d.midnight().AddDate(0, 0, n)) }
func (d Date) Before(o Date) bool    { return d.midnight().Before(o.midnight()) }
func (d Date) After(o Date) bool     { return d.midnight().After(o.midnight()) }
func (d Date) Equal(o Date) bool     { return d == o }
func (d Date) Weekday() time.Weekday { return d.midnight().Weekday() }
func (d Date) IsZero() bool          { return d == Date{} }
func (d Date) DaysSince(o Date) int  { return int(d.midnight().Sub(o.midnight()).Hours() / 24) }
func (d Date) String() string        { return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day) }

// MarshalText encodes the zero Date as an empty string.
func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	p, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// DayWindow returns the calendar day containing t, evaluated in loc.
func DayWindow(t time.Time, loc *time.Location) TimeWindow {
	if loc == nil {
		loc = time.UTC
	}
	day := DateOf(t.In(loc))
	return TimeWindow{Start: day.At(0, loc), End: day.AddDays(1).At(0, loc)}
}

// WeekWindow returns the Monday-based week containing t, evaluated in loc.
func WeekWindow(t time.Time, loc *time.Location) TimeWindow {
	if loc == nil {
		loc = time.UTC
	}
	day := DateOf(t.In(loc))
	offset := (int(day.Weekday()) + 6) % 7
	monday := day.AddDays(-offset)
	return TimeWindow{Start: monday.At(0, loc), End: monday.AddDays(7).At(0, loc)}
}

// =============================================================================
// CLOSURE CALENDAR - Days a location is shut (series generation skips them)
// =============================================================================

type Closure struct {
	Location string
	Date     Date
	Reason   string
}

// ClosureCalendar answers whether a location is closed on a given day.
// An empty Location on a closure means campus-wide.
type ClosureCalendar interface {
	IsClosed(ctx context.Context, location string, day Date) (bool, error)
}

type NoClosures struct{}

func (NoClosures) IsClosed(context.Context, string, Date) (bool, error) { return false, nil }

// StaticClosures is an in-process closure list.
type StaticClosures []Closure

func (s StaticClosures) IsClosed(_ context.Context, location string, day Date) (bool, error) {
	for _, c := range s {
		if c.Date == day && (c.Location == "" || c.Location == location) {
			return true, nil
		}
	}
	return false, nil
}
