package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME WINDOW - Half-open interval [Start, End)
// =============================================================================

// TimeWindow is the booked interval. End is exclusive, so a window ending at
// 11:00 and one starting at 11:00 do not overlap.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow builds a window and rejects zero-length or inverted ranges.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	w := TimeWindow{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return TimeWindow{}, err
	}
	return w, nil
}

func (w TimeWindow) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return invalid("window", "start and end are required")
	}
	if !w.Start.Before(w.End) {
		return invalid("window", "start %s must be before end %s",
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

func (w TimeWindow) Duration() time.Duration { return w.End.Sub(w.Start) }

// Overlaps reports s1 < e2 && s2 < e1.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Contains reports whether t falls in [Start, End).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Covers reports whether o lies entirely inside w.
func (w TimeWindow) Covers(o TimeWindow) bool {
	return !o.Start.Before(w.Start) && !o.End.After(w.End)
}

// Intersect returns the overlapping part and false when there is none.
func (w TimeWindow) Intersect(o TimeWindow) (TimeWindow, bool) {
	if !w.Overlaps(o) {
		return TimeWindow{}, false
	}
	start, end := w.Start, w.End
	if o.Start.After(start) {
		start = o.Start
	}
	if o.End.Before(end) {
		end = o.End
	}
	return TimeWindow{Start: start, End: end}, true
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
