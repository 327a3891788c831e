/*
conflict.go - Conflict detection for single-occupancy and pooled resources

PURPOSE:
  Decides whether a candidate window can be granted on a resource given the
  live reservations that already hold it. One detector serves every kind;
  the resource policy's Exclusivity picks the counting rule.

ALGORITHM:
  Live reservations overlapping the candidate window are clipped to it and
  swept as a load profile (number of concurrent bookings per segment).

    candidate      [==========================)
    booking A      [=======)
    booking B           [============)
    load           1    2  1         0

  Single occupancy: capacity 1, so any load conflicts.
  Quantity pool:    conflict iff peak load >= available units. The count of
                    overlapping bookings is an upper bound of the peak, so
                    the pool is never oversubscribed at any instant.

  Segments whose load is below capacity are reported as free sub-windows.
  No free segment at all means FULLY_BOOKED, otherwise PARTIALLY_AVAILABLE.

  Touching windows ([9,10) and [10,11)) never overlap.

SEE ALSO:
  - window.go: Overlap predicate
  - extension.go: Delta-window checks
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
// PURE DETECTOR
// =============================================================================

// DetectConflict returns nil when window fits on the resource, or a
// *ConflictError describing the contention. excluding is ignored when empty.
func DetectConflict(res Resource, window TimeWindow, existing []*Reservation, excluding ReservationID) *ConflictError {
	capacity := res.AvailableUnits()

	var clipped []TimeWindow
	var ids []ReservationID
	for _, r := range existing {
		if r.ResourceID != res.ID || !r.Status.IsLive() {
			continue
		}
		if excluding != "" && r.ID == excluding {
			continue
		}
		part, ok := window.Intersect(r.Window)
		if !ok {
			continue
		}
		clipped = append(clipped, part)
		ids = append(ids, r.ID)
	}
	if len(clipped) < capacity {
		return nil
	}

	bounds := []time.Time{window.Start, window.End}
	for _, c := range clipped {
		bounds = append(bounds, c.Start, c.End)
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].Before(bounds[j]) })

	peak := 0
	var free []TimeWindow
	for i := 0; i+1 < len(bounds); i++ {
		seg := TimeWindow{Start: bounds[i], End: bounds[i+1]}
		if !seg.Start.Before(seg.End) {
			continue
		}
		load := 0
		for _, c := range clipped {
			if c.Contains(seg.Start) {
				load++
			}
		}
		if load > peak {
			peak = load
		}
		if load < capacity {
			if n := len(free); n > 0 && free[n-1].End.Equal(seg.Start) {
				free[n-1].End = seg.End
			} else {
				free = append(free, seg)
			}
		}
	}
	if peak < capacity {
		return nil
	}

	availability := PartiallyAvailable
	if len(free) == 0 {
		availability = FullyBooked
	}
	return &ConflictError{
		ResourceID:   res.ID,
		Window:       window,
		Availability: availability,
		Capacity:     capacity,
		PeakLoad:     peak,
		Conflicting:  ids,
		Free:         free,
	}
}

// =============================================================================
// ENGINE ENTRY POINTS
// =============================================================================

// checkConflict runs the detector against the store view s, which inside
// WithTx is the transaction. Active waitlist offers count as bookings unless
// they belong to holder.
func (e *Engine) checkConflict(ctx context.Context, s Store, res Resource, window TimeWindow, excluding ReservationID, holder UserID) error {
	existing, err := s.ListReservations(ctx, ReservationFilter{
		ResourceID:  res.ID,
		Statuses:    LiveStatuses,
		Overlapping: &window,
	})
	if err != nil {
		return fmt.Errorf("failed to load reservations: %w", err)
	}
	holds, err := e.offerHolds(ctx, s, res.ID, holder)
	if err != nil {
		return err
	}
	if c := DetectConflict(res, window, append(existing, holds...), excluding); c != nil {
		return c
	}
	return nil
}

// Conflicts reports whether window conflicts on the resource.
func (e *Engine) Conflicts(ctx context.Context, resourceID ResourceID, window TimeWindow, excluding ReservationID) (bool, error) {
	_, err := e.Availability(ctx, resourceID, window, excluding)
	if err == nil {
		return false, nil
	}
	var c *ConflictError
	if errors.As(err, &c) {
		return true, nil
	}
	return false, err
}

// Availability returns the resource and, when the window is contended, the
// *ConflictError with free sub-windows.
func (e *Engine) Availability(ctx context.Context, resourceID ResourceID, window TimeWindow, excluding ReservationID) (*Resource, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	res, err := e.resource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return res, e.checkConflict(ctx, e.Store, *res, window, excluding, "")
}
