/*
waitlist.go - Waitlist manager

PURPOSE:
  Users who cannot get a slot join the resource's waitlist for their
  desired window. When capacity frees up (cancellation, rejection, early
  checkout, no-show) the freed window is offered to waiting users in order.

ORDERING:
  (priority desc, createdAt asc). Admins may set an explicit priority;
  everyone else gets the priority of their role (see WaitlistPriority).

OFFERS:
  Promotion walks the queue and offers the slot to every entry whose
  desired window now fits, counting earlier offers as holds so the pool is
  never offered twice. An offer is held for policy.OfferTTL:

    offered ──accept──▶ reservation created, entry deleted (one tx)
       │
       ├──decline / leave──▶ entry deleted, promotion re-runs
       └──TTL passes (sweep)──▶ entry deleted, promotion re-runs

  Entries whose expiry or desired start has passed are purged by the sweep.
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// WAITLIST ENTRY
// =============================================================================

type WaitlistEntry struct {
	ID         WaitlistEntryID
	UserID     UserID
	ResourceID ResourceID
	Window     TimeWindow
	Priority   int
	CreatedAt  time.Time
	// ExpiresAt defaults to the desired window's start.
	ExpiresAt      *time.Time
	OfferedAt      *time.Time
	OfferExpiresAt *time.Time
}

// HasOffer reports whether the entry holds an unexpired offer at now.
func (w *WaitlistEntry) HasOffer(now time.Time) bool {
	return w.OfferExpiresAt != nil && now.Before(*w.OfferExpiresAt)
}

// OfferLapsed reports whether an offer was made and has run out.
func (w *WaitlistEntry) OfferLapsed(now time.Time) bool {
	return w.OfferExpiresAt != nil && !now.Before(*w.OfferExpiresAt)
}

// Expired reports whether the entry is no longer worth keeping.
func (w *WaitlistEntry) Expired(now time.Time) bool {
	if w.ExpiresAt != nil && !now.Before(*w.ExpiresAt) {
		return true
	}
	return !now.Before(w.Window.Start)
}

// Before is the queue order.
func (w *WaitlistEntry) Before(o *WaitlistEntry) bool {
	if w.Priority != o.Priority {
		return w.Priority > o.Priority
	}
	if !w.CreatedAt.Equal(o.CreatedAt) {
		return w.CreatedAt.Before(o.CreatedAt)
	}
	return w.ID < o.ID
}

// offerHolds turns active offers on a resource into pseudo-reservations so
// the detector counts them. Offers held by holder are skipped.
func (e *Engine) offerHolds(ctx context.Context, s Store, resourceID ResourceID, holder UserID) ([]*Reservation, error) {
	entries, err := s.ListWaitlist(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load waitlist: %w", err)
	}
	now := e.now()
	var holds []*Reservation
	for _, w := range entries {
		if !w.HasOffer(now) || (holder != "" && w.UserID == holder) {
			continue
		}
		holds = append(holds, &Reservation{
			ID:          ReservationID("waitlist:" + string(w.ID)),
			ResourceID:  w.ResourceID,
			RequesterID: w.UserID,
			Window:      w.Window,
			Status:      StatusConfirmed,
		})
	}
	return holds, nil
}

// =============================================================================
// JOIN / LEAVE
// =============================================================================

type JoinWaitlistRequest struct {
	ResourceID ResourceID
	Window     TimeWindow
	// Priority is honoured for admins only.
	Priority  *int
	ExpiresAt *time.Time
}

// JoinWaitlist queues the actor for a window that is currently taken.
func (e *Engine) JoinWaitlist(ctx context.Context, actor Actor, req JoinWaitlistRequest) (*WaitlistEntry, error) {
	if err := req.Window.Validate(); err != nil {
		return nil, err
	}
	now := e.now()
	if !req.Window.Start.After(now) {
		return nil, invalid("window", "starts in the past")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, invalid("expires_at", "must be in the future")
	}
	res, err := e.resource(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}

	priority := WaitlistPriority(actor.Role)
	if req.Priority != nil && actor.IsAdmin() {
		priority = *req.Priority
	}
	expires := req.ExpiresAt
	if expires == nil || expires.After(req.Window.Start) {
		start := req.Window.Start
		expires = &start
	}
	entry := &WaitlistEntry{
		ID:         WaitlistEntryID(e.newID()),
		UserID:     actor.ID,
		ResourceID: res.ID,
		Window:     req.Window,
		Priority:   priority,
		CreatedAt:  now,
		ExpiresAt:  expires,
	}

	err = e.Store.WithTx(ctx, func(tx Store) error {
		err := e.checkConflict(ctx, tx, *res, req.Window, "", "")
		if err == nil {
			return invalid("window", "slot is available, book it directly")
		}
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		queued, err := tx.ListWaitlist(ctx, res.ID)
		if err != nil {
			return fmt.Errorf("failed to load waitlist: %w", err)
		}
		for _, w := range queued {
			if w.UserID == actor.ID && w.Window.Overlaps(req.Window) {
				return invalid("window", "already waiting for an overlapping window (%s)", w.ID)
			}
		}
		if err := tx.CreateWaitlistEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to create waitlist entry: %w", err)
		}
		return e.audit(ctx, tx, actor, AuditWaitlist, nil, map[string]any{
			"op": "join", "entry_id": string(entry.ID), "resource_id": string(res.ID),
		})
	})
	if err != nil {
		return nil, err
	}
	e.log().Info("joined waitlist", "entry_id", entry.ID, "resource_id", res.ID, "user_id", actor.ID, "priority", priority)
	return entry, nil
}

// LeaveWaitlist removes the actor's entry. A pending offer is passed on.
func (e *Engine) LeaveWaitlist(ctx context.Context, actor Actor, id WaitlistEntryID) error {
	_, err := e.removeEntry(ctx, actor, id, false, "leave")
	return err
}

// DeclineOffer gives up an offer; the slot goes to the next entry.
func (e *Engine) DeclineOffer(ctx context.Context, actor Actor, id WaitlistEntryID) error {
	_, err := e.removeEntry(ctx, actor, id, true, "decline")
	return err
}

func (e *Engine) removeEntry(ctx context.Context, actor Actor, id WaitlistEntryID, requireOffer bool, op string) (*WaitlistEntry, error) {
	now := e.now()
	var entry *WaitlistEntry
	err := e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if entry, err = tx.GetWaitlistEntry(ctx, id); err != nil {
			return err
		}
		if entry.UserID != actor.ID && !actor.IsAdmin() {
			return forbidden(actor, op, entry.ID)
		}
		if requireOffer && !entry.HasOffer(now) {
			return invalid("offer", "no active offer on entry %s", entry.ID)
		}
		if err := tx.DeleteWaitlistEntry(ctx, id); err != nil {
			return fmt.Errorf("failed to delete waitlist entry: %w", err)
		}
		return e.audit(ctx, tx, actor, AuditWaitlist, nil, map[string]any{
			"op": op, "entry_id": string(id), "resource_id": string(entry.ResourceID),
		})
	})
	if err != nil {
		return nil, err
	}
	e.log().Info("left waitlist", "entry_id", id, "op", op)
	if entry.OfferedAt != nil {
		e.releaseSlot(ctx, entry.ResourceID, entry.Window, now)
	}
	return entry, nil
}

// =============================================================================
// PROMOTE / ACCEPT
// =============================================================================

// Promote offers a freed window to waiting entries in queue order and
// returns the entries that received an offer.
func (e *Engine) Promote(ctx context.Context, resourceID ResourceID, freed TimeWindow) ([]*WaitlistEntry, error) {
	if err := freed.Validate(); err != nil {
		return nil, err
	}
	res, err := e.resource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	ttl := res.Policy.OfferTTL
	if ttl <= 0 {
		ttl = DefaultPolicy().OfferTTL
	}

	now := e.now()
	var offered []*WaitlistEntry
	err = e.Store.WithTx(ctx, func(tx Store) error {
		offered = nil
		entries, err := tx.ListWaitlist(ctx, res.ID)
		if err != nil {
			return fmt.Errorf("failed to load waitlist: %w", err)
		}
		live, err := tx.ListReservations(ctx, ReservationFilter{ResourceID: res.ID, Statuses: LiveStatuses})
		if err != nil {
			return fmt.Errorf("failed to load reservations: %w", err)
		}
		holds, err := e.offerHolds(ctx, tx, res.ID, "")
		if err != nil {
			return err
		}
		occupied := append(live, holds...)

		for _, w := range entries {
			if !w.Window.Overlaps(freed) || w.Expired(now) || w.OfferExpiresAt != nil {
				continue
			}
			if DetectConflict(*res, w.Window, occupied, "") != nil {
				continue
			}
			at, until := now, now.Add(ttl)
			w.OfferedAt, w.OfferExpiresAt = &at, &until
			if err := tx.UpdateWaitlistEntry(ctx, w); err != nil {
				return fmt.Errorf("failed to record offer: %w", err)
			}
			occupied = append(occupied, &Reservation{
				ID:         ReservationID("waitlist:" + string(w.ID)),
				ResourceID: res.ID,
				Window:     w.Window,
				Status:     StatusConfirmed,
			})
			offered = append(offered, w)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, w := range offered {
		win := w.Window
		e.log().Info("waitlist offer made", "entry_id", w.ID, "user_id", w.UserID, "expires_at", *w.OfferExpiresAt)
		e.emit(ctx, Event{
			Type:       EventWaitlistOffered,
			At:         now,
			ResourceID: w.ResourceID,
			UserID:     w.UserID,
			Window:     &win,
			Attributes: map[string]string{
				"entry_id":   string(w.ID),
				"expires_at": w.OfferExpiresAt.Format(time.RFC3339),
			},
		})
	}
	return offered, nil
}

// AcceptOffer books the offered window through the normal creation path
// and removes the entry in the same transaction.
func (e *Engine) AcceptOffer(ctx context.Context, actor Actor, id WaitlistEntryID) (*Reservation, error) {
	entry, err := e.Store.GetWaitlistEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.UserID != actor.ID && !actor.IsAdmin() {
		return nil, forbidden(actor, "accept", entry.ID)
	}
	now := e.now()
	if !entry.HasOffer(now) {
		return nil, invalid("offer", "no active offer on entry %s", entry.ID)
	}
	p, err := e.prepare(ctx, actor, CreateRequest{
		ResourceID: entry.ResourceID,
		Window:     entry.Window,
		Purpose:    "waitlist",
		OnBehalfOf: entry.UserID,
	}, now)
	if err != nil {
		return nil, err
	}

	err = e.Store.WithTx(ctx, func(tx Store) error {
		current, err := tx.GetWaitlistEntry(ctx, id)
		if err != nil {
			return err
		}
		if !current.HasOffer(now) {
			return invalid("offer", "offer on entry %s has lapsed", id)
		}
		if err := tx.DeleteWaitlistEntry(ctx, id); err != nil {
			return fmt.Errorf("failed to delete waitlist entry: %w", err)
		}
		return e.insert(ctx, tx, actor, p)
	})
	if err != nil {
		return nil, err
	}

	e.log().Info("waitlist offer accepted", "entry_id", id, "reservation_id", p.r.ID)
	e.emit(ctx, reservationEvent(EventCreated, p.r, now))
	return p.r, nil
}

// lapseOffer drops an entry whose offer ran out and passes the slot on.
func (e *Engine) lapseOffer(ctx context.Context, id WaitlistEntryID) error {
	now := e.now()
	var entry *WaitlistEntry
	err := e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		if entry, err = tx.GetWaitlistEntry(ctx, id); err != nil {
			return err
		}
		if !entry.OfferLapsed(now) {
			return invalid("offer", "offer on entry %s is still open", id)
		}
		if err := tx.DeleteWaitlistEntry(ctx, id); err != nil {
			return fmt.Errorf("failed to delete waitlist entry: %w", err)
		}
		return e.audit(ctx, tx, SystemActor(), AuditWaitlist, nil, map[string]any{
			"op": "offer_lapsed", "entry_id": string(id),
		})
	})
	if err != nil {
		return err
	}
	win := entry.Window
	e.emit(ctx, Event{
		Type:       EventWaitlistOfferLapsed,
		At:         now,
		ResourceID: entry.ResourceID,
		UserID:     entry.UserID,
		Window:     &win,
		Attributes: map[string]string{"entry_id": string(id)},
	})
	e.releaseSlot(ctx, entry.ResourceID, entry.Window, now)
	return nil
}

// expireEntry purges an entry past its expiry.
func (e *Engine) expireEntry(ctx context.Context, id WaitlistEntryID) error {
	now := e.now()
	return e.Store.WithTx(ctx, func(tx Store) error {
		entry, err := tx.GetWaitlistEntry(ctx, id)
		if err != nil {
			return err
		}
		if !entry.Expired(now) {
			return invalid("waitlist", "entry %s has not expired", id)
		}
		if err := tx.DeleteWaitlistEntry(ctx, id); err != nil {
			return fmt.Errorf("failed to delete waitlist entry: %w", err)
		}
		return e.audit(ctx, tx, SystemActor(), AuditWaitlist, nil, map[string]any{
			"op": "expired", "entry_id": string(id),
		})
	})
}
