package generic

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// LIFECYCLE EVENTS - Fire-and-forget notifications after commit
// =============================================================================

type EventType string

const (
	EventCreated              EventType = "reservation.created"
	EventApproved             EventType = "reservation.approved"
	EventRejected             EventType = "reservation.rejected"
	EventEscalated            EventType = "reservation.escalated"
	EventCheckedIn            EventType = "reservation.checked_in"
	EventParticipantCheckedIn EventType = "reservation.participant_checked_in"
	EventCancelled            EventType = "reservation.cancelled"
	EventNoShow               EventType = "reservation.no_show"
	EventCompleted            EventType = "reservation.completed"
	EventExtended             EventType = "reservation.extended"
	EventReminder             EventType = "reservation.reminder"
	EventParticipantsInvited  EventType = "reservation.participants_invited"
	EventWaitlistOffered      EventType = "waitlist.offered"
	EventWaitlistOfferLapsed  EventType = "waitlist.offer_lapsed"
	EventSeriesCancelled      EventType = "series.cancelled"
)

type Event struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	At            time.Time         `json:"at"`
	ReservationID ReservationID     `json:"reservation_id,omitempty"`
	ResourceID    ResourceID        `json:"resource_id,omitempty"`
	UserID        UserID            `json:"user_id,omitempty"`
	Window        *TimeWindow       `json:"window,omitempty"`
	Status        Status            `json:"status,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// EventEmitter delivers events. Emit must not block the caller on delivery
// and failures are the emitter's own concern.
type EventEmitter interface {
	Emit(ctx context.Context, ev Event)
}

type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}

// RecordingEmitter keeps events in memory for tests.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *RecordingEmitter) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *RecordingEmitter) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the emitted event types in order.
func (r *RecordingEmitter) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func reservationEvent(t EventType, r *Reservation, at time.Time) Event {
	w := r.Window
	return Event{
		Type:          t,
		At:            at,
		ReservationID: r.ID,
		ResourceID:    r.ResourceID,
		UserID:        r.RequesterID,
		Window:        &w,
		Status:        r.Status,
	}
}
