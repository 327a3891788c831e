/*
Package notify delivers engine lifecycle events to the outside world.

PURPOSE:
  The engine emits generic.Event values after each committed transition and
  never waits for delivery. Emitters here decide where events go:

  LogEmitter:    Structured log line per event (always on)
  AMQPPublisher: RabbitMQ topic exchange, routing key = event type
  Fanout:        Sends each event to several emitters

DELIVERY:
  Best effort. A full buffer or a broker outage drops the event and logs
  it; reservations are never rolled back because a notification failed.

SEE ALSO:
  - generic/events.go: Event types
  - cmd/server/main.go: Emitter wiring
*/
package notify

import (
	"context"
	"log/slog"

	"github.com/warp/reservation-engine/generic"
)

// LogEmitter writes each event as one structured log record.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Emit(ctx context.Context, ev generic.Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{
		slog.String("type", string(ev.Type)),
		slog.Time("at", ev.At),
	}
	if ev.ReservationID != "" {
		attrs = append(attrs, slog.String("reservation_id", string(ev.ReservationID)))
	}
	if ev.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", string(ev.ResourceID)))
	}
	if ev.UserID != "" {
		attrs = append(attrs, slog.String("user_id", string(ev.UserID)))
	}
	if ev.Status != "" {
		attrs = append(attrs, slog.String("status", string(ev.Status)))
	}
	for k, v := range ev.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "reservation event", attrs...)
}

// Fanout emits to every emitter in order.
type Fanout []generic.EventEmitter

func (f Fanout) Emit(ctx context.Context, ev generic.Event) {
	for _, e := range f {
		e.Emit(ctx, ev)
	}
}
