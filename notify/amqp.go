package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/warp/reservation-engine/generic"
)

const (
	DefaultExchange = "reservations"
	defaultBuffer   = 256
	publishTimeout  = 5 * time.Second
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a durable topic exchange from a
// background goroutine. Emit never blocks.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	logger   *slog.Logger

	mu      sync.RWMutex
	closed  bool
	events  chan generic.Event
	done    chan struct{}
	dropped atomic.Int64
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: exchange declare failed: %w", err)
	}
	p := newPublisher(ch, exchange, logger, defaultBuffer)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *slog.Logger, buffer int) *AMQPPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &AMQPPublisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger.With("component", "amqp_publisher", "exchange", exchange),
		events:   make(chan generic.Event, buffer),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AMQPPublisher) Emit(_ context.Context, ev generic.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
		p.logger.Warn("event buffer full, dropping event", "type", ev.Type, "reservation_id", ev.ReservationID)
	}
}

// Dropped is the number of events discarded because the buffer was full.
func (p *AMQPPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close flushes buffered events and closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.done
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (p *AMQPPublisher) run() {
	defer close(p.done)
	for ev := range p.events {
		if err := p.publish(ev); err != nil {
			p.logger.Error("failed to publish event", "type", ev.Type, "reservation_id", ev.ReservationID, "error", err)
		}
	}
}

func (p *AMQPPublisher) publish(ev generic.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.ch.PublishWithContext(ctx,
		p.exchange,      // exchange
		string(ev.Type), // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Type:         string(ev.Type),
			Timestamp:    ev.At.UTC(),
			Body:         body,
		},
	)
}
