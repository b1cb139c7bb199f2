// Package bus isolates the NATS pub/sub broker behind the narrow contract
// spec.md §4.1 requires: subscribe/unsubscribe by target, publish, and a
// non-blocking poll of the next matched message.
//
// Adapted from adred-codev-ws_poc's pkg/nats.Client: the reconnect/error
// event wiring is kept (counted in the adapter and read via Stats), the request/reply and
// JetStream surface is dropped (no persistence, per spec.md's Non-goals).
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pennomi/pastry/internal/channel"
)

// Message is one delivered bus event, already stripped of broker framing.
type Message struct {
	Channel channel.Channel
	Payload []byte
}

// Config mirrors the connection tuning knobs the teacher's NATS client
// exposed, translated from JetStream-era field names to the plain pub/sub
// surface this fabric needs.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
	// InboxSize bounds the buffered channel Poll drains from; once it is
	// full, further messages are dropped with a log line rather than
	// blocking the NATS dispatch goroutine.
	InboxSize int
}

// DefaultConfig returns sane values for local development.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxReconnects:   10,
		ReconnectWait:   time.Second,
		ReconnectJitter: 200 * time.Millisecond,
		MaxPingsOut:     3,
		PingInterval:    10 * time.Second,
		InboxSize:       4096,
	}
}

// Bus is the adapter every server (Agent, Zone) embeds to talk to the
// internal network without depending on NATS directly.
type Bus struct {
	conn   *nats.Conn
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string]*subscription // target -> subscription + refcount

	inbox chan Message

	reconnects int64
	errors     int64
}

type subscription struct {
	sub      *nats.Subscription
	refcount int
}

// ErrNotConnected is returned by Publish/Subscribe/Unsubscribe before Open.
var ErrNotConnected = errors.New("bus: not connected")

// Open establishes the broker connection. It must be called once before any
// other method and torn down with Close on shutdown (spec.md §5: "Broker
// connection lifecycle: opened on startup, closed on shutdown").
func Open(cfg Config, logger zerolog.Logger) (*Bus, error) {
	b := &Bus{
		logger: logger,
		subs:   make(map[string]*subscription),
		inbox:  make(chan Message, cfg.InboxSize),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn().Err(err).Msg("bus disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.reconnects++
			b.logger.Info().Str("url", c.ConnectedUrl()).Msg("bus reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			b.errors++
			b.logger.Error().Err(err).Msg("bus error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	b.conn = conn
	return b, nil
}

// Close drains and closes the broker connection.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Subscribe registers interest in every channel addressed to target,
// 2-segment (join/update/delete/leave) or 3-segment (create/call) alike, via
// channel.Pattern's "target.>" wildcard. Subscriptions are refcounted so
// that two independent callers subscribing to the same target don't race to
// unsubscribe each other (spec.md §9, Open Question 1).
func (b *Bus) Subscribe(target string) error {
	if b.conn == nil {
		return ErrNotConnected
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.subs[target]; ok {
		existing.refcount++
		return nil
	}

	pattern := channel.Pattern(target)
	sub, err := b.conn.Subscribe(pattern, func(msg *nats.Msg) {
		c, err := channel.Parse(msg.Subject)
		if err != nil {
			b.logger.Debug().Err(err).Str("subject", msg.Subject).Msg("bad channel from bus")
			return
		}
		select {
		case b.inbox <- Message{Channel: c, Payload: msg.Data}:
		default:
			b.logger.Warn().Str("subject", msg.Subject).Msg("bus inbox full, dropping message")
		}
	})
	if err != nil {
		return fmt.Errorf("bus: subscribe %q: %w", pattern, err)
	}

	b.subs[target] = &subscription{sub: sub, refcount: 1}
	return nil
}

// Unsubscribe drops one reference to target; the underlying NATS
// subscription is only torn down once the refcount reaches zero.
// Unsubscribing a target never subscribed is a no-op, not a fault.
func (b *Bus) Unsubscribe(target string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.subs[target]
	if !ok {
		return nil
	}

	existing.refcount--
	if existing.refcount > 0 {
		return nil
	}

	delete(b.subs, target)
	return existing.sub.Unsubscribe()
}

// Publish fire-and-forgets payload on ch; delivery is best-effort, no ack.
func (b *Bus) Publish(ch channel.Channel, payload []byte) error {
	if b.conn == nil {
		return ErrNotConnected
	}
	return b.conn.Publish(ch.String(), payload)
}

// Poll returns the next matched message without blocking, or false if none
// is currently buffered. Unlike the original 1ms-timer poll loop, the
// underlying NATS subscription dispatches asynchronously into Bus.inbox, so
// Poll itself never sleeps (spec.md §9, Open Question 2).
func (b *Bus) Poll(ctx context.Context) (Message, bool) {
	select {
	case msg := <-b.inbox:
		return msg, true
	default:
		return Message{}, false
	}
}

// Next blocks (respecting ctx) until a message is available. Servers that
// want a dedicated listener goroutine rather than a poll loop use this.
func (b *Bus) Next(ctx context.Context) (Message, error) {
	select {
	case msg := <-b.inbox:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Stats reports the reconnect/error event counts (served on cmd/agent's
// /health endpoint).
func (b *Bus) Stats() (reconnects, errs int64) {
	return b.reconnects, b.errors
}
