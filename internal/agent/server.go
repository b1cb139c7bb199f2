// Package agent implements the client-facing gateway spec.md §4.5 describes:
// it terminates client TCP sockets, authenticates them, and bridges them to
// the internal bus. Structurally grounded on go-server-3's
// internal/transport.Server (accept-loop / read-loop / write-loop split)
// with the WebSocket upgrade dropped in favor of raw newline-framed TCP, and
// on src/connection.go's per-connection subscription bookkeeping.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pennomi/pastry/internal/bus"
	"github.com/pennomi/pastry/internal/channel"
	"github.com/pennomi/pastry/internal/metrics"
)

// Config holds the Agent's tunables, mirroring config.Config's agent fields
// so callers can pass a slice of the shared configuration straight through.
type Config struct {
	ListenAddr     string
	MaxPacketSize  int
	MaxConnections int
	SendQueueSize  int
	ReadTimeout    time.Duration

	// InboundRatePerSec/InboundBurst bound how many frames per second a
	// single connection's message loop will act on; frames over the limit
	// are dropped with a log line rather than queued, so one noisy client
	// can't starve the others sharing this process (spec.md §5's resource
	// policy names connections as independently bounded, but leaves the
	// exact mechanism to the implementer).
	InboundRatePerSec float64
	InboundBurst      int
}

// outboundFrame is the JSON envelope the Agent writes to clients for every
// bus message it forwards, per spec.md §6.
type outboundFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Server is the Agent. It owns the TCP listener, the live connection set,
// and the bus subscription that backs whisper delivery and fan-out.
type Server struct {
	cfg     Config
	bus     *bus.Bus
	auth    Authenticator
	logger  zerolog.Logger
	metrics *metrics.Registry

	listener net.Listener

	mu    sync.RWMutex
	conns map[string]*connection // keyed by connection id (assigned client id)

	wg sync.WaitGroup

	shutdownOnce sync.Once
	done         chan struct{}
}

// New constructs an Agent server. auth must not be nil; use a permissive
// Authenticator in development if no real policy exists yet.
func New(cfg Config, b *bus.Bus, auth Authenticator, logger zerolog.Logger, reg *metrics.Registry) *Server {
	return &Server{
		cfg:     cfg,
		bus:     b,
		auth:    auth,
		logger:  logger,
		metrics: reg,
		conns:   make(map[string]*connection),
		done:    make(chan struct{}),
	}
}

// Startup binds the TCP listener. Splitting Startup from Run matches
// spec.md §6's "each server exposes startup, run, shutdown" so a
// MultiServer can sequence several servers' startups before running any.
func (s *Server) Startup() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("agent: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("agent listening")
	return nil
}

// Run drives the accept loop and the bus fan-out loop until ctx is
// cancelled or Shutdown is called. It blocks.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Shutdown()
		case <-s.done:
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fanOutLoop(ctx)
	}()

	s.acceptLoop(ctx)
	s.wg.Wait()
	return nil
}

// Shutdown closes the listener and every live connection.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.mu.RLock()
		conns := make([]*connection, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.RUnlock()
		for _, c := range conns {
			c.closeConn()
		}
	})
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("agent accept error")
			return
		}

		s.mu.RLock()
		atCapacity := s.cfg.MaxConnections > 0 && len(s.conns) >= s.cfg.MaxConnections
		s.mu.RUnlock()
		if atCapacity {
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConnection(ctx, c)
		}(conn)
	}
}

// handleConnection runs the full lifecycle spec.md §4.5 describes for one
// accepted socket: credential read, authenticate, id handshake, then the
// message loop, with a dedicated writer goroutine draining the send queue.
func (s *Server) handleConnection(ctx context.Context, netConn net.Conn) {
	defer netConn.Close()

	c := newConnection(netConn, s.cfg.SendQueueSize, s.cfg.MaxPacketSize)
	c.setState(stateAuthenticating)
	if s.cfg.InboundRatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.InboundRatePerSec), s.cfg.InboundBurst)
	}

	credLine, err := c.r.ReadString('\n')
	if err != nil {
		return // closed before completing the handshake; nothing to clean up
	}

	clientID, ok := s.auth(json.RawMessage(strings.TrimSpace(credLine)))
	if !ok {
		if s.metrics != nil {
			s.metrics.AuthFailures.Inc()
		}
		return // AuthFailed: close socket without response, per spec.md §7
	}

	if _, err := netConn.Write(append([]byte(clientID), '\n')); err != nil {
		return
	}
	c.setID(clientID)

	s.mu.Lock()
	s.conns[clientID] = c
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
	}

	if err := s.bus.Subscribe(clientID); err != nil {
		s.logger.Error().Err(err).Str("client_id", clientID).Msg("agent: subscribe to own id failed")
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(c)
	}()

	s.readLoop(ctx, c)

	close(c.send)
	<-writerDone

	s.teardownConnection(c)
}

// readLoop implements the message loop of spec.md §4.5: bounded reads,
// split on newlines, parse channel|payload, and dispatch join/leave/forward.
func (s *Server) readLoop(ctx context.Context, c *connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		if s.cfg.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}

		line, err := c.r.ReadString('\n')
		if err != nil {
			return // EOF or TransportReset: fall through to teardown
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			s.logger.Warn().Str("client_id", c.ID()).Msg("agent: inbound rate limit exceeded, dropping frame")
			continue
		}

		s.handleFrame(c, line)
	}
}

func (s *Server) handleFrame(c *connection, line string) {
	idx := strings.IndexByte(line, '|')
	if idx < 0 {
		if s.metrics != nil {
			s.metrics.BadChannels.Inc()
		}
		s.logger.Debug().Str("line", line).Msg("agent: malformed frame, no '|'")
		return
	}
	chanPart, payload := line[:idx], line[idx+1:]

	ch, err := channel.Parse(chanPart)
	if err != nil {
		if s.metrics != nil {
			s.metrics.BadChannels.Inc()
		}
		s.logger.Debug().Err(err).Str("channel", chanPart).Msg("agent: BadChannel")
		return
	}

	switch ch.Method {
	case channel.MethodJoin:
		s.handleJoin(c, ch.Target, []byte(payload))
	case channel.MethodLeave:
		s.handleLeave(c, ch.Target, []byte(payload))
	default:
		if err := s.bus.Publish(ch, []byte(payload)); err != nil {
			s.logger.Error().Err(err).Msg("agent: publish failed")
		}
	}
}

func (s *Server) handleJoin(c *connection, target string, payload []byte) {
	firstForConn := c.subscriptions.Add(target)
	if firstForConn {
		if err := s.bus.Subscribe(target); err != nil {
			s.logger.Error().Err(err).Str("target", target).Msg("agent: subscribe failed")
			return
		}
	}

	ch, _ := channel.New(target, channel.MethodJoin, "")
	body := payload
	if len(body) == 0 {
		body = []byte(fmt.Sprintf("%q", c.ID()))
	}
	if err := s.bus.Publish(ch, body); err != nil {
		s.logger.Error().Err(err).Msg("agent: publish join failed")
	}
}

func (s *Server) handleLeave(c *connection, target string, payload []byte) {
	removed := c.subscriptions.Remove(target)

	ch, _ := channel.New(target, channel.MethodLeave, "")
	body := payload
	if len(body) == 0 {
		body = []byte(fmt.Sprintf("%q", c.ID()))
	}
	if err := s.bus.Publish(ch, body); err != nil {
		s.logger.Error().Err(err).Msg("agent: publish leave failed")
	}

	if removed {
		if err := s.bus.Unsubscribe(target); err != nil {
			s.logger.Error().Err(err).Str("target", target).Msg("agent: unsubscribe failed")
		}
	}
}

// teardownConnection runs the disconnect sequence spec.md §4.5 and the
// TransportReset row of §7 require: a leave for every still-held
// subscription, unsubscribe of the client id target, and removal.
func (s *Server) teardownConnection(c *connection) {
	c.setState(stateClosing)

	id := c.ID()
	if id != "" {
		for _, target := range c.subscriptions.List() {
			ch, _ := channel.New(target, channel.MethodLeave, "")
			body := []byte(fmt.Sprintf("%q", id))
			if err := s.bus.Publish(ch, body); err != nil {
				s.logger.Error().Err(err).Msg("agent: publish leave on disconnect failed")
			}
			if err := s.bus.Unsubscribe(target); err != nil {
				s.logger.Error().Err(err).Str("target", target).Msg("agent: unsubscribe on disconnect failed")
			}
		}

		if err := s.bus.Unsubscribe(id); err != nil {
			s.logger.Error().Err(err).Str("client_id", id).Msg("agent: unsubscribe own id failed")
		}

		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.ActiveConnections.Dec()
		}
	}

	c.setState(stateClosed)
}

// writeLoop drains a connection's send queue to its socket. One writer
// goroutine per connection serializes all writes, per spec.md §5's resource
// policy ("one task, one reader, one writer per connection").
func (s *Server) writeLoop(c *connection) {
	for frame := range c.send {
		if _, err := c.conn.Write(frame); err != nil {
			c.closeConn()
			return
		}
	}
}

// fanOutLoop drains the bus and forwards each message to every connection
// whose responds_to is true, per spec.md §4.5's bus→clients contract.
func (s *Server) fanOutLoop(ctx context.Context) {
	for {
		msg, err := s.bus.Next(ctx)
		if err != nil {
			return // ctx cancelled
		}

		frame, err := json.Marshal(outboundFrame{
			Channel: msg.Channel.String(),
			Data:    json.RawMessage(msg.Payload),
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("agent: encode outbound frame failed")
			continue
		}
		frame = append(frame, '\n')

		s.mu.RLock()
		targets := make([]*connection, 0, len(s.conns))
		for _, c := range s.conns {
			if c.respondsTo(msg.Channel.Target) {
				targets = append(targets, c)
			}
		}
		s.mu.RUnlock()

		for _, c := range targets {
			if !c.enqueue(frame) {
				if s.metrics != nil {
					s.metrics.MessagesDropped.Inc()
				}
				s.logger.Warn().Str("client_id", c.ID()).Msg("agent: send queue full, dropping frame")
				continue
			}
			if s.metrics != nil {
				s.metrics.MessagesDelivered.Inc()
			}
		}
	}
}
