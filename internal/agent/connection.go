package agent

import (
	"bufio"
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// state is the per-connection lifecycle spec.md §4.5 names: New → Authenticating
// → Active → Closing → Closed.
type state int32

const (
	stateNew state = iota
	stateAuthenticating
	stateActive
	stateClosing
	stateClosed
)

// subscriptionSet is a refcounted, thread-safe set of bus targets a
// connection has joined, adapted from src/connection.go's SubscriptionSet.
// Refcounting matters here too: a connection joining the same zone twice
// (e.g. two in-flight join frames) must require two leaves to clear it.
type subscriptionSet struct {
	mu    sync.RWMutex
	counts map[string]int
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{counts: make(map[string]int)}
}

// Add returns true the first time target is added (refcount 0 -> 1).
func (s *subscriptionSet) Add(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[target]++
	return s.counts[target] == 1
}

// Remove returns true when target's refcount reaches zero and it is
// actually removed; false if target was never held.
func (s *subscriptionSet) Remove(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[target]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(s.counts, target)
		return true
	}
	s.counts[target] = n - 1
	return false
}

func (s *subscriptionSet) Has(target string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.counts[target]
	return ok
}

// List returns every target currently held, one entry regardless of
// refcount, used to emit one leave per held subscription on disconnect.
func (s *subscriptionSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.counts))
	for t := range s.counts {
		out = append(out, t)
	}
	return out
}

// connection is the Agent's per-client state: {id?, reader, writer,
// subscriptions} from spec.md §3. No network traffic besides the auth
// exchange may cross it while id is empty.
type connection struct {
	id   string
	conn net.Conn
	r    *bufio.Reader

	send chan []byte

	subscriptions *subscriptionSet
	limiter       *rate.Limiter

	mu    sync.Mutex
	state state

	closeOnce sync.Once
}

func newConnection(c net.Conn, sendQueueSize, maxPacketSize int) *connection {
	return &connection{
		conn:          c,
		r:             bufio.NewReaderSize(c, maxPacketSize),
		send:          make(chan []byte, sendQueueSize),
		subscriptions: newSubscriptionSet(),
		state:         stateNew,
	}
}

// ID returns the connection's assigned client id, or "" before auth
// completes.
func (c *connection) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *connection) setID(id string) {
	c.mu.Lock()
	c.id = id
	c.state = stateActive
	c.mu.Unlock()
}

func (c *connection) setState(s state) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *connection) currentState() state {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// respondsTo implements spec.md §3's responds_to: true iff channel.target
// equals this connection's own id, or is one of its joined subscriptions.
func (c *connection) respondsTo(target string) bool {
	if target == c.ID() {
		return true
	}
	return c.subscriptions.Has(target)
}

// enqueue non-blockingly queues a frame for the writer goroutine; the
// caller is told whether it was accepted so a full queue can be treated as
// a slow-client signal (dropped, not blocked — spec.md §4.5 bus→clients:
// the Agent never blocks on one slow connection).
func (c *connection) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeConn closes the underlying socket exactly once.
func (c *connection) closeConn() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}
