package agent

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionSetRefcounting(t *testing.T) {
	s := newSubscriptionSet()

	assert.True(t, s.Add("chat"), "first Add should report true")
	assert.False(t, s.Add("chat"), "second Add for the same target should report false (already held)")

	assert.False(t, s.Remove("chat"), "first Remove of a doubly-held target should not drop it yet")
	assert.True(t, s.Has("chat"), "target should still be held after one of two removes")
	assert.True(t, s.Remove("chat"), "second Remove should finally drop the target")
	assert.False(t, s.Has("chat"), "target should be gone after matching removes")
}

func TestSubscriptionSetUnsubscribeNeverHeldIsNoop(t *testing.T) {
	s := newSubscriptionSet()
	assert.False(t, s.Remove("never-joined"), "removing a target never added must not report removal")
}

func TestSubscriptionSetList(t *testing.T) {
	s := newSubscriptionSet()
	s.Add("chat")
	s.Add("lobby")
	s.Add("chat") // refcount 2, still one List entry

	assert.Len(t, s.List(), 2)
}

// pipeConn is a minimal net.Conn good enough to construct a connection for
// respondsTo tests; no actual I/O happens in these cases.
func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server
}

func TestRespondsToOwnIDAlwaysTrue(t *testing.T) {
	c := newConnection(pipeConn(t), 8, 1024)
	c.setID("c1")
	assert.True(t, c.respondsTo("c1"), "a connection must respond to whispers addressed to its own id")
	assert.False(t, c.respondsTo("chat"), "a connection should not respond to a target it hasn't joined")
}

func TestRespondsToJoinedTarget(t *testing.T) {
	c := newConnection(pipeConn(t), 8, 1024)
	c.setID("c1")
	c.subscriptions.Add("chat")
	assert.True(t, c.respondsTo("chat"), "a connection must respond to a target it has joined")
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	c := newConnection(pipeConn(t), 1, 1024)
	assert.True(t, c.enqueue([]byte("first\n")), "first enqueue into an empty queue of size 1 should succeed")
	assert.False(t, c.enqueue([]byte("second\n")), "enqueue into a full queue should report false, not block")
}
