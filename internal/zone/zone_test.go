package zone

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennomi/pastry/internal/channel"
	"github.com/pennomi/pastry/internal/do"
	"github.com/pennomi/pastry/internal/store"
)

type message struct {
	do.Base
}

var messageSchema = do.NewSchema(
	do.FieldDescriptor{Name: "text", Type: do.TypeString, Default: ""},
)

func newMessage(t *testing.T, id, owner, zoneID, text string) *message {
	t.Helper()
	b, err := do.NewBase(messageSchema, id, owner, zoneID, map[string]any{"text": text})
	require.NoError(t, err)
	return &message{Base: b}
}

func (m *message) ClassName() string      { return "Message" }
func (m *message) Schema() *do.FieldSchema { return messageSchema }

// newTestServer builds a Zone whose store callbacks feed the given Hooks,
// with no live bus connection: these tests exercise handleMessage directly
// (the inbound half of the Zone), not Save (the outbound half, which needs
// a real broker — see DESIGN.md).
func newTestServer(hooks Hooks) *Server {
	registry := do.NewRegistry()
	registry.Register("Message", func() do.Object {
		b, _ := do.NewBase(messageSchema, "placeholder", "", "placeholder", nil)
		return &message{Base: b}
	})

	s := &Server{
		ZoneID:   "chat",
		registry: registry,
		hooks:    hooks,
		logger:   zerolog.Nop(),
	}
	s.store = store.New(s.onCreate, s.onUpdate, s.onDelete)
	return s
}

func TestHandleCreateAddsToStore(t *testing.T) {
	var created []string
	s := newTestServer(Hooks{ObjectCreated: func(obj do.Object) { created = append(created, obj.ID()) }})

	ch, _ := channel.New("chat", channel.MethodCreate, "Message")
	payload, _ := json.Marshal(map[string]any{"id": "m1", "zone": "chat", "owner": "", "text": "hi"})
	s.handleMessage(ch, payload)

	require.Len(t, created, 1)
	assert.Equal(t, "m1", created[0])
	assert.Equal(t, 1, s.store.Len())
}

func TestHandleCreateUnknownClassIsDropped(t *testing.T) {
	s := newTestServer(Hooks{})
	ch, _ := channel.New("chat", channel.MethodCreate, "NoSuchClass")
	s.handleMessage(ch, []byte(`{"id":"m1","zone":"chat"}`))
	assert.Equal(t, 0, s.store.Len())
}

func TestHandleUpdateAppliesFields(t *testing.T) {
	s := newTestServer(Hooks{})
	obj := newMessage(t, "m1", "", "chat", "hi")
	s.store.Create(obj)

	var updatedText string
	s.hooks.ObjectUpdated = func(o do.Object) { updatedText, _ = o.Get("text").(string) }

	ch, _ := channel.New("chat", channel.MethodUpdate, "")
	s.handleMessage(ch, []byte(`{"id":"m1","zone":"chat","text":"bye"}`))

	assert.Equal(t, "bye", updatedText)
}

func TestHandleUpdateMissingIDIsNonFatal(t *testing.T) {
	s := newTestServer(Hooks{})
	ch, _ := channel.New("chat", channel.MethodUpdate, "")
	assert.NotPanics(t, func() {
		s.handleMessage(ch, []byte(`{"zone":"chat","text":"bye"}`))
	})
}

func TestHandleDeleteRemoves(t *testing.T) {
	s := newTestServer(Hooks{})
	obj := newMessage(t, "m1", "", "chat", "hi")
	s.store.Create(obj)

	ch, _ := channel.New("chat", channel.MethodDelete, "")
	s.handleMessage(ch, []byte(`{"id":"m1"}`))

	assert.Equal(t, 0, s.store.Len())
}

func TestHandleJoinInvokesConnectedHook(t *testing.T) {
	var connected string
	s := newTestServer(Hooks{ClientConnected: func(clientID string) { connected = clientID }})

	payload, _ := json.Marshal("c1")
	s.handleJoin(payload)

	assert.Equal(t, "c1", connected)
}

func TestHandleLeaveInvokesDisconnectedHook(t *testing.T) {
	var disconnected string
	s := newTestServer(Hooks{ClientDisconnected: func(clientID string) { disconnected = clientID }})

	payload, _ := json.Marshal("c1")
	s.handleLeave(payload)

	assert.Equal(t, "c1", disconnected)
}

func TestDecodeClientIDAcceptsPlainAndJSONString(t *testing.T) {
	assert.Equal(t, "c1", decodeClientID([]byte(`"c1"`)))
	assert.Equal(t, "c1", decodeClientID([]byte(`c1`)))
}

func TestCreateOfExistingIdIsIdempotentResync(t *testing.T) {
	var createdCount int
	s := newTestServer(Hooks{ObjectCreated: func(do.Object) { createdCount++ }})

	ch, _ := channel.New("chat", channel.MethodCreate, "Message")
	first, _ := json.Marshal(map[string]any{"id": "m1", "zone": "chat", "owner": "", "text": "hi"})
	s.handleMessage(ch, first)

	resync, _ := json.Marshal(map[string]any{"id": "m1", "zone": "chat", "owner": "", "text": "hi-again"})
	s.handleMessage(ch, resync)

	assert.Equal(t, 1, createdCount)
	assert.Equal(t, 1, s.store.Len())
}
