package client

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/pennomi/pastry/internal/channel"
	"github.com/pennomi/pastry/internal/do"
)

type message struct {
	do.Base
}

var messageSchema = do.NewSchema(
	do.FieldDescriptor{Name: "text", Type: do.TypeString, Default: ""},
)

func newTestClient() *Client {
	registry := do.NewRegistry()
	registry.Register("Message", func() do.Object {
		b, _ := do.NewBase(messageSchema, "placeholder", "", "placeholder", nil)
		return &message{Base: b}
	})
	return New(registry, Hooks{}, zerolog.Nop())
}

func TestHandleCreateInsertsIntoStore(t *testing.T) {
	c := newTestClient()
	var created []string
	c.hooks.ObjectCreated = func(obj do.Object) { created = append(created, obj.ID()) }

	ch, _ := channel.New("c1", channel.MethodCreate, "Message")
	payload, _ := json.Marshal(map[string]any{"id": "m1", "zone": "chat", "owner": "", "text": "hi"})
	c.handleCreate(ch, payload)

	assert.Equal(t, []string{"m1"}, created)
	assert.Equal(t, 1, c.store.Len())
}

func TestHandleCreateUnknownClassIsDropped(t *testing.T) {
	c := newTestClient()
	ch, _ := channel.New("c1", channel.MethodCreate, "NoSuchClass")
	c.handleCreate(ch, []byte(`{"id":"m1","zone":"chat"}`))
	assert.Equal(t, 0, c.store.Len())
}

func TestHandleUpdateAppliesKnownID(t *testing.T) {
	c := newTestClient()
	ch, _ := channel.New("c1", channel.MethodCreate, "Message")
	payload, _ := json.Marshal(map[string]any{"id": "m1", "zone": "chat", "owner": "", "text": "hi"})
	c.handleCreate(ch, payload)

	var updatedText string
	c.hooks.ObjectUpdated = func(obj do.Object) { updatedText, _ = obj.Get("text").(string) }
	c.handleUpdate([]byte(`{"id":"m1","zone":"chat","text":"bye"}`))

	assert.Equal(t, "bye", updatedText)
}

func TestHandleUpdateUnknownIDIsDroppedNotFabricated(t *testing.T) {
	c := newTestClient()
	c.handleUpdate([]byte(`{"id":"ghost","zone":"chat","text":"bye"}`))
	assert.Equal(t, 0, c.store.Len(), "an update for an unseen id must not fabricate an object")
}

func TestHandleDeleteRemoves(t *testing.T) {
	c := newTestClient()
	ch, _ := channel.New("c1", channel.MethodCreate, "Message")
	payload, _ := json.Marshal(map[string]any{"id": "m1", "zone": "chat", "owner": "", "text": "hi"})
	c.handleCreate(ch, payload)

	c.handleDelete([]byte(`{"id":"m1"}`))
	assert.Equal(t, 0, c.store.Len())
}

func TestHandleFrameDispatchesByChannel(t *testing.T) {
	c := newTestClient()
	var created []string
	c.hooks.ObjectCreated = func(obj do.Object) { created = append(created, obj.ID()) }

	line := `{"channel":"c1.create.Message","data":{"id":"m1","zone":"chat","owner":"","text":"hi"}}`
	c.handleFrame(line)

	assert.Equal(t, []string{"m1"}, created)
}

func TestHandleFrameMalformedChannelIsIgnored(t *testing.T) {
	c := newTestClient()
	assert.NotPanics(t, func() {
		c.handleFrame(`{"channel":"not-a-channel","data":{}}`)
	})
}

func TestHandleFrameMalformedJSONIsIgnored(t *testing.T) {
	c := newTestClient()
	assert.NotPanics(t, func() {
		c.handleFrame(`not json at all`)
	})
}
