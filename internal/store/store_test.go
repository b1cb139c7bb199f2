package store

import (
	"testing"

	"github.com/pennomi/pastry/internal/do"
)

type message struct {
	do.Base
}

var messageSchema = do.NewSchema(
	do.FieldDescriptor{Name: "text", Type: do.TypeString, Default: ""},
)

func newMessage(id, zone, text string) *message {
	b, err := do.NewBase(messageSchema, id, "", zone, map[string]any{"text": text})
	if err != nil {
		panic(err)
	}
	return &message{Base: b}
}

func (m *message) ClassName() string      { return "Message" }
func (m *message) Schema() *do.FieldSchema { return messageSchema }

func TestCreateFiresOnce(t *testing.T) {
	var created []string
	s := New(func(o do.Object) { created = append(created, o.ID()) }, nil, nil)

	m := newMessage("m1", "chat", "hi")
	s.Create(m)

	if len(created) != 1 || created[0] != "m1" {
		t.Fatalf("expected single created callback for m1, got %v", created)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestCreateOfExistingIsIdempotentResync(t *testing.T) {
	var createdCount int
	s := New(func(o do.Object) { createdCount++ }, nil, nil)

	m := newMessage("m1", "chat", "hi")
	s.Create(m)

	resync := newMessage("m1", "chat", "hi-again")
	s.Create(resync)

	if createdCount != 1 {
		t.Fatalf("created callback should fire exactly once, fired %d times", createdCount)
	}
	if s.Len() != 1 {
		t.Fatalf("store should still have exactly one instance, has %d", s.Len())
	}
	got, _ := s.Get("m1")
	if got.Get("text") != "hi-again" {
		t.Fatalf("merge should apply incoming fields, got %v", got.Get("text"))
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := New(nil, nil, nil)
	err := s.Update("missing", map[string]any{"id": "missing"})
	if _, ok := err.(ErrNotFound); !ok {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateFiresWithNewValue(t *testing.T) {
	var updatedText string
	s := New(nil, func(o do.Object) { updatedText = o.Get("text").(string) }, nil)

	m := newMessage("m1", "chat", "hi")
	s.Create(m)

	if err := s.Update("m1", map[string]any{"id": "m1", "text": "bye"}); err != nil {
		t.Fatal(err)
	}
	if updatedText != "bye" {
		t.Fatalf("updatedText = %q, want bye", updatedText)
	}
}

func TestDeleteRemovesAndFires(t *testing.T) {
	var deletedID string
	s := New(nil, nil, func(o do.Object) { deletedID = o.ID() })

	m := newMessage("m1", "chat", "hi")
	s.Create(m)

	if err := s.Delete("m1"); err != nil {
		t.Fatal(err)
	}
	if deletedID != "m1" {
		t.Fatalf("deletedID = %q, want m1", deletedID)
	}
	if _, ok := s.Get("m1"); ok {
		t.Fatal("expected m1 to be gone after Delete")
	}
}

func TestAtMostOneInstancePerID(t *testing.T) {
	s := New(nil, nil, nil)
	s.Create(newMessage("m1", "chat", "a"))
	s.Create(newMessage("m1", "chat", "b"))
	s.Create(newMessage("m1", "chat", "c"))
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestReentrantCreateFromCallback(t *testing.T) {
	var order []string
	var s *Store

	onCreate := func(o do.Object) {
		order = append(order, "create:"+o.ID())
		if o.ID() == "m1" {
			// Re-entrant create triggered from within the callback.
			s.Create(newMessage("m2", "chat", "second"))
		}
	}
	s = New(onCreate, nil, nil)
	s.Create(newMessage("m1", "chat", "first"))

	if len(order) != 2 || order[0] != "create:m1" || order[1] != "create:m2" {
		t.Fatalf("unexpected notification order: %v", order)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
}

func TestRangeStableOrder(t *testing.T) {
	s := New(nil, nil, nil)
	s.Create(newMessage("a", "chat", "1"))
	s.Create(newMessage("b", "chat", "2"))
	s.Create(newMessage("c", "chat", "3"))

	var ids []string
	s.Range(func(o do.Object) { ids = append(ids, o.ID()) })

	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("unexpected order: %v", ids)
	}
}
