package do

import (
	"encoding/json"
	"testing"
)

// testMessage is a minimal concrete DO used only by this package's tests,
// standing in for a real game type like the spec's Message(text: string).
type testMessage struct {
	Base
}

var testMessageSchema = NewSchema(
	FieldDescriptor{Name: "text", Type: TypeString, Default: ""},
)

func newTestMessage(id, owner, zone, text string) *testMessage {
	b, err := NewBase(testMessageSchema, id, owner, zone, map[string]any{"text": text})
	if err != nil {
		panic(err)
	}
	return &testMessage{Base: b}
}

func (m *testMessage) ClassName() string  { return "Message" }
func (m *testMessage) Schema() *FieldSchema { return testMessageSchema }

func TestBaseRequiresZone(t *testing.T) {
	_, err := NewBase(testMessageSchema, "id1", "", "", nil)
	if err != ErrNoZone {
		t.Fatalf("expected ErrNoZone, got %v", err)
	}
}

func TestBaseAutoGeneratesID(t *testing.T) {
	m := newTestMessage("", "", "chat", "hi")
	if m.ID() == "" {
		t.Fatal("expected auto-generated id")
	}
}

func TestDirtyOverridesSaved(t *testing.T) {
	m := newTestMessage("m1", "", "chat", "hi")
	if got := m.Get("text"); got != "hi" {
		t.Fatalf("Get(text) = %v, want hi", got)
	}
	m.Set("text", "bye")
	if got := m.Get("text"); got != "bye" {
		t.Fatalf("Get(text) after Set = %v, want bye (dirty should win)", got)
	}
}

func TestSaveMergesAndClearsDirty(t *testing.T) {
	m := newTestMessage("m1", "", "chat", "hi")
	m.Set("text", "bye")
	m.Save()

	if len(m.dirty) != 0 {
		t.Fatalf("dirty should be empty after Save, got %v", m.dirty)
	}
	if got := m.Get("text"); got != "bye" {
		t.Fatalf("Get(text) after Save = %v, want bye", got)
	}
}

func TestCreatedness(t *testing.T) {
	m := newTestMessage("m1", "", "chat", "hi")
	if m.Created() {
		t.Fatal("expected Created() false before the first Save()")
	}
	m.Save()
	if !m.Created() {
		t.Fatal("expected Created() true after the first Save()")
	}
}

func TestSerializeForCreateIsFullSnapshot(t *testing.T) {
	m := newTestMessage("m1", "", "chat", "hi")
	raw, err := m.Serialize(true)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out["id"] != "m1" || out["zone"] != "chat" || out["text"] != "hi" {
		t.Fatalf("unexpected snapshot: %v", out)
	}
}

func TestSerializeForUpdateIsDirtyDeltaPlusRouting(t *testing.T) {
	m := newTestMessage("m1", "", "chat", "hi")
	m.Set("text", "bye")

	raw, err := m.Serialize(false)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out["id"] != "m1" || out["zone"] != "chat" || out["text"] != "bye" {
		t.Fatalf("unexpected delta: %v", out)
	}
	if _, ok := out["owner"]; ok {
		t.Fatalf("update delta should not include unchanged fields: %v", out)
	}
}

func TestSaveTwiceSecondIsEmptyDelta(t *testing.T) {
	m := newTestMessage("m1", "", "chat", "hi")
	m.Save() // first save: moves the initial text into saved, leaving dirty empty

	raw, err := m.Serialize(false)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	json.Unmarshal(raw, &out)
	if len(out) != 2 {
		t.Fatalf("expected only id+zone in second save's delta, got %v", out)
	}
}

func TestHydrateRequiresZone(t *testing.T) {
	m := newTestMessage("m1", "", "chat", "hi")
	fields := map[string]json.RawMessage{
		"id":   json.RawMessage(`"m2"`),
		"text": json.RawMessage(`"hydrated"`),
	}
	if err := m.Hydrate(fields); err != ErrNoZone {
		t.Fatalf("expected ErrNoZone, got %v", err)
	}
}

func TestHydrateRoundTrip(t *testing.T) {
	m := newTestMessage("m1", "", "chat", "hi")
	raw, _ := m.Serialize(true)

	var fields map[string]json.RawMessage
	json.Unmarshal(raw, &fields)

	fresh := newTestMessage("", "", "placeholder", "")
	if err := fresh.Hydrate(fields); err != nil {
		t.Fatal(err)
	}
	if fresh.ID() != "m1" || fresh.Get("text") != "hi" {
		t.Fatalf("hydrate mismatch: id=%v text=%v", fresh.ID(), fresh.Get("text"))
	}
}

func TestDeleteTombstones(t *testing.T) {
	m := newTestMessage("m1", "", "chat", "hi")
	if m.Deleted() {
		t.Fatal("should not start deleted")
	}
	m.Delete()
	if !m.Deleted() {
		t.Fatal("expected Deleted() true after Delete()")
	}
}
