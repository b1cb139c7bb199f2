// Package message provides a minimal Distributed Object class, the Go
// equivalent of main.py's DistributedPerson worked example and spec.md
// §8's registry `{Message(text: string)}`. Embedding applications define
// their own DO classes the same way: embed do.Base, declare a package-level
// FieldSchema, and register a factory with a do.Registry.
package message

import "github.com/pennomi/pastry/internal/do"

// ClassName is the registry code name this class is created/received under.
const ClassName = "Message"

// Schema declares Message's one field, a chat-style text body. do.Field
// supplies the type-tagged default; the Name is attached alongside it since
// Go has no metaclass to fill it in implicitly the way
// distributed_objects.py's DistributedObjectMetaclass does.
var Schema = do.NewSchema(
	withName("text", do.Field(do.TypeString)),
)

func withName(name string, f do.FieldDescriptor) do.FieldDescriptor {
	f.Name = name
	return f
}

// Message is a chat line replicated between a Zone and its Clients.
type Message struct {
	do.Base
}

// New constructs a locally-authored Message pending its first Save.
func New(zone, text string) (*Message, error) {
	base, err := do.NewBase(Schema, "", "", zone, map[string]any{"text": text})
	if err != nil {
		return nil, err
	}
	return &Message{Base: base}, nil
}

func (m *Message) ClassName() string       { return ClassName }
func (m *Message) Schema() *do.FieldSchema { return Schema }

// Text returns the message's current text (dirty write if unsaved).
func (m *Message) Text() string {
	v, _ := m.Get("text").(string)
	return v
}

// SetText stages a new text value, to be sent on the next Save.
func (m *Message) SetText(text string) {
	m.Set("text", text)
}

// Factory builds a zero-value Message ready for registry hydration.
func Factory() do.Object {
	base, _ := do.NewBase(Schema, "placeholder", "", "placeholder", nil)
	return &Message{Base: base}
}

// Register adds Message to reg under ClassName.
func Register(reg *do.Registry) {
	reg.Register(ClassName, Factory)
}
