package do

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNoZone is returned when a DO is constructed without a zone.
var ErrNoZone = errors.New("do: zone is required")

// Object is the behavior every Distributed Object must expose to the store,
// the Zone and the Client. Concrete types embed Base, which implements all of
// this except Schema and ClassName (which belong to the concrete type).
type Object interface {
	ID() string
	Owner() string
	Zone() string
	Deleted() bool
	Created() bool
	Get(name string) any
	Set(name string, value any)
	Save()
	Delete()
	Serialize(forCreate bool) ([]byte, error)
	Hydrate(fields map[string]json.RawMessage) error

	// ClassName is the registry code name for this concrete type, e.g. "Message".
	ClassName() string
	// Schema returns the field schema fixed at class-definition time.
	Schema() *FieldSchema
}

// Base implements the dirty/saved dual-layer storage described in
// spec.md §3 and distributed_objects.py's DistributedObjectMetaclass.
// Concrete DO types embed Base and register their FieldSchema once.
type Base struct {
	mu sync.RWMutex

	schema *FieldSchema

	saved   map[string]any
	dirty   map[string]any
	deleted bool
}

// NewBase constructs the embedded state for a concrete DO. zone is
// mandatory — construction fails otherwise, matching
// `assert self.zone, "DO must have a zone."` in distributed_objects.py.
//
// id/owner/zone are the mandatory routing attributes and are always present
// in saved, even before the object is known to the network. initial's
// declared fields are staged as dirty: they are local writes pending a
// Save(), which is what first flips Created() to true and lets the Zone's
// or Client's save path distinguish "this is a create" from "this is an
// update" (spec.md §4.6/§4.7).
func NewBase(schema *FieldSchema, id, owner, zone string, initial map[string]any) (Base, error) {
	if zone == "" {
		return Base{}, ErrNoZone
	}
	if id == "" {
		id = uuid.NewString()
	}

	saved := map[string]any{"id": id, "owner": owner, "zone": zone}
	dirty := make(map[string]any, len(initial))
	for k, v := range initial {
		dirty[k] = v
	}

	return Base{
		schema: schema,
		saved:  saved,
		dirty:  dirty,
	}, nil
}

func (b *Base) ID() string    { return b.getLocked("id").(string) }
func (b *Base) Owner() string {
	v := b.getLocked("owner")
	if v == nil {
		return ""
	}
	return v.(string)
}
func (b *Base) Zone() string { return b.getLocked("zone").(string) }

// Deleted reports whether _delete() has been called (tombstoned).
func (b *Base) Deleted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.deleted
}

// Created reports whether this object is known to the network, i.e. its
// saved map is non-empty beyond the mandatory id/owner/zone attributes.
func (b *Base) Created() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for k := range b.saved {
		if k != "id" && k != "owner" && k != "zone" {
			return true
		}
	}
	return false
}

// Get resolves a field read dirty -> saved -> default.
func (b *Base) Get(name string) any {
	return b.getLocked(name)
}

func (b *Base) getLocked(name string) any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.dirty[name]; ok {
		return v
	}
	if v, ok := b.saved[name]; ok {
		return v
	}
	if f, ok := b.schema.Field(name); ok {
		return f.Default
	}
	return nil
}

// Set stages a local write. Writes always go to dirty, never to saved.
func (b *Base) Set(name string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty[name] = value
}

// Save merges dirty into saved and clears dirty.
func (b *Base) Save() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range b.dirty {
		b.saved[k] = v
	}
	b.dirty = make(map[string]any)
}

// Delete tombstones the object. The store is responsible for removal.
func (b *Base) Delete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = true
}

// Serialize produces the full effective snapshot, saved overlaid by any
// still-pending dirty writes (for_create=true), or the dirty delta plus
// id/zone (for_create=false), per spec.md §4.3. The full-snapshot form is
// computed from the merged view rather than literally reading saved alone,
// so that authoring a brand new object and saving it immediately still
// transmits every field: at that point the fields live in dirty and saved
// holds only id/owner/zone.
func (b *Base) Serialize(forCreate bool) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out map[string]any
	if forCreate {
		out = make(map[string]any, len(b.saved)+len(b.dirty))
		for k, v := range b.saved {
			out[k] = v
		}
		for k, v := range b.dirty {
			out[k] = v
		}
	} else {
		out = make(map[string]any, len(b.dirty)+2)
		for k, v := range b.dirty {
			out[k] = v
		}
		out["id"] = b.saved["id"]
		out["zone"] = b.saved["zone"]
	}
	return json.Marshal(out)
}

// Hydrate populates saved from a decoded field map and clears dirty. Used by
// Deserialize-style construction (the registry's Create path). Requires zone
// to already be present in fields, matching distributed_objects.py's
// constructor-time zone assertion.
func (b *Base) Hydrate(fields map[string]json.RawMessage) error {
	zoneRaw, ok := fields["zone"]
	if !ok {
		return ErrNoZone
	}
	var zone string
	if err := json.Unmarshal(zoneRaw, &zone); err != nil || zone == "" {
		return ErrNoZone
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		b.saved[k] = v
	}
	b.dirty = make(map[string]any)
	return nil
}
