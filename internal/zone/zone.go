// Package zone implements the authoritative per-zone object owner spec.md
// §4.6 describes. Grounded on original_source/zone.py's PastryZone and
// base.py's InternalMessagingServer, restructured around internal/bus,
// internal/store and internal/do the way the Agent server already is.
package zone

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pennomi/pastry/internal/bus"
	"github.com/pennomi/pastry/internal/channel"
	"github.com/pennomi/pastry/internal/do"
	"github.com/pennomi/pastry/internal/metrics"
	"github.com/pennomi/pastry/internal/store"
)

// globalTarget is the shared subscription every zone carries in addition to
// its own id, inherited from base.py's "global" psubscribe on startup.
const globalTarget = "global"

// Hooks lets an embedding application observe connect/disconnect and object
// lifecycle events without subclassing, matching the teacher's
// setup/object_created/object_updated/object_deleted overridable methods.
type Hooks struct {
	ClientConnected    func(clientID string)
	ClientDisconnected func(clientID string)
	ObjectCreated      func(obj do.Object)
	ObjectUpdated      func(obj do.Object)
	ObjectDeleted      func(obj do.Object)
}

// Server is a Zone: authoritative for every Distributed Object whose zone
// attribute equals ZoneID.
type Server struct {
	ZoneID   string
	registry *do.Registry
	bus      *bus.Bus
	logger   zerolog.Logger
	metrics  *metrics.Registry
	hooks    Hooks

	store *store.Store
}

// New builds a Zone server. registry must contain every DO class this zone
// can create or receive creates for.
func New(zoneID string, registry *do.Registry, b *bus.Bus, hooks Hooks, logger zerolog.Logger, reg *metrics.Registry) *Server {
	s := &Server{
		ZoneID:   zoneID,
		registry: registry,
		bus:      b,
		logger:   logger,
		metrics:  reg,
		hooks:    hooks,
	}
	s.store = store.New(s.onCreate, s.onUpdate, s.onDelete)
	return s
}

// Startup subscribes to this zone's own target and the global target, per
// base.py's "always listen for itself" plus its unconditional "global"
// subscription.
func (s *Server) Startup() error {
	if err := s.bus.Subscribe(s.ZoneID); err != nil {
		return fmt.Errorf("zone %s: subscribe self: %w", s.ZoneID, err)
	}
	if err := s.bus.Subscribe(globalTarget); err != nil {
		return fmt.Errorf("zone %s: subscribe global: %w", s.ZoneID, err)
	}
	return nil
}

// Run drains the bus until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	for {
		msg, err := s.bus.Next(ctx)
		if err != nil {
			return nil // ctx cancelled
		}
		s.handleMessage(msg.Channel, msg.Payload)
	}
}

// Shutdown tears down the zone's subscriptions.
func (s *Server) Shutdown() error {
	_ = s.bus.Unsubscribe(s.ZoneID)
	_ = s.bus.Unsubscribe(globalTarget)
	return nil
}

// handleMessage dispatches one inbound bus message per spec.md §4.6.
func (s *Server) handleMessage(ch channel.Channel, payload []byte) {
	switch ch.Method {
	case channel.MethodCreate:
		s.handleCreate(ch, payload)
	case channel.MethodUpdate:
		s.handleUpdate(payload)
	case channel.MethodDelete:
		s.handleDelete(payload)
	case channel.MethodCall:
		// reserved; see spec.md §9 Open Question 4 — no semantics defined.
	case channel.MethodJoin:
		s.handleJoin(payload)
	case channel.MethodLeave:
		s.handleLeave(payload)
	}
}

func (s *Server) handleCreate(ch channel.Channel, payload []byte) {
	obj, err := s.registry.Create(ch.CodeName, payload)
	if err != nil {
		if s.metrics != nil {
			s.metrics.BadChannels.Inc()
		}
		s.logger.Warn().Err(err).Str("code_name", ch.CodeName).Msg("zone: UnknownClass on create")
		return
	}
	s.store.Create(obj)
}

func (s *Server) handleUpdate(payload []byte) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		s.logger.Warn().Err(err).Msg("zone: malformed update payload")
		return
	}
	id, _ := fields["id"].(string)
	if id == "" {
		s.logger.Warn().Msg("zone: update payload missing id")
		return
	}
	if err := s.store.Update(id, fields); err != nil {
		s.logger.Debug().Err(err).Str("id", id).Msg("zone: NotFound on update")
	}
}

func (s *Server) handleDelete(payload []byte) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		s.logger.Warn().Err(err).Msg("zone: malformed delete payload")
		return
	}
	id, _ := fields["id"].(string)
	if id == "" {
		return
	}
	if err := s.store.Delete(id); err != nil {
		s.logger.Debug().Err(err).Str("id", id).Msg("zone: NotFound on delete")
	}
}

// handleJoin runs the state-sync handshake of spec.md §4.6: invoke the
// client_connected hook, then publish one create per live object addressed
// to the joining client's private target, in store iteration order.
func (s *Server) handleJoin(payload []byte) {
	clientID := decodeClientID(payload)
	if clientID == "" {
		return
	}

	if s.hooks.ClientConnected != nil {
		s.hooks.ClientConnected(clientID)
	}

	s.logger.Info().Str("client_id", clientID).Int("objects", s.store.Len()).Msg("zone: syncing state to new client")

	s.store.Range(func(obj do.Object) {
		ch, err := channel.New(clientID, channel.MethodCreate, obj.ClassName())
		if err != nil {
			return
		}
		snapshot, err := obj.Serialize(true)
		if err != nil {
			s.logger.Error().Err(err).Str("id", obj.ID()).Msg("zone: serialize-for-create failed during sync")
			return
		}
		if err := s.bus.Publish(ch, snapshot); err != nil {
			s.logger.Error().Err(err).Msg("zone: publish sync create failed")
		}
	})
}

func (s *Server) handleLeave(payload []byte) {
	clientID := decodeClientID(payload)
	if clientID == "" {
		return
	}
	if s.hooks.ClientDisconnected != nil {
		s.hooks.ClientDisconnected(clientID)
	}
}

func decodeClientID(payload []byte) string {
	var id string
	if err := json.Unmarshal(payload, &id); err == nil {
		return id
	}
	return string(payload)
}

// Save applies objects locally first (so this zone's own callbacks fire
// immediately), publishes the corresponding network message for each, and
// then flips dirty→saved (or removes, on delete) — the local-first pattern
// spec.md §4.6 requires so that a bus echo back to this same zone is a
// harmless idempotent no-op.
func (s *Server) Save(objects ...do.Object) error {
	for _, obj := range objects {
		if err := s.saveOne(obj); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) saveOne(obj do.Object) error {
	switch {
	case obj.Deleted():
		ch, err := channel.New(s.ZoneID, channel.MethodDelete, "")
		if err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]string{"id": obj.ID(), "zone": obj.Zone()})
		if err != nil {
			return err
		}
		_ = s.store.Delete(obj.ID())
		return s.bus.Publish(ch, payload)

	case !obj.Created():
		ch, err := channel.New(s.ZoneID, channel.MethodCreate, obj.ClassName())
		if err != nil {
			return err
		}
		s.store.Create(obj)
		payload, err := obj.Serialize(true)
		if err != nil {
			return err
		}
		if err := s.bus.Publish(ch, payload); err != nil {
			return err
		}
		obj.Save()
		return nil

	default:
		ch, err := channel.New(s.ZoneID, channel.MethodUpdate, "")
		if err != nil {
			return err
		}
		payload, err := obj.Serialize(false)
		if err != nil {
			return err
		}
		var fields map[string]any
		if err := json.Unmarshal(payload, &fields); err != nil {
			return err
		}
		if err := s.store.Update(obj.ID(), fields); err != nil {
			return err
		}
		if err := s.bus.Publish(ch, payload); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) onCreate(obj do.Object) {
	if s.metrics != nil {
		s.metrics.StoreObjects.Set(float64(s.store.Len()))
	}
	if s.hooks.ObjectCreated != nil {
		s.hooks.ObjectCreated(obj)
	}
}

func (s *Server) onUpdate(obj do.Object) {
	if s.hooks.ObjectUpdated != nil {
		s.hooks.ObjectUpdated(obj)
	}
}

func (s *Server) onDelete(obj do.Object) {
	if s.metrics != nil {
		s.metrics.StoreObjects.Set(float64(s.store.Len()))
	}
	if s.hooks.ObjectDeleted != nil {
		s.hooks.ObjectDeleted(obj)
	}
}
