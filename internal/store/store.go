// Package store implements the per-process collection of live Distributed
// Objects described in spec.md §4.4: O(1) lookup by id, create/update/delete,
// and exactly-once callback dispatch per mutation.
package store

import (
	"fmt"
	"sync"

	"github.com/pennomi/pastry/internal/do"
)

// ErrNotFound is returned by Update/Delete for an id with no live instance.
type ErrNotFound struct{ ID string }

func (e ErrNotFound) Error() string { return fmt.Sprintf("store: %q not found", e.ID) }

// Store holds the live DO instances for one process (one Zone or one
// Client). It is exclusively owned by its server; see spec.md §5.
type Store struct {
	mu        sync.Mutex
	instances map[string]do.Object
	order     []string // stable iteration order

	onCreate func(do.Object)
	onUpdate func(do.Object)
	onDelete func(do.Object)

	// notifying guards re-entrant mutation from within a callback: a
	// create/update/delete invoked while a callback is running is queued
	// and drained once the in-flight notification returns, per spec.md §5
	// ("implementations MUST tolerate re-entrant create/update/delete").
	notifying bool
	pending   []func()
}

// New builds a Store with the three mutation callbacks. Any of them may be
// nil, in which case that event is dropped silently.
func New(onCreate, onUpdate, onDelete func(do.Object)) *Store {
	return &Store{
		instances: make(map[string]do.Object),
		onCreate:  onCreate,
		onUpdate:  onUpdate,
		onDelete:  onDelete,
	}
}

// Create adds obj if its id is unknown and fires "created". If the id is
// already present, the fields are merged into the existing instance and no
// extra event fires — the idempotent re-sync path used by join-state-dump
// (spec.md §4.4, invariant 7).
func (s *Store) Create(obj do.Object) {
	s.mu.Lock()
	existing, ok := s.instances[obj.ID()]
	if ok {
		s.mergeLocked(existing, obj)
		s.mu.Unlock()
		return
	}

	s.instances[obj.ID()] = obj
	s.order = append(s.order, obj.ID())
	s.notify(func() { s.fireLocked(s.onCreate, obj) })
}

func (s *Store) mergeLocked(existing, incoming do.Object) {
	for _, name := range existing.Schema().Names() {
		existing.Set(name, incoming.Get(name))
	}
	existing.Save()
}

// Update applies fields (which must include "id") to the found instance and
// fires "updated". Returns ErrNotFound if id is unknown.
func (s *Store) Update(id string, fields map[string]any) error {
	s.mu.Lock()
	obj, ok := s.instances[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound{ID: id}
	}

	for k, v := range fields {
		if k == "id" {
			continue
		}
		obj.Set(k, v)
	}
	obj.Save()
	s.notify(func() { s.fireLocked(s.onUpdate, obj) })
	return nil
}

// Delete removes the instance by id and fires "deleted". Returns
// ErrNotFound if id is unknown.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	obj, ok := s.instances[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound{ID: id}
	}

	delete(s.instances, id)
	s.removeOrderLocked(id)
	s.notify(func() { s.fireLocked(s.onDelete, obj) })
	return nil
}

// Get returns the live instance for id, or false if none exists.
func (s *Store) Get(id string) (do.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.instances[id]
	return obj, ok
}

// Len returns the number of live instances.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Range calls fn for every live instance in stable creation order. fn must
// not call back into the Store; copy what you need instead.
func (s *Store) Range(fn func(do.Object)) {
	s.mu.Lock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	objs := make([]do.Object, 0, len(ids))
	for _, id := range ids {
		if obj, ok := s.instances[id]; ok {
			objs = append(objs, obj)
		}
	}
	s.mu.Unlock()

	for _, obj := range objs {
		fn(obj)
	}
}

func (s *Store) removeOrderLocked(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// notify runs fire while holding the lock logically released for the
// duration of the user callback: the mutex is unlocked before invoking the
// callback (callbacks may legally re-enter Create/Update/Delete), and any
// re-entrant mutation raised during the callback is queued rather than
// executed in place, then drained in order once the outer call returns.
func (s *Store) notify(fire func()) {
	if s.notifying {
		s.pending = append(s.pending, fire)
		s.mu.Unlock()
		return
	}

	s.notifying = true
	s.mu.Unlock()
	fire()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.notifying = false
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		next()
	}
}

// fireLocked invokes cb with a failure-isolation wrapper: a panic in a user
// callback must not kill the event loop (spec.md §7).
func (s *Store) fireLocked(cb func(do.Object), obj do.Object) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			// The triggering message is still considered delivered; only the
			// callback's own logic failed.
			_ = r
		}
	}()
	cb(obj)
}
