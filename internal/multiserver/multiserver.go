// Package multiserver composes several servers' lifecycles onto one process
// for local development, grounded on original_source/multiserver.py's
// MultiServer. Production deployments run one server (one Agent, or one
// Zone) per process; this runner exists for the coexist-on-one-loop option
// spec.md §5 calls out.
package multiserver

import (
	"context"
	"fmt"
	"sync"
)

// Server is the lifecycle contract every component in the fabric exposes,
// per spec.md §6: startup, run, shutdown.
type Server interface {
	Startup() error
	Run(ctx context.Context) error
	Shutdown() error
}

// MultiServer runs N servers' startup/run/shutdown as one unit: every
// Startup is called before any Run begins, every Run executes concurrently,
// and every Shutdown is invoked once the group stops (on context
// cancellation or the first server's Run returning).
type MultiServer struct {
	servers []Server
}

// New builds a MultiServer over servers, in the order given.
func New(servers ...Server) *MultiServer {
	return &MultiServer{servers: servers}
}

// Run calls Startup on every server, then Run on every server concurrently,
// then Shutdown on every server once the group finishes (in reverse startup
// order).
// It returns the first non-nil error from either a Startup or a Run call.
func (m *MultiServer) Run(ctx context.Context) error {
	for i, s := range m.servers {
		if err := s.Startup(); err != nil {
			m.shutdownFrom(i - 1)
			return fmt.Errorf("multiserver: startup server %d: %w", i, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(m.servers))
	for _, s := range m.servers {
		wg.Add(1)
		go func(s Server) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				errs <- err
				cancel() // one server's failure stops the whole group
			}
		}(s)
	}

	wg.Wait()
	close(errs)

	m.shutdownFrom(len(m.servers) - 1)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// shutdownFrom calls Shutdown on servers[0..=idx], in reverse order,
// tolerating a partially-started group.
func (m *MultiServer) shutdownFrom(idx int) {
	for i := idx; i >= 0; i-- {
		_ = m.servers[i].Shutdown()
	}
}
