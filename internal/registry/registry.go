// Package registry owns the process-wide map from OwnerKey to its live
// Agent, lazily constructing and persisting new ones on first access.
// Grounded on the teacher's process.Manager: a sync.RWMutex-guarded map
// keyed by a composite string, generalized from "kitchen/agentName" to
// OwnerKey.String(), and from process handles to long-lived Agent actors.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/fleetgrid/control-plane/internal/agent"
	"github.com/fleetgrid/control-plane/internal/fleetpath"
	"github.com/fleetgrid/control-plane/internal/store"
)

// Factory builds the Deps for a freshly constructed Agent at owner. The
// Store field is filled in by the Registry itself; callers' factory only
// needs to set the external collaborators and tuning knobs they want every
// agent in the fleet to share.
type Factory func(owner fleetpath.OwnerKey) agent.Deps

// Registry is the fleet-wide agent.Router: it lazily opens each OwnerKey's
// store and constructs its Agent on first access, and forgets the entry
// once DeleteSubtree tears an agent down.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*agent.Agent
	dataDir string
	factory Factory
}

// New constructs an empty Registry. dataDir is the root directory each
// OwnerKey's SQLite file is stored under; factory supplies the shared
// collaborator wiring for every agent the registry creates.
func New(dataDir string, factory Factory) *Registry {
	return &Registry{
		agents:  make(map[string]*agent.Agent),
		dataDir: dataDir,
		factory: factory,
	}
}

// GetOrCreate returns the live Agent for owner, constructing it (and its
// backing store) on first access. Double-checked locking matches the
// teacher's portAllocator/Manager pattern: an RLock-guarded fast path for
// the common case, falling back to a write lock only on a miss, with a
// second lookup under that lock to collapse a concurrent-miss race into a
// single construction.
func (r *Registry) GetOrCreate(ctx context.Context, owner fleetpath.OwnerKey) (*agent.Agent, error) {
	key := owner.String()

	r.mu.RLock()
	if a, ok := r.agents[key]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[key]; ok {
		return a, nil
	}

	s, err := store.Open(r.dataDir, owner)
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", key, err)
	}
	deps := r.factory(owner)
	deps.Store = s
	deps.Router = r
	a := agent.New(owner, deps)
	r.agents[key] = a
	return a, nil
}

// Lookup returns the Agent for owner if it is already live, without
// constructing one.
func (r *Registry) Lookup(owner fleetpath.OwnerKey) (*agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[owner.String()]
	return a, ok
}

// Remove forgets owner's entry, called once its Agent has fully
// terminated (its subtree torn down and its mailbox closed).
func (r *Registry) Remove(owner fleetpath.OwnerKey) {
	r.mu.Lock()
	delete(r.agents, owner.String())
	r.mu.Unlock()
}

// Count returns the number of currently live agents, for debug/metrics
// endpoints.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Snapshot returns the OwnerKey strings of every currently live agent, for
// the /debug/locations endpoint.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for k := range r.agents {
		out = append(out, k)
	}
	return out
}
