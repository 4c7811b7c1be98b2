package traffic

import (
	"slices"
	"sync"

	"github.com/banshee-data/trafficmgr/internal/sim"
)

// Registry is the thread-safe set of vehicles currently managed by the
// pipeline. Stages iterate point-in-time snapshots, so registrations made
// while a frame is in flight become visible at the next frame.
type Registry struct {
	mu  sync.RWMutex
	ids map[sim.ActorID]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[sim.ActorID]struct{})}
}

// Register adds vehicles to the registry. Re-registering a present id is a
// no-op.
func (r *Registry) Register(ids []sim.ActorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
}

// Unregister removes vehicles from the registry. Unknown ids are ignored.
func (r *Registry) Unregister(ids []sim.ActorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.ids, id)
	}
}

// Contains reports whether id is currently registered.
func (r *Registry) Contains(id sim.ActorID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[id]
	return ok
}

// Len returns the number of registered vehicles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// Snapshot returns a sorted copy of the registered ids. Concurrent registry
// mutation never affects a snapshot already taken.
func (r *Registry) Snapshot() []sim.ActorID {
	r.mu.RLock()
	out := make([]sim.ActorID, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}
