// Package registry implements the Service Registry (C1): the map of
// service_id -> (ServiceConfig, ServiceState) and the sole place that mutates
// ServiceState, holding config+status behind a per-entry-locked map.
package registry

import (
	"sync"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
	"github.com/hestia-project/hestia-gateway/internal/core/ports"
	"github.com/hestia-project/hestia-gateway/internal/logger"
)

type entry struct {
	mu    sync.Mutex
	cfg   domain.ServiceConfig
	state domain.ServiceState
}

// Registry is the in-memory Service Registry. A short-lived RWMutex guards
// the top-level map (lookup takes the read side; Reload takes the write
// side); each entry's own mutex guards its ServiceState, so a request
// updating one service's state never blocks a lookup for another.
type Registry struct {
	mu                sync.RWMutex
	entries           map[string]*entry
	defaultServiceID  string
	logger            *logger.StyledLogger
	onTransition      func(serviceID string, from, to domain.Lifecycle)
}

// New creates a registry seeded from the given configs, each service
// starting from a fresh ServiceState.
func New(configs map[string]domain.ServiceConfig, defaultServiceID string, log *logger.StyledLogger) *Registry {
	r := &Registry{
		entries:          make(map[string]*entry, len(configs)),
		defaultServiceID: defaultServiceID,
		logger:           log,
	}
	for id, cfg := range configs {
		r.entries[id] = &entry{cfg: cfg, state: domain.NewServiceState()}
	}
	return r
}

func (r *Registry) DefaultServiceID() string {
	return r.defaultServiceID
}

// SetOnTransition registers a callback fired, outside any entry lock,
// whenever UpdateState changes a service's Lifecycle. Used to publish
// lifecycle events onto the gateway's event bus without the orchestrator
// or idle monitor needing to know the bus exists.
func (r *Registry) SetOnTransition(fn func(serviceID string, from, to domain.Lifecycle)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = fn
}

// Get returns a snapshot of a service's config and state.
func (r *Registry) Get(id string) (domain.ServiceConfig, domain.ServiceState, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return domain.ServiceConfig{}, domain.ServiceState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.state, true
}

// List returns every known service id.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// UpdateState runs fn under the per-service lock and stores its result.
func (r *Registry) UpdateState(id string, fn func(domain.ServiceState) domain.ServiceState) (domain.ServiceState, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return domain.ServiceState{}, domain.NewServiceError(id, domain.ErrServiceUnknown, "")
	}

	e.mu.Lock()
	before := e.state.Lifecycle
	e.state = fn(e.state)
	after := e.state
	e.mu.Unlock()

	r.mu.RLock()
	onTransition := r.onTransition
	r.mu.RUnlock()
	if onTransition != nil && before != after.Lifecycle {
		onTransition(id, before, after.Lifecycle)
	}
	return after, nil
}

// Reload replaces every ServiceConfig, preserving in-flight ServiceState for
// ids that still exist and seeding fresh COLD state for new ids. Ids absent
// from the new config set are dropped. Reload does not touch request
// queues: a queue already created for a dropped id is left as it is.
func (r *Registry) Reload(configs map[string]domain.ServiceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*entry, len(configs))
	for id, cfg := range configs {
		if old, ok := r.entries[id]; ok {
			old.mu.Lock()
			old.cfg = cfg
			next[id] = old
			old.mu.Unlock()
		} else {
			next[id] = &entry{cfg: cfg, state: domain.NewServiceState()}
		}
	}
	r.entries = next
	if r.logger != nil {
		r.logger.InfoWithCount("Service registry reloaded", len(next))
	}
	return nil
}

var _ ports.ServiceRegistry = (*Registry)(nil)
