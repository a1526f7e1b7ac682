package strategy

import (
	"sort"
	"sync"

	"github.com/hestia-project/hestia-gateway/internal/core/ports"
)

// Registry holds named strategies. A balancer factory would typically keep
// a name -> constructor map instead of a name -> instance map; this
// StrategyRegistry holds live instances because each carries its own
// per-service health state rather than being stateless.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]ports.Strategy
}

// NewRegistry returns an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]ports.Strategy)}
}

func (r *Registry) Register(s ports.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

func (r *Registry) Get(name string) (ports.Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ ports.StrategyRegistry = (*Registry)(nil)
