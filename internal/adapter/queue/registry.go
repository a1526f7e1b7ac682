package queue

import (
	"sync"

	"github.com/hestia-project/hestia-gateway/internal/core/ports"
)

// Registry hands out one Queue per service id, creating it lazily on first
// use with the capacity supplied at that time.
type Registry struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

// NewRegistry returns an empty queue registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*Queue)}
}

func (r *Registry) For(serviceID string, capacity int) ports.RequestQueue {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[serviceID]
	if !ok {
		q = New(capacity)
		r.queues[serviceID] = q
	}
	return q
}

// ShutdownAll shuts down every queue the registry has created, used during
// gateway shutdown to release every blocked caller with SignalGatewayShutdown.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	for _, q := range queues {
		q.Shutdown()
	}
}

var _ ports.QueueRegistry = (*Registry)(nil)
