// Package queue implements the per-service Request Queue (C4): a bounded
// FIFO of domain.QueueEntry, released in arrival order as the service
// becomes HOT or startup fails. Entries are held in a mutex-guarded slice;
// Enqueue rejects work once the queue is full rather than blocking the
// producer, and entries are released in FIFO order by DrainAll/Shutdown
// rather than consumed continuously.
package queue

import (
	"sync"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
)

// Queue is a bounded FIFO of *domain.QueueEntry for one service.
type Queue struct {
	mu       sync.Mutex
	entries  []*domain.QueueEntry
	capacity int
	closed   bool
}

// New creates a Queue with the given capacity. A non-positive capacity means
// unbounded (the spec only bounds queues with a configured queue_size).
func New(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// Enqueue appends entry to the tail. Returns domain.ErrQueueFull if the
// queue is at capacity, or domain.ErrShutdownInProgress if the queue has
// already been shut down.
func (q *Queue) Enqueue(entry *domain.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.NewServiceError(entry.ServiceID, domain.ErrShutdownInProgress, "")
	}
	if q.capacity > 0 && len(q.entries) >= q.capacity {
		return domain.NewServiceError(entry.ServiceID, domain.ErrQueueFull, "")
	}

	q.entries = append(q.entries, entry)
	return nil
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// DrainAll releases every currently-queued entry, in FIFO order, with the
// given signal and (for startup failures) the StartupError that caused it.
// The queue remains open for new entries afterward (used after a successful
// startup, to admit the backlog once the service is HOT).
func (q *Queue) DrainAll(signal domain.Signal, startupErr *domain.StartupError) {
	q.mu.Lock()
	entries := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, e := range entries {
		e.Complete(domain.Outcome{Signal: signal, Err: startupErr})
	}
}

// Shutdown drains every queued entry with domain.SignalGatewayShutdown and
// marks the queue closed so further Enqueue calls fail fast.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	entries := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, e := range entries {
		e.Complete(domain.Outcome{Signal: domain.SignalGatewayShutdown})
	}
}
