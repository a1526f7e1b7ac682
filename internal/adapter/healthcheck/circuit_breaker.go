package healthcheck

import (
	"sync"
	"sync/atomic"
	"time"
)

// CircuitBreaker tracks per-instance failure rates so the poller stops
// hammering an instance that is already known to be down and instead waits
// out a cooldown window before letting one probe through again.
type CircuitBreaker struct {
	instances        sync.Map // instance URL -> *circuitState
	failureThreshold int
	cooldown         time.Duration
}

type circuitState struct {
	failures    int64
	lastFailure int64
	lastAttempt int64
	isOpen      int32
}

func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{failureThreshold: failureThreshold, cooldown: cooldown}
}

// IsOpen reports whether url's circuit is currently tripped. Once the
// cooldown has elapsed a single caller is let through (half-open); the
// others are told the circuit is still open until that probe records an
// outcome.
func (cb *CircuitBreaker) IsOpen(url string) bool {
	state, ok := cb.load(url)
	if !ok {
		return false
	}
	if atomic.LoadInt32(&state.isOpen) != 1 {
		return false
	}

	lastFailure := atomic.LoadInt64(&state.lastFailure)
	if time.Unix(0, lastFailure).Add(cb.cooldown).After(time.Now()) {
		return true
	}

	now := time.Now().UnixNano()
	if atomic.CompareAndSwapInt64(&state.lastAttempt, 0, now) {
		return false
	}
	lastAttempt := atomic.LoadInt64(&state.lastAttempt)
	return time.Unix(0, lastAttempt).Add(time.Second).After(time.Now())
}

func (cb *CircuitBreaker) RecordSuccess(url string) {
	state, ok := cb.load(url)
	if !ok {
		return
	}
	atomic.StoreInt64(&state.failures, 0)
	atomic.StoreInt32(&state.isOpen, 0)
	atomic.StoreInt64(&state.lastAttempt, 0)
}

func (cb *CircuitBreaker) RecordFailure(url string) {
	state := cb.loadOrCreate(url)
	failures := atomic.AddInt64(&state.failures, 1)
	atomic.StoreInt64(&state.lastFailure, time.Now().UnixNano())
	atomic.StoreInt64(&state.lastAttempt, 0)
	if failures >= int64(cb.failureThreshold) {
		atomic.StoreInt32(&state.isOpen, 1)
	}
}

// Forget drops state for an instance no longer present after a config
// reload, so a removed instance doesn't leak a map entry forever.
func (cb *CircuitBreaker) Forget(url string) {
	cb.instances.Delete(url)
}

func (cb *CircuitBreaker) load(url string) (*circuitState, bool) {
	v, ok := cb.instances.Load(url)
	if !ok {
		return nil, false
	}
	s, ok := v.(*circuitState)
	return s, ok
}

func (cb *CircuitBreaker) loadOrCreate(url string) *circuitState {
	actual, _ := cb.instances.LoadOrStore(url, &circuitState{})
	return actual.(*circuitState)
}
