package domain

import (
	"net/url"
	"sync"
	"time"
)

// InstanceHealth tracks liveness of one upstream instance URL, owned by the
// strategy that selects across it (§4.2). A 2xx/3xx response marks healthy; a
// transport error or >=500 response increments ConsecutiveFailures; after
// Threshold consecutive failures the instance is marked unhealthy; the next
// 2xx resets the counter.
type InstanceHealth struct {
	URL                 *url.URL
	Healthy             bool
	ConsecutiveFailures int
	LastProbeAt         time.Time
}

// HealthTracker is a concurrency-safe map of instance URL -> InstanceHealth,
// guarded by its own lock per §5 ("strategy instance-health is protected by
// the strategy's own lock").
type HealthTracker struct {
	mu    sync.Mutex
	byURL map[string]*InstanceHealth
}

// NewHealthTracker returns a tracker seeded healthy for every instance.
func NewHealthTracker(instances []InstanceConfig) *HealthTracker {
	t := &HealthTracker{byURL: make(map[string]*InstanceHealth, len(instances))}
	for _, inst := range instances {
		t.byURL[inst.URL.String()] = &InstanceHealth{URL: inst.URL, Healthy: true}
	}
	return t
}

// IsHealthy reports the current health of an instance, defaulting to healthy
// for URLs the tracker has not seen (e.g. newly added by a config reload).
func (t *HealthTracker) IsHealthy(u string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byURL[u]
	if !ok {
		return true
	}
	return h.Healthy
}

// RecordSuccess resets the failure count and marks the instance healthy.
func (t *HealthTracker) RecordSuccess(u string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.entryLocked(u)
	h.Healthy = true
	h.ConsecutiveFailures = 0
	h.LastProbeAt = time.Now()
}

// RecordFailure increments the failure count and marks the instance unhealthy
// once threshold consecutive failures have been observed.
func (t *HealthTracker) RecordFailure(u string, threshold int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.entryLocked(u)
	h.ConsecutiveFailures++
	h.LastProbeAt = time.Now()
	if h.ConsecutiveFailures >= threshold {
		h.Healthy = false
	}
}

// LeastRecentlyFailed returns the URL string of the instance whose last
// failed probe is oldest, for the "all unhealthy, try anyway" tie-break.
func (t *HealthTracker) LeastRecentlyFailed(candidates []string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	bestTime := t.byURL[best].LastProbeAt
	for _, c := range candidates[1:] {
		h, ok := t.byURL[c]
		if !ok {
			continue
		}
		if h.LastProbeAt.Before(bestTime) {
			best = c
			bestTime = h.LastProbeAt
		}
	}
	return best
}

func (t *HealthTracker) entryLocked(u string) *InstanceHealth {
	h, ok := t.byURL[u]
	if !ok {
		h = &InstanceHealth{}
		if parsed, err := url.Parse(u); err == nil {
			h.URL = parsed
		}
		h.Healthy = true
		t.byURL[u] = h
	}
	return h
}
