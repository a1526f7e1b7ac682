// Package metrics implements the gateway's /v1/metrics collaborator: simple
// atomic counters per service plus a bounded-memory latency percentile
// tracker. The reservoir sampler trades sample size for bounded memory
// rather than retaining every observed latency.
package metrics

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/hestia-project/hestia-gateway/internal/core/ports"
)

const defaultReservoirSize = 200

// serviceCounters holds the per-service counters tracked at /v1/metrics.
type serviceCounters struct {
	requests       uint64
	queueRejected  uint64
	queueTimeout   uint64
	startupAttempt uint64
	startupSuccess uint64
	startupFailure uint64
	idleShutdown   uint64
}

// Collector implements ports.MetricsCollector with in-memory counters and a
// reservoir-sampled latency tracker per service.
type Collector struct {
	mu       sync.Mutex
	counters map[string]*serviceCounters
	latency  map[string]*reservoirSampler
}

// New builds an empty Collector.
func New() *Collector {
	return &Collector{
		counters: make(map[string]*serviceCounters),
		latency:  make(map[string]*reservoirSampler),
	}
}

func (c *Collector) entry(serviceID string) *serviceCounters {
	sc, ok := c.counters[serviceID]
	if !ok {
		sc = &serviceCounters{}
		c.counters[serviceID] = sc
	}
	return sc
}

func (c *Collector) sampler(serviceID string) *reservoirSampler {
	rs, ok := c.latency[serviceID]
	if !ok {
		rs = newReservoirSampler(defaultReservoirSize)
		c.latency[serviceID] = rs
	}
	return rs
}

func (c *Collector) IncRequests(serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(serviceID).requests++
}

func (c *Collector) IncQueueRejected(serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(serviceID).queueRejected++
}

func (c *Collector) IncQueueTimeout(serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(serviceID).queueTimeout++
}

func (c *Collector) IncStartupAttempt(serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(serviceID).startupAttempt++
}

func (c *Collector) IncStartupSuccess(serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(serviceID).startupSuccess++
}

func (c *Collector) IncStartupFailure(serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(serviceID).startupFailure++
}

func (c *Collector) IncIdleShutdown(serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(serviceID).idleShutdown++
}

func (c *Collector) ObserveProxyLatency(serviceID string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sampler(serviceID).add(d.Milliseconds())
}

// Snapshot renders every tracked service's counters and latency percentiles
// as a plain map, ready to be marshalled to JSON by the HTTP handler.
func (c *Collector) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]any, len(c.counters))
	for serviceID, sc := range c.counters {
		p50, p95, p99 := int64(0), int64(0), int64(0)
		if rs, ok := c.latency[serviceID]; ok {
			p50, p95, p99 = rs.percentiles()
		}
		out[serviceID] = map[string]any{
			"requests":          sc.requests,
			"queue_rejected":    sc.queueRejected,
			"queue_timeout":     sc.queueTimeout,
			"startup_attempts":  sc.startupAttempt,
			"startup_successes": sc.startupSuccess,
			"startup_failures":  sc.startupFailure,
			"idle_shutdowns":    sc.idleShutdown,
			"latency_ms": map[string]int64{
				"p50": p50,
				"p95": p95,
				"p99": p99,
			},
		}
	}
	return out
}

// reservoirSampler keeps a fixed-size uniform sample of observed latencies,
// bounding memory regardless of how many observations arrive.
type reservoirSampler struct {
	samples []int64
	size    int
	count   int64
}

func newReservoirSampler(size int) *reservoirSampler {
	if size <= 0 {
		size = defaultReservoirSize
	}
	return &reservoirSampler{size: size, samples: make([]int64, 0, size)}
}

func (rs *reservoirSampler) add(v int64) {
	rs.count++
	if len(rs.samples) < rs.size {
		rs.samples = append(rs.samples, v)
		return
	}
	j := rand.Int64N(rs.count)
	if j < int64(rs.size) {
		rs.samples[j] = v
	}
}

func (rs *reservoirSampler) percentiles() (p50, p95, p99 int64) {
	if len(rs.samples) == 0 {
		return 0, 0, 0
	}
	sorted := make([]int64, len(rs.samples))
	copy(sorted, rs.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(pct int) int64 {
		idx := len(sorted) * pct / 100
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return at(50), at(95), at(99)
}

var _ ports.MetricsCollector = (*Collector)(nil)
