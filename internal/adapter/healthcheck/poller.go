// Package healthcheck implements a continuous background health poller for
// strategy-routed service instances. It is independent of the Readiness
// Prober (which only watches a single service through its COLD-to-HOT
// transition): once a service is HOT, its instances still need to be
// watched so a load balancer can route around one that silently degrades
// between requests. A bounded worker pool and an open/half-open circuit
// breaker per instance keep a persistently-down instance from being probed
// on every tick; a plain due-time map stands in for a heap-based scheduler
// since a gateway config rarely has more than a few dozen instances.
package healthcheck

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hestia-project/hestia-gateway/internal/core/constants"
	"github.com/hestia-project/hestia-gateway/internal/core/domain"
	"github.com/hestia-project/hestia-gateway/internal/core/ports"
	"github.com/hestia-project/hestia-gateway/internal/logger"
)

const (
	DefaultSweepInterval = 250 * time.Millisecond
	DefaultProbeTimeout  = 5 * time.Second
	DefaultWorkerCount   = 8
)

// healthRecorder is implemented by strategies that track per-instance
// health; strategies without instance pools (a future static-route
// strategy, say) simply aren't asserted against.
type healthRecorder interface {
	Health() *domain.HealthTracker
}

// StrategyLookup resolves the live Strategy for a service id, mirroring how
// the gateway front keys its per-service strategy instances.
type StrategyLookup func(serviceID string) (ports.Strategy, bool)

type probeJob struct {
	serviceID string
	threshold int
	instance  domain.InstanceConfig
}

// Poller sweeps every registered service's instance pool on a fixed tick,
// probing whichever instances are due, and feeds outcomes back into that
// service's strategy health tracker.
type Poller struct {
	registry ports.ServiceRegistry
	lookup   StrategyLookup
	client   *http.Client
	breaker  *CircuitBreaker
	logger   *logger.StyledLogger

	sweepInterval time.Duration

	mu      sync.Mutex
	dueAt   map[string]time.Time
	jobCh   chan probeJob
	workers int
}

// New builds a Poller. lookup is consulted on every sweep so a config
// reload that rebuilds per-service strategies is picked up without
// restarting the poller.
func New(registry ports.ServiceRegistry, lookup StrategyLookup, log *logger.StyledLogger) *Poller {
	p := &Poller{
		registry:      registry,
		lookup:        lookup,
		client:        &http.Client{Timeout: DefaultProbeTimeout},
		breaker:       NewCircuitBreaker(3, 30*time.Second),
		logger:        log,
		sweepInterval: DefaultSweepInterval,
		dueAt:         make(map[string]time.Time),
		jobCh:         make(chan probeJob, 256),
		workers:       DefaultWorkerCount,
	}
	return p
}

// Run starts the worker pool and the sweep ticker; it blocks until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Poller) sweep() {
	now := time.Now()
	for _, serviceID := range p.registry.List() {
		cfg, state, ok := p.registry.Get(serviceID)
		if !ok || !state.IsHotAndReady() || !cfg.HasStrategy() {
			continue
		}
		interval := cfg.EffectiveHealthPollInterval()
		for _, inst := range cfg.Instances {
			key := serviceID + "|" + inst.URL.String()
			p.mu.Lock()
			due, seen := p.dueAt[key]
			isDue := !seen || !now.Before(due)
			if isDue {
				p.dueAt[key] = now.Add(interval)
			}
			p.mu.Unlock()
			if !isDue {
				continue
			}
			job := probeJob{serviceID: serviceID, threshold: cfg.EffectiveHealthyThreshold(), instance: inst}
			select {
			case p.jobCh <- job:
			default:
				// queue saturated this tick, the instance gets picked up on
				// the next sweep once its due time has passed again
			}
		}
	}
}

func (p *Poller) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobCh:
			p.probe(ctx, job)
		}
	}
}

func (p *Poller) probe(ctx context.Context, job probeJob) {
	strat, ok := p.lookup(job.serviceID)
	if !ok {
		return
	}
	hr, ok := strat.(healthRecorder)
	if !ok {
		return
	}
	tracker := hr.Health()
	if tracker == nil {
		return
	}

	instanceURL := job.instance.URL.String()
	target := probeURL(job.instance.URL)

	if p.breaker.IsOpen(target) {
		tracker.RecordFailure(instanceURL, job.threshold)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.breaker.RecordFailure(target)
		tracker.RecordFailure(instanceURL, job.threshold)
		return
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.breaker.RecordSuccess(target)
		tracker.RecordSuccess(instanceURL)
		return
	}

	p.breaker.RecordFailure(target)
	tracker.RecordFailure(instanceURL, job.threshold)
}

// probeURL appends the well-known health path to an instance's base URL;
// instances don't carry their own HealthURL the way a ServiceConfig does.
func probeURL(base *url.URL) string {
	u := *base
	u.Path = joinPath(u.Path, constants.DefaultHealthCheckEndpoint)
	return u.String()
}

func joinPath(base, suffix string) string {
	switch {
	case base == "" || base == "/":
		return suffix
	default:
		trimmed := base
		for len(trimmed) > 0 && trimmed[len(trimmed)-1] == '/' {
			trimmed = trimmed[:len(trimmed)-1]
		}
		return trimmed + suffix
	}
}
