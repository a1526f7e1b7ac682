// Package strategy implements the Strategy (C2) family: upstream-resolution
// algorithms a service config selects by name. A round-robin balancer
// normally picks a *domain.Endpoint the same way across a pool of
// candidates; here a strategy picks a *url.URL across a service's
// InstanceConfig pool.
package strategy

import (
	"context"
	"net/url"
	"sync/atomic"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
)

const (
	NameRoundRobin  = "round-robin"
	NameModelRouter = "model-router"
)

// LoadBalancer round-robins across a service's healthy instances, skipping
// any instance its HealthTracker has marked unhealthy. If every instance is
// unhealthy it does not fail the request outright: it picks the least
// recently failed one, since a recovered-but-not-yet-reprobed instance is
// more useful than a hard 503.
type LoadBalancer struct {
	health  *domain.HealthTracker
	counter uint64
}

// NewLoadBalancer builds a LoadBalancer over the given instance pool.
func NewLoadBalancer(instances []domain.InstanceConfig) *LoadBalancer {
	return &LoadBalancer{health: domain.NewHealthTracker(instances)}
}

func (lb *LoadBalancer) Name() string { return NameRoundRobin }

// Health exposes the tracker so the reverse proxy can record the outcome of
// the call it makes against the resolved instance.
func (lb *LoadBalancer) Health() *domain.HealthTracker { return lb.health }

func (lb *LoadBalancer) Resolve(_ context.Context, serviceID string, _ domain.RequestContext, cfg domain.ServiceConfig) (domain.Resolution, error) {
	if len(cfg.Instances) == 0 {
		return domain.Resolution{}, domain.NewServiceError(serviceID, domain.ErrNoRoutableInstance, "no instances configured")
	}

	candidates := make([]string, 0, len(cfg.Instances))
	byURL := make(map[string]*url.URL, len(cfg.Instances))
	for _, inst := range cfg.Instances {
		u := inst.URL.String()
		byURL[u] = inst.URL
		if lb.health.IsHealthy(u) {
			candidates = append(candidates, u)
		}
	}

	reason := domain.ReasonLBSelected
	if len(candidates) == 0 {
		// everything is marked down; fall back to least-recently-failed
		// rather than refuse the request.
		all := make([]string, 0, len(cfg.Instances))
		for _, inst := range cfg.Instances {
			all = append(all, inst.URL.String())
		}
		picked := lb.health.LeastRecentlyFailed(all)
		return domain.Resolution{URL: byURL[picked], Reason: domain.ReasonUnhealthySkipped}, nil
	}

	current := atomic.AddUint64(&lb.counter, 1) - 1
	picked := candidates[current%uint64(len(candidates))]
	return domain.Resolution{URL: byURL[picked], Reason: reason}, nil
}
