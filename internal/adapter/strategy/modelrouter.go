package strategy

import (
	"context"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
)

// ModelRouter resolves an upstream by looking up RequestContext.Model in the
// service's RoutingConfig.ByModel map. On a miss (unknown model key, or the
// request carried none) it defers to an embedded LoadBalancer over the same
// instance pool, so a model-routed service still degrades to round-robin
// for requests the router can't classify.
type ModelRouter struct {
	fallback *LoadBalancer
}

// NewModelRouter builds a ModelRouter whose fallback load-balances across
// the given instance pool.
func NewModelRouter(instances []domain.InstanceConfig) *ModelRouter {
	return &ModelRouter{fallback: NewLoadBalancer(instances)}
}

func (m *ModelRouter) Name() string { return NameModelRouter }

// Health exposes the fallback load balancer's tracker so the reverse proxy
// can record outcomes for model-routed requests too.
func (m *ModelRouter) Health() *domain.HealthTracker { return m.fallback.Health() }

func (m *ModelRouter) Resolve(ctx context.Context, serviceID string, reqCtx domain.RequestContext, cfg domain.ServiceConfig) (domain.Resolution, error) {
	if reqCtx.Model != "" && cfg.Routing.ByModel != nil {
		if u, ok := cfg.Routing.ByModel[reqCtx.Model]; ok {
			return domain.Resolution{URL: u, Reason: domain.ReasonMappingHit}, nil
		}
	}
	return m.fallback.Resolve(ctx, serviceID, reqCtx, cfg)
}
