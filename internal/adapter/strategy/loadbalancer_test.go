package strategy

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestLoadBalancer_Resolve_NoInstances(t *testing.T) {
	lb := NewLoadBalancer(nil)
	_, err := lb.Resolve(context.Background(), "svc", domain.RequestContext{}, domain.ServiceConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoRoutableInstance)
}

func TestLoadBalancer_Resolve_RoundRobinsAcrossHealthy(t *testing.T) {
	instances := []domain.InstanceConfig{
		{URL: mustURL(t, "http://a")},
		{URL: mustURL(t, "http://b")},
	}
	lb := NewLoadBalancer(instances)
	cfg := domain.ServiceConfig{Instances: instances}

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		res, err := lb.Resolve(context.Background(), "svc", domain.RequestContext{}, cfg)
		require.NoError(t, err)
		seen[res.URL.String()]++
		assert.Equal(t, domain.ReasonLBSelected, res.Reason)
	}
	assert.Equal(t, 2, seen["http://a"])
	assert.Equal(t, 2, seen["http://b"])
}

func TestLoadBalancer_Resolve_SkipsUnhealthy(t *testing.T) {
	instances := []domain.InstanceConfig{
		{URL: mustURL(t, "http://a")},
		{URL: mustURL(t, "http://b")},
	}
	lb := NewLoadBalancer(instances)
	cfg := domain.ServiceConfig{Instances: instances}

	lb.Health().RecordFailure("http://a", 1)

	for i := 0; i < 3; i++ {
		res, err := lb.Resolve(context.Background(), "svc", domain.RequestContext{}, cfg)
		require.NoError(t, err)
		assert.Equal(t, "http://b", res.URL.String())
	}
}

func TestLoadBalancer_Resolve_AllUnhealthyPicksLeastRecentlyFailed(t *testing.T) {
	instances := []domain.InstanceConfig{
		{URL: mustURL(t, "http://a")},
		{URL: mustURL(t, "http://b")},
	}
	lb := NewLoadBalancer(instances)
	cfg := domain.ServiceConfig{Instances: instances}

	lb.Health().RecordFailure("http://a", 1)
	lb.Health().RecordFailure("http://b", 1)

	res, err := lb.Resolve(context.Background(), "svc", domain.RequestContext{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonUnhealthySkipped, res.Reason)
}
