package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hestia-project/hestia-gateway/internal/adapter/queue"
	"github.com/hestia-project/hestia-gateway/internal/adapter/registry"
	"github.com/hestia-project/hestia-gateway/internal/core/domain"
	"github.com/hestia-project/hestia-gateway/internal/core/ports"
)

func newReq() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/", nil)
}

type fakeProber struct {
	probeFn func(ctx context.Context, cfg domain.ServiceConfig, baseURL string, deadline time.Time) error
}

func (f *fakeProber) Probe(ctx context.Context, cfg domain.ServiceConfig, baseURL string, deadline time.Time) error {
	return f.probeFn(ctx, cfg, baseURL, deadline)
}

func alwaysReady(ctx context.Context, cfg domain.ServiceConfig, baseURL string, deadline time.Time) error {
	return nil
}

func neverReady(ctx context.Context, cfg domain.ServiceConfig, baseURL string, deadline time.Time) error {
	return fmt.Errorf("upstream unreachable")
}

func readyOnlyFor(okURL string) func(context.Context, domain.ServiceConfig, string, time.Time) error {
	return func(ctx context.Context, cfg domain.ServiceConfig, baseURL string, deadline time.Time) error {
		if baseURL == okURL {
			return nil
		}
		return fmt.Errorf("upstream %s unreachable", baseURL)
	}
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func waitForLifecycle(t *testing.T, reg *registry.Registry, serviceID string, want domain.Lifecycle) domain.ServiceState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, state, ok := reg.Get(serviceID)
		require.True(t, ok)
		if state.Lifecycle == want {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("service never reached lifecycle %s", want)
	return domain.ServiceState{}
}

func TestOrchestrator_Trigger_SucceedsOnFirstPrimaryAttempt(t *testing.T) {
	cfg := domain.ServiceConfig{
		ServiceID: "svc", BaseURL: mustURL(t, "http://primary"),
		RetryCount: 3, RetryDelayMs: 1, WarmupMs: 10,
	}
	reg := registry.New(map[string]domain.ServiceConfig{"svc": cfg}, "", nil)
	queues := queue.NewRegistry()
	orc := New(reg, queues, &fakeProber{probeFn: alwaysReady}, nil, nil, nil)

	orc.Trigger(context.Background(), "svc")

	state := waitForLifecycle(t, reg, "svc", domain.LifecycleHot)
	assert.Equal(t, domain.ReadinessReady, state.Readiness)
	assert.False(t, state.FallbackActive)
}

func TestOrchestrator_Trigger_FallsBackAfterPrimaryExhausted(t *testing.T) {
	cfg := domain.ServiceConfig{
		ServiceID: "svc",
		BaseURL:   mustURL(t, "http://primary"),
		FallbackURL: mustURL(t, "http://fallback"),
		RetryCount:  2, RetryDelayMs: 1, WarmupMs: 10,
	}
	reg := registry.New(map[string]domain.ServiceConfig{"svc": cfg}, "", nil)
	queues := queue.NewRegistry()
	orc := New(reg, queues, &fakeProber{probeFn: readyOnlyFor("http://fallback")}, nil, nil, nil)

	orc.Trigger(context.Background(), "svc")

	state := waitForLifecycle(t, reg, "svc", domain.LifecycleHot)
	assert.True(t, state.FallbackActive)
}

func TestOrchestrator_Trigger_TerminalFailureDrainsQueueWithStartupFailed(t *testing.T) {
	cfg := domain.ServiceConfig{
		ServiceID: "svc", BaseURL: mustURL(t, "http://primary"),
		RetryCount: 1, RetryDelayMs: 1, WarmupMs: 10,
	}
	reg := registry.New(map[string]domain.ServiceConfig{"svc": cfg}, "", nil)
	queues := queue.NewRegistry()
	q := queues.For("svc", 0)

	entry := domain.NewQueueEntry(newReq(), "req-1", "svc", time.Now().Add(time.Minute))
	require.NoError(t, q.Enqueue(entry))

	orc := New(reg, queues, &fakeProber{probeFn: neverReady}, nil, nil, nil)
	orc.Trigger(context.Background(), "svc")

	waitForLifecycle(t, reg, "svc", domain.LifecycleCold)

	select {
	case out := <-entry.Done():
		assert.Equal(t, domain.SignalStartupFailed, out.Signal)
		require.NotNil(t, out.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("queue entry was never completed")
	}
}

func TestOrchestrator_Trigger_NoOpWhenNotCold(t *testing.T) {
	cfg := domain.ServiceConfig{ServiceID: "svc", BaseURL: mustURL(t, "http://primary"), RetryCount: 1}
	reg := registry.New(map[string]domain.ServiceConfig{"svc": cfg}, "", nil)
	_, err := reg.UpdateState("svc", func(s domain.ServiceState) domain.ServiceState {
		s.Lifecycle = domain.LifecycleHot
		s.Readiness = domain.ReadinessReady
		return s
	})
	require.NoError(t, err)

	queues := queue.NewRegistry()
	var probed bool
	orc := New(reg, queues, &fakeProber{probeFn: func(ctx context.Context, cfg domain.ServiceConfig, baseURL string, deadline time.Time) error {
		probed = true
		return nil
	}}, nil, nil, nil)

	orc.Trigger(context.Background(), "svc")
	time.Sleep(20 * time.Millisecond)
	assert.False(t, probed)
}

var _ ports.StartupOrchestrator = (*Orchestrator)(nil)
