package app

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hestia-project/hestia-gateway/internal/adapter/metrics"
	"github.com/hestia-project/hestia-gateway/internal/adapter/orchestrator"
	"github.com/hestia-project/hestia-gateway/internal/adapter/prober"
	"github.com/hestia-project/hestia-gateway/internal/adapter/queue"
	"github.com/hestia-project/hestia-gateway/internal/adapter/registry"
	"github.com/hestia-project/hestia-gateway/internal/core/domain"
)

// newTestApplication wires just the collaborators awaitReady touches: the
// registry, queue registry, orchestrator (with a real readiness prober), and
// metrics collector. No HTTP server, store, or security chain involved.
func newTestApplication(t *testing.T, cfg domain.ServiceConfig) *Application {
	t.Helper()
	configs := map[string]domain.ServiceConfig{cfg.ServiceID: cfg}
	reg := registry.New(configs, "", nil)
	queues := queue.NewRegistry()
	pr := prober.New(50 * time.Millisecond)
	orch := orchestrator.New(reg, queues, pr, nil, nil, nil)
	return &Application{
		registry:     reg,
		queues:       queues,
		orchestrator: orch,
		metrics:      metrics.New(),
	}
}

func TestApplication_AwaitReady_EnforcesEntryDeadlineIndependentlyOfStartup(t *testing.T) {
	baseURL, err := url.Parse("http://127.0.0.1:1")
	require.NoError(t, err)

	cfg := domain.ServiceConfig{
		ServiceID:      "slow",
		BaseURL:        baseURL,
		WarmupMs:       5000, // no health_url, so this is an unconditional sleep the test's own deadline must beat
		RequestTimeout: 20 * time.Millisecond,
	}
	a := newTestApplication(t, cfg)

	r := httptest.NewRequest(http.MethodGet, "/services/slow/x", nil)
	rec := httptest.NewRecorder()

	err = a.awaitReady(r.Context(), rec, r, "slow", cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQueueTimeout)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Result().StatusCode)
}

func TestApplication_AwaitReady_ProceedsWhenStartupBeatsDeadline(t *testing.T) {
	baseURL, err := url.Parse("http://127.0.0.1:1")
	require.NoError(t, err)

	cfg := domain.ServiceConfig{
		ServiceID:      "fast",
		BaseURL:        baseURL,
		WarmupMs:       0, // no health_url + warmup_ms=0: ready on the next scheduler tick
		RequestTimeout: 2 * time.Second,
	}
	a := newTestApplication(t, cfg)

	r := httptest.NewRequest(http.MethodGet, "/services/fast/x", nil)
	rec := httptest.NewRecorder()

	err = a.awaitReady(r.Context(), rec, r, "fast", cfg)
	require.NoError(t, err)
}
