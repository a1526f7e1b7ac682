// Package app wires the nine core components (service registry, strategy
// registry, readiness prober, request queue, startup orchestrator, idle
// monitor, reverse proxy, gateway front, remote executor client) together
// with the ambient collaborators (config, logging, metrics, persisted
// metadata, security) into a single runnable Application.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hestia-project/hestia-gateway/internal/adapter/executor"
	"github.com/hestia-project/hestia-gateway/internal/adapter/healthcheck"
	"github.com/hestia-project/hestia-gateway/internal/adapter/idle"
	"github.com/hestia-project/hestia-gateway/internal/adapter/metrics"
	"github.com/hestia-project/hestia-gateway/internal/adapter/orchestrator"
	"github.com/hestia-project/hestia-gateway/internal/adapter/prober"
	"github.com/hestia-project/hestia-gateway/internal/adapter/proxy"
	"github.com/hestia-project/hestia-gateway/internal/adapter/queue"
	"github.com/hestia-project/hestia-gateway/internal/adapter/registry"
	"github.com/hestia-project/hestia-gateway/internal/adapter/security"
	"github.com/hestia-project/hestia-gateway/internal/adapter/store"
	"github.com/hestia-project/hestia-gateway/internal/adapter/strategy"
	"github.com/hestia-project/hestia-gateway/internal/app/middleware"
	"github.com/hestia-project/hestia-gateway/internal/config"
	"github.com/hestia-project/hestia-gateway/internal/core/domain"
	"github.com/hestia-project/hestia-gateway/internal/core/ports"
	"github.com/hestia-project/hestia-gateway/internal/logger"
	"github.com/hestia-project/hestia-gateway/internal/router"
	"github.com/hestia-project/hestia-gateway/pkg/eventbus"
)

// Application owns every adapter and the HTTP server that fronts them.
type Application struct {
	logger *logger.StyledLogger

	cfgMu sync.RWMutex
	cfg   *config.GatewayConfig

	registry   *registry.Registry
	strategies *strategy.Registry

	stratMu        sync.RWMutex
	serviceStrats  map[string]ports.Strategy

	queues       *queue.Registry
	prober       *prober.Prober
	orchestrator *orchestrator.Orchestrator
	idleMonitor  *idle.Monitor
	healthPoller *healthcheck.Poller
	events       *eventbus.EventBus[domain.LifecycleEvent]
	proxy        *proxy.Proxy
	metrics      *metrics.Collector
	store        *store.Store
	executor     *executor.Client
	security     *security.Chain

	routes *router.RouteRegistry
	server *http.Server

	startTime time.Time
	errCh     chan error
}

// New builds an Application from cfg. It is the single place every adapter
// is constructed and wired; reload wiring (strategy rebuild, registry
// reload) also lives here via ApplyConfig.
func New(cfg *config.GatewayConfig, styled *logger.StyledLogger, startTime time.Time) (*Application, error) {
	domainServices, err := cfg.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("converting config: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	var exec *executor.Client
	if needsExecutor(domainServices) {
		exec = executor.New(executor.Config{
			BaseURL:    cfg.Executor.BaseURL,
			ProjectID:  cfg.Executor.ProjectID,
			AuthHeader: cfg.Executor.AuthHeader,
			AuthToken:  cfg.Executor.AuthToken,
			MaxRetries: cfg.Executor.MaxRetries,
			Timeout:    cfg.Executor.Timeout,
		})
	}

	reg := registry.New(domainServices, cfg.Server.DefaultServiceID, styled)
	queues := queue.NewRegistry()
	metricsCollector := metrics.New()
	readinessProber := prober.New(5 * time.Second)
	orch := orchestrator.New(reg, queues, readinessProber, wrapExecutor(exec), metricsCollector, styled)

	sweepInterval := time.Duration(cfg.Server.IdleSweepMs) * time.Millisecond
	idleMonitor := idle.New(reg, wrapExecutor(exec), metricsCollector, styled, sweepInterval)

	revProxy := proxy.New(styled)

	stratRegistry := strategy.NewRegistry()
	stratRegistry.Register(strategy.NewLoadBalancer(nil))
	stratRegistry.Register(strategy.NewModelRouter(nil))

	chain := &security.Chain{
		RateLimit: security.NewRateLimiter(cfg.Security.RateLimit, styled),
		SizeLimit: security.NewSizeLimiter(cfg.Security.MaxBodyBytes, styled),
		APIKey:    security.NewAPIKeyAuth(cfg.Security.RequireAPIKey, cfg.Security.APIKeys, st, styled),
	}

	a := &Application{
		logger:        styled,
		cfg:           cfg,
		registry:      reg,
		strategies:    stratRegistry,
		serviceStrats: buildServiceStrategies(domainServices),
		queues:        queues,
		prober:        readinessProber,
		orchestrator:  orch,
		idleMonitor:   idleMonitor,
		proxy:         revProxy,
		metrics:       metricsCollector,
		store:         st,
		executor:      exec,
		security:      chain,
		routes:        router.NewRouteRegistry(styled),
		events:        eventbus.New[domain.LifecycleEvent](),
		startTime:     startTime,
		errCh:         make(chan error, 1),
	}

	reg.SetOnTransition(func(serviceID string, from, to domain.Lifecycle) {
		a.events.Publish(domain.LifecycleEvent{ServiceID: serviceID, From: from, To: to, At: time.Now()})
	})

	a.healthPoller = healthcheck.New(reg, a.strategyFor, styled)

	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

func needsExecutor(services map[string]domain.ServiceConfig) bool {
	for _, svc := range services {
		if svc.Remote.Enabled {
			return true
		}
	}
	return false
}

// wrapExecutor adapts a possibly-nil *executor.Client into a possibly-nil
// ports.RemoteExecutor; Go's nil-interface trap means we can't just assign
// the typed nil pointer directly where collaborators check "== nil".
func wrapExecutor(c *executor.Client) ports.RemoteExecutor {
	if c == nil {
		return nil
	}
	return c
}

// buildServiceStrategies constructs one Strategy instance per service from
// its own instance pool, since ports.StrategyRegistry is keyed by strategy
// name, not by service: two services using "round-robin" need independent
// health state, so each gets its own *strategy.LoadBalancer (or
// *strategy.ModelRouter) rather than sharing a registry entry.
func buildServiceStrategies(services map[string]domain.ServiceConfig) map[string]ports.Strategy {
	out := make(map[string]ports.Strategy, len(services))
	for id, cfg := range services {
		if !cfg.HasStrategy() {
			continue
		}
		switch cfg.StrategyName {
		case strategy.NameModelRouter:
			out[id] = strategy.NewModelRouter(cfg.Instances)
		default:
			out[id] = strategy.NewLoadBalancer(cfg.Instances)
		}
	}
	return out
}

func (a *Application) strategyFor(serviceID string) (ports.Strategy, bool) {
	a.stratMu.RLock()
	defer a.stratMu.RUnlock()
	s, ok := a.serviceStrats[serviceID]
	return s, ok
}

// ApplyConfig reloads the registry and rebuilds per-service strategies from
// a freshly loaded GatewayConfig, used as the fsnotify OnConfigChange
// callback.
func (a *Application) ApplyConfig(cfg *config.GatewayConfig) {
	domainServices, err := cfg.ToDomain()
	if err != nil {
		a.logger.Error("rejecting reloaded config", "error", err)
		return
	}

	if err := a.registry.Reload(domainServices); err != nil {
		a.logger.Error("registry reload failed", "error", err)
		return
	}

	a.stratMu.Lock()
	a.serviceStrats = buildServiceStrategies(domainServices)
	a.stratMu.Unlock()

	a.cfgMu.Lock()
	a.cfg = cfg
	a.cfgMu.Unlock()

	a.logger.InfoWithCount("configuration reloaded", len(domainServices))
}

func (a *Application) config() *config.GatewayConfig {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// Start wires the HTTP surface, begins listening, and starts the idle
// monitor's background sweep.
func (a *Application) Start(ctx context.Context) error {
	a.registerRoutes()
	mux := http.NewServeMux()
	a.routes.WireUp(mux)
	a.server.Handler = mux

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
			a.errCh <- err
		}
	}()

	go a.idleMonitor.Run(ctx)
	go a.healthPoller.Run(ctx)

	a.logger.Info("hestia gateway started", "bind", a.server.Addr)
	return nil
}

// Stop drains every live queue with SignalGatewayShutdown, stops the
// security chain and the event bus, and then shuts the HTTP server down.
// The metadata store is not touched: it writes to disk on every save.
func (a *Application) Stop(ctx context.Context) error {
	cfg := a.config()
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	a.queues.ShutdownAll()
	a.security.Stop()
	a.events.Shutdown()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
