// Package idle implements the Idle-Shutdown Monitor (C6): a single periodic
// sweep that moves HOT services with no recent activity to STOPPING then
// COLD, asking the Remote Executor to stop them on a best-effort basis. The
// ticker-driven "do a pass, log the outcome, keep going regardless of
// per-pass error" shape of a reconciler loop is reused here for a single
// ticker rather than per-service tickers.
package idle

import (
	"context"
	"time"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
	"github.com/hestia-project/hestia-gateway/internal/core/ports"
	"github.com/hestia-project/hestia-gateway/internal/logger"
)

// Monitor sweeps every registered service on each tick.
type Monitor struct {
	registry     ports.ServiceRegistry
	executor     ports.RemoteExecutor
	metrics      ports.MetricsCollector
	logger       *logger.StyledLogger
	sweepInterval time.Duration
}

// New builds a Monitor. sweepInterval governs how often the registry is
// scanned; it should be small relative to the shortest configured
// idle_timeout_ms so shutdown doesn't lag activity by more than one sweep.
func New(registry ports.ServiceRegistry, executor ports.RemoteExecutor, metrics ports.MetricsCollector, log *logger.StyledLogger, sweepInterval time.Duration) *Monitor {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}
	return &Monitor{
		registry:      registry,
		executor:      executor,
		metrics:       metrics,
		logger:        log,
		sweepInterval: sweepInterval,
	}
}

// Run blocks, sweeping on every tick, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	for _, serviceID := range m.registry.List() {
		m.sweepOne(ctx, serviceID)
	}
}

func (m *Monitor) sweepOne(ctx context.Context, serviceID string) {
	cfg, state, ok := m.registry.Get(serviceID)
	if !ok || state.Lifecycle != domain.LifecycleHot {
		return
	}
	if cfg.IdleTimeoutMs <= 0 {
		// idle shutdown disabled for this service
		return
	}
	if time.Since(state.LastActivityAt) < time.Duration(cfg.IdleTimeoutMs)*time.Millisecond {
		return
	}

	newState, err := m.registry.UpdateState(serviceID, func(s domain.ServiceState) domain.ServiceState {
		if s.Lifecycle != domain.LifecycleHot {
			return s
		}
		s.Lifecycle = domain.LifecycleStopping
		s.Readiness = domain.ReadinessNotReady
		return s
	})
	if err != nil || newState.Lifecycle != domain.LifecycleStopping {
		return
	}

	if m.logger != nil {
		m.logger.InfoLifecycleTransition(serviceID, domain.LifecycleHot, domain.LifecycleStopping)
	}

	m.stopRemote(ctx, serviceID, cfg)

	_, _ = m.registry.UpdateState(serviceID, func(s domain.ServiceState) domain.ServiceState {
		s.Lifecycle = domain.LifecycleCold
		s.StartupEpoch++
		s.FallbackActive = false
		return s
	})
	if m.metrics != nil {
		m.metrics.IncIdleShutdown(serviceID)
	}
	if m.logger != nil {
		m.logger.InfoLifecycleTransition(serviceID, domain.LifecycleStopping, domain.LifecycleCold)
	}
}

// stopRemote best-effort-stops the service's remote machine: a failure here
// does not block the COLD transition, since the gateway's own view of the
// service must return to COLD regardless of whether the remote stop call
// succeeded (the next Trigger will attempt a fresh start either way).
func (m *Monitor) stopRemote(ctx context.Context, serviceID string, cfg domain.ServiceConfig) {
	if !cfg.Remote.Enabled || m.executor == nil {
		return
	}
	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := m.executor.Stop(stopCtx, serviceID, cfg.Remote.MachineID, cfg.Remote.StopTemplateID, nil)
	if err != nil && m.logger != nil {
		m.logger.WarnWithService("remote stop call failed, proceeding to COLD anyway", serviceID, "error", err)
	}
}

var _ ports.IdleMonitor = (*Monitor)(nil)
