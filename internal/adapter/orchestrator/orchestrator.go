// Package orchestrator implements the Startup Orchestrator (C5): it serialises
// a COLD service's path to HOT, running N primary start attempts against the
// service's own machine, then exactly one fallback attempt against
// FallbackURL/RemoteConfig before declaring terminal failure. The control
// loop separates "decide" from "act" and logs every cycle regardless of
// outcome, the way a reconcile-and-retry scaler loop would; the
// attempt-then-remove-and-retry shape of a retrying HTTP client's handler is
// reused here for the primary-then-fallback sequence.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
	"github.com/hestia-project/hestia-gateway/internal/core/ports"
	"github.com/hestia-project/hestia-gateway/internal/logger"
)

// Orchestrator drives one service's COLD -> STARTING -> HOT|COLD transition.
type Orchestrator struct {
	registry ports.ServiceRegistry
	queues   ports.QueueRegistry
	prober   ports.ReadinessProber
	executor ports.RemoteExecutor
	metrics  ports.MetricsCollector
	logger   *logger.StyledLogger

	mu       sync.Mutex
	inFlight map[string]bool
}

// New builds an Orchestrator wired to its collaborators. executor may be nil
// when no service configures Remote.Enabled; services that never enable
// remote execution skip straight to the readiness probe against BaseURL,
// which models a service a human (or some other process) already starts.
func New(registry ports.ServiceRegistry, queues ports.QueueRegistry, prober ports.ReadinessProber, executor ports.RemoteExecutor, metrics ports.MetricsCollector, log *logger.StyledLogger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		queues:   queues,
		prober:   prober,
		executor: executor,
		metrics:  metrics,
		logger:   log,
		inFlight: make(map[string]bool),
	}
}

// Trigger begins a startup attempt if the service is COLD. It is a no-op if
// a startup for this service is already running, or if the service is not
// COLD (already STARTING, HOT, or STOPPING).
func (o *Orchestrator) Trigger(ctx context.Context, serviceID string) {
	cfg, state, ok := o.registry.Get(serviceID)
	if !ok || state.Lifecycle != domain.LifecycleCold {
		return
	}

	o.mu.Lock()
	if o.inFlight[serviceID] {
		o.mu.Unlock()
		return
	}
	o.inFlight[serviceID] = true
	o.mu.Unlock()

	newState, err := o.registry.UpdateState(serviceID, func(s domain.ServiceState) domain.ServiceState {
		if s.Lifecycle != domain.LifecycleCold {
			return s
		}
		s.Lifecycle = domain.LifecycleStarting
		s.StartupEpoch++
		s.StartupError = nil
		s.FallbackActive = false
		return s
	})
	if err != nil {
		o.clearInFlight(serviceID)
		return
	}
	if newState.Lifecycle != domain.LifecycleStarting {
		// another caller won the COLD->STARTING race between Get and UpdateState
		o.clearInFlight(serviceID)
		return
	}

	epoch := newState.StartupEpoch
	go o.run(context.WithoutCancel(ctx), serviceID, cfg, epoch)
}

func (o *Orchestrator) clearInFlight(serviceID string) {
	o.mu.Lock()
	delete(o.inFlight, serviceID)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, serviceID string, cfg domain.ServiceConfig, epoch uint64) {
	defer o.clearInFlight(serviceID)

	startupErr := o.attemptPrimary(ctx, serviceID, cfg, epoch)
	if startupErr == nil {
		o.succeed(serviceID)
		return
	}

	if !o.hasFallback(cfg) {
		o.fail(serviceID, startupErr)
		return
	}

	startupErr = o.attemptFallback(ctx, serviceID, cfg, epoch)
	if startupErr == nil {
		o.succeedFallback(serviceID)
		return
	}
	o.fail(serviceID, startupErr)
}

func (o *Orchestrator) hasFallback(cfg domain.ServiceConfig) bool {
	return cfg.FallbackURL != nil
}

// attemptPrimary runs up to cfg.RetryCount attempts (minimum 1) against the
// service's own machine, waiting RetryDelayMs between attempts.
func (o *Orchestrator) attemptPrimary(ctx context.Context, serviceID string, cfg domain.ServiceConfig, epoch uint64) *domain.StartupError {
	retries := cfg.RetryCount
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if !o.epochStillCurrent(serviceID, epoch) {
			return &domain.StartupError{Reason: "superseded", Attempt: attempt, Timestamp: time.Now()}
		}

		if o.metrics != nil {
			o.metrics.IncStartupAttempt(serviceID)
		}

		err := o.runOneAttempt(ctx, cfg, cfg.BaseURL.String(), cfg.Remote.StartTemplateID)
		if err == nil {
			return nil
		}
		lastErr = err

		if o.logger != nil {
			o.logger.WarnWithService("startup attempt failed", serviceID, "attempt", attempt, "error", err)
		}

		if attempt < retries {
			o.wait(ctx, cfg.RetryDelayMs)
		}
	}

	return &domain.StartupError{Reason: lastErr.Error(), Attempt: retries, Timestamp: time.Now()}
}

func (o *Orchestrator) attemptFallback(ctx context.Context, serviceID string, cfg domain.ServiceConfig, epoch uint64) *domain.StartupError {
	if !o.epochStillCurrent(serviceID, epoch) {
		return &domain.StartupError{Reason: "superseded", Fallback: true, Timestamp: time.Now()}
	}

	if o.metrics != nil {
		o.metrics.IncStartupAttempt(serviceID)
	}

	err := o.runOneAttempt(ctx, cfg, cfg.FallbackURL.String(), cfg.Remote.StartTemplateID)
	if err != nil {
		return &domain.StartupError{Reason: err.Error(), Fallback: true, Timestamp: time.Now()}
	}
	return nil
}

// runOneAttempt asks the remote executor to start the service (when remote
// execution is configured) and then probes readiness against targetURL.
func (o *Orchestrator) runOneAttempt(ctx context.Context, cfg domain.ServiceConfig, targetURL, templateID string) error {
	if cfg.Remote.Enabled && o.executor != nil {
		handle, err := o.executor.Start(ctx, cfg.ServiceID, cfg.Remote.MachineID, templateID, nil)
		if err != nil {
			return err
		}
		_, _ = o.registry.UpdateState(cfg.ServiceID, func(s domain.ServiceState) domain.ServiceState {
			s.MachineID = cfg.Remote.MachineID
			return s
		})
		if err := o.awaitTask(ctx, cfg, handle); err != nil {
			return err
		}
	}

	// With a health_url configured, a non-positive warmup still gets a sane
	// polling window; with none, warmup is the whole story (§4.3) and
	// warmup_ms=0 means ready on the very next scheduler tick.
	deadline := time.Now().Add(time.Duration(cfg.WarmupMs) * time.Millisecond)
	if cfg.WarmupMs <= 0 && cfg.HealthURL != nil {
		deadline = time.Now().Add(30 * time.Second)
	}
	return o.prober.Probe(ctx, cfg, targetURL, deadline)
}

func (o *Orchestrator) awaitTask(ctx context.Context, cfg domain.ServiceConfig, handle ports.TaskHandle) error {
	pollInterval := time.Duration(cfg.Remote.PollIntervalS) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	timeout := time.Duration(cfg.Remote.TaskTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	deadline := time.Now().Add(timeout)

	for {
		status, err := o.executor.Poll(ctx, handle)
		if err != nil {
			return err
		}
		switch status.State {
		case ports.TaskSuccess:
			return nil
		case ports.TaskFailed:
			return domain.NewServiceError(cfg.ServiceID, domain.ErrExecutorError, status.Reason)
		}

		if time.Now().After(deadline) {
			return domain.NewServiceError(cfg.ServiceID, domain.ErrExecutorError, "remote task timed out")
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (o *Orchestrator) wait(ctx context.Context, delayMs int) {
	if delayMs <= 0 {
		delayMs = 500
	}
	timer := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (o *Orchestrator) epochStillCurrent(serviceID string, epoch uint64) bool {
	_, state, ok := o.registry.Get(serviceID)
	return ok && state.StartupEpoch == epoch && state.Lifecycle == domain.LifecycleStarting
}

func (o *Orchestrator) succeed(serviceID string) {
	o.transitionToHot(serviceID, false)
}

func (o *Orchestrator) succeedFallback(serviceID string) {
	o.transitionToHot(serviceID, true)
}

func (o *Orchestrator) transitionToHot(serviceID string, viaFallback bool) {
	_, err := o.registry.UpdateState(serviceID, func(s domain.ServiceState) domain.ServiceState {
		s.Lifecycle = domain.LifecycleHot
		s.Readiness = domain.ReadinessReady
		s.StartupError = nil
		s.FallbackActive = viaFallback
		s.LastActivityAt = time.Now()
		return s
	})
	if err != nil {
		return
	}
	if o.metrics != nil {
		o.metrics.IncStartupSuccess(serviceID)
	}
	if o.logger != nil {
		o.logger.InfoLifecycleTransition(serviceID, domain.LifecycleStarting, domain.LifecycleHot)
	}
	o.queues.For(serviceID, 0).DrainAll(domain.SignalProceed, nil)
}

func (o *Orchestrator) fail(serviceID string, startupErr *domain.StartupError) {
	_, err := o.registry.UpdateState(serviceID, func(s domain.ServiceState) domain.ServiceState {
		s.Lifecycle = domain.LifecycleCold
		s.Readiness = domain.ReadinessNotReady
		s.StartupError = startupErr
		s.FallbackActive = false
		return s
	})
	if err != nil {
		return
	}
	if o.metrics != nil {
		o.metrics.IncStartupFailure(serviceID)
	}
	if o.logger != nil {
		o.logger.ErrorWithService("startup failed terminally", serviceID, "reason", startupErr.Reason)
	}
	o.queues.For(serviceID, 0).DrainAll(domain.SignalStartupFailed, startupErr)
}

var _ ports.StartupOrchestrator = (*Orchestrator)(nil)
