// Package ports declares the interfaces the request-lifecycle core is built
// against. Concrete adapters live under internal/adapter/...; ambient
// concerns outside the gateway's request lifecycle (config loading,
// structured logging, metrics, persistence, auth, remote execution) are
// consumed through these same seams rather than hard-wired into the core.
package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
)

// ServiceRegistry is the sole source of truth for per-service configuration
// and live state (C1).
type ServiceRegistry interface {
	Get(id string) (domain.ServiceConfig, domain.ServiceState, bool)
	List() []string
	// UpdateState runs fn under the per-service lock, passing the current
	// state and persisting whatever fn returns.
	UpdateState(id string, fn func(domain.ServiceState) domain.ServiceState) (domain.ServiceState, error)
	// DefaultServiceID names the service a transparent-proxy request with an
	// unknown id falls back to. Empty disables the fallback.
	DefaultServiceID() string
	Reload(configs map[string]domain.ServiceConfig) error
}

// Strategy resolves an upstream URL for a request (C2).
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, serviceID string, reqCtx domain.RequestContext, cfg domain.ServiceConfig) (domain.Resolution, error)
}

// StrategyRegistry discovers and holds named strategies.
type StrategyRegistry interface {
	Register(s Strategy)
	Get(name string) (Strategy, bool)
	List() []string
}

// ReadinessProber decides when a starting service is ready (C3).
type ReadinessProber interface {
	// Probe blocks until the service is ready, ctx is cancelled, or deadline
	// passes, whichever comes first.
	Probe(ctx context.Context, cfg domain.ServiceConfig, baseURL string, deadline time.Time) error
}

// RequestQueue is a per-service bounded FIFO (C4).
type RequestQueue interface {
	Enqueue(entry *domain.QueueEntry) error // returns domain.ErrQueueFull when at capacity
	Len() int
	DrainAll(signal domain.Signal, startupErr *domain.StartupError)
	Shutdown()
}

// QueueRegistry hands out (creating if absent) the RequestQueue for a service id.
type QueueRegistry interface {
	For(serviceID string, capacity int) RequestQueue
}

// StartupOrchestrator serialises startup per service (C5).
type StartupOrchestrator interface {
	// Trigger begins a startup attempt if the service is COLD; it is a no-op
	// (not an error) if a startup is already in flight.
	Trigger(ctx context.Context, serviceID string)
}

// IdleMonitor sweeps services from HOT to COLD after inactivity (C6).
type IdleMonitor interface {
	Run(ctx context.Context)
}

// ReverseProxy forwards an admitted request to a resolved upstream (C7).
// reqCtx is the same RequestContext the caller already built to obtain
// upstream, passed through so a retry can re-resolve against strat with the
// original routing signal (e.g. the parsed model name) intact.
type ReverseProxy interface {
	Proxy(ctx context.Context, w http.ResponseWriter, r *http.Request, upstream domain.Resolution, serviceID string, cfg domain.ServiceConfig, strat Strategy, reqCtx domain.RequestContext) error
}

// RemoteExecutor asks an external automation service to start/stop a service
// on a target machine (C9).
type RemoteExecutor interface {
	Start(ctx context.Context, serviceID, machineID, templateID string, extraVars map[string]string) (TaskHandle, error)
	Stop(ctx context.Context, serviceID, machineID, templateID string, extraVars map[string]string) (TaskHandle, error)
	Poll(ctx context.Context, handle TaskHandle) (TaskStatus, error)
}

type TaskHandle string

type TaskState string

const (
	TaskRunning TaskState = "running"
	TaskSuccess TaskState = "success"
	TaskFailed  TaskState = "failed"
)

type TaskStatus struct {
	State  TaskState
	Reason string
}

// MetricsCollector records counters/timers emitted at /v1/metrics.
type MetricsCollector interface {
	IncRequests(serviceID string)
	IncQueueRejected(serviceID string)
	IncQueueTimeout(serviceID string)
	IncStartupAttempt(serviceID string)
	IncStartupSuccess(serviceID string)
	IncStartupFailure(serviceID string)
	IncIdleShutdown(serviceID string)
	ObserveProxyLatency(serviceID string, d time.Duration)
	Snapshot() map[string]any
}

// MetadataStore is the persisted-metadata collaborator (service records,
// activity history, optional API keys). In-flight queues are never persisted.
type MetadataStore interface {
	SaveServiceRecord(ctx context.Context, rec ServiceRecord) error
	LoadServiceRecords(ctx context.Context) ([]ServiceRecord, error)
	SaveAPIKey(ctx context.Context, key APIKeyRecord) error
	ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error)
}

type ServiceRecord struct {
	ServiceID      string
	LastLifecycle  string
	LastStartupErr string
	LastActivityAt time.Time
}

type APIKeyRecord struct {
	Key       string
	Label     string
	CreatedAt time.Time
	Revoked   bool
}
