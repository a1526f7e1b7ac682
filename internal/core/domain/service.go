package domain

import (
	"net/url"
	"time"
)

// ServiceConfig is the immutable, per-reload configuration for one logical
// backend service. It is replaced wholesale on config reload; ServiceState
// survives a reload for every id still configured, and a changed queue_size
// does not resize or trim a queue that already exists.
type ServiceConfig struct {
	ServiceID      string
	BaseURL        *url.URL
	FallbackURL    *url.URL
	HealthURL      *url.URL
	WarmupMs       int
	IdleTimeoutMs  int
	RetryCount     int
	RetryDelayMs   int
	QueueSize      int
	RequestTimeout time.Duration

	StrategyName string
	Instances    []InstanceConfig
	Routing      RoutingConfig

	// ModelKey is the JSON body key the model router strategy peeks at.
	// Defaults to "model" when empty.
	ModelKey string

	// HealthyThreshold is the consecutive-failure count after which the
	// load-balancer strategy marks an instance unhealthy. Defaults to 3.
	HealthyThreshold int

	// HealthPollIntervalMs overrides the prober's default poll cadence.
	// Defaults to 250ms when zero.
	HealthPollIntervalMs int

	Remote RemoteConfig
}

// InstanceConfig describes one upstream instance a strategy can route to.
type InstanceConfig struct {
	URL    *url.URL
	Weight int
	Region string
	Tags   []string
}

// RoutingConfig is the strategy-specific routing table, e.g. by-model mapping.
type RoutingConfig struct {
	ByModel map[string]*url.URL
}

// RemoteConfig describes how a service is started/stopped on a remote host
// via the Remote Executor Client.
type RemoteConfig struct {
	Enabled         bool
	MachineID       string
	StartTemplateID string
	StopTemplateID  string
	TaskTimeoutS    int
	PollIntervalS   int
}

// EffectiveModelKey returns the model routing key, defaulting to "model".
func (c *ServiceConfig) EffectiveModelKey() string {
	if c.ModelKey == "" {
		return "model"
	}
	return c.ModelKey
}

// EffectiveHealthyThreshold returns the consecutive-failure threshold, defaulting to 3.
func (c *ServiceConfig) EffectiveHealthyThreshold() int {
	if c.HealthyThreshold <= 0 {
		return 3
	}
	return c.HealthyThreshold
}

// EffectiveHealthPollInterval returns the prober poll cadence, defaulting to 250ms.
func (c *ServiceConfig) EffectiveHealthPollInterval() time.Duration {
	if c.HealthPollIntervalMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.HealthPollIntervalMs) * time.Millisecond
}

// HasStrategy reports whether this service resolves upstreams via a named strategy
// rather than simply proxying to BaseURL.
func (c *ServiceConfig) HasStrategy() bool {
	return c.StrategyName != ""
}
