package config

import "time"

// GatewayConfig is the root YAML-shaped configuration document, decoded by
// viper and then converted into the domain types the core operates on
// (ToDomain). Layout follows the common config.Config shape: a
// ServerConfig/LoggingConfig ambient section plus a domain-specific section,
// here "services" rather than "discovery".
type GatewayConfig struct {
	Server    ServerConfig             `yaml:"server"`
	Logging   LoggingConfig            `yaml:"logging"`
	Store     StoreConfig              `yaml:"store"`
	Executor  ExecutorConfig           `yaml:"executor"`
	Security  SecurityConfig           `yaml:"security"`
	Services  map[string]ServiceConfig `yaml:"services"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	IdleSweepMs     int           `yaml:"idle_sweep_ms"`

	// DefaultServiceID names the service a transparent-proxy request with an
	// unrecognised id falls back to. Empty disables the fallback.
	DefaultServiceID string `yaml:"default_service_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	Theme  string `yaml:"theme"`
}

// StoreConfig configures the metadata store's backing JSON file.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ExecutorConfig configures the remote executor's HTTP client, when any
// service sets remote.enabled: true.
type ExecutorConfig struct {
	BaseURL    string        `yaml:"base_url"`
	ProjectID  string        `yaml:"project_id"`
	AuthHeader string        `yaml:"auth_header"`
	AuthToken  string        `yaml:"auth_token"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SecurityConfig configures the optional API-key auth and rate-limiting
// middleware chain.
type SecurityConfig struct {
	RequireAPIKey bool     `yaml:"require_api_key"`
	APIKeys       []string `yaml:"api_keys"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	MaxBodyBytes  int64    `yaml:"max_body_bytes"`
}

// RateLimitConfig configures the per-IP token bucket rate limiter.
type RateLimitConfig struct {
	Enabled                bool          `yaml:"enabled"`
	RequestsPerMinute      int           `yaml:"requests_per_minute"`
	BurstSize              int           `yaml:"burst_size"`
	CleanupInterval        time.Duration `yaml:"cleanup_interval"`
	TrustProxyHeaders      bool          `yaml:"trust_proxy_headers"`
	TrustedProxyCIDRs      []string      `yaml:"trusted_proxy_cidrs"`
}

// ServiceConfig is the YAML-decoded shape of one backend service; fields
// holding URLs are strings here (viper can't unmarshal into *url.URL) and
// get parsed in ToDomain.
type ServiceConfig struct {
	BaseURL       string            `yaml:"base_url"`
	FallbackURL   string            `yaml:"fallback_url"`
	HealthURL     string            `yaml:"health_url"`
	WarmupMs      int               `yaml:"warmup_ms"`
	IdleTimeoutMs int               `yaml:"idle_timeout_ms"`
	RetryCount    int               `yaml:"retry_count"`
	RetryDelayMs  int               `yaml:"retry_delay_ms"`
	QueueSize     int               `yaml:"queue_size"`
	RequestTimeoutMs int            `yaml:"request_timeout_ms"`

	StrategyName string           `yaml:"strategy"`
	Instances    []InstanceConfig `yaml:"instances"`
	Routing      RoutingConfig    `yaml:"routing"`

	ModelKey             string `yaml:"model_key"`
	HealthyThreshold     int    `yaml:"healthy_threshold"`
	HealthPollIntervalMs int    `yaml:"health_poll_interval_ms"`

	Remote RemoteConfig `yaml:"remote"`
}

// InstanceConfig is the YAML-decoded shape of one routable instance.
type InstanceConfig struct {
	URL    string   `yaml:"url"`
	Weight int      `yaml:"weight"`
	Region string   `yaml:"region"`
	Tags   []string `yaml:"tags"`
}

// RoutingConfig is the YAML-decoded by-model routing table.
type RoutingConfig struct {
	ByModel map[string]string `yaml:"by_model"`
}

// RemoteConfig is the YAML-decoded shape of a service's remote-execution settings.
type RemoteConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MachineID       string `yaml:"machine_id"`
	StartTemplateID string `yaml:"start_template_id"`
	StopTemplateID  string `yaml:"stop_template_id"`
	TaskTimeoutS    int    `yaml:"task_timeout_s"`
	PollIntervalS   int    `yaml:"poll_interval_s"`
}
