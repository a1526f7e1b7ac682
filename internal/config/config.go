// Package config loads the gateway's YAML configuration via viper, with
// environment-variable overrides and fsnotify-driven hot reload
// (spf13/viper + fsnotify.Event debounce). GatewayConfig is the wire shape;
// ToDomain converts it into the domain.ServiceConfig map the registry is
// seeded and reloaded from.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
	"github.com/hestia-project/hestia-gateway/internal/util"
)

const (
	DefaultPort = 8080
	DefaultHost = "0.0.0.0"

	EnvPrefix = "HESTIA"

	// defaultReloadDebounce absorbs the burst of fsnotify events a single
	// save can produce (and, on some platforms, the write landing before the
	// editor has finished flushing it).
	defaultReloadDebounce = 500 * time.Millisecond
	defaultFileWriteDelay = 150 * time.Millisecond
)

var (
	reloadMu   sync.Mutex
	lastReload time.Time
)

// DefaultConfig returns a GatewayConfig with sensible defaults and no
// services configured; services must come from a config file.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			ShutdownTimeout: 10 * time.Second,
			IdleSweepMs:     2000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			Theme:  "default",
		},
		Store: StoreConfig{
			Path: "./hestia-state.json",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				BurstSize:         50,
				CleanupInterval:   5 * time.Minute,
				TrustedProxyCIDRs: []string{"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
			},
			MaxBodyBytes: 50 << 20,
		},
		Services: map[string]ServiceConfig{},
	}
}

// Load reads the YAML file named by $HESTIA_CONFIG_FILE (default
// ./hestia_config.yml; a missing file leaves the defaults in place) plus
// HESTIA_-prefixed environment overrides into a GatewayConfig. When
// onConfigChange is non-nil, Load watches the config file and invokes it
// (debounced) whenever it's rewritten.
func Load(onConfigChange func(*GatewayConfig)) (*GatewayConfig, error) {
	cfg := DefaultConfig()

	configFile := os.Getenv(EnvPrefix + "_CONFIG_FILE")
	if configFile == "" {
		configFile = "./hestia_config.yml"
	}
	viper.SetConfigFile(configFile)
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyServiceEnvOverrides(cfg)

	if onConfigChange != nil {
		viper.WatchConfig()
		viper.OnConfigChange(func(_ fsnotify.Event) {
			reloadMu.Lock()
			defer reloadMu.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < defaultReloadDebounce {
				return
			}
			lastReload = now
			time.Sleep(defaultFileWriteDelay)

			reloaded := DefaultConfig()
			if err := viper.Unmarshal(reloaded); err != nil {
				return
			}
			applyServiceEnvOverrides(reloaded)
			onConfigChange(reloaded)
		})
	}

	return cfg, nil
}

// ToDomain converts the YAML-shaped service map into the domain.ServiceConfig
// map the registry consumes, parsing every URL field and applying the
// service id as the map key.
func (c *GatewayConfig) ToDomain() (map[string]domain.ServiceConfig, error) {
	out := make(map[string]domain.ServiceConfig, len(c.Services))
	for id, svc := range c.Services {
		dc, err := svc.toDomain(id)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", id, err)
		}
		out[id] = dc
	}
	return out, nil
}

func (s ServiceConfig) toDomain(id string) (domain.ServiceConfig, error) {
	baseURL, err := parseRequiredURL(s.BaseURL)
	if err != nil {
		return domain.ServiceConfig{}, fmt.Errorf("base_url: %w", err)
	}

	fallbackURL, err := parseOptionalURL(s.FallbackURL)
	if err != nil {
		return domain.ServiceConfig{}, fmt.Errorf("fallback_url: %w", err)
	}

	healthURL, err := parseOptionalURL(s.HealthURL)
	if err != nil {
		return domain.ServiceConfig{}, fmt.Errorf("health_url: %w", err)
	}

	instances := make([]domain.InstanceConfig, 0, len(s.Instances))
	for i, inst := range s.Instances {
		u, err := parseRequiredURL(inst.URL)
		if err != nil {
			return domain.ServiceConfig{}, fmt.Errorf("instances[%d].url: %w", i, err)
		}
		instances = append(instances, domain.InstanceConfig{URL: u, Weight: inst.Weight, Region: inst.Region, Tags: inst.Tags})
	}

	byModel := make(map[string]*url.URL, len(s.Routing.ByModel))
	for model, raw := range s.Routing.ByModel {
		u, err := parseRequiredURL(raw)
		if err != nil {
			return domain.ServiceConfig{}, fmt.Errorf("routing.by_model[%s]: %w", model, err)
		}
		byModel[model] = u
	}

	return domain.ServiceConfig{
		ServiceID:      id,
		BaseURL:        baseURL,
		FallbackURL:    fallbackURL,
		HealthURL:      healthURL,
		WarmupMs:       s.WarmupMs,
		IdleTimeoutMs:  s.IdleTimeoutMs,
		RetryCount:     s.RetryCount,
		RetryDelayMs:   s.RetryDelayMs,
		QueueSize:      s.QueueSize,
		RequestTimeout: time.Duration(s.RequestTimeoutMs) * time.Millisecond,

		StrategyName: s.StrategyName,
		Instances:    instances,
		Routing:      domain.RoutingConfig{ByModel: byModel},

		ModelKey:             s.ModelKey,
		HealthyThreshold:     s.HealthyThreshold,
		HealthPollIntervalMs: s.HealthPollIntervalMs,

		Remote: domain.RemoteConfig{
			Enabled:         s.Remote.Enabled,
			MachineID:       s.Remote.MachineID,
			StartTemplateID: s.Remote.StartTemplateID,
			StopTemplateID:  s.Remote.StopTemplateID,
			TaskTimeoutS:    s.Remote.TaskTimeoutS,
			PollIntervalS:   s.Remote.PollIntervalS,
		},
	}, nil
}

// parseRequiredURL strips a trailing slash before parsing so
// "http://host:8080/" and "http://host:8080" always produce the same
// *url.URL.Path, regardless of which form an operator wrote in the config.
func parseRequiredURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(util.NormaliseBaseURL(raw))
	if err != nil {
		return nil, err
	}
	return u, nil
}

func parseOptionalURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	return parseRequiredURL(raw)
}

// serviceEnvFields lists the ServiceConfig fields overridable per-service via
// <UPPER_SERVICE_ID>_<FIELD> environment variables, since viper's own env
// binding can't express a dynamic prefix keyed off a map's own keys.
var serviceEnvFields = []string{
	"base_url", "fallback_url", "health_url",
	"warmup_ms", "idle_timeout_ms", "retry_count", "retry_delay_ms",
	"queue_size", "request_timeout_ms", "strategy", "model_key",
	"healthy_threshold", "health_poll_interval_ms",
}

// applyServiceEnvOverrides scans os.Environ() for HESTIA_<ID>_<FIELD> entries
// (id upper-cased, hyphens mapped to underscores) matching a configured
// service and field, and overwrites that field in-place. Only string/int
// fields are supported, matching what an env var can carry unambiguously.
func applyServiceEnvOverrides(cfg *GatewayConfig) {
	if len(cfg.Services) == 0 {
		return
	}
	for id, svc := range cfg.Services {
		envID := strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
		for _, field := range serviceEnvFields {
			key := fmt.Sprintf("%s_%s_%s", EnvPrefix, envID, strings.ToUpper(field))
			raw, ok := os.LookupEnv(key)
			if !ok {
				continue
			}
			applyServiceField(&svc, field, raw)
		}
		cfg.Services[id] = svc
	}
}

func applyServiceField(svc *ServiceConfig, field, raw string) {
	switch field {
	case "base_url":
		svc.BaseURL = raw
	case "fallback_url":
		svc.FallbackURL = raw
	case "health_url":
		svc.HealthURL = raw
	case "strategy":
		svc.StrategyName = raw
	case "model_key":
		svc.ModelKey = raw
	case "warmup_ms":
		svc.WarmupMs = atoiOrZero(raw)
	case "idle_timeout_ms":
		svc.IdleTimeoutMs = atoiOrZero(raw)
	case "retry_count":
		svc.RetryCount = atoiOrZero(raw)
	case "retry_delay_ms":
		svc.RetryDelayMs = atoiOrZero(raw)
	case "queue_size":
		svc.QueueSize = atoiOrZero(raw)
	case "request_timeout_ms":
		svc.RequestTimeoutMs = atoiOrZero(raw)
	case "healthy_threshold":
		svc.HealthyThreshold = atoiOrZero(raw)
	case "health_poll_interval_ms":
		svc.HealthPollIntervalMs = atoiOrZero(raw)
	}
}

func atoiOrZero(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
