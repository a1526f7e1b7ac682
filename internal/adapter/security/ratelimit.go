// Package security provides the gateway's HTTP middleware chain: per-IP rate
// limiting, request body size limits, and optional API-key
// authentication. The token-bucket-per-IP design is built on
// golang.org/x/time/rate; a pluggable SecurityChain/Validator abstraction is
// dropped since this gateway only ever runs this one fixed chain, so the
// extra interface layer bought nothing.
package security

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hestia-project/hestia-gateway/internal/config"
	"github.com/hestia-project/hestia-gateway/internal/core/constants"
	"github.com/hestia-project/hestia-gateway/internal/logger"
	"github.com/hestia-project/hestia-gateway/internal/util"
)

// RateLimiter enforces a global and a per-client-IP request rate; requests
// to the health check endpoint are not rate limited at all.
type RateLimiter struct {
	logger *logger.StyledLogger

	globalLimiter     *rate.Limiter
	perIPLimit        int
	burstSize         int
	trustProxyHeaders bool
	trustedCIDRs      []string

	ipLimiters    sync.Map
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
	mu         sync.Mutex
}

// NewRateLimiter builds a RateLimiter from the gateway's rate limit
// configuration. When cfg.Enabled is false, the returned middleware is a
// no-op pass-through.
func NewRateLimiter(cfg config.RateLimitConfig, log *logger.StyledLogger) *RateLimiter {
	rl := &RateLimiter{
		logger:            log,
		perIPLimit:        cfg.RequestsPerMinute,
		burstSize:         cfg.BurstSize,
		trustProxyHeaders: cfg.TrustProxyHeaders,
		trustedCIDRs:      cfg.TrustedProxyCIDRs,
		stopCleanup:       make(chan struct{}),
	}

	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return rl
	}

	globalRate := rate.Limit(float64(cfg.RequestsPerMinute*10) / 60.0)
	rl.globalLimiter = rate.NewLimiter(globalRate, cfg.BurstSize*10)

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	rl.cleanupTicker = time.NewTicker(interval)
	go rl.cleanupRoutine()

	return rl
}

// Stop halts the background cleanup goroutine. Safe to call multiple times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		if rl.cleanupTicker != nil {
			rl.cleanupTicker.Stop()
		}
		close(rl.stopCleanup)
	})
}

// Middleware returns the http middleware enforcing this limiter's rules.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.perIPLimit <= 0 || isHealthPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if rl.globalLimiter != nil && !rl.globalLimiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}

			clientIP := util.GetClientIP(r, rl.trustProxyHeaders, parseCIDRs(rl.trustedCIDRs))
			entry := rl.getOrCreateLimiter(clientIP)

			entry.mu.Lock()
			entry.lastAccess = time.Now()
			limiter := entry.limiter
			entry.mu.Unlock()

			if !limiter.Allow() {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.perIPLimit))
				w.Header().Set("Retry-After", "60")
				if rl.logger != nil {
					rl.logger.Warn("rate limit exceeded", "client_ip", clientIP, "path", r.URL.Path)
				}
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) getOrCreateLimiter(key string) *ipLimiterEntry {
	fresh := &ipLimiterEntry{
		limiter:    rate.NewLimiter(rate.Limit(float64(rl.perIPLimit)/60.0), rl.burstSize),
		lastAccess: time.Now(),
	}
	actual, _ := rl.ipLimiters.LoadOrStore(key, fresh)
	entry, ok := actual.(*ipLimiterEntry)
	if !ok {
		return fresh
	}
	return entry
}

func (rl *RateLimiter) cleanupRoutine() {
	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-rl.cleanupTicker.C:
			rl.cleanupStale()
		}
	}
}

func (rl *RateLimiter) cleanupStale() {
	cutoff := time.Now().Add(-10 * time.Minute)
	rl.ipLimiters.Range(func(key, value any) bool {
		entry, ok := value.(*ipLimiterEntry)
		if !ok {
			return true
		}
		entry.mu.Lock()
		stale := entry.lastAccess.Before(cutoff)
		entry.mu.Unlock()
		if stale {
			rl.ipLimiters.Delete(key)
		}
		return true
	})
}

// isHealthPath reports whether the request targets the health endpoint,
// exempt from rate limiting since monitoring systems poll it frequently.
func isHealthPath(path string) bool {
	return path == constants.DefaultHealthCheckEndpoint
}

func parseCIDRs(raw []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(raw))
	for _, c := range raw {
		if _, ipnet, err := net.ParseCIDR(c); err == nil {
			nets = append(nets, ipnet)
		}
	}
	return nets
}
