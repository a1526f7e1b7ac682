// Package prober implements the Readiness Prober (C3): it decides when a
// STARTING service has become reachable. A health checker normally polls an
// endpoint's health URL on a scheduled interval with a heap-based scheduler
// across many endpoints at once; a startup probe only ever watches one
// service at a time, so the heap scheduler is dropped in favour of a plain
// poll loop, keeping the per-attempt HTTP GET, error classification, and
// backoff-with-jitter.
package prober

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
	"github.com/hestia-project/hestia-gateway/internal/util"
	"github.com/hestia-project/hestia-gateway/internal/version"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	maxPollInterval      = 5 * time.Second
)

// Prober is an HTTP-GET readiness prober: when cfg.HealthURL is set it polls
// that URL until a 2xx response arrives, ctx is cancelled, or the deadline
// passes. When HealthURL is unset there is nothing to poll: the service is
// assumed ready as soon as its configured warmup elapses, with no HTTP check
// at all (a deadline already at or before now, e.g. warmup_ms=0, is ready
// immediately).
type Prober struct {
	client *http.Client
}

// New builds a Prober with the given per-attempt timeout.
func New(attemptTimeout time.Duration) *Prober {
	if attemptTimeout <= 0 {
		attemptTimeout = 5 * time.Second
	}
	return &Prober{client: &http.Client{Timeout: attemptTimeout}}
}

func (p *Prober) Probe(ctx context.Context, cfg domain.ServiceConfig, baseURL string, deadline time.Time) error {
	if cfg.HealthURL == nil {
		return p.awaitWarmup(ctx, deadline)
	}
	target := cfg.HealthURL.String()

	interval := DefaultPollInterval
	if cfg.EffectiveHealthPollInterval() > 0 {
		interval = cfg.EffectiveHealthPollInterval()
	}

	attempt := 0
	for {
		if time.Now().After(deadline) {
			return domain.NewServiceError(cfg.ServiceID, domain.ErrStartupFailed, "readiness probe deadline exceeded")
		}

		if err := p.attempt(ctx, target); err == nil {
			return nil
		}

		attempt++
		delay := util.CalculateExponentialBackoff(attempt, interval, maxPollInterval, 0.2)
		if delay < interval {
			delay = interval
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.NewServiceError(cfg.ServiceID, domain.ErrStartupFailed, "readiness probe deadline exceeded")
		}
		if delay > remaining {
			delay = remaining
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// awaitWarmup is the no-health-url path: there is no endpoint to poll, so
// readiness is just "warmup elapsed", honouring ctx cancellation in the
// meantime.
func (p *Prober) awaitWarmup(ctx context.Context, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Prober) attempt(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", fmt.Sprintf("%s-ReadinessProbe/%s", version.ShortName, version.Version))
	req.Header.Set("Accept", "*/*")

	resp, err := p.client.Do(req)
	if err != nil {
		return classifyErr(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe got status %d", resp.StatusCode)
	}
	return nil
}

func classifyErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("probe timed out: %w", err)
	}
	return fmt.Errorf("probe transport error: %w", err)
}
