// Package proxy implements the transparent streaming reverse proxy (C7): it
// forwards an admitted request to the upstream URL a Strategy already
// resolved, copies the response back byte-for-byte (including chunked/SSE
// streams), and feeds the outcome back into the strategy's health tracking
// when the strategy exposes one. The shared-transport-with-TCP-tuning,
// buffer-pool, and read-timeout-protected streaming design is kept from a
// production-grade reverse proxy; the multi-engine routing split, discovery
// service, event bus and any upstream-specific header handling are dropped
// since nothing in this domain needs them.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hestia-project/hestia-gateway/internal/core/constants"
	"github.com/hestia-project/hestia-gateway/internal/core/domain"
	"github.com/hestia-project/hestia-gateway/internal/core/ports"
	"github.com/hestia-project/hestia-gateway/internal/logger"
	"github.com/hestia-project/hestia-gateway/pkg/pool"
)

const (
	DefaultReadTimeout      = 60 * time.Second
	DefaultStreamBufferSize = 8 * 1024

	defaultMaxIdleConns        = 64
	defaultMaxIdleConnsPerHost = 16
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 10 * time.Second
	defaultDialKeepAlive       = 60 * time.Second

	clientDisconnectBytesThreshold = 1024
)

// healthRecorder is implemented by strategies (the load balancer and, via
// delegation, the model router) that track per-instance health. Strategies
// that don't need it (a future static-route strategy, say) simply aren't
// asserted against.
type healthRecorder interface {
	Health() *domain.HealthTracker
}

// Proxy is the default ports.ReverseProxy implementation.
type Proxy struct {
	transport  *http.Transport
	bufferPool *pool.Pool[*[]byte]
	logger     *logger.StyledLogger
}

// New builds a Proxy with a shared, TCP-tuned transport.
func New(log *logger.StyledLogger) *Proxy {
	transport := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultDialKeepAlive}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	bufPool := pool.NewLitePool(func() *[]byte {
		buf := make([]byte, DefaultStreamBufferSize)
		return &buf
	})

	return &Proxy{transport: transport, bufferPool: bufPool, logger: log}
}

// idempotentMethods lists the HTTP methods §4.7 permits a single failover
// retry for; anything else (POST, PATCH, ...) risks duplicate side effects
// on the upstream and is never retried.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
}

func isIdempotentMethod(method string) bool {
	return idempotentMethods[method]
}

// Proxy forwards r to upstream.URL, streaming the response back to w. On a
// transport error or a >=500 response, if cfg.RetryCount > 0, r.Method is
// idempotent and strat can resolve a different instance, exactly one retry
// is attempted against that instance before giving up.
func (p *Proxy) Proxy(ctx context.Context, w http.ResponseWriter, r *http.Request, upstream domain.Resolution, serviceID string, cfg domain.ServiceConfig, strat ports.Strategy, reqCtx domain.RequestContext) (err error) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("proxy panic recovered: %v", rec)
			if p.logger != nil {
				p.logger.ErrorWithService("proxy request panicked", serviceID, "panic", rec)
			}
			if w.Header().Get("Content-Type") == "" {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}
	}()

	canRetry := cfg.RetryCount > 0 && strat != nil && isIdempotentMethod(r.Method)

	var bodyBytes []byte
	if canRetry && r.Body != nil && r.Body != http.NoBody {
		bodyBytes, err = io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return fmt.Errorf("buffering request body for retry: %w", err)
		}
	}

	target := upstream
	retried := false

	for {
		if bodyBytes != nil {
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, rtErr := p.roundTrip(ctx, r, target, serviceID)
		if rtErr != nil {
			p.recordOutcome(strat, target.URL.String(), cfg, false)
			if canRetry && !retried {
				if next, ok := p.resolveRetryTarget(ctx, serviceID, reqCtx, cfg, strat); ok {
					retried, target = true, next
					continue
				}
			}
			friendly := userFriendlyError(rtErr, time.Since(start), "connect", cfg.RequestTimeout)
			http.Error(w, friendly.Error(), http.StatusBadGateway)
			return fmt.Errorf("%w: %s", domain.ErrUpstreamError, friendly.Error())
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			p.recordOutcome(strat, target.URL.String(), cfg, false)
			if canRetry && !retried {
				_ = resp.Body.Close()
				if next, ok := p.resolveRetryTarget(ctx, serviceID, reqCtx, cfg, strat); ok {
					retried, target = true, next
					continue
				}
			}
		}

		return p.writeResponse(ctx, w, resp, target, serviceID, cfg, strat, start)
	}
}

// roundTrip builds and sends one upstream request against target.
func (p *Proxy) roundTrip(ctx context.Context, r *http.Request, target domain.Resolution, serviceID string) (*http.Response, error) {
	targetURL := buildTargetURL(target.URL, r)

	proxyReq, err := http.NewRequestWithContext(ctx, r.Method, targetURL.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("building proxy request: %w", err)
	}
	copyRequestHeaders(proxyReq, r, serviceID, target.Reason)

	return p.transport.RoundTrip(proxyReq)
}

// resolveRetryTarget asks strat for a fresh Resolution to retry against,
// now that the failed instance has just had a failure recorded against it.
func (p *Proxy) resolveRetryTarget(ctx context.Context, serviceID string, reqCtx domain.RequestContext, cfg domain.ServiceConfig, strat ports.Strategy) (domain.Resolution, bool) {
	next, err := strat.Resolve(ctx, serviceID, reqCtx, cfg)
	if err != nil {
		return domain.Resolution{}, false
	}
	if p.logger != nil {
		p.logger.Warn("retrying idempotent request against next instance", "service_id", serviceID, "instance", next.URL.String())
	}
	return next, true
}

// writeResponse streams resp back to the client; this is the only path that
// writes a status line, so it only runs once a response is final (either
// successful, or the retry budget is spent).
func (p *Proxy) writeResponse(ctx context.Context, w http.ResponseWriter, resp *http.Response, target domain.Resolution, serviceID string, cfg domain.ServiceConfig, strat ports.Strategy, start time.Time) error {
	defer func() { _ = resp.Body.Close() }()

	copyResponseHeaders(w, resp, serviceID, target.Reason)
	w.WriteHeader(resp.StatusCode)

	bufPtr := p.bufferPool.Get()
	defer p.bufferPool.Put(bufPtr)

	readTimeout := cfg.RequestTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	bytesWritten, streamErr := p.streamResponse(ctx, w, resp.Body, *bufPtr, readTimeout, p.logger)
	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		p.recordOutcome(strat, target.URL.String(), cfg, false)
		return userFriendlyError(streamErr, time.Since(start), "streaming", cfg.RequestTimeout)
	}

	p.recordOutcome(strat, target.URL.String(), cfg, resp.StatusCode < 500)
	if p.logger != nil {
		p.logger.Debug("proxy request completed", "service_id", serviceID, "status", resp.StatusCode, "bytes", bytesWritten, "duration", time.Since(start))
	}
	return nil
}

func (p *Proxy) recordOutcome(strat ports.Strategy, instanceURL string, cfg domain.ServiceConfig, ok bool) {
	hr, supports := strat.(healthRecorder)
	if !supports {
		return
	}
	tracker := hr.Health()
	if tracker == nil {
		return
	}
	if ok {
		tracker.RecordSuccess(instanceURL)
	} else {
		tracker.RecordFailure(instanceURL, cfg.EffectiveHealthyThreshold())
	}
}

// buildTargetURL rewrites the request's service-scoped path onto upstream,
// stripping the "/services/{id}" mount prefix so the backend sees a path
// rooted at "/".
func buildTargetURL(upstream *url.URL, r *http.Request) *url.URL {
	remainder := stripServicePrefix(r.URL.Path)

	target := *upstream
	target.Path = joinPath(upstream.Path, remainder)
	target.RawQuery = r.URL.RawQuery
	return &target
}

func stripServicePrefix(path string) string {
	trimmed := path
	if len(trimmed) >= len(constants.ServiceProxyPathPrefix) && trimmed[:len(constants.ServiceProxyPathPrefix)] == constants.ServiceProxyPathPrefix {
		trimmed = trimmed[len(constants.ServiceProxyPathPrefix):]
	} else {
		return "/"
	}
	// trimmed is now "{id}/rest/of/path" or "{id}"; drop the id segment.
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] == '/' {
			return trimmed[i:]
		}
	}
	return "/"
}

func joinPath(base, suffix string) string {
	switch {
	case base == "" || base == "/":
		return suffix
	case suffix == "" || suffix == "/":
		return base
	default:
		if base[len(base)-1] == '/' {
			base = base[:len(base)-1]
		}
		if suffix[0] != '/' {
			suffix = "/" + suffix
		}
		return base + suffix
	}
}

// hopByHopHeaders lists the RFC 2616 section 13.5.1 connection-specific
// headers that must never be forwarded verbatim between a client and an
// upstream; leaving them in place corrupts response framing (a client's
// Connection/TE negotiated with the gateway isn't valid for the upstream
// hop, and echoing the upstream's own Transfer-Encoding/Connection back to
// the client conflicts with what this proxy itself already wrote).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func isHopByHopHeader(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

func copyRequestHeaders(dst *http.Request, src *http.Request, serviceID string, reason domain.Reason) {
	for k, vals := range src.Header {
		if isHopByHopHeader(k) {
			continue
		}
		for _, v := range vals {
			dst.Header.Add(k, v)
		}
	}
	dst.Header.Set(constants.HeaderXServiceID, serviceID)
	dst.Header.Set(constants.HeaderXRoutingReason, string(reason))
}

func copyResponseHeaders(w http.ResponseWriter, resp *http.Response, serviceID string, reason domain.Reason) {
	for k, vals := range resp.Header {
		if isHopByHopHeader(k) {
			continue
		}
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(constants.HeaderXServiceID, serviceID)
	w.Header().Set(constants.HeaderXRoutingReason, string(reason))
}

var _ ports.ReverseProxy = (*Proxy)(nil)
