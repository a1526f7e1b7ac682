package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hestia-project/hestia-gateway/internal/app/middleware"
	"github.com/hestia-project/hestia-gateway/internal/core/constants"
	"github.com/hestia-project/hestia-gateway/internal/core/domain"
	"github.com/hestia-project/hestia-gateway/internal/util"
)

// registerRoutes builds the full route table and installs it on a.routes.
// Every handler, the transparent proxy and /v1/requests included, goes
// through the same security chain except the health endpoint, which is left
// bare so a load balancer health check never trips the rate limiter.
func (a *Application) registerRoutes() {
	secured := a.security.Wrap
	logged := func(h http.Handler) http.Handler {
		return middleware.EnhancedLoggingMiddleware(a.logger)(middleware.AccessLoggingMiddleware(a.logger)(h))
	}

	a.routes.Register(constants.DefaultHealthCheckEndpoint, logged(http.HandlerFunc(a.handleHealth)),
		http.MethodGet, "liveness/readiness probe")

	a.routes.Register(constants.ServiceProxyPathPrefix, secured(logged(http.HandlerFunc(a.handleServiceProxy))),
		"ANY", "transparent reverse proxy to a service's resolved upstream")

	a.routes.Register("POST /v1/requests", secured(logged(http.HandlerFunc(a.handleGenericDispatch))),
		http.MethodPost, "generic JSON-bodied request dispatcher")

	a.routes.Register("GET /v1/services/{id}/status", secured(logged(http.HandlerFunc(a.handleServiceStatus))),
		http.MethodGet, "service lifecycle/readiness/queue status")

	a.routes.Register("POST /v1/services/{id}/start", secured(logged(http.HandlerFunc(a.handleServiceStart))),
		http.MethodPost, "proactive service warmup")

	a.routes.Register("POST /v1/services/{id}/stop", secured(logged(http.HandlerFunc(a.handleServiceStop))),
		http.MethodPost, "request idle shutdown")

	a.routes.Register("GET /v1/metrics", secured(logged(http.HandlerFunc(a.handleMetrics))),
		http.MethodGet, "metrics collector snapshot")

	a.routes.Register("GET /v1/strategies", secured(logged(http.HandlerFunc(a.handleStrategies))),
		http.MethodGet, "loaded routing strategies and per-service configuration")

	a.routes.Register("GET /v1/events", secured(logged(http.HandlerFunc(a.handleEvents))),
		http.MethodGet, "server-sent stream of service lifecycle transitions")
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(constants.ContentTypeHeader, constants.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleServiceProxy implements the admission path: resolve the service id
// from the path, park the request if the service is not yet hot and ready,
// then resolve an upstream and hand off to the reverse proxy.
func (a *Application) handleServiceProxy(w http.ResponseWriter, r *http.Request) {
	serviceID, rest := splitServicePath(r.URL.Path)
	cfg, _, ok := a.registry.Get(serviceID)
	if !ok {
		if def := a.registry.DefaultServiceID(); def != "" {
			if dc, _, ok2 := a.registry.Get(def); ok2 {
				serviceID, cfg, ok = def, dc, true
			}
		}
	}
	if !ok {
		writeServiceError(w, domain.NewServiceError(serviceID, domain.ErrServiceUnknown, "no such service"))
		return
	}

	a.metrics.IncRequests(serviceID)

	r.URL.Path = rest
	a.dispatch(w, r, serviceID, cfg)
}

// splitServicePath strips the /services/ prefix and returns the service id
// and the remaining path to forward upstream.
func splitServicePath(path string) (serviceID, rest string) {
	trimmed := strings.TrimPrefix(path, constants.ServiceProxyPathPrefix)
	parts := strings.SplitN(trimmed, "/", 2)
	serviceID = parts[0]
	if len(parts) == 2 {
		rest = "/" + parts[1]
	} else {
		rest = "/"
	}
	return serviceID, rest
}

// genericDispatchRequest is the JSON body shape for POST /v1/requests.
type genericDispatchRequest struct {
	ServiceID string            `json:"serviceId"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
	Body      json.RawMessage   `json:"body"`
}

func (a *Application) handleGenericDispatch(w http.ResponseWriter, r *http.Request) {
	var req genericDispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg, _, ok := a.registry.Get(req.ServiceID)
	if !ok {
		writeServiceError(w, domain.NewServiceError(req.ServiceID, domain.ErrServiceUnknown, "no such service"))
		return
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	path := req.Path
	if path == "" {
		path = "/"
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = strings.NewReader(string(req.Body))
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), method, path, bodyReader)
	if err != nil {
		http.Error(w, "could not build upstream request", http.StatusBadRequest)
		return
	}
	for k, v := range req.Headers {
		upstreamReq.Header.Set(k, v)
	}
	if upstreamReq.Header.Get(constants.ContentTypeHeader) == "" && len(req.Body) > 0 {
		upstreamReq.Header.Set(constants.ContentTypeHeader, constants.ContentTypeJSON)
	}

	a.metrics.IncRequests(req.ServiceID)
	a.dispatch(w, upstreamReq, req.ServiceID, cfg)
}

// dispatch is the shared admission/resolve/proxy sequence used by both the
// transparent proxy and the generic dispatcher.
func (a *Application) dispatch(w http.ResponseWriter, r *http.Request, serviceID string, cfg domain.ServiceConfig) {
	_, state, _ := a.registry.Get(serviceID)

	if !state.IsHotAndReady() {
		if err := a.awaitReady(r.Context(), w, r, serviceID, cfg); err != nil {
			return
		}
	}

	strat, hasStrat := a.strategyFor(serviceID)
	reqCtx := buildRequestContext(r, cfg)

	var resolution domain.Resolution
	if hasStrat {
		res, err := strat.Resolve(r.Context(), serviceID, reqCtx, cfg)
		if err != nil {
			writeServiceError(w, domain.NewServiceError(serviceID, domain.ErrNoRoutableInstance, err.Error()))
			return
		}
		resolution = res
	} else {
		resolution = domain.Resolution{URL: cfg.BaseURL, Reason: domain.ReasonFallbackBaseURL}
	}

	w.Header().Set(constants.HeaderXServiceID, serviceID)
	w.Header().Set(constants.HeaderXRoutingReason, string(resolution.Reason))

	proxyStart := time.Now()
	if err := a.proxy.Proxy(r.Context(), w, r, resolution, serviceID, cfg, strat, reqCtx); err != nil {
		// Proxy has already written the client-facing error response (502 on
		// an exhausted retry budget); this is purely for server-side logging.
		a.logger.Error("proxy failed", "service", serviceID, "error", err)
	}
	a.metrics.ObserveProxyLatency(serviceID, time.Since(proxyStart))
}

// awaitReady enqueues the request, triggers a startup if the service is
// cold, and blocks on the queue entry's completion channel until the
// service becomes ready, the entry's own deadline passes, or the gateway
// shuts down. Returns a non-nil error after already writing the appropriate
// HTTP response, signalling the caller to stop processing.
func (a *Application) awaitReady(ctx context.Context, w http.ResponseWriter, r *http.Request, serviceID string, cfg domain.ServiceConfig) error {
	requestID := middleware.GetRequestID(ctx)
	if requestID == "" {
		requestID = util.GenerateRequestID()
	}

	deadline := time.Now().Add(cfg.RequestTimeout)
	if cfg.RequestTimeout <= 0 {
		deadline = time.Now().Add(30 * time.Second)
	}

	q := a.queues.For(serviceID, cfg.QueueSize)
	entry := domain.NewQueueEntry(r, requestID, serviceID, deadline)
	waitStart := time.Now()

	if err := q.Enqueue(entry); err != nil {
		a.metrics.IncQueueRejected(serviceID)
		writeServiceError(w, err)
		return err
	}
	// Triggered only once the entry is parked, so a startup that completes
	// immediately still finds it in the queue when it drains.
	a.orchestrator.Trigger(ctx, serviceID)

	// The entry's own deadline is enforced here, independent of however long
	// the orchestrator's retry/fallback sequence runs: a slow startup must
	// still time out an individual waiter rather than leave it parked until
	// the orchestrator eventually succeeds or fails.
	deadlineTimer := time.NewTimer(time.Until(entry.Deadline))
	defer deadlineTimer.Stop()

	select {
	case outcome := <-entry.Done():
		w.Header().Set(constants.HeaderXQueueWaitMillis, strconv.FormatInt(time.Since(waitStart).Milliseconds(), 10))
		switch outcome.Signal {
		case domain.SignalProceed:
			return nil
		case domain.SignalTimeout:
			a.metrics.IncQueueTimeout(serviceID)
			http.Error(w, "timed out waiting for service to become ready", http.StatusGatewayTimeout)
			return domain.ErrQueueTimeout
		case domain.SignalStartupFailed:
			reason := "startup failed"
			if outcome.Err != nil {
				reason = outcome.Err.Reason
			}
			writeServiceError(w, domain.NewServiceError(serviceID, domain.ErrStartupFailed, reason))
			return domain.ErrStartupFailed
		case domain.SignalGatewayShutdown:
			w.Header().Set("Retry-After", "5")
			writeServiceError(w, domain.NewServiceError(serviceID, domain.ErrShutdownInProgress, "gateway is shutting down"))
			return domain.ErrShutdownInProgress
		default:
			http.Error(w, "unexpected queue outcome", http.StatusInternalServerError)
			return domain.ErrUpstreamError
		}
	case <-deadlineTimer.C:
		entry.Complete(domain.Outcome{Signal: domain.SignalTimeout})
		w.Header().Set(constants.HeaderXQueueWaitMillis, strconv.FormatInt(time.Since(waitStart).Milliseconds(), 10))
		a.metrics.IncQueueTimeout(serviceID)
		http.Error(w, "timed out waiting for service to become ready", http.StatusGatewayTimeout)
		return domain.ErrQueueTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildRequestContext(r *http.Request, cfg domain.ServiceConfig) domain.RequestContext {
	rc := domain.RequestContext{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: r.Header,
	}

	if r.Method == http.MethodPost && r.Body != nil {
		const peekLimit = 64 << 10
		body, err := io.ReadAll(io.LimitReader(r.Body, peekLimit))
		if err == nil && len(body) > 0 {
			r.Body = io.NopCloser(strings.NewReader(string(body)))
			var parsed map[string]any
			if json.Unmarshal(body, &parsed) == nil {
				rc.Model = util.GetString(parsed, cfg.EffectiveModelKey())
			}
		}
	}

	return rc
}

type serviceStatusResponse struct {
	ServiceID    string `json:"serviceId"`
	State        string `json:"state"`
	Readiness    string `json:"readiness"`
	QueuePending int    `json:"queuePending"`
	MachineID    string `json:"machineId,omitempty"`
}

func (a *Application) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	serviceID := r.PathValue("id")
	cfg, state, ok := a.registry.Get(serviceID)
	if !ok {
		writeServiceError(w, domain.NewServiceError(serviceID, domain.ErrServiceUnknown, "no such service"))
		return
	}

	if state.Lifecycle == domain.LifecycleCold && cfg.HealthURL != nil {
		probeCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		_ = a.prober.Probe(probeCtx, cfg, cfg.HealthURL.String(), time.Now().Add(2*time.Second))
		cancel()
	}

	q := a.queues.For(serviceID, cfg.QueueSize)

	resp := serviceStatusResponse{
		ServiceID:    serviceID,
		State:        state.Lifecycle.String(),
		Readiness:    state.Readiness.String(),
		QueuePending: q.Len(),
		MachineID:    state.MachineID,
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *Application) handleServiceStart(w http.ResponseWriter, r *http.Request) {
	serviceID := r.PathValue("id")
	if _, _, ok := a.registry.Get(serviceID); !ok {
		writeServiceError(w, domain.NewServiceError(serviceID, domain.ErrServiceUnknown, "no such service"))
		return
	}

	a.orchestrator.Trigger(r.Context(), serviceID)
	writeJSON(w, http.StatusOK, map[string]string{"serviceId": serviceID, "status": "starting"})
}

func (a *Application) handleServiceStop(w http.ResponseWriter, r *http.Request) {
	serviceID := r.PathValue("id")
	_, _, ok := a.registry.Get(serviceID)
	if !ok {
		writeServiceError(w, domain.NewServiceError(serviceID, domain.ErrServiceUnknown, "no such service"))
		return
	}

	state, err := a.registry.UpdateState(serviceID, func(s domain.ServiceState) domain.ServiceState {
		if s.Lifecycle.CanTransitionTo(domain.LifecycleStopping) {
			s.Lifecycle = domain.LifecycleStopping
			s.Readiness = domain.ReadinessNotReady
		}
		return s
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"serviceId": serviceID, "state": state.Lifecycle.String()})
}

func (a *Application) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.metrics.Snapshot())
}

type strategyConfigEntry struct {
	ServiceID string `json:"serviceId"`
	Strategy  string `json:"strategy"`
}

func (a *Application) handleStrategies(w http.ResponseWriter, r *http.Request) {
	a.stratMu.RLock()
	perService := make([]strategyConfigEntry, 0, len(a.serviceStrats))
	for id, s := range a.serviceStrats {
		perService = append(perService, strategyConfigEntry{ServiceID: id, Strategy: s.Name()})
	}
	a.stratMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":     a.strategies.List(),
		"perService": perService,
	})
}

// handleEvents streams every Lifecycle transition as a server-sent event
// until the client disconnects or the gateway shuts the bus down.
func (a *Application) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set(constants.ContentTypeHeader, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cleanup := a.events.Subscribe(r.Context())
	defer cleanup()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(constants.ContentTypeHeader, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps a domain error onto the status codes from the
// gateway's error taxonomy: queue full / shutdown in progress -> 503,
// startup failed / upstream error -> 502, unknown service -> 404, queue
// timeout -> 504.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrServiceUnknown):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrQueueFull), errors.Is(err, domain.ErrShutdownInProgress):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrQueueTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrStartupFailed), errors.Is(err, domain.ErrUpstreamError), errors.Is(err, domain.ErrNoRoutableInstance):
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
