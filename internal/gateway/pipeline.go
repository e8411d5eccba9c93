package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/auth-platform/platform/api-gateway/internal/circuitbreaker"
	"github.com/auth-platform/platform/api-gateway/internal/config"
	"github.com/auth-platform/platform/api-gateway/internal/observability"
	"github.com/auth-platform/platform/api-gateway/internal/policy"
	"github.com/auth-platform/platform/api-gateway/internal/routes"
)

// unmatchedRoute labels metrics for requests no route claims.
const unmatchedRoute = "unmatched"

// Pipeline handles every proxied request: match, policies, breaker,
// forward, record.
type Pipeline struct {
	manager  *routes.Manager
	engine   *policy.Engine
	breakers *circuitbreaker.Service
	proxy    *Proxy
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	defaults config.BreakerConfig

	// registered tracks which route breakers have been installed so a
	// config change re-registers and an unchanged route does not.
	// unguarded tracks routes already logged as having no breaker.
	regMu      sync.Mutex
	registered map[string]routes.BreakerConfig
	unguarded  map[string]bool
}

// NewPipeline wires the request pipeline.
func NewPipeline(cfg *config.Config, manager *routes.Manager, engine *policy.Engine, breakers *circuitbreaker.Service, proxy *Proxy, metrics *observability.Metrics, tracer trace.Tracer, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		manager:    manager,
		engine:     engine,
		breakers:   breakers,
		proxy:      proxy,
		metrics:    metrics,
		tracer:     tracer,
		logger:     logger,
		defaults:   cfg.Breaker,
		registered: make(map[string]routes.BreakerConfig),
		unguarded:  make(map[string]bool),
	}
}

// ServeHTTP implements http.Handler for all non-operational paths.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)

	ctx, span := p.tracer.Start(r.Context(), "gateway.request")
	defer span.End()
	r = r.WithContext(ctx)

	route, params, ok := p.manager.Match(r.Method, r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found", "No route matches the request path")
		p.metrics.RecordRequest(unmatchedRoute, r.Method, http.StatusNotFound, time.Since(start))
		return
	}

	span.SetAttributes(
		attribute.String("gateway.route", route.Name),
		attribute.String("gateway.request_id", requestID),
	)

	reqCtx := policy.NewRequestContext(route.Name, clientIPFrom(r.RemoteAddr), requestID)
	reqCtx.Params = params
	reqCtx.StartTime = start

	if result := p.engine.Apply(ctx, route.Policies, r, reqCtx); !result.Allowed {
		p.logger.Info("request denied by policy",
			slog.String("route", route.Name),
			slog.String("policy", result.PolicyName),
			slog.String("request_id", requestID),
			slog.String("client_ip", reqCtx.ClientIP))
		writeError(w, result.StatusCode, result.Err, result.Reason)
		p.metrics.RecordRequest(route.Name, r.Method, result.StatusCode, time.Since(start))
		return
	}

	breakerActive := p.ensureBreaker(r, route)
	if breakerActive && !p.breakers.IsAllowed(ctx, route.Name) {
		writeError(w, http.StatusServiceUnavailable, "Service Unavailable", "circuit open")
		p.metrics.RecordRequest(route.Name, r.Method, http.StatusServiceUnavailable, time.Since(start))
		return
	}

	tmpl, ok := p.manager.Template(route.Name)
	if !ok {
		// Route was deleted between match and forward.
		writeError(w, http.StatusNotFound, "Not Found", "No route matches the request path")
		p.metrics.RecordRequest(route.Name, r.Method, http.StatusNotFound, time.Since(start))
		return
	}

	outcome := p.proxy.Forward(w, r, route, tmpl, reqCtx)

	if breakerActive {
		if outcome.Failed() {
			p.breakers.RecordFailure(ctx, route.Name, outcome.Err, outcome.FailureKind)
		} else {
			p.breakers.RecordSuccess(ctx, route.Name)
		}
	}

	p.metrics.RecordRequest(route.Name, r.Method, outcome.StatusCode, time.Since(start))
}

// ensureBreaker installs the route's breaker on first use and whenever its
// configuration changes. Returns whether a breaker guards this route.
func (p *Pipeline) ensureBreaker(r *http.Request, route routes.Route) bool {
	p.regMu.Lock()
	defer p.regMu.Unlock()

	cb := route.CircuitBreaker
	if cb == nil {
		if !p.unguarded[route.Name] {
			p.unguarded[route.Name] = true
			p.logger.Info("route has no circuit breaker, forwarding unguarded",
				slog.String("route", route.Name))
		}
		return false
	}
	delete(p.unguarded, route.Name)

	if current, ok := p.registered[route.Name]; ok && current == *cb {
		return true
	}

	threshold := cb.FailureThreshold
	if threshold <= 0 {
		threshold = p.defaults.FailureThreshold
	}
	reset := time.Duration(cb.ResetTimeoutMs) * time.Millisecond
	if reset <= 0 {
		reset = p.defaults.ResetTimeout
	}

	p.breakers.Register(r.Context(), route.Name, circuitbreaker.Config{
		FailureThreshold:     threshold,
		ResetTimeout:         reset,
		SuccessesBeforeReset: cb.SuccessesBeforeReset,
		Distributed:          cb.Distributed,
	})
	p.registered[route.Name] = *cb
	return true
}
