package policy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/auth-platform/platform/api-gateway/internal/config"
	"github.com/auth-platform/platform/api-gateway/internal/store"
)

// Request-context value keys overriding the rate limiter defaults.
const (
	RateLimitKey  = "rate_limit"
	RateWindowKey = "rate_window"
)

// RateLimit enforces a fixed tumbling window per route and client IP,
// counted in the shared store. Store outages fail open.
type RateLimit struct {
	st     store.Store
	limit  int
	window time.Duration
	logger *slog.Logger
	warn   *store.WarnThrottle
}

// NewRateLimit creates the rate limiting policy with gateway defaults.
func NewRateLimit(st store.Store, cfg config.RateConfig, logger *slog.Logger) *RateLimit {
	return &RateLimit{
		st:     st,
		limit:  cfg.Limit,
		window: cfg.Window,
		logger: logger,
		warn:   store.NewWarnThrottle(time.Minute),
	}
}

// Name implements Policy.
func (p *RateLimit) Name() string { return "rate_limit" }

// Evaluate implements Policy.
func (p *RateLimit) Evaluate(ctx context.Context, _ *http.Request, reqCtx *RequestContext) Result {
	limit := p.limit
	if v, ok := reqCtx.Values[RateLimitKey].(int); ok && v > 0 {
		limit = v
	}
	window := p.window
	if v, ok := reqCtx.Values[RateWindowKey].(time.Duration); ok && v > 0 {
		window = v
	}

	key := fmt.Sprintf("ratelimit:%s:%s", reqCtx.RouteName, reqCtx.ClientIP)

	count := 0
	raw, err := p.st.Get(ctx, key)
	switch {
	case err == nil:
		if n, perr := strconv.Atoi(raw); perr == nil {
			count = n
		}
	case store.IsUnavailable(err):
		p.failOpen(err)
		return Allow()
	}

	if count >= limit {
		return Deny(http.StatusTooManyRequests, "Too Many Requests",
			fmt.Sprintf("Rate limit of %d requests per %s exceeded", limit, window))
	}

	n, err := p.st.Incr(ctx, key)
	if err != nil {
		p.failOpen(err)
		return Allow()
	}
	if n == 1 {
		if err := p.st.Expire(ctx, key, window); err != nil {
			p.failOpen(err)
		}
	}

	return Allow()
}

func (p *RateLimit) failOpen(err error) {
	if p.warn.Allow() {
		p.logger.Warn("rate limiter store unavailable, failing open",
			slog.String("error", err.Error()))
	}
}
