package policy

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
)

// Engine is the registry of named policies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]Policy
	logger   *slog.Logger
}

// NewEngine creates an empty policy engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		policies: make(map[string]Policy),
		logger:   logger,
	}
}

// Register inserts a policy. Re-registering a name replaces the previous
// policy.
func (e *Engine) Register(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name()] = p
}

// Get returns the policy registered under name.
func (e *Engine) Get(name string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[name]
	return p, ok
}

// Apply evaluates the named policies in order. The first denial
// short-circuits the chain. Missing names are logged and skipped. A
// panicking policy aborts the chain with a 500.
func (e *Engine) Apply(ctx context.Context, names []string, r *http.Request, reqCtx *RequestContext) Result {
	for _, name := range names {
		p, ok := e.Get(name)
		if !ok {
			e.logger.Warn("policy not registered, skipping",
				slog.String("policy", name),
				slog.String("route", reqCtx.RouteName))
			continue
		}

		result := e.evaluate(ctx, p, r, reqCtx)
		if !result.Allowed {
			result.PolicyName = name
			return result
		}
	}
	return Allow()
}

func (e *Engine) evaluate(ctx context.Context, p Policy, r *http.Request, reqCtx *RequestContext) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("policy evaluation panicked",
				slog.String("policy", p.Name()),
				slog.String("route", reqCtx.RouteName),
				slog.Any("panic", rec))
			result = Deny(http.StatusInternalServerError, "Internal Server Error", "Error evaluating policy")
		}
	}()
	return p.Evaluate(ctx, r, reqCtx)
}
