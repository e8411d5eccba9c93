// Package policy provides the policy registry and the built-in
// authentication, rate limiting, and IP filtering policies.
package policy

import (
	"context"
	"net/http"
	"time"
)

// Result is the outcome of evaluating one policy or a chain.
type Result struct {
	Allowed    bool
	StatusCode int
	Err        string // short label, e.g. "Unauthorized"
	Reason     string // human-readable detail
	PolicyName string // set by the engine on denial
}

// Allow returns a passing result.
func Allow() Result {
	return Result{Allowed: true}
}

// Deny returns a denial with the given status and message.
func Deny(status int, label, reason string) Result {
	return Result{Allowed: false, StatusCode: status, Err: label, Reason: reason}
}

// RequestContext carries per-request state through the policy chain and
// into forwarding.
type RequestContext struct {
	RouteName string
	Params    map[string]string
	ClientIP  string
	RequestID string
	StartTime time.Time

	// Values holds downstream annotations such as the authenticated
	// principal or per-route rate overrides.
	Values map[string]any
}

// NewRequestContext creates a request context with an empty value map.
func NewRequestContext(routeName, clientIP, requestID string) *RequestContext {
	return &RequestContext{
		RouteName: routeName,
		ClientIP:  clientIP,
		RequestID: requestID,
		StartTime: time.Now(),
		Values:    make(map[string]any),
	}
}

// Policy is a named predicate over a request.
type Policy interface {
	// Name identifies the policy in route policy chains.
	Name() string

	// Evaluate decides whether the request may proceed.
	Evaluate(ctx context.Context, r *http.Request, reqCtx *RequestContext) Result
}
