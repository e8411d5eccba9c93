// Package routes provides the route model, path template matching, and
// the route configuration manager.
package routes

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrRouteExists indicates an add conflicted with an existing route name.
	ErrRouteExists = errors.New("route name already exists")

	// ErrPersist indicates a mutation was rejected because the file or
	// store write failed.
	ErrPersist = errors.New("route persistence failed")
)

// BreakerConfig is the per-route circuit breaker configuration as it
// appears on the wire and on disk.
type BreakerConfig struct {
	FailureThreshold     int  `json:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeoutMs       int  `json:"reset_timeout_ms" yaml:"reset_timeout_ms"`
	SuccessesBeforeReset int  `json:"successes_before_reset,omitempty" yaml:"successes_before_reset,omitempty"`
	Distributed          bool `json:"distributed,omitempty" yaml:"distributed,omitempty"`
}

// Route maps a request pattern to a single upstream target.
type Route struct {
	Name           string         `json:"name" yaml:"name"`
	Pattern        string         `json:"pattern" yaml:"pattern"`
	Target         string         `json:"target" yaml:"target"`
	Methods        []string       `json:"methods,omitempty" yaml:"methods,omitempty"`
	Policies       []string       `json:"policies,omitempty" yaml:"policies,omitempty"`
	CircuitBreaker *BreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
	TimeoutMs      int            `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retries        int            `json:"retries,omitempty" yaml:"retries,omitempty"`
}

// Validate checks the route invariants: non-empty unique name (uniqueness
// is enforced by the Manager), a parseable pattern, a valid absolute
// target URL, and a positive breaker configuration when present.
func (r *Route) Validate() error {
	var errs []string

	if r.Name == "" {
		errs = append(errs, "name is required")
	}

	if _, err := ParseTemplate(r.Pattern); err != nil {
		errs = append(errs, fmt.Sprintf("pattern: %v", err))
	}

	target, err := url.Parse(r.Target)
	if err != nil || !target.IsAbs() || target.Host == "" {
		errs = append(errs, "target must be a valid absolute URL")
	}

	for _, m := range r.Methods {
		switch strings.ToUpper(m) {
		case "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS":
		default:
			errs = append(errs, fmt.Sprintf("unknown method %q", m))
		}
	}

	// Omitted (zero) breaker fields fall back to the gateway defaults.
	if cb := r.CircuitBreaker; cb != nil {
		if cb.FailureThreshold < 0 {
			errs = append(errs, "circuit_breaker.failure_threshold must not be negative")
		}
		if cb.ResetTimeoutMs < 0 {
			errs = append(errs, "circuit_breaker.reset_timeout_ms must not be negative")
		}
		if cb.SuccessesBeforeReset < 0 {
			errs = append(errs, "circuit_breaker.successes_before_reset must not be negative")
		}
	}

	if r.TimeoutMs < 0 {
		errs = append(errs, "timeout_ms must not be negative")
	}
	if r.Retries < 0 {
		errs = append(errs, "retries must not be negative")
	}

	if len(errs) > 0 {
		return errors.New("invalid route: " + strings.Join(errs, "; "))
	}
	return nil
}

// AllowsMethod reports whether the route accepts the HTTP method. An
// empty method set accepts everything.
func (r *Route) AllowsMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
