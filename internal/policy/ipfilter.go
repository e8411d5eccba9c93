package policy

import (
	"context"
	"net/http"

	"github.com/auth-platform/platform/api-gateway/internal/config"
)

// IPFilter checks the client IP against an allowlist and a denylist.
// A non-empty allowlist takes precedence: anything outside it is denied.
type IPFilter struct {
	allow map[string]bool
	deny  map[string]bool
}

// NewIPFilter creates the IP filtering policy.
func NewIPFilter(cfg config.IPConfig) *IPFilter {
	return &IPFilter{
		allow: toSet(cfg.Whitelist),
		deny:  toSet(cfg.Blacklist),
	}
}

func toSet(ips []string) map[string]bool {
	set := make(map[string]bool, len(ips))
	for _, ip := range ips {
		set[ip] = true
	}
	return set
}

// Name implements Policy.
func (p *IPFilter) Name() string { return "ip_filter" }

// Evaluate implements Policy.
func (p *IPFilter) Evaluate(_ context.Context, _ *http.Request, reqCtx *RequestContext) Result {
	if len(p.allow) > 0 && !p.allow[reqCtx.ClientIP] {
		return Deny(http.StatusForbidden, "Forbidden", "IP address not in allowlist")
	}
	if p.deny[reqCtx.ClientIP] {
		return Deny(http.StatusForbidden, "Forbidden", "IP address blocked")
	}
	return Allow()
}
