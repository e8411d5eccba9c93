package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/auth-platform/platform/api-gateway/internal/config"
)

func evalIP(p *IPFilter, ip string) Result {
	r := httptest.NewRequest(http.MethodGet, "/a/1", nil)
	return p.Evaluate(context.Background(), r, NewRequestContext("svc", ip, "req-1"))
}

func TestIPFilter_EmptyListsAllowAll(t *testing.T) {
	p := NewIPFilter(config.IPConfig{})
	assert.True(t, evalIP(p, "1.2.3.4").Allowed)
}

func TestIPFilter_AllowlistExcludesOthers(t *testing.T) {
	p := NewIPFilter(config.IPConfig{Whitelist: []string{"10.0.0.1"}})

	assert.True(t, evalIP(p, "10.0.0.1").Allowed)

	result := evalIP(p, "10.0.0.2")
	assert.False(t, result.Allowed)
	assert.Equal(t, http.StatusForbidden, result.StatusCode)
	assert.Equal(t, "IP address not in allowlist", result.Reason)
}

func TestIPFilter_DenylistBlocks(t *testing.T) {
	p := NewIPFilter(config.IPConfig{Blacklist: []string{"6.6.6.6"}})

	assert.True(t, evalIP(p, "1.2.3.4").Allowed)

	result := evalIP(p, "6.6.6.6")
	assert.False(t, result.Allowed)
	assert.Equal(t, "IP address blocked", result.Reason)
}

func TestIPFilter_AllowlistTakesPrecedence(t *testing.T) {
	// An IP on both lists is judged by the allowlist first.
	p := NewIPFilter(config.IPConfig{
		Whitelist: []string{"10.0.0.1"},
		Blacklist: []string{"10.0.0.1"},
	})

	result := evalIP(p, "10.0.0.1")
	assert.False(t, result.Allowed)
	assert.Equal(t, "IP address blocked", result.Reason)
}
