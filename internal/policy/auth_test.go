package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth-platform/platform/api-gateway/internal/config"
)

func newAuth() *Authentication {
	return NewAuthentication(config.AuthConfig{
		JWTSecret: "test-secret",
		JWTIssuer: "gateway-test",
		APIKey:    "valid-api-key",
	})
}

func evalAuth(t *testing.T, a *Authentication, header string) (Result, *RequestContext) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/a/1", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	reqCtx := NewRequestContext("svc", "1.2.3.4", "req-1")
	return a.Evaluate(context.Background(), r, reqCtx), reqCtx
}

func TestAuth_MissingHeader(t *testing.T) {
	result, _ := evalAuth(t, newAuth(), "")

	assert.False(t, result.Allowed)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Equal(t, "Unauthorized", result.Err)
	assert.Equal(t, "Missing authentication header", result.Reason)
}

func TestAuth_ValidBearerStoresPrincipal(t *testing.T) {
	a := newAuth()
	token, err := a.validator.GenerateToken("user-1", []string{"read"}, time.Minute)
	require.NoError(t, err)

	result, reqCtx := evalAuth(t, a, "Bearer "+token)

	require.True(t, result.Allowed)
	claims, ok := reqCtx.Values[PrincipalKey].(*Claims)
	require.True(t, ok)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, []string{"read"}, claims.Scopes)
}

func TestAuth_ExpiredBearer(t *testing.T) {
	a := newAuth()
	token, err := a.validator.GenerateToken("user-1", nil, -time.Minute)
	require.NoError(t, err)

	result, _ := evalAuth(t, a, "Bearer "+token)

	assert.False(t, result.Allowed)
	assert.Equal(t, "Token expired", result.Reason)
}

func TestAuth_WrongSecret(t *testing.T) {
	other := NewJWTValidator("other-secret", "gateway-test")
	token, err := other.GenerateToken("user-1", nil, time.Minute)
	require.NoError(t, err)

	result, _ := evalAuth(t, newAuth(), "Bearer "+token)
	assert.False(t, result.Allowed)
}

func TestAuth_WrongIssuer(t *testing.T) {
	other := NewJWTValidator("test-secret", "someone-else")
	token, err := other.GenerateToken("user-1", nil, time.Minute)
	require.NoError(t, err)

	result, _ := evalAuth(t, newAuth(), "Bearer "+token)
	assert.False(t, result.Allowed)
}

func TestAuth_RejectsNonHMACAlgorithm(t *testing.T) {
	// alg=none with an empty signature must never validate.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    "gateway-test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	result, _ := evalAuth(t, newAuth(), "Bearer "+signed)
	assert.False(t, result.Allowed)
}

func TestAuth_APIKey(t *testing.T) {
	result, _ := evalAuth(t, newAuth(), "ApiKey valid-api-key")
	assert.True(t, result.Allowed)

	result, _ = evalAuth(t, newAuth(), "ApiKey wrong-key")
	assert.False(t, result.Allowed)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
}

func TestAuth_APIKeyNotConfigured(t *testing.T) {
	a := NewAuthentication(config.AuthConfig{JWTSecret: "s"})
	result, _ := evalAuth(t, a, "ApiKey anything")
	assert.False(t, result.Allowed)
}

func TestAuth_UnsupportedScheme(t *testing.T) {
	result, _ := evalAuth(t, newAuth(), "Basic dXNlcjpwYXNz")
	assert.False(t, result.Allowed)
	assert.Equal(t, "Unsupported authentication scheme", result.Reason)
}
