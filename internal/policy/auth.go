package policy

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/auth-platform/platform/api-gateway/internal/config"
)

var (
	// ErrMissingToken indicates no token was provided.
	ErrMissingToken = errors.New("missing authorization token")
	// ErrInvalidToken indicates the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// PrincipalKey is the request-context value key for authenticated claims.
const PrincipalKey = "principal"

// Claims represents the JWT claims accepted by the gateway.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// JWTValidator validates JWT bearer tokens.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator creates a JWT validator for a shared HMAC secret.
func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Validate validates a token string and returns the claims.
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// HMAC only; rejects "none" and asymmetric confusion.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GenerateToken signs a token with the validator's secret, for tests.
func (v *JWTValidator) GenerateToken(subject string, scopes []string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Authentication verifies the Authorization header. Bearer tokens are
// validated as JWTs; ApiKey values are compared in constant time against
// the configured key. Secrets are resolved once at construction.
type Authentication struct {
	validator *JWTValidator
	apiKey    []byte
}

// NewAuthentication creates the authentication policy.
func NewAuthentication(cfg config.AuthConfig) *Authentication {
	return &Authentication{
		validator: NewJWTValidator(cfg.JWTSecret, cfg.JWTIssuer),
		apiKey:    []byte(cfg.APIKey),
	}
}

// Name implements Policy.
func (a *Authentication) Name() string { return "authentication" }

// Evaluate implements Policy.
func (a *Authentication) Evaluate(_ context.Context, r *http.Request, reqCtx *RequestContext) Result {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Deny(http.StatusUnauthorized, "Unauthorized", "Missing authentication header")
	}

	switch {
	case strings.HasPrefix(header, "Bearer "):
		claims, err := a.validator.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return Deny(http.StatusUnauthorized, "Unauthorized", "Token expired")
			}
			return Deny(http.StatusUnauthorized, "Unauthorized", "Invalid token")
		}
		reqCtx.Values[PrincipalKey] = claims
		return Allow()

	case strings.HasPrefix(header, "ApiKey "):
		presented := strings.TrimSpace(strings.TrimPrefix(header, "ApiKey "))
		if len(a.apiKey) == 0 {
			return Deny(http.StatusUnauthorized, "Unauthorized", "API key authentication not configured")
		}
		if subtle.ConstantTimeCompare([]byte(presented), a.apiKey) != 1 {
			return Deny(http.StatusUnauthorized, "Unauthorized", "Invalid API key")
		}
		reqCtx.Values[PrincipalKey] = "api-key"
		return Allow()

	default:
		return Deny(http.StatusUnauthorized, "Unauthorized", "Unsupported authentication scheme")
	}
}
