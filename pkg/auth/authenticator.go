package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// HeaderAPIKey carries the static shared secret
const HeaderAPIKey = "X-API-Key"

// ErrUnauthorized is returned when a request carries no acceptable credential
var ErrUnauthorized = errors.New("unauthorized")

// Config contains authentication configuration
type Config struct {
	APIKey        string `mapstructure:"api_key"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	Issuer        string `mapstructure:"issuer"`
	RequiredScope string `mapstructure:"required_scope"`
}

// Authenticator checks device download requests. A bearer token with the
// required scope is accepted first; otherwise the shared-secret header
// must match. With no shared secret configured every request passes.
type Authenticator struct {
	jwt           *JWTManager
	apiKey        []byte
	requiredScope string
	logger        *zap.Logger
}

// NewAuthenticator creates a new authenticator. jwtManager may be nil.
func NewAuthenticator(cfg *Config, jwtManager *JWTManager, logger *zap.Logger) *Authenticator {
	scope := cfg.RequiredScope
	if scope == "" {
		scope = ScopeProvision
	}

	a := &Authenticator{
		jwt:           jwtManager,
		requiredScope: scope,
		logger:        logger,
	}
	if cfg.APIKey != "" {
		a.apiKey = []byte(cfg.APIKey)
	}
	return a
}

// Authorize returns nil when r may proceed
func (a *Authenticator) Authorize(r *http.Request) error {
	if claims, ok := a.bearer(r); ok && claims.HasScope(a.requiredScope) {
		return nil
	}

	if a.apiKey == nil {
		return nil
	}

	key := r.Header.Get(HeaderAPIKey)
	if subtle.ConstantTimeCompare([]byte(key), a.apiKey) == 1 {
		return nil
	}
	return ErrUnauthorized
}

// bearer returns the validated claims of the Authorization header, if any
func (a *Authenticator) bearer(r *http.Request) (*Claims, bool) {
	if a.jwt == nil {
		return nil, false
	}

	token := BearerToken(r)
	if token == "" {
		return nil, false
	}

	claims, err := a.jwt.ValidateToken(token)
	if err != nil {
		a.logger.Debug("bearer token rejected", zap.Error(err))
		return nil, false
	}
	return claims, true
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
