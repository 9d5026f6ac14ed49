package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContextKeyClaims is the gin context key holding validated *Claims
const ContextKeyClaims = "claims"

// Middleware provides bearer-token middleware for operator endpoints
type Middleware struct {
	jwtManager *JWTManager
	logger     *zap.Logger
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(jwtManager *JWTManager, logger *zap.Logger) *Middleware {
	return &Middleware{
		jwtManager: jwtManager,
		logger:     logger,
	}
}

// Authenticate returns a Gin middleware for JWT authentication
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization token",
			})
			return
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			m.logger.Debug("token validation failed",
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireScopes returns middleware that requires specific scopes
func (m *Middleware) RequireScopes(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaimsFromGin(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		for _, required := range requiredScopes {
			if !claims.HasScope(required) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":          "insufficient permissions",
					"required_scope": required,
				})
				return
			}
		}

		c.Next()
	}
}

// GetClaimsFromGin extracts claims from Gin context
func GetClaimsFromGin(c *gin.Context) *Claims {
	if claims, exists := c.Get(ContextKeyClaims); exists {
		if typed, ok := claims.(*Claims); ok {
			return typed
		}
	}
	return nil
}
