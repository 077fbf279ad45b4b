package authorization

import (
	"encoding/json"
	"net/http"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
)

// IdentityKey is the gin context key (and JWT claim) holding the account identity.
const IdentityKey = "account_id"

// Identity is the minimal account information carried in the token.
type Identity struct {
	ID    uint64
	Email string
}

// Guard wraps the JWT middleware for route protection.
type Guard struct {
	jwt *jwt.GinJWTMiddleware
}

// NewGuard builds a Guard around jwtMiddleware.
func NewGuard(jwtMiddleware *jwt.GinJWTMiddleware) *Guard {
	if jwtMiddleware == nil {
		return nil
	}
	return &Guard{jwt: jwtMiddleware}
}

// Guard returns a Guard backed by the module's JWT middleware.
func (m *Module) Guard() *Guard {
	if m == nil {
		return nil
	}
	return NewGuard(m.jwtMiddleware)
}

// RequireAuthenticated rejects requests without a valid JWT.
func (g *Guard) RequireAuthenticated() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		}
	}
	return g.jwt.MiddlewareFunc()
}

// CurrentAccountID returns the authenticated account id, or 0 when the request is anonymous.
func CurrentAccountID(c *gin.Context) uint64 {
	if c == nil {
		return 0
	}
	if value, ok := c.Get(IdentityKey); ok {
		if identity, ok := value.(*Identity); ok && identity != nil {
			return identity.ID
		}
	}
	return extractAccountID(jwt.ExtractClaims(c))
}

func extractAccountID(claims jwt.MapClaims) uint64 {
	if claims == nil {
		return 0
	}
	idValue, ok := claims[IdentityKey]
	if !ok {
		return 0
	}

	switch v := idValue.(type) {
	case float64:
		return uint64(v)
	case int64:
		return uint64(v)
	case uint64:
		return v
	case int:
		return uint64(v)
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return uint64(parsed)
		}
	}
	return 0
}
