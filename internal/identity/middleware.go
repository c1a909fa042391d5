package identity

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyPrincipal is the gin context key for the resolved principal.
	ContextKeyPrincipal = "authPrincipal"
)

// Middleware resolves the request's principal from the Authorization header.
// Resolution failure is not fatal here; RequireAuth and the role gates reject
// requests that need an identity.
func Middleware(provider Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token != "" {
			if p, err := provider.Identify(c.Request.Context(), token); err == nil {
				c.Set(ContextKeyPrincipal, p)
			}
		}
		c.Next()
	}
}

// AdminSecretMiddleware grants the admin role to requests presenting the
// back-office secret. Layered after Middleware so header-based admin access
// works in development and for internal tooling.
func AdminSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" {
			presented := c.GetHeader("X-Admin-Secret")
			if presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1 {
				p := principal(c)
				if p == nil {
					p = &Principal{UserID: "admin", Roles: []Role{RoleAdmin}}
				} else if !p.IsAdmin() {
					p.Roles = append(p.Roles, RoleAdmin)
				}
				c.Set(ContextKeyPrincipal, p)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a resolved principal.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required. Include 'Authorization: Bearer <token>' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireRole rejects requests whose principal lacks the given role.
func RequireRole(role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required.",
			})
			return
		}
		if !p.Has(role) && !p.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "This operation requires the " + string(role) + " role.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose principal is not an admin.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		if p == nil || !p.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin access required.",
			})
			return
		}
		c.Next()
	}
}

// FromContext returns the resolved principal, if any.
func FromContext(c *gin.Context) (*Principal, bool) {
	p := principal(c)
	return p, p != nil
}

// UserID returns the authenticated user ID, or "" when unauthenticated.
func UserID(c *gin.Context) string {
	if p := principal(c); p != nil {
		return p.UserID
	}
	return ""
}

func principal(c *gin.Context) *Principal {
	v, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil
	}
	p, ok := v.(*Principal)
	if !ok {
		return nil
	}
	return p
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return c.GetHeader("X-API-Key")
	}
	return strings.TrimPrefix(h, "Bearer ")
}
