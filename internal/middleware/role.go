package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/auth"
	"github.com/clubhub/portal/internal/models"
	"github.com/clubhub/portal/pkg/response"
)

// ProfileResolver returns the profile of a session, creating it when needed.
type ProfileResolver interface {
	Profile(ctx context.Context, sess *auth.Session) (*models.Profile, error)
}

// ResolveProfile loads the caller's profile into context. It expects RequireSession
// to have run. A resolution failure answers 503; no role is assumed.
func ResolveProfile(resolver ProfileResolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, err := resolver.Profile(c.Request.Context(), CurrentSession(c))
		if err != nil {
			logger.Warn("profile resolution failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
			response.ServiceUnavailable(c, "could not load your profile, try again")
			c.Abort()
			return
		}
		if profile == nil {
			response.Unauthorized(c, "sign in required")
			c.Abort()
			return
		}
		c.Set(ContextProfile, profile)
		c.Next()
	}
}

// RequireRole returns a middleware that allows only the given roles. This is a
// routing guard; row-level policies in the data service are the access control.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		profile := CurrentProfile(c)
		if profile == nil {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if _, ok := allowed[profile.Role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RejectSuspended refuses mutations from suspended profiles. Reads pass.
func RejectSuspended() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if p := CurrentProfile(c); p != nil && p.Suspended {
			response.Forbidden(c, "your account is suspended")
			c.Abort()
			return
		}
		c.Next()
	}
}
