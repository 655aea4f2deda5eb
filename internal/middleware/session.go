package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/auth"
	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/models"
	"github.com/clubhub/portal/pkg/response"
)

const (
	// ContextSession is the key for the verified *auth.Session in gin context.
	ContextSession = "session"
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
	// ContextProfile is the key for the resolved *models.Profile.
	ContextProfile = "profile"
	// ContextClub is the key for the club administered by the caller.
	ContextClub = "club"
)

// Session verifies the access token from the Authorization header or cookie and,
// when valid, stores the session in gin context and the token in the request
// context for the data service. Requests without a valid token pass through
// unauthenticated; views decide where to send them.
func Session(verifier *auth.Verifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c)
		if token == "" {
			c.Next()
			return
		}
		sess, err := verifier.Session(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				logger.Warn("session verification failed", zap.Error(err))
			}
			c.Next()
			return
		}
		c.Set(ContextSession, sess)
		c.Set(ContextUserID, sess.User.ID)
		c.Set(ContextUserEmail, sess.User.Email)
		c.Request = c.Request.WithContext(datasvc.WithAccessToken(c.Request.Context(), sess.AccessToken))
		c.Next()
	}
}

// RequireSession aborts with 401 when Session found no valid token.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentSession(c) == nil {
			response.Unauthorized(c, "sign in required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentSession returns the verified session, or nil.
func CurrentSession(c *gin.Context) *auth.Session {
	v, ok := c.Get(ContextSession)
	if !ok {
		return nil
	}
	s, _ := v.(*auth.Session)
	return s
}

// UserID returns the signed-in identity id, or uuid.Nil.
func UserID(c *gin.Context) uuid.UUID {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil
	}
	id, _ := v.(uuid.UUID)
	return id
}

// CurrentProfile returns the profile set by ResolveProfile, or nil.
func CurrentProfile(c *gin.Context) *models.Profile {
	v, ok := c.Get(ContextProfile)
	if !ok {
		return nil
	}
	p, _ := v.(*models.Profile)
	return p
}

// CurrentClub returns the club set by a club-loading middleware, or nil.
func CurrentClub(c *gin.Context) *models.Club {
	v, ok := c.Get(ContextClub)
	if !ok {
		return nil
	}
	club, _ := v.(*models.Club)
	return club
}
