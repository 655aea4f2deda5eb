package clubs

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/middleware"
	"github.com/clubhub/portal/pkg/response"
)

// RequireClub loads the club administered by the caller into gin context.
// Call after the session and role middleware. An admin without a club gets 404
// with the onboarding flag so the client can show club creation.
func RequireClub(repo *Repository, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		club, err := repo.GetByAdmin(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			if datasvc.IsNotFound(err) {
				c.AbortWithStatusJSON(http.StatusNotFound, response.Body{
					Success: false,
					Data:    gin.H{"no_club": true},
					Error:   "create your club first",
				})
				return
			}
			logger.Warn("load admin club failed", zap.Error(err))
			response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
			c.Abort()
			return
		}
		c.Set(middleware.ContextClub, club)
		c.Next()
	}
}
