package feed

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/middleware"
	"github.com/clubhub/portal/pkg/response"
)

// Handler serves the member feed.
type Handler struct {
	agg    *Aggregator
	logger *zap.Logger
}

// NewHandler creates a feed handler.
func NewHandler(agg *Aggregator, logger *zap.Logger) *Handler {
	return &Handler{agg: agg, logger: logger}
}

// Feed handles GET /api/feed.
func (h *Handler) Feed(c *gin.Context) {
	view, err := h.agg.Load(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Warn("load feed failed", zap.Error(err))
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	response.OK(c, view)
}
