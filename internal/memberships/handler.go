package memberships

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/middleware"
	"github.com/clubhub/portal/internal/models"
	"github.com/clubhub/portal/pkg/response"
)

// ClubLookup resolves a club by id.
type ClubLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Club, error)
}

// Handler handles the signed-in user's membership endpoints.
type Handler struct {
	svc    *Service
	clubs  ClubLookup
	logger *zap.Logger
}

// NewHandler creates a memberships handler.
func NewHandler(svc *Service, clubs ClubLookup, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, clubs: clubs, logger: logger}
}

// Join handles POST /api/clubs/:id/join. Responds with the caller's clubs.
func (h *Handler) Join(c *gin.Context) {
	clubID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid club id")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.clubs.Get(ctx, clubID); err != nil {
		if datasvc.IsNotFound(err) {
			response.NotFound(c, "club not found")
			return
		}
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	userID := middleware.UserID(c)
	if _, err := h.svc.Join(ctx, userID, clubID); err != nil {
		if errors.Is(err, ErrAlreadyMember) {
			response.Conflict(c, "you are already a member of this club")
			return
		}
		h.logger.Warn("join club failed", zap.String("club_id", clubID.String()), zap.Error(err))
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	h.respondMyClubs(c, userID, true)
}

// Leave handles DELETE /api/clubs/:id/membership.
func (h *Handler) Leave(c *gin.Context) {
	clubID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid club id")
		return
	}
	userID := middleware.UserID(c)
	if err := h.svc.Remove(c.Request.Context(), clubID, userID); err != nil {
		if errors.Is(err, ErrNotMember) {
			response.NotFound(c, "you are not a member of this club")
			return
		}
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	h.respondMyClubs(c, userID, false)
}

// MyClubs handles GET /api/me/clubs.
func (h *Handler) MyClubs(c *gin.Context) {
	h.respondMyClubs(c, middleware.UserID(c), false)
}

func (h *Handler) respondMyClubs(c *gin.Context, userID uuid.UUID, created bool) {
	clubs, err := h.svc.MyClubs(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	body := gin.H{"clubs": clubs, "empty": len(clubs) == 0}
	if created {
		response.Created(c, body)
		return
	}
	response.OK(c, body)
}
