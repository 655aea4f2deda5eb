package announcements

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/middleware"
	"github.com/clubhub/portal/pkg/response"
)

// Handler handles the admin announcement endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an announcements handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /api/admin/announcements.
func (h *Handler) List(c *gin.Context) {
	club := middleware.CurrentClub(c)
	if club == nil {
		response.NotFound(c, "create your club first")
		return
	}
	list, err := h.repo.ListByClub(c.Request.Context(), club.ID)
	if err != nil {
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	response.OK(c, gin.H{"announcements": list})
}

// Create handles POST /api/admin/announcements.
func (h *Handler) Create(c *gin.Context) {
	club := middleware.CurrentClub(c)
	if club == nil {
		response.NotFound(c, "create your club first")
		return
	}
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := in.Validate(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	a, err := h.repo.Create(c.Request.Context(), club.ID, middleware.UserID(c), in)
	if err != nil {
		h.logger.Warn("create announcement failed", zap.String("club_id", club.ID.String()), zap.Error(err))
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	h.reload(c, http.StatusCreated, gin.H{"announcement": a})
}

// Update handles PATCH /api/admin/announcements/:id, including pin and unpin.
func (h *Handler) Update(c *gin.Context) {
	club := middleware.CurrentClub(c)
	if club == nil {
		response.NotFound(c, "create your club first")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid announcement id")
		return
	}
	var patch Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := patch.Validate(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	a, err := h.repo.Update(c.Request.Context(), club.ID, id, patch)
	if err != nil {
		if errors.Is(err, datasvc.ErrNoRows) {
			response.NotFound(c, "announcement not found")
			return
		}
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	h.reload(c, http.StatusOK, gin.H{"announcement": a})
}

// Delete handles DELETE /api/admin/announcements/:id.
func (h *Handler) Delete(c *gin.Context) {
	club := middleware.CurrentClub(c)
	if club == nil {
		response.NotFound(c, "create your club first")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid announcement id")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.repo.Get(ctx, club.ID, id); err != nil {
		if datasvc.IsNotFound(err) {
			response.NotFound(c, "announcement not found")
			return
		}
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	if err := h.repo.Delete(ctx, club.ID, id); err != nil {
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	h.reload(c, http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) reload(c *gin.Context, status int, body gin.H) {
	club := middleware.CurrentClub(c)
	list, err := h.repo.ListByClub(c.Request.Context(), club.ID)
	if err != nil {
		h.logger.Warn("reload announcements failed", zap.String("club_id", club.ID.String()), zap.Error(err))
		body["reload_error"] = datasvc.Message(err)
	} else {
		body["announcements"] = list
	}
	c.JSON(status, response.Body{Success: true, Data: body})
}
