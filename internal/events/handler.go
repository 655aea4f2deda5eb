package events

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

// Handler handles the admin event endpoints. Routes are mounted behind a
// club-loading middleware; every mutation answers with the reloaded list.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an events handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /api/admin/events.
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
	response.OK(c, gin.H{"events": list})
}

// Create handles POST /api/admin/events.
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
	e, err := h.repo.Create(c.Request.Context(), club.ID, middleware.UserID(c), in)
	if err != nil {
		h.logger.Warn("create event failed", zap.String("club_id", club.ID.String()), zap.Error(err))
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	h.reload(c, http.StatusCreated, gin.H{"event": e})
}

// Update handles PATCH /api/admin/events/:id.
func (h *Handler) Update(c *gin.Context) {
	club := middleware.CurrentClub(c)
	if club == nil {
		response.NotFound(c, "create your club first")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
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
	e, err := h.repo.Update(c.Request.Context(), club.ID, id, patch)
	if err != nil {
		if errors.Is(err, datasvc.ErrNoRows) {
			response.NotFound(c, "event not found")
			return
		}
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	h.reload(c, http.StatusOK, gin.H{"event": e})
}

// Delete handles DELETE /api/admin/events/:id.
func (h *Handler) Delete(c *gin.Context) {
	club := middleware.CurrentClub(c)
	if club == nil {
		response.NotFound(c, "create your club first")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.repo.Get(ctx, club.ID, id); err != nil {
		if datasvc.IsNotFound(err) {
			response.NotFound(c, "event not found")
			return
		}
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	if err := h.repo.Delete(ctx, club.ID, id); err != nil {
		h.logger.Warn("delete event failed", zap.String("event_id", id.String()), zap.Error(err))
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	h.reload(c, http.StatusOK, gin.H{"deleted": id})
}

// reload answers a successful mutation with the club's reloaded events. A reload
// failure does not undo the mutation; it is reported next to the result.
func (h *Handler) reload(c *gin.Context, status int, body gin.H) {
	club := middleware.CurrentClub(c)
	list, err := h.repo.ListByClub(c.Request.Context(), club.ID)
	if err != nil {
		h.logger.Warn("reload events failed", zap.String("club_id", club.ID.String()), zap.Error(err))
		body["reload_error"] = datasvc.Message(err)
	} else {
		body["events"] = list
	}
	c.JSON(status, response.Body{Success: true, Data: body})
}
