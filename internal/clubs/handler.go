package clubs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/memberships"
	"github.com/clubhub/portal/internal/middleware"
	"github.com/clubhub/portal/internal/models"
	"github.com/clubhub/portal/pkg/response"
	"github.com/clubhub/portal/pkg/storage"
)

// MembershipReader is the membership access the club endpoints need.
type MembershipReader interface {
	Find(ctx context.Context, userID, clubID uuid.UUID) (*models.Membership, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error)
}

// ProfileAdmin changes a profile's role and status.
type ProfileAdmin interface {
	SetRole(ctx context.Context, id uuid.UUID, role models.Role) (*models.Profile, error)
	SetSuspended(ctx context.Context, id uuid.UUID, suspended bool) (*models.Profile, error)
}

// ImageStore stores club images. *storage.S3 implements it.
type ImageStore interface {
	PresignUpload(ctx context.Context, key, contentType string) (string, error)
	PresignExpire() time.Duration
	PublicObjectURL(key string) string
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// CleanupQueue defers removal of a deleted club's images. *queue.Queue implements it.
type CleanupQueue interface {
	EnqueueImageCleanup(ctx context.Context, clubID uuid.UUID, prefix string) error
}

// DirectoryEntry is a club in the directory with the caller's membership flag.
type DirectoryEntry struct {
	models.Club
	Joined bool `json:"joined"`
}

// AddMemberRequest is the body for POST /api/admin/members.
type AddMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ProfileActionRequest is the body for PATCH /api/admin/profiles/:id.
type ProfileActionRequest struct {
	Role      *models.Role `json:"role"`
	Suspended *bool        `json:"suspended"`
}

// UploadRequest is the body for POST /api/admin/uploads.
type UploadRequest struct {
	Kind        storage.ImageKind `json:"kind" binding:"required"`
	ContentType string            `json:"content_type"`
	FileName    string            `json:"file_name"`
}

// Handler handles the club directory and the admin club, roster and upload endpoints.
type Handler struct {
	repo        *Repository
	agg         *Aggregator
	members     *memberships.Service
	memberships MembershipReader
	profiles    ProfileAdmin
	images      ImageStore
	cleanup     CleanupQueue
	logger      *zap.Logger
}

// NewHandler creates a clubs handler. images may be nil when uploads are not configured.
func NewHandler(repo *Repository, agg *Aggregator, members *memberships.Service, ms MembershipReader, profiles ProfileAdmin, images ImageStore, logger *zap.Logger) *Handler {
	return &Handler{
		repo:        repo,
		agg:         agg,
		members:     members,
		memberships: ms,
		profiles:    profiles,
		images:      images,
		logger:      logger,
	}
}

// Directory handles GET /api/clubs.
func (h *Handler) Directory(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := h.repo.List(ctx)
	if err != nil {
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	mine, err := h.memberships.ListByUser(ctx, middleware.UserID(c))
	if err != nil {
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	joined := make(map[uuid.UUID]bool, len(mine))
	for _, m := range mine {
		joined[m.ClubID] = true
	}
	out := make([]DirectoryEntry, 0, len(list))
	for _, club := range list {
		out = append(out, DirectoryEntry{Club: club, Joined: joined[club.ID]})
	}
	response.OK(c, gin.H{"clubs": out})
}

// CreateClub handles POST /api/admin/club. An admin owns at most one club.
func (h *Handler) CreateClub(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	if err := in.Validate(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	club, err := h.repo.Create(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		if errors.Is(err, ErrClubExists) {
			response.Conflict(c, "you already have a club")
			return
		}
		h.logger.Warn("create club failed", zap.Error(err))
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	response.Created(c, h.agg.ForClub(c.Request.Context(), club))
}

// UpdateClub handles PATCH /api/admin/club.
func (h *Handler) UpdateClub(c *gin.Context) {
	club := middleware.CurrentClub(c)
	var patch Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := patch.Validate(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	updated, err := h.repo.Update(c.Request.Context(), club.ID, patch)
	if err != nil {
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	response.OK(c, h.agg.ForClub(c.Request.Context(), updated))
}

// DeleteClub handles DELETE /api/admin/club and returns the onboarding view.
func (h *Handler) DeleteClub(c *gin.Context) {
	club := middleware.CurrentClub(c)
	ctx := c.Request.Context()
	if err := h.repo.Delete(ctx, club.ID); err != nil {
		h.logger.Warn("delete club failed", zap.String("club_id", club.ID.String()), zap.Error(err))
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	h.removeImages(ctx, club.ID)
	response.OK(c, &AdminView{NoClub: true})
}

// SetCleanupQueue makes club deletion hand image removal to a worker.
func (h *Handler) SetCleanupQueue(q CleanupQueue) { h.cleanup = q }

// removeImages deletes a deleted club's stored images, best effort. With a
// cleanup queue the work is deferred; a failed enqueue deletes inline.
func (h *Handler) removeImages(ctx context.Context, clubID uuid.UUID) {
	if h.images == nil {
		return
	}
	prefix := storage.ClubPrefix(clubID)
	if h.cleanup != nil {
		err := h.cleanup.EnqueueImageCleanup(ctx, clubID, prefix)
		if err == nil {
			return
		}
		h.logger.Warn("enqueue image cleanup failed, deleting inline", zap.String("club_id", clubID.String()), zap.Error(err))
	}
	if err := h.images.DeletePrefix(ctx, prefix); err != nil {
		h.logger.Warn("delete club images failed", zap.String("club_id", clubID.String()), zap.Error(err))
	}
}

// Members handles GET /api/admin/members.
func (h *Handler) Members(c *gin.Context) {
	h.respondRoster(c, http.StatusOK, gin.H{})
}

// AddMember handles POST /api/admin/members.
func (h *Handler) AddMember(c *gin.Context) {
	club := middleware.CurrentClub(c)
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "a valid email is required")
		return
	}
	m, err := h.members.AddByEmail(c.Request.Context(), club.ID, req.Email)
	switch {
	case errors.Is(err, memberships.ErrUserNotFound):
		response.NotFound(c, "user not found")
		return
	case errors.Is(err, memberships.ErrAlreadyMember):
		response.Conflict(c, "user is already a member")
		return
	case err != nil:
		h.logger.Warn("add member failed", zap.String("club_id", club.ID.String()), zap.Error(err))
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	h.respondRoster(c, http.StatusCreated, gin.H{"membership": m})
}

// RemoveMember handles DELETE /api/admin/members/:userId.
func (h *Handler) RemoveMember(c *gin.Context) {
	club := middleware.CurrentClub(c)
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	if err := h.members.Remove(c.Request.Context(), club.ID, userID); err != nil {
		if errors.Is(err, memberships.ErrNotMember) {
			response.NotFound(c, "user is not a member of your club")
			return
		}
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	h.respondRoster(c, http.StatusOK, gin.H{"removed": userID})
}

// UpdateProfile handles PATCH /api/admin/profiles/:id: role change and
// suspension of a member of the admin's club.
func (h *Handler) UpdateProfile(c *gin.Context) {
	club := middleware.CurrentClub(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid profile id")
		return
	}
	var req ProfileActionRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Role == nil && req.Suspended == nil) {
		response.BadRequest(c, "role or suspended required")
		return
	}
	if req.Role != nil && !req.Role.Valid() {
		response.BadRequest(c, "role must be user, moderator or admin")
		return
	}
	if id == middleware.UserID(c) {
		response.BadRequest(c, "you cannot change your own profile")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.memberships.Find(ctx, id, club.ID); err != nil {
		if datasvc.IsNotFound(err) {
			response.NotFound(c, "user is not a member of your club")
			return
		}
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	var p *models.Profile
	if req.Role != nil {
		if p, err = h.profiles.SetRole(ctx, id, *req.Role); err != nil {
			response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
			return
		}
	}
	if req.Suspended != nil {
		if p, err = h.profiles.SetSuspended(ctx, id, *req.Suspended); err != nil {
			response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
			return
		}
	}
	h.logger.Info("profile updated by admin",
		zap.String("profile_id", id.String()),
		zap.String("admin_id", middleware.UserID(c).String()),
		zap.String("role", string(p.Role)),
		zap.Bool("suspended", p.Suspended),
	)
	h.respondRoster(c, http.StatusOK, gin.H{"profile": p})
}

// PresignUpload handles POST /api/admin/uploads and returns a URL the browser
// PUTs the image to.
func (h *Handler) PresignUpload(c *gin.Context) {
	if h.images == nil {
		response.ServiceUnavailable(c, "uploads are not configured")
		return
	}
	club := middleware.CurrentClub(c)
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Kind.Valid() {
		response.BadRequest(c, "kind must be logo, events or announcements")
		return
	}
	ext, ok := storage.ImageExtension(req.ContentType, req.FileName)
	if !ok {
		response.BadRequest(c, "only jpeg, png, webp and gif images are allowed")
		return
	}
	contentType := storage.ContentTypeForExtension(ext)
	key := storage.ImageKey(club.ID, req.Kind, ext)
	url, err := h.images.PresignUpload(c.Request.Context(), key, contentType)
	if err != nil {
		h.logger.Error("presign upload failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "failed to prepare upload")
		return
	}
	response.OK(c, gin.H{
		"upload_url":   url,
		"key":          key,
		"content_type": contentType,
		"public_url":   h.images.PublicObjectURL(key),
		"expires_in":   int(h.images.PresignExpire().Seconds()),
	})
}

// UploadFile handles POST /api/admin/uploads/file: a multipart image streamed
// through the server for clients that cannot PUT to the bucket directly.
func (h *Handler) UploadFile(c *gin.Context) {
	if h.images == nil {
		response.ServiceUnavailable(c, "uploads are not configured")
		return
	}
	club := middleware.CurrentClub(c)
	kind := storage.ImageKind(c.PostForm("kind"))
	if !kind.Valid() {
		response.BadRequest(c, "kind must be logo, events or announcements")
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file required")
		return
	}
	if fh.Size > storage.MaxImageSize {
		response.BadRequest(c, "image must be 5MB or smaller")
		return
	}
	ext, ok := storage.ImageExtension(fh.Header.Get("Content-Type"), fh.Filename)
	if !ok {
		response.BadRequest(c, "only jpeg, png, webp and gif images are allowed")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "unreadable file")
		return
	}
	defer f.Close()
	key := storage.ImageKey(club.ID, kind, ext)
	url, err := h.images.Upload(c.Request.Context(), key, storage.ContentTypeForExtension(ext), f, fh.Size)
	if err != nil {
		h.logger.Error("image upload failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "failed to upload image")
		return
	}
	response.Created(c, gin.H{"url": url, "key": key})
}

func (h *Handler) respondRoster(c *gin.Context, status int, body gin.H) {
	club := middleware.CurrentClub(c)
	roster, err := h.members.Roster(c.Request.Context(), club.ID)
	if err != nil {
		if status == http.StatusOK && len(body) == 0 {
			response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
			return
		}
		body["reload_error"] = datasvc.Message(err)
	} else {
		body["members"] = roster
	}
	c.JSON(status, response.Body{Success: true, Data: body})
}
