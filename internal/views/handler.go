// Package views serves the three top-level views. Each request resolves the
// caller's profile, routes by role and either redirects to the right view or
// returns that view's model.
package views

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/auth"
	"github.com/clubhub/portal/internal/clubs"
	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/feed"
	"github.com/clubhub/portal/internal/middleware"
	"github.com/clubhub/portal/internal/models"
	"github.com/clubhub/portal/internal/session"
	"github.com/clubhub/portal/pkg/response"
)

// Resolver resolves a session into a profile.
type Resolver interface {
	Resolve(ctx context.Context, sess *auth.Session) (*session.Resolution, error)
}

// AdminLoader builds the admin view model.
type AdminLoader interface {
	Load(ctx context.Context, adminID uuid.UUID) (*clubs.AdminView, error)
}

// FeedLoader builds the user view model.
type FeedLoader interface {
	Load(ctx context.Context, userID uuid.UUID) (*feed.UserView, error)
}

// LoginView is the login view model.
type LoginView struct {
	View            session.Destination `json:"view"`
	Error           string              `json:"error,omitempty"`
	ResolutionError string              `json:"resolution_error,omitempty"`
}

// DashboardView is the model of either dashboard. Exactly one of Admin and Feed is set.
type DashboardView struct {
	View    session.Destination `json:"view"`
	Profile *models.Profile     `json:"profile"`
	Admin   *clubs.AdminView    `json:"admin,omitempty"`
	Feed    *feed.UserView      `json:"feed,omitempty"`
}

// SessionInfo is the body of GET /auth/session.
type SessionInfo struct {
	SignedIn        bool                `json:"signed_in"`
	Identity        *models.Identity    `json:"identity,omitempty"`
	Profile         *models.Profile     `json:"profile,omitempty"`
	Created         bool                `json:"created,omitempty"`
	Destination     session.Destination `json:"destination"`
	ResolutionError string              `json:"resolution_error,omitempty"`
}

// Handler serves the views.
type Handler struct {
	resolver Resolver
	admin    AdminLoader
	feed     FeedLoader
	logger   *zap.Logger
}

// NewHandler creates a views handler.
func NewHandler(resolver Resolver, admin AdminLoader, feed FeedLoader, logger *zap.Logger) *Handler {
	return &Handler{resolver: resolver, admin: admin, feed: feed, logger: logger}
}

// Root handles GET /: every caller is sent to its destination.
func (h *Handler) Root(c *gin.Context) {
	dest, _, _ := h.route(c)
	c.Redirect(http.StatusSeeOther, string(dest))
}

// Login handles GET /login. A signed-in caller is sent on to its dashboard.
func (h *Handler) Login(c *gin.Context) {
	dest, _, err := h.route(c)
	if dest != session.LoginView {
		c.Redirect(http.StatusSeeOther, string(dest))
		return
	}
	view := LoginView{View: session.LoginView, Error: c.Query("error")}
	if err != nil {
		view.ResolutionError = "we could not load your profile, please try again"
	}
	response.OK(c, view)
}

// AdminDashboard handles GET /admin-dashboard.
func (h *Handler) AdminDashboard(c *gin.Context) {
	dest, res, _ := h.route(c)
	if dest != session.AdminView {
		c.Redirect(http.StatusSeeOther, string(dest))
		return
	}
	view, err := h.admin.Load(c.Request.Context(), res.Profile.ID)
	if err != nil {
		h.logger.Warn("load admin view failed", zap.String("user_id", res.Profile.ID.String()), zap.Error(err))
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	response.OK(c, DashboardView{View: dest, Profile: res.Profile, Admin: view})
}

// UserDashboard handles GET /user-dashboard.
func (h *Handler) UserDashboard(c *gin.Context) {
	dest, res, _ := h.route(c)
	if dest != session.UserView {
		c.Redirect(http.StatusSeeOther, string(dest))
		return
	}
	view, err := h.feed.Load(c.Request.Context(), res.Profile.ID)
	if err != nil {
		h.logger.Warn("load user view failed", zap.String("user_id", res.Profile.ID.String()), zap.Error(err))
		response.Error(c, datasvc.HTTPStatus(err), datasvc.Message(err))
		return
	}
	response.OK(c, DashboardView{View: dest, Profile: res.Profile, Feed: view})
}

// Session handles GET /auth/session.
func (h *Handler) Session(c *gin.Context) {
	dest, res, err := h.route(c)
	info := SessionInfo{Destination: dest}
	if err != nil {
		info.ResolutionError = "we could not load your profile, please try again"
		response.OK(c, info)
		return
	}
	info.SignedIn = res.SignedIn()
	info.Identity = res.Identity
	info.Profile = res.Profile
	info.Created = res.Created
	response.OK(c, info)
}

// route resolves the caller and picks its destination. A resolution failure
// keeps the caller on the login view.
func (h *Handler) route(c *gin.Context) (session.Destination, *session.Resolution, error) {
	res, err := h.resolver.Resolve(c.Request.Context(), middleware.CurrentSession(c))
	if err != nil {
		var rerr *session.ResolutionError
		if !errors.As(err, &rerr) {
			h.logger.Warn("session resolution failed", zap.Error(err))
		}
		return session.LoginView, &session.Resolution{}, err
	}
	return session.Route(res.Profile), res, nil
}
