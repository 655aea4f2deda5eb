package auth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/models"
	"github.com/clubhub/portal/pkg/response"
)

// HandlerConfig configures the auth endpoints.
type HandlerConfig struct {
	// SiteURL is the public base URL of this server, e.g. http://localhost:8080.
	SiteURL string
	// RedirectAllowlist holds URL prefixes a client may ask the magic link to return to.
	RedirectAllowlist []string
	// AfterSignIn is where the callback sends the browser once cookies are set.
	AfterSignIn string
	Cookies     CookieConfig
}

// MagicLinkRequest is the body for POST /auth/magic-link.
type MagicLinkRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Redirect string `json:"redirect"`
}

// RefreshRequest is the optional body for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SessionView is the client-facing part of a Session. Tokens stay in cookies.
type SessionView struct {
	User      models.Identity `json:"user"`
	ExpiresAt int64           `json:"expires_at,omitempty"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	issuer   Issuer
	cooldown *Cooldown
	notifier Notifier
	cfg      HandlerConfig
	logger   *zap.Logger
}

// NewHandler creates an auth handler. cooldown and notifier may be nil.
func NewHandler(issuer Issuer, cooldown *Cooldown, notifier Notifier, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.AfterSignIn == "" {
		cfg.AfterSignIn = "/"
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &Handler{issuer: issuer, cooldown: cooldown, notifier: notifier, cfg: cfg, logger: logger}
}

// MagicLink handles POST /auth/magic-link.
func (h *Handler) MagicLink(c *gin.Context) {
	var req MagicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "a valid email is required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	redirect, ok := h.redirectTarget(req.Redirect)
	if !ok {
		response.BadRequest(c, "redirect target not allowed")
		return
	}
	DeviceID(c, h.cfg.Cookies)

	ctx := c.Request.Context()
	if err := h.cooldown.Acquire(ctx, email); err != nil {
		if errors.Is(err, ErrCooldown) {
			response.TooManyRequests(c, "a link was sent recently, check your inbox")
			return
		}
		h.logger.Warn("magic link cooldown unavailable", zap.Error(err))
	}
	if err := h.issuer.SignInWithOTP(ctx, email, redirect); err != nil {
		h.logger.Warn("magic link request failed", zap.String("email", email), zap.Error(err))
		if relErr := h.cooldown.Release(ctx, email); relErr != nil {
			h.logger.Warn("magic link cooldown not released", zap.String("email", email), zap.Error(relErr))
		}
		if errors.Is(err, ErrRateLimited) {
			response.TooManyRequests(c, "too many sign-in requests, try again later")
			return
		}
		response.BadGateway(c, err.Error())
		return
	}
	response.OK(c, gin.H{"sent": true, "email": email})
}

// Callback handles GET /auth/callback, the target of the magic link.
func (h *Handler) Callback(c *gin.Context) {
	if desc := c.Query("error_description"); desc != "" {
		h.toLogin(c, desc)
		return
	}
	tokenHash := c.Query("token_hash")
	if tokenHash == "" {
		h.toLogin(c, "missing sign-in token")
		return
	}
	sess, err := h.issuer.VerifyOTP(c.Request.Context(), tokenHash, c.DefaultQuery("type", "magiclink"))
	if err != nil {
		h.logger.Info("magic link verification failed", zap.Error(err))
		h.toLogin(c, "sign-in link is invalid or has expired")
		return
	}
	SetSessionCookies(c, sess, h.cfg.Cookies)
	h.notify(c, SignedIn, sess)
	h.logger.Info("signed in", zap.String("user_id", sess.User.ID.String()))
	c.Redirect(http.StatusSeeOther, h.cfg.AfterSignIn)
}

// Refresh handles POST /auth/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	_ = c.ShouldBindJSON(&req)
	token := req.RefreshToken
	if token == "" {
		token, _ = c.Cookie(RefreshCookie)
	}
	if token == "" {
		response.Unauthorized(c, "missing refresh token")
		return
	}
	sess, err := h.issuer.Refresh(c.Request.Context(), token)
	if err != nil {
		h.logger.Info("token refresh failed", zap.Error(err))
		ClearSessionCookies(c, h.cfg.Cookies)
		response.Unauthorized(c, "session expired, sign in again")
		return
	}
	SetSessionCookies(c, sess, h.cfg.Cookies)
	h.notify(c, TokenRefreshed, sess)
	response.OK(c, SessionView{User: sess.User, ExpiresAt: sess.ExpiresAt})
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(c *gin.Context) {
	if tok := TokenFromRequest(c); tok != "" {
		if err := h.issuer.SignOut(c.Request.Context(), tok); err != nil {
			h.logger.Warn("remote sign out failed", zap.Error(err))
		}
	}
	ClearSessionCookies(c, h.cfg.Cookies)
	h.notify(c, SignedOut, nil)
	response.OK(c, gin.H{"signed_out": true})
}

// redirectTarget validates the client's requested redirect. Empty means the
// server's own callback.
func (h *Handler) redirectTarget(requested string) (string, bool) {
	if requested == "" {
		return h.cfg.SiteURL + "/auth/callback", true
	}
	u, err := url.Parse(requested)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	allowed := append([]string{h.cfg.SiteURL}, h.cfg.RedirectAllowlist...)
	for _, prefix := range allowed {
		p, err := url.Parse(prefix)
		if prefix == "" || err != nil {
			continue
		}
		if u.Scheme == p.Scheme && u.Host == p.Host && strings.HasPrefix(u.Path, p.Path) {
			return requested, true
		}
	}
	return "", false
}

// notify tells the device's views about the new auth state. The refresh token
// stays in the cookie; views only resolve with the access token.
func (h *Handler) notify(c *gin.Context, kind EventKind, sess *Session) {
	ev := Event{Kind: kind}
	if sess != nil {
		shared := *sess
		shared.RefreshToken = ""
		ev.Session = &shared
	}
	h.notifier.NotifyAuth(DeviceID(c, h.cfg.Cookies), ev)
}

func (h *Handler) toLogin(c *gin.Context, msg string) {
	c.Redirect(http.StatusSeeOther, "/login?"+url.Values{"error": {msg}}.Encode())
}
