package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Cookie names shared with the browser client.
const (
	AccessCookie  = "sb-access-token"
	RefreshCookie = "sb-refresh-token"
	DeviceCookie  = "clubhub-device"
)

const (
	refreshCookieTTL = 30 * 24 * time.Hour
	deviceCookieTTL  = 365 * 24 * time.Hour
)

// CookieConfig controls the attributes of auth cookies.
type CookieConfig struct {
	Secure bool
	Domain string
}

// TokenFromRequest returns the access token from the Authorization header or, failing
// that, the access cookie.
func TokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if tok, err := c.Cookie(AccessCookie); err == nil {
		return tok
	}
	return ""
}

// SetSessionCookies stores the session tokens in http-only cookies.
func SetSessionCookies(c *gin.Context, s *Session, cfg CookieConfig) {
	maxAge := s.ExpiresIn
	if maxAge <= 0 {
		if exp := s.Expiry(); !exp.IsZero() {
			maxAge = int(time.Until(exp).Seconds())
		}
	}
	if maxAge <= 0 {
		maxAge = int(time.Hour.Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, s.AccessToken, maxAge, "/", cfg.Domain, cfg.Secure, true)
	if s.RefreshToken != "" {
		c.SetCookie(RefreshCookie, s.RefreshToken, int(refreshCookieTTL.Seconds()), "/", cfg.Domain, cfg.Secure, true)
	}
}

// ClearSessionCookies expires the session cookies.
func ClearSessionCookies(c *gin.Context, cfg CookieConfig) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, "", -1, "/", cfg.Domain, cfg.Secure, true)
	c.SetCookie(RefreshCookie, "", -1, "/", cfg.Domain, cfg.Secure, true)
}

// DeviceID returns the browser device id, issuing a new cookie when absent or malformed.
func DeviceID(c *gin.Context, cfg CookieConfig) string {
	if id, err := c.Cookie(DeviceCookie); err == nil {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}
	id := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(DeviceCookie, id, int(deviceCookieTTL.Seconds()), "/", cfg.Domain, cfg.Secure, true)
	return id
}
