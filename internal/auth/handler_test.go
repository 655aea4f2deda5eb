package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedEvent struct {
	device string
	ev     Event
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingNotifier) NotifyAuth(deviceID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{deviceID, ev})
}

func newAuthRouter(t *testing.T) (*gin.Engine, *Local, *recordingNotifier, *[]string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	issuer := NewLocal(NewJWTService("secret", time.Hour), time.Hour, zap.NewNop())
	var links []string
	issuer.OnDelivery(func(_, link string) { links = append(links, link) })
	notifier := &recordingNotifier{}
	h := NewHandler(issuer, nil, notifier, HandlerConfig{
		SiteURL:           "http://portal.test",
		RedirectAllowlist: []string{"http://app.test/welcome"},
	}, zap.NewNop())

	r := gin.New()
	r.POST("/auth/magic-link", h.MagicLink)
	r.GET("/auth/callback", h.Callback)
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/auth/logout", h.Logout)
	return r, issuer, notifier, &links
}

func cookieValue(rec *httptest.ResponseRecorder, name string) string {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestMagicLinkFlowSetsCookiesAndNotifies(t *testing.T) {
	r, _, notifier, links := newAuthRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(`{"email":" Ana@Uni.edu "}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	device := cookieValue(rec, DeviceCookie)
	require.NotEmpty(t, device)
	require.Len(t, *links, 1)

	link, err := url.Parse((*links)[0])
	require.NoError(t, err)
	assert.Equal(t, "/auth/callback", link.Path)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/auth/callback?"+link.RawQuery, nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookie, Value: device})
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.NotEmpty(t, cookieValue(rec, AccessCookie))
	assert.NotEmpty(t, cookieValue(rec, RefreshCookie))

	require.Len(t, notifier.events, 1)
	assert.Equal(t, device, notifier.events[0].device)
	assert.Equal(t, SignedIn, notifier.events[0].ev.Kind)
	assert.Equal(t, "ana@uni.edu", notifier.events[0].ev.Session.User.Email)
	assert.NotEmpty(t, notifier.events[0].ev.Session.AccessToken)
	assert.Empty(t, notifier.events[0].ev.Session.RefreshToken, "refresh token stays in the cookie")

	// The link is single use.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?"+link.RawQuery, nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/login?error="))
}

func TestMagicLinkValidation(t *testing.T) {
	r, _, _, links := newAuthRouter(t)
	cases := []struct {
		name string
		body string
		code int
	}{
		{"missing email", `{}`, http.StatusBadRequest},
		{"bad email", `{"email":"nope"}`, http.StatusBadRequest},
		{"foreign redirect", `{"email":"a@b.co","redirect":"http://evil.test/cb"}`, http.StatusBadRequest},
		{"lookalike host", `{"email":"a@b.co","redirect":"http://portal.test.evil.test/cb"}`, http.StatusBadRequest},
		{"allowed redirect", `{"email":"a@b.co","redirect":"http://app.test/welcome/done"}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
	require.Len(t, *links, 1)
	assert.True(t, strings.HasPrefix((*links)[0], "http://app.test/welcome/done?token_hash="))
}

func TestRefreshAndLogout(t *testing.T) {
	r, issuer, notifier, _ := newAuthRouter(t)
	require.NoError(t, issuer.SignInWithOTP(context.Background(), "ana@uni.edu", "http://portal.test/auth/callback"))
	var hash string
	for h := range issuer.pending {
		hash = h
	}
	sess, err := issuer.VerifyOTP(context.Background(), hash, "magiclink")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: sess.RefreshToken})
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ana@uni.edu")
	newRefresh := cookieValue(rec, RefreshCookie)
	assert.NotEmpty(t, newRefresh)
	assert.NotEqual(t, sess.RefreshToken, newRefresh)

	// Refresh tokens rotate.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewBufferString(`{"refresh_token":"`+sess.RefreshToken+`"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, issuer.refresh)

	kinds := make([]EventKind, 0, len(notifier.events))
	for _, e := range notifier.events {
		kinds = append(kinds, e.ev.Kind)
	}
	assert.Equal(t, []EventKind{TokenRefreshed, SignedOut}, kinds)
	require.NotNil(t, notifier.events[0].ev.Session)
	assert.Empty(t, notifier.events[0].ev.Session.RefreshToken)
}

// downIssuer accepts nothing, like an unreachable auth service.
type downIssuer struct{ *Local }

func (downIssuer) SignInWithOTP(context.Context, string, string) error {
	return &APIError{Status: http.StatusBadGateway, Code: "unavailable", Message: "upstream unavailable"}
}

func TestFailedSendDoesNotStartCooldown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &fakeStore{keys: map[string]time.Duration{}}
	local := NewLocal(NewJWTService("secret", time.Hour), time.Hour, zap.NewNop())
	local.OnDelivery(func(string, string) {})
	cooldown := NewCooldown(store, time.Minute)

	send := func(issuer Issuer) int {
		h := NewHandler(issuer, cooldown, nil, HandlerConfig{SiteURL: "http://portal.test"}, zap.NewNop())
		r := gin.New()
		r.POST("/auth/magic-link", h.MagicLink)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(`{"email":"ana@uni.edu"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusBadGateway, send(downIssuer{local}))
	assert.Empty(t, store.keys)

	assert.Equal(t, http.StatusOK, send(local))
	assert.Equal(t, http.StatusTooManyRequests, send(local))
}
