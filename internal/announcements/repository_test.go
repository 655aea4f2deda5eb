package announcements

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/middleware"
	"github.com/clubhub/portal/internal/models"
)

func steppedMemory() *datasvc.Memory {
	m := datasvc.NewMemory()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	m.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})
	return m
}

func titles(list []models.Announcement) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Title)
	}
	return out
}

func TestListByClubPinnedFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(steppedMemory())
	club := uuid.New()
	for _, in := range []Input{
		{Title: "old", Message: "m"},
		{Title: "pinned-old", Message: "m", Pinned: true},
		{Title: "new", Message: "m"},
		{Title: "pinned-new", Message: "m", Pinned: true},
	} {
		_, err := repo.Create(ctx, club, uuid.New(), in)
		require.NoError(t, err)
	}

	list, err := repo.ListByClub(ctx, club)
	require.NoError(t, err)
	assert.Equal(t, []string{"pinned-new", "pinned-old", "new", "old"}, titles(list))

	unpinned := false
	_, err = repo.Update(ctx, club, list[0].ID, Patch{Pinned: &unpinned})
	require.NoError(t, err)
	list, err = repo.ListByClub(ctx, club)
	require.NoError(t, err)
	assert.Equal(t, []string{"pinned-old", "pinned-new", "new", "old"}, titles(list))
}

func TestSortPinned(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []models.Announcement{
		{Title: "a", CreatedAt: t0},
		{Title: "b", CreatedAt: t0.Add(time.Hour), Pinned: true},
		{Title: "c", CreatedAt: t0.Add(2 * time.Hour)},
		{Title: "d", CreatedAt: t0, Pinned: true},
	}
	SortPinned(list)
	assert.Equal(t, []string{"b", "d", "c", "a"}, titles(list))
}

func TestValidation(t *testing.T) {
	assert.Error(t, (&Input{Message: "   "}).Validate())
	assert.NoError(t, (&Input{Message: "hi"}).Validate())
	assert.ErrorIs(t, (&Patch{}).Validate(), ErrEmptyPatch)
	blank := " "
	assert.Error(t, (&Patch{Message: &blank}).Validate())
}

func TestAnnouncementHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mem := steppedMemory()
	club := &models.Club{ID: uuid.New(), AdminUserID: uuid.New()}
	h := NewHandler(NewRepository(mem), zap.NewNop())
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, club.AdminUserID)
		c.Set(middleware.ContextClub, club)
	})
	r.GET("/a", h.List)
	r.POST("/a", h.Create)
	r.PATCH("/a/:id", h.Update)
	r.DELETE("/a/:id", h.Delete)

	type body struct {
		Success bool `json:"success"`
		Data    struct {
			Announcements []models.Announcement `json:"announcements"`
		} `json:"data"`
	}
	do := func(method, path string, payload any) (int, body) {
		var buf bytes.Buffer
		if payload != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(payload))
		}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(rec, req)
		var out body
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return rec.Code, out
	}

	code, out := do(http.MethodPost, "/a", Input{Title: "first", Message: "hello"})
	require.Equal(t, http.StatusCreated, code)
	code, out = do(http.MethodPost, "/a", Input{Title: "second", Message: "world"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, []string{"second", "first"}, titles(out.Data.Announcements))
	assert.Equal(t, club.AdminUserID, out.Data.Announcements[0].CreatedBy)

	first := out.Data.Announcements[1].ID.String()
	code, out = do(http.MethodPatch, "/a/"+first, map[string]any{"pinned": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"first", "second"}, titles(out.Data.Announcements))

	code, out = do(http.MethodDelete, "/a/"+first, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"second"}, titles(out.Data.Announcements))

	code, _ = do(http.MethodPost, "/a", map[string]any{"title": "no message"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(http.MethodPatch, "/a/"+uuid.NewString(), map[string]any{"pinned": true})
	assert.Equal(t, http.StatusNotFound, code)
}
