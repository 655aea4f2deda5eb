package datasvc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	ID        uuid.UUID `json:"id"`
	ClubID    uuid.UUID `json:"club_id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"created_at"`
}

type testClub struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type testMembership struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	ClubID uuid.UUID `json:"club_id"`
	Club   *testClub `json:"clubs"`
}

func TestMemorySelectFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	clubA, clubB := uuid.New(), uuid.New()
	require.NoError(t, m.Seed("events", []map[string]any{
		{"club_id": clubA.String(), "title": "late", "date": "2025-02-01"},
		{"club_id": clubA.String(), "title": "early", "date": "2025-01-10"},
		{"club_id": clubB.String(), "title": "other", "date": "2024-12-01"},
	}))

	var events []testEvent
	err := m.Select(ctx, From("events").Eq("club_id", clubA).OrderBy("date", false), &events)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "early", events[0].Title)
	assert.Equal(t, "late", events[1].Title)
	assert.True(t, events[0].Published, "published defaults to true")
	assert.NotEqual(t, uuid.Nil, events[0].ID)

	events = nil
	err = m.Select(ctx, From("events").Where(In("club_id", []uuid.UUID{clubA, clubB})).OrderBy("date", true).First(2), &events)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "late", events[0].Title)
}

func TestMemorySingle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := uuid.New()

	var c testClub
	err := m.Select(ctx, From("clubs").Eq("id", id).One(), &c)
	assert.True(t, IsNotFound(err))

	require.NoError(t, m.Seed("clubs", map[string]any{"id": id.String(), "name": "Chess", "admin_user_id": uuid.NewString()}))
	require.NoError(t, m.Select(ctx, From("clubs").Eq("id", id).One(), &c))
	assert.Equal(t, "Chess", c.Name)

	require.NoError(t, m.Seed("clubs", map[string]any{"name": "Chess", "admin_user_id": uuid.NewString()}))
	err = m.Select(ctx, From("clubs").Eq("name", "Chess").One(), &c)
	assert.ErrorIs(t, err, ErrMultipleRows)
}

func TestMemoryUniqueViolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	user, club := uuid.New(), uuid.New()
	row := map[string]any{"user_id": user.String(), "club_id": club.String()}

	require.NoError(t, m.Insert(ctx, "memberships", row, nil))
	err := m.Insert(ctx, "memberships", row, nil)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, 1, m.Count("memberships"))
}

func TestMemoryUpdateDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var created testEvent
	require.NoError(t, m.Insert(ctx, "events", map[string]any{"title": "a", "date": "2025-01-01"}, &created))

	var updated testEvent
	require.NoError(t, m.Update(ctx, "events", []Filter{Eq("id", created.ID)}, map[string]any{"title": "b"}, &updated))
	assert.Equal(t, "b", updated.Title)
	assert.Equal(t, "2025-01-01", updated.Date)

	err := m.Update(ctx, "events", []Filter{Eq("id", uuid.New())}, map[string]any{"title": "c"}, &updated)
	assert.True(t, IsNotFound(err))

	require.NoError(t, m.Delete(ctx, "events", []Filter{Eq("id", created.ID)}))
	assert.Equal(t, 0, m.Count("events"))

	assert.ErrorIs(t, m.Delete(ctx, "events", nil), ErrInvalidQuery)
}

func TestMemoryExpand(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	club := uuid.New()
	user := uuid.New()
	require.NoError(t, m.Seed("clubs", map[string]any{"id": club.String(), "name": "Robotics", "admin_user_id": uuid.NewString()}))
	require.NoError(t, m.Seed("memberships", map[string]any{"user_id": user.String(), "club_id": club.String()}))

	var rows []testMembership
	q := From("memberships").Eq("user_id", user).With(Expand{Table: "clubs", Column: "club_id"})
	require.NoError(t, m.Select(ctx, q, &rows))
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Club)
	assert.Equal(t, "Robotics", rows[0].Club.Name)
}

func TestMemoryFaultsAndHooks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("boom")

	m.Fail("announcements", "select", boom)
	var rows []map[string]any
	err := m.Select(ctx, From("announcements"), &rows)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, m.Select(ctx, From("events"), &rows))

	m.Fail("announcements", "select", nil)
	assert.NoError(t, m.Select(ctx, From("announcements"), &rows))

	called := 0
	m.Intercept("events", "insert", func() { called++ })
	require.NoError(t, m.Insert(ctx, "events", map[string]any{"title": "x"}, nil))
	require.NoError(t, m.Insert(ctx, "events", map[string]any{"title": "y"}, nil))
	assert.Equal(t, 1, called)
}

func TestMemoryOrdersTimestampsChronologically(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, m.Seed("announcements", []map[string]any{
		{"message": "first", "created_at": base.Format(time.RFC3339Nano)},
		{"message": "second", "created_at": base.Add(1500 * time.Millisecond).Format(time.RFC3339Nano)},
		{"message": "third", "created_at": base.Add(1200 * time.Millisecond).Format(time.RFC3339Nano)},
	}))
	var rows []struct {
		Message string `json:"message"`
	}
	require.NoError(t, m.Select(ctx, From("announcements").OrderBy("created_at", true), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"second", "third", "first"}, []string{rows[0].Message, rows[1].Message, rows[2].Message})
}

func TestMemoryDeleteFollowsReferences(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	admin, member := uuid.New(), uuid.New()
	var chess, goClub testClub
	require.NoError(t, m.Insert(ctx, "clubs", map[string]any{"name": "Chess", "admin_user_id": admin}, &chess))
	require.NoError(t, m.Insert(ctx, "clubs", map[string]any{"name": "Go", "admin_user_id": uuid.New()}, &goClub))
	for _, club := range []uuid.UUID{chess.ID, goClub.ID} {
		require.NoError(t, m.Insert(ctx, "events", map[string]any{"club_id": club, "title": "meet", "created_by": admin}, nil))
		require.NoError(t, m.Insert(ctx, "announcements", map[string]any{"club_id": club, "message": "hi", "created_by": admin}, nil))
		require.NoError(t, m.Insert(ctx, "memberships", map[string]any{"club_id": club, "user_id": member}, nil))
	}

	require.NoError(t, m.Delete(ctx, "clubs", []Filter{Eq("id", chess.ID)}))
	assert.Equal(t, 1, m.Count("clubs"))
	for _, table := range []string{"events", "announcements", "memberships"} {
		var rows []map[string]any
		require.NoError(t, m.Select(ctx, From(table), &rows))
		require.Len(t, rows, 1, table)
		assert.Equal(t, goClub.ID.String(), rows[0]["club_id"], table)
	}

	// Removing a profile drops its memberships and keeps authored rows unattributed.
	require.NoError(t, m.Insert(ctx, "profiles", map[string]any{"id": admin, "email": "admin@uni.edu"}, nil))
	require.NoError(t, m.Delete(ctx, "profiles", []Filter{Eq("id", admin)}))
	var events []map[string]any
	require.NoError(t, m.Select(ctx, From("events"), &events))
	require.Len(t, events, 1)
	assert.Nil(t, events[0]["created_by"])

	require.NoError(t, m.Delete(ctx, "profiles", []Filter{Eq("id", member)}))
	assert.Equal(t, 0, m.Count("memberships"))
}
