package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubhub/portal/internal/auth"
	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/models"
	"github.com/clubhub/portal/internal/profiles"
)

func newSession(email string) *auth.Session {
	return &auth.Session{AccessToken: "t", User: models.Identity{ID: uuid.New(), Email: email}}
}

func testConfig() Config {
	return Config{Timeout: time.Second, Attempts: 3, Backoff: time.Millisecond}
}

func TestResolveWithoutSession(t *testing.T) {
	m := datasvc.NewMemory()
	m.Fail("profiles", "", errors.New("must not be called"))
	r := NewResolver(profiles.NewRepository(m), testConfig(), nil)

	res, err := r.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.SignedIn())
	assert.Nil(t, res.Identity)
}

func TestResolveCreatesProfileOnce(t *testing.T) {
	m := datasvc.NewMemory()
	r := NewResolver(profiles.NewRepository(m), testConfig(), nil)
	sess := newSession("new@uni.edu")

	res, err := r.Resolve(context.Background(), sess)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, sess.User.ID, res.Profile.ID)
	assert.Equal(t, models.RoleUser, res.Profile.Role)

	res, err = r.Resolve(context.Background(), sess)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, 1, m.Count("profiles"))
}

func TestResolveKeepsExistingRole(t *testing.T) {
	m := datasvc.NewMemory()
	sess := newSession("admin@uni.edu")
	require.NoError(t, m.Seed("profiles", map[string]any{"id": sess.User.ID.String(), "email": "admin@uni.edu", "role": "admin"}))

	res, err := NewResolver(profiles.NewRepository(m), testConfig(), nil).Resolve(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, res.Profile.Role)
	assert.False(t, res.Created)
}

func TestConcurrentResolutionYieldsOneProfile(t *testing.T) {
	m := datasvc.NewMemory()
	store := profiles.NewRepository(m)
	// Two resolvers stand in for two server instances; each also runs concurrent calls.
	resolvers := []*Resolver{NewResolver(store, testConfig(), nil), NewResolver(store, testConfig(), nil)}
	sess := newSession("race@uni.edu")

	const n = 8
	var wg sync.WaitGroup
	roles := make([]models.Role, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := resolvers[i%2].Resolve(context.Background(), sess)
			errs[i] = err
			if err == nil {
				roles[i] = res.Profile.Role
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, models.RoleUser, roles[i])
	}
	assert.Equal(t, 1, m.Count("profiles"))
}

func TestInsertConflictRereads(t *testing.T) {
	m := datasvc.NewMemory()
	sess := newSession("dup@uni.edu")
	// Another instance inserts the profile between our lookup and our insert.
	m.Intercept("profiles", "insert", func() {
		_ = m.Seed("profiles", map[string]any{"id": sess.User.ID.String(), "email": "dup@uni.edu", "role": "user"})
	})

	res, err := NewResolver(profiles.NewRepository(m), testConfig(), nil).Resolve(context.Background(), sess)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, sess.User.ID, res.Profile.ID)
	assert.Equal(t, 1, m.Count("profiles"))
}

func TestLookupFailureIsResolutionError(t *testing.T) {
	m := datasvc.NewMemory()
	denied := &datasvc.Error{Op: "select", Table: "profiles", Status: 403, Code: "42501", Message: "permission denied"}
	m.Fail("profiles", "select", denied)

	res, err := NewResolver(profiles.NewRepository(m), testConfig(), nil).Resolve(context.Background(), newSession("x@uni.edu"))
	assert.Nil(t, res)
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 0, m.Count("profiles"), "no profile is created when the lookup fails")
}

type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	profile  *models.Profile
}

func (f *flakyStore) Get(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, &datasvc.Error{Op: "select", Table: "profiles", Status: 503, Message: "upstream unavailable"}
	}
	return f.profile, nil
}

func (f *flakyStore) Create(context.Context, models.Profile) (*models.Profile, error) {
	return nil, errors.New("unexpected create")
}

func TestTransientFailuresRetryWithBackoff(t *testing.T) {
	sess := newSession("flaky@uni.edu")
	store := &flakyStore{failures: 2, profile: &models.Profile{ID: sess.User.ID, Role: models.RoleAdmin}}

	res, err := NewResolver(store, testConfig(), nil).Resolve(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, res.Profile.Role)
	assert.Equal(t, 3, store.calls)

	store = &flakyStore{failures: 5, profile: &models.Profile{ID: sess.User.ID}}
	_, err = NewResolver(store, testConfig(), nil).Resolve(context.Background(), sess)
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, store.calls, "gives up after the configured attempts")
}

type slowStore struct{}

func (slowStore) Get(ctx context.Context, _ uuid.UUID) (*models.Profile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowStore) Create(context.Context, models.Profile) (*models.Profile, error) {
	return nil, errors.New("unexpected create")
}

func TestAttemptTimeoutIsResolutionFailure(t *testing.T) {
	cfg := Config{Timeout: 10 * time.Millisecond, Attempts: 2}
	_, err := NewResolver(slowStore{}, cfg, nil).Resolve(context.Background(), newSession("slow@uni.edu"))
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// tokenRecorder notes the access token of every data call.
type tokenRecorder struct {
	datasvc.Client
	mu     sync.Mutex
	tokens []string
}

func (r *tokenRecorder) note(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, datasvc.AccessToken(ctx))
}

func (r *tokenRecorder) Select(ctx context.Context, q datasvc.Query, dest any) error {
	r.note(ctx)
	return r.Client.Select(ctx, q, dest)
}

func (r *tokenRecorder) Insert(ctx context.Context, table string, rows, dest any) error {
	r.note(ctx)
	return r.Client.Insert(ctx, table, rows, dest)
}

func TestResolveRunsAsTheSessionUser(t *testing.T) {
	rec := &tokenRecorder{Client: datasvc.NewMemory()}
	r := NewResolver(profiles.NewRepository(rec), testConfig(), nil)

	sess := newSession("ana@uni.edu")
	sess.AccessToken = "ana-jwt"
	_, err := r.Resolve(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, rec.tokens, 2) // lookup, insert
	assert.Equal(t, []string{"ana-jwt", "ana-jwt"}, rec.tokens)

	// A token already on the context wins.
	rec.tokens = nil
	_, err = r.Resolve(datasvc.WithAccessToken(context.Background(), "request-jwt"), sess)
	require.NoError(t, err)
	assert.Equal(t, []string{"request-jwt"}, rec.tokens)
}
