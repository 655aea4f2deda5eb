package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/auth"
	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/models"
	"github.com/clubhub/portal/internal/profiles"
	"github.com/clubhub/portal/internal/session"
)

// memoryBus stands in for Redis pub/sub.
type memoryBus struct {
	mu            sync.Mutex
	handler       func(deviceID string, payload []byte)
	subscriptions int
	published     int
	failPublish   bool
}

func newMemoryBus() *memoryBus { return &memoryBus{} }

func (b *memoryBus) PublishAuthEvent(deviceID string, payload []byte) error {
	b.mu.Lock()
	h, fail := b.handler, b.failPublish
	if !fail {
		b.published++
	}
	b.mu.Unlock()
	if fail {
		return errors.New("redis unavailable")
	}
	if h != nil {
		h(deviceID, payload)
	}
	return nil
}

func (b *memoryBus) SubscribeDevices(ctx context.Context, ready func(), handler func(string, []byte)) error {
	b.mu.Lock()
	b.handler = handler
	b.subscriptions++
	b.mu.Unlock()
	ready()
	<-ctx.Done()
	b.mu.Lock()
	b.handler = nil
	b.mu.Unlock()
	return ctx.Err()
}

func (b *memoryBus) counts() (subscriptions, published int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscriptions, b.published
}

// listen runs the hub's subscription until the returned stop is called.
func listen(t *testing.T, hub *Hub) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	require.Eventually(t, hub.listening.Load, time.Second, time.Millisecond)
	return func() {
		cancel()
		<-done
	}
}

type roleResolver struct {
	roles map[uuid.UUID]models.Role
	err   error
}

func (r roleResolver) Resolve(_ context.Context, sess *auth.Session) (*session.Resolution, error) {
	if r.err != nil {
		return nil, r.err
	}
	if sess == nil {
		return &session.Resolution{}, nil
	}
	role := r.roles[sess.User.ID]
	if role == "" {
		role = models.RoleUser
	}
	return &session.Resolution{
		Identity: &sess.User,
		Profile:  &models.Profile{ID: sess.User.ID, Email: sess.User.Email, Role: role},
	}, nil
}

func sessionFor(id uuid.UUID) *auth.Session {
	return &auth.Session{AccessToken: "t", User: models.Identity{ID: id, Email: "x@uni.edu"}}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func navigations(msgs []WSMessage) []string {
	var out []string
	for _, m := range msgs {
		if m.Event == "navigate" {
			var body struct {
				To string `json:"to"`
			}
			_ = json.Unmarshal(m.Data, &body)
			out = append(out, body.To)
		}
	}
	return out
}

func TestHubDeliversToDeviceOnly(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	a := newClient("device-a", hub, roleResolver{}, nil, zap.NewNop())
	b := newClient("device-b", hub, roleResolver{}, nil, zap.NewNop())
	hub.Register(a)
	hub.Register(b)

	hub.NotifyAuth("device-a", auth.Event{Kind: auth.SignedIn, Session: sessionFor(uuid.New())})
	select {
	case ev := <-a.events:
		assert.Equal(t, auth.SignedIn, ev.Kind)
		require.NotNil(t, ev.Session)
	default:
		t.Fatal("device-a got no event")
	}
	assert.Empty(t, b.events)
}

func TestLatestPendingEventWins(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	c := newClient("d", hub, roleResolver{}, nil, zap.NewNop())
	hub.Register(c)
	hub.NotifyAuth("d", auth.Event{Kind: auth.SignedIn, Session: sessionFor(uuid.New())})
	hub.NotifyAuth("d", auth.Event{Kind: auth.SignedOut})
	ev := <-c.events
	assert.Equal(t, auth.SignedOut, ev.Kind)
	assert.Empty(t, c.events)
}

func TestHubSubscribesOnceForAllDevices(t *testing.T) {
	bus := newMemoryBus()
	hub := NewHub(zap.NewNop(), bus, bus)
	stop := listen(t, hub)

	first := newClient("d", hub, roleResolver{}, nil, zap.NewNop())
	second := newClient("d", hub, roleResolver{}, nil, zap.NewNop())
	other := newClient("e", hub, roleResolver{}, nil, zap.NewNop())
	hub.Register(first)
	hub.Register(second)
	hub.Register(other)
	assert.Equal(t, 2, hub.ViewCount("d"))

	hub.NotifyAuth("d", auth.Event{Kind: auth.TokenRefreshed, Session: sessionFor(uuid.New())})
	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
	assert.Empty(t, other.events)

	hub.Unregister(first)
	assert.Error(t, first.ctx.Err())
	hub.Unregister(second)
	hub.Unregister(other)
	assert.Equal(t, 0, hub.ViewCount("d"))

	subs, published := bus.counts()
	assert.Equal(t, 1, subs, "views never open their own subscription")
	assert.Equal(t, 1, published)

	stop()
	assert.False(t, hub.listening.Load())
}

func TestNotifyBeforeListeningDeliversLocally(t *testing.T) {
	bus := newMemoryBus()
	hub := NewHub(zap.NewNop(), bus, bus)
	c := newClient("d", hub, roleResolver{}, nil, zap.NewNop())
	hub.Register(c)

	hub.NotifyAuth("d", auth.Event{Kind: auth.SignedOut})
	assert.Len(t, c.events, 1)
	_, published := bus.counts()
	assert.Equal(t, 1, published, "other instances still hear about it")
}

func TestRunWithoutRedisReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		NewHub(zap.NewNop(), nil, nil).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run blocked without a subscriber")
	}
}

func TestDecodeDeviceMessage(t *testing.T) {
	body, err := json.Marshal(redisPayload{Data: json.RawMessage(`{"event":"SIGNED_OUT"}`), At: 1})
	require.NoError(t, err)

	device, payload, err := decodeDeviceMessage(DeviceChannel("dev-1"), string(body))
	require.NoError(t, err)
	assert.Equal(t, "dev-1", device)
	assert.JSONEq(t, `{"event":"SIGNED_OUT"}`, string(payload))

	_, _, err = decodeDeviceMessage("other:dev-1", string(body))
	assert.Error(t, err)
	_, _, err = decodeDeviceMessage(DeviceChannel("dev-1"), "not json")
	assert.Error(t, err)
}

func TestPublishFailureFallsBackToLocalDelivery(t *testing.T) {
	bus := newMemoryBus()
	hub := NewHub(zap.NewNop(), bus, bus)
	stop := listen(t, hub)
	defer stop()
	c := newClient("d", hub, roleResolver{}, nil, zap.NewNop())
	hub.Register(c)
	bus.mu.Lock()
	bus.failPublish = true
	bus.mu.Unlock()

	hub.NotifyAuth("d", auth.Event{Kind: auth.SignedOut})
	assert.Len(t, c.events, 1)
}

func TestApplyRoutesOnlyOnChange(t *testing.T) {
	admin := uuid.New()
	hub := NewHub(zap.NewNop(), nil, nil)
	c := newClient("d", hub, roleResolver{roles: map[uuid.UUID]models.Role{admin: models.RoleAdmin}}, nil, zap.NewNop())
	hub.Register(c)

	c.apply(auth.Event{Kind: auth.InitialSession})
	assert.Equal(t, []string{"/login"}, navigations(drain(c)))

	user := uuid.New()
	c.apply(auth.Event{Kind: auth.SignedIn, Session: sessionFor(user)})
	assert.Equal(t, []string{"/user-dashboard"}, navigations(drain(c)))

	c.apply(auth.Event{Kind: auth.TokenRefreshed, Session: sessionFor(user)})
	msgs := drain(c)
	assert.Empty(t, navigations(msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "auth_state", msgs[0].Event)

	c.apply(auth.Event{Kind: auth.SignedIn, Session: sessionFor(admin)})
	assert.Equal(t, []string{"/admin-dashboard"}, navigations(drain(c)))

	c.apply(auth.Event{Kind: auth.SignedOut})
	assert.Equal(t, []string{"/login"}, navigations(drain(c)))

	hub.Unregister(c)
	c.apply(auth.Event{Kind: auth.SignedIn, Session: sessionFor(user)})
	assert.Empty(t, drain(c))
}

func TestApplyResolutionFailureStaysOnLogin(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	c := newClient("d", hub, roleResolver{err: errors.New("permission denied")}, nil, zap.NewNop())
	hub.Register(c)

	c.apply(auth.Event{Kind: auth.SignedIn, Session: sessionFor(uuid.New())})
	msgs := drain(c)
	assert.Equal(t, []string{"/login"}, navigations(msgs))
	assert.Contains(t, string(msgs[0].Data), "resolution_error")
}

func TestServeWsNavigatesOnAuthEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(zap.NewNop(), nil, nil)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, roleResolver{}, Config{}, zap.NewNop()))
	srv := httptest.NewServer(r)
	defer srv.Close()

	device := uuid.NewString()
	header := http.Header{}
	header.Set("Cookie", auth.DeviceCookie+"="+device)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	next := func(event string) WSMessage {
		t.Helper()
		for {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			var msg WSMessage
			require.NoError(t, conn.ReadJSON(&msg))
			if msg.Event == event {
				return msg
			}
		}
	}

	assert.JSONEq(t, `{"to":"/login"}`, string(next("navigate").Data))
	require.Equal(t, 1, hub.ViewCount(device))

	hub.NotifyAuth(device, auth.Event{Kind: auth.SignedIn, Session: sessionFor(uuid.New())})
	assert.JSONEq(t, `{"to":"/user-dashboard"}`, string(next("navigate").Data))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ViewCount(device) == 0 }, 2*time.Second, 10*time.Millisecond)
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

// ctxResolver reports the token it was handed on the context.
type ctxResolver struct{ seen *[]string }

func (r ctxResolver) Resolve(ctx context.Context, sess *auth.Session) (*session.Resolution, error) {
	*r.seen = append(*r.seen, datasvc.AccessToken(ctx))
	return roleResolver{}.Resolve(ctx, sess)
}

func TestApplyResolvesWithTheEventToken(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)

	var seen []string
	c := newClient("d", hub, ctxResolver{seen: &seen}, nil, zap.NewNop())
	hub.Register(c)
	first := &auth.Session{AccessToken: "first-jwt", User: models.Identity{ID: uuid.New(), Email: "ana@uni.edu"}}
	c.apply(auth.Event{Kind: auth.SignedIn, Session: first})
	refreshed := *first
	refreshed.AccessToken = "second-jwt"
	c.apply(auth.Event{Kind: auth.TokenRefreshed, Session: &refreshed})
	assert.Equal(t, []string{"first-jwt", "second-jwt"}, seen)

	// Through the real resolver, every profile call carries the user's token.
	rec := &tokenRecorder{Client: datasvc.NewMemory()}
	resolver := session.NewResolver(profiles.NewRepository(rec), session.Config{Attempts: 1}, zap.NewNop())
	v := newClient("d", hub, resolver, nil, zap.NewNop())
	hub.Register(v)
	v.apply(auth.Event{Kind: auth.SignedIn, Session: first})
	assert.Equal(t, []string{"/user-dashboard"}, navigations(drain(v)))
	require.NotEmpty(t, rec.tokens)
	for _, tok := range rec.tokens {
		assert.Equal(t, "first-jwt", tok)
	}
}
