package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/auth"
	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/middleware"
	"github.com/clubhub/portal/internal/session"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Resolver resolves a session into a profile.
type Resolver interface {
	Resolve(ctx context.Context, sess *auth.Session) (*session.Resolution, error)
}

// Config configures the view shell endpoint.
type Config struct {
	// AllowedOrigins restricts the Origin of upgrade requests. Empty allows any.
	AllowedOrigins []string
	Cookies        auth.CookieConfig
}

// Client is one open view shell: a browser tab subscribed to its device's auth events.
type Client struct {
	ID       string
	DeviceID string
	hub      *Hub
	resolver Resolver
	router   *session.Router
	conn     *websocket.Conn
	send     chan WSMessage
	events   chan auth.Event
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
}

func newClient(deviceID string, hub *Hub, resolver Resolver, conn *websocket.Conn, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ID:       uuid.New().String(),
		DeviceID: deviceID,
		hub:      hub,
		resolver: resolver,
		conn:     conn,
		send:     make(chan WSMessage, 16),
		events:   make(chan auth.Event, 1),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
	c.router = session.NewRouter(func(dest session.Destination) {
		c.emit("navigate", map[string]string{"to": string(dest)})
	})
	return c
}

// ServeWs upgrades GET /ws and runs the view shell. The session middleware must
// run first; its session is the view's initial auth state.
func ServeWs(hub *Hub, resolver Resolver, cfg Config, logger *zap.Logger) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return func(c *gin.Context) {
		deviceID := auth.DeviceID(c, cfg.Cookies)
		initial := middleware.CurrentSession(c)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, c.Writer.Header().Clone())
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := newClient(deviceID, hub, resolver, conn, logger)
		client.enqueue(auth.Event{Kind: auth.InitialSession, Session: initial})
		hub.Register(client)
		go client.writePump()
		go client.authLoop()
		client.readPump()
	}
}

// enqueue hands ev to the auth loop without blocking. Only the latest pending
// event is kept; an older one still waiting is replaced.
func (c *Client) enqueue(ev auth.Event) {
	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		select {
		case <-c.events:
		default:
		}
	}
}

func (c *Client) authLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.events:
			c.apply(ev)
		}
	}
}

// apply resolves the session carried by ev and routes the view. The event's
// session replaces whatever the view knew before, including the token the data
// service sees.
func (c *Client) apply(ev auth.Event) {
	ctx := c.ctx
	if ev.Session != nil {
		ctx = datasvc.WithAccessToken(ctx, ev.Session.AccessToken)
	}
	res, err := c.resolver.Resolve(ctx, ev.Session)
	if c.ctx.Err() != nil {
		return
	}
	if err != nil {
		c.logger.Warn("view resolution failed", zap.String("device_id", c.DeviceID), zap.Error(err))
		c.emit("auth_state", map[string]any{"event": ev.Kind, "signed_in": false, "resolution_error": true})
		c.router.Navigate(nil)
		return
	}
	c.emit("auth_state", map[string]any{"event": ev.Kind, "signed_in": res.SignedIn(), "profile": res.Profile})
	c.router.Navigate(res.Profile)
}

// emit queues a message unless the view is closed. A full buffer drops it.
func (c *Client) emit(event string, payload any) {
	if c.ctx.Err() != nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
		c.logger.Debug("view send buffer full", zap.String("client_id", c.ID), zap.String("event", event))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "ping":
			c.emit("pong", nil)
		default:
			// views only listen
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			if c.ctx.Err() != nil {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
