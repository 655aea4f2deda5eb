package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/auth"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	// ResubscribeDelay is the pause before subscribing again after a lost subscription.
	ResubscribeDelay = 2 * time.Second
)

// Hub maintains device_id -> set of open view shells and delivers auth events
// to them. With Redis configured, one pattern subscription per instance receives
// every device's events and routes them to the local views.
type Hub struct {
	// deviceID -> map[clientID]*Client
	devices   map[string]map[string]*Client
	mu        sync.RWMutex
	listening atomic.Bool
	logger    *zap.Logger
	redis     RedisPublisher
	redisSub  RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance delivery).
type RedisPublisher interface {
	PublishAuthEvent(deviceID string, payload []byte) error
}

// RedisSubscriber listens on every device channel. SubscribeDevices blocks until
// ctx is done or the subscription fails, calls ready once it is confirmed, and
// hands each message to handler.
type RedisSubscriber interface {
	SubscribeDevices(ctx context.Context, ready func(), handler func(deviceID string, payload []byte)) error
}

// NewHub creates a new view shell hub. Both Redis arguments may be nil for a
// single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		devices:  make(map[string]map[string]*Client),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Run keeps the device subscription open until ctx is done, subscribing again
// after a failure. It returns at once without a subscriber.
func (h *Hub) Run(ctx context.Context) {
	if h.redisSub == nil {
		return
	}
	for {
		err := h.redisSub.SubscribeDevices(ctx, func() {
			h.listening.Store(true)
			h.logger.Info("listening for auth events")
		}, h.deliver)
		h.listening.Store(false)
		if ctx.Err() != nil {
			return
		}
		h.logger.Warn("auth event subscription lost", zap.Error(err))
		t := time.NewTimer(ResubscribeDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// Register adds a client to its device.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.devices[c.DeviceID] == nil {
		h.devices[c.DeviceID] = make(map[string]*Client)
	}
	h.devices[c.DeviceID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("view opened", zap.String("client_id", c.ID), zap.String("device_id", c.DeviceID))
}

// Unregister removes a client and cancels its context so nothing more is sent
// to it.
func (h *Hub) Unregister(c *Client) {
	c.cancel()
	h.mu.Lock()
	if m, ok := h.devices[c.DeviceID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.devices, c.DeviceID)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("view closed", zap.String("client_id", c.ID), zap.String("device_id", c.DeviceID))
}

// NotifyAuth implements auth.Notifier. With Redis the event is published, and
// while this instance is listening the subscription delivers it here too.
// Otherwise local views get it directly.
func (h *Hub) NotifyAuth(deviceID string, ev auth.Event) {
	if deviceID == "" {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode auth event", zap.Error(err))
		return
	}
	if h.redis != nil {
		err := h.redis.PublishAuthEvent(deviceID, payload)
		if err == nil && h.listening.Load() {
			return
		}
		if err != nil {
			h.logger.Warn("publish auth event failed, delivering locally", zap.String("device_id", deviceID), zap.Error(err))
		}
	}
	h.deliver(deviceID, payload)
}

// deliver hands an encoded event to every local view of the device.
func (h *Hub) deliver(deviceID string, payload []byte) {
	var ev auth.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.logger.Warn("decode auth event", zap.Error(err))
		return
	}
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.devices[deviceID]))
	for _, c := range h.devices[deviceID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.enqueue(ev)
	}
}

// ViewCount returns the number of open views of a device.
func (h *Hub) ViewCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices[deviceID])
}
