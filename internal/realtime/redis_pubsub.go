package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "auth:device:"
	eventTTL      = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance delivery.
type redisPayload struct {
	Data json.RawMessage `json:"data"`
	At   int64           `json:"at"`
}

// RedisPubSub implements RedisPublisher and RedisSubscriber using Redis pub/sub.
// A single PSUBSCRIBE connection serves every device of the instance.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for auth events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, logger: logger}
}

// DeviceChannel returns the Redis channel of a browser device.
func DeviceChannel(deviceID string) string {
	return channelPrefix + deviceID
}

// PublishAuthEvent publishes an encoded auth event to the device's channel.
func (r *RedisPubSub) PublishAuthEvent(deviceID string, payload []byte) error {
	body, err := json.Marshal(redisPayload{Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTTL)
	defer cancel()
	return r.client.Publish(ctx, DeviceChannel(deviceID), body).Err()
}

// SubscribeDevices holds one pattern subscription covering every device channel
// until ctx is done. Each message is routed by its channel suffix.
func (r *RedisPubSub) SubscribeDevices(ctx context.Context, ready func(), handler func(deviceID string, payload []byte)) error {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	if ready != nil {
		ready()
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			deviceID, payload, err := decodeDeviceMessage(msg.Channel, msg.Payload)
			if err != nil {
				r.logger.Debug("drop malformed auth event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			handler(deviceID, payload)
		}
	}
}

// decodeDeviceMessage splits a published message into its device and event.
func decodeDeviceMessage(channel, body string) (string, []byte, error) {
	deviceID := strings.TrimPrefix(channel, channelPrefix)
	if deviceID == "" || deviceID == channel {
		return "", nil, fmt.Errorf("not a device channel: %q", channel)
	}
	var p redisPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return "", nil, err
	}
	return deviceID, p.Data, nil
}
