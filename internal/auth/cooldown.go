package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCooldown is returned when a magic link was requested for the same email too recently.
var ErrCooldown = errors.New("auth: magic link requested too recently")

const cooldownPrefix = "auth:magic-link:"

// CooldownStore is the part of a Redis client the cooldown needs.
type CooldownStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cooldown throttles magic-link requests per email across server instances.
type Cooldown struct {
	rdb    CooldownStore
	window time.Duration
}

// NewCooldown creates a cooldown. A nil client or a non-positive window disables it.
func NewCooldown(rdb CooldownStore, window time.Duration) *Cooldown {
	return &Cooldown{rdb: rdb, window: window}
}

func (c *Cooldown) enabled() bool {
	return c != nil && c.rdb != nil && c.window > 0
}

func cooldownKey(email string) string {
	return cooldownPrefix + strings.ToLower(email)
}

// Acquire claims the window for email, or returns ErrCooldown.
func (c *Cooldown) Acquire(ctx context.Context, email string) error {
	if !c.enabled() {
		return nil
	}
	ok, err := c.rdb.SetNX(ctx, cooldownKey(email), time.Now().Unix(), c.window).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrCooldown
	}
	return nil
}

// Release gives the window back, for a request whose link was never sent.
func (c *Cooldown) Release(ctx context.Context, email string) error {
	if !c.enabled() {
		return nil
	}
	return c.rdb.Del(ctx, cooldownKey(email)).Err()
}
