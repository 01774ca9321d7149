// Redis mirror for verification events.
//
// A single gateway process is authoritative for its own verifier state, but
// operators often watch several gateways at once. The mirror republishes
// every bus event on a Redis Pub/Sub channel so external dashboards can
// subscribe without touching the gateway. Delivery is fire-and-forget: a
// Redis outage degrades to in-memory-only distribution.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisMirror republishes bus events on a Redis Pub/Sub channel.
type RedisMirror struct {
	client  *redis.Client
	channel string
}

// NewRedisMirror connects to Redis and verifies the connection.
func NewRedisMirror(addr, password string, db int, channel string) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if channel == "" {
		channel = "vermon:verdicts"
	}
	return &RedisMirror{client: client, channel: channel}, nil
}

// Run subscribes to the bus and mirrors every event until the context is
// cancelled. Publish errors are logged and swallowed.
func (m *RedisMirror) Run(ctx context.Context, bus *Bus) {
	ch := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				payload, err := event.JSON()
				if err != nil {
					continue
				}
				if err := m.client.Publish(ctx, m.channel, payload).Err(); err != nil {
					slog.Warn("Redis mirror publish failed", "channel", m.channel, "error", err)
				}
			}
		}
	}()
}

// Close releases the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
