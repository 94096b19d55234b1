// Package events publishes ingestion outcomes for downstream consumers.
// Publishing is best-effort: a failed publish is logged by the caller and
// never fails the ingestion that produced it.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"jobhunter/store"
)

// DefaultChannel is the pub/sub channel for role change events.
const DefaultChannel = "EVENT_ROLE_CHANGED"

// Event describes one persisted change to a role.
type Event struct {
	RoleID  string                  `json:"roleId"`
	Status  store.Status            `json:"status"`
	Changes map[string]store.Change `json:"changes,omitempty"`
}

// Publisher delivers role change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards all events. Used when no broker is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Redis publishes events on a Redis pub/sub channel.
type Redis struct {
	rdb     *redis.Client
	channel string
}

// NewRedis parses redisURL, verifies connectivity, and returns a publisher
// on the given channel (DefaultChannel when empty).
func NewRedis(ctx context.Context, redisURL, channel string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{rdb: client, channel: channel}, nil
}

// Publish implements Publisher.
func (r *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (r *Redis) Close() error { return r.rdb.Close() }
