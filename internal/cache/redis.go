package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harborstay/booking-backend/internal/config"
	"github.com/harborstay/booking-backend/internal/services"
)

// SessionCache keeps short-lived checkout session snapshots in redis so a
// burst of confirmation attempts for one session hits the gateway once. The
// TTL is deliberately short: a snapshot only needs to outlive the burst, and
// a stale "unpaid" entry expires before it can mask a real payment for long.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ services.SessionCache = (*SessionCache)(nil)

// NewSessionCache connects to redis and verifies the connection.
func NewSessionCache(cfg config.RedisConfig) (*SessionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &SessionCache{client: client, ttl: cfg.SnapshotTTL}, nil
}

func snapshotKey(sessionID string) string {
	return "checkout:session:" + sessionID
}

// GetSnapshot returns the cached snapshot for a session, or (nil, nil) on a
// miss.
func (c *SessionCache) GetSnapshot(ctx context.Context, sessionID string) (*services.SessionSnapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session snapshot: %w", err)
	}

	var snap services.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return &snap, nil
}

// SetSnapshot caches a gateway snapshot under the configured TTL.
func (c *SessionCache) SetSnapshot(ctx context.Context, sessionID string, snap *services.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey(sessionID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache session snapshot: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot for a session. Called after a
// transition so the next read sees gateway truth.
func (c *SessionCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, snapshotKey(sessionID)).Err()
}

// Close releases the redis connection.
func (c *SessionCache) Close() error {
	return c.client.Close()
}
