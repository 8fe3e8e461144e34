// Package status mirrors the live session state into Redis so external
// tooling can see what the voice daemon is doing. Only the current state is
// kept; every key expires after the configured TTL.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/room4-2/livevoice/session"
)

const (
	sessionKeyPrefix = "livevoice:session:"
	currentKey       = "livevoice:current"

	opTimeout = 2 * time.Second
)

var _ session.Listener = (*Mirror)(nil)

// SessionKey returns the hash key holding a session's status.
func SessionKey(id string) string { return sessionKeyPrefix + id }

// Mirror writes session state changes to Redis. Write failures are logged
// and otherwise ignored.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// New wraps an existing client.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{client: client, ttl: ttl, log: logger}
}

// Connect creates a client for addr and checks it with a ping.
func Connect(ctx context.Context, addr, password string, ttl time.Duration, logger *slog.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("status: redis ping %s: %w", addr, err)
	}
	return New(client, ttl, logger), nil
}

// OnStateChange implements session.Listener.
func (m *Mirror) OnStateChange(c session.StateChange) {
	if c.SessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	errText := ""
	if c.Err != nil {
		errText = c.Err.Error()
	}

	key := SessionKey(c.SessionID)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"state":      c.To.String(),
		"updated_at": c.At.UTC().Format(time.RFC3339Nano),
		"error":      errText,
	})
	pipe.Set(ctx, currentKey, c.SessionID, m.ttl)
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warn("⚠️ failed to mirror session state", "session", short(c.SessionID), "state", c.To, "error", err)
	}
}

// OnTurn implements session.Listener.
func (m *Mirror) OnTurn(e session.TurnEvent) {
	if e.SessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	key := SessionKey(e.SessionID)
	pipe := m.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "turns", 1)
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warn("⚠️ failed to mirror turn", "session", short(e.SessionID), "error", err)
	}
}

// Close closes the Redis client.
func (m *Mirror) Close() error {
	return m.client.Close()
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
