package status

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/room4-2/livevoice/session"
	"github.com/room4-2/livevoice/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMirror(t *testing.T, ttl time.Duration) (*Mirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := New(client, ttl, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestMirror_StateChange(t *testing.T) {
	m, mr := setupMirror(t, time.Minute)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	m.OnStateChange(session.StateChange{
		SessionID: "abc",
		From:      session.StateConnecting,
		To:        session.StateConnected,
		At:        at,
	})

	key := SessionKey("abc")
	assert.Equal(t, "connected", mr.HGet(key, "state"))
	assert.Equal(t, "2025-03-01T12:00:00Z", mr.HGet(key, "updated_at"))
	assert.Equal(t, "", mr.HGet(key, "error"))
	assert.Equal(t, time.Minute, mr.TTL(key))

	current, err := mr.Get(currentKey)
	require.NoError(t, err)
	assert.Equal(t, "abc", current)
	assert.Equal(t, time.Minute, mr.TTL(currentKey))
}

func TestMirror_ErrorIsRecordedAndCleared(t *testing.T) {
	m, mr := setupMirror(t, time.Minute)

	m.OnStateChange(session.StateChange{
		SessionID: "abc",
		From:      session.StateConnected,
		To:        session.StateError,
		Err:       errors.New("socket reset"),
		At:        time.Now(),
	})
	assert.Equal(t, "error", mr.HGet(SessionKey("abc"), "state"))
	assert.Equal(t, "socket reset", mr.HGet(SessionKey("abc"), "error"))

	m.OnStateChange(session.StateChange{SessionID: "abc", From: session.StateError, To: session.StateIdle, At: time.Now()})
	assert.Equal(t, "idle", mr.HGet(SessionKey("abc"), "state"))
	assert.Equal(t, "", mr.HGet(SessionKey("abc"), "error"))
}

func TestMirror_TurnsAreCounted(t *testing.T) {
	m, mr := setupMirror(t, time.Minute)

	for range 3 {
		m.OnTurn(session.TurnEvent{SessionID: "abc", Turn: transcript.Turn{Speaker: transcript.SpeakerModel, Text: "Hi"}})
	}
	assert.Equal(t, "3", mr.HGet(SessionKey("abc"), "turns"))
}

func TestMirror_KeysExpire(t *testing.T) {
	m, mr := setupMirror(t, 10*time.Second)

	m.OnStateChange(session.StateChange{SessionID: "abc", To: session.StateConnecting, At: time.Now()})
	mr.FastForward(11 * time.Second)

	assert.False(t, mr.Exists(SessionKey("abc")))
	assert.False(t, mr.Exists(currentKey))
}

func TestMirror_NewSessionReplacesCurrent(t *testing.T) {
	m, mr := setupMirror(t, time.Minute)

	m.OnStateChange(session.StateChange{SessionID: "first", To: session.StateConnecting, At: time.Now()})
	m.OnStateChange(session.StateChange{SessionID: "second", To: session.StateConnecting, At: time.Now()})

	current, err := mr.Get(currentKey)
	require.NoError(t, err)
	assert.Equal(t, "second", current)
	assert.True(t, mr.Exists(SessionKey("first")))
}

func TestMirror_IgnoresEventsWithoutSession(t *testing.T) {
	m, mr := setupMirror(t, time.Minute)

	m.OnStateChange(session.StateChange{To: session.StateIdle, At: time.Now()})
	m.OnTurn(session.TurnEvent{})
	assert.Empty(t, mr.Keys())
}

func TestMirror_UnavailableRedisIsNotFatal(t *testing.T) {
	m, mr := setupMirror(t, time.Minute)
	mr.Close()

	assert.NotPanics(t, func() {
		m.OnStateChange(session.StateChange{SessionID: "abc", To: session.StateConnecting, At: time.Now()})
		m.OnTurn(session.TurnEvent{SessionID: "abc"})
	})
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	m, err := Connect(context.Background(), addr, "", time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	mr.Close()
	_, err = Connect(context.Background(), addr, "", time.Minute, nil)
	assert.Error(t, err)
}
