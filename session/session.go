package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/room4-2/livevoice/audio"
	"github.com/room4-2/livevoice/capture"
	"github.com/room4-2/livevoice/playback"
	"github.com/room4-2/livevoice/transport"
)

// Session is one live duplex connection and every resource acquired for it.
// All fields except ID and CreatedAt are guarded by the owning Manager's lock.
type Session struct {
	ID        string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	conn    transport.Conn
	input   *audio.Context
	output  *audio.Context
	capture *capture.Handle
	player  *playback.Scheduler
	outbox  *Outbox
	wake    chan struct{}

	lastActivity time.Time
	tearingDown  bool
}

func newSession(now time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		ctx:          ctx,
		cancel:       cancel,
		wake:         make(chan struct{}, 1),
		lastActivity: now,
	}
}

func (s *Session) shortID() string {
	return s.ID[:8]
}

// detach marks the session as tearing down and hands its resources to the
// caller. Only the first call returns a non-nil value.
func (s *Session) detach() *resources {
	if s.tearingDown {
		return nil
	}
	s.tearingDown = true

	r := &resources{
		id:      s.ID,
		cancel:  s.cancel,
		conn:    s.conn,
		input:   s.input,
		output:  s.output,
		capture: s.capture,
		player:  s.player,
		outbox:  s.outbox,
	}
	s.conn = nil
	s.input = nil
	s.output = nil
	s.capture = nil
	s.player = nil
	s.outbox = nil
	return r
}

// Resources reports which handles the active session holds.
type Resources struct {
	SessionID     string
	Transport     bool
	InputContext  bool
	OutputContext bool
	Capture       bool
	// Playback is the number of chunks queued or playing.
	Playback int
	// Outbound is the number of frames waiting to be sent.
	Outbound int
}

// Empty reports whether no resource is held.
func (r Resources) Empty() bool {
	return r == Resources{}
}

func (s *Session) resources() Resources {
	r := Resources{
		SessionID:     s.ID,
		Transport:     s.conn != nil,
		InputContext:  s.input != nil,
		OutputContext: s.output != nil,
		Capture:       s.capture != nil,
	}
	if s.player != nil {
		r.Playback = s.player.Active()
	}
	if s.outbox != nil {
		r.Outbound = s.outbox.Len()
	}
	return r
}

// resources are detached from a session under the manager lock and released
// after it is dropped.
type resources struct {
	id      string
	cancel  context.CancelFunc
	conn    transport.Conn
	input   *audio.Context
	output  *audio.Context
	capture *capture.Handle
	player  *playback.Scheduler
	outbox  *Outbox
}

// release frees everything. Every step is guarded so one failure does not
// skip the rest.
func (r *resources) release(logger *slog.Logger) {
	if r == nil {
		return
	}
	logger = logger.With("session", r.id[:8])

	step := func(name string, fn func() error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("❌ teardown step panicked", "step", name, "panic", p)
			}
		}()
		err := fn()
		if err != nil && !errors.Is(err, transport.ErrClosed) && !errors.Is(err, audio.ErrContextClosed) {
			logger.Warn("⚠️ teardown step failed", "step", name, "error", err)
		}
	}

	step("lifetime", func() error {
		r.cancel()
		return nil
	})
	if r.player != nil {
		step("playback", func() error {
			if n := r.player.CancelAll(); n > 0 {
				logger.Debug("🔇 cancelled queued playback", "chunks", n)
			}
			return nil
		})
	}
	if r.outbox != nil {
		step("outbox", func() error {
			r.outbox.Clear()
			return nil
		})
	}
	if r.conn != nil {
		step("transport", r.conn.Close)
	}
	if r.capture != nil {
		step("capture", func() error {
			r.capture.Stop()
			return nil
		})
	}
	if r.input != nil {
		step("input context", r.input.Close)
	}
	if r.output != nil {
		step("output context", r.output.Close)
	}
	logger.Debug("🧹 session resources released")
}
