package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/room4-2/livevoice/audio"
	"github.com/room4-2/livevoice/capture"
	"github.com/room4-2/livevoice/codec"
	"github.com/room4-2/livevoice/config"
	"github.com/room4-2/livevoice/metrics"
	"github.com/room4-2/livevoice/transcript"
	"github.com/room4-2/livevoice/transport"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics records into mx.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithSink attaches sink to every output context so scheduled audio is
// audible. Without a sink the output clock only advances when rendered.
func WithSink(sink audio.Sink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithClock overrides the wall clock used for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type eventHandler func(s *Session, ev transport.Event) error

type subscription struct {
	l Listener
}

// Manager owns the single live voice session. Every event handler runs under
// one mutex; blocking work (dial, microphone open) runs outside it and is
// followed by a check that the session is still the active one.
type Manager struct {
	cfg      *config.Config
	dialer   transport.Dialer
	bridge   *capture.Bridge
	log      *slog.Logger
	metrics  *metrics.Metrics
	sink     audio.Sink
	now      func() time.Time
	handlers map[transport.EventKind]eventHandler

	transcript *transcript.Aggregator

	mu        sync.Mutex
	state     State
	lastErr   error
	current   *Session
	listeners []*subscription
	queue     []notification
	draining  bool
}

// NewManager creates a manager in the idle state.
func NewManager(cfg *config.Config, dialer transport.Dialer, mic capture.Microphone, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		dialer:     dialer,
		log:        slog.Default(),
		now:        time.Now,
		transcript: transcript.NewAggregator(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.bridge = capture.NewBridge(mic, capture.Constraints{
		SampleRate: cfg.InputSampleRate,
		Channels:   1,
		BlockSize:  cfg.CaptureBlockSize,
	}, m.log)
	m.handlers = map[transport.EventKind]eventHandler{
		transport.EventOpen:    m.handleOpen,
		transport.EventMessage: m.handleMessage,
		transport.EventError:   m.handleError,
		transport.EventClose:   m.handleClose,
	}
	return m
}

// Subscribe registers l and returns a function that removes it.
func (m *Manager) Subscribe(l Listener) func() {
	sub := &subscription{l: l}
	m.mu.Lock()
	m.listeners = append(m.listeners, sub)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listeners = slices.DeleteFunc(m.listeners, func(s *subscription) bool { return s == sub })
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the error that moved the session to StateError, or nil in
// any other state.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// SessionID returns the ID of the active session, or "".
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// Transcript returns the finalized turns of the current or last session.
func (m *Manager) Transcript() []transcript.Turn {
	return m.transcript.Turns()
}

// Resources returns a snapshot of the handles held by the active session.
func (m *Manager) Resources() Resources {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Resources{}
	}
	return m.current.resources()
}

func (m *Manager) transportConfig() transport.Config {
	return transport.Config{
		Model:               m.cfg.Model,
		SystemInstruction:   m.cfg.SystemInstruction,
		Voice:               m.cfg.Voice,
		InputMIMEType:       codec.MIMEType(m.cfg.InputSampleRate),
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// Start opens a new session, tearing down any previous one first. It blocks
// through the transport handshake and microphone acquisition and returns the
// reason the session did not reach connected.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	prev := m.current
	var notes []notification
	if m.state == StateConnecting || m.state == StateConnected {
		if prev != nil {
			m.log.Info("🔁 restarting active session", "session", prev.shortID())
		}
		notes = append(notes, m.transition(prev, StateIdle, nil)...)
	}
	released := m.detach(prev)

	s := newSession(m.now())
	m.current = s
	m.transcript.Reset()
	notes = append(notes, m.transition(s, StateConnecting, nil)...)
	m.metrics.RecordSessionStart()
	cfg := m.transportConfig()
	m.commit(notes, released)

	m.log.Info("📞 starting session", "session", s.shortID(), "model", cfg.Model)
	began := time.Now()

	dialCtx, cancel := context.WithCancel(ctx)
	stopDial := context.AfterFunc(s.ctx, cancel)
	conn, err := m.dialer.Dial(dialCtx, cfg)
	stopDial()
	cancel()

	m.mu.Lock()
	if !m.isActive(s) {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrSessionStopped
	}
	if err != nil {
		err = fmt.Errorf("%w: dial: %w", ErrTransport, err)
		m.log.Error("❌ failed to connect", "session", s.shortID(), "error", err)
		m.commit(m.fail(s, err))
		return err
	}
	s.conn = conn
	m.mu.Unlock()

	if err := m.dispatch(s, transport.Event{Kind: transport.EventOpen}); err != nil {
		return err
	}
	m.metrics.RecordHandshake(time.Since(began))
	return nil
}

// Stop tears the session down and returns to idle. It is safe from any state
// and repeated calls are no-ops.
func (m *Manager) Stop() {
	m.mu.Lock()
	s := m.current
	if s == nil && m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	if s != nil {
		m.log.Info("🛑 stopping session", "session", s.shortID())
	}
	notes := m.transition(s, StateIdle, nil)
	m.commit(notes, m.detach(s))
}

// ReapIdle stops the session once no inbound message has arrived for
// timeout. It blocks until ctx is done.
func (m *Manager) ReapIdle(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	ticker := time.NewTicker(max(timeout/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapIfIdle(timeout)
		}
	}
}

func (m *Manager) reapIfIdle(timeout time.Duration) {
	m.mu.Lock()
	s := m.current
	if s == nil || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	idle := m.now().Sub(s.lastActivity)
	if idle <= timeout {
		m.mu.Unlock()
		return
	}
	m.log.Info("🧹 stopping idle session", "session", s.shortID(), "idle", idle.Round(time.Second))
	notes := m.transition(s, StateIdle, nil)
	m.commit(notes, m.detach(s))
}

// isActive is the guard every handler runs first.
func (m *Manager) isActive(s *Session) bool {
	return s != nil && m.current == s && !s.tearingDown
}

func (m *Manager) detach(s *Session) *resources {
	if s == nil {
		return nil
	}
	if m.current == s {
		m.current = nil
	}
	return s.detach()
}

// fail moves to StateError and detaches s.
func (m *Manager) fail(s *Session, err error) ([]notification, *resources) {
	return m.transition(s, StateError, err), m.detach(s)
}

// transition applies one state change and returns the notification for it.
// Must be called with m.mu held.
func (m *Manager) transition(s *Session, to State, err error) []notification {
	from := m.state
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		m.log.Error("❌ rejected state transition", "from", from, "to", to)
		return nil
	}
	m.state = to
	if to == StateError {
		m.lastErr = err
	} else {
		m.lastErr = nil
	}
	m.metrics.RecordTransition(from.String(), to.String())

	change := &StateChange{From: from, To: to, Err: err, At: m.now()}
	if s != nil {
		change.SessionID = s.ID
		m.log.Info("🔄 connection state changed", "session", s.shortID(), "from", from, "to", to)
	}
	return []notification{{state: change}}
}

// commit releases detached resources and then delivers queued notifications
// in order. It must be called with m.mu held and returns with it released.
// Whichever goroutine finds the queue idle drains it, so listener callbacks
// never run under the lock yet keep the order in which state changed.
func (m *Manager) commit(notes []notification, released ...*resources) {
	m.queue = append(m.queue, notes...)
	m.mu.Unlock()

	for _, r := range released {
		r.release(m.log)
	}

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		batch := m.queue
		m.queue = nil
		subs := slices.Clone(m.listeners)
		m.mu.Unlock()

		for _, n := range batch {
			for _, sub := range subs {
				m.deliver(n, sub.l)
			}
		}

		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func (m *Manager) deliver(n notification, l Listener) {
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("❌ listener panicked", "panic", p)
		}
	}()
	n.deliver(l)
}

// onFrame encodes a captured frame and queues it for the sender. Frames are
// dropped, not blocked on, when the outbox is full.
func (m *Manager) onFrame(s *Session, f audio.Frame) {
	data := codec.Encode(f.Samples)

	m.mu.Lock()
	if !m.isActive(s) || s.outbox == nil {
		m.mu.Unlock()
		return
	}
	outbox, wake := s.outbox, s.wake
	m.mu.Unlock()

	if err := outbox.Append(data); err != nil {
		m.metrics.RecordFrameDropped()
		m.log.Debug("⚠️ outbound queue full, dropping frame", "session", s.shortID(), "queued", outbox.Size())
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

// sendLoop drains the outbox to the transport until the session ends.
func (m *Manager) sendLoop(s *Session, conn transport.Conn, outbox *Outbox) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for _, chunk := range outbox.Drain() {
			if s.ctx.Err() != nil {
				return
			}
			if err := conn.SendMedia(chunk); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				_ = m.dispatch(s, transport.Event{
					Kind: transport.EventError,
					Err:  fmt.Errorf("%w: send media: %w", ErrTransport, err),
				})
				return
			}
			m.metrics.RecordFrameSent(len(chunk))
		}
	}
}
