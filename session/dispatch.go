package session

import (
	"errors"
	"fmt"

	"github.com/room4-2/livevoice/audio"
	"github.com/room4-2/livevoice/codec"
	"github.com/room4-2/livevoice/playback"
	"github.com/room4-2/livevoice/transcript"
	"github.com/room4-2/livevoice/transport"
)

// dispatch routes ev to its handler. Every handler first checks that s is
// still the active session, so late events from a torn-down session are
// no-ops.
func (m *Manager) dispatch(s *Session, ev transport.Event) error {
	h, ok := m.handlers[ev.Kind]
	if !ok {
		m.log.Warn("⚠️ unhandled transport event", "session", s.shortID(), "kind", ev.Kind)
		return nil
	}
	return h(s, ev)
}

// handleOpen acquires the audio contexts and the microphone, then moves to
// connected and starts the duplex flow.
func (m *Manager) handleOpen(s *Session, _ transport.Event) error {
	m.mu.Lock()
	if !m.isActive(s) {
		m.mu.Unlock()
		return ErrSessionStopped
	}

	input, err := audio.NewContext(m.cfg.InputSampleRate, 1)
	if err != nil {
		err = fmt.Errorf("%w: input context: %w", ErrCapture, err)
		m.commit(m.fail(s, err))
		return err
	}
	s.input = input

	output, err := audio.NewContext(m.cfg.OutputSampleRate, 1)
	if err != nil {
		err = fmt.Errorf("%w: output context: %w", ErrPlayback, err)
		m.commit(m.fail(s, err))
		return err
	}
	s.output = output
	s.player = playback.New(output)
	s.player.OnDrained(func() {
		m.log.Debug("🔈 playback drained", "session", s.shortID())
	})
	s.outbox = NewOutbox(m.cfg.MaxBufferSize)
	sink := m.sink
	m.mu.Unlock()

	if sink != nil {
		if err := output.AttachSink(sink); err != nil {
			return m.abortOpen(s, fmt.Errorf("%w: speaker: %w", ErrPlayback, err))
		}
	}

	handle, err := m.bridge.Start(s.ctx, input,
		func(f audio.Frame) { m.onFrame(s, f) },
		func(err error) {
			_ = m.dispatch(s, transport.Event{Kind: transport.EventError, Err: fmt.Errorf("%w: %w", ErrCapture, err)})
		},
	)
	if err != nil {
		return m.abortOpen(s, fmt.Errorf("%w: %w", ErrCapture, err))
	}

	m.mu.Lock()
	if !m.isActive(s) {
		m.mu.Unlock()
		handle.Stop()
		return ErrSessionStopped
	}
	s.capture = handle
	conn, outbox := s.conn, s.outbox
	m.commit(m.transition(s, StateConnected, nil))

	go m.sendLoop(s, conn, outbox)
	conn.Listen(func(ev transport.Event) {
		_ = m.dispatch(s, ev)
	})
	return nil
}

// abortOpen fails s after an acquisition error outside the lock.
func (m *Manager) abortOpen(s *Session, err error) error {
	m.mu.Lock()
	if !m.isActive(s) {
		m.mu.Unlock()
		return ErrSessionStopped
	}
	m.log.Error("❌ failed to acquire audio devices", "session", s.shortID(), "error", err)
	m.commit(m.fail(s, err))
	return err
}

// handleMessage routes audio to playback and text to the transcript.
// Malformed audio chunks are dropped without ending the session.
func (m *Manager) handleMessage(s *Session, ev transport.Event) error {
	msg := ev.Message
	if msg == nil {
		return nil
	}

	m.mu.Lock()
	if !m.isActive(s) || s.player == nil {
		m.mu.Unlock()
		return nil
	}
	s.lastActivity = m.now()

	var notes []notification
	if msg.Interrupted {
		// The cursor never moves back: the next reply waits out the time the
		// cancelled audio had reserved.
		n := s.player.CancelAll()
		m.metrics.RecordInterruption()
		m.log.Debug("✋ model turn interrupted", "session", s.shortID(), "cancelled", n)
		notes = append(notes, notification{interrupted: s.ID})
	}

	for i, data := range msg.Audio {
		buf, err := codec.Decode(data, m.cfg.OutputSampleRate, 1)
		if err != nil {
			m.metrics.RecordDecodeError()
			m.log.Warn("⚠️ dropping malformed audio chunk", "session", s.shortID(), "part", i, "error", err)
			continue
		}
		if buf.Frames() == 0 {
			continue
		}
		h, err := s.player.Schedule(buf)
		if err != nil {
			m.log.Warn("⚠️ failed to schedule audio chunk", "session", s.shortID(), "error", err)
			continue
		}
		m.metrics.RecordChunk(len(data), h.Duration)
	}

	if msg.InputTranscription != "" {
		m.transcript.AppendFragment(transcript.SpeakerUser, msg.InputTranscription)
	}
	if msg.OutputTranscription != "" {
		m.transcript.AppendFragment(transcript.SpeakerModel, msg.OutputTranscription)
	}
	for _, turn := range m.transcript.FlushIfComplete(msg.TurnComplete) {
		m.metrics.RecordTurn(string(turn.Speaker))
		m.log.Info("💬 turn complete", "session", s.shortID(), "speaker", turn.Speaker, "chars", len(turn.Text))
		notes = append(notes, notification{turn: &TurnEvent{SessionID: s.ID, Turn: turn}})
	}

	m.commit(notes)
	return nil
}

// handleError moves to StateError and tears down.
func (m *Manager) handleError(s *Session, ev transport.Event) error {
	err := ev.Err
	switch {
	case err == nil:
		err = ErrTransport
	case !errors.Is(err, ErrTransport) && !errors.Is(err, ErrCapture):
		err = fmt.Errorf("%w: %w", ErrTransport, err)
	}

	m.mu.Lock()
	if !m.isActive(s) {
		m.mu.Unlock()
		return nil
	}
	m.log.Error("❌ session error", "session", s.shortID(), "error", err)
	m.commit(m.fail(s, err))
	return err
}

// handleClose treats a remote hangup as a quiet terminal state.
func (m *Manager) handleClose(s *Session, ev transport.Event) error {
	m.mu.Lock()
	if !m.isActive(s) {
		m.mu.Unlock()
		return nil
	}
	if m.state != StateConnected {
		err := fmt.Errorf("%w: closed during handshake: %s", ErrTransport, ev.Reason)
		m.commit(m.fail(s, err))
		return err
	}
	m.log.Info("🔌 remote closed the session", "session", s.shortID(), "reason", ev.Reason)
	notes := m.transition(s, StateDisconnected, nil)
	m.commit(notes, m.detach(s))
	return nil
}
