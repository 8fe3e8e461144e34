// Package mock provides an in-memory capture.Microphone for tests.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/room4-2/livevoice/capture"
)

var _ capture.Microphone = (*Microphone)(nil)

// Microphone hands out Streams fed by the test.
type Microphone struct {
	// Err, when set, is returned by Open.
	Err error
	// Gate, when set, makes Open wait until it is closed or ctx is done.
	Gate chan struct{}

	mu      sync.Mutex
	streams []*Stream
	last    capture.Constraints
}

// Open returns a new Stream or Err.
func (m *Microphone) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}

	s := &Stream{
		frames:  make(chan []float32),
		readErr: make(chan error, 1),
		stopped: make(chan struct{}),
		track:   &Track{label: "mock-mic", stream: nil},
	}
	s.track.stream = s

	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.last = c
	m.mu.Unlock()
	return s, nil
}

// Streams returns every stream opened so far.
func (m *Microphone) Streams() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Stream, len(m.streams))
	copy(out, m.streams)
	return out
}

// Last returns the most recently opened stream, or nil.
func (m *Microphone) Last() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// Constraints returns the constraints of the last Open call.
func (m *Microphone) Constraints() capture.Constraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Stream is a fake microphone stream.
type Stream struct {
	frames  chan []float32
	readErr chan error
	stopped chan struct{}
	track   *Track
	reads   atomic.Int64
}

// Push delivers samples to the next Read. It blocks until the samples are
// consumed and reports false if the stream was stopped first.
func (s *Stream) Push(samples []float32) bool {
	select {
	case <-s.stopped:
		return false
	default:
	}
	select {
	case s.frames <- samples:
		return true
	case <-s.stopped:
		return false
	}
}

// Fail makes the next Read return err.
func (s *Stream) Fail(err error) {
	s.readErr <- err
}

// Read implements capture.Stream.
func (s *Stream) Read(block []float32) error {
	select {
	case <-s.stopped:
		return capture.ErrStreamStopped
	default:
	}
	select {
	case f := <-s.frames:
		n := copy(block, f)
		clear(block[n:])
		s.reads.Add(1)
		return nil
	case err := <-s.readErr:
		return err
	case <-s.stopped:
		return capture.ErrStreamStopped
	}
}

// Tracks implements capture.Stream.
func (s *Stream) Tracks() []capture.Track { return []capture.Track{s.track} }

// Track returns the fake hardware track.
func (s *Stream) Track() *Track { return s.track }

// Reads returns the number of successful reads.
func (s *Stream) Reads() int64 { return s.reads.Load() }

// Track is a fake hardware track that counts Stop calls.
type Track struct {
	label  string
	stream *Stream
	stops  atomic.Int64
}

// Label implements capture.Track.
func (t *Track) Label() string { return t.label }

// Stop implements capture.Track. Only the first call releases the stream.
func (t *Track) Stop() error {
	if t.stops.Add(1) == 1 {
		close(t.stream.stopped)
	}
	return nil
}

// Stops returns how many times Stop was called.
func (t *Track) Stops() int64 { return t.stops.Load() }
