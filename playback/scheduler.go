// Package playback schedules decoded audio chunks back to back on an output
// context so that streamed responses play without gaps or overlaps.
package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/room4-2/livevoice/audio"
)

// ErrEmptyBuffer is returned when scheduling a buffer with no frames.
var ErrEmptyBuffer = errors.New("empty playback buffer")

// Context is the part of an audio context the scheduler needs.
type Context interface {
	CurrentTime() float64
	Play(buf *audio.Buffer, at float64, onEnded func()) (audio.Source, error)
}

// Handle identifies one scheduled chunk.
type Handle struct {
	ID       uint64
	Start    float64
	Duration float64
}

// End returns the time at which the chunk finishes playing.
func (h Handle) End() float64 { return h.Start + h.Duration }

// Scheduler owns the playback cursor and the arena of in-flight sources.
// It is safe for concurrent use; ended callbacks arrive from the render
// thread of the output device.
type Scheduler struct {
	ctx Context

	mu        sync.Mutex
	nextStart float64
	nextID    uint64
	active    map[uint64]audio.Source
	onEmpty   func()
}

// New creates a scheduler for ctx.
func New(ctx Context) *Scheduler {
	return &Scheduler{
		ctx:    ctx,
		active: make(map[uint64]audio.Source),
	}
}

// OnDrained registers fn to run whenever the last active chunk finishes
// naturally. fn runs on the render thread and must not block.
func (s *Scheduler) OnDrained(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEmpty = fn
}

// Schedule queues buf to start at max(next start time, current time) and
// advances the cursor to the end of the chunk as actually placed.
func (s *Scheduler) Schedule(buf *audio.Buffer) (Handle, error) {
	if buf.Frames() == 0 {
		return Handle{}, ErrEmptyBuffer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.nextStart, s.ctx.CurrentTime())
	s.nextID++
	id := s.nextID

	src, err := s.ctx.Play(buf, start, func() { s.finish(id) })
	if err != nil {
		return Handle{}, fmt.Errorf("playback: schedule chunk: %w", err)
	}

	// The clock may have moved past start before Play took it; the source
	// knows where it really begins.
	h := Handle{ID: id, Start: src.Start(), Duration: buf.Duration()}
	s.active[id] = src
	s.nextStart = h.End()
	return h, nil
}

// finish removes a naturally completed chunk. Chunks already removed by
// CancelAll are ignored.
func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	var drained func()
	if len(s.active) == 0 {
		drained = s.onEmpty
	}
	s.mu.Unlock()

	if drained != nil {
		drained()
	}
}

// CancelAll stops every scheduled chunk and empties the arena. It returns the
// number of chunks stopped. The cursor is left untouched, so audio scheduled
// afterwards starts no earlier than the cancelled audio would have ended.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.active)
	for id, src := range s.active {
		src.Stop()
		delete(s.active, id)
	}
	return n
}

// Active returns the number of chunks queued or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStartTime returns the cursor.
func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}
