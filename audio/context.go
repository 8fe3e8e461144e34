package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

var (
	// ErrContextClosed is returned by operations on a closed Context.
	ErrContextClosed = errors.New("audio context closed")
	// ErrFormatMismatch is returned when a buffer's rate or channel count
	// differs from the context it is played on.
	ErrFormatMismatch = errors.New("buffer format does not match context")
)

// Sink is an output device that pulls rendered samples from a Context.
// Start begins pulling; closing the returned io.Closer stops it.
type Sink interface {
	Start(ctx *Context) (io.Closer, error)
}

// Source is a buffer scheduled on a Context.
type Source interface {
	// Stop silences the source. A stopped source never fires its ended
	// callback. Stop is safe to call more than once.
	Stop()
	// Start returns the context time, in seconds, at which the first frame
	// plays. It may be later than the time requested from Play.
	Start() float64
}

// Context is a sample clock and mixer. Time advances only when frames are
// rendered (output contexts) or advanced (input contexts), so tests can drive
// it deterministically without hardware.
type Context struct {
	sampleRate int
	channels   int

	mu      sync.Mutex
	frame   int64
	sources []*source
	nodes   map[*Node]struct{}
	driver  io.Closer
	closed  bool
}

// NewContext creates an open context.
func NewContext(sampleRate, channels int) (*Context, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("audio: invalid context format %d Hz x %d", sampleRate, channels)
	}
	return &Context{
		sampleRate: sampleRate,
		channels:   channels,
		nodes:      make(map[*Node]struct{}),
	}, nil
}

// SampleRate returns the context sample rate in Hz.
func (c *Context) SampleRate() int { return c.sampleRate }

// Channels returns the context channel count.
func (c *Context) Channels() int { return c.channels }

// CurrentTime returns the context clock in seconds.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.frame) / float64(c.sampleRate)
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Active returns the number of sources that are queued or playing.
func (c *Context) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}

// Play schedules buf to start at time at (seconds). A start time in the past
// is moved to the current time. onEnded is invoked once after the last frame
// has been rendered, never from inside Play or Stop.
func (c *Context) Play(buf *Buffer, at float64, onEnded func()) (Source, error) {
	if buf == nil {
		return nil, fmt.Errorf("audio: nil buffer")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}
	if buf.SampleRate != c.sampleRate || buf.Channels != c.channels {
		return nil, fmt.Errorf("%w: buffer %d Hz x %d, context %d Hz x %d",
			ErrFormatMismatch, buf.SampleRate, buf.Channels, c.sampleRate, c.channels)
	}

	start := int64(math.Round(at * float64(c.sampleRate)))
	if start < c.frame {
		start = c.frame
	}

	src := &source{ctx: c, buf: buf, start: start, onEnded: onEnded}
	c.sources = append(c.sources, src)
	return src, nil
}

// Render mixes every active source into out (interleaved) and advances the
// clock by len(out)/channels frames. Ended callbacks run after the internal
// lock is released.
func (c *Context) Render(out []float32) {
	clear(out)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	ch := int64(c.channels)
	t0 := c.frame
	t1 := t0 + int64(len(out))/ch

	var ended []func()
	kept := c.sources[:0]
	for _, s := range c.sources {
		end := s.start + int64(s.buf.Frames())
		if s.start < t1 && end > t0 {
			from := max(s.start, t0)
			to := min(end, t1)
			for f := from; f < to; f++ {
				src := (f - s.start) * ch
				dst := (f - t0) * ch
				for k := int64(0); k < ch; k++ {
					out[dst+k] += s.buf.Samples[src+k]
				}
			}
		}
		if end <= t1 {
			s.done = true
			if s.onEnded != nil {
				ended = append(ended, s.onEnded)
			}
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(c.sources); i++ {
		c.sources[i] = nil
	}
	c.sources = kept
	c.frame = t1
	c.mu.Unlock()

	for i, v := range out {
		if v > 1 {
			out[i] = 1
		} else if v < -1 {
			out[i] = -1
		}
	}
	for _, fn := range ended {
		fn()
	}
}

// Advance moves the clock forward without mixing. Input contexts use it to
// timestamp captured frames.
func (c *Context) Advance(frames int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed && frames > 0 {
		c.frame += int64(frames)
	}
}

// AttachSink starts sink on this context; the sink is stopped by Close.
func (c *Context) AttachSink(sink Sink) error {
	closer, err := sink.Start(c)
	if err != nil {
		return fmt.Errorf("audio: start sink: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = closer.Close()
		return ErrContextClosed
	}
	old := c.driver
	c.driver = closer
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close stops every source without firing ended callbacks, disconnects the
// remaining graph nodes and stops the attached sink. Calling Close again
// returns ErrContextClosed.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrContextClosed
	}
	c.closed = true
	for _, s := range c.sources {
		s.done = true
	}
	c.sources = nil
	nodes := make([]*Node, 0, len(c.nodes))
	for n := range c.nodes {
		nodes = append(nodes, n)
	}
	driver := c.driver
	c.driver = nil
	c.mu.Unlock()

	for _, n := range nodes {
		n.Disconnect()
	}
	if driver != nil {
		return driver.Close()
	}
	return nil
}

type source struct {
	ctx     *Context
	buf     *Buffer
	start   int64
	onEnded func()
	done    bool
}

func (s *source) Start() float64 {
	return float64(s.start) / float64(s.ctx.sampleRate)
}

func (s *source) Stop() {
	c := s.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	for i, other := range c.sources {
		if other == s {
			c.sources = append(c.sources[:i], c.sources[i+1:]...)
			break
		}
	}
}
