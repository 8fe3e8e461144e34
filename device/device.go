// Package device binds the capture and playback abstractions to the host's
// default audio devices through PortAudio.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/room4-2/livevoice/audio"
	"github.com/room4-2/livevoice/capture"
)

var (
	_ capture.Microphone = (*Microphone)(nil)
	_ audio.Sink         = (*Speaker)(nil)
)

// releases tracks input streams still being closed in the background.
var releases sync.WaitGroup

// Init initializes PortAudio. The returned func waits for pending stream
// releases and terminates it.
func Init() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initialize portaudio: %w", err)
	}
	return func() {
		releases.Wait()
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("⚠️ portaudio terminate failed", "error", err)
		}
	}, nil
}

// Microphone opens the default input device.
type Microphone struct {
	log *slog.Logger
}

// NewMicrophone creates a Microphone.
func NewMicrophone(logger *slog.Logger) *Microphone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Microphone{log: logger}
}

// Open implements capture.Microphone. A missing device or a refused stream
// is reported as capture.ErrPermissionDenied.
func (m *Microphone) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.SampleRate <= 0 || c.Channels <= 0 || c.BlockSize <= 0 {
		return nil, fmt.Errorf("device: invalid constraints %+v", c)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrPermissionDenied, err)
	}

	buf := make([]float32, c.BlockSize*c.Channels)
	stream, err := portaudio.OpenDefaultStream(c.Channels, 0, float64(c.SampleRate), c.BlockSize, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: %w", capture.ErrPermissionDenied, err)
	}

	// The caller may have given up while the device was negotiated.
	if err := ctx.Err(); err != nil {
		stream.Stop()
		stream.Close()
		return nil, err
	}

	m.log.Info("🎤 microphone opened", "device", dev.Name, "sample_rate", c.SampleRate, "block", c.BlockSize)
	return &inputStream{stream: stream, buf: buf, label: dev.Name, log: m.log}, nil
}

// blockingStream is the part of *portaudio.Stream an input stream uses.
type blockingStream interface {
	Read() error
	Stop() error
	Close() error
}

// inputStream is a blocking PortAudio input stream. It is its own single
// track.
type inputStream struct {
	stream blockingStream
	buf    []float32
	label  string
	log    *slog.Logger

	// readMu keeps Stop from closing the stream under an in-flight Read.
	readMu   sync.Mutex
	stopped  atomic.Bool
	stopOnce sync.Once
}

func (s *inputStream) Read(block []float32) error {
	if s.stopped.Load() {
		return capture.ErrStreamStopped
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.stopped.Load() {
		return capture.ErrStreamStopped
	}

	if len(block) != len(s.buf) {
		return fmt.Errorf("device: read block of %d samples, stream delivers %d", len(block), len(s.buf))
	}
	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			s.log.Debug("🎤 input overflowed")
		} else {
			return fmt.Errorf("device: read: %w", err)
		}
	}
	copy(block, s.buf)
	return nil
}

func (s *inputStream) Tracks() []capture.Track { return []capture.Track{s} }

func (s *inputStream) Label() string { return s.label }

// Stop marks the stream stopped and returns at once. The device is closed in
// the background once any in-flight Read has returned.
func (s *inputStream) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		releases.Add(1)
		go func() {
			defer releases.Done()
			s.readMu.Lock()
			defer s.readMu.Unlock()
			if err := errors.Join(s.stream.Stop(), s.stream.Close()); err != nil {
				s.log.Warn("⚠️ failed to close input stream", "device", s.label, "error", err)
			}
		}()
	})
	return nil
}

// Speaker renders an output audio context to the default output device.
type Speaker struct {
	// FramesPerBuffer is the callback block size. Zero lets PortAudio pick.
	FramesPerBuffer int
	log             *slog.Logger
}

// NewSpeaker creates a Speaker.
func NewSpeaker(logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{FramesPerBuffer: 1024, log: logger}
}

// Start implements audio.Sink.
func (s *Speaker) Start(ctx *audio.Context) (io.Closer, error) {
	render := func(out []float32) { ctx.Render(out) }
	frames := s.FramesPerBuffer
	if frames <= 0 {
		frames = portaudio.FramesPerBufferUnspecified
	}

	stream, err := portaudio.OpenDefaultStream(0, ctx.Channels(), float64(ctx.SampleRate()), frames, render)
	if err != nil {
		return nil, fmt.Errorf("device: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("device: start output stream: %w", err)
	}
	s.log.Info("🔊 speaker started", "sample_rate", ctx.SampleRate())
	return &outputStream{stream: stream}, nil
}

type outputStream struct {
	stream *portaudio.Stream
	once   sync.Once
}

func (o *outputStream) Close() error {
	var err error
	o.once.Do(func() {
		err = errors.Join(o.stream.Stop(), o.stream.Close())
	})
	return err
}
