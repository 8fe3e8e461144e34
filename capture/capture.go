// Package capture taps a microphone stream and emits fixed-size frames.
//
// The Bridge owns everything it acquires for one capture: the media stream,
// its hardware tracks, and the two graph nodes it registers on the input
// audio context. Frames are delivered as soon as they are read, regardless
// of whether the consumer can transmit them; buffering is the consumer's job.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/room4-2/livevoice/audio"
)

// ErrPermissionDenied is returned when microphone access is refused or no
// input device is available.
var ErrPermissionDenied = errors.New("microphone permission denied")

// ErrStreamStopped is returned by Stream.Read once its tracks are stopped.
var ErrStreamStopped = errors.New("media stream stopped")

// Constraints select the stream format and processing block size.
type Constraints struct {
	SampleRate int
	Channels   int
	// BlockSize is the number of sample frames per emitted frame.
	BlockSize int
}

func (c Constraints) validate() error {
	if c.SampleRate <= 0 || c.Channels <= 0 || c.BlockSize <= 0 {
		return fmt.Errorf("capture: invalid constraints %+v", c)
	}
	return nil
}

// Microphone grants access to an input device.
type Microphone interface {
	// Open requests the microphone. It may block while access is negotiated
	// and must honour ctx cancellation.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open microphone stream.
type Stream interface {
	// Read blocks until len(block) interleaved samples are available.
	Read(block []float32) error
	// Tracks returns the hardware tracks backing the stream.
	Tracks() []Track
}

// Track is one hardware input track.
type Track interface {
	Label() string
	Stop() error
}

// Bridge starts captures from a Microphone.
type Bridge struct {
	mic         Microphone
	constraints Constraints
	log         *slog.Logger
}

// NewBridge creates a bridge for mic.
func NewBridge(mic Microphone, c Constraints, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{mic: mic, constraints: c, log: logger}
}

// Start acquires the microphone and begins tapping it. onFrame is invoked from
// the tap goroutine for every block; onError is invoked at most once if the
// stream fails after start. If Start fails, everything it acquired has
// already been released.
func (b *Bridge) Start(ctx context.Context, input *audio.Context, onFrame func(audio.Frame), onError func(error)) (*Handle, error) {
	if err := b.constraints.validate(); err != nil {
		return nil, err
	}

	h := &Handle{log: b.log}

	stream, err := b.mic.Open(ctx, b.constraints)
	if err != nil {
		return nil, fmt.Errorf("capture: open microphone: %w", err)
	}
	h.stream = stream

	h.source, err = input.NewNode("media-stream-source", nil)
	if err != nil {
		h.Stop()
		return nil, fmt.Errorf("capture: create source node: %w", err)
	}

	tapCtx, cancel := context.WithCancel(context.Background())
	h.processor, err = input.NewNode("frame-tap", cancel)
	if err != nil {
		cancel()
		h.Stop()
		return nil, fmt.Errorf("capture: create processor node: %w", err)
	}

	go h.tap(tapCtx, input, b.constraints, onFrame, onError)
	return h, nil
}

// Handle releases one capture.
type Handle struct {
	log *slog.Logger

	stream    Stream
	source    *audio.Node
	processor *audio.Node

	stopOnce sync.Once
}

func (h *Handle) tap(ctx context.Context, input *audio.Context, c Constraints, onFrame func(audio.Frame), onError func(error)) {
	block := make([]float32, c.BlockSize*c.Channels)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := h.stream.Read(block); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrStreamStopped) {
				return
			}
			h.log.Warn("🎤 microphone read failed", "error", err)
			if onError != nil {
				onError(fmt.Errorf("capture: read: %w", err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		samples := make([]float32, len(block))
		copy(samples, block)
		frame := audio.Frame{
			Samples:    samples,
			SampleRate: c.SampleRate,
			Channels:   c.Channels,
			Time:       input.CurrentTime(),
			CapturedAt: time.Now(),
		}
		input.Advance(c.BlockSize)
		onFrame(frame)
	}
}

// Stop disconnects the graph nodes and stops every hardware track. It is
// safe on a partially started handle and idempotent.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		if h.processor != nil {
			h.processor.Disconnect()
		}
		if h.source != nil {
			h.source.Disconnect()
		}
		if h.stream == nil {
			return
		}
		for _, track := range h.stream.Tracks() {
			if err := track.Stop(); err != nil {
				h.log.Warn("🎤 failed to stop track", "track", track.Label(), "error", err)
			}
		}
	})
}
