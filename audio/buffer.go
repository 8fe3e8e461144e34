// Package audio provides the in-process audio graph used by a voice session:
// decoded buffers, captured frames, and a Context that acts as a sample clock
// and mixer for scheduled playback.
package audio

import "time"

// Buffer holds decoded, interleaved float32 samples ready for playback.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Frame is one fixed-size block of captured microphone samples.
type Frame struct {
	Samples    []float32
	SampleRate int
	Channels   int

	// Time is the input context time at which the first sample was captured.
	Time float64
	// CapturedAt is the wall clock time the block became available.
	CapturedAt time.Time
}
