// Package codec converts between float32 audio samples and the wire format of
// the live model endpoint: 16-bit signed little-endian PCM framed as base64.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/room4-2/livevoice/audio"
)

const bytesPerSample = 2

var (
	// ErrMisalignedPayload is returned when decoded bytes are not a whole
	// number of sample frames.
	ErrMisalignedPayload = errors.New("pcm payload not aligned to frame size")
	// ErrInvalidEncoding is returned for payloads that are not valid base64.
	ErrInvalidEncoding = errors.New("invalid base64 audio payload")
	// ErrInvalidFormat is returned for non-positive sample rates or channel counts.
	ErrInvalidFormat = errors.New("invalid audio format")
)

// MIMEType returns the MIME type announced for PCM16 audio at sampleRate.
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// Encode clamps samples to [-1, 1], converts them to PCM16 and returns the
// base64 text form.
func Encode(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM(samples))
}

// EncodePCM converts samples to 16-bit little-endian PCM.
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(toInt16(s)))
	}
	return out
}

// Decode reverses the base64 framing and decodes the PCM bytes into a buffer
// at the declared sample rate and channel count.
func Decode(data string, sampleRate, channels int) (*audio.Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return DecodePCM(raw, sampleRate, channels)
}

// DecodePCM decodes 16-bit little-endian PCM. len(raw) must be a multiple of
// the frame size (2 bytes per channel).
func DecodePCM(raw []byte, sampleRate, channels int) (*audio.Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: %d Hz x %d", ErrInvalidFormat, sampleRate, channels)
	}
	frameSize := bytesPerSample * channels
	if len(raw)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes, frame size %d", ErrMisalignedPayload, len(raw), frameSize)
	}

	samples := make([]float32, len(raw)/bytesPerSample)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(raw[i*bytesPerSample:]))
		samples[i] = fromInt16(s)
	}
	return &audio.Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

func toInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	// NaN fails both comparisons above; treat it as silence.
	if s != s {
		return 0
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

func fromInt16(s int16) float32 {
	if s < 0 {
		return float32(s) / 32768
	}
	return float32(s) / 32767
}
