package audio_test

import (
	"errors"
	"io"
	"testing"

	"github.com/room4-2/livevoice/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(t *testing.T, rate, channels int) *audio.Context {
	t.Helper()
	ctx, err := audio.NewContext(rate, channels)
	require.NoError(t, err)
	return ctx
}

func constBuffer(rate, frames int, v float32) *audio.Buffer {
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = v
	}
	return &audio.Buffer{Samples: samples, SampleRate: rate, Channels: 1}
}

func TestNewContext_InvalidFormat(t *testing.T) {
	_, err := audio.NewContext(0, 1)
	assert.Error(t, err)
	_, err = audio.NewContext(16000, 0)
	assert.Error(t, err)
}

func TestBuffer_Duration(t *testing.T) {
	buf := &audio.Buffer{Samples: make([]float32, 4800), SampleRate: 24000, Channels: 2}
	assert.Equal(t, 2400, buf.Frames())
	assert.InDelta(t, 0.1, buf.Duration(), 1e-9)

	var nilBuf *audio.Buffer
	assert.Zero(t, nilBuf.Duration())
}

func TestContext_RenderAdvancesClock(t *testing.T) {
	ctx := newContext(t, 10, 1)
	assert.Zero(t, ctx.CurrentTime())

	ctx.Render(make([]float32, 5))
	assert.InDelta(t, 0.5, ctx.CurrentTime(), 1e-9)
}

func TestContext_PlayAtOffset(t *testing.T) {
	ctx := newContext(t, 10, 1)

	ended := 0
	_, err := ctx.Play(constBuffer(10, 3, 0.5), 0.2, func() { ended++ })
	require.NoError(t, err)

	out := make([]float32, 4)
	ctx.Render(out)
	assert.Equal(t, []float32{0, 0, 0.5, 0.5}, out)
	assert.Zero(t, ended)

	ctx.Render(out)
	assert.Equal(t, []float32{0.5, 0, 0, 0}, out)
	assert.Equal(t, 1, ended)
	assert.Zero(t, ctx.Active())
}

func TestContext_MixesAndClamps(t *testing.T) {
	ctx := newContext(t, 10, 1)
	_, err := ctx.Play(constBuffer(10, 2, 0.75), 0, nil)
	require.NoError(t, err)
	_, err = ctx.Play(constBuffer(10, 2, 0.75), 0, nil)
	require.NoError(t, err)

	out := make([]float32, 2)
	ctx.Render(out)
	assert.Equal(t, []float32{1, 1}, out)
}

func TestContext_PastStartIsClampedToNow(t *testing.T) {
	ctx := newContext(t, 10, 1)
	ctx.Render(make([]float32, 10))

	_, err := ctx.Play(constBuffer(10, 1, 0.25), 0, nil)
	require.NoError(t, err)

	out := make([]float32, 1)
	ctx.Render(out)
	assert.Equal(t, []float32{0.25}, out)
}

func TestContext_StoppedSourceNeverEnds(t *testing.T) {
	ctx := newContext(t, 10, 1)
	ended := false
	src, err := ctx.Play(constBuffer(10, 2, 0.5), 0, func() { ended = true })
	require.NoError(t, err)

	src.Stop()
	src.Stop()

	out := make([]float32, 4)
	ctx.Render(out)
	assert.Equal(t, []float32{0, 0, 0, 0}, out)
	assert.False(t, ended)
}

func TestContext_FormatMismatch(t *testing.T) {
	ctx := newContext(t, 24000, 1)
	_, err := ctx.Play(constBuffer(16000, 10, 0), 0, nil)
	assert.True(t, errors.Is(err, audio.ErrFormatMismatch))
}

func TestContext_CloseIsIdempotent(t *testing.T) {
	ctx := newContext(t, 10, 1)
	ended := false
	_, err := ctx.Play(constBuffer(10, 2, 0.5), 0, func() { ended = true })
	require.NoError(t, err)

	disconnected := 0
	_, err = ctx.NewNode("tap", func() { disconnected++ })
	require.NoError(t, err)

	require.NoError(t, ctx.Close())
	assert.ErrorIs(t, ctx.Close(), audio.ErrContextClosed)
	assert.True(t, ctx.Closed())
	assert.Equal(t, 1, disconnected)
	assert.Zero(t, ctx.Nodes())

	ctx.Render(make([]float32, 4))
	assert.False(t, ended)

	_, err = ctx.Play(constBuffer(10, 1, 0), 0, nil)
	assert.ErrorIs(t, err, audio.ErrContextClosed)
	_, err = ctx.NewNode("late", nil)
	assert.ErrorIs(t, err, audio.ErrContextClosed)
}

func TestNode_DisconnectOnce(t *testing.T) {
	ctx := newContext(t, 10, 1)
	calls := 0
	n, err := ctx.NewNode("source", func() { calls++ })
	require.NoError(t, err)
	assert.Equal(t, "source", n.Name())
	assert.Equal(t, 1, ctx.Nodes())

	n.Disconnect()
	n.Disconnect()
	assert.Equal(t, 1, calls)
	assert.Zero(t, ctx.Nodes())
}

type fakeSink struct {
	started int
	closed  int
}

func (s *fakeSink) Start(*audio.Context) (io.Closer, error) {
	s.started++
	return closerFunc(func() error { s.closed++; return nil }), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestContext_AttachSinkStoppedOnClose(t *testing.T) {
	ctx := newContext(t, 10, 1)
	sink := &fakeSink{}
	require.NoError(t, ctx.AttachSink(sink))
	assert.Equal(t, 1, sink.started)

	require.NoError(t, ctx.Close())
	_ = ctx.Close()
	assert.Equal(t, 1, sink.closed)

	assert.ErrorIs(t, ctx.AttachSink(sink), audio.ErrContextClosed)
	assert.Equal(t, 2, sink.closed)
}

func TestContext_AdvanceOnlyMovesClock(t *testing.T) {
	ctx := newContext(t, 16000, 1)
	ctx.Advance(4096)
	assert.InDelta(t, 0.256, ctx.CurrentTime(), 1e-9)
	ctx.Advance(-1)
	assert.InDelta(t, 0.256, ctx.CurrentTime(), 1e-9)
}
