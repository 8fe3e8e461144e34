package bidi

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/room4-2/livevoice/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

// startServer runs handler for the single WebSocket connection it accepts.
func startServer(t *testing.T, handler func(ctx context.Context, ws *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.True(t, strings.HasSuffix(r.URL.Path, endpoint))

		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer ws.CloseNow()
		handler(r.Context(), ws)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readJSON(t *testing.T, ctx context.Context, ws *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, sonic.Unmarshal(data, &m))
	return m
}

func writeJSON(t *testing.T, ctx context.Context, ws *websocket.Conn, v any) {
	t.Helper()
	data, err := sonic.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, ws.Write(ctx, websocket.MessageText, data))
}

// handshake consumes the setup message and acknowledges it.
func handshake(t *testing.T, ctx context.Context, ws *websocket.Conn) map[string]any {
	t.Helper()
	setup := readJSON(t, ctx, ws)
	writeJSON(t, ctx, ws, map[string]any{"setupComplete": map[string]any{}})
	return setup
}

// drain reads until the client goes away.
func drain(ctx context.Context, ws *websocket.Conn) {
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

func dial(t *testing.T, srv *httptest.Server, cfg transport.Config) *Conn {
	t.Helper()
	d := New("test-key",
		WithBaseURL(wsURL(srv)),
		WithKeepalive(0),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := d.Dial(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn.(*Conn)
}

func collect(c *Conn) <-chan transport.Event {
	events := make(chan transport.Event, 8)
	c.Listen(func(ev transport.Event) { events <- ev })
	return events
}

func next(t *testing.T, events <-chan transport.Event) transport.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return transport.Event{}
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDial_SendsSetup(t *testing.T) {
	setupCh := make(chan map[string]any, 1)
	srv := startServer(t, func(ctx context.Context, ws *websocket.Conn) {
		setupCh <- handshake(t, ctx, ws)
		drain(ctx, ws)
	})

	dial(t, srv, transport.Config{
		Model:               "gemini-test",
		SystemInstruction:   "be brief",
		Voice:               "Puck",
		InputMIMEType:       "audio/pcm;rate=16000",
		InputTranscription:  true,
		OutputTranscription: true,
	})

	msg := <-setupCh
	setup, ok := msg["setup"].(map[string]any)
	require.True(t, ok, "setup message missing")
	assert.Equal(t, "models/gemini-test", setup["model"])

	gen := setup["generationConfig"].(map[string]any)
	assert.Equal(t, []any{"AUDIO"}, gen["responseModalities"])
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)
	assert.Equal(t, "Puck", voice["voiceName"])

	parts := setup["systemInstruction"].(map[string]any)["parts"].([]any)
	assert.Equal(t, "be brief", parts[0].(map[string]any)["text"])
	assert.Contains(t, setup, "inputAudioTranscription")
	assert.Contains(t, setup, "outputAudioTranscription")
}

func TestDial_BareSetupOmitsOptionalFields(t *testing.T) {
	msg := newSetup(transport.Config{Model: "models/m"})
	raw, err := sonic.Marshal(msg)
	require.NoError(t, err)

	assert.JSONEq(t, `{"setup":{"model":"models/m","generationConfig":{"responseModalities":["AUDIO"]}}}`, string(raw))
}

func TestDial_ServerErrorFailsSetup(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, ws *websocket.Conn) {
		readJSON(t, ctx, ws)
		writeJSON(t, ctx, ws, map[string]any{"error": map[string]any{"code": 400, "message": "bad model"}})
		drain(ctx, ws)
	})

	d := New("test-key", WithBaseURL(wsURL(srv)), WithLogger(slog.New(slog.DiscardHandler)))
	_, err := d.Dial(context.Background(), transport.Config{Model: "nope"})
	require.ErrorIs(t, err, ErrSetup)
	assert.Contains(t, err.Error(), "bad model")
}

func TestDial_CloseBeforeSetupFails(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, ws *websocket.Conn) {
		readJSON(t, ctx, ws)
		ws.Close(websocket.StatusPolicyViolation, "unauthorized")
	})

	d := New("test-key", WithBaseURL(wsURL(srv)), WithLogger(slog.New(slog.DiscardHandler)))
	_, err := d.Dial(context.Background(), transport.Config{Model: "m"})
	assert.ErrorIs(t, err, ErrSetup)
}

func TestDial_Unreachable(t *testing.T) {
	d := New("test-key", WithBaseURL("ws://127.0.0.1:1"), WithLogger(slog.New(slog.DiscardHandler)))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := d.Dial(ctx, transport.Config{Model: "m"})
	assert.Error(t, err)
}

func TestConn_DeliversServerContent(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, ws *websocket.Conn) {
		handshake(t, ctx, ws)
		writeJSON(t, ctx, ws, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AQA="}},
				map[string]any{"text": "ignored"},
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AgA="}},
			}},
			"outputTranscription": map[string]any{"text": "Hi"},
		}})
		writeJSON(t, ctx, ws, map[string]any{"goAway": map[string]any{"timeLeft": "10s"}})
		writeJSON(t, ctx, ws, map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "hello"},
			"turnComplete":       true,
		}})
		drain(ctx, ws)
	})

	c := dial(t, srv, transport.Config{Model: "m"})
	events := collect(c)

	first := next(t, events)
	require.Equal(t, transport.EventMessage, first.Kind)
	assert.Equal(t, []string{"AQA=", "AgA="}, first.Message.Audio)
	assert.Equal(t, "Hi", first.Message.OutputTranscription)
	assert.False(t, first.Message.TurnComplete)

	second := next(t, events)
	require.Equal(t, transport.EventMessage, second.Kind)
	assert.Equal(t, "hello", second.Message.InputTranscription)
	assert.True(t, second.Message.TurnComplete)
	assert.Empty(t, second.Message.Audio)
}

func TestConn_InterruptedFlag(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, ws *websocket.Conn) {
		handshake(t, ctx, ws)
		writeJSON(t, ctx, ws, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		drain(ctx, ws)
	})

	c := dial(t, srv, transport.Config{Model: "m"})
	ev := next(t, collect(c))
	require.Equal(t, transport.EventMessage, ev.Kind)
	assert.True(t, ev.Message.Interrupted)
}

func TestConn_NormalClosureIsCloseEvent(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, ws *websocket.Conn) {
		handshake(t, ctx, ws)
		ws.Close(websocket.StatusNormalClosure, "session ended")
	})

	c := dial(t, srv, transport.Config{Model: "m"})
	ev := next(t, collect(c))
	assert.Equal(t, transport.EventClose, ev.Kind)
	assert.Equal(t, "session ended", ev.Reason)
}

func TestConn_AbnormalClosureIsErrorEvent(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, ws *websocket.Conn) {
		handshake(t, ctx, ws)
		ws.Close(websocket.StatusInternalError, "quota")
	})

	c := dial(t, srv, transport.Config{Model: "m"})
	ev := next(t, collect(c))
	assert.Equal(t, transport.EventError, ev.Kind)
	assert.Equal(t, websocket.StatusInternalError, websocket.CloseStatus(ev.Err))
}

func TestConn_ServerErrorFrameIsErrorEvent(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, ws *websocket.Conn) {
		handshake(t, ctx, ws)
		writeJSON(t, ctx, ws, map[string]any{"error": map[string]any{"code": 429, "message": "quota exceeded"}})
		drain(ctx, ws)
	})

	c := dial(t, srv, transport.Config{Model: "m"})
	ev := next(t, collect(c))
	require.Equal(t, transport.EventError, ev.Kind)
	assert.Contains(t, ev.Err.Error(), "quota exceeded")
}

func TestConn_SendMedia(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := startServer(t, func(ctx context.Context, ws *websocket.Conn) {
		handshake(t, ctx, ws)
		received <- readJSON(t, ctx, ws)
		drain(ctx, ws)
	})

	c := dial(t, srv, transport.Config{Model: "m", InputMIMEType: "audio/pcm;rate=16000"})
	require.NoError(t, c.SendMedia("AQIDBA=="))

	var msg map[string]any
	select {
	case msg = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("server got nothing")
	}
	chunks := msg["realtimeInput"].(map[string]any)["mediaChunks"].([]any)
	require.Len(t, chunks, 1)
	chunk := chunks[0].(map[string]any)
	assert.Equal(t, "audio/pcm;rate=16000", chunk["mimeType"])
	assert.Equal(t, "AQIDBA==", chunk["data"])
}

func TestConn_CloseIsIdempotentAndSilent(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, ws *websocket.Conn) {
		handshake(t, ctx, ws)
		drain(ctx, ws)
	})

	c := dial(t, srv, transport.Config{Model: "m"})
	events := collect(c)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.SendMedia("AAAA"), transport.ErrClosed)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event after close: %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConn_KeepalivePings(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, ws *websocket.Conn) {
		handshake(t, ctx, ws)
		drain(ctx, ws) // answers pings
	})

	d := New("test-key",
		WithBaseURL(wsURL(srv)),
		WithKeepalive(10*time.Millisecond),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	conn, err := d.Dial(context.Background(), transport.Config{Model: "m"})
	require.NoError(t, err)
	c := conn.(*Conn)
	events := collect(c)

	time.Sleep(60 * time.Millisecond)
	select {
	case ev := <-events:
		t.Fatalf("keepalive produced event: %v", ev.Kind)
	default:
	}
	require.NoError(t, c.Close())
}
