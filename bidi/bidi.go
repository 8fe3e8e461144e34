// Package bidi implements transport.Dialer by speaking the Gemini Live
// BidiGenerateContent protocol directly: JSON frames over a WebSocket.
//
// The handshake sends a setup message and waits for setupComplete before Dial
// returns. Outbound audio travels as realtimeInput media chunks whose data is
// the caller's base64 payload, so nothing is re-encoded on the way out.
package bidi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/room4-2/livevoice/transport"
)

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

const (
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	endpoint       = "google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultKeepalive = 20 * time.Second
	keepaliveTimeout = 5 * time.Second

	// Inbound audio chunks exceed the library's 32KiB default.
	readLimit = 8 << 20
)

// ErrSetup is returned when the server rejects or abandons the handshake.
var ErrSetup = errors.New("bidi: setup failed")

// Option configures a Dialer.
type Option func(*Dialer)

// WithBaseURL overrides the base WebSocket URL. Used in tests to point at a
// local server.
func WithBaseURL(u string) Option {
	return func(d *Dialer) { d.baseURL = strings.TrimRight(u, "/") }
}

// WithKeepalive sets the ping period. Zero disables pings.
func WithKeepalive(period time.Duration) Option {
	return func(d *Dialer) { d.keepalive = period }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dialer) { d.log = l }
}

// Dialer opens raw Live sessions.
type Dialer struct {
	apiKey    string
	baseURL   string
	keepalive time.Duration
	log       *slog.Logger
}

// New creates a Dialer authenticating with apiKey.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:    apiKey,
		baseURL:   defaultBaseURL,
		keepalive: defaultKeepalive,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dialer) url() string {
	return fmt.Sprintf("%s/%s?key=%s", d.baseURL, endpoint, url.QueryEscape(d.apiKey))
}

// Dial connects, sends the setup message and waits for setupComplete.
func (d *Dialer) Dial(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	ws, _, err := websocket.Dial(ctx, d.url(), nil)
	if err != nil {
		return nil, fmt.Errorf("bidi: dial: %w", err)
	}
	ws.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:       ws,
		mimeType: cfg.InputMIMEType,
		log:      d.log,
		ctx:      connCtx,
		cancel:   cancel,
	}

	if err := c.writeJSON(ctx, newSetup(cfg)); err != nil {
		c.abort("setup failed")
		return nil, fmt.Errorf("bidi: send setup: %w", err)
	}
	if err := c.awaitSetup(ctx); err != nil {
		c.abort("setup failed")
		return nil, err
	}

	if d.keepalive > 0 {
		go c.keepaliveLoop(d.keepalive)
	}
	d.log.Info("✅ connected to Gemini Live via raw protocol", "model", cfg.Model)
	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string               `json:"model"`
	GenerationConfig         generationConfig     `json:"generationConfig"`
	SystemInstruction        *content             `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *transcriptionConfig `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *transcriptionConfig `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type transcriptionConfig struct{}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

func newSetup(cfg transport.Config) setupMessage {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := setupMessage{Setup: setupConfig{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &transcriptionConfig{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &transcriptionConfig{}
	}
	return msg
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
	Error         *serverError   `json:"error,omitempty"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

func (sc *serverContent) message() *transport.Message {
	msg := &transport.Message{
		TurnComplete: sc.TurnComplete,
		Interrupted:  sc.Interrupted,
	}
	if sc.InputTranscription != nil {
		msg.InputTranscription = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		msg.OutputTranscription = sc.OutputTranscription.Text
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				msg.Audio = append(msg.Audio, p.InlineData.Data)
			}
		}
	}
	return msg
}

// ── Conn ──────────────────────────────────────────────────────────────────────

// Conn is one raw Live session.
type Conn struct {
	ws       *websocket.Conn
	mimeType string
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	listenOnce sync.Once
	mu         sync.Mutex
	closed     bool
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("bidi: marshal: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) read(ctx context.Context) (*serverMessage, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	var msg serverMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		c.log.Warn("⚠️ skipping malformed server frame", "error", err)
		return nil, nil
	}
	return &msg, nil
}

func (c *Conn) awaitSetup(ctx context.Context) error {
	for {
		msg, err := c.read(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSetup, err)
		}
		switch {
		case msg == nil:
		case msg.Error != nil:
			return fmt.Errorf("%w: %s", ErrSetup, msg.Error.Message)
		case msg.SetupComplete != nil:
			return nil
		}
	}
}

// Listen implements transport.Conn.
func (c *Conn) Listen(h transport.Handler) {
	c.listenOnce.Do(func() {
		go c.receiveLoop(h)
	})
}

func (c *Conn) receiveLoop(h transport.Handler) {
	for {
		msg, err := c.read(c.ctx)
		if c.isClosed() {
			return
		}
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				h(transport.Event{Kind: transport.EventClose, Reason: closeReason(err)})
			default:
				c.log.Error("❌ Gemini receive error", "error", err)
				h(transport.Event{Kind: transport.EventError, Err: fmt.Errorf("bidi: receive: %w", err)})
			}
			return
		}
		if msg == nil {
			continue
		}

		if msg.Error != nil {
			h(transport.Event{Kind: transport.EventError, Err: fmt.Errorf("bidi: server error %d: %s", msg.Error.Code, msg.Error.Message)})
			return
		}
		if msg.GoAway != nil {
			c.log.Warn("⚠️ Gemini is going away", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent != nil {
			h(transport.Event{Kind: transport.EventMessage, Message: msg.ServerContent.message()})
		}
	}
}

func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// keepaliveLoop sends WebSocket pings to keep the connection alive.
func (c *Conn) keepaliveLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			if err := c.ws.Ping(pingCtx); err != nil && c.ctx.Err() == nil {
				c.log.Debug("⚠️ keepalive ping failed", "error", err)
			}
			cancel()
		}
	}
}

// SendMedia implements transport.Conn. data is sent as-is.
func (c *Conn) SendMedia(data string) error {
	if c.isClosed() {
		return transport.ErrClosed
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: c.mimeType, Data: data}},
		},
	}
	if err := c.writeJSON(c.ctx, msg); err != nil {
		if c.isClosed() {
			return transport.ErrClosed
		}
		return fmt.Errorf("bidi: send media: %w", err)
	}
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) abort(reason string) {
	c.cancel()
	c.ws.Close(websocket.StatusInternalError, reason)
}

// Close terminates the session. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel() // unblocks receiveLoop and keepaliveLoop
	c.ws.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
