// Package gemini implements transport.Dialer on the Gemini Live API using the
// official google.golang.org/genai SDK.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/room4-2/livevoice/transport"
	"google.golang.org/genai"
)

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// liveSession is the subset of *genai.Session used by Conn.
type liveSession interface {
	Receive() (*genai.LiveServerMessage, error)
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Close() error
}

// Dialer opens Live sessions through the SDK.
type Dialer struct {
	client *genai.Client
	log    *slog.Logger
}

// NewDialer creates the GenAI client used for every session.
func NewDialer(ctx context.Context, apiKey string, logger *slog.Logger) (*Dialer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Dialer{client: client, log: logger}, nil
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	session, err := d.client.Live.Connect(ctx, cfg.Model, ConnectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}
	d.log.Info("✅ connected to Gemini Live via SDK", "model", cfg.Model)
	return newConn(session, cfg.InputMIMEType, d.log), nil
}

// ConnectConfig builds the audio-only Live configuration for cfg.
func ConnectConfig(cfg transport.Config) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.SystemInstruction != "" {
		lc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.InputTranscription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return lc
}

// Conn is one Live session.
type Conn struct {
	session  liveSession
	mimeType string
	log      *slog.Logger

	listenOnce sync.Once
	closeOnce  sync.Once
	closed     atomic.Bool
}

func newConn(session liveSession, mimeType string, logger *slog.Logger) *Conn {
	return &Conn{session: session, mimeType: mimeType, log: logger}
}

// Listen implements transport.Conn.
func (c *Conn) Listen(h transport.Handler) {
	c.listenOnce.Do(func() {
		go c.receive(h)
	})
}

func (c *Conn) receive(h transport.Handler) {
	for {
		// Receive blocks until a message arrives or error occurs
		resp, err := c.session.Receive()
		if c.closed.Load() {
			return
		}
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h(transport.Event{Kind: transport.EventClose, Reason: closeReason(err)})
				return
			}
			c.log.Error("❌ Gemini receive error", "error", err)
			h(transport.Event{Kind: transport.EventError, Err: fmt.Errorf("gemini: receive: %w", err)})
			return
		}

		if resp.GoAway != nil {
			c.log.Warn("⚠️ Gemini is going away", "time_left", resp.GoAway.TimeLeft)
		}
		if msg := ConvertMessage(resp); msg != nil {
			h(transport.Event{Kind: transport.EventMessage, Message: msg})
		}
	}
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Text
	}
	return ""
}

// ConvertMessage reduces a server message to the fields a voice session
// consumes. It returns nil when there is nothing to deliver.
func ConvertMessage(resp *genai.LiveServerMessage) *transport.Message {
	if resp == nil || resp.ServerContent == nil {
		return nil
	}
	sc := resp.ServerContent

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
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil {
				continue
			}
			// SDK provides raw bytes in InlineData.Data
			msg.Audio = append(msg.Audio, base64.StdEncoding.EncodeToString(part.InlineData.Data))
		}
	}

	if msg.InputTranscription == "" && msg.OutputTranscription == "" &&
		!msg.TurnComplete && !msg.Interrupted && len(msg.Audio) == 0 {
		return nil
	}
	return msg
}

// SendMedia implements transport.Conn.
func (c *Conn) SendMedia(data string) error {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("invalid base64: %w", err)
	}

	if c.closed.Load() {
		return transport.ErrClosed
	}

	err = c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: c.mimeType,
			Data:     raw,
		},
	})
	if err != nil {
		// A send cut short by Close fails on the closed socket.
		if c.closed.Load() {
			return transport.ErrClosed
		}
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// Close terminates the Live session without waiting for an in-flight send.
// Receive errors caused by it are not reported.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.session.Close()
	})
	return err
}
