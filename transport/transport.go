// Package transport defines the duplex connection to a remote live audio
// model. Implementations live in the gemini (SDK) and bidi (raw protocol)
// packages.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("transport closed")

// Config describes the live session requested from the remote model. The
// response modality is always audio.
type Config struct {
	Model             string
	SystemInstruction string
	Voice             string
	// InputMIMEType is announced with every outbound media chunk.
	InputMIMEType       string
	InputTranscription  bool
	OutputTranscription bool
}

// EventKind enumerates transport events.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one transport occurrence.
type Event struct {
	Kind    EventKind
	Message *Message
	Err     error
	// Reason carries the close reason for EventClose.
	Reason string
}

// Message is an inbound server message reduced to the fields a voice session
// consumes.
type Message struct {
	InputTranscription  string
	OutputTranscription string
	TurnComplete        bool
	Interrupted         bool
	// Audio holds base64 PCM payloads in part order.
	Audio []string
}

// Handler receives inbound events in order.
type Handler func(Event)

// Dialer opens connections.
type Dialer interface {
	// Dial performs the handshake and returns an open connection. No events
	// are delivered until Listen is called.
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

// Conn is an open duplex connection.
type Conn interface {
	// Listen starts delivering EventMessage, EventError and EventClose to h
	// from a single goroutine. It must be called at most once.
	Listen(h Handler)
	// SendMedia sends one base64 PCM chunk.
	SendMedia(data string) error
	// Close shuts the connection down without waiting for the listener to
	// exit, so it is safe to call from inside h. Events after Close are
	// suppressed. Idempotent.
	Close() error
}
