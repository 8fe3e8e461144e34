package messages

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/room4-2/livevoice/transcript"
)

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeTransport        = "TRANSPORT_ERROR"
	ErrCodeCapture          = "CAPTURE_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
)

// Message types
const (
	TypeState       = "state"
	TypeTurn        = "turn"
	TypeTranscript  = "transcript"
	TypeInterrupted = "interrupted"
	TypeStatus      = "status"
	TypeError       = "error"
)

// ServerMessage represents a message sent to the UI
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload"`
}

// StatePayload carries the session state after a transition.
type StatePayload struct {
	State string `json:"state"` // "idle", "connecting", "connected", "error", "disconnected"
	From  string `json:"from,omitempty"`
}

// TurnPayload contains one finalized transcript turn
type TurnPayload struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// TranscriptPayload is the full transcript, sent when a client connects.
type TranscriptPayload struct {
	Turns []TurnPayload `json:"turns"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"` // "pong"
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode serializes a server message.
func (m *ServerMessage) Encode() ([]byte, error) {
	return sonic.Marshal(m)
}

// NewStateMessage creates a state message
func NewStateMessage(sessionID, state, from string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeState,
		SessionID: sessionID,
		Payload:   StatePayload{State: state, From: from},
	}
}

// NewTurnMessage creates a turn message
func NewTurnMessage(sessionID string, turn transcript.Turn) *ServerMessage {
	return &ServerMessage{
		Type:      TypeTurn,
		SessionID: sessionID,
		Payload:   turnPayload(turn),
	}
}

// NewTranscriptMessage creates a transcript snapshot message
func NewTranscriptMessage(sessionID string, turns []transcript.Turn) *ServerMessage {
	payload := TranscriptPayload{Turns: make([]TurnPayload, 0, len(turns))}
	for _, t := range turns {
		payload.Turns = append(payload.Turns, turnPayload(t))
	}
	return &ServerMessage{
		Type:      TypeTranscript,
		SessionID: sessionID,
		Payload:   payload,
	}
}

// NewInterruptedMessage tells the UI the model's turn was cut off.
func NewInterruptedMessage(sessionID string) *ServerMessage {
	return &ServerMessage{Type: TypeInterrupted, SessionID: sessionID, Payload: struct{}{}}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

func turnPayload(t transcript.Turn) TurnPayload {
	return TurnPayload{Speaker: string(t.Speaker), Text: t.Text, At: t.At}
}
