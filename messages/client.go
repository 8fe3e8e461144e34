package messages

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Client message types
const (
	TypeControl = "control"
)

// Control actions
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionPing  = "ping"
)

// ErrInvalidMessage is returned for frames that are not a known client message.
var ErrInvalidMessage = errors.New("invalid client message")

// ClientMessage represents a message from the UI
type ClientMessage struct {
	Type    string          `json:"type"` // "control"
	Payload json.RawMessage `json:"payload"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "start", "stop", "ping"
}

// ParseControl decodes a client frame into its control payload.
func ParseControl(data []byte) (*ControlPayload, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Type != TypeControl {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}

	var ctrl ControlPayload
	if err := sonic.Unmarshal(msg.Payload, &ctrl); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	switch ctrl.Action {
	case ActionStart, ActionStop, ActionPing:
		return &ctrl, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidMessage, ctrl.Action)
	}
}

// NewControlMessage builds a client control frame.
func NewControlMessage(action string) ([]byte, error) {
	payload, err := sonic.Marshal(ControlPayload{Action: action})
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(ClientMessage{Type: TypeControl, Payload: payload})
}
