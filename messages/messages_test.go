package messages

import (
	"testing"
	"time"

	"github.com/room4-2/livevoice/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseControl(t *testing.T) {
	for _, action := range []string{ActionStart, ActionStop, ActionPing} {
		frame, err := NewControlMessage(action)
		require.NoError(t, err)

		ctrl, err := ParseControl(frame)
		require.NoError(t, err)
		assert.Equal(t, action, ctrl.Action)
	}
}

func TestParseControl_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"wrong type":     `{"type":"audio","payload":{"data":"AAAA"}}`,
		"unknown action": `{"type":"control","payload":{"action":"end_turn"}}`,
		"bad payload":    `{"type":"control","payload":"start"}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseControl([]byte(frame))
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestServerMessages_Encode(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, err := NewStateMessage("abc", "connected", "connecting").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"state","sessionId":"abc","payload":{"state":"connected","from":"connecting"}}`, string(raw))

	raw, err = NewTurnMessage("abc", transcript.Turn{Speaker: transcript.SpeakerModel, Text: "Hi", At: at}).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"turn","sessionId":"abc","payload":{"speaker":"model","text":"Hi","at":"2025-03-01T12:00:00Z"}}`, string(raw))

	raw, err = NewTranscriptMessage("", nil).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"transcript","payload":{"turns":[]}}`, string(raw))

	raw, err = NewErrorMessage("abc", ErrCodePermissionDenied, "microphone permission denied").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","sessionId":"abc","payload":{"code":"PERMISSION_DENIED","message":"microphone permission denied"}}`, string(raw))

	raw, err = NewStatusMessage("", "pong", "").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"status","payload":{"status":"pong"}}`, string(raw))
}
