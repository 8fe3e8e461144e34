package session_test

import (
	"encoding/json"
	"testing"

	"github.com/room4-2/livevoice/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []session.State{
	session.StateIdle,
	session.StateConnecting,
	session.StateConnected,
	session.StateError,
	session.StateDisconnected,
}

func TestCanTransition_Table(t *testing.T) {
	allowed := map[session.State][]session.State{
		session.StateIdle:         {session.StateConnecting},
		session.StateConnecting:   {session.StateConnected, session.StateError, session.StateIdle},
		session.StateConnected:    {session.StateError, session.StateDisconnected, session.StateIdle},
		session.StateError:        {session.StateConnecting, session.StateIdle},
		session.StateDisconnected: {session.StateConnecting, session.StateIdle},
	}

	for _, from := range allStates {
		for _, to := range allStates {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, session.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestState_Names(t *testing.T) {
	for _, s := range allStates {
		parsed, err := session.ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := session.ParseState("ringing")
	assert.Error(t, err)
	assert.Equal(t, "state(42)", session.State(42).String())

	raw, err := json.Marshal(map[string]session.State{"state": session.StateConnected})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"connected"}`, string(raw))
}
