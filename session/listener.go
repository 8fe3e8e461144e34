package session

import (
	"time"

	"github.com/room4-2/livevoice/transcript"
)

// StateChange is delivered to listeners on every transition.
type StateChange struct {
	SessionID string
	From      State
	To        State
	// Err is set when To is StateError.
	Err error
	At  time.Time
}

// TurnEvent is delivered when a transcript turn is finalized.
type TurnEvent struct {
	SessionID string
	Turn      transcript.Turn
}

// Listener observes the session. Callbacks are delivered in order, outside
// the manager lock, and may call back into the Manager.
type Listener interface {
	OnStateChange(StateChange)
	OnTurn(TurnEvent)
}

// InterruptListener is optionally implemented by listeners that want to know
// when the model's turn was cut off by the user.
type InterruptListener interface {
	OnInterrupted(sessionID string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	StateChange func(StateChange)
	Turn        func(TurnEvent)
	Interrupted func(sessionID string)
}

func (f ListenerFuncs) OnStateChange(c StateChange) {
	if f.StateChange != nil {
		f.StateChange(c)
	}
}

func (f ListenerFuncs) OnTurn(e TurnEvent) {
	if f.Turn != nil {
		f.Turn(e)
	}
}

func (f ListenerFuncs) OnInterrupted(id string) {
	if f.Interrupted != nil {
		f.Interrupted(id)
	}
}

// notification is a queued listener callback.
type notification struct {
	state       *StateChange
	turn        *TurnEvent
	interrupted string
}

func (n notification) deliver(l Listener) {
	switch {
	case n.state != nil:
		l.OnStateChange(*n.state)
	case n.turn != nil:
		l.OnTurn(*n.turn)
	case n.interrupted != "":
		if il, ok := l.(InterruptListener); ok {
			il.OnInterrupted(n.interrupted)
		}
	}
}
