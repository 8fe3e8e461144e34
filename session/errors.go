package session

import "errors"

var (
	// ErrSessionStopped is returned by Start when the session was stopped or
	// replaced before it reached connected.
	ErrSessionStopped = errors.New("session stopped")

	// ErrTransport marks failures of the connection to the model.
	ErrTransport = errors.New("transport error")

	// ErrCapture marks microphone failures, including denied permission.
	ErrCapture = errors.New("capture error")

	// ErrPlayback marks failures acquiring the output device.
	ErrPlayback = errors.New("playback error")
)
