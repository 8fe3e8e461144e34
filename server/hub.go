package server

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/room4-2/livevoice/capture"
	"github.com/room4-2/livevoice/messages"
	"github.com/room4-2/livevoice/session"
)

var (
	_ session.Listener          = (*Hub)(nil)
	_ session.InterruptListener = (*Hub)(nil)
)

// Hub fans session events out to every connected UI client.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{log: logger, clients: make(map[*client]struct{})}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Broadcast queues msg for every client. Slow clients drop messages rather
// than stall the session.
func (h *Hub) Broadcast(msg *messages.ServerMessage) {
	data, err := msg.Encode()
	if err != nil {
		h.log.Error("❌ failed to encode message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.queue(data)
	}
}

// OnStateChange implements session.Listener.
func (h *Hub) OnStateChange(c session.StateChange) {
	h.Broadcast(messages.NewStateMessage(c.SessionID, c.To.String(), c.From.String()))
	if c.To == session.StateError && c.Err != nil {
		h.Broadcast(messages.NewErrorMessage(c.SessionID, ErrorCode(c.Err), c.Err.Error()))
	}
}

// OnTurn implements session.Listener.
func (h *Hub) OnTurn(e session.TurnEvent) {
	h.Broadcast(messages.NewTurnMessage(e.SessionID, e.Turn))
}

// OnInterrupted implements session.InterruptListener.
func (h *Hub) OnInterrupted(sessionID string) {
	h.Broadcast(messages.NewInterruptedMessage(sessionID))
}

// ErrorCode maps a session error to the code shown in the UI.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return messages.ErrCodePermissionDenied
	case errors.Is(err, session.ErrCapture):
		return messages.ErrCodeCapture
	case errors.Is(err, session.ErrTransport):
		return messages.ErrCodeTransport
	default:
		return messages.ErrCodeSessionFailed
	}
}
