package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/room4-2/livevoice/messages"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxMessageSize  = 4 * 1024
)

// client is one UI connection. All writes go through writePump.
type client struct {
	id        string
	conn      *websocket.Conn
	keepAlive time.Duration
	log       *slog.Logger

	// Use channels for non-blocking writes
	writeChan chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, keepAlive time.Duration, logger *slog.Logger) *client {
	return &client{
		id:        uuid.NewString()[:8],
		conn:      conn,
		keepAlive: keepAlive,
		log:       logger,
		writeChan: make(chan []byte, writeBufferSize),
		done:      make(chan struct{}),
	}
}

// queue adds a frame to the write queue (non-blocking)
func (c *client) queue(data []byte) {
	select {
	case <-c.done:
	case c.writeChan <- data:
	default:
		// Queue full, drop message
		c.log.Warn("⚠️ client write queue full, dropping message", "client", c.id)
	}
}

func (c *client) send(msg *messages.ServerMessage) {
	data, err := msg.Encode()
	if err != nil {
		c.log.Error("❌ failed to encode message", "type", msg.Type, "error", err)
		return
	}
	c.queue(data)
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump handles all outgoing messages in a single goroutine
func (c *client) writePump() {
	var ping <-chan time.Time
	if c.keepAlive > 0 {
		ticker := time.NewTicker(c.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		// Send close message before exiting
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.writeChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.close()
				return
			}
		}
	}
}

// readPump reads control frames until the connection fails or the client
// is closed.
func (c *client) readPump(handle func(*client, *messages.ControlPayload)) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	if c.keepAlive > 0 {
		c.conn.SetReadDeadline(time.Now().Add(2 * c.keepAlive))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(2 * c.keepAlive))
		})
	}

	// Unblock ReadMessage when the client is closed from elsewhere.
	go func() {
		<-c.done
		c.conn.SetReadDeadline(time.Now())
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("client read failed", "client", c.id, "error", err)
			}
			return
		}

		if messageType == websocket.BinaryMessage {
			c.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "binary frames are not accepted; audio is captured by the daemon"))
			continue
		}

		ctrl, err := messages.ParseControl(data)
		if err != nil {
			c.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, err.Error()))
			continue
		}
		handle(c, ctrl)
	}
}
