// Package mock provides an in-memory transport.Dialer for tests.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/room4-2/livevoice/transport"
)

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// Dialer returns mock connections. Set Err to fail the handshake.
type Dialer struct {
	Err error
	// Gate, when set, makes Dial wait until it is closed or ctx is done.
	Gate chan struct{}

	mu    sync.Mutex
	conns []*Conn
	cfgs  []transport.Config
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.Err != nil {
		return nil, d.Err
	}
	c := &Conn{listening: make(chan struct{})}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.cfgs = append(d.cfgs, cfg)
	d.mu.Unlock()
	return c, nil
}

// Conns returns every connection dialled so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Last returns the latest connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Config returns the config of the latest Dial.
func (d *Dialer) Config() transport.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cfgs) == 0 {
		return transport.Config{}
	}
	return d.cfgs[len(d.cfgs)-1]
}

// Conn records outbound media and lets tests inject inbound events.
type Conn struct {
	mu        sync.Mutex
	handler   transport.Handler
	listening chan struct{}
	sendErr   error
	sent      []string
	closed    bool
	closes    atomic.Int64
	notify    chan struct{}
}

// Listen implements transport.Conn.
func (c *Conn) Listen(h transport.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	close(c.listening)
}

// Listening is closed once Listen has been called.
func (c *Conn) Listening() <-chan struct{} { return c.listening }

// Emit delivers ev synchronously to the registered handler, as the receive
// goroutine of a real transport would. Events after Close are dropped.
func (c *Conn) Emit(ev transport.Event) {
	c.mu.Lock()
	h := c.handler
	closed := c.closed
	c.mu.Unlock()
	if h == nil || closed {
		return
	}
	h(ev)
}

// Handler returns the registered handler. Calling it directly bypasses the
// closed check in Emit, which is how a late event from a real receive
// goroutine looks to the consumer.
func (c *Conn) Handler() transport.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// FailSends makes every later SendMedia return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// EmitMessage is shorthand for Emit with an EventMessage.
func (c *Conn) EmitMessage(msg transport.Message) {
	c.Emit(transport.Event{Kind: transport.EventMessage, Message: &msg})
}

// SendMedia implements transport.Conn.
func (c *Conn) SendMedia(data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, data)
	if c.notify != nil {
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// Sent returns the media chunks sent so far.
func (c *Conn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentSignal returns a channel that receives after every successful send.
func (c *Conn) SentSignal() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notify == nil {
		c.notify = make(chan struct{}, 64)
	}
	return c.notify
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.closes.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closes returns how many times Close was called.
func (c *Conn) Closes() int64 { return c.closes.Load() }

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
