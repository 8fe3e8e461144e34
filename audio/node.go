package audio

import "sync"

// Node is a processing node owned by a Context, e.g. the microphone source
// and the frame tap of a capture graph.
type Node struct {
	name         string
	ctx          *Context
	onDisconnect func()
	once         sync.Once
}

// NewNode registers a node on the context. onDisconnect runs once when the
// node is disconnected, either explicitly or by Context.Close.
func (c *Context) NewNode(name string, onDisconnect func()) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}
	n := &Node{name: name, ctx: c, onDisconnect: onDisconnect}
	c.nodes[n] = struct{}{}
	return n, nil
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// Disconnect detaches the node from its context. Idempotent.
func (n *Node) Disconnect() {
	n.once.Do(func() {
		n.ctx.mu.Lock()
		delete(n.ctx.nodes, n)
		n.ctx.mu.Unlock()
		if n.onDisconnect != nil {
			n.onDisconnect()
		}
	})
}

// Nodes returns the number of connected nodes.
func (c *Context) Nodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}
