package session

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when the outbox exceeds its maximum size
var ErrBufferFull = errors.New("outbound buffer full")

// Outbox queues encoded capture frames until the sender drains them. It is
// bounded in bytes so a stalled transport cannot grow memory without limit.
type Outbox struct {
	chunks    []string
	totalSize int
	maxSize   int
	dropped   int
	mu        sync.Mutex
}

// NewOutbox creates an outbox with the specified maximum size in bytes
func NewOutbox(maxSize int) *Outbox {
	return &Outbox{maxSize: maxSize}
}

// MaxSize returns the maximum outbox size
func (o *Outbox) MaxSize() int {
	return o.maxSize
}

// Append queues a chunk.
// Returns ErrBufferFull and counts a drop if the chunk would exceed maxSize
func (o *Outbox) Append(chunk string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	newSize := o.totalSize + len(chunk)
	if newSize > o.maxSize {
		o.dropped++
		return ErrBufferFull
	}

	o.chunks = append(o.chunks, chunk)
	o.totalSize = newSize
	return nil
}

// Drain returns all queued chunks in order and empties the outbox
func (o *Outbox) Drain() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.chunks) == 0 {
		return nil
	}
	out := o.chunks
	o.chunks = nil
	o.totalSize = 0
	return out
}

// Clear empties the outbox without returning data
func (o *Outbox) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.chunks = nil
	o.totalSize = 0
}

// Size returns the current total queued bytes
func (o *Outbox) Size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totalSize
}

// Len returns the number of queued chunks
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.chunks)
}

// Dropped returns how many chunks were rejected as over capacity
func (o *Outbox) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
