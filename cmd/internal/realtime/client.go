package realtime

import (
	"sync"

	v1 "playgate/shared/contracts/events/v1"
)

// outbound is one queued frame. last marks the final frame of a stream; the
// writer closes the connection with reason after sending it.
type outbound struct {
	env    v1.Envelope
	last   bool
	reason string
}

// Client is one connected event stream.
//
// Send is never closed by the server, so concurrent publishers cannot panic.
// done signals the connection goroutines to stop. Close is idempotent.
type Client struct {
	ConnID      string
	SessionID   string
	PrincipalID string

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 16
	}
	return &Client{
		ConnID: connID,
		send:   make(chan outbound, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer enqueues without blocking. It reports false when the client is gone
// or its queue is full.
func (c *Client) offer(out outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- out:
		return true
	default:
		return false
	}
}
