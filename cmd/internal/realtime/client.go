package realtime

import (
	"sync"
)

// Client represents one connected websocket for an authenticated user.
//
// Send is never closed by the server so concurrent publishers cannot panic;
// done signals the connection goroutines to stop and Close is idempotent.
type Client struct {
	ID     string
	UserID string
	Role   string
	Send   chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, userID, role string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 16
	}
	return &Client{
		ID:     id,
		UserID: userID,
		Role:   role,
		Send:   make(chan Envelope, sendQueueSize),
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

// offer queues env without blocking. A full queue drops the frame.
func (c *Client) offer(env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
