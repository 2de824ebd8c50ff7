// Package session implements the WebSocket event-stream hub: every
// connected client receives every engine event the Manager is fed,
// fanned out over a per-client bounded send buffer so one slow reader
// can't stall the others.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Client represents one connected WebSocket subscriber.
type Client struct {
	ID   uint64
	Conn *websocket.Conn

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// Dropped counts messages discarded because the client's send buffer
	// was full — a slow consumer falls behind rather than blocking the
	// broadcast to everyone else.
	Dropped uint64
}

var clientIDCounter uint64

// NewClient wraps conn in a Client with a bufferSize-deep send queue.
func NewClient(conn *websocket.Conn, bufferSize int) *Client {
	return &Client{
		ID:     atomic.AddUint64(&clientIDCounter, 1),
		Conn:   conn,
		sendCh: make(chan []byte, bufferSize),
		done:   make(chan struct{}),
	}
}

// Send enqueues data for delivery, reporting false if the buffer was full
// (the message is dropped, not blocked on).
func (c *Client) Send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		atomic.AddUint64(&c.Dropped, 1)
		return false
	}
}

// SendCh returns the send channel for the write pump.
func (c *Client) SendCh() <-chan []byte { return c.sendCh }

// Done returns a channel closed once the client disconnects.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close terminates the client connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}
