package session

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Manager registers connected clients and fans out broadcast payloads to
// all of them.
type Manager struct {
	mu         sync.RWMutex
	clients    map[uint64]*Client
	bufferSize int
}

// NewManager creates a session manager whose clients each get a
// bufferSize-deep send queue.
func NewManager(bufferSize int) *Manager {
	return &Manager{
		clients:    make(map[uint64]*Client),
		bufferSize: bufferSize,
	}
}

// Register adds a new client and returns it.
func (m *Manager) Register(conn *websocket.Conn) *Client {
	c := NewClient(conn, m.bufferSize)

	m.mu.Lock()
	m.clients[c.ID] = c
	m.mu.Unlock()

	log.Printf("[session] client %d connected (%s)", c.ID, conn.RemoteAddr())
	return c
}

// Unregister removes and closes a client.
func (m *Manager) Unregister(c *Client) {
	m.mu.Lock()
	delete(m.clients, c.ID)
	m.mu.Unlock()

	c.Close()
	log.Printf("[session] client %d disconnected", c.ID)
}

// Broadcast sends data to every connected client, dropping it for any
// client whose send buffer is currently full.
func (m *Manager) Broadcast(data []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		c.Send(data)
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
