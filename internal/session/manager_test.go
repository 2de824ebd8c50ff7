package session

import (
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager(100)
}

func TestRegisterAddsClient(t *testing.T) {
	m := newTestManager()
	if m.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0", m.ClientCount())
	}

	c := &Client{ID: 1, sendCh: make(chan []byte, 1), done: make(chan struct{})}
	m.mu.Lock()
	m.clients[c.ID] = c
	m.mu.Unlock()

	if m.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", m.ClientCount())
	}
}

func TestUnregisterRemovesClient(t *testing.T) {
	m := newTestManager()
	c := &Client{ID: 1, sendCh: make(chan []byte, 1), done: make(chan struct{})}
	m.mu.Lock()
	m.clients[c.ID] = c
	m.mu.Unlock()

	m.Unregister(c)

	if m.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0 after unregister", m.ClientCount())
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Unregister should close the client")
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	m := newTestManager()
	clients := make([]*Client, 3)
	for i := range clients {
		c := &Client{ID: uint64(i + 1), sendCh: make(chan []byte, 1), done: make(chan struct{})}
		clients[i] = c
		m.mu.Lock()
		m.clients[c.ID] = c
		m.mu.Unlock()
	}

	m.Broadcast([]byte("tick"))

	for _, c := range clients {
		select {
		case data := <-c.SendCh():
			if string(data) != "tick" {
				t.Fatalf("client %d got %q, want %q", c.ID, data, "tick")
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d never received broadcast", c.ID)
		}
	}
}

func TestBroadcastDropsForFullClient(t *testing.T) {
	m := newTestManager()
	c := &Client{ID: 1, sendCh: make(chan []byte, 1), done: make(chan struct{})}
	m.mu.Lock()
	m.clients[c.ID] = c
	m.mu.Unlock()

	c.sendCh <- []byte("fills the buffer")

	m.Broadcast([]byte("dropped"))

	if c.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", c.Dropped)
	}
}
