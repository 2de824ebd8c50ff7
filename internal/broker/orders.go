package broker

import (
	"sync"

	"github.com/quantreplay/backsim/internal/model"
)

// OpenOrderTable holds every order still participating in matching, indexed
// both by order_id and by order_book_id so the matcher can pull exactly the
// orders relevant to one symbol's snapshot without scanning the whole book.
// Mutex-protected: even though the bus guarantees no two handlers run
// concurrently, producer goroutines and API read paths may inspect the
// table outside of dispatch.
type OpenOrderTable struct {
	mu       sync.RWMutex
	byID     map[uint64]*model.Order
	bySymbol map[string]map[uint64]*model.Order
}

// NewOpenOrderTable constructs an empty table.
func NewOpenOrderTable() *OpenOrderTable {
	return &OpenOrderTable{
		byID:     make(map[uint64]*model.Order),
		bySymbol: make(map[string]map[uint64]*model.Order),
	}
}

// Add inserts or replaces an order in the table. Callers should remove the
// order once it reaches a terminal status; Add itself does not check.
func (t *OpenOrderTable) Add(o *model.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[o.OrderID] = o
	m, ok := t.bySymbol[o.OrderBookID]
	if !ok {
		m = make(map[uint64]*model.Order)
		t.bySymbol[o.OrderBookID] = m
	}
	m[o.OrderID] = o
}

// Remove deletes an order from the table, typically once it has reached a
// terminal status.
func (t *OpenOrderTable) Remove(orderID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.byID[orderID]
	if !ok {
		return
	}
	delete(t.byID, orderID)
	if m, ok := t.bySymbol[o.OrderBookID]; ok {
		delete(m, orderID)
		if len(m) == 0 {
			delete(t.bySymbol, o.OrderBookID)
		}
	}
}

// Get looks up an order by ID.
func (t *OpenOrderTable) Get(orderID uint64) (*model.Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.byID[orderID]
	return o, ok
}

// ForSymbol returns every currently-open order for orderBookID, the set the
// matcher iterates when a new snapshot arrives for that symbol. The slice is
// a defensive copy; mutating the returned orders is safe and expected (the
// matcher fills them in place), but the slice itself may be stale the
// instant an order is removed concurrently.
func (t *OpenOrderTable) ForSymbol(orderBookID string) []*model.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.bySymbol[orderBookID]
	out := make([]*model.Order, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	return out
}

// ForBroker returns every open order belonging to brokerID, used when an
// account needs to enumerate its own live orders (e.g. on cancel-all).
func (t *OpenOrderTable) ForBroker(brokerID uint64) []*model.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*model.Order, 0)
	for _, o := range t.byID {
		if o.BrokerID == brokerID {
			out = append(out, o)
		}
	}
	return out
}

// All returns every open order across every symbol and broker.
func (t *OpenOrderTable) All() []*model.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*model.Order, 0, len(t.byID))
	for _, o := range t.byID {
		out = append(out, o)
	}
	return out
}

// Len returns the total number of open orders across all symbols.
func (t *OpenOrderTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
