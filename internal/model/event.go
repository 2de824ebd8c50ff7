package model

import "time"

// Event is the envelope the bus moves between producers and handlers. Type
// decides which payload fields are populated (a TRADE carries both its
// Trade and its Order); this mirrors the closed
// event catalogue in the wire contract rather than a polymorphic interface,
// so persisted/replayed events stay trivially JSON-stable.
type Event struct {
	Type     EventType
	DateTime time.Time

	// Market data payloads.
	OrderBookID string
	Tick        *Tick
	Bar         *Bar

	// SettlePrices carries the per-symbol settlement price for a SETTLEMENT
	// event, sourced from DataSource.GetSettlePrice ahead of publish since a
	// single settlement spans every instrument in the universe, not just one
	// bar's symbol.
	SettlePrices map[string]float64

	// Order/trade payloads.
	Order *Order
	Trade *Trade

	// BrokerID scopes ORDER_* lifecycle events to one account/broker.
	BrokerID uint64

	// Message carries a human-readable reason for reject/cancel events and
	// is otherwise empty.
	Message string

	// Universe carries the new instrument set for SYS_UNIVERSE_CHANGE.
	Universe *Universe

	stopped bool
}

// NewEvent constructs a bare event of the given type stamped with now.
func NewEvent(typ EventType, now time.Time) Event {
	return Event{Type: typ, DateTime: now}
}

// Stop halts further handler dispatch for this event only; it does not
// affect the bus's processing of subsequently queued events.
func (e *Event) Stop() { e.stopped = true }

// Stopped reports whether a handler has already called Stop on this event.
func (e *Event) Stopped() bool { return e.stopped }
