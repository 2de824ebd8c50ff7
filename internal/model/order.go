package model

import (
	"sync/atomic"
	"time"
)

var orderIDCounter uint64

// NextOrderID returns a globally unique, monotonically increasing order
// identifier. Safe for concurrent use.
func NextOrderID() uint64 {
	return atomic.AddUint64(&orderIDCounter, 1)
}

// SetOrderIDCounter seeds the counter, used when restoring from a
// persistence snapshot so newly created orders never collide with
// previously persisted ones.
func SetOrderIDCounter(v uint64) { atomic.StoreUint64(&orderIDCounter, v) }

// OrderIDCounter returns the current counter value, for persistence.
func OrderIDCounter() uint64 { return atomic.LoadUint64(&orderIDCounter) }

var tradeIDCounter uint64

// NextTradeID returns a globally unique trade identifier.
func NextTradeID() uint64 {
	return atomic.AddUint64(&tradeIDCounter, 1)
}

// SetTradeIDCounter seeds the trade counter from a persistence snapshot.
func SetTradeIDCounter(v uint64) { atomic.StoreUint64(&tradeIDCounter, v) }

// TradeIDCounter returns the current trade counter value, for persistence.
func TradeIDCounter() uint64 { return atomic.LoadUint64(&tradeIDCounter) }

// Order is a mutable object with identity representing one strategy order.
//
// Invariants: FilledQuantity+UnfilledQuantity() == Quantity,
// 0 <= FilledQuantity <= Quantity, and once Status.IsTerminal() no further
// mutation is permitted — callers must check IsFinal before mutating.
type Order struct {
	OrderID         uint64
	BrokerID        uint64
	OrderBookID     string
	Side            Side
	Offset          Offset
	Quantity        int32
	FilledQuantity  int32
	Type            OrderType
	LimitPrice      float64 // 0 for market orders
	FrozenPrice     float64 // reference price frozen at submission, for margin
	AvgPrice        float64
	TransactionCost float64
	Status          OrderStatus
	CalendarDate    time.Time
	TradingDateTime time.Time
	Message         string
}

// NewOrder constructs a PENDING_NEW order with a freshly assigned ID.
func NewOrder(brokerID uint64, orderBookID string, side Side, offset Offset, quantity int32, typ OrderType, limitPrice float64, now time.Time) *Order {
	return &Order{
		OrderID:         NextOrderID(),
		BrokerID:        brokerID,
		OrderBookID:     orderBookID,
		Side:            side,
		Offset:          offset,
		Quantity:        quantity,
		Type:            typ,
		LimitPrice:      limitPrice,
		FrozenPrice:     limitPrice,
		Status:          OrderPendingNew,
		CalendarDate:    now,
		TradingDateTime: now,
	}
}

// UnfilledQuantity returns the quantity still open for matching.
func (o *Order) UnfilledQuantity() int32 {
	return o.Quantity - o.FilledQuantity
}

// IsActive reports whether the order currently participates in matching.
func (o *Order) IsActive() bool {
	return o.Status == OrderActive || o.Status == OrderPendingNew
}

// IsFinal reports whether the order has reached a terminal state.
func (o *Order) IsFinal() bool {
	return o.Status.IsTerminal()
}

// Activate transitions a freshly admitted order from PENDING_NEW to ACTIVE.
// No-op if already active or terminal.
func (o *Order) Activate() {
	if o.Status == OrderPendingNew {
		o.Status = OrderActive
	}
}

// MarkRejected transitions the order to REJECTED with a reason, refusing to
// mutate an order that has already reached a terminal state.
func (o *Order) MarkRejected(reason string) {
	if o.IsFinal() {
		return
	}
	o.Status = OrderRejected
	o.Message = reason
}

// MarkCancelled transitions the order to CANCELLED with a reason.
func (o *Order) MarkCancelled(reason string) {
	if o.IsFinal() {
		return
	}
	o.Status = OrderCancelled
	o.Message = reason
}

// ApplyFill folds one trade's fill quantity and price into the order,
// recomputing the running average price and transitioning to FILLED once
// fully filled. fillPrice/fillQty/cost describe the trade just produced by
// the matcher.
func (o *Order) ApplyFill(fillPrice float64, fillQty int32, cost float64) {
	if o.IsFinal() {
		return
	}
	totalNotionalBefore := o.AvgPrice * float64(o.FilledQuantity)
	o.FilledQuantity += fillQty
	if o.FilledQuantity > 0 {
		o.AvgPrice = (totalNotionalBefore + fillPrice*float64(fillQty)) / float64(o.FilledQuantity)
	}
	o.TransactionCost += cost
	if o.FilledQuantity >= o.Quantity {
		o.Status = OrderFilled
	} else {
		o.Status = OrderActive
	}
}

// Trade is an immutable record of one fill against one order.
type Trade struct {
	TradeID          uint64
	OrderID          uint64
	OrderBookID      string
	MatchDateTime    time.Time
	TradingDateTime  time.Time
	Price            float64
	Quantity         int32
	Side             Side
	Offset           Offset
	Commission       float64
	Tax              float64
	CloseTodayAmount int32
	FrozenPrice      float64
}

// Cost returns commission + tax, the total transaction cost of this trade.
func (t Trade) Cost() float64 {
	return t.Commission + t.Tax
}

// Notional returns price * quantity, unscaled by any contract multiplier.
func (t Trade) Notional() float64 {
	return t.Price * float64(t.Quantity)
}
