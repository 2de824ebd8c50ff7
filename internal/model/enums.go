// Package model holds the data carriers shared across the simulation core:
// instruments, market snapshots, orders, trades, and the event envelope the
// bus moves between components.
package model

// InstrumentType classifies a tradable contract.
type InstrumentType string

const (
	InstrumentStock  InstrumentType = "CS"
	InstrumentFuture InstrumentType = "FUTURE"
	InstrumentOption InstrumentType = "OPTION"
	InstrumentIndex  InstrumentType = "INDEX"
)

// AccountType selects which bookkeeping rules an order_book_id settles under.
type AccountType string

const (
	AccountStock  AccountType = "STOCK"
	AccountFuture AccountType = "FUTURE"
)

// Side is the order's trading direction.
type Side string

const (
	SideBuy       Side = "BUY"
	SideSell      Side = "SELL"
	SideMarginBuy Side = "MARGIN_BUY"
	SideShortSell Side = "SHORT_SELL"
)

// IsBuy reports whether the side adds to a long position on open.
func (s Side) IsBuy() bool {
	return s == SideBuy || s == SideMarginBuy
}

// Offset is the position effect of an order: does it open new exposure or
// close existing exposure, and if closing, which inventory bucket.
type Offset string

const (
	OffsetNone           Offset = "NONE"
	OffsetOpen           Offset = "OPEN"
	OffsetClose          Offset = "CLOSE"
	OffsetCloseToday     Offset = "CLOSE_TODAY"
	OffsetCloseYesterday Offset = "CLOSE_YESTERDAY"
)

// OrderType selects market or limit semantics in the matcher.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderStatus is the order lifecycle state. See the state machine note on
// the Order type for the transition contract.
type OrderStatus string

const (
	OrderPendingNew    OrderStatus = "PENDING_NEW"
	OrderPendingCancel OrderStatus = "PENDING_CANCEL"
	OrderActive        OrderStatus = "ACTIVE"
	OrderFilled        OrderStatus = "FILLED"
	OrderCancelled     OrderStatus = "CANCELLED"
	OrderRejected      OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further mutation of the order is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// MatchingType selects how the matcher's DealDecider prices a fill.
type MatchingType string

const (
	CurrentBarClose          MatchingType = "CURRENT_BAR_CLOSE"
	NextBarOpen              MatchingType = "NEXT_BAR_OPEN"
	NextTickLast             MatchingType = "NEXT_TICK_LAST"
	NextTickBestOwn          MatchingType = "NEXT_TICK_BEST_OWN"
	NextTickBestCounterparty MatchingType = "NEXT_TICK_BEST_COUNTERPARTY"
)

// MarketInfoType selects tick-by-tick or bar replay for a Broker.
type MarketInfoType string

const (
	MarketInfoTick MarketInfoType = "TICK"
	MarketInfoBar  MarketInfoType = "BAR"
)

// CommissionType selects the futures commission computation mode.
type CommissionType string

const (
	CommissionByMoney  CommissionType = "BY_MONEY"
	CommissionByVolume CommissionType = "BY_VOLUME"
)

// EventType is the wire-stable identifier carried on every Event.
type EventType string

const (
	EventInstConnect   EventType = "INST_CONNECT"
	EventInstSubscribe EventType = "INST_SUBSCRIBE"
	EventInstStart     EventType = "INST_START"
	EventInstStop      EventType = "INST_STOP"

	EventMarketCheck EventType = "MARKET_CHECK"
	EventMarketSend  EventType = "MARKET_SEND"

	EventOrder EventType = "ORDER"
	EventTrade EventType = "TRADE"

	EventDoPersist EventType = "DO_PERSIST"
	EventDoRecord  EventType = "DO_RECORD"

	EventSysTimer          EventType = "SYS_TIMER"
	EventSysStart          EventType = "SYS_START"
	EventSysHoldSet        EventType = "SYS_HOLD_SET"
	EventSysHoldCancel     EventType = "SYS_HOLD_CANCEL"
	EventSysStop           EventType = "SYS_STOP"
	EventSysUniverseChange EventType = "SYS_UNIVERSE_CHANGE"

	EventBeforeTrading EventType = "BEFORE_TRADING"
	EventBar           EventType = "BAR"
	EventTick          EventType = "TICK"
	EventAfterTrading  EventType = "AFTER_TRADING"
	EventSettlement    EventType = "SETTLEMENT"

	EventOrderPendingNew        EventType = "ORDER_PENDING_NEW"
	EventOrderCreationReject    EventType = "ORDER_CREATION_REJECT"
	EventOrderCancellationPass  EventType = "ORDER_CANCELLATION_PASS"
	EventOrderUnsolicitedUpdate EventType = "ORDER_UNSOLICITED_UPDATE"
)
