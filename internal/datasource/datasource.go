// Package datasource defines the capability a market replay broker needs
// from whatever concretely supplies historical data; concrete loaders
// (CSV/Parquet/vendor feeds) are out of scope here — only the interface and
// a synthetic reference implementation live in this module.
package datasource

import (
	"time"

	"github.com/quantreplay/backsim/internal/model"
)

// DataSource is the capability a Broker depends on to replay history for one
// or more instruments. Implementations must be safe for concurrent use by
// one goroutine per order_book_id.
type DataSource interface {
	// GetBar returns the bar for orderBookID covering dt, or ok=false if
	// none exists (e.g. a non-trading day).
	GetBar(orderBookID string, dt time.Time) (bar model.Bar, ok bool, err error)

	// GetSettlePrice returns the settlement price used for futures margin
	// and mark-to-market on the trading date identified by dt.
	GetSettlePrice(orderBookID string, dt time.Time) (price float64, err error)

	// HistoryBars returns up to n bars ending at or before dt, oldest first.
	HistoryBars(orderBookID string, dt time.Time, n int) ([]model.Bar, error)

	// CurrentSnapshot returns the latest tick or bar known for orderBookID
	// as of dt, used to seed a matcher's deal-price decision.
	CurrentSnapshot(orderBookID string, dt time.Time) (model.MarketSnapshot, bool, error)

	// GetTradingMinutesFor returns the ordered trading-session boundaries
	// for orderBookID on the trading date identified by dt.
	GetTradingMinutesFor(orderBookID string, dt time.Time) ([]TradingMinute, error)

	// AvailableDataRange returns the inclusive [start, end] range this
	// source can replay for orderBookID.
	AvailableDataRange(orderBookID string) (start, end time.Time, err error)

	// GetMergeTicks returns every tick for orderBookID in [start, end],
	// used by the broker to build its per-symbol producer stream.
	GetMergeTicks(orderBookID string, start, end time.Time) ([]model.Tick, error)
}

// TradingMinute is one open/close boundary of a trading session.
type TradingMinute struct {
	Open  time.Time
	Close time.Time
}
