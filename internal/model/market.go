package model

import "time"

// PriceLevel is one level of a five-level depth quote.
type PriceLevel struct {
	Price  float64
	Volume int64
}

// Tick is a point-in-time snapshot of a single instrument. Immutable once
// constructed.
type Tick struct {
	OrderBookID    string
	DateTime       time.Time
	Last           float64
	Open           float64
	High           float64
	Low            float64
	PrevClose      float64
	PrevSettlement float64
	Volume         int64
	TotalTurnover  float64
	OpenInterest   float64
	Bids           [5]PriceLevel
	Asks           [5]PriceLevel
	LimitUp        float64
	LimitDown      float64
}

// Symbol satisfies MarketSnapshot.
func (t Tick) Symbol() string { return t.OrderBookID }

// Time satisfies MarketSnapshot.
func (t Tick) Time() time.Time { return t.DateTime }

// BestBid returns the top bid price, or 0 if the book side is empty.
func (t Tick) BestBid() float64 { return t.Bids[0].Price }

// BestAsk returns the top ask price, or 0 if the book side is empty.
func (t Tick) BestAsk() float64 { return t.Asks[0].Price }

// BestBidVolume returns the top bid's resting volume.
func (t Tick) BestBidVolume() int64 { return t.Bids[0].Volume }

// BestAskVolume returns the top ask's resting volume.
func (t Tick) BestAskVolume() int64 { return t.Asks[0].Volume }

// HasValidLast reports whether Last is usable as a reference price.
func (t Tick) HasValidLast() bool { return t.Last > 0 }

// Bar is an aggregated OHLCV window for an instrument. Immutable once
// constructed; carries a back-reference to its Instrument for matching
// (round lot, tick size, multiplier).
type Bar struct {
	Instrument     *Instrument
	DateTime       time.Time
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         int64
	TotalTurnover  float64
	Settlement     float64
	OpenInterest   float64
	LimitUp        float64
	LimitDown      float64
}

// Symbol satisfies MarketSnapshot.
func (b Bar) Symbol() string {
	if b.Instrument == nil {
		return ""
	}
	return b.Instrument.OrderBookID
}

// Time satisfies MarketSnapshot.
func (b Bar) Time() time.Time { return b.DateTime }

// HasValidLast reports whether Close is usable as a reference price.
func (b Bar) HasValidLast() bool { return b.Close > 0 }

// MarketSnapshot is the common shape the broker replays and the matcher
// consumes: either a Tick or a Bar, identified by symbol and timestamped so
// the broker can pick the chronologically-earliest buffered snapshot.
type MarketSnapshot interface {
	Symbol() string
	Time() time.Time
}
