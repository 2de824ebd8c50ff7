// Package decider holds the matcher's pluggable policies: where the deal
// price comes from, how much it slips, and what commission and tax apply.
// Each is a narrow interface so stock and future instruments can supply
// different rules without the matcher branching on instrument type itself.
package decider

import "github.com/quantreplay/backsim/internal/model"

// DealDecider resolves the reference price a matcher uses to evaluate an
// order against, given the matching policy and the snapshot that triggered
// the check. ok is false if the snapshot carries no usable price yet (e.g.
// an empty opening tick).
type DealDecider interface {
	Price(matchingType model.MatchingType, snapshot model.MarketSnapshot, side model.Side) (price float64, ok bool)
}

// SlippageDecider perturbs a deal price to model market impact. Implementors
// may depend on side (buy slips up, sell slips down); the matcher does not
// clamp the returned price to any exchange-imposed bound.
type SlippageDecider interface {
	GetTradePrice(side model.Side, price float64) float64
}

// CommissionDecider computes the commission owed on one trade. Implementors
// may hold per-order state (e.g. a minimum-commission ledger) and must be
// safe for the matcher's single-threaded call pattern — no locking required
// since the bus never calls into the matcher concurrently, though Stock's
// ledger still guards its map with a mutex.
type CommissionDecider interface {
	GetCommission(trade model.Trade) float64
}

// TaxDecider computes the tax owed on one trade.
type TaxDecider interface {
	GetTax(trade model.Trade) float64
}
