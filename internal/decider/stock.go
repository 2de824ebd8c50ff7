package decider

import (
	"sync"

	"github.com/quantreplay/backsim/internal/model"
)

// StockCommission implements the China A-share commission schedule: a flat
// rate on notional, subject to a per-order minimum. The minimum is charged
// once per order_id, not once per trade — a single order filled across
// several partial trades still only pays min_commission in total.
//
// The ledger tracks, per order_id, how much of the minimum is still
// outstanding. The first trade against an order either exceeds the minimum
// outright (commission = notional*rate, ledger zeroed) or falls short of it
// (commission = the minimum, ledger reduced by the shortfall covered).
// Every later trade against the same order_id either tops up the remaining
// minimum or, once the minimum has been fully recovered, pays exactly
// notional*rate with no further minimum applied.
type StockCommission struct {
	Rate          float64
	MinCommission float64

	mu     sync.Mutex
	ledger map[uint64]float64 // order_id -> remaining minimum not yet collected
}

// NewStockCommission constructs the standard CS commission decider: 0.08%
// rate, 5 currency-unit minimum per order.
func NewStockCommission() *StockCommission {
	return &StockCommission{
		Rate:          0.0008,
		MinCommission: 5,
		ledger:        make(map[uint64]float64),
	}
}

var _ CommissionDecider = (*StockCommission)(nil)

// GetCommission implements CommissionDecider.
func (c *StockCommission) GetCommission(trade model.Trade) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining, seen := c.ledger[trade.OrderID]
	if !seen {
		remaining = c.MinCommission
	}

	notionalCost := trade.Price * float64(trade.Quantity) * c.Rate

	if notionalCost > remaining {
		c.ledger[trade.OrderID] = 0
		if remaining == c.MinCommission {
			return notionalCost
		}
		return notionalCost - remaining
	}

	c.ledger[trade.OrderID] = remaining - notionalCost
	if remaining == c.MinCommission {
		return c.MinCommission
	}
	return 0
}

// StockTax implements the China A-share stamp duty: charged only on sells.
type StockTax struct {
	Rate float64
}

// NewStockTax constructs the standard CS tax decider: 0.1% on sell notional.
func NewStockTax() StockTax {
	return StockTax{Rate: 0.001}
}

var _ TaxDecider = StockTax{}

// GetTax implements TaxDecider.
func (t StockTax) GetTax(trade model.Trade) float64 {
	if trade.Side != model.SideSell && trade.Side != model.SideShortSell {
		return 0
	}
	return trade.Price * float64(trade.Quantity) * t.Rate
}
