// Package portfolio implements the union-of-accounts valuation layer:
// aggregate cash/value/PnL across every account type an engine run carries,
// plus the unit-net-value return series a strategy or report consumes.
package portfolio

import (
	"math"
	"time"

	"github.com/quantreplay/backsim/internal/account"
	"github.com/quantreplay/backsim/internal/model"
)

// Portfolio is the union of every account_type → Account an engine run
// carries, plus the initial-capital basis used to compute unit returns.
type Portfolio struct {
	StartDate time.Time
	Units     float64

	accounts map[model.AccountType]*account.Account

	// StaticUnitNetValue is pegged at the start of the current trading
	// session, refreshed by RefreshStaticUnitNetValue at each
	// pre-before-trading, and used as the denominator for DailyReturns.
	StaticUnitNetValue float64
}

// New constructs a Portfolio seeded with units of initial capital basis,
// pegging StaticUnitNetValue to 1.0 (unit_net_value starts at 1 when
// total_value == units, the conventional NAV basis).
func New(startDate time.Time, units float64) *Portfolio {
	return &Portfolio{
		StartDate:          startDate,
		Units:              units,
		accounts:           make(map[model.AccountType]*account.Account),
		StaticUnitNetValue: 1.0,
	}
}

// AddAccount registers acc under its own AccountType. A Portfolio holds at
// most one account per type.
func (p *Portfolio) AddAccount(acc *account.Account) {
	p.accounts[acc.Type] = acc
}

// Account returns the account registered for typ, or ok=false if none.
func (p *Portfolio) Account(typ model.AccountType) (*account.Account, bool) {
	a, ok := p.accounts[typ]
	return a, ok
}

// Accounts returns every registered account, in no particular order.
func (p *Portfolio) Accounts() []*account.Account {
	out := make([]*account.Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		out = append(out, a)
	}
	return out
}

// Position looks up the position for orderBookID across every registered
// account, returning model.ErrPositionNotFound rather than a silent nil if
// no account carries one.
func (p *Portfolio) Position(orderBookID string) (*account.Position, error) {
	for _, a := range p.accounts {
		if pos, ok := a.Positions[orderBookID]; ok {
			return pos, nil
		}
	}
	return nil, model.ErrPositionNotFound
}

// TotalValue sums TotalValue() across every account.
func (p *Portfolio) TotalValue() float64 {
	var sum float64
	for _, a := range p.accounts {
		sum += a.TotalValue()
	}
	return sum
}

// Cash sums Cash() (total_cash - frozen_cash) across every account.
func (p *Portfolio) Cash() float64 {
	var sum float64
	for _, a := range p.accounts {
		sum += a.Cash()
	}
	return sum
}

// FrozenCash sums FrozenCash across every account.
func (p *Portfolio) FrozenCash() float64 {
	var sum float64
	for _, a := range p.accounts {
		sum += a.FrozenCash
	}
	return sum
}

// TransactionCost sums TransactionCost across every account.
func (p *Portfolio) TransactionCost() float64 {
	var sum float64
	for _, a := range p.accounts {
		sum += a.TransactionCost
	}
	return sum
}

// MarketValue sums the stock-style market value of every position across
// every account; meaningless but harmless for pure-futures portfolios,
// which carry zero BuyQuantity on the long side once margin takes over.
func (p *Portfolio) MarketValue() float64 {
	var sum float64
	for _, a := range p.accounts {
		for _, pos := range a.Positions {
			sum += pos.MarketValue()
		}
	}
	return sum
}

// UnitNetValue is total_value / units, the portfolio's NAV per unit.
func (p *Portfolio) UnitNetValue() float64 {
	if p.Units == 0 {
		return 0
	}
	return p.TotalValue() / p.Units
}

// DailyReturns is unit_net_value / static_unit_net_value - 1, snapped
// against the value pegged at the start of the current trading session.
func (p *Portfolio) DailyReturns() float64 {
	if p.StaticUnitNetValue == 0 {
		return 0
	}
	return p.UnitNetValue()/p.StaticUnitNetValue - 1
}

// DailyPnL is the absolute-value counterpart to DailyReturns: the change in
// total_value in currency units since the session's opening NAV.
func (p *Portfolio) DailyPnL() float64 {
	return (p.UnitNetValue() - p.StaticUnitNetValue) * p.Units
}

// TotalReturns is unit_net_value - 1, the portfolio's return since
// inception (unit_net_value starts at 1.0 on the StartDate).
func (p *Portfolio) TotalReturns() float64 {
	return p.UnitNetValue() - 1
}

// AnnualizedReturns is unit_net_value^(365/elapsed_days) - 1, elapsed_days
// computed from StartDate to asOf. Returns 0 if asOf is not after StartDate,
// and -1 if unit_net_value is non-positive (can't take a fractional power
// of a non-positive base).
func (p *Portfolio) AnnualizedReturns(asOf time.Time) float64 {
	elapsedDays := asOf.Sub(p.StartDate).Hours() / 24
	if elapsedDays <= 0 {
		return 0
	}
	unv := p.UnitNetValue()
	if unv <= 0 {
		return -1
	}
	return math.Pow(unv, 365/elapsedDays) - 1
}

// RefreshStaticUnitNetValue re-pegs StaticUnitNetValue to the current
// unit_net_value, called ahead of each trading session.
func (p *Portfolio) RefreshStaticUnitNetValue() {
	p.StaticUnitNetValue = p.UnitNetValue()
}
