// Package account implements per-instrument position bookkeeping and
// per-broker account bookkeeping: cash, frozen cash, margin, realized and
// holding PnL, and the event handlers that keep them consistent with the
// order and trade lifecycle. No handler here ever runs concurrently with
// another — the bus guarantees single-threaded dispatch — so none of this
// package takes a lock of its own.
package account

import "github.com/quantreplay/backsim/internal/model"

// Position tracks one broker's holdings in one order_book_id. Stock
// positions only ever populate the buy side; future positions use both buy
// (long) and sell (short) sides concurrently. Each side is split into an
// "old" bucket (positions carried in from a prior trading day) and a
// "today" bucket (opened during the current trading day), because
// close-today and close-yesterday offsets settle under different
// commission and margin rules.
type Position struct {
	OrderBookID        string
	Type               model.AccountType
	ContractMultiplier float64
	MarginRate         float64

	BuyOldQuantity    int32
	BuyTodayQuantity  int32
	SellOldQuantity   int32
	SellTodayQuantity int32

	BuyAvgOpenPrice  float64
	SellAvgOpenPrice float64

	LastPrice      float64
	PrevSettlement float64 // prior settlement price, the futures roll reference

	RealizedPnL float64

	deListed bool
}

// NewPosition constructs an empty position for orderBookID.
func NewPosition(orderBookID string, typ model.AccountType, contractMultiplier, marginRate float64) *Position {
	return &Position{
		OrderBookID:        orderBookID,
		Type:               typ,
		ContractMultiplier: contractMultiplier,
		MarginRate:         marginRate,
	}
}

// BuyQuantity is the glossary's "buy = buy_old + buy_today" invariant.
func (p *Position) BuyQuantity() int32 { return p.BuyOldQuantity + p.BuyTodayQuantity }

// SellQuantity is the short-side equivalent, only ever non-zero for futures.
func (p *Position) SellQuantity() int32 { return p.SellOldQuantity + p.SellTodayQuantity }

// NetQuantity is long minus short, the position's directional exposure.
func (p *Position) NetQuantity() int32 { return p.BuyQuantity() - p.SellQuantity() }

// IsFlat reports whether the position carries no exposure in either direction.
func (p *Position) IsFlat() bool { return p.BuyQuantity() == 0 && p.SellQuantity() == 0 }

// UpdateLastPrice records the latest observed price, ignoring NaN/zero
// quotes rather than letting them corrupt mark-to-market.
func (p *Position) UpdateLastPrice(price float64) {
	if !(price > 0) {
		return
	}
	p.LastPrice = price
}

// MarketValue is the stock-style mark-to-market value of the long side; for
// futures this is not meaningful (see Margin/HoldingPnL instead) but is
// still computed for symmetry with BaseAccount.market_value.
func (p *Position) MarketValue() float64 {
	return float64(p.BuyQuantity()) * p.LastPrice
}

// Margin returns the futures margin currently held against this position's
// net exposure: quantity * contract_multiplier * price * margin_rate.
func (p *Position) Margin() float64 {
	if p.Type != model.AccountFuture {
		return 0
	}
	net := p.NetQuantity()
	if net < 0 {
		net = -net
	}
	return float64(net) * p.ContractMultiplier * p.LastPrice * p.MarginRate
}

// HoldingPnL is unrealized mark-to-market PnL on the open quantity,
// measured against each side's average open price. ApplySettlement re-bases
// those averages to the settlement price, so after a roll this is the gain
// since the prior settlement; for a position opened intraday it is the gain
// since the fills themselves.
func (p *Position) HoldingPnL() float64 {
	switch p.Type {
	case model.AccountFuture:
		long := (p.LastPrice - p.BuyAvgOpenPrice) * p.ContractMultiplier * float64(p.BuyQuantity())
		short := (p.SellAvgOpenPrice - p.LastPrice) * p.ContractMultiplier * float64(p.SellQuantity())
		return long + short
	default:
		return (p.LastPrice - p.BuyAvgOpenPrice) * float64(p.BuyQuantity())
	}
}

// ApplyTrade folds one fill into the position's buckets, realized PnL, and
// last-traded price, and returns the cash delta the trade produces: for
// futures, -Δmargin + realized_pnl_delta (both margin and PnL are marked
// against the trade's own price, since that is the freshest observed price
// at the instant of the fill); for stock, -notional on a buy and +notional
// on a sell. Opens add to the today bucket (a fill can never be "old" the
// instant it happens); closes drain the today bucket before the old bucket,
// per the close-today-first sequencing the matcher already enforces via
// CloseTodayAmount — so this trusts trade.CloseTodayAmount directly rather
// than recomputing it.
func (p *Position) ApplyTrade(trade model.Trade) float64 {
	marginBefore := p.Margin()
	realizedBefore := p.RealizedPnL

	switch trade.Offset {
	case model.OffsetOpen:
		if trade.Side.IsBuy() {
			p.BuyTodayQuantity += trade.Quantity
			p.BuyAvgOpenPrice = weightedAvg(p.BuyAvgOpenPrice, p.BuyQuantity()-trade.Quantity, trade.Price, trade.Quantity)
		} else {
			p.SellTodayQuantity += trade.Quantity
			p.SellAvgOpenPrice = weightedAvg(p.SellAvgOpenPrice, p.SellQuantity()-trade.Quantity, trade.Price, trade.Quantity)
		}

	default: // CLOSE, CLOSE_TODAY, CLOSE_YESTERDAY
		today := trade.CloseTodayAmount
		yesterday := trade.Quantity - today
		if trade.Side.IsBuy() {
			// A buy-to-close closes a short position.
			p.closeShort(today, yesterday, trade.Price)
		} else {
			p.closeLong(today, yesterday, trade.Price)
		}
	}

	p.UpdateLastPrice(trade.Price)

	if p.Type == model.AccountFuture {
		deltaMargin := p.Margin() - marginBefore
		realizedDelta := p.RealizedPnL - realizedBefore
		return -deltaMargin + realizedDelta
	}
	if trade.Side.IsBuy() {
		return -trade.Price * float64(trade.Quantity)
	}
	return trade.Price * float64(trade.Quantity)
}

func (p *Position) closeLong(today, yesterday int32, price float64) {
	if today > p.BuyTodayQuantity {
		today = p.BuyTodayQuantity
	}
	p.BuyTodayQuantity -= today
	p.RealizedPnL += (price - p.BuyAvgOpenPrice) * p.realizedMultiplier() * float64(today)

	if yesterday > p.BuyOldQuantity {
		yesterday = p.BuyOldQuantity
	}
	p.BuyOldQuantity -= yesterday
	p.RealizedPnL += (price - p.BuyAvgOpenPrice) * p.realizedMultiplier() * float64(yesterday)
}

func (p *Position) closeShort(today, yesterday int32, price float64) {
	if today > p.SellTodayQuantity {
		today = p.SellTodayQuantity
	}
	p.SellTodayQuantity -= today
	p.RealizedPnL += (p.SellAvgOpenPrice - price) * p.realizedMultiplier() * float64(today)

	if yesterday > p.SellOldQuantity {
		yesterday = p.SellOldQuantity
	}
	p.SellOldQuantity -= yesterday
	p.RealizedPnL += (p.SellAvgOpenPrice - price) * p.realizedMultiplier() * float64(yesterday)
}

// realizedMultiplier is the per-unit-quantity scaling applied to a close's
// price delta: a futures contract's realized PnL scales with
// ContractMultiplier, while a stock share does not (ContractMultiplier is
// always 1 for stock instruments, so this only matters for futures).
func (p *Position) realizedMultiplier() float64 {
	if p.Type == model.AccountFuture {
		return p.ContractMultiplier
	}
	return 1
}

func weightedAvg(prevAvg float64, prevQty int32, newPrice float64, newQty int32) float64 {
	total := prevQty + newQty
	if total <= 0 {
		return newPrice
	}
	return (prevAvg*float64(prevQty) + newPrice*float64(newQty)) / float64(total)
}

// ApplySettlement rolls today's buckets into old (the futures end-of-day
// roll) and re-bases every remaining bucket's average open price to the
// settlement price, since a new trading day's realized PnL on a close is
// measured against yesterday's settlement, not the original fill price.
// It also records the settlement price as the holding-PnL reference for the
// next trading day.
func (p *Position) ApplySettlement(settlementPrice float64) {
	p.BuyOldQuantity += p.BuyTodayQuantity
	p.BuyTodayQuantity = 0
	p.SellOldQuantity += p.SellTodayQuantity
	p.SellTodayQuantity = 0
	if settlementPrice > 0 {
		if p.BuyQuantity() > 0 {
			p.BuyAvgOpenPrice = settlementPrice
		}
		if p.SellQuantity() > 0 {
			p.SellAvgOpenPrice = settlementPrice
		}
		p.PrevSettlement = settlementPrice
		p.LastPrice = settlementPrice
	}
}

// MarkDeListed flags the position as belonging to a de-listed instrument;
// an account prunes flat de-listed positions at settlement.
func (p *Position) MarkDeListed() { p.deListed = true }

// IsDeListed reports whether MarkDeListed has been called.
func (p *Position) IsDeListed() bool { return p.deListed }

// AdjustMarginRate absorbs a margin-rate change observed when restoring
// from a persistence snapshot taken under a different rate than the one
// currently configured: the margin rate is simply replaced, since margin
// itself is always recomputed on demand from quantity/price/rate rather
// than stored as an independent figure that could drift out of sync.
func (p *Position) AdjustMarginRate(newRate float64) {
	p.MarginRate = newRate
}
