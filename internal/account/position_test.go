package account

import (
	"testing"

	"github.com/quantreplay/backsim/internal/model"
)

// TestPositionApplyTradeFuturesOpenThenCloseToday: OPEN buy 2 @ 3000
// (multiplier=10, margin_rate=0.1) gives margin=6000, then CLOSE_TODAY
// sell 2 @ 3050 realizes (3050-3000)*2*10 = 1000 and drops margin back
// to 0.
func TestPositionApplyTradeFuturesOpenThenCloseToday(t *testing.T) {
	p := NewPosition("IF2403", model.AccountFuture, 10, 0.1)

	open := model.Trade{TradeID: 1, OrderBookID: "IF2403", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 3000, Quantity: 2}
	deltaOpen := p.ApplyTrade(open)

	if got, want := p.Margin(), 6000.0; got != want {
		t.Fatalf("margin after open = %v, want %v", got, want)
	}
	if got, want := deltaOpen, -6000.0; got != want {
		t.Fatalf("delta cash on open = %v, want %v", got, want)
	}

	close := model.Trade{TradeID: 2, OrderBookID: "IF2403", Side: model.SideSell, Offset: model.OffsetCloseToday, Price: 3050, Quantity: 2, CloseTodayAmount: 2}
	deltaClose := p.ApplyTrade(close)

	if got, want := p.RealizedPnL, 1000.0; got != want {
		t.Fatalf("realized pnl = %v, want %v", got, want)
	}
	if got, want := p.Margin(), 0.0; got != want {
		t.Fatalf("margin after close = %v, want %v", got, want)
	}
	// -Δmargin + realized_pnl_delta = -(0-6000) + 1000 = 7000.
	if got, want := deltaClose, 7000.0; got != want {
		t.Fatalf("delta cash on close = %v, want %v", got, want)
	}
}

// TestPositionApplySettlementRollsTodayToOld: after an open leg with no
// close, settlement at 3020 rolls the today bucket into old, re-bases the
// average open price, and zeroes the within-day realized PnL bucket.
func TestPositionApplySettlementRollsTodayToOld(t *testing.T) {
	p := NewPosition("IF2403", model.AccountFuture, 10, 0.1)
	p.ApplyTrade(model.Trade{TradeID: 1, OrderBookID: "IF2403", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 3000, Quantity: 2})

	if got, want := p.BuyTodayQuantity, int32(2); got != want {
		t.Fatalf("buy today quantity before settlement = %v, want %v", got, want)
	}

	p.RealizedPnL = 0 // handleSettlement always zeroes this before rolling
	p.ApplySettlement(3020)

	if got, want := p.BuyOldQuantity, int32(2); got != want {
		t.Fatalf("buy old quantity after settlement = %v, want %v", got, want)
	}
	if got, want := p.BuyTodayQuantity, int32(0); got != want {
		t.Fatalf("buy today quantity after settlement = %v, want %v", got, want)
	}
	if got, want := p.BuyAvgOpenPrice, 3020.0; got != want {
		t.Fatalf("avg open price after settlement = %v, want %v", got, want)
	}
	if got, want := p.PrevSettlement, 3020.0; got != want {
		t.Fatalf("prev settlement = %v, want %v", got, want)
	}
	if got, want := p.RealizedPnL, 0.0; got != want {
		t.Fatalf("realized pnl after settlement = %v, want %v", got, want)
	}

	// Holding PnL on the next bar is measured against the new settlement
	// reference, not the original 3000 fill price.
	p.UpdateLastPrice(3030)
	if got, want := p.HoldingPnL(), 200.0; got != want {
		t.Fatalf("holding pnl after next bar = %v, want %v", got, want)
	}
}

// TestPositionHoldingPnLIntraday: a position opened today, with no
// settlement yet, marks its unrealized PnL against the average open price.
func TestPositionHoldingPnLIntraday(t *testing.T) {
	p := NewPosition("IF2403", model.AccountFuture, 10, 0.1)
	p.ApplyTrade(model.Trade{TradeID: 1, OrderBookID: "IF2403", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 3000, Quantity: 2})

	p.UpdateLastPrice(3010)
	if got, want := p.HoldingPnL(), 200.0; got != want {
		t.Fatalf("holding pnl intraday = %v, want %v ((3010-3000)*2*10)", got, want)
	}

	short := NewPosition("IF2403", model.AccountFuture, 10, 0.1)
	short.ApplyTrade(model.Trade{TradeID: 2, OrderBookID: "IF2403", Side: model.SideSell, Offset: model.OffsetOpen, Price: 3000, Quantity: 2})
	short.UpdateLastPrice(3010)
	if got, want := short.HoldingPnL(), -200.0; got != want {
		t.Fatalf("short holding pnl intraday = %v, want %v", got, want)
	}
}

// TestPositionApplyTradeStockBuyThenSell confirms the stock-side cash delta
// formula: -notional on a buy, +notional on a sell.
func TestPositionApplyTradeStockBuyThenSell(t *testing.T) {
	p := NewPosition("AAA", model.AccountStock, 1, 0)

	buy := model.Trade{TradeID: 1, OrderBookID: "AAA", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 10, Quantity: 100}
	if got, want := p.ApplyTrade(buy), -1000.0; got != want {
		t.Fatalf("delta cash on buy = %v, want %v", got, want)
	}
	if got, want := p.BuyQuantity(), int32(100); got != want {
		t.Fatalf("buy quantity = %v, want %v", got, want)
	}

	sell := model.Trade{TradeID: 2, OrderBookID: "AAA", Side: model.SideSell, Offset: model.OffsetClose, Price: 12, Quantity: 100, CloseTodayAmount: 100}
	if got, want := p.ApplyTrade(sell), 1200.0; got != want {
		t.Fatalf("delta cash on sell = %v, want %v", got, want)
	}
	if !p.IsFlat() {
		t.Fatalf("position should be flat after closing the full quantity")
	}
}

// TestPositionApplyTradeCloseDrainsTodayBeforeOld confirms a close trusts
// trade.CloseTodayAmount rather than recomputing the today/old split, even
// when the position already carries an old bucket opened at a different
// price than today's fill (BuyAvgOpenPrice is a single running average
// across both buckets, re-weighted on every open).
func TestPositionApplyTradeCloseDrainsTodayBeforeOld(t *testing.T) {
	p := NewPosition("IF2403", model.AccountFuture, 10, 0.1)
	p.BuyOldQuantity = 3
	p.BuyAvgOpenPrice = 2900

	p.ApplyTrade(model.Trade{TradeID: 1, OrderBookID: "IF2403", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 3000, Quantity: 2})
	// Re-weighted average across the 3 old @ 2900 and 2 new @ 3000: 2940.
	if got, want := p.BuyAvgOpenPrice, 2940.0; got != want {
		t.Fatalf("avg open price after open = %v, want %v", got, want)
	}

	close := model.Trade{TradeID: 2, OrderBookID: "IF2403", Side: model.SideSell, Offset: model.OffsetClose, Price: 3100, Quantity: 4, CloseTodayAmount: 2}
	p.ApplyTrade(close)

	if got, want := p.BuyTodayQuantity, int32(0); got != want {
		t.Fatalf("buy today quantity = %v, want %v", got, want)
	}
	if got, want := p.BuyOldQuantity, int32(1); got != want {
		t.Fatalf("buy old quantity = %v, want %v", got, want)
	}
	// today leg: (3100-2940)*2*10 = 3200; old leg: (3100-2940)*2*10 = 3200.
	if got, want := p.RealizedPnL, 6400.0; got != want {
		t.Fatalf("realized pnl = %v, want %v", got, want)
	}
}

func TestPositionAdjustMarginRate(t *testing.T) {
	p := NewPosition("IF2403", model.AccountFuture, 10, 0.1)
	p.BuyOldQuantity = 2
	p.UpdateLastPrice(3000)

	before := p.Margin()
	p.AdjustMarginRate(0.12)
	after := p.Margin()

	if before == after {
		t.Fatalf("margin should change after a margin rate adjustment")
	}
	if got, want := after, 2*10*3000.0*0.12; got != want {
		t.Fatalf("margin at new rate = %v, want %v", got, want)
	}
}
