package account

import (
	"context"
	"testing"
	"time"

	"github.com/quantreplay/backsim/internal/model"
)

type fakeInstruments struct {
	byID map[string]model.Instrument
}

func newFakeInstruments(insts ...model.Instrument) *fakeInstruments {
	f := &fakeInstruments{byID: make(map[string]model.Instrument, len(insts))}
	for _, inst := range insts {
		f.byID[inst.OrderBookID] = inst
	}
	return f
}

func (f *fakeInstruments) Get(id string) (model.Instrument, bool) {
	inst, ok := f.byID[id]
	return inst, ok
}

func futureInstrument(id string) model.Instrument {
	return model.Instrument{OrderBookID: id, Type: model.InstrumentFuture, ContractMultiplier: 10, MarginRate: 0.1}
}

func tradeEvent(brokerID uint64, trade model.Trade) *model.Event {
	ev := model.NewEvent(model.EventTrade, time.Now())
	ev.BrokerID = brokerID
	ev.Trade = &trade
	return &ev
}

// TestHandleTradeFuturesOpenThenCloseToday drives the open/close-today pair
// through the account's event handler rather than Position directly: after
// OPEN buy 2 @ 3000 then CLOSE_TODAY sell 2 @ 3050, total_cash must
// increase by realized_pnl (1000) minus transaction costs, with margin
// fully released.
func TestHandleTradeFuturesOpenThenCloseToday(t *testing.T) {
	insts := newFakeInstruments(futureInstrument("IF2403"))
	acc := NewAccount(1, model.AccountFuture, 1_000_000, insts)
	ctx := context.Background()

	open := model.Trade{TradeID: 1, OrderBookID: "IF2403", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 3000, Quantity: 2, FrozenPrice: 3000}
	if err := acc.handleTrade(ctx, tradeEvent(1, open)); err != nil {
		t.Fatalf("handleTrade(open): %v", err)
	}

	wantCashAfterOpen := 1_000_000.0 - 6000.0 // margin moved out of cash, no cost on this trade
	if acc.TotalCash != wantCashAfterOpen {
		t.Fatalf("total cash after open = %v, want %v", acc.TotalCash, wantCashAfterOpen)
	}

	closeTrade := model.Trade{TradeID: 2, OrderBookID: "IF2403", Side: model.SideSell, Offset: model.OffsetCloseToday, Price: 3050, Quantity: 2, CloseTodayAmount: 2, Commission: 6}
	if err := acc.handleTrade(ctx, tradeEvent(1, closeTrade)); err != nil {
		t.Fatalf("handleTrade(close): %v", err)
	}

	wantCashAfterClose := wantCashAfterOpen + 7000.0 - 6.0 // +margin release +realized pnl -commission
	if acc.TotalCash != wantCashAfterClose {
		t.Fatalf("total cash after close = %v, want %v", acc.TotalCash, wantCashAfterClose)
	}
	pos := acc.Positions["IF2403"]
	if pos.Margin() != 0 {
		t.Fatalf("margin after close = %v, want 0", pos.Margin())
	}
}

// TestHandleTradeIdempotentOnDuplicateTradeID: re-delivering the same
// TradeID (e.g. after a persistence restore replays the event log tail)
// must be a no-op.
func TestHandleTradeIdempotentOnDuplicateTradeID(t *testing.T) {
	insts := newFakeInstruments(futureInstrument("IF2403"))
	acc := NewAccount(1, model.AccountFuture, 1_000_000, insts)
	ctx := context.Background()

	trade := model.Trade{TradeID: 1, OrderBookID: "IF2403", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 3000, Quantity: 2, FrozenPrice: 3000}
	if err := acc.handleTrade(ctx, tradeEvent(1, trade)); err != nil {
		t.Fatalf("first handleTrade: %v", err)
	}
	cashAfterFirst := acc.TotalCash

	if err := acc.handleTrade(ctx, tradeEvent(1, trade)); err != nil {
		t.Fatalf("duplicate handleTrade: %v", err)
	}
	if acc.TotalCash != cashAfterFirst {
		t.Fatalf("duplicate trade must not change total cash: got %v, want %v", acc.TotalCash, cashAfterFirst)
	}
}

// TestHandleTradeReleasesFrozenCashAtFrozenPrice: frozen cash is released
// against the order's frozen_price, not the trade's actual executed price,
// so a fill away from its frozen reference never strands a residual.
func TestHandleTradeReleasesFrozenCashAtFrozenPrice(t *testing.T) {
	insts := newFakeInstruments(futureInstrument("IF2403"))
	acc := NewAccount(1, model.AccountFuture, 1_000_000, insts)
	ctx := context.Background()

	order := model.NewOrder(1, "IF2403", model.SideBuy, model.OffsetOpen, 2, model.OrderLimit, 3010, time.Now())
	pendingEvent := model.NewEvent(model.EventOrderPendingNew, time.Now())
	pendingEvent.BrokerID = 1
	pendingEvent.Order = order
	if err := acc.handlePendingNew(ctx, &pendingEvent); err != nil {
		t.Fatalf("handlePendingNew: %v", err)
	}
	wantFrozen := 2.0 * 10 * 3010 * 0.1
	if acc.FrozenCash != wantFrozen {
		t.Fatalf("frozen cash after pending new = %v, want %v", acc.FrozenCash, wantFrozen)
	}

	// The fill executes at 3000 (better than the 3010 limit), but the
	// obligation must be released at the order's frozen_price (3010), the
	// same basis it was reserved against.
	trade := model.Trade{TradeID: 1, OrderBookID: "IF2403", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 3000, Quantity: 2, FrozenPrice: 3010}
	if err := acc.handleTrade(ctx, tradeEvent(1, trade)); err != nil {
		t.Fatalf("handleTrade: %v", err)
	}
	if acc.FrozenCash != 0 {
		t.Fatalf("frozen cash after fill = %v, want 0", acc.FrozenCash)
	}
}

// TestHandleSettlementRollsTodayToOld: after an open with no close,
// settlement at 3020 (distinct from the 3000 last-traded price) rolls today
// into old and zeroes realized pnl, sourced from event.SettlePrices rather
// than the position's last price.
func TestHandleSettlementRollsTodayToOld(t *testing.T) {
	insts := newFakeInstruments(futureInstrument("IF2403"))
	acc := NewAccount(1, model.AccountFuture, 1_000_000, insts)
	ctx := context.Background()

	open := model.Trade{TradeID: 1, OrderBookID: "IF2403", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 3000, Quantity: 2, FrozenPrice: 3000}
	if err := acc.handleTrade(ctx, tradeEvent(1, open)); err != nil {
		t.Fatalf("handleTrade: %v", err)
	}

	settleEvent := model.NewEvent(model.EventSettlement, time.Now())
	settleEvent.SettlePrices = map[string]float64{"IF2403": 3020}
	if err := acc.handleSettlement(ctx, &settleEvent); err != nil {
		t.Fatalf("handleSettlement: %v", err)
	}

	pos, ok := acc.Positions["IF2403"]
	if !ok {
		t.Fatalf("position should survive settlement while non-flat")
	}
	if pos.BuyOldQuantity != 2 || pos.BuyTodayQuantity != 0 {
		t.Fatalf("today bucket not rolled into old: old=%d today=%d", pos.BuyOldQuantity, pos.BuyTodayQuantity)
	}
	if pos.PrevSettlement != 3020 {
		t.Fatalf("settlement price = %v, want 3020 (sourced from event.SettlePrices, not last-traded 3000)", pos.PrevSettlement)
	}
	if pos.RealizedPnL != 0 {
		t.Fatalf("realized pnl should be zeroed at settlement, got %v", pos.RealizedPnL)
	}
}

// TestHandleSettlementDropsFlatPosition: a flat position is dropped at
// settlement regardless of whether its instrument is still listed, not only
// when both flat and de-listed.
func TestHandleSettlementDropsFlatPosition(t *testing.T) {
	insts := newFakeInstruments(futureInstrument("IF2403"))
	acc := NewAccount(1, model.AccountFuture, 1_000_000, insts)
	ctx := context.Background()

	open := model.Trade{TradeID: 1, OrderBookID: "IF2403", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 3000, Quantity: 2, FrozenPrice: 3000}
	acc.handleTrade(ctx, tradeEvent(1, open))
	closeTrade := model.Trade{TradeID: 2, OrderBookID: "IF2403", Side: model.SideSell, Offset: model.OffsetCloseToday, Price: 3050, Quantity: 2, CloseTodayAmount: 2}
	acc.handleTrade(ctx, tradeEvent(1, closeTrade))

	settleEvent := model.NewEvent(model.EventSettlement, time.Now())
	if err := acc.handleSettlement(ctx, &settleEvent); err != nil {
		t.Fatalf("handleSettlement: %v", err)
	}

	if _, ok := acc.Positions["IF2403"]; ok {
		t.Fatalf("flat position should be dropped at settlement even though its instrument is still listed")
	}
}

// TestHandleSettlementClosesDeListedNonFlatPosition exercises the
// de-listed-and-non-flat branch: the system closes the position by force
// and it is still removed at settlement.
func TestHandleSettlementClosesDeListedNonFlatPosition(t *testing.T) {
	deListedDate := time.Now().AddDate(0, 0, -1)
	inst := futureInstrument("IF2403")
	inst.DeListedDate = &deListedDate
	insts := newFakeInstruments(inst)
	acc := NewAccount(1, model.AccountFuture, 1_000_000, insts)
	ctx := context.Background()

	open := model.Trade{TradeID: 1, OrderBookID: "IF2403", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 3000, Quantity: 2, FrozenPrice: 3000}
	acc.handleTrade(ctx, tradeEvent(1, open))

	settleEvent := model.NewEvent(model.EventSettlement, time.Now())
	if err := acc.handleSettlement(ctx, &settleEvent); err != nil {
		t.Fatalf("handleSettlement: %v", err)
	}

	if _, ok := acc.Positions["IF2403"]; ok {
		t.Fatalf("de-listed non-flat position should be force-closed and dropped at settlement")
	}
}
