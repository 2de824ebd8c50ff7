package engine

import (
	"context"
	"testing"
	"time"

	"github.com/quantreplay/backsim/internal/account"
	"github.com/quantreplay/backsim/internal/broker"
	"github.com/quantreplay/backsim/internal/bus"
	"github.com/quantreplay/backsim/internal/config"
	"github.com/quantreplay/backsim/internal/datasource"
	"github.com/quantreplay/backsim/internal/decider"
	"github.com/quantreplay/backsim/internal/model"
	"github.com/quantreplay/backsim/internal/portfolio"
)

// TestSingleMarketBuyEndToEnd drives one market buy through the fully wired
// Engine: a stock bar close of 10.0, a market buy for 1000 shares, 0.08%
// commission with a 5-unit minimum, and zero tax on a buy.
func TestSingleMarketBuyEndToEnd(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	instruments := NewInstrumentRegistry([]model.Instrument{
		{OrderBookID: "AAA", Type: model.InstrumentStock, RoundLot: 100, ContractMultiplier: 1, ListedDate: now.AddDate(-1, 0, 0)},
	})

	b := bus.New(bus.WithSystemTimerInterval(0), bus.WithMarketTimerInterval(0))
	orders := broker.NewOpenOrderTable()
	acc := account.NewAccount(1, model.AccountStock, 1_000_000, instruments)
	p := portfolio.New(now, 1_000_000)
	p.AddAccount(acc)

	matchers := NewMatchers(b, instruments, p, model.CurrentBarClose, config.MatchingConfig{
		VolumeLimit:   true,
		VolumePercent: 0.25,
	}, nil)
	// Zero out slippage for an exact-price assertion.
	matchers[model.AccountStock].Slippage = decider.NoSlippage{}

	br := broker.New(model.NewUniverse("AAA"), &fakeDataSourceAdapter{}, b, orders, broker.ModeBar, now.Add(-time.Hour), now.Add(time.Hour))

	e := New(b, br, orders, p, instruments, nil, matchers)
	e.Attach()

	var trades []*model.Trade
	b.AddListener(model.EventTrade, func(ctx context.Context, ev *model.Event) error {
		trades = append(trades, ev.Trade)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	defer func() { cancel(); b.Stop() }()

	order := model.NewOrder(1, "AAA", model.SideBuy, model.OffsetOpen, 1000, model.OrderMarket, 0, now)
	e.SubmitOrder(order)

	// Admission runs on the bus's dispatch goroutine; wait for it to land in
	// the open-order table before publishing the snapshot.
	waitFor(t, func() bool { return orders.Len() == 1 })

	snapEvent := model.NewEvent(model.EventMarketSend, now)
	snapEvent.OrderBookID = "AAA"
	bar := &model.Bar{
		Instrument: ptrInstrument(instruments, "AAA"),
		DateTime:   now,
		Open:       10.0, High: 10.0, Low: 10.0, Close: 10.0,
		Volume: 1_000_000,
	}
	snapEvent.Bar = bar
	b.Publish(snapEvent)

	waitFor(t, func() bool { return len(trades) == 1 })

	trade := trades[0]
	if trade.Price != 10.0 {
		t.Errorf("trade price = %v, want 10.0", trade.Price)
	}
	if trade.Quantity != 1000 {
		t.Errorf("trade quantity = %v, want 1000", trade.Quantity)
	}
	wantCommission := 10.0 * 1000 * 0.0008
	if trade.Commission != wantCommission {
		t.Errorf("commission = %v, want %v", trade.Commission, wantCommission)
	}
	if trade.Tax != 0 {
		t.Errorf("tax = %v, want 0 on a buy", trade.Tax)
	}
	waitFor(t, func() bool { return order.Status == model.OrderFilled })

	waitFor(t, func() bool {
		wantCash := 1_000_000.0 - (10.0*1000 + wantCommission)
		return acc.TotalCash == wantCash
	})

	// A later snapshot with no resting orders still marks the position to
	// market.
	snap2 := model.NewEvent(model.EventMarketSend, now.Add(time.Minute))
	snap2.OrderBookID = "AAA"
	snap2.Bar = &model.Bar{
		Instrument: ptrInstrument(instruments, "AAA"),
		DateTime:   now.Add(time.Minute),
		Open:       10.0, High: 11.0, Low: 10.0, Close: 11.0,
		Volume: 1_000_000,
	}
	b.Publish(snap2)

	waitFor(t, func() bool {
		pos, ok := acc.Positions["AAA"]
		return ok && pos.LastPrice == 11.0
	})
}

func ptrInstrument(r *InstrumentRegistry, id string) *model.Instrument {
	inst, _ := r.Get(id)
	return &inst
}

// fakeDataSourceAdapter is an empty DataSource: this test publishes its
// MARKET_SEND directly instead of driving the broker's replay pipeline.
type fakeDataSourceAdapter struct{}

var _ datasource.DataSource = fakeDataSourceAdapter{}

func (fakeDataSourceAdapter) GetBar(orderBookID string, dt time.Time) (model.Bar, bool, error) {
	return model.Bar{}, false, nil
}
func (fakeDataSourceAdapter) GetSettlePrice(orderBookID string, dt time.Time) (float64, error) {
	return 0, nil
}
func (fakeDataSourceAdapter) HistoryBars(orderBookID string, dt time.Time, n int) ([]model.Bar, error) {
	return nil, nil
}
func (fakeDataSourceAdapter) CurrentSnapshot(orderBookID string, dt time.Time) (model.MarketSnapshot, bool, error) {
	return nil, false, nil
}
func (fakeDataSourceAdapter) GetTradingMinutesFor(orderBookID string, dt time.Time) ([]datasource.TradingMinute, error) {
	return nil, nil
}
func (fakeDataSourceAdapter) AvailableDataRange(orderBookID string) (time.Time, time.Time, error) {
	return time.Time{}, time.Time{}, nil
}
func (fakeDataSourceAdapter) GetMergeTicks(orderBookID string, start, end time.Time) ([]model.Tick, error) {
	return nil, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before deadline")
	}
}
