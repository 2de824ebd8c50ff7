package matching

import (
	"context"
	"testing"
	"time"

	"github.com/quantreplay/backsim/internal/bus"
	"github.com/quantreplay/backsim/internal/decider"
	"github.com/quantreplay/backsim/internal/model"
)

type fakeInstruments struct {
	instruments map[string]model.Instrument
}

func (f fakeInstruments) Get(id string) (model.Instrument, bool) {
	inst, ok := f.instruments[id]
	return inst, ok
}

type fakePositions struct{ todayQty int32 }

func (f fakePositions) TodayOpenQuantity(uint64, string, model.Side) int32 { return f.todayQty }

func newTestMatcher(b *bus.Bus, roundLot int32) *Matcher {
	instruments := fakeInstruments{instruments: map[string]model.Instrument{
		"AAA": {OrderBookID: "AAA", RoundLot: roundLot, ListedDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}
	return NewMatcher(
		decider.StandardDealDecider{},
		decider.NoSlippage{},
		flatCommission{},
		flatTax{},
		instruments,
		fakePositions{},
		model.NextTickLast,
		b,
	)
}

type flatCommission struct{}

func (flatCommission) GetCommission(model.Trade) float64 { return 0 }

type flatTax struct{}

func (flatTax) GetTax(model.Trade) float64 { return 0 }

func TestMatchFillsLimitOrderWithinPrice(t *testing.T) {
	b := bus.New(bus.WithSystemTimerInterval(0), bus.WithMarketTimerInterval(0))
	var trades []*model.Trade
	b.AddListener(model.EventTrade, func(ctx context.Context, e *model.Event) error {
		trades = append(trades, e.Trade)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	defer func() { cancel(); b.Stop() }()

	m := newTestMatcher(b, 100)
	order := model.NewOrder(1, "AAA", model.SideBuy, model.OffsetOpen, 100, model.OrderLimit, 51, time.Now())
	order.Activate()

	snap := model.Tick{OrderBookID: "AAA", DateTime: time.Now(), Last: 50, Volume: 1000}
	if err := m.Match(ctx, snap, []*model.Order{order}); err != nil {
		t.Fatalf("Match: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(trades) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if order.Status != model.OrderFilled {
		t.Fatalf("expected order filled, got %s", order.Status)
	}
}

func TestMatchSkipsWhenLimitPriceNotReached(t *testing.T) {
	b := bus.New(bus.WithSystemTimerInterval(0), bus.WithMarketTimerInterval(0))
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	defer func() { cancel(); b.Stop() }()

	m := newTestMatcher(b, 100)
	order := model.NewOrder(1, "AAA", model.SideBuy, model.OffsetOpen, 100, model.OrderLimit, 40, time.Now())
	order.Activate()

	snap := model.Tick{OrderBookID: "AAA", DateTime: time.Now(), Last: 50, Volume: 1000}
	if err := m.Match(ctx, snap, []*model.Order{order}); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if order.Status != model.OrderActive {
		t.Fatalf("expected order to remain active (price not reached), got %s", order.Status)
	}
}

func TestMatchCancelsMarketOrderOnVolumeExhaustion(t *testing.T) {
	b := bus.New(bus.WithSystemTimerInterval(0), bus.WithMarketTimerInterval(0))
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	defer func() { cancel(); b.Stop() }()

	m := newTestMatcher(b, 100)
	order := model.NewOrder(1, "AAA", model.SideBuy, model.OffsetOpen, 10000, model.OrderMarket, 0, time.Now())
	order.Activate()

	// Volume only supports a small participation-capped fill, far short of
	// the order's full size.
	snap := model.Tick{OrderBookID: "AAA", DateTime: time.Now(), Last: 50, Volume: 400}
	if err := m.Match(ctx, snap, []*model.Order{order}); err != nil {
		t.Fatalf("Match: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if order.Status != model.OrderCancelled {
		t.Fatalf("expected market order to cancel on exhausted volume, got %s", order.Status)
	}
	if order.FilledQuantity != 100 {
		t.Fatalf("expected partial fill of 100 (25%% participation of 400, floored to round lot), got %d", order.FilledQuantity)
	}
}

func TestMatchRejectsMarketBuyAtLimitUp(t *testing.T) {
	b := bus.New(bus.WithSystemTimerInterval(0), bus.WithMarketTimerInterval(0))
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	defer func() { cancel(); b.Stop() }()

	m := newTestMatcher(b, 100)
	m.UpdownPriceLimitEnabled = true
	order := model.NewOrder(1, "AAA", model.SideBuy, model.OffsetOpen, 100, model.OrderMarket, 0, time.Now())
	order.Activate()

	snap := model.Tick{OrderBookID: "AAA", DateTime: time.Now(), Last: 55, LimitUp: 55, LimitDown: 45, Volume: 1000}
	if err := m.Match(ctx, snap, []*model.Order{order}); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if order.Status != model.OrderRejected {
		t.Fatalf("expected market buy at limit_up to be rejected, got %s", order.Status)
	}
	if order.Message != "limit_up" {
		t.Fatalf("expected limit_up reason, got %q", order.Message)
	}
}

func TestMatchCancelsMarketOrderWhenNoVolumeAvailable(t *testing.T) {
	b := bus.New(bus.WithSystemTimerInterval(0), bus.WithMarketTimerInterval(0))
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	defer func() { cancel(); b.Stop() }()

	m := newTestMatcher(b, 100)
	order := model.NewOrder(1, "AAA", model.SideBuy, model.OffsetOpen, 100, model.OrderMarket, 0, time.Now())
	order.Activate()

	// 25% participation of 200 is 50, which floors to zero whole round lots:
	// nothing is available, so a market order cancels rather than rests.
	snap := model.Tick{OrderBookID: "AAA", DateTime: time.Now(), Last: 50, Volume: 200}
	if err := m.Match(ctx, snap, []*model.Order{order}); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if order.Status != model.OrderCancelled {
		t.Fatalf("expected market order cancelled when no volume is available, got %s", order.Status)
	}
	if order.FilledQuantity != 0 {
		t.Fatalf("expected no fill, got %d", order.FilledQuantity)
	}
}

func TestVolumeCapFloorsToRoundLot(t *testing.T) {
	if got := volumeCap(1000, 0.25, 100); got != 200 {
		t.Fatalf("expected 200 (25%% of 1000 floored to round lot 100), got %d", got)
	}
}
