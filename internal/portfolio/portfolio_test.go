package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/quantreplay/backsim/internal/account"
	"github.com/quantreplay/backsim/internal/bus"
	"github.com/quantreplay/backsim/internal/model"
)

type fakeInstruments struct{}

func (fakeInstruments) Get(id string) (model.Instrument, bool) {
	return model.Instrument{OrderBookID: id, ContractMultiplier: 1}, true
}

func TestTotalValueSumsAcrossAccounts(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	p := New(start, 1_000_000)

	stock := account.NewAccount(1, model.AccountStock, 600_000, fakeInstruments{})
	future := account.NewAccount(2, model.AccountFuture, 400_000, fakeInstruments{})
	p.AddAccount(stock)
	p.AddAccount(future)

	got := p.TotalValue()
	want := stock.TotalValue() + future.TotalValue()
	if got != want {
		t.Fatalf("TotalValue() = %v, want %v (sum of account.TotalValue(), not len(accounts)*anything)", got, want)
	}
	if got != 1_000_000 {
		t.Fatalf("TotalValue() = %v, want 1000000 with no trades yet", got)
	}
}

func TestUnitNetValueAndReturns(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	p := New(start, 1_000_000)
	stock := account.NewAccount(1, model.AccountStock, 1_000_000, fakeInstruments{})
	p.AddAccount(stock)

	if unv := p.UnitNetValue(); unv != 1.0 {
		t.Fatalf("UnitNetValue() = %v, want 1.0", unv)
	}
	if dr := p.DailyReturns(); dr != 0 {
		t.Fatalf("DailyReturns() = %v, want 0 before any PnL", dr)
	}

	stock.TotalCash = 1_100_000
	if got, want := p.DailyReturns(), 0.1; got-want > 1e-9 || got-want < -1e-9 {
		t.Fatalf("DailyReturns() = %v, want %v", got, want)
	}
	if got, want := p.TotalReturns(), 0.1; got-want > 1e-9 || got-want < -1e-9 {
		t.Fatalf("TotalReturns() = %v, want %v", got, want)
	}
	if got, want := p.DailyPnL(), 100_000.0; got-want > 1e-6 || got-want < -1e-6 {
		t.Fatalf("DailyPnL() = %v, want %v", got, want)
	}

	p.RefreshStaticUnitNetValue()
	if dr := p.DailyReturns(); dr != 0 {
		t.Fatalf("DailyReturns() after refresh = %v, want 0", dr)
	}
}

func TestAnnualizedReturns(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New(start, 1_000_000)
	stock := account.NewAccount(1, model.AccountStock, 1_000_000, fakeInstruments{})
	p.AddAccount(stock)

	asOf := start
	if got := p.AnnualizedReturns(asOf); got != 0 {
		t.Fatalf("AnnualizedReturns() at t0 = %v, want 0 (elapsed_days <= 0)", got)
	}

	stock.TotalCash = 1_100_000
	asOf = start.AddDate(0, 0, 365)
	got := p.AnnualizedReturns(asOf)
	want := 0.1
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("AnnualizedReturns() over exactly 365 days = %v, want %v", got, want)
	}
}

func TestPositionLookupAcrossAccounts(t *testing.T) {
	p := New(time.Now(), 1)
	stock := account.NewAccount(1, model.AccountStock, 0, fakeInstruments{})
	p.AddAccount(stock)

	if _, err := p.Position("AAA"); err != model.ErrPositionNotFound {
		t.Fatalf("Position() on unknown id error = %v, want model.ErrPositionNotFound", err)
	}

	b := bus.New(bus.WithSystemTimerInterval(0), bus.WithMarketTimerInterval(0))
	stock.RegisterHandlers(b)
	done := make(chan struct{})
	const barrier model.EventType = "test.barrier"
	b.AddListener(barrier, func(ctx context.Context, event *model.Event) error {
		close(done)
		return nil
	})
	b.Start(context.Background())
	defer b.Stop()

	trade := model.Trade{
		TradeID:     1,
		OrderBookID: "AAA",
		Side:        model.SideBuy,
		Offset:      model.OffsetOpen,
		Price:       10,
		Quantity:    100,
	}
	tradeEvent := model.NewEvent(model.EventTrade, time.Now())
	tradeEvent.BrokerID = 1
	tradeEvent.Trade = &trade
	b.Publish(tradeEvent)
	b.Publish(model.NewEvent(barrier, time.Now()))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the trade to be dispatched")
	}

	pos, err := p.Position("AAA")
	if err != nil {
		t.Fatalf("Position(\"AAA\") error = %v, want nil", err)
	}
	if pos.OrderBookID != "AAA" {
		t.Fatalf("Position(\"AAA\").OrderBookID = %q, want AAA", pos.OrderBookID)
	}
}
