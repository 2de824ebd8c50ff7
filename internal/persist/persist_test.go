package persist

import (
	"context"
	"testing"
	"time"

	"github.com/quantreplay/backsim/internal/account"
	"github.com/quantreplay/backsim/internal/model"
	"github.com/quantreplay/backsim/internal/portfolio"
)

type memStore struct{ data map[string][]byte }

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Store(ctx context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *memStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

type fakeInstruments struct{}

func (fakeInstruments) Get(id string) (model.Instrument, bool) {
	return model.Instrument{OrderBookID: id, ContractMultiplier: 10, MarginRate: 0.1}, true
}

func TestOrderStateRoundTrip(t *testing.T) {
	orig := model.NewOrder(1, "AAA", model.SideBuy, model.OffsetOpen, 1000, model.OrderLimit, 10.5, time.Now())
	orig.ApplyFill(10.5, 400, 4.2)

	store := newMemStore()
	h := NewHelper(store)
	h.Register("order:1", OrderState{Order: orig})

	if err := h.PersistAll(context.Background()); err != nil {
		t.Fatalf("PersistAll: %v", err)
	}

	restored := &model.Order{}
	if err := (OrderState{Order: restored}).SetState(store.data["order:1"]); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if restored.OrderID != orig.OrderID || restored.FilledQuantity != orig.FilledQuantity || restored.Status != orig.Status {
		t.Fatalf("round trip mismatch: got %+v, want %+v", restored, orig)
	}
}

func TestPersistAllSkipsUnchangedState(t *testing.T) {
	order := model.NewOrder(1, "AAA", model.SideBuy, model.OffsetOpen, 100, model.OrderLimit, 10, time.Now())
	store := newMemStore()
	h := NewHelper(store)
	h.Register("order:1", OrderState{Order: order})

	if err := h.PersistAll(context.Background()); err != nil {
		t.Fatalf("first PersistAll: %v", err)
	}
	first := store.data["order:1"]

	if err := h.PersistAll(context.Background()); err != nil {
		t.Fatalf("second PersistAll: %v", err)
	}
	if len(store.data["order:1"]) != len(first) {
		t.Fatalf("unchanged object should not be rewritten")
	}

	order.ApplyFill(10, 50, 1)
	if err := h.PersistAll(context.Background()); err != nil {
		t.Fatalf("third PersistAll: %v", err)
	}
	var restored model.Order
	if err := (OrderState{Order: &restored}).SetState(store.data["order:1"]); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if restored.FilledQuantity != 50 {
		t.Fatalf("changed object should be rewritten: FilledQuantity = %d, want 50", restored.FilledQuantity)
	}
}

func TestAccountAndPortfolioStateRoundTrip(t *testing.T) {
	p := portfolio.New(time.Now(), 1_000_000)
	acc := account.NewAccount(7, model.AccountFuture, 1_000_000, fakeInstruments{})
	p.AddAccount(acc)

	trade := model.Trade{TradeID: 1, OrderBookID: "AAA", Side: model.SideBuy, Offset: model.OffsetOpen, Price: 3000, Quantity: 2}
	pos := account.NewPosition("AAA", model.AccountFuture, 10, 0.1)
	pos.UpdateLastPrice(3000)
	pos.ApplyTrade(trade)
	acc.Positions["AAA"] = pos

	store := newMemStore()
	h := NewHelper(store)
	h.Register("portfolio", PortfolioState{Portfolio: p})

	if err := h.PersistAll(context.Background()); err != nil {
		t.Fatalf("PersistAll: %v", err)
	}

	restoredAcc := account.NewAccount(7, model.AccountFuture, 0, fakeInstruments{})
	restoredPortfolio := portfolio.New(time.Time{}, 0)
	restoredPortfolio.AddAccount(restoredAcc)

	if err := (PortfolioState{Portfolio: restoredPortfolio}).SetState(store.data["portfolio"]); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	if restoredAcc.TotalCash != acc.TotalCash {
		t.Fatalf("TotalCash = %v, want %v", restoredAcc.TotalCash, acc.TotalCash)
	}
	gotPos, ok := restoredAcc.Positions["AAA"]
	if !ok {
		t.Fatalf("restored account missing position AAA")
	}
	if gotPos.BuyTodayQuantity != pos.BuyTodayQuantity {
		t.Fatalf("BuyTodayQuantity = %d, want %d", gotPos.BuyTodayQuantity, pos.BuyTodayQuantity)
	}
	if restoredPortfolio.Units != p.Units {
		t.Fatalf("Units = %v, want %v", restoredPortfolio.Units, p.Units)
	}
}
