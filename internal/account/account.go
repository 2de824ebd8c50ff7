package account

import (
	"context"
	"log"

	"github.com/quantreplay/backsim/internal/bus"
	"github.com/quantreplay/backsim/internal/model"
)

// InstrumentLookup resolves the static metadata an account needs to freeze
// cash/margin against a new order and to mark-to-market its positions.
type InstrumentLookup interface {
	Get(orderBookID string) (model.Instrument, bool)
}

// Account is one broker's cash and position bookkeeping. Stock and future
// accounts share this type; AccountType selects which freeze/settle rules
// apply.
//
// No method here takes a lock: the bus guarantees these handlers never run
// concurrently with each other or with any other account's handlers.
type Account struct {
	BrokerID   uint64
	Type       model.AccountType
	TotalCash  float64
	FrozenCash float64

	TransactionCost float64

	Positions map[string]*Position

	// BackwardTradeSet is the idempotence guard: a TRADE event whose
	// TradeID has already been applied is a duplicate (e.g. replayed from
	// a persistence restore) and must be skipped rather than double-booked.
	BackwardTradeSet map[uint64]bool

	Blown bool

	Instruments InstrumentLookup
	Logger      *log.Logger
}

// NewAccount constructs an account seeded with startingCash.
func NewAccount(brokerID uint64, typ model.AccountType, startingCash float64, instruments InstrumentLookup) *Account {
	return &Account{
		BrokerID:         brokerID,
		Type:             typ,
		TotalCash:        startingCash,
		Positions:        make(map[string]*Position),
		BackwardTradeSet: make(map[uint64]bool),
		Instruments:      instruments,
		Logger:           log.New(log.Writer(), "[account] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// Cash is the glossary's "cash = total_cash - frozen_cash": the portion of
// total cash not earmarked for a resting order's worst-case obligation.
func (a *Account) Cash() float64 { return a.TotalCash - a.FrozenCash }

func (a *Account) marketValueSum() float64 {
	var sum float64
	for _, p := range a.Positions {
		sum += p.MarketValue()
	}
	return sum
}

func (a *Account) marginSum() float64 {
	var sum float64
	for _, p := range a.Positions {
		sum += p.Margin()
	}
	return sum
}

func (a *Account) holdingPnLSum() float64 {
	var sum float64
	for _, p := range a.Positions {
		sum += p.HoldingPnL()
	}
	return sum
}

// TotalValue is the account's net worth: cash plus, for futures, margin and
// unrealized PnL; for stock, the market value of held shares.
func (a *Account) TotalValue() float64 {
	if a.Type == model.AccountFuture {
		return a.TotalCash + a.marginSum() + a.holdingPnLSum()
	}
	return a.TotalCash + a.marketValueSum()
}

func (a *Account) position(orderBookID string) *Position {
	p, ok := a.Positions[orderBookID]
	if ok {
		return p
	}
	marginRate, contractMultiplier := 0.0, 1.0
	if a.Instruments != nil {
		if inst, ok := a.Instruments.Get(orderBookID); ok {
			marginRate = inst.MarginRate
			contractMultiplier = inst.ContractMultiplier
		}
	}
	p = NewPosition(orderBookID, a.Type, contractMultiplier, marginRate)
	a.Positions[orderBookID] = p
	return p
}

// frozenCashOfOrder is the worst-case cash/margin obligation a resting
// order carries. Only OPEN-effect orders freeze anything: closing orders
// realize against existing margin/position rather than reserving new cash.
func (a *Account) frozenCashOfOrder(order *model.Order) float64 {
	if order.Offset != model.OffsetOpen && order.Offset != model.OffsetNone {
		return 0
	}
	price := order.LimitPrice
	if price <= 0 {
		price = order.FrozenPrice
	}
	qty := float64(order.UnfilledQuantity())

	if a.Type == model.AccountFuture {
		marginRate, multiplier := 0.0, 1.0
		if inst, ok := a.Instruments.Get(order.OrderBookID); ok {
			marginRate, multiplier = inst.MarginRate, inst.ContractMultiplier
		}
		return qty * multiplier * price * marginRate
	}
	if !order.Side.IsBuy() {
		return 0
	}
	return qty * price
}

// frozenCashOfTrade is the slice of frozenCashOfOrder that this fill
// releases: the obligation is always released against the order's frozen
// price (the reference price the freeze was taken at), never the trade's
// actual executed price, so a limit fill away from its frozen reference
// never strands a residual in frozen cash.
func (a *Account) frozenCashOfTrade(trade *model.Trade) float64 {
	if trade.Offset != model.OffsetOpen && trade.Offset != model.OffsetNone {
		return 0
	}
	qty := float64(trade.Quantity)

	if a.Type == model.AccountFuture {
		marginRate, multiplier := 0.0, 1.0
		if inst, ok := a.Instruments.Get(trade.OrderBookID); ok {
			marginRate, multiplier = inst.MarginRate, inst.ContractMultiplier
		}
		return qty * multiplier * trade.FrozenPrice * marginRate
	}
	if !trade.Side.IsBuy() {
		return 0
	}
	return qty * trade.FrozenPrice
}

// RegisterHandlers wires the account's event handlers onto b. Call once per
// account at setup.
func (a *Account) RegisterHandlers(b *bus.Bus) {
	b.AddListener(model.EventOrderPendingNew, a.handlePendingNew)
	b.AddListener(model.EventOrderCreationReject, a.handleCreationReject)
	b.AddListener(model.EventOrderCancellationPass, a.handleCancellationPass)
	b.AddListener(model.EventOrderUnsolicitedUpdate, a.handleUnsolicitedUpdate)
	b.AddListener(model.EventTrade, a.handleTrade)
	b.AddListener(model.EventSettlement, a.handleSettlement)
}

func (a *Account) forThisAccount(event *model.Event) bool {
	return event.BrokerID == a.BrokerID
}

func (a *Account) handlePendingNew(ctx context.Context, event *model.Event) error {
	if !a.forThisAccount(event) || event.Order == nil {
		return nil
	}
	a.FrozenCash += a.frozenCashOfOrder(event.Order)
	return nil
}

func (a *Account) handleCreationReject(ctx context.Context, event *model.Event) error {
	if !a.forThisAccount(event) || event.Order == nil {
		return nil
	}
	a.FrozenCash -= a.frozenCashOfOrder(event.Order)
	if a.FrozenCash < 0 {
		a.FrozenCash = 0
	}
	return nil
}

func (a *Account) handleCancellationPass(ctx context.Context, event *model.Event) error {
	return a.releaseRemainder(event)
}

func (a *Account) handleUnsolicitedUpdate(ctx context.Context, event *model.Event) error {
	return a.releaseRemainder(event)
}

func (a *Account) releaseRemainder(event *model.Event) error {
	if !a.forThisAccount(event) || event.Order == nil {
		return nil
	}
	a.FrozenCash -= a.frozenCashOfOrder(event.Order)
	if a.FrozenCash < 0 {
		a.FrozenCash = 0
	}
	return nil
}

// handleTrade applies one fill to cash and the relevant position, guarded
// by BackwardTradeSet so a replayed/duplicated TRADE event (e.g. after a
// persistence restore re-delivers the tail of the event log) is a no-op the
// second time it arrives.
func (a *Account) handleTrade(ctx context.Context, event *model.Event) error {
	if !a.forThisAccount(event) || event.Trade == nil {
		return nil
	}
	trade := event.Trade
	if a.BackwardTradeSet[trade.TradeID] {
		return nil
	}
	a.BackwardTradeSet[trade.TradeID] = true

	pos := a.position(trade.OrderBookID)
	deltaCash := pos.ApplyTrade(*trade)

	cost := trade.Cost()
	a.TransactionCost += cost
	a.TotalCash += deltaCash - cost

	// Release the frozen obligation for exactly the filled quantity, since
	// it no longer rests as an open order obligation. Released against the
	// order's frozen_price, not the trade's executed price — see
	// frozenCashOfTrade.
	a.FrozenCash -= a.frozenCashOfTrade(trade)
	if a.FrozenCash < 0 {
		a.FrozenCash = 0
	}
	return nil
}

// handleSettlement rolls every position's today bucket into old, drops
// positions that no longer carry any exposure (flat, regardless of listing
// status) or that belong to a de-listed instrument still carrying exposure
// (closed by the system with a warning), recomputes total_cash from the
// cash+margin+holding_pnl invariant so a futures account absorbs the day's
// realized PnL and margin/holding-PnL rebasing in one step, and once the
// account is blown marks it Blown, zeroes its cash and resets its positions
// to flat; a blown account is not barred from further trading.
//
// Realized PnL is not added to total_cash here: handleTrade already folds
// each trade's realized_pnl_delta into cash the instant it trades (see
// Position.ApplyTrade), so by settlement it has already been booked —
// RealizedPnL is only the within-day bucket ApplySettlement zeroes.
func (a *Account) handleSettlement(ctx context.Context, event *model.Event) error {
	if !a.forThisAccount(event) && event.BrokerID != 0 {
		return nil
	}

	totalValueBeforeRoll := a.TotalValue()

	for id, pos := range a.Positions {
		deListed := false
		if a.Instruments != nil {
			if inst, ok := a.Instruments.Get(pos.OrderBookID); ok {
				deListed = inst.IsDeListed(event.DateTime)
			}
		}
		if deListed {
			pos.MarkDeListed()
		}

		switch {
		case pos.IsDeListed() && !pos.IsFlat():
			a.Logger.Printf("%s is de-listed with an open position, closing by system", pos.OrderBookID)
			delete(a.Positions, id)
		case pos.IsFlat():
			delete(a.Positions, id)
		default:
			pos.RealizedPnL = 0
			settlePrice := pos.LastPrice
			if event.SettlePrices != nil {
				if price, ok := event.SettlePrices[pos.OrderBookID]; ok && price > 0 {
					settlePrice = price
				}
			}
			pos.ApplySettlement(settlePrice)
		}
	}

	if a.Type == model.AccountFuture {
		a.TotalCash = totalValueBeforeRoll - a.marginSum() - a.holdingPnLSum()
	}

	if a.TotalValue() <= 0 {
		a.Blown = true
		a.TotalCash = 0
		a.FrozenCash = 0
		for _, pos := range a.Positions {
			*pos = *NewPosition(pos.OrderBookID, pos.Type, pos.ContractMultiplier, pos.MarginRate)
		}
	}

	a.BackwardTradeSet = make(map[uint64]bool)
	return nil
}
