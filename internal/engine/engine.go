// Package engine wires the bus, the market replay broker, the matching
// engine(s), the account/portfolio bookkeeping, and the persistence helper
// into one runnable simulation. Components hold only the borrowed
// references they need; nothing here is a singleton, and wiring happens
// once at construction time.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quantreplay/backsim/internal/broker"
	"github.com/quantreplay/backsim/internal/bus"
	"github.com/quantreplay/backsim/internal/config"
	"github.com/quantreplay/backsim/internal/datasource"
	"github.com/quantreplay/backsim/internal/decider"
	"github.com/quantreplay/backsim/internal/matching"
	"github.com/quantreplay/backsim/internal/model"
	"github.com/quantreplay/backsim/internal/persist"
	"github.com/quantreplay/backsim/internal/portfolio"
)

// InstrumentRegistry is the run's static instrument table: built once at
// init from whatever loads the universe's contract metadata, then treated
// as immutable for the life of the run. It satisfies both matching.
// InstrumentLookup and account.InstrumentLookup.
type InstrumentRegistry struct {
	byID map[string]model.Instrument
}

// NewInstrumentRegistry builds a registry from a fixed instrument list.
func NewInstrumentRegistry(instruments []model.Instrument) *InstrumentRegistry {
	r := &InstrumentRegistry{byID: make(map[string]model.Instrument, len(instruments))}
	for _, inst := range instruments {
		r.byID[inst.OrderBookID] = inst
	}
	return r
}

// Get implements matching.InstrumentLookup and account.InstrumentLookup.
func (r *InstrumentRegistry) Get(orderBookID string) (model.Instrument, bool) {
	inst, ok := r.byID[orderBookID]
	return inst, ok
}

// positionTodayAdapter answers matching.PositionTodayProvider out of a
// Portfolio: how much of a broker's position in an instrument was opened
// during the current trading day, which the close-today split needs before
// it can compute how much of a CLOSE offset draws from each bucket.
type positionTodayAdapter struct {
	portfolio *portfolio.Portfolio
}

func (a positionTodayAdapter) TodayOpenQuantity(brokerID uint64, orderBookID string, side model.Side) int32 {
	for _, acc := range a.portfolio.Accounts() {
		if acc.BrokerID != brokerID {
			continue
		}
		pos, ok := acc.Positions[orderBookID]
		if !ok {
			return 0
		}
		if side.IsBuy() {
			return pos.SellTodayQuantity
		}
		return pos.BuyTodayQuantity
	}
	return 0
}

// Engine owns every long-lived component of one simulation run and wires
// them together on Attach. It does not itself decide what orders to submit
// — that is the strategy layer's job, driven by the events Engine publishes.
type Engine struct {
	Bus         *bus.Bus
	Broker      *broker.Broker
	Orders      *broker.OpenOrderTable
	Portfolio   *portfolio.Portfolio
	Instruments *InstrumentRegistry
	Persist     *persist.Helper

	matchers map[model.AccountType]*matching.Matcher

	ds     datasource.DataSource
	clock  *sessionClock
	logger *log.Logger
}

// New constructs an Engine. matchers maps each account type present in the
// portfolio to the Matcher that should run against its instruments; the
// matching algorithm itself is identical across account types (see
// internal/matching) and differs only in which deciders it carries.
func New(b *bus.Bus, br *broker.Broker, orders *broker.OpenOrderTable, p *portfolio.Portfolio, instruments *InstrumentRegistry, persistHelper *persist.Helper, matchers map[model.AccountType]*matching.Matcher) *Engine {
	return &Engine{
		Bus:         b,
		Broker:      br,
		Orders:      orders,
		Portfolio:   p,
		Instruments: instruments,
		Persist:     persistHelper,
		matchers:    matchers,
		clock:       newSessionClock(),
		logger:      log.New(log.Writer(), "[engine] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// NewMatchers builds the standard stock+future matcher pair over a shared
// instrument registry and position-today provider, wired to matchingType
// and cfg's policy toggles. A convenience for the common two-account-type
// case; callers needing a different deal/slippage/tax mix per instrument
// class construct Matchers directly.
func NewMatchers(b *bus.Bus, instruments *InstrumentRegistry, p *portfolio.Portfolio, matchingType model.MatchingType, cfg config.MatchingConfig, futureSchedule map[string]decider.FutureCommissionInfo) map[model.AccountType]*matching.Matcher {
	positions := positionTodayAdapter{portfolio: p}
	deal := decider.StandardDealDecider{}

	stock := matching.NewMatcher(deal, decider.PriceRatioSlippage{Ratio: 0.001}, decider.NewStockCommission(), decider.NewStockTax(), instruments, positions, matchingType, b)
	stock.VolumeParticipation = cfg.VolumePercent
	stock.VolumeLimitEnabled = cfg.VolumeLimit
	stock.UpdownPriceLimitEnabled = cfg.UpdownPriceLimit
	stock.LiquidityLimitEnabled = cfg.LiquidityLimit

	future := matching.NewMatcher(deal, decider.NoSlippage{}, decider.NewFutureCommission(futureSchedule), decider.FutureTax{}, instruments, positions, matchingType, b)
	future.VolumeParticipation = cfg.VolumePercent
	future.VolumeLimitEnabled = cfg.VolumeLimit
	future.UpdownPriceLimitEnabled = cfg.UpdownPriceLimit
	future.LiquidityLimitEnabled = cfg.LiquidityLimit

	return map[model.AccountType]*matching.Matcher{
		model.AccountStock:  stock,
		model.AccountFuture: future,
	}
}

// Attach registers every handler the engine owns on the bus. Call once,
// before Start.
func (e *Engine) Attach() {
	e.Broker.Attach()
	for _, acc := range e.Portfolio.Accounts() {
		acc.RegisterHandlers(e.Bus)
	}
	if e.Persist != nil {
		e.Persist.RegisterHandlers(e.Bus)
	}
	e.Bus.AddListener(model.EventMarketSend, e.handleMarketSend)
	e.Bus.AddListener(model.EventOrder, e.handleOrderSubmission)
	e.Bus.AddListener(model.EventBeforeTrading, e.handleBeforeTrading)
}

// handleBeforeTrading re-pegs the portfolio's NAV-per-unit reference ahead
// of each trading session, the denominator for that day's returns.
func (e *Engine) handleBeforeTrading(ctx context.Context, event *model.Event) error {
	e.Portfolio.RefreshStaticUnitNetValue()
	return nil
}

// handleMarketSend is the engine's main control/data-flow joint: the broker
// has already picked the chronologically-earliest buffered snapshot; this
// handler runs the session clock against its datetime (which may fire
// BEFORE_TRADING/AFTER_TRADING/SETTLEMENT first) and then hands the
// snapshot and its instrument's open orders to the matcher for that
// instrument's account type.
func (e *Engine) handleMarketSend(ctx context.Context, event *model.Event) error {
	e.clock.observe(event.DateTime, e)

	inst, ok := e.Instruments.Get(event.OrderBookID)
	if !ok {
		return nil
	}
	matcher, ok := e.matchers[inst.AccountType()]
	if !ok {
		return nil
	}

	var snapshot model.MarketSnapshot
	if event.Tick != nil {
		snapshot = *event.Tick
	} else if event.Bar != nil {
		snapshot = event.Bar
	} else {
		return nil
	}

	e.markToMarket(event.OrderBookID, lastPriceOf(snapshot))

	openOrders := e.Orders.ForSymbol(event.OrderBookID)
	if err := matcher.Match(ctx, snapshot, openOrders); err != nil {
		return fmt.Errorf("match %s: %w", event.OrderBookID, err)
	}
	for _, o := range openOrders {
		if o.IsFinal() {
			e.Orders.Remove(o.OrderID)
		}
	}
	return nil
}

// markToMarket refreshes the last known price on every account's position
// for orderBookID, so margin and holding PnL track the market between
// trades rather than stalling at the last fill price.
func (e *Engine) markToMarket(orderBookID string, price float64) {
	for _, acc := range e.Portfolio.Accounts() {
		if pos, ok := acc.Positions[orderBookID]; ok {
			pos.UpdateLastPrice(price)
		}
	}
}

func lastPriceOf(snapshot model.MarketSnapshot) float64 {
	switch v := snapshot.(type) {
	case model.Tick:
		return v.Last
	case *model.Bar:
		return v.Close
	default:
		return 0
	}
}

// handleOrderSubmission admits a freshly created order: it publishes
// ORDER_PENDING_NEW so the owning account freezes the order's worst-case
// cash/margin obligation, then either activates the order into the
// open-order table or rejects it with ORDER_CREATION_REJECT, which releases
// the freeze taken a moment earlier. The freeze/release pair is always
// balanced: a reject never fires without its pending-new.
func (e *Engine) handleOrderSubmission(ctx context.Context, event *model.Event) error {
	order := event.Order
	if order == nil {
		return nil
	}

	pendingEvent := model.NewEvent(model.EventOrderPendingNew, event.DateTime)
	pendingEvent.BrokerID = order.BrokerID
	pendingEvent.OrderBookID = order.OrderBookID
	pendingEvent.Order = order
	e.Bus.Publish(pendingEvent)

	if _, ok := e.Instruments.Get(order.OrderBookID); !ok {
		order.MarkRejected("miss market data")
		rejectEvent := model.NewEvent(model.EventOrderCreationReject, event.DateTime)
		rejectEvent.BrokerID = order.BrokerID
		rejectEvent.OrderBookID = order.OrderBookID
		rejectEvent.Order = order
		rejectEvent.Message = order.Message
		e.Bus.Publish(rejectEvent)
		return nil
	}
	order.Activate()
	e.Orders.Add(order)
	return nil
}

// SubmitOrder is the entry point a strategy uses to place a new order: it
// publishes ORDER, which handleOrderSubmission admits on the bus's own
// dispatch goroutine, preserving the single-threaded mutation guarantee for
// order/account state.
func (e *Engine) SubmitOrder(order *model.Order) {
	event := model.NewEvent(model.EventOrder, order.TradingDateTime)
	event.BrokerID = order.BrokerID
	event.OrderBookID = order.OrderBookID
	event.Order = order
	e.Bus.Publish(event)
}

// CancelOrder publishes ORDER_CANCELLATION_PASS for orderID if it is still
// open, removing it from the order table and releasing its frozen cash.
// Reports false if the order is not currently open (already terminal, or
// unknown).
func (e *Engine) CancelOrder(orderID uint64, now time.Time) bool {
	order, ok := e.Orders.Get(orderID)
	if !ok || order.IsFinal() {
		return false
	}
	order.MarkCancelled("cancelled by strategy")
	e.Orders.Remove(orderID)

	event := model.NewEvent(model.EventOrderCancellationPass, now)
	event.BrokerID = order.BrokerID
	event.OrderBookID = order.OrderBookID
	event.Order = order
	e.Bus.Publish(event)
	return true
}

// Run starts the broker and the bus, then blocks until every symbol's
// producer is exhausted, at which point it publishes a final SETTLEMENT,
// persists, and stops the bus. pollInterval controls how often exhaustion
// is checked; callers on a live feed (rather than a finite replay) should
// instead just Start the bus and Broker and call Stop themselves.
func (e *Engine) Run(ctx context.Context, ds datasource.DataSource, pollInterval time.Duration) {
	e.ds = ds
	e.Bus.Start(ctx)
	e.Broker.Start(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.shutdown(context.Background())
			return
		case <-ticker.C:
			if e.allExhausted() {
				e.shutdown(context.Background())
				return
			}
		}
	}
}

func (e *Engine) allExhausted() bool {
	for _, id := range e.Instruments.ids() {
		if !e.Broker.IsExhausted(id) {
			return false
		}
	}
	return true
}

// shutdown closes out the session: the clock's trailing AFTER_TRADING and
// SETTLEMENT are flushed through the bus before it stops, since Stop itself
// dispatches no further events.
func (e *Engine) shutdown(ctx context.Context) {
	e.clock.finalize(e)
	e.Broker.Stop()
	e.Bus.Flush()
	e.Bus.Stop()
	if e.Persist != nil {
		if err := e.Persist.PersistAll(ctx); err != nil {
			e.logger.Printf("final persist: %v", err)
		}
	}
}

func (r *InstrumentRegistry) ids() []string {
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	return out
}

// sessionClock watches the stream of MARKET_SEND timestamps and fires the
// calendar lifecycle events (BEFORE_TRADING, AFTER_TRADING, SETTLEMENT) on
// each trading-day boundary it observes, since the replay pipeline itself
// only knows about per-symbol data, not session boundaries.
type sessionClock struct {
	haveDay   bool
	day       time.Time
	announced bool
}

func newSessionClock() *sessionClock { return &sessionClock{} }

func (c *sessionClock) observe(t time.Time, e *Engine) {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())

	if !c.haveDay {
		c.haveDay = true
		c.day = day
		c.fireBeforeTrading(t, e)
		return
	}
	if day.After(c.day) {
		c.fireAfterTrading(t, e)
		c.fireSettlement(t, e)
		c.day = day
		c.fireBeforeTrading(t, e)
	}
}

// finalize closes out the session in progress when the replay runs out of
// data rather than crossing a visible day boundary.
func (c *sessionClock) finalize(e *Engine) {
	if !c.haveDay {
		return
	}
	now := time.Now()
	c.fireAfterTrading(now, e)
	c.fireSettlement(now, e)
}

func (c *sessionClock) fireBeforeTrading(t time.Time, e *Engine) {
	e.Bus.Publish(model.NewEvent(model.EventBeforeTrading, t))
}

func (c *sessionClock) fireAfterTrading(t time.Time, e *Engine) {
	e.Bus.Publish(model.NewEvent(model.EventAfterTrading, t))
}

// fireSettlement publishes SETTLEMENT with SettlePrices populated from the
// datasource for every instrument in the universe, since one settlement
// spans the whole book rather than a single symbol's bar. ds is nil in
// tests that drive the bus directly without calling Run, so settlement
// falls back to each position's last-traded price in that case (see
// Account.handleSettlement).
func (c *sessionClock) fireSettlement(t time.Time, e *Engine) {
	event := model.NewEvent(model.EventSettlement, t)
	if e.ds != nil && e.Instruments != nil {
		prices := make(map[string]float64)
		for _, id := range e.Instruments.ids() {
			price, err := e.ds.GetSettlePrice(id, t)
			if err != nil {
				e.logger.Printf("settle price for %s: %v", id, err)
				continue
			}
			if price > 0 {
				prices[id] = price
			}
		}
		event.SettlePrices = prices
	}
	e.Bus.Publish(event)
}
