// Package matching implements the order matching engine: given a market
// snapshot and the open orders resting against that symbol, decide which
// orders trade, at what price, and emit the resulting fills. Match always
// takes the triggering snapshot plus the currently open orders for that
// symbol, and iterates them itself rather than being called once per order.
package matching

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/quantreplay/backsim/internal/bus"
	"github.com/quantreplay/backsim/internal/decider"
	"github.com/quantreplay/backsim/internal/model"
)

// InstrumentLookup resolves static contract metadata the matcher needs:
// round lot, tick size, listing window, price limits.
type InstrumentLookup interface {
	Get(orderBookID string) (model.Instrument, bool)
}

// PositionTodayProvider answers how much of a broker's position in an
// instrument was opened today, the quantity the close-today computation
// needs before it can split a CLOSE offset into close-today/close-yesterday
// portions.
type PositionTodayProvider interface {
	TodayOpenQuantity(brokerID uint64, orderBookID string, side model.Side) int32
}

// Matcher is the concrete, instrument-class-agnostic matching engine. Stock
// and future matchers differ only in which CommissionDecider/TaxDecider they
// carry; the twelve-step algorithm itself is shared.
type Matcher struct {
	Deal       decider.DealDecider
	Slippage   decider.SlippageDecider
	Commission decider.CommissionDecider
	Tax        decider.TaxDecider

	Instruments InstrumentLookup
	Positions   PositionTodayProvider

	// MatchingType selects which field of the snapshot the DealDecider
	// reads as the reference price.
	MatchingType model.MatchingType

	// VolumeParticipation caps the combined fills of all orders against one
	// snapshot at this fraction of its reported volume, modeling the matcher's unwillingness to
	// assume a strategy can single-handedly consume an entire bar/tick's
	// liquidity.
	VolumeParticipation float64

	// UpdownPriceLimitEnabled, when true, rejects (market) or skips (limit)
	// an order whose deal price has reached the snapshot's limit-up/down
	// band; when false, the band is not checked.
	UpdownPriceLimitEnabled bool
	// LiquidityLimitEnabled, when true, rejects/skips an order whose own
	// side of a tick's five-level book has zero resting volume.
	LiquidityLimitEnabled bool
	// VolumeLimitEnabled gates the volume-cap policy (step 6). Disabling it
	// lets an order fill its full unfilled quantity in one pass whenever
	// the snapshot reports a non-zero traded volume.
	VolumeLimitEnabled bool

	Bus    *bus.Bus
	Logger *log.Logger
}

// NewMatcher constructs a Matcher with a 25% default volume participation
// cap and the volume-cap policy enabled. Price-limit and liquidity policies
// default to disabled; callers wire config.Matching onto these fields.
func NewMatcher(deal decider.DealDecider, slippage decider.SlippageDecider, commission decider.CommissionDecider, tax decider.TaxDecider, instruments InstrumentLookup, positions PositionTodayProvider, matchingType model.MatchingType, b *bus.Bus) *Matcher {
	return &Matcher{
		Deal:                deal,
		Slippage:            slippage,
		Commission:          commission,
		Tax:                 tax,
		Instruments:         instruments,
		Positions:           positions,
		MatchingType:        matchingType,
		VolumeParticipation: 0.25,
		VolumeLimitEnabled:  true,
		Bus:                 b,
		Logger:              log.New(log.Writer(), "[matching] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// Match evaluates every open order resting against snapshot's symbol and
// produces zero or more trades, publishing EventTrade for each and applying
// the fill to the order in place. Orders already in a terminal state are
// skipped. A running cumulative-turnover counter is threaded across the
// whole order set so the volume cap is respected in aggregate for the
// snapshot, not independently per order.
func (m *Matcher) Match(ctx context.Context, snapshot model.MarketSnapshot, openOrders []*model.Order) error {
	var cumulativeTurnover int64
	for _, order := range openOrders {
		if !order.IsActive() {
			continue
		}
		trade, rejected, cancelled, err := m.matchOne(snapshot, order, cumulativeTurnover)
		if err != nil {
			return err
		}
		if rejected != "" {
			order.MarkRejected(rejected)
			m.publishOrderUpdate(order, snapshot.Time())
			continue
		}
		if cancelled != "" {
			order.MarkCancelled(cancelled)
			m.publishOrderUpdate(order, snapshot.Time())
			continue
		}
		if trade == nil {
			continue
		}
		cumulativeTurnover += int64(trade.Quantity)

		order.ApplyFill(trade.Price, trade.Quantity, trade.Cost())

		event := model.NewEvent(model.EventTrade, trade.MatchDateTime)
		event.OrderBookID = order.OrderBookID
		event.BrokerID = order.BrokerID
		event.Order = order
		event.Trade = trade
		m.Bus.Publish(event)

		// Step 12: a market order that still has quantity left after this
		// snapshot, because the volume cap or the book ran dry, does not
		// rest waiting for the next snapshot — it is cancelled outright.
		if order.Type == model.OrderMarket && !order.IsFinal() {
			order.MarkCancelled("volume-limit: market order volume exhausted")
			m.publishOrderUpdate(order, snapshot.Time())
		}
	}
	return nil
}

// publishOrderUpdate notifies the rest of the engine that the matcher moved
// an order to a terminal state on its own (reject or cancel), so the owning
// account releases the frozen obligation still held for the unfilled
// remainder.
func (m *Matcher) publishOrderUpdate(order *model.Order, now time.Time) {
	event := model.NewEvent(model.EventOrderUnsolicitedUpdate, now)
	event.BrokerID = order.BrokerID
	event.OrderBookID = order.OrderBookID
	event.Order = order
	event.Message = order.Message
	m.Bus.Publish(event)
}

// matchOne runs the single-order path of the twelve-step algorithm. A
// non-empty rejected reason means the order should be rejected outright
// (data invalidity, or a price-limit/liquidity breach on a market order); a
// non-empty cancelled reason means a market order found no volume left to
// draw at all and is cancelled rather than rejected; a nil trade with
// neither means the order remains open and simply did not trade against
// this snapshot (e.g. its limit price was not reached, or a policy breach
// hit a limit order, which skips rather than rejects). priorTurnover is how
// much has already been matched for this symbol out of this same snapshot
// by earlier orders in the current Match call.
func (m *Matcher) matchOne(snapshot model.MarketSnapshot, order *model.Order, priorTurnover int64) (trade *model.Trade, rejected, cancelled string, err error) {
	// Step 1: data validity.
	inst, ok := m.Instruments.Get(order.OrderBookID)
	if !ok {
		return nil, "miss market data", "", nil
	}
	if inst.IsListedOn(snapshot.Time()) {
		return nil, "cannot trade on listed date", "", nil
	}
	if inst.IsDeListed(snapshot.Time()) {
		return nil, "instrument de-listed", "", nil
	}

	// Step 2: deal price via DealDecider.
	price, ok := m.Deal.Price(m.MatchingType, snapshot, order.Side)
	if !ok {
		return nil, "", "", nil // no usable price this snapshot, order stays open
	}

	// Step 3: limit price gate. Skipped (not cancelled) limit orders remain
	// active for the next snapshot.
	if order.Type == model.OrderLimit {
		if order.Side.IsBuy() && order.LimitPrice < price {
			return nil, "", "", nil
		}
		if !order.Side.IsBuy() && order.LimitPrice > price {
			return nil, "", "", nil
		}
	}

	// Step 4: price-limit policy (exchange up/down-limit band), config-gated.
	if m.UpdownPriceLimitEnabled {
		limitUp, limitDown, hasLimits := priceLimits(snapshot)
		if hasLimits {
			hitUp := order.Side.IsBuy() && limitUp > 0 && price >= limitUp
			hitDown := !order.Side.IsBuy() && limitDown > 0 && price <= limitDown
			if hitUp || hitDown {
				reason := "limit_up"
				if hitDown {
					reason = "limit_down"
				}
				if order.Type == model.OrderMarket {
					return nil, reason, "", nil
				}
				return nil, "", "", nil // limit order skips, stays active
			}
		}
	}

	// Step 5: liquidity policy, config-gated — no resting volume on the
	// order's own side of a quoted tick.
	if m.LiquidityLimitEnabled {
		if tick, ok := snapshot.(model.Tick); ok {
			starved := order.Side.IsBuy() && tick.BestAskVolume() == 0
			starved = starved || (!order.Side.IsBuy() && tick.BestBidVolume() == 0)
			if starved {
				if order.Type == model.OrderMarket {
					return nil, "no liquidity", "", nil
				}
				return nil, "", "", nil
			}
		}
	}

	volume := snapshotVolume(snapshot)
	if volume <= 0 {
		return nil, "", "", nil
	}

	// Step 6: volume-cap policy, config-gated, floored to a whole round lot,
	// and respecting turnover already consumed by earlier orders against
	// this same snapshot. A market order that finds nothing left to draw is
	// cancelled with a volume-limit reason; a limit order skips silently.
	qty := order.UnfilledQuantity()
	if m.VolumeLimitEnabled {
		available := volumeCap(volume, m.VolumeParticipation, inst.RoundLot) - priorTurnover
		if available <= 0 {
			if order.Type == model.OrderMarket {
				return nil, "", "volume-limit: no available volume", nil
			}
			return nil, "", "", nil
		}
		if int64(qty) > available {
			qty = int32(available)
		}
	}
	if qty <= 0 {
		return nil, "", "", nil
	}

	// Step 7: close-today computation.
	closeToday := int32(0)
	if order.Offset == model.OffsetClose || order.Offset == model.OffsetCloseToday {
		todayOpen := m.Positions.TodayOpenQuantity(order.BrokerID, order.OrderBookID, order.Side)
		closeToday = minInt32(qty, todayOpen)
	}

	// Step 8: slippage.
	tradePrice := m.Slippage.GetTradePrice(order.Side, price)

	// Step 9: trade creation.
	t := &model.Trade{
		TradeID:          model.NextTradeID(),
		OrderID:          order.OrderID,
		OrderBookID:      order.OrderBookID,
		MatchDateTime:    snapshot.Time(),
		TradingDateTime:  snapshot.Time(),
		Price:            tradePrice,
		Quantity:         qty,
		Side:             order.Side,
		Offset:           order.Offset,
		CloseTodayAmount: closeToday,
		FrozenPrice:      order.FrozenPrice,
	}
	t.Commission = m.Commission.GetCommission(*t)
	t.Tax = m.Tax.GetTax(*t)

	return t, "", "", nil
}

func priceLimits(snapshot model.MarketSnapshot) (up, down float64, ok bool) {
	switch v := snapshot.(type) {
	case model.Tick:
		return v.LimitUp, v.LimitDown, true
	case *model.Bar:
		return v.LimitUp, v.LimitDown, true
	default:
		return 0, 0, false
	}
}

func snapshotVolume(snapshot model.MarketSnapshot) int64 {
	switch v := snapshot.(type) {
	case model.Tick:
		return v.Volume
	case *model.Bar:
		return v.Volume
	default:
		return 0
	}
}

// volumeCap returns floor(volume*participation), floored to a whole round
// lot: the total fill every order may draw from this snapshot combined.
func volumeCap(volume int64, participation float64, roundLot int32) int64 {
	cap64 := int64(math.Floor(float64(volume) * participation))
	if cap64 <= 0 {
		return 0
	}
	if roundLot > 1 {
		cap64 -= cap64 % int64(roundLot)
	}
	return cap64
}

func minInt32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
