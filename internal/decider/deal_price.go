package decider

import "github.com/quantreplay/backsim/internal/model"

// StandardDealDecider implements DealDecider over the five matching
// policies named in the wire contract. It reads whichever field of the
// snapshot the policy calls for; it does not itself decide which snapshot
// ("current" vs "next") the caller passes in — the matcher is responsible
// for handing it the snapshot appropriate to the policy's name.
type StandardDealDecider struct{}

var _ DealDecider = StandardDealDecider{}

// Price implements DealDecider.
func (StandardDealDecider) Price(matchingType model.MatchingType, snapshot model.MarketSnapshot, side model.Side) (float64, bool) {
	switch matchingType {
	case model.CurrentBarClose, model.NextBarOpen:
		bar, ok := snapshot.(*model.Bar)
		if !ok {
			return 0, false
		}
		if matchingType == model.CurrentBarClose {
			if !bar.HasValidLast() {
				return 0, false
			}
			return bar.Close, true
		}
		if bar.Open <= 0 {
			return 0, false
		}
		return bar.Open, true

	case model.NextTickLast:
		tick, ok := snapshot.(model.Tick)
		if !ok {
			return 0, false
		}
		if !tick.HasValidLast() {
			return 0, false
		}
		return tick.Last, true

	case model.NextTickBestOwn:
		tick, ok := snapshot.(model.Tick)
		if !ok {
			return 0, false
		}
		price := tick.BestBid()
		if !side.IsBuy() {
			price = tick.BestAsk()
		}
		if price <= 0 {
			return 0, false
		}
		return price, true

	case model.NextTickBestCounterparty:
		tick, ok := snapshot.(model.Tick)
		if !ok {
			return 0, false
		}
		price := tick.BestAsk()
		if !side.IsBuy() {
			price = tick.BestBid()
		}
		if price <= 0 {
			return 0, false
		}
		return price, true

	default:
		return 0, false
	}
}
