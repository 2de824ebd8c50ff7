package decider

import "github.com/quantreplay/backsim/internal/model"

// PriceRatioSlippage perturbs price by a fixed fraction: buys slip up
// (pay more), sells slip down (receive less), modeling the cost of walking
// the book to get filled.
type PriceRatioSlippage struct {
	Ratio float64
}

var _ SlippageDecider = PriceRatioSlippage{}

// GetTradePrice implements SlippageDecider.
func (s PriceRatioSlippage) GetTradePrice(side model.Side, price float64) float64 {
	if side.IsBuy() {
		return price * (1 + s.Ratio)
	}
	return price * (1 - s.Ratio)
}

// NoSlippage is the identity SlippageDecider: the deal price is taken as
// given. The engine's futures matcher uses it under every matching type.
type NoSlippage struct{}

var _ SlippageDecider = NoSlippage{}

// GetTradePrice implements SlippageDecider.
func (NoSlippage) GetTradePrice(_ model.Side, price float64) float64 { return price }
