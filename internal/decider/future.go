package decider

import "github.com/quantreplay/backsim/internal/model"

// FutureCommissionInfo is the per-instrument commission schedule a futures
// exchange publishes: separate ratios for opening, closing, and closing a
// position opened the same trading day (close-today often carries its own,
// different rate), applied either to notional money or to raw contract
// volume.
type FutureCommissionInfo struct {
	Type               model.CommissionType
	OpenRatio          float64
	CloseRatio         float64
	CloseTodayRatio    float64
	ContractMultiplier float64
}

// FutureCommission implements the China futures commission schedule. Unlike
// stocks, futures charge no per-order minimum.
type FutureCommission struct {
	HedgeMultiplier  float64 // speculation vs hedge vs arbitrage account multiplier
	infoByInstrument map[string]FutureCommissionInfo
}

// NewFutureCommission constructs a decider with a 1.0 hedge multiplier
// (speculative account) and the given per-instrument schedules.
func NewFutureCommission(info map[string]FutureCommissionInfo) *FutureCommission {
	return &FutureCommission{
		HedgeMultiplier:  1.0,
		infoByInstrument: info,
	}
}

var _ CommissionDecider = (*FutureCommission)(nil)

// GetCommission implements CommissionDecider.
func (c *FutureCommission) GetCommission(trade model.Trade) float64 {
	info, ok := c.infoByInstrument[trade.OrderBookID]
	if !ok {
		return 0
	}

	closeNonToday := trade.Quantity - trade.CloseTodayAmount

	var commission float64
	switch info.Type {
	case model.CommissionByMoney:
		if trade.Offset == model.OffsetOpen {
			commission += trade.Price * float64(trade.Quantity) * info.ContractMultiplier * info.OpenRatio
		} else {
			commission += trade.Price * float64(closeNonToday) * info.ContractMultiplier * info.CloseRatio
			commission += trade.Price * float64(trade.CloseTodayAmount) * info.ContractMultiplier * info.CloseTodayRatio
		}
	default: // CommissionByVolume
		if trade.Offset == model.OffsetOpen {
			commission += float64(trade.Quantity) * info.OpenRatio
		} else {
			commission += float64(closeNonToday) * info.CloseRatio
			commission += float64(trade.CloseTodayAmount) * info.CloseTodayRatio
		}
	}
	return commission * c.HedgeMultiplier
}

// FutureTax implements the China futures tax schedule, which is always
// zero — futures trades are exempt from stamp duty.
type FutureTax struct{}

var _ TaxDecider = FutureTax{}

// GetTax implements TaxDecider.
func (FutureTax) GetTax(model.Trade) float64 { return 0 }
