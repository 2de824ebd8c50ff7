package account

import "github.com/quantreplay/backsim/internal/model"

// ChildOrderSpec is one leg of a split future order: how much quantity, and
// under which offset.
type ChildOrderSpec struct {
	Offset   model.Offset
	Quantity int32
}

// SplitFutureOrder splits a desired quantity on side into close-old,
// close-today, and open legs, closing old-dated exposure before today's so
// that closing always drains the cheaper-to-carry-forward bucket first.
// pos may be nil (no existing position), in which case the entire quantity
// opens. Only the opposite-direction bucket can be closed: a BUY closes an
// existing short, a SELL closes an existing long.
func SplitFutureOrder(pos *Position, side model.Side, quantity int32) []ChildOrderSpec {
	if quantity <= 0 {
		return nil
	}

	var oldQty, todayQty int32
	if pos != nil {
		if side.IsBuy() {
			oldQty, todayQty = pos.SellOldQuantity, pos.SellTodayQuantity
		} else {
			oldQty, todayQty = pos.BuyOldQuantity, pos.BuyTodayQuantity
		}
	}

	remaining := quantity
	var legs []ChildOrderSpec

	if closeOld := minInt32(remaining, oldQty); closeOld > 0 {
		legs = append(legs, ChildOrderSpec{Offset: model.OffsetCloseYesterday, Quantity: closeOld})
		remaining -= closeOld
	}
	if remaining > 0 {
		if closeToday := minInt32(remaining, todayQty); closeToday > 0 {
			legs = append(legs, ChildOrderSpec{Offset: model.OffsetCloseToday, Quantity: closeToday})
			remaining -= closeToday
		}
	}
	if remaining > 0 {
		legs = append(legs, ChildOrderSpec{Offset: model.OffsetOpen, Quantity: remaining})
	}
	return legs
}

func minInt32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
