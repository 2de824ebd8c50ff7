package persist

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/quantreplay/backsim/internal/account"
	"github.com/quantreplay/backsim/internal/model"
	"github.com/quantreplay/backsim/internal/portfolio"
)

// marginRateEpsilon is the tolerance below which a stored vs. live margin
// rate is treated as unchanged.
const marginRateEpsilon = 1e-6

const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

// OrderState adapts *model.Order to Stateful. Order has no unexported
// fields, so the wire format is a direct JSON encoding — enum-valued fields
// (Side, Offset, Type, Status) are already string-backed types, so they
// serialize as their symbolic names without any custom marshaling.
type OrderState struct{ Order *model.Order }

func (s OrderState) GetState() ([]byte, error) { return json.Marshal(s.Order) }

func (s OrderState) SetState(data []byte) error {
	return json.Unmarshal(data, s.Order)
}

// positionWire mirrors account.Position's fields for JSON round-tripping,
// exposing the unexported deListed flag Position itself keeps private.
type positionWire struct {
	OrderBookID        string
	Type               model.AccountType
	ContractMultiplier float64
	MarginRate         float64
	BuyOldQuantity     int32
	BuyTodayQuantity   int32
	SellOldQuantity    int32
	SellTodayQuantity  int32
	BuyAvgOpenPrice    float64
	SellAvgOpenPrice   float64
	LastPrice          float64
	PrevSettlement     float64
	RealizedPnL        float64
	DeListed           bool
}

func toPositionWire(p *account.Position) positionWire {
	return positionWire{
		OrderBookID:        p.OrderBookID,
		Type:               p.Type,
		ContractMultiplier: p.ContractMultiplier,
		MarginRate:         p.MarginRate,
		BuyOldQuantity:     p.BuyOldQuantity,
		BuyTodayQuantity:   p.BuyTodayQuantity,
		SellOldQuantity:    p.SellOldQuantity,
		SellTodayQuantity:  p.SellTodayQuantity,
		BuyAvgOpenPrice:    p.BuyAvgOpenPrice,
		SellAvgOpenPrice:   p.SellAvgOpenPrice,
		LastPrice:          p.LastPrice,
		PrevSettlement:     p.PrevSettlement,
		RealizedPnL:        p.RealizedPnL,
		DeListed:           p.IsDeListed(),
	}
}

func applyPositionWire(w positionWire) *account.Position {
	p := account.NewPosition(w.OrderBookID, w.Type, w.ContractMultiplier, w.MarginRate)
	p.BuyOldQuantity = w.BuyOldQuantity
	p.BuyTodayQuantity = w.BuyTodayQuantity
	p.SellOldQuantity = w.SellOldQuantity
	p.SellTodayQuantity = w.SellTodayQuantity
	p.BuyAvgOpenPrice = w.BuyAvgOpenPrice
	p.SellAvgOpenPrice = w.SellAvgOpenPrice
	p.LastPrice = w.LastPrice
	p.PrevSettlement = w.PrevSettlement
	p.RealizedPnL = w.RealizedPnL
	if w.DeListed {
		p.MarkDeListed()
	}
	return p
}

// accountWire mirrors account.Account's persisted fields; Instruments and
// Logger are collaborators wired at construction, not state.
type accountWire struct {
	BrokerID         uint64
	Type             model.AccountType
	TotalCash        float64
	FrozenCash       float64
	TransactionCost  float64
	Positions        map[string]positionWire
	BackwardTradeSet map[uint64]bool
	Blown            bool
}

// AccountState adapts *account.Account to Stateful.
type AccountState struct{ Account *account.Account }

func (s AccountState) GetState() ([]byte, error) {
	w := accountWire{
		BrokerID:         s.Account.BrokerID,
		Type:             s.Account.Type,
		TotalCash:        s.Account.TotalCash,
		FrozenCash:       s.Account.FrozenCash,
		TransactionCost:  s.Account.TransactionCost,
		Positions:        make(map[string]positionWire, len(s.Account.Positions)),
		BackwardTradeSet: s.Account.BackwardTradeSet,
		Blown:            s.Account.Blown,
	}
	for id, p := range s.Account.Positions {
		w.Positions[id] = toPositionWire(p)
	}
	return json.Marshal(w)
}

func (s AccountState) SetState(data []byte) error {
	var w accountWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal account state: %w", err)
	}
	s.Account.BrokerID = w.BrokerID
	s.Account.Type = w.Type
	s.Account.FrozenCash = w.FrozenCash
	s.Account.TransactionCost = w.TransactionCost
	s.Account.Blown = w.Blown
	s.Account.BackwardTradeSet = w.BackwardTradeSet
	if s.Account.BackwardTradeSet == nil {
		s.Account.BackwardTradeSet = make(map[uint64]bool)
	}
	s.Account.Positions = make(map[string]*account.Position, len(w.Positions))
	marginChanged := 0.0
	for id, pw := range w.Positions {
		pos := applyPositionWire(pw)
		s.Account.Positions[id] = pos

		if s.Account.Instruments == nil {
			continue
		}
		inst, ok := s.Account.Instruments.Get(id)
		if !ok {
			continue
		}
		if math.Abs(pw.MarginRate-inst.MarginRate) <= marginRateEpsilon {
			continue
		}
		// pos was restored with the stored margin rate, so Margin() here is
		// the obligation as it stood when the snapshot was taken; absorb the
		// difference against the live rate into cash before moving the
		// position onto the live rate for the rest of the run.
		marginAtStoredRate := pos.Margin()
		pos.AdjustMarginRate(inst.MarginRate)
		marginAtLiveRate := pos.Margin()
		marginChanged += marginAtStoredRate - marginAtLiveRate
	}
	s.Account.TotalCash = w.TotalCash + marginChanged
	return nil
}

// portfolioWire mirrors portfolio.Portfolio's persisted fields.
type portfolioWire struct {
	StartDate          string
	Units              float64
	StaticUnitNetValue float64
	Accounts           map[model.AccountType]accountWire
}

// PortfolioState adapts *portfolio.Portfolio to Stateful. It snapshots and
// restores every account currently registered on the portfolio; accounts
// must already be attached via AddAccount before SetState is called, since
// the portfolio itself has no way to construct an Account (it has no
// InstrumentLookup of its own).
type PortfolioState struct{ Portfolio *portfolio.Portfolio }

func (s PortfolioState) GetState() ([]byte, error) {
	w := portfolioWire{
		StartDate:          s.Portfolio.StartDate.Format(timeLayout),
		Units:              s.Portfolio.Units,
		StaticUnitNetValue: s.Portfolio.StaticUnitNetValue,
		Accounts:           make(map[model.AccountType]accountWire),
	}
	for _, a := range s.Portfolio.Accounts() {
		as := AccountState{Account: a}
		data, err := as.GetState()
		if err != nil {
			return nil, err
		}
		var aw accountWire
		if err := json.Unmarshal(data, &aw); err != nil {
			return nil, err
		}
		w.Accounts[a.Type] = aw
	}
	return json.Marshal(w)
}

func (s PortfolioState) SetState(data []byte) error {
	var w portfolioWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal portfolio state: %w", err)
	}
	if t, err := parseTime(w.StartDate); err == nil {
		s.Portfolio.StartDate = t
	}
	s.Portfolio.Units = w.Units
	s.Portfolio.StaticUnitNetValue = w.StaticUnitNetValue
	for typ, aw := range w.Accounts {
		acc, ok := s.Portfolio.Account(typ)
		if !ok {
			continue
		}
		aw := aw
		encoded, err := json.Marshal(aw)
		if err != nil {
			return err
		}
		if err := (AccountState{Account: acc}).SetState(encoded); err != nil {
			return err
		}
	}
	return nil
}
