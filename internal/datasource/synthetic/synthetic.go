// Package synthetic implements a DataSource that replays a generated GBM
// price path instead of real historical data, for demos and for exercising
// the engine without a vendor data dependency.
package synthetic

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quantreplay/backsim/internal/datasource"
	"github.com/quantreplay/backsim/internal/model"
	"github.com/quantreplay/backsim/internal/random"
)

// Sector groups instruments so their price shocks are partially correlated,
// the way real equities within an industry tend to move together.
type Sector string

const (
	SectorTech        Sector = "TECH"
	SectorFinance     Sector = "FINANCE"
	SectorHealthcare  Sector = "HEALTHCARE"
	SectorEnergy      Sector = "ENERGY"
	SectorIndustrial  Sector = "INDUSTRIAL"
)

const (
	baseDailyVol  = 0.02
	sectorBlend   = 0.60
	barsPerDay    = 240 // one-minute bars over a 4-hour session
)

// Fixture is the static description of one synthetic instrument: its
// sector (for correlated shocks), starting price, and tick size.
type Fixture struct {
	OrderBookID          string
	Sector               Sector
	BasePrice            float64
	TickSize             float64
	RoundLot             int32
	VolatilityMultiplier float64
}

// Instrument converts the fixture to the static model.Instrument the rest of
// the engine operates on.
func (f Fixture) Instrument(listed time.Time) model.Instrument {
	return model.Instrument{
		OrderBookID:        f.OrderBookID,
		Type:               model.InstrumentStock,
		Exchange:           "SYNTH",
		TickSize:           f.TickSize,
		RoundLot:           f.RoundLot,
		ContractMultiplier: 1,
		ListedDate:         listed,
	}
}

// DefaultFixtures returns a small cross-sector universe, enough to exercise
// the broker's sector-correlated GBM path and the matcher's round-lot rules.
func DefaultFixtures() []Fixture {
	return []Fixture{
		{"SYN.TECH.A", SectorTech, 185.00, 0.01, 100, 1.4},
		{"SYN.TECH.B", SectorTech, 92.50, 0.01, 100, 1.6},
		{"SYN.FIN.A", SectorFinance, 78.50, 0.01, 100, 0.8},
		{"SYN.FIN.B", SectorFinance, 52.00, 0.01, 100, 0.9},
		{"SYN.HLT.A", SectorHealthcare, 72.00, 0.01, 100, 0.6},
		{"SYN.NRG.A", SectorEnergy, 42.50, 0.01, 100, 1.0},
		{"SYN.IND.A", SectorIndustrial, 132.00, 0.01, 100, 1.0},
	}
}

// Source is a synthetic, reproducible GBM-driven DataSource. It generates
// barsPerDay bars per trading day over [start, end) deterministically from a
// seeded RNG, so a given seed always replays the same path.
type Source struct {
	rng      *random.RNG
	fixtures map[string]Fixture
	order    []string // stable iteration order, for sector shock sync
	start    time.Time
	end      time.Time

	bars map[string][]model.Bar // memoized per order_book_id, lazily built
}

// New constructs a synthetic Source spanning the days in [start, end):
// barsPerDay one-minute bars from each weekday's start time, with Saturdays
// and Sundays skipped.
func New(seed int64, fixtures []Fixture, start, end time.Time) *Source {
	s := &Source{
		rng:      random.New(seed),
		fixtures: make(map[string]Fixture, len(fixtures)),
		start:    start,
		end:      end,
		bars:     make(map[string][]model.Bar),
	}
	for _, f := range fixtures {
		s.fixtures[f.OrderBookID] = f
		s.order = append(s.order, f.OrderBookID)
	}
	sort.Strings(s.order)
	s.generate()
	return s
}

func (s *Source) generate() {
	prices := make(map[string]float64, len(s.order))
	instruments := make(map[string]*model.Instrument, len(s.order))
	for _, id := range s.order {
		prices[id] = s.fixtures[id].BasePrice
		inst := s.fixtures[id].Instrument(s.start)
		instruments[id] = &inst
	}

	for day := s.start; day.Before(s.end); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		for bar := 0; bar < barsPerDay; bar++ {
			sectorShocks := make(map[Sector]float64)
			for _, sec := range []Sector{SectorTech, SectorFinance, SectorHealthcare, SectorEnergy, SectorIndustrial} {
				sectorShocks[sec] = s.rng.Gaussian()
			}
			ts := day.Add(time.Duration(bar) * time.Minute)
			for _, id := range s.order {
				f := s.fixtures[id]
				tickVol := baseDailyVol / math.Sqrt(float64(barsPerDay)) * f.VolatilityMultiplier
				idioZ := s.rng.Gaussian()
				z := sectorBlend*sectorShocks[f.Sector] + (1-sectorBlend)*idioZ

				open := prices[id]
				price := open * math.Exp(tickVol*z)
				price = math.Round(price/f.TickSize) * f.TickSize
				if price < f.TickSize {
					price = f.TickSize
				}
				high := math.Max(open, price)
				low := math.Min(open, price)

				s.bars[id] = append(s.bars[id], model.Bar{
					Instrument: instruments[id],
					DateTime:   ts,
					Open:       open,
					High:       high,
					Low:        low,
					Close:      price,
					Volume:     int64(f.RoundLot) * int64(1+s.rng.Intn(20)),
				})
				prices[id] = price
			}
		}
	}
}

var _ datasource.DataSource = (*Source)(nil)

// GetBar implements datasource.DataSource.
func (s *Source) GetBar(orderBookID string, dt time.Time) (model.Bar, bool, error) {
	bars, ok := s.bars[orderBookID]
	if !ok {
		return model.Bar{}, false, &model.DataError{OrderBookID: orderBookID, Err: fmt.Errorf("unknown instrument")}
	}
	for _, b := range bars {
		if b.DateTime.Equal(dt) {
			return b, true, nil
		}
	}
	return model.Bar{}, false, nil
}

// GetSettlePrice implements datasource.DataSource, using the last bar of the
// trading date as the settlement price.
func (s *Source) GetSettlePrice(orderBookID string, dt time.Time) (float64, error) {
	bars, ok := s.bars[orderBookID]
	if !ok {
		return 0, &model.DataError{OrderBookID: orderBookID, Err: fmt.Errorf("unknown instrument")}
	}
	y, m, d := dt.Date()
	var last *model.Bar
	for i := range bars {
		by, bm, bd := bars[i].DateTime.Date()
		if by == y && bm == m && bd == d {
			last = &bars[i]
		}
	}
	if last == nil {
		return 0, &model.DataError{OrderBookID: orderBookID, Err: fmt.Errorf("no bars on %s", dt.Format("2006-01-02"))}
	}
	return last.Close, nil
}

// HistoryBars implements datasource.DataSource.
func (s *Source) HistoryBars(orderBookID string, dt time.Time, n int) ([]model.Bar, error) {
	bars, ok := s.bars[orderBookID]
	if !ok {
		return nil, &model.DataError{OrderBookID: orderBookID, Err: fmt.Errorf("unknown instrument")}
	}
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].DateTime.After(dt) })
	start := idx - n
	if start < 0 {
		start = 0
	}
	out := make([]model.Bar, idx-start)
	copy(out, bars[start:idx])
	return out, nil
}

// CurrentSnapshot implements datasource.DataSource.
func (s *Source) CurrentSnapshot(orderBookID string, dt time.Time) (model.MarketSnapshot, bool, error) {
	bars, ok := s.bars[orderBookID]
	if !ok {
		return nil, false, &model.DataError{OrderBookID: orderBookID, Err: fmt.Errorf("unknown instrument")}
	}
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].DateTime.After(dt) })
	if idx == 0 {
		return nil, false, nil
	}
	b := bars[idx-1]
	return &b, true, nil
}

// GetTradingMinutesFor implements datasource.DataSource, returning one
// continuous session per calendar day.
func (s *Source) GetTradingMinutesFor(orderBookID string, dt time.Time) ([]datasource.TradingMinute, error) {
	if _, ok := s.fixtures[orderBookID]; !ok {
		return nil, &model.DataError{OrderBookID: orderBookID, Err: fmt.Errorf("unknown instrument")}
	}
	y, m, d := dt.Date()
	open := time.Date(y, m, d, 0, 0, 0, 0, dt.Location())
	close := open.Add(time.Duration(barsPerDay) * time.Minute)
	return []datasource.TradingMinute{{Open: open, Close: close}}, nil
}

// AvailableDataRange implements datasource.DataSource.
func (s *Source) AvailableDataRange(orderBookID string) (time.Time, time.Time, error) {
	if _, ok := s.fixtures[orderBookID]; !ok {
		return time.Time{}, time.Time{}, &model.DataError{OrderBookID: orderBookID, Err: fmt.Errorf("unknown instrument")}
	}
	return s.start, s.end, nil
}

// GetMergeTicks implements datasource.DataSource. The synthetic source only
// generates bars, so each bar's close is surfaced as a single synthetic tick
// at the bar's timestamp.
func (s *Source) GetMergeTicks(orderBookID string, start, end time.Time) ([]model.Tick, error) {
	bars, ok := s.bars[orderBookID]
	if !ok {
		return nil, &model.DataError{OrderBookID: orderBookID, Err: fmt.Errorf("unknown instrument")}
	}
	var out []model.Tick
	for _, b := range bars {
		if b.DateTime.Before(start) || b.DateTime.After(end) {
			continue
		}
		out = append(out, model.Tick{
			OrderBookID: orderBookID,
			DateTime:    b.DateTime,
			Last:        b.Close,
			Open:        b.Open,
			High:        b.High,
			Low:         b.Low,
			Volume:      b.Volume,
		})
	}
	return out, nil
}
