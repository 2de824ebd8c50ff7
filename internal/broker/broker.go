// Package broker implements the market replay component: one producer
// goroutine per symbol reading historical data from a datasource.DataSource,
// a capacity-1 channel per symbol that gives the replay natural
// backpressure, and a MARKET_CHECK handler that always advances whichever
// symbol has the chronologically-earliest buffered snapshot.
package broker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/quantreplay/backsim/internal/bus"
	"github.com/quantreplay/backsim/internal/datasource"
	"github.com/quantreplay/backsim/internal/model"
)

// Mode selects whether the broker replays ticks or bars.
type Mode int

const (
	ModeTick Mode = iota
	ModeBar
)

// Broker is the market replay engine. Construct with New, wire it to a Bus
// with Attach, then Start it.
type Broker struct {
	universe   model.Universe
	ds         datasource.DataSource
	bus        *bus.Bus
	orders     *OpenOrderTable
	logger     *log.Logger
	mode       Mode
	start, end time.Time

	mu       sync.Mutex
	channels map[string]chan model.MarketSnapshot
	peeked   map[string]model.MarketSnapshot
	done     map[string]bool // true once a symbol's producer is exhausted/failed

	wg sync.WaitGroup
}

// New constructs a Broker over universe, replaying ds data in [start, end].
func New(universe model.Universe, ds datasource.DataSource, b *bus.Bus, orders *OpenOrderTable, mode Mode, start, end time.Time) *Broker {
	return &Broker{
		universe: universe,
		ds:       ds,
		bus:      b,
		orders:   orders,
		logger:   log.New(log.Writer(), "[broker] ", log.LstdFlags|log.Lmicroseconds),
		mode:     mode,
		start:    start,
		end:      end,
		channels: make(map[string]chan model.MarketSnapshot),
		peeked:   make(map[string]model.MarketSnapshot),
		done:     make(map[string]bool),
	}
}

// Attach registers the broker's MARKET_CHECK handler on b. Must be called
// before Start.
func (br *Broker) Attach() {
	br.bus.AddListener(model.EventMarketCheck, br.handleMarketCheck)
}

// Start spawns one producer goroutine per universe symbol. ctx cancellation
// stops all producers; Stop waits for them to exit.
func (br *Broker) Start(ctx context.Context) {
	for _, id := range br.universe.IDs() {
		ch := make(chan model.MarketSnapshot, 1)
		br.channels[id] = ch
		br.wg.Add(1)
		go br.produce(ctx, id, ch)
	}
}

// Stop waits for every producer goroutine to exit. Callers should cancel the
// context passed to Start first.
func (br *Broker) Stop() {
	br.wg.Wait()
}

func (br *Broker) produce(ctx context.Context, orderBookID string, ch chan<- model.MarketSnapshot) {
	defer br.wg.Done()
	defer close(ch)

	snapshots, err := br.loadSnapshots(orderBookID)
	if err != nil {
		br.logger.Printf("%v", &model.ProducerFailedError{OrderBookID: orderBookID, Err: err})
		br.markDone(orderBookID)
		return
	}

	for _, snap := range snapshots {
		select {
		case <-ctx.Done():
			return
		case ch <- snap:
		}
	}
	br.markDone(orderBookID)
}

func (br *Broker) loadSnapshots(orderBookID string) ([]model.MarketSnapshot, error) {
	switch br.mode {
	case ModeBar:
		bars, err := br.ds.HistoryBars(orderBookID, br.end, 1<<30)
		if err != nil {
			return nil, err
		}
		out := make([]model.MarketSnapshot, 0, len(bars))
		for i := range bars {
			if bars[i].DateTime.Before(br.start) || bars[i].DateTime.After(br.end) {
				continue
			}
			b := bars[i]
			out = append(out, &b)
		}
		return out, nil
	default:
		ticks, err := br.ds.GetMergeTicks(orderBookID, br.start, br.end)
		if err != nil {
			return nil, err
		}
		out := make([]model.MarketSnapshot, 0, len(ticks))
		for i := range ticks {
			t := ticks[i]
			out = append(out, t)
		}
		return out, nil
	}
}

func (br *Broker) markDone(orderBookID string) {
	br.mu.Lock()
	br.done[orderBookID] = true
	br.mu.Unlock()
}

// handleMarketCheck fills the peeked buffer from any symbol channel that has
// a value ready, then publishes MARKET_SEND for whichever buffered snapshot
// has the chronologically-earliest timestamp, tie-broken by subscription
// order. The argmin is seeded from an actual candidate, never a sentinel
// zero time, so the first snapshot of a run is selected like any other.
func (br *Broker) handleMarketCheck(ctx context.Context, event *model.Event) error {
	br.mu.Lock()
	defer br.mu.Unlock()

	for _, id := range br.universe.IDs() {
		if _, have := br.peeked[id]; have {
			continue
		}
		ch, ok := br.channels[id]
		if !ok {
			continue
		}
		select {
		case snap, ok := <-ch:
			if ok {
				br.peeked[id] = snap
			}
		default:
		}
	}

	var bestID string
	var best model.MarketSnapshot
	for _, id := range br.universe.IDs() {
		snap, ok := br.peeked[id]
		if !ok {
			continue
		}
		if best == nil || snap.Time().Before(best.Time()) {
			best = snap
			bestID = id
		}
	}
	if best == nil {
		return nil
	}
	delete(br.peeked, bestID)

	out := model.NewEvent(model.EventMarketSend, best.Time())
	out.OrderBookID = bestID
	switch v := best.(type) {
	case model.Tick:
		out.Tick = &v
	case *model.Bar:
		out.Bar = v
	}
	br.bus.Publish(out)
	return nil
}

// IsExhausted reports whether orderBookID's producer has finished (or
// failed) and has no more buffered data.
func (br *Broker) IsExhausted(orderBookID string) bool {
	br.mu.Lock()
	defer br.mu.Unlock()
	if !br.done[orderBookID] {
		return false
	}
	_, buffered := br.peeked[orderBookID]
	return !buffered && len(br.channels[orderBookID]) == 0
}
