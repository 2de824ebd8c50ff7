// Command feedsim runs an end-to-end demo of the backtesting engine: a
// synthetic GBM datasource feeds a small cross-sector universe through the
// broker, a stock matcher fills a handful of demo orders against it, and
// the result is servable over REST/WebSocket while periodically snapshotted
// to Mongo.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantreplay/backsim/internal/account"
	"github.com/quantreplay/backsim/internal/api"
	"github.com/quantreplay/backsim/internal/archive"
	"github.com/quantreplay/backsim/internal/broker"
	"github.com/quantreplay/backsim/internal/bus"
	"github.com/quantreplay/backsim/internal/config"
	"github.com/quantreplay/backsim/internal/datasource/synthetic"
	"github.com/quantreplay/backsim/internal/engine"
	"github.com/quantreplay/backsim/internal/model"
	"github.com/quantreplay/backsim/internal/persist"
	"github.com/quantreplay/backsim/internal/portfolio"
	"github.com/quantreplay/backsim/internal/session"
	"github.com/quantreplay/backsim/internal/store/mongostore"
)

const (
	demoStartingCash = 1_000_000.0
	demoBrokerID     = 1
)

func main() {
	cfg := config.Load()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("backsim starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	start, end := cfg.StartDate, cfg.EndDate
	if start.IsZero() {
		start = time.Now().AddDate(0, 0, -1)
	}
	if end.IsZero() {
		end = start.AddDate(0, 0, 1)
	}

	fixtures := synthetic.DefaultFixtures()
	instList := make([]model.Instrument, 0, len(fixtures))
	ids := make([]string, 0, len(fixtures))
	for _, f := range fixtures {
		instList = append(instList, f.Instrument(start.AddDate(-1, 0, 0)))
		ids = append(ids, f.OrderBookID)
	}
	instruments := engine.NewInstrumentRegistry(instList)
	universe := model.NewUniverse(ids...)

	ds := synthetic.New(cfg.Seed, fixtures, start, end)
	log.Printf("synthetic datasource seeded (seed=%d), %d symbols", cfg.Seed, len(ids))

	// Two Mongo connections for two distinct concerns: kvStore backs the
	// opaque key/value StoreProvider capability the persistence helper
	// snapshots engine state through, while tradeStore backs the
	// aggregation-pipeline-shaped trade queries/archival/retention that
	// don't fit that key/value abstraction.
	kvStore, err := mongostore.New(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer kvStore.Close(context.Background())

	tradeStore, err := persist.Open(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("trade store connection failed: %v", err)
	}
	defer tradeStore.Close(context.Background())

	persistHelper := persist.NewHelper(kvStore)

	b := bus.New(bus.WithSystemTimerInterval(cfg.SystemTimerInterval()), bus.WithMarketTimerInterval(cfg.MarketTimerInterval()))
	orders := broker.NewOpenOrderTable()

	acc := account.NewAccount(demoBrokerID, model.AccountStock, demoStartingCash, instruments)
	p := portfolio.New(start, demoStartingCash)
	p.AddAccount(acc)

	persistHelper.Register("account.stock", persist.AccountState{Account: acc})
	persistHelper.Register("portfolio", persist.PortfolioState{Portfolio: p})

	if err := persistHelper.RestoreAll(ctx); err != nil {
		log.Printf("warning: failed to restore state: %v", err)
	}

	matchers := engine.NewMatchers(b, instruments, p, matchingTypeOf(cfg), cfg.Matching, nil)

	mode := broker.ModeBar
	if cfg.Market.Type == model.MarketInfoTick {
		mode = broker.ModeTick
	}
	br := broker.New(universe, ds, b, orders, mode, start, end)

	eng := engine.New(b, br, orders, p, instruments, persistHelper, matchers)
	eng.Attach()

	reader := persist.NewMongoTradeReader(tradeStore.DB())

	// Demo strategy: on about one MARKET_SEND in twenty, submit a small
	// random market order for that event's symbol, just enough to exercise
	// the matcher end to end without a real strategy layer.
	mgr := session.NewManager(256)
	rng := rand.New(rand.NewSource(cfg.Seed))
	b.AddListener(model.EventMarketSend, func(ctx context.Context, ev *model.Event) error {
		broadcastEvent(mgr, ev)
		if rng.Intn(20) != 0 {
			return nil
		}
		side := randomSide(rng)
		qty := int32(fixtures[0].RoundLot) * int32(1+rng.Intn(3))
		offset := model.OffsetOpen
		if side == model.SideSell {
			// A stock sell closes an existing long; there is nothing to short.
			pos, err := p.Position(ev.OrderBookID)
			if err != nil || pos.BuyQuantity() == 0 {
				return nil
			}
			offset = model.OffsetClose
			if pos.BuyQuantity() < qty {
				qty = pos.BuyQuantity()
			}
		}
		order := model.NewOrder(demoBrokerID, ev.OrderBookID, side, offset, qty, model.OrderMarket, 0, ev.DateTime)
		eng.SubmitOrder(order)
		return nil
	})
	b.AddListener(model.EventTrade, func(ctx context.Context, ev *model.Event) error {
		broadcastEvent(mgr, ev)
		if ev.Trade == nil {
			return nil
		}
		insertCtx, cancelInsert := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelInsert()
		doc := persist.TradeDoc{
			TradeID:          ev.Trade.TradeID,
			OrderID:          ev.Trade.OrderID,
			OrderBookID:      ev.Trade.OrderBookID,
			MatchDateTime:    ev.Trade.MatchDateTime,
			Price:            ev.Trade.Price,
			Quantity:         ev.Trade.Quantity,
			Side:             string(ev.Trade.Side),
			Offset:           string(ev.Trade.Offset),
			Commission:       ev.Trade.Commission,
			Tax:              ev.Trade.Tax,
			CloseTodayAmount: ev.Trade.CloseTodayAmount,
		}
		if err := reader.InsertTrade(insertCtx, ev.BrokerID, doc); err != nil {
			log.Printf("record trade %d: %v", ev.Trade.TradeID, err)
		}
		return nil
	})
	b.AddListener(model.EventOrder, func(ctx context.Context, ev *model.Event) error {
		broadcastEvent(mgr, ev)
		return nil
	})

	go runSnapshotLoop(ctx, persistHelper, cfg.SnapshotInterval)
	go tradeStore.RunRetention(ctx, cfg.TradeRetentionDays)

	if cfg.ArchiveDir != "" {
		archiver := archive.New(tradeStore.DB(), cfg.ArchiveDir, cfg.ArchiveMaxGB, cfg.ArchiveIntervalHours, cfg.ArchiveAfterHours)
		go archiver.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", session.Handler(mgr))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","clients":%d,"symbols":%d}`, mgr.ClientCount(), len(ids))
	})

	apiServer := api.NewServer(p, orders, reader, mgr)
	apiServer.Register(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	go eng.Run(ctx, ds, time.Second)

	log.Printf("REST/WebSocket server listening on http://%s", addr)
	log.Printf("feed: ws://%s/feed  health: http://%s/health", addr, addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}

	log.Println("backsim stopped")
}

func matchingTypeOf(cfg *config.Config) model.MatchingType {
	if cfg.Market.Type == model.MarketInfoTick {
		return model.NextTickLast
	}
	return model.CurrentBarClose
}

func randomSide(rng *rand.Rand) model.Side {
	if rng.Intn(2) == 0 {
		return model.SideBuy
	}
	return model.SideSell
}

// broadcastEvent fans a bus event out to every connected WebSocket client
// as a small JSON envelope, a read-only monitoring feed for dashboards.
func broadcastEvent(mgr *session.Manager, ev *model.Event) {
	payload := struct {
		Type        model.EventType `json:"type"`
		DateTime    time.Time       `json:"dateTime"`
		OrderBookID string          `json:"orderBookId,omitempty"`
		Order       *model.Order    `json:"order,omitempty"`
		Trade       *model.Trade    `json:"trade,omitempty"`
	}{Type: ev.Type, DateTime: ev.DateTime, OrderBookID: ev.OrderBookID, Order: ev.Order, Trade: ev.Trade}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	mgr.Broadcast(data)
}

// runSnapshotLoop persists the registered Stateful objects on a fixed
// cadence, independent of the event-driven persistence triggers.
func runSnapshotLoop(ctx context.Context, h *persist.Helper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.PersistAll(context.Background()); err != nil {
				log.Printf("snapshot: %v", err)
			}
		}
	}
}
