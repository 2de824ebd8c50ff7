package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/quantreplay/backsim/internal/account"
	"github.com/quantreplay/backsim/internal/model"
	"github.com/quantreplay/backsim/internal/persist"
)

type portfolioResponse struct {
	StartDate          string  `json:"startDate"`
	Units              float64 `json:"units"`
	TotalValue         float64 `json:"totalValue"`
	Cash               float64 `json:"cash"`
	FrozenCash         float64 `json:"frozenCash"`
	TransactionCost    float64 `json:"transactionCost"`
	MarketValue        float64 `json:"marketValue"`
	UnitNetValue       float64 `json:"unitNetValue"`
	DailyReturns       float64 `json:"dailyReturns"`
	DailyPnL           float64 `json:"dailyPnl"`
	TotalReturns       float64 `json:"totalReturns"`
	AnnualizedReturns  float64 `json:"annualizedReturns"`
}

// handlePortfolio returns the union-of-accounts valuation of the portfolio.
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	p := s.Portfolio
	now := time.Now()

	writeJSON(w, http.StatusOK, portfolioResponse{
		StartDate:         p.StartDate.Format(time.RFC3339),
		Units:             p.Units,
		TotalValue:        p.TotalValue(),
		Cash:              p.Cash(),
		FrozenCash:        p.FrozenCash(),
		TransactionCost:   p.TransactionCost(),
		MarketValue:       p.MarketValue(),
		UnitNetValue:      p.UnitNetValue(),
		DailyReturns:      p.DailyReturns(),
		DailyPnL:          p.DailyPnL(),
		TotalReturns:      p.TotalReturns(),
		AnnualizedReturns: p.AnnualizedReturns(now),
	})
}

type accountResponse struct {
	Type            string             `json:"type"`
	BrokerID        uint64             `json:"brokerId"`
	TotalCash       float64            `json:"totalCash"`
	FrozenCash      float64            `json:"frozenCash"`
	Cash            float64            `json:"cash"`
	TransactionCost float64            `json:"transactionCost"`
	TotalValue      float64            `json:"totalValue"`
	Blown           bool               `json:"blown"`
	Positions       []positionResponse `json:"positions"`
}

type positionResponse struct {
	OrderBookID       string  `json:"orderBookId"`
	BuyQuantity       int32   `json:"buyQuantity"`
	SellQuantity      int32   `json:"sellQuantity"`
	NetQuantity       int32   `json:"netQuantity"`
	BuyAvgOpenPrice   float64 `json:"buyAvgOpenPrice"`
	SellAvgOpenPrice  float64 `json:"sellAvgOpenPrice"`
	LastPrice         float64 `json:"lastPrice"`
	MarketValue       float64 `json:"marketValue"`
	Margin            float64 `json:"margin"`
	HoldingPnL        float64 `json:"holdingPnl"`
	RealizedPnL       float64 `json:"realizedPnl"`
}

func toPositionResponse(p *account.Position) positionResponse {
	return positionResponse{
		OrderBookID:      p.OrderBookID,
		BuyQuantity:      p.BuyQuantity(),
		SellQuantity:     p.SellQuantity(),
		NetQuantity:      p.NetQuantity(),
		BuyAvgOpenPrice:  p.BuyAvgOpenPrice,
		SellAvgOpenPrice: p.SellAvgOpenPrice,
		LastPrice:        p.LastPrice,
		MarketValue:      p.MarketValue(),
		Margin:           p.Margin(),
		HoldingPnL:       p.HoldingPnL(),
		RealizedPnL:      p.RealizedPnL,
	}
}

// handleAccountDetail returns one account's cash/margin/position summary.
func (s *Server) handleAccountDetail(w http.ResponseWriter, r *http.Request) {
	typ := r.PathValue("type")
	acc := s.resolveAccount(w, typ)
	if acc == nil {
		return
	}

	positions := make([]positionResponse, 0, len(acc.Positions))
	for _, pos := range acc.Positions {
		positions = append(positions, toPositionResponse(pos))
	}

	writeJSON(w, http.StatusOK, accountResponse{
		Type:            string(acc.Type),
		BrokerID:        acc.BrokerID,
		TotalCash:       acc.TotalCash,
		FrozenCash:      acc.FrozenCash,
		Cash:            acc.Cash(),
		TransactionCost: acc.TransactionCost,
		TotalValue:      acc.TotalValue(),
		Blown:           acc.Blown,
		Positions:       positions,
	})
}

// handlePosition returns the position an order_book_id holds across whichever
// account of the portfolio carries it.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	orderBookID := r.PathValue("orderBookId")

	pos, err := s.Portfolio.Position(orderBookID)
	if err != nil {
		if errors.Is(err, model.ErrPositionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

type orderResponse struct {
	OrderID         uint64  `json:"orderId"`
	BrokerID        uint64  `json:"brokerId"`
	OrderBookID     string  `json:"orderBookId"`
	Side            string  `json:"side"`
	Offset          string  `json:"offset"`
	Quantity        int32   `json:"quantity"`
	FilledQuantity  int32   `json:"filledQuantity"`
	Type            string  `json:"type"`
	LimitPrice      float64 `json:"limitPrice"`
	AvgPrice        float64 `json:"avgPrice"`
	TransactionCost float64 `json:"transactionCost"`
	Status          string  `json:"status"`
	Message         string  `json:"message,omitempty"`
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		OrderID:         o.OrderID,
		BrokerID:        o.BrokerID,
		OrderBookID:     o.OrderBookID,
		Side:            string(o.Side),
		Offset:          string(o.Offset),
		Quantity:        o.Quantity,
		FilledQuantity:  o.FilledQuantity,
		Type:            string(o.Type),
		LimitPrice:      o.LimitPrice,
		AvgPrice:        o.AvgPrice,
		TransactionCost: o.TransactionCost,
		Status:          string(o.Status),
		Message:         o.Message,
	}
}

// handleOpenOrders lists every resting order, optionally narrowed to one
// order_book_id or broker_id.
func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	var orders []*model.Order
	if orderBookID := r.URL.Query().Get("orderBookId"); orderBookID != "" {
		orders = s.Orders.ForSymbol(orderBookID)
	} else if brokerStr := r.URL.Query().Get("brokerId"); brokerStr != "" {
		brokerID, err := strconv.ParseUint(brokerStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid brokerId")
			return
		}
		orders = s.Orders.ForBroker(brokerID)
	} else {
		orders = s.Orders.All()
	}

	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleOrderDetail looks up one order by ID from the open-order table.
func (s *Server) handleOrderDetail(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("orderId")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid orderId")
		return
	}

	order, ok := s.Orders.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// handleTrades returns paginated trades for an order_book_id from the
// database.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	orderBookID := r.PathValue("orderBookId")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	trades, err := s.Reader.QueryTrades(ctx, persist.TradeFilter{
		OrderBookID: orderBookID,
		BrokerID:    parseUintParam(r, "brokerId", 0),
		Limit:       parseIntParam(r, "limit", 100),
		Offset:      parseIntParam(r, "offset", 0),
		From:        parseTimeParam(r, "from"),
		To:          parseTimeParam(r, "to"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, trades)
}

// handleCandles returns OHLCV bars built from archived trades.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	orderBookID := r.PathValue("orderBookId")

	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1m"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	candles, err := s.Reader.QueryCandles(ctx, persist.CandleFilter{
		OrderBookID: orderBookID,
		Interval:    interval,
		Limit:       parseIntParam(r, "limit", 100),
		From:        parseTimeParam(r, "from"),
		To:          parseTimeParam(r, "to"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, candles)
}

type statsResponse struct {
	Uptime        string  `json:"uptime"`
	Clients       int     `json:"clients"`
	OpenOrders    int     `json:"openOrders"`
	TotalTrades   int64   `json:"totalTrades"`
	TotalVolume   int64   `json:"totalVolume"`
	TotalTurnover float64 `json:"totalTurnover"`
}

// handleStats returns runtime and aggregate statistics for an order_book_id.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	orderBookID := r.PathValue("orderBookId")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ts, err := s.Reader.QueryTradeStats(ctx, orderBookID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	clients := 0
	if s.Manager != nil {
		clients = s.Manager.ClientCount()
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Uptime:        time.Since(s.startAt).Truncate(time.Second).String(),
		Clients:       clients,
		OpenOrders:    len(s.Orders.ForSymbol(orderBookID)),
		TotalTrades:   ts.TotalTrades,
		TotalVolume:   ts.TotalVolume,
		TotalTurnover: ts.TotalTurnover,
	})
}
