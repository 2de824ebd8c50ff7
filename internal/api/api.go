// Package api exposes the simulation's live state over REST and the event
// stream over WebSocket: portfolio valuation, account/position detail, the
// open-order table, and historical trades/candles/stats read from Mongo.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/quantreplay/backsim/internal/account"
	"github.com/quantreplay/backsim/internal/broker"
	"github.com/quantreplay/backsim/internal/model"
	"github.com/quantreplay/backsim/internal/persist"
	"github.com/quantreplay/backsim/internal/portfolio"
	"github.com/quantreplay/backsim/internal/session"
)

// Server provides REST API endpoints and the WebSocket event stream for a
// running simulation.
type Server struct {
	Portfolio *portfolio.Portfolio
	Orders    *broker.OpenOrderTable
	Reader    persist.TradeReader
	Manager   *session.Manager

	startAt time.Time
}

// NewServer creates a new API server.
func NewServer(p *portfolio.Portfolio, orders *broker.OpenOrderTable, reader persist.TradeReader, mgr *session.Manager) *Server {
	return &Server{
		Portfolio: p,
		Orders:    orders,
		Reader:    reader,
		Manager:   mgr,
		startAt:   time.Now(),
	}
}

// Register attaches API routes to the given mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/accounts/{type}", s.handleAccountDetail)
	mux.HandleFunc("GET /api/positions/{orderBookId}", s.handlePosition)
	mux.HandleFunc("GET /api/orders", s.handleOpenOrders)
	mux.HandleFunc("GET /api/orders/{orderId}", s.handleOrderDetail)
	mux.HandleFunc("GET /api/trades/{orderBookId}", s.handleTrades)
	mux.HandleFunc("GET /api/candles/{orderBookId}", s.handleCandles)
	mux.HandleFunc("GET /api/stats/{orderBookId}", s.handleStats)

	if s.Manager != nil {
		mux.HandleFunc("GET /ws", session.Handler(s.Manager))
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// resolveAccount looks up an account by type, writing a 404 if not found.
// Returns nil if not found (error already written).
func (s *Server) resolveAccount(w http.ResponseWriter, typ string) *account.Account {
	acc, ok := s.Portfolio.Account(model.AccountType(typ))
	if !ok {
		writeError(w, http.StatusNotFound, "account not found: "+typ)
		return nil
	}
	return acc
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// parseUintParam parses a uint64 query parameter with a default value.
func parseUintParam(r *http.Request, key string, def uint64) uint64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// parseTimeParam parses an RFC3339 query parameter.
func parseTimeParam(r *http.Request, key string) *time.Time {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
