package persist

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// TradeDoc is a persisted trade document, the Mongo-side shape of
// model.Trade plus the broker_id it traded under.
type TradeDoc struct {
	TradeID          uint64    `json:"tradeId"          bson:"trade_id"`
	OrderID          uint64    `json:"orderId"          bson:"order_id"`
	BrokerID         uint64    `json:"brokerId"         bson:"broker_id"`
	OrderBookID      string    `json:"orderBookId"      bson:"order_book_id"`
	MatchDateTime    time.Time `json:"matchDateTime"    bson:"match_datetime"`
	Price            float64   `json:"price"            bson:"price"`
	Quantity         int32     `json:"quantity"         bson:"quantity"`
	Side             string    `json:"side"             bson:"side"`
	Offset           string    `json:"offset"           bson:"offset"`
	Commission       float64   `json:"commission"       bson:"commission"`
	Tax              float64   `json:"tax"              bson:"tax"`
	CloseTodayAmount int32     `json:"closeTodayAmount" bson:"close_today_amount"`
}

// TradeFilter controls which trades QueryTrades returns.
type TradeFilter struct {
	OrderBookID string
	BrokerID    uint64
	Limit       int
	Offset      int
	From        *time.Time
	To          *time.Time
}

// Candle is an OHLCV bar built by bucketing trades over an interval.
type Candle struct {
	Bucket time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume int64     `json:"v"`
	Count  int64     `json:"n"`
}

// CandleFilter controls candle query parameters.
type CandleFilter struct {
	OrderBookID string
	Interval    string // "1m","5m","15m","1h","4h","1d"
	Limit       int
	From        *time.Time
	To          *time.Time
}

// TradeStats holds aggregate trade statistics for one order_book_id.
type TradeStats struct {
	TotalTrades int64   `json:"totalTrades"`
	TotalVolume int64   `json:"totalVolume"`
	TotalTurnover float64 `json:"totalTurnover"`
}

// TradeReader abstracts read-only trade/candle/stats queries, consumed by
// internal/api to serve historical fills without touching live engine state.
type TradeReader interface {
	QueryTrades(ctx context.Context, f TradeFilter) ([]TradeDoc, error)
	QueryCandles(ctx context.Context, f CandleFilter) ([]Candle, error)
	QueryTradeStats(ctx context.Context, orderBookID string) (TradeStats, error)
}

// MongoTradeReader implements TradeReader against a mongo.Database's
// "trades" collection.
type MongoTradeReader struct {
	db *mongo.Database
}

// NewMongoTradeReader constructs a MongoTradeReader.
func NewMongoTradeReader(db *mongo.Database) *MongoTradeReader {
	return &MongoTradeReader{db: db}
}

var intervalSeconds = map[string]int{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"1h":  3600,
	"4h":  14400,
	"1d":  86400,
}

func timeRangeFilter(filter bson.M, field string, from, to *time.Time) {
	if from == nil && to == nil {
		return
	}
	r := bson.M{}
	if from != nil {
		r["$gte"] = *from
	}
	if to != nil {
		r["$lte"] = *to
	}
	filter[field] = r
}

// QueryTrades returns trades for an order_book_id with optional time range
// and pagination, most recent first.
func (r *MongoTradeReader) QueryTrades(ctx context.Context, f TradeFilter) ([]TradeDoc, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}

	filter := bson.M{"order_book_id": f.OrderBookID}
	if f.BrokerID != 0 {
		filter["broker_id"] = f.BrokerID
	}
	timeRangeFilter(filter, "match_datetime", f.From, f.To)

	opts := options.Find().
		SetSort(bson.D{{Key: "match_datetime", Value: -1}}).
		SetLimit(int64(f.Limit)).
		SetSkip(int64(f.Offset))

	cursor, err := r.db.Collection("trades").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer cursor.Close(ctx)

	trades := []TradeDoc{}
	if err := cursor.All(ctx, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}

// QueryCandles returns OHLCV bars built from trades at the given interval.
func (r *MongoTradeReader) QueryCandles(ctx context.Context, f CandleFilter) ([]Candle, error) {
	secs, ok := intervalSeconds[f.Interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval: %s", f.Interval)
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}

	matchFilter := bson.M{"order_book_id": f.OrderBookID}
	timeRangeFilter(matchFilter, "match_datetime", f.From, f.To)

	millisPerBucket := int64(secs) * 1000
	bucketExpr := bson.M{
		"$toDate": bson.M{
			"$subtract": bson.A{
				bson.M{"$toLong": "$match_datetime"},
				bson.M{"$mod": bson.A{
					bson.M{"$toLong": "$match_datetime"},
					millisPerBucket,
				}},
			},
		},
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: matchFilter}},
		{{Key: "$sort", Value: bson.D{{Key: "match_datetime", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bucketExpr},
			{Key: "open", Value: bson.M{"$first": "$price"}},
			{Key: "high", Value: bson.M{"$max": "$price"}},
			{Key: "low", Value: bson.M{"$min": "$price"}},
			{Key: "close", Value: bson.M{"$last": "$price"}},
			{Key: "volume", Value: bson.M{"$sum": "$quantity"}},
			{Key: "count", Value: bson.M{"$sum": 1}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: -1}}}},
		{{Key: "$limit", Value: int64(f.Limit)}},
	}

	cursor, err := r.db.Collection("trades").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer cursor.Close(ctx)

	var raw []struct {
		Bucket time.Time `bson:"_id"`
		Open   float64   `bson:"open"`
		High   float64   `bson:"high"`
		Low    float64   `bson:"low"`
		Close  float64   `bson:"close"`
		Volume int64     `bson:"volume"`
		Count  int64     `bson:"count"`
	}
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}

	candles := make([]Candle, len(raw))
	for i, c := range raw {
		candles[i] = Candle{
			Bucket: c.Bucket,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
			Count:  c.Count,
		}
	}
	return candles, nil
}

// QueryTradeStats returns aggregate trade count, volume, and turnover for
// orderBookID across the whole archive.
func (r *MongoTradeReader) QueryTradeStats(ctx context.Context, orderBookID string) (TradeStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"order_book_id": orderBookID}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total_trades", Value: bson.M{"$sum": 1}},
			{Key: "total_volume", Value: bson.M{"$sum": "$quantity"}},
			{Key: "total_turnover", Value: bson.M{"$sum": bson.M{"$multiply": bson.A{"$price", "$quantity"}}}},
		}}},
	}

	cursor, err := r.db.Collection("trades").Aggregate(ctx, pipeline)
	if err != nil {
		return TradeStats{}, fmt.Errorf("query trade stats: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		TotalTrades   int64   `bson:"total_trades"`
		TotalVolume   int64   `bson:"total_volume"`
		TotalTurnover float64 `bson:"total_turnover"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return TradeStats{}, fmt.Errorf("decode trade stats: %w", err)
	}
	if len(results) == 0 {
		return TradeStats{}, nil
	}
	return TradeStats{
		TotalTrades:   results[0].TotalTrades,
		TotalVolume:   results[0].TotalVolume,
		TotalTurnover: results[0].TotalTurnover,
	}, nil
}

// InsertTrade records one executed model.Trade under brokerID, swallowing a
// duplicate-key error so replaying an already-archived trade is a no-op.
func (r *MongoTradeReader) InsertTrade(ctx context.Context, brokerID uint64, doc TradeDoc) error {
	doc.BrokerID = brokerID
	_, err := r.db.Collection("trades").InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}
