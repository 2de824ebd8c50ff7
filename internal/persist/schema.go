package persist

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EnsureIndexes creates idempotent indexes on the kv store and trades
// collections the engine's persistence/archival layer writes to.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{
			collection: "kv",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "trades",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "trade_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "trades",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "order_book_id", Value: 1},
					{Key: "match_datetime", Value: -1},
				},
			},
		},
	}

	for _, i := range indexes {
		_, err := db.Collection(i.collection).Indexes().CreateOne(ctx, i.model)
		if err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}

	componentLogger("persist").Println("indexes ensured")
	return nil
}
