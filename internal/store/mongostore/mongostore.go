// Package mongostore implements store.Provider over a MongoDB collection of
// opaque key/value documents.
package mongostore

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/quantreplay/backsim/internal/store"
)

// Store wraps a MongoDB client/database pair and implements store.Provider
// over a single "kv" collection.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	collection string
}

var _ store.Provider = (*Store)(nil)

// New connects to MongoDB and returns a Store. The URI should include the
// database name (e.g. mongodb://localhost:27017/backsim); if absent,
// "backsim" is used.
func New(ctx context.Context, uri string) (*Store, error) {
	clientOpts := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := "backsim"
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	log.Printf("[store] connected to MongoDB (db=%s)", dbName)
	s := &Store{client: client, db: client.Database(dbName), collection: "kv"}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(s.collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create kv index: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type kvDoc struct {
	Key       string    `bson:"key"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Store implements store.Provider by upserting the key's document.
func (s *Store) Store(ctx context.Context, key string, value []byte) error {
	_, err := s.db.Collection(s.collection).UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"key": key, "value": value, "updated_at": time.Now()}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Load implements store.Provider.
func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var doc kvDoc
	err := s.db.Collection(s.collection).FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	return doc.Value, true, nil
}
