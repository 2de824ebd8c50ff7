package persist

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func componentLogger(name string) *log.Logger {
	return log.New(log.Writer(), "["+name+"] ", log.LstdFlags|log.Lmicroseconds)
}

// Store wraps the MongoDB client/database pair used for trade archival and
// querying — the aggregation-pipeline-shaped reads in queries.go that don't
// fit the opaque key/value store.Provider abstraction the persistence
// helper uses for engine-state snapshots.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to MongoDB, verifies the connection with a ping, and
// ensures the trade/kv indexes exist before returning. The URI may carry
// the database name in its path (mongodb://host:27017/backsim); "backsim"
// is the fallback.
func Open(ctx context.Context, uri string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &Store{client: client, db: client.Database(databaseName(uri))}
	if err := EnsureIndexes(ctx, s.db); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	componentLogger("persist").Printf("connected to MongoDB (db=%s)", s.db.Name())
	return s, nil
}

func databaseName(uri string) string {
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			return name
		}
	}
	return "backsim"
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) {
	s.client.Disconnect(ctx)
}

// DB returns the underlying mongo.Database for collaborators (the archiver,
// the trade reader) that issue their own queries.
func (s *Store) DB() *mongo.Database {
	return s.db
}
