package persist

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const retentionSweepInterval = time.Hour

// RunRetention deletes trades older than retentionDays on an hourly sweep,
// blocking until ctx is cancelled. retentionDays <= 0 disables pruning
// entirely (keep forever). Trades the archiver has already drained to disk
// are naturally gone before this sweep ever sees them; retention is the
// backstop for deployments running without an archive directory.
func (s *Store) RunRetention(ctx context.Context, retentionDays int) {
	logger := componentLogger("retention")
	if retentionDays <= 0 {
		logger.Println("disabled (keep forever)")
		return
	}
	logger.Printf("pruning trades older than %d days every %v", retentionDays, retentionSweepInterval)

	s.pruneOlderThan(ctx, logger, retentionDays)

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneOlderThan(ctx, logger, retentionDays)
		}
	}
}

func (s *Store) pruneOlderThan(ctx context.Context, logger *log.Logger, days int) {
	cutoff := time.Now().AddDate(0, 0, -days)

	result, err := s.db.Collection("trades").DeleteMany(ctx, bson.M{
		"match_datetime": bson.M{"$lt": cutoff},
	})
	if err != nil {
		logger.Printf("prune: %v", err)
		return
	}
	if result.DeletedCount > 0 {
		logger.Printf("pruned %d trades older than %s", result.DeletedCount, cutoff.Format(time.DateOnly))
	}
}
