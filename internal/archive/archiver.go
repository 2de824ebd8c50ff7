// Package archive drains executed trades out of the database into gzipped
// NDJSON files on local disk, one file per trading day, so the trades
// collection stays small while a full audit trail survives outside Mongo.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/quantreplay/backsim/internal/persist"
)

const cursorKey = "archive_cursor"

// Archiver moves trades older than maxAge from the trades collection into
// day-partitioned archive files under dir, then prunes the oldest files
// whenever the directory grows past maxBytes.
type Archiver struct {
	db       *mongo.Database
	dir      string
	maxBytes int64
	interval time.Duration
	maxAge   time.Duration
	logger   *log.Logger
}

// New constructs an Archiver writing under dir with a maxGB size cap,
// waking every intervalHours to archive trades older than afterHours.
func New(db *mongo.Database, dir string, maxGB, intervalHours, afterHours int) *Archiver {
	return &Archiver{
		db:       db,
		dir:      dir,
		maxBytes: int64(maxGB) << 30,
		interval: time.Duration(intervalHours) * time.Hour,
		maxAge:   time.Duration(afterHours) * time.Hour,
		logger:   log.New(log.Writer(), "[archive] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// Run archives once immediately, then on every interval tick until ctx is
// cancelled.
func (a *Archiver) Run(ctx context.Context) {
	a.logger.Printf("dir=%s cap=%dGB interval=%v age=%v", a.dir, a.maxBytes>>30, a.interval, a.maxAge)

	a.archiveOnce(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.archiveOnce(ctx)
		}
	}
}

// archiveOnce advances the archive window from the persisted cursor up to
// now-maxAge: every trade in the window is written to its day's file, then
// deleted from the collection, then the cursor moves. Any error leaves the
// cursor where it was so the next cycle retries the same window.
func (a *Archiver) archiveOnce(ctx context.Context) {
	from, err := a.cursor(ctx)
	if err != nil {
		a.logger.Printf("read cursor: %v", err)
		return
	}
	to := time.Now().Add(-a.maxAge)
	if !from.Before(to) {
		return
	}

	byDay, err := a.collectByDay(ctx, from, to)
	if err != nil {
		a.logger.Printf("collect: %v", err)
		return
	}

	for day, batch := range byDay {
		if err := a.flushDay(ctx, day, batch); err != nil {
			a.logger.Printf("flush %s: %v", day, err)
			return
		}
		a.logger.Printf("archived %d trades for %s", len(batch), day)
	}

	a.advanceCursor(ctx, to)
	a.enforceSizeCap()
}

func (a *Archiver) collectByDay(ctx context.Context, from, to time.Time) (map[string][]persist.TradeDoc, error) {
	filter := bson.M{"match_datetime": bson.M{"$gte": from, "$lt": to}}
	opts := options.Find().SetSort(bson.D{{Key: "match_datetime", Value: 1}})

	cur, err := a.db.Collection("trades").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find trades: %w", err)
	}
	defer cur.Close(ctx)

	byDay := make(map[string][]persist.TradeDoc)
	for cur.Next(ctx) {
		var doc persist.TradeDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode trade: %w", err)
		}
		day := doc.MatchDateTime.UTC().Format("2006/01/02")
		byDay[day] = append(byDay[day], doc)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return byDay, nil
}

// flushDay appends one day's batch, as one more gzip member, to
// dir/trades/YYYY/MM/DD.jsonl.gz and deletes the batch from the collection
// only after the file is safely on disk.
func (a *Archiver) flushDay(ctx context.Context, day string, batch []persist.TradeDoc) error {
	path := filepath.Join(a.dir, "trades", day+".jsonl.gz")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			gz.Close()
			return fmt.Errorf("encode trade %d: %w", batch[i].TradeID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finish gzip: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	ids := make([]uint64, len(batch))
	for i, doc := range batch {
		ids[i] = doc.TradeID
	}
	if _, err := a.db.Collection("trades").DeleteMany(ctx, bson.M{"trade_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("delete archived trades: %w", err)
	}
	return nil
}

func (a *Archiver) cursor(ctx context.Context) (time.Time, error) {
	var doc struct {
		ValueTime time.Time `bson:"value_time"`
	}
	err := a.db.Collection("kv").FindOne(ctx, bson.M{"key": cursorKey}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return doc.ValueTime, nil
}

func (a *Archiver) advanceCursor(ctx context.Context, t time.Time) {
	_, err := a.db.Collection("kv").UpdateOne(ctx,
		bson.M{"key": cursorKey},
		bson.M{"$set": bson.M{"key": cursorKey, "value_time": t, "updated_at": time.Now()}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		a.logger.Printf("advance cursor: %v", err)
	}
}

// enforceSizeCap deletes the oldest archive files until the directory fits
// under maxBytes again. File paths embed YYYY/MM/DD, so lexicographic order
// is chronological order.
func (a *Archiver) enforceSizeCap() {
	root := filepath.Join(a.dir, "trades")

	type archiveFile struct {
		path string
		size int64
	}
	var files []archiveFile
	var total int64

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, archiveFile{path: path, size: info.Size()})
		total += info.Size()
		return nil
	})
	if total <= a.maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	for _, f := range files {
		if total <= a.maxBytes {
			return
		}
		if err := os.Remove(f.path); err != nil {
			a.logger.Printf("remove %s: %v", f.path, err)
			continue
		}
		total -= f.size
		a.logger.Printf("rotated out %s (%d bytes)", f.path, f.size)
	}
}
