// Package history implements the durable, append-mostly record of non-queued
// job states and the minute-aligned health time series (SPEC_FULL.md §4.6).
// It is backed by a single-writer, WAL-journaled embedded KV store
// (go.etcd.io/bbolt) so concurrent readers (stats queries) never block the
// scheduler's hot path: the scheduler only ever enqueues onto a buffered
// channel drained by this package's own writer goroutine.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"pullsched/clock"
	"pullsched/health"
	"pullsched/scheduler"
)

var (
	bucketStatsMinute = []byte("stats_minute")
	bucketJobHistory  = []byte("job_history")
	bucketJobEvents   = []byte("job_events")
)

// OpenDB opens (creating if absent) the bbolt file backing history and
// settings. Both stores share one file/handle, matching the teacher's
// one-owned-resource-per-concern convention (a single directory owns both
// cache and checkpoint state in engine/resources/manager.go).
func OpenDB(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketStatsMinute, bucketJobHistory, bucketJobEvents} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history buckets: %w", err)
	}
	return db, nil
}

type minuteRow struct {
	TS       int64          `json:"ts"`
	Busy     float64        `json:"busy"`
	Snapshot health.Snapshot `json:"snapshot"`
}

// writeOp is one item enqueued from inside the scheduler's critical section.
type writeOp struct {
	historyRow *scheduler.JobHistoryRow
	eventRow   *scheduler.JobEventRow
}

// Store is the durable job-history and minute-sample record. Construct with
// NewStore, then start the writer goroutine with Run; Stop drains queued
// writes, and Close closes the underlying db.
type Store struct {
	db  *bbolt.DB
	clk clock.Clock

	minuteRetention time.Duration
	historyRetention time.Duration

	queue chan writeOp

	mu           sync.Mutex
	lastWriteErr error

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewStore wraps an already-open bbolt handle. minuteRetention and
// historyRetention bound stats_minute (default 24h) and job_history/job_events
// (default 30 days) rows respectively.
func NewStore(db *bbolt.DB, clk clock.Clock, minuteRetention, historyRetention time.Duration) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		db:               db,
		clk:              clk,
		minuteRetention:  minuteRetention,
		historyRetention: historyRetention,
		queue:            make(chan writeOp, 1024),
	}
}

// Run launches the background single-writer goroutine draining the enqueue
// channel, plus a daily retention-prune tick. Call Stop to drain in-flight
// writes and terminate cleanly (SPEC_FULL.md §5 shutdown ordering).
func (s *Store) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(2)
	go s.writeLoop(ctx)
	go s.pruneLoop(ctx)
}

// Stop cancels background loops and waits for the writer to drain its queue.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Close closes the underlying bbolt handle. Callers should Stop before
// Close so in-flight writes are not lost.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case op := <-s.queue:
			s.apply(op)
		}
	}
}

// drain flushes whatever is already buffered before exiting, without
// blocking forever on an empty channel.
func (s *Store) drain() {
	for {
		select {
		case op := <-s.queue:
			s.apply(op)
		default:
			return
		}
	}
}

func (s *Store) apply(op writeOp) {
	var err error
	switch {
	case op.historyRow != nil:
		err = s.writeJobHistory(*op.historyRow)
	case op.eventRow != nil:
		err = s.writeJobEvent(*op.eventRow)
	}
	if err != nil {
		s.mu.Lock()
		s.lastWriteErr = err
		s.mu.Unlock()
	}
}

func (s *Store) pruneLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.PruneHistory(int(s.historyRetention / (24 * time.Hour)))
		}
	}
}

// EnqueueJobHistory implements scheduler.HistorySink. It must never block:
// a full queue drops the write and records a storage_error via LastError.
func (s *Store) EnqueueJobHistory(row scheduler.JobHistoryRow) {
	select {
	case s.queue <- writeOp{historyRow: &row}:
	default:
		s.mu.Lock()
		s.lastWriteErr = fmt.Errorf("history write queue full, dropped job %s", row.JobID)
		s.mu.Unlock()
	}
}

// EnqueueJobEvent implements scheduler.HistorySink.
func (s *Store) EnqueueJobEvent(ev scheduler.JobEventRow) {
	select {
	case s.queue <- writeOp{eventRow: &ev}:
	default:
		s.mu.Lock()
		s.lastWriteErr = fmt.Errorf("history write queue full, dropped event for %s", ev.EntityID)
		s.mu.Unlock()
	}
}

// LastError returns the most recent durable-write failure, or nil. Surfaced
// by the health evaluator as a degraded probe per SPEC_FULL.md §7
// (storage_error never crashes the scheduler).
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWriteErr
}

func (s *Store) writeJobHistory(row scheduler.JobHistoryRow) error {
	buf, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketJobHistory).Put([]byte(row.JobID), buf)
	})
}

func (s *Store) writeJobEvent(ev scheduler.JobEventRow) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketJobEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		buf, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), buf)
	})
}

// WriteMinuteSample implements health.MinuteWriter. Called once per newly
// entered minute from the sampler's own tick goroutine (not under the
// scheduler's mutex), so it may block on disk I/O directly. Retention is
// applied on every write, per SPEC_FULL.md §4.2.
func (s *Store) WriteMinuteSample(ts time.Time, busy float64, snapshot health.Snapshot) error {
	row := minuteRow{TS: ts.Unix(), Busy: busy, Snapshot: snapshot}
	buf, err := json.Marshal(row)
	if err != nil {
		return err
	}
	cutoff := ts.Add(-s.minuteRetention).Unix()
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketStatsMinute)
		if err := b.Put(minuteKey(row.TS), buf); err != nil {
			return err
		}
		return pruneOlderThan(b, cutoff)
	})
	s.mu.Lock()
	s.lastWriteErr = err
	s.mu.Unlock()
	return err
}

// MinuteSamples returns every stored sample with ts >= since, oldest first.
func (s *Store) MinuteSamples(since time.Time) ([]minuteRow, error) {
	var out []minuteRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketStatsMinute).Cursor()
		lo := minuteKey(since.Unix())
		for k, v := c.Seek(lo); k != nil; k, v = c.Next() {
			var row minuteRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}

func minuteKey(ts int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ts))
	return b[:]
}

func seqKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func pruneOlderThan(b *bbolt.Bucket, cutoff int64) error {
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		ts := int64(binary.BigEndian.Uint64(k))
		if ts >= cutoff {
			break
		}
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}
