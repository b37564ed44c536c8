// Package strata is a persistent, ordered key-value store built on the
// log-structured merge-tree design: an in-memory sorted memtable backed by
// a write-ahead log, flushed to immutable sorted segment files on disk,
// located on read through a bloom filter and a sparse index, and
// compacted on demand, by a blocking Compact call, by merging adjacent
// segments.
//
// strata exposes a blocking, in-process API; concurrency at a network
// boundary (a TCP handler, a CLI client, ...) is deliberately out of
// scope, as are transactions spanning multiple keys, secondary indexes,
// user-visible range scans, replication, range deletes, schema
// enforcement, and segment-payload compression.
package strata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/colinwhite/strata/internal/bloom"
	"github.com/colinwhite/strata/internal/memtable"
	"github.com/colinwhite/strata/internal/metadata"
	"github.com/colinwhite/strata/internal/segment"
	"github.com/colinwhite/strata/internal/sparseindex"
)

// DB represents a strata database rooted at a directory of segment files,
// created by Open.
type DB struct {
	dir string
	cfg Config

	// opsSem grants exclusive access to the mutating operations: Set's
	// memtable insert, Flush, and Compact. Only one of them runs at a
	// time, which is what spec §5 requires ("no two of those operations
	// interleave"). This generalizes the teacher's per-actor
	// semaphore.Weighted(1) guard into one synchronous, blocking
	// critical section shared by every mutator, since spec §5 also
	// states flush and compact are foreground operations rather than
	// the teacher's background actors.
	opsSem *semaphore.Weighted

	memMu    sync.RWMutex
	memtable *memtable.Memtable

	wal *wal

	bloomMu sync.RWMutex
	bloom   *bloom.Filter

	idxMu sync.RWMutex
	index *sparseindex.Index

	segMu    sync.Mutex
	segments atomic.Value // segmentsSnapshot

	metadataPath string

	closed atomic.Bool
	log    *zap.SugaredLogger
}

// segmentsSnapshot is the immutable view of on-disk segments read by
// concurrent Get calls: the oldest-to-newest list of segment ids plus the
// id that the next flush will write to. Readers must never observe a
// version that has been appended to before its file is closed,
// which is why rotation publishes a brand new snapshot via segments.Store
// only after the segment file is fully written and closed.
type segmentsSnapshot struct {
	ids     []int
	current int
}

// Open opens (or creates) a database rooted at dir. If dir already
// contains a metadata snapshot and a WAL, the engine recovers its
// in-memory state from them before returning.
func Open(dir string, opts ...ConfigOption) (*DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
	}

	db := &DB{
		dir:          dir,
		cfg:          cfg,
		opsSem:       semaphore.NewWeighted(1),
		index:        sparseindex.New(),
		metadataPath: filepath.Join(dir, cfg.metadataName),
		log:          cfg.logger,
	}

	snap, bf, err := db.recover()
	if err != nil {
		return nil, err
	}
	db.bloom = bf
	db.segments.Store(snap)

	walPath := filepath.Join(dir, cfg.walFilename)
	w, err := openWAL(walPath, cfg.syncEveryAppend, cfg.walRetries)
	if err != nil {
		return nil, err
	}
	db.wal = w

	mem, err := db.restoreMemtable()
	if err != nil {
		return nil, err
	}
	db.memtable = mem

	db.log.Infow("opened database",
		"dir", dir, "segments", len(snap.ids), "current_segment", snap.current,
		"memtable_records", mem.Len(),
	)
	return db, nil
}

// recover loads the metadata snapshot (if any) and validates every segment
// it names, in parallel, refusing to start on any that fails to parse
// (spec §7 Corruption: "not recoverable automatically; log and refuse to
// start"). It returns the segments snapshot and a bloom filter rebuilt
// from the snapshot's persisted parameters and bit array.
func (db *DB) recover() (segmentsSnapshot, *bloom.Filter, error) {
	snap, found, err := metadata.Load(db.metadataPath)
	if err != nil {
		db.log.Errorw("refusing to start: metadata snapshot is unreadable", "error", err)
		return segmentsSnapshot{}, nil, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}

	if !found {
		// No metadata snapshot was ever written. This is either a brand
		// new directory, or one left behind by a crash before the first
		// flush completed; either way there is no recorded recency
		// order, so the best available order is the numeric segment id
		// itself, which always matches creation order before any
		// compaction has run (compaction never leaves a directory
		// without a metadata snapshot).
		ids, err := db.discoverSegments()
		if err != nil {
			return segmentsSnapshot{}, nil, err
		}
		if err := db.validateSegments(ids); err != nil {
			db.log.Errorw("refusing to start: a segment failed validation", "error", err)
			return segmentsSnapshot{}, nil, err
		}
		current := 1
		if len(ids) > 0 {
			current = ids[len(ids)-1] + 1
		}
		bf := bloom.New(db.cfg.bloomFalsePos, db.cfg.bloomNumItems)
		return segmentsSnapshot{ids: ids, current: current}, bf, nil
	}

	ids := make([]int, 0, len(snap.Segments))
	for _, name := range snap.Segments {
		id, ok := segment.ParseID(db.cfg.segmentPrefix, name)
		if !ok {
			return segmentsSnapshot{}, nil, fmt.Errorf("%w: unrecognized segment name %q in metadata", ErrCorruptMetadata, name)
		}
		ids = append(ids, id)
	}
	if err := db.validateSegments(ids); err != nil {
		db.log.Errorw("refusing to start: a segment failed validation", "error", err)
		return segmentsSnapshot{}, nil, err
	}

	currentID, ok := segment.ParseID(db.cfg.segmentPrefix, snap.CurrentSegment)
	if !ok {
		return segmentsSnapshot{}, nil, fmt.Errorf("%w: unrecognized current segment %q", ErrCorruptMetadata, snap.CurrentSegment)
	}

	bf := bloom.FromBits(snap.BloomBits, snap.BloomFalsePos, snap.BloomNumItems)

	db.index.Clear()
	for _, e := range snap.Index {
		db.index.Add(e.Key, e.Segment, e.Offset)
	}

	// snap.Segments is the order saveMetadataLocked wrote, which already
	// reflects recency; it is taken as-is rather than sorted.
	return segmentsSnapshot{ids: ids, current: currentID}, bf, nil
}

// discoverSegments lists db.dir for files matching the configured segment
// prefix when no metadata snapshot exists to supply an authoritative
// order, and sorts them numerically so restart is deterministic instead of
// depending on directory enumeration order.
func (db *DB) discoverSegments() ([]int, error) {
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list database directory %q: %w", db.dir, err)
	}
	var ids []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := segment.ParseID(db.cfg.segmentPrefix, e.Name()); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// validateSegments parse-checks every named segment concurrently,
// refusing to start if any fails.
func (db *DB) validateSegments(ids []int) error {
	g, _ := errgroup.WithContext(context.Background())
	for _, id := range ids {
		id := id
		g.Go(func() error {
			name := db.segmentName(id)
			if err := segment.Validate(db.segmentPath(id)); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrCorruptSegment, name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// restoreMemtable replays the WAL into an empty memtable in file order.
// Because WAL order is write order, last-write-wins falls out naturally
//.
func (db *DB) restoreMemtable() (*memtable.Memtable, error) {
	recs, err := db.wal.Replay()
	if err != nil {
		return nil, fmt.Errorf("failed to restore memtable from WAL: %w", err)
	}

	mem := memtable.New()
	db.bloomMu.Lock()
	for _, rec := range recs {
		mem.Insert(rec.key, rec.value)
		// Re-adding every replayed key is idempotent and keeps the bloom
		// soundness invariant even if the persisted bit
		// array predates a crash that happened mid-write.
		db.bloom.Add(rec.key)
	}
	db.bloomMu.Unlock()
	return mem, nil
}

// Close flushes any pending writes, persists metadata, and releases the
// database's resources. Errors from each step are aggregated rather than
// discarding all but the first, matching the pack's go.uber.org/multierr
// usage for multi-subsystem shutdown.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	ctx := context.Background()
	var err error
	if acquireErr := db.opsSem.Acquire(ctx, 1); acquireErr != nil {
		err = multierr.Append(err, acquireErr)
	} else {
		if flushErr := db.flushLocked(); flushErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to flush on close: %w", flushErr))
		}
		db.opsSem.Release(1)
	}

	if saveErr := db.saveMetadataNow(); saveErr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to save metadata on close: %w", saveErr))
	}
	if closeErr := db.wal.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to close WAL: %w", closeErr))
	}

	db.log.Infow("closed database", "dir", db.dir)
	return err
}

// Set writes key=value. It returns once the WAL append backing the write
// is durable. If the write pushes the memtable over the
// configured threshold, the *previous* contents of the memtable are
// flushed first, following the check-before-insert shape the pack's
// alexhholmes/boulder memtable uses (spec §8 scenario S1 only holds under
// this ordering; TestScenario_S1 checks it).
func (db *DB) Set(key, value string) error {
	rec := record{key: key, value: value}
	if err := rec.validate(); err != nil {
		return err
	}

	if err := db.opsSem.Acquire(context.Background(), 1); err != nil {
		return fmt.Errorf("failed to acquire write access: %w", err)
	}
	defer db.opsSem.Release(1)

	if db.closed.Load() {
		return ErrClosed
	}

	db.memMu.Lock()
	overflow := db.memtable.TotalBytes()+db.memtable.Delta(key, value) >= db.cfg.threshold
	db.memMu.Unlock()

	if overflow {
		if err := db.flushLocked(); err != nil {
			return fmt.Errorf("failed to flush before set: %w", err)
		}
	}

	db.memMu.Lock()
	if err := db.wal.Append(rec); err != nil {
		db.memMu.Unlock()
		return fmt.Errorf("failed to write record to WAL: %w", err)
	}
	db.memtable.Insert(key, value)
	db.memMu.Unlock()

	db.bloomMu.Lock()
	db.bloom.Add(key)
	db.bloomMu.Unlock()

	db.cfg.metrics.sets.Inc()
	return nil
}

// Get returns the current value of key, or ErrKeyNotFound if absent
//.
func (db *DB) Get(key string) (string, error) {
	if db.closed.Load() {
		return "", ErrClosed
	}
	db.cfg.metrics.gets.Inc()

	db.memMu.RLock()
	if v, ok := db.memtable.Find(key); ok {
		db.memMu.RUnlock()
		db.cfg.metrics.hits.Inc()
		return v, nil
	}
	db.memMu.RUnlock()

	db.bloomMu.RLock()
	maybePresent := db.bloom.Contains(key)
	db.bloomMu.RUnlock()
	if !maybePresent {
		db.cfg.metrics.misses.Inc()
		return "", ErrKeyNotFound
	}

	db.idxMu.RLock()
	entry, ok := db.index.Floor(key)
	db.idxMu.RUnlock()
	if ok {
		value, found, err := db.scanForKey(entry.Segment, entry.Offset, key)
		if err != nil {
			return "", fmt.Errorf("failed to scan segment %q: %w", entry.Segment, err)
		}
		if found {
			db.cfg.metrics.hits.Inc()
			return value, nil
		}
	}

	snap := db.segments.Load().(segmentsSnapshot)
	for i := len(snap.ids) - 1; i >= 0; i-- {
		name := db.segmentName(snap.ids[i])
		value, found, err := db.scanForKey(name, 0, key)
		if err != nil {
			return "", fmt.Errorf("failed to scan segment %q: %w", name, err)
		}
		if found {
			db.cfg.metrics.hits.Inc()
			return value, nil
		}
	}

	db.cfg.metrics.misses.Inc()
	return "", ErrKeyNotFound
}

// scanForKey scans segment name from offset forward looking for target,
// stopping as soon as a key greater than target is seen (segments are
// sorted ascending) or on EOF.
func (db *DB) scanForKey(name string, offset int64, target string) (value string, found bool, err error) {
	path := filepath.Join(db.dir, name)
	err = segment.ScanFrom(path, offset, func(key, v string) (bool, error) {
		switch {
		case key == target:
			value, found = v, true
			return true, nil
		case key > target:
			return true, nil
		default:
			return false, nil
		}
	})
	return value, found, err
}

func (db *DB) segmentName(id int) string {
	return segment.Name(db.cfg.segmentPrefix, id)
}

func (db *DB) segmentPath(id int) string {
	return filepath.Join(db.dir, db.segmentName(id))
}

// Flush writes the memtable to the current segment file, rotates, empties
// the memtable and WAL, and updates the sparse index.
func (db *DB) Flush() error {
	if err := db.opsSem.Acquire(context.Background(), 1); err != nil {
		return fmt.Errorf("failed to acquire write access: %w", err)
	}
	defer db.opsSem.Release(1)

	if db.closed.Load() {
		return ErrClosed
	}
	return db.flushLocked()
}

// flushLocked implements the flush algorithm. The caller must already hold
// db.opsSem.
func (db *DB) flushLocked() error {
	db.memMu.Lock()
	defer db.memMu.Unlock()

	if db.memtable.Len() == 0 {
		return nil
	}
	start := time.Now()

	snap := db.segments.Load().(segmentsSnapshot)
	segName := db.segmentName(snap.current)
	path := db.segmentPath(snap.current)

	w, err := segment.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create segment %q: %w", segName, err)
	}

	sparsity := db.cfg.sparsity()
	records := db.memtable.InOrder()

	db.idxMu.Lock()
	for i, rec := range records {
		offsetBefore := w.Offset()
		if (i+1)%sparsity == 0 {
			db.index.Add(rec.Key, segName, offsetBefore)
		}
		if err := w.WriteRecord(rec.Key, rec.Value); err != nil {
			db.idxMu.Unlock()
			w.Close()
			return fmt.Errorf("failed to write record during flush: %w", err)
		}
	}
	db.idxMu.Unlock()

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close flushed segment %q: %w", segName, err)
	}

	db.memtable.Clear()
	if err := db.wal.Clear(); err != nil {
		return fmt.Errorf("failed to truncate WAL after flush: %w", err)
	}

	db.segMu.Lock()
	newIDs := make([]int, len(snap.ids)+1)
	copy(newIDs, snap.ids)
	newIDs[len(snap.ids)] = snap.current
	newSnap := segmentsSnapshot{ids: newIDs, current: snap.current + 1}
	db.segments.Store(newSnap)
	db.segMu.Unlock()

	if err := db.saveMetadataLocked(newSnap); err != nil {
		return fmt.Errorf("failed to persist metadata after flush: %w", err)
	}

	db.cfg.metrics.flushes.Inc()
	db.cfg.metrics.opDuration.WithLabelValues("flush").Observe(time.Since(start).Seconds())
	db.cfg.metrics.segments.Set(float64(len(newSnap.ids)))
	db.log.Infow("flushed memtable", "segment", segName, "records", len(records))
	return nil
}
