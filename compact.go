package strata

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/colinwhite/strata/internal/segment"
)

// Compact runs one compaction pass: segments are first shadowed against
// the current memtable's keys, then adjacent surviving segments are
// merged pairwise, and the sparse index is rebuilt from the resulting
// segment list.
func (db *DB) Compact() error {
	if err := db.opsSem.Acquire(context.Background(), 1); err != nil {
		return fmt.Errorf("failed to acquire write access: %w", err)
	}
	defer db.opsSem.Release(1)

	if db.closed.Load() {
		return ErrClosed
	}
	return db.compactLocked()
}

// compactLocked implements the compaction algorithm. The caller must
// already hold db.opsSem.
func (db *DB) compactLocked() error {
	start := time.Now()

	snap := db.segments.Load().(segmentsSnapshot)
	if len(snap.ids) == 0 {
		return nil
	}

	db.memMu.RLock()
	shadowKeys := db.memtable.Keys()
	db.memMu.RUnlock()

	survivors := make([]int, 0, len(snap.ids))
	for _, id := range snap.ids {
		name := db.segmentName(id)
		path := db.segmentPath(id)
		retained, err := segment.RemoveKeys(path, shadowKeys)
		if err != nil {
			return fmt.Errorf("failed to shadow segment %q against memtable: %w", name, err)
		}
		if retained == 0 {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove segment %q emptied by compaction: %w", name, err)
			}
			db.log.Infow("compaction removed segment emptied by memtable shadowing", "segment", name)
			continue
		}
		survivors = append(survivors, id)
	}

	nextID := snap.current
	merged := make([]int, 0, (len(survivors)+1)/2)
	for i := 0; i < len(survivors); i += 2 {
		if i+1 == len(survivors) {
			// Odd one out: carries forward unmerged to next compaction.
			merged = append(merged, survivors[i])
			continue
		}
		oldID, newID := survivors[i], survivors[i+1]
		mergedID := nextID
		nextID++

		oldName, newName := db.segmentName(oldID), db.segmentName(newID)
		mergedPath := db.segmentPath(mergedID)
		if err := segment.Merge(db.segmentPath(oldID), db.segmentPath(newID), mergedPath); err != nil {
			return fmt.Errorf("failed to merge segments %q and %q: %w", oldName, newName, err)
		}
		if err := os.Remove(db.segmentPath(oldID)); err != nil {
			return fmt.Errorf("failed to remove merged segment %q: %w", oldName, err)
		}
		if err := os.Remove(db.segmentPath(newID)); err != nil {
			return fmt.Errorf("failed to remove merged segment %q: %w", newName, err)
		}
		merged = append(merged, mergedID)
	}

	newSnap := segmentsSnapshot{ids: merged, current: nextID}

	if err := db.repopulateIndexLocked(newSnap); err != nil {
		return fmt.Errorf("failed to repopulate sparse index after compaction: %w", err)
	}

	db.segMu.Lock()
	db.segments.Store(newSnap)
	db.segMu.Unlock()

	if err := db.saveMetadataLocked(newSnap); err != nil {
		return fmt.Errorf("failed to persist metadata after compaction: %w", err)
	}

	db.cfg.metrics.compactions.Inc()
	db.cfg.metrics.opDuration.WithLabelValues("compact").Observe(time.Since(start).Seconds())
	db.cfg.metrics.segments.Set(float64(len(newSnap.ids)))
	db.log.Infow("compacted segments", "segments_before", len(snap.ids), "segments_after", len(newSnap.ids))
	return nil
}

// repopulateIndexLocked rebuilds the sparse index from scratch by scanning
// every segment in snap, oldest to newest, sampling every sparsity-th
// record per segment exactly as flush does. Index.Add's
// newest-wins behavior on a repeated key relies on this oldest-to-newest
// walk order.
func (db *DB) repopulateIndexLocked(snap segmentsSnapshot) error {
	sparsity := db.cfg.sparsity()

	db.idxMu.Lock()
	defer db.idxMu.Unlock()

	db.index.Clear()
	for _, id := range snap.ids {
		name := db.segmentName(id)
		path := db.segmentPath(id)
		i := 0
		err := segment.ScanAll(path, func(key, value string, offset int64) error {
			if (i+1)%sparsity == 0 {
				db.index.Add(key, name, offset)
			}
			i++
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to scan segment %q while repopulating index: %w", name, err)
		}
	}
	return nil
}
