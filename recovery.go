package strata

import (
	"fmt"

	"github.com/colinwhite/strata/internal/metadata"
)

// saveMetadataLocked persists snap together with the current bloom filter
// and sparse index. The caller must hold db.opsSem; index reads take
// db.idxMu and bloom reads take db.bloomMu internally.
func (db *DB) saveMetadataLocked(snap segmentsSnapshot) error {
	db.idxMu.RLock()
	entries := db.index.InOrder()
	idxEntries := make([]metadata.IndexEntry, 0, len(entries))
	for _, e := range entries {
		idxEntries = append(idxEntries, metadata.IndexEntry{
			Key:     e.Key,
			Segment: e.Segment,
			Offset:  e.Offset,
		})
	}
	db.idxMu.RUnlock()

	db.bloomMu.RLock()
	falsePos, numItems := db.bloom.Params()
	bits := append([]byte(nil), db.bloom.Bits()...)
	db.bloomMu.RUnlock()

	names := make([]string, len(snap.ids))
	for i, id := range snap.ids {
		names[i] = db.segmentName(id)
	}

	snapshot := metadata.Snapshot{
		CurrentSegment: db.segmentName(snap.current),
		Segments:       names,
		BloomFalsePos:  falsePos,
		BloomNumItems:  numItems,
		BloomBits:      bits,
		Index:          idxEntries,
	}
	if err := metadata.Save(db.metadataPath, snapshot); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// saveMetadataNow persists the current segments snapshot, used by Close
// after the final flush has already published its own snapshot.
func (db *DB) saveMetadataNow() error {
	snap := db.segments.Load().(segmentsSnapshot)
	return db.saveMetadataLocked(snap)
}
