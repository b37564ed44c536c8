// Package sparseindex implements the in-memory sparse index: an ordered
// mapping from a sampled key to the (segment, offset) where that key's
// record begins on disk.
//
// Like the memtable, storage is backed by github.com/benbjohnson/immutable's
// generic SortedMap so that keys come back out in lexicographic order;
// floor is implemented with a binary search over a materialized snapshot
// of that order rather than the map's own cursor, since the sparse index
// is, by construction, small (one entry per sparsity run of a segment).
package sparseindex

import (
	"sort"

	"github.com/benbjohnson/immutable"
)

// Pointer locates a key on disk: the segment that holds it and the byte
// offset within that segment where its record begins.
type Pointer struct {
	Segment string
	Offset  int64
}

// Entry is one (key, pointer) pair as seen during in-order traversal.
type Entry struct {
	Key string
	Pointer
}

// Index is the sparse index described in spec §4.4.
type Index struct {
	data *immutable.SortedMap[string, Pointer]
}

// New returns an empty sparse index.
func New() *Index {
	return &Index{data: &immutable.SortedMap[string, Pointer]{}}
}

// Add records that key's record begins at offset within segment. When an
// entry for key already exists (e.g. the key appears in more than one
// segment across repeated flushes and compactions), the new entry wins:
// index repopulation walks segments oldest to newest, so the later Add
// call always belongs to the newer segment, preserving the recency rule
// for Floor.
func (idx *Index) Add(key, segment string, offset int64) {
	idx.data = idx.data.Set(key, Pointer{Segment: segment, Offset: offset})
}

// Find returns the exact pointer for key, if indexed.
func (idx *Index) Find(key string) (Pointer, bool) {
	return idx.data.Get(key)
}

// Contains reports whether key is indexed exactly.
func (idx *Index) Contains(key string) bool {
	_, ok := idx.data.Get(key)
	return ok
}

// Floor returns the entry with the largest indexed key less than or equal
// to key, or ok=false if every indexed key is greater than key. This is
// the performance-critical read path: it lets Get jump near a target key
// before a short linear scan of the segment.
func (idx *Index) Floor(key string) (Entry, bool) {
	entries := idx.InOrder()
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Key > key
	})
	if i == 0 {
		return Entry{}, false
	}
	return entries[i-1], true
}

// InOrder returns every entry in ascending key order.
func (idx *Index) InOrder() []Entry {
	out := make([]Entry, 0, idx.data.Len())
	itr := idx.data.Iterator()
	for !itr.Done() {
		k, v, _ := itr.Next()
		out = append(out, Entry{Key: k, Pointer: v})
	}
	return out
}

// Clear empties the index. Used before index repopulation after
// compaction, since offsets and segment assignments are no longer
// guaranteed correct once segments have been merged.
func (idx *Index) Clear() {
	idx.data = &immutable.SortedMap[string, Pointer]{}
}

// Len returns the number of indexed keys.
func (idx *Index) Len() int {
	return idx.data.Len()
}
