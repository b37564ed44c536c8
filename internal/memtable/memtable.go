// Package memtable implements the in-memory sorted key-value buffer that
// sits in front of the segment files.
//
// Ordering is provided by github.com/benbjohnson/immutable's generic
// SortedMap, a persistent balanced tree: every Insert swaps the table's
// pointer to a new root rather than mutating shared state in place. The
// table is not itself safe for concurrent use; the engine serializes
// writers and only ever hands out *Memtable across its own exclusion.
package memtable

import (
	"github.com/benbjohnson/immutable"
)

// Record is one key-value pair as seen during in-order traversal.
type Record struct {
	Key   string
	Value string
}

// Memtable is an ordered mapping from key to value, ordered by key
// (lexicographic byte order).
type Memtable struct {
	data       *immutable.SortedMap[string, string]
	totalBytes int
}

// New returns an empty memtable.
func New() *Memtable {
	return &Memtable{
		data: &immutable.SortedMap[string, string]{},
	}
}

// Insert sets key to value. Updating an existing key replaces its value
// and changes TotalBytes by the delta in value length only; inserting a
// new key increases TotalBytes by len(key)+len(value).
func (m *Memtable) Insert(key, value string) {
	if old, ok := m.data.Get(key); ok {
		m.totalBytes += len(value) - len(old)
	} else {
		m.totalBytes += len(key) + len(value)
	}
	m.data = m.data.Set(key, value)
}

// Delta returns how many bytes TotalBytes would change by if key were set
// to value right now, without performing the insert. The engine uses this
// to decide whether a pending Set would overflow the memtable and must
// flush the table first, following the same check-before-insert shape as
// the pack's alexhholmes/boulder MemTable.WillOverflow.
func (m *Memtable) Delta(key, value string) int {
	if old, ok := m.data.Get(key); ok {
		return len(value) - len(old)
	}
	return len(key) + len(value)
}

// Find returns the value for key and whether it was present.
func (m *Memtable) Find(key string) (string, bool) {
	return m.data.Get(key)
}

// Contains reports whether key is present.
func (m *Memtable) Contains(key string) bool {
	_, ok := m.data.Get(key)
	return ok
}

// InOrder returns every record in ascending key order. It is used
// exclusively during flush: the sequence is finite, fully materialized,
// and strictly ascending.
func (m *Memtable) InOrder() []Record {
	out := make([]Record, 0, m.data.Len())
	itr := m.data.Iterator()
	for !itr.Done() {
		k, v, _ := itr.Next()
		out = append(out, Record{Key: k, Value: v})
	}
	return out
}

// Keys returns every key currently in the memtable, used by compaction's
// memtable-shadowing phase.
func (m *Memtable) Keys() map[string]struct{} {
	out := make(map[string]struct{}, m.data.Len())
	itr := m.data.Iterator()
	for !itr.Done() {
		k, _, _ := itr.Next()
		out[k] = struct{}{}
	}
	return out
}

// TotalBytes returns the running byte total tracked per the §3 invariant.
func (m *Memtable) TotalBytes() int {
	return m.totalBytes
}

// Len returns the number of distinct keys.
func (m *Memtable) Len() int {
	return m.data.Len()
}

// Clear empties the memtable.
func (m *Memtable) Clear() {
	m.data = &immutable.SortedMap[string, string]{}
	m.totalBytes = 0
}
