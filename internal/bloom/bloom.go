// Package bloom implements the probabilistic set-membership filter used to
// short-circuit reads for keys that were never written.
//
// No bloom filter library appears anywhere in the retrieved example pack,
// so this is a standard from-scratch implementation (k independent hash
// functions over a bit array sized from the expected item count and the
// target false-positive probability), grounded on the same bit-array +
// FNV-hash approach the pack's own sparse-indexing SSTable example uses
// for its bloom filter.
package bloom

import (
	"hash/fnv"
	"math"
)

// Filter is a bloom filter. False positives are allowed; false negatives
// are forbidden, which is the invariant the engine relies on.
type Filter struct {
	bits          []byte
	m             uint64 // number of bits
	k             uint64 // number of hash functions
	falsePositive float64
	numItems      int
}

// New returns an empty filter sized for numItems expected insertions at
// the given target false-positive probability.
func New(falsePositive float64, numItems int) *Filter {
	if falsePositive <= 0 || falsePositive >= 1 {
		falsePositive = 0.01
	}
	if numItems <= 0 {
		numItems = 1
	}

	m := optimalBits(numItems, falsePositive)
	k := optimalHashCount(m, numItems)

	return &Filter{
		bits:          make([]byte, (m+7)/8),
		m:             m,
		k:             k,
		falsePositive: falsePositive,
		numItems:      numItems,
	}
}

// optimalBits computes m = ceil(-(n*ln(p)) / (ln(2))^2).
func optimalBits(numItems int, falsePositive float64) uint64 {
	n := float64(numItems)
	m := math.Ceil(-(n * math.Log(falsePositive)) / (math.Ln2 * math.Ln2))
	if m < 8 {
		m = 8
	}
	return uint64(m)
}

// optimalHashCount computes k = round((m/n) * ln(2)), at least 1.
func optimalHashCount(m uint64, numItems int) uint64 {
	k := math.Round((float64(m) / float64(numItems)) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return uint64(k)
}

// Add records key as a member.
func (f *Filter) Add(key string) {
	h1, h2 := f.seeds(key)
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.m
		f.bits[pos/8] |= 1 << (pos % 8)
	}
}

// Contains reports whether key might be a member. A false return is a
// sound guarantee of absence; a true return is not a guarantee of
// presence.
func (f *Filter) Contains(key string) bool {
	h1, h2 := f.seeds(key)
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.m
		if f.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// seeds derives two independent hash values for key using Kirsch-Mitzenmacher
// double hashing (h1 + i*h2), which approximates k independent hash
// functions from just two.
func (f *Filter) seeds(key string) (uint64, uint64) {
	h1 := fnv.New64a()
	h1.Write([]byte(key))
	sum1 := h1.Sum64()

	h2 := fnv.New64()
	h2.Write([]byte(key))
	sum2 := h2.Sum64()
	if sum2 == 0 {
		sum2 = 1
	}
	return sum1, sum2
}

// Params returns the false-positive probability and expected item count
// the filter was sized with, for persistence in the metadata snapshot
//.
func (f *Filter) Params() (falsePositive float64, numItems int) {
	return f.falsePositive, f.numItems
}

// Bits returns the raw bit array for serialization.
func (f *Filter) Bits() []byte {
	return f.bits
}

// FromBits reconstructs a filter from a previously serialized bit array and
// its sizing parameters (spec §4.6.6 restart recovery, strategy "persist
// the bit array" from spec §9's design notes).
func FromBits(bits []byte, falsePositive float64, numItems int) *Filter {
	f := New(falsePositive, numItems)
	if len(bits) == len(f.bits) {
		copy(f.bits, bits)
	}
	return f
}
