// Package filter provides a cuckoo-style membership filter over cache
// keys. The engine consults it before touching the backing store, so a
// lookup for a key that was never stored costs no I/O. False positives
// only cost one extra store read; keys that were added and not deleted
// are never reported absent.
package filter

import (
	"math/rand"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	slotsPerBucket = 4
	maxKicks       = 500
)

// Filter is safe for concurrent use.
type Filter struct {
	mu      sync.RWMutex
	buckets [][slotsPerBucket]uint16
	mask    uint64
	count   int
}

// New creates a filter sized for the expected number of resident keys.
func New(capacity int) *Filter {
	if capacity < slotsPerBucket {
		capacity = slotsPerBucket
	}

	// 4 slots per bucket at ~95% target fill
	numBuckets := nextPowerOfTwo(uint64(float64(capacity) / slotsPerBucket / 0.95))

	return &Filter{
		buckets: make([][slotsPerBucket]uint16, numBuckets),
		mask:    numBuckets - 1,
	}
}

// Add inserts a key. It returns false when the filter is saturated and
// the key could not be placed; the caller should rebuild with a larger
// capacity, since a dropped key would otherwise read as a miss.
func (f *Filter) Add(key string) bool {
	fp, i1, i2 := f.locate(key)

	f.mu.Lock()
	defer f.mu.Unlock()

	// Already present counts as success
	if f.bucketHas(i1, fp) || f.bucketHas(i2, fp) {
		return true
	}

	if f.bucketPut(i1, fp) || f.bucketPut(i2, fp) {
		f.count++
		return true
	}

	// Both buckets full: kick resident fingerprints to their alternate
	// buckets until a slot frees up.
	idx := i1
	for kick := 0; kick < maxKicks; kick++ {
		slot := rand.Intn(slotsPerBucket)
		fp, f.buckets[idx][slot] = f.buckets[idx][slot], fp
		idx = altIndex(idx, fp, f.mask)
		if f.bucketPut(idx, fp) {
			f.count++
			return true
		}
	}
	return false
}

// Contains reports whether a key might be present.
func (f *Filter) Contains(key string) bool {
	fp, i1, i2 := f.locate(key)

	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.bucketHas(i1, fp) || f.bucketHas(i2, fp)
}

// Delete removes a key's fingerprint. It returns false when the key
// was not present.
func (f *Filter) Delete(key string) bool {
	fp, i1, i2 := f.locate(key)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bucketDrop(i1, fp) || f.bucketDrop(i2, fp) {
		f.count--
		return true
	}
	return false
}

// Clear removes all fingerprints.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.buckets {
		f.buckets[i] = [slotsPerBucket]uint16{}
	}
	f.count = 0
}

// Len returns the number of stored fingerprints.
func (f *Filter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// locate derives the fingerprint and both candidate bucket indexes.
func (f *Filter) locate(key string) (uint16, uint64, uint64) {
	h := xxhash.Sum64String(key)

	// Upper bits for the fingerprint, lower bits for the index, so the
	// two stay uncorrelated. Zero marks an empty slot.
	fp := uint16(h >> 48)
	if fp == 0 {
		fp = 1
	}

	i1 := h & f.mask
	return fp, i1, altIndex(i1, fp, f.mask)
}

// altIndex is an involution: applying it twice returns the original
// index, which is what lets kicks move fingerprints back and forth.
func altIndex(idx uint64, fp uint16, mask uint64) uint64 {
	var b [2]byte
	b[0] = byte(fp)
	b[1] = byte(fp >> 8)
	return (idx ^ xxhash.Sum64(b[:])) & mask
}

func (f *Filter) bucketHas(idx uint64, fp uint16) bool {
	for _, slot := range f.buckets[idx] {
		if slot == fp {
			return true
		}
	}
	return false
}

func (f *Filter) bucketPut(idx uint64, fp uint16) bool {
	for i, slot := range f.buckets[idx] {
		if slot == 0 {
			f.buckets[idx][i] = fp
			return true
		}
	}
	return false
}

func (f *Filter) bucketDrop(idx uint64, fp uint16) bool {
	for i, slot := range f.buckets[idx] {
		if slot == fp {
			f.buckets[idx][i] = 0
			return true
		}
	}
	return false
}

// nextPowerOfTwo returns the next power of two greater than or equal to n.
func nextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
