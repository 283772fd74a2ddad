// Package index keeps the in-memory metadata table for every cached
// entry and persists it through the backing store as a checksummed
// snapshot. The index is authoritative: a key absent here is a miss
// regardless of what the store holds.
package index

import (
	"sort"
	"sync"
	"time"

	"pocketcache/internal/cache"
)

// Index is the metadata table, safe for concurrent use. Every
// mutation bumps a generation counter used for debounced flushing.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*cache.Metadata
	size    int64
	gen     uint64
}

// New creates an empty index.
func New() *Index {
	return &Index{
		entries: make(map[string]*cache.Metadata),
	}
}

// Record inserts or replaces the metadata for a key.
func (ix *Index) Record(meta cache.Metadata) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, exists := ix.entries[meta.Key]; exists {
		ix.size -= old.Size
	}
	stored := meta
	ix.entries[meta.Key] = &stored
	ix.size += meta.Size
	ix.gen++
}

// Touch bumps the access statistics for a key. It returns false when
// the key is not indexed.
func (ix *Index) Touch(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	meta, exists := ix.entries[key]
	if !exists {
		return false
	}
	meta.AccessCount++
	meta.LastAccessedAt = time.Now()
	ix.gen++
	return true
}

// Remove drops a key. It returns false when the key was not indexed.
func (ix *Index) Remove(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	meta, exists := ix.entries[key]
	if !exists {
		return false
	}
	ix.size -= meta.Size
	delete(ix.entries, key)
	ix.gen++
	return true
}

// Get returns a copy of the metadata for a key.
func (ix *Index) Get(key string) (cache.Metadata, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	meta, exists := ix.entries[key]
	if !exists {
		return cache.Metadata{}, false
	}
	return *meta, true
}

// All returns copies of every entry, sorted by key for deterministic
// iteration.
func (ix *Index) All() []cache.Metadata {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]cache.Metadata, 0, len(ix.entries))
	for _, meta := range ix.entries {
		out = append(out, *meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SetTTL overwrites the TTL for a key. It returns false when the key
// is not indexed.
func (ix *Index) SetTTL(key string, ttl time.Duration) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	meta, exists := ix.entries[key]
	if !exists {
		return false
	}
	meta.TTL = ttl
	ix.gen++
	return true
}

// MarkEncrypted updates the encryption flag after a payload re-seal.
func (ix *Index) MarkEncrypted(key string, encrypted bool) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	meta, exists := ix.entries[key]
	if !exists {
		return false
	}
	meta.Encrypted = encrypted
	ix.gen++
	return true
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// TotalSize returns the summed payload sizes in bytes.
func (ix *Index) TotalSize() int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.size
}

// Generation returns the mutation counter.
func (ix *Index) Generation() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.gen
}

// Reset drops everything and reloads the given entries, as after a
// snapshot restore.
func (ix *Index) Reset(entries []cache.Metadata) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.entries = make(map[string]*cache.Metadata, len(entries))
	ix.size = 0
	for i := range entries {
		stored := entries[i]
		ix.entries[stored.Key] = &stored
		ix.size += stored.Size
	}
	ix.gen++
}
