package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"pocketcache/internal/cache"
	"pocketcache/internal/store"
)

// snapshotFormatVersion is bumped on incompatible layout changes.
const snapshotFormatVersion = 1

// checksumSize is the xxhash64 prefix in front of the gob body.
const checksumSize = 8

// ErrCorruptSnapshot marks a snapshot that failed checksum or decode
// verification. The index cold-starts in that case.
var ErrCorruptSnapshot = errors.New("index snapshot is corrupt")

// snapshotDoc is the gob-encoded snapshot body.
type snapshotDoc struct {
	FormatVersion int
	CreatedAt     time.Time
	EntryCount    int
	Entries       []cache.Metadata
}

// Persister writes index snapshots through the backing store, debounced
// by mutation count and elapsed time.
type Persister struct {
	store    store.Store
	key      string
	every    uint64
	interval time.Duration

	mu        sync.Mutex
	savedGen  uint64
	savedTime time.Time
}

// NewPersister creates a persister writing to storageKey. A flush
// happens once `every` mutations have accumulated or `interval` has
// passed since the last one, whichever comes first.
func NewPersister(s store.Store, storageKey string, every int, interval time.Duration) *Persister {
	if every < 1 {
		every = 1
	}
	return &Persister{
		store:     s,
		key:       storageKey,
		every:     uint64(every),
		interval:  interval,
		savedTime: time.Now(),
	}
}

// MaybeFlush persists the index when the debounce thresholds are met.
// It returns true when a snapshot was written.
func (p *Persister) MaybeFlush(ctx context.Context, ix *Index) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	gen := ix.Generation()
	if gen == p.savedGen {
		return false, nil
	}
	if gen-p.savedGen < p.every && time.Since(p.savedTime) < p.interval {
		return false, nil
	}

	if err := p.flushLocked(ctx, ix, gen); err != nil {
		return false, err
	}
	return true, nil
}

// Flush persists the index unconditionally when dirty.
func (p *Persister) Flush(ctx context.Context, ix *Index) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	gen := ix.Generation()
	if gen == p.savedGen {
		return nil
	}
	return p.flushLocked(ctx, ix, gen)
}

func (p *Persister) flushLocked(ctx context.Context, ix *Index, gen uint64) error {
	raw, err := encodeSnapshot(ix.All())
	if err != nil {
		return err
	}
	if err := p.store.Set(ctx, p.key, raw); err != nil {
		return fmt.Errorf("failed to persist index snapshot: %w", err)
	}
	p.savedGen = gen
	p.savedTime = time.Now()
	return nil
}

// Restore loads the persisted snapshot into the index. The int return
// is the number of restored entries. A missing snapshot restores
// nothing; a corrupt one returns ErrCorruptSnapshot and the caller
// should treat the store's payloads as orphaned.
func (p *Persister) Restore(ctx context.Context, ix *Index) (int, error) {
	raw, found, err := p.store.Get(ctx, p.key)
	if err != nil {
		return 0, fmt.Errorf("failed to read index snapshot: %w", err)
	}
	if !found {
		return 0, nil
	}

	entries, err := decodeSnapshot(raw)
	if err != nil {
		return 0, err
	}

	ix.Reset(entries)

	p.mu.Lock()
	p.savedGen = ix.Generation()
	p.savedTime = time.Now()
	p.mu.Unlock()

	return len(entries), nil
}

// encodeSnapshot produces [xxhash64 LE][gob body].
func encodeSnapshot(entries []cache.Metadata) ([]byte, error) {
	doc := snapshotDoc{
		FormatVersion: snapshotFormatVersion,
		CreatedAt:     time.Now().UTC(),
		EntryCount:    len(entries),
		Entries:       entries,
	}

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode index snapshot: %w", err)
	}

	out := make([]byte, checksumSize+body.Len())
	binary.LittleEndian.PutUint64(out[:checksumSize], xxhash.Sum64(body.Bytes()))
	copy(out[checksumSize:], body.Bytes())
	return out, nil
}

// decodeSnapshot verifies the checksum and decodes the body.
func decodeSnapshot(raw []byte) ([]cache.Metadata, error) {
	if len(raw) < checksumSize {
		return nil, fmt.Errorf("%w: truncated at %d bytes", ErrCorruptSnapshot, len(raw))
	}

	want := binary.LittleEndian.Uint64(raw[:checksumSize])
	body := raw[checksumSize:]
	if got := xxhash.Sum64(body); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	var doc snapshotDoc
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if doc.FormatVersion != snapshotFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptSnapshot, doc.FormatVersion)
	}
	if doc.EntryCount != len(doc.Entries) {
		return nil, fmt.Errorf("%w: entry count %d does not match %d entries", ErrCorruptSnapshot, doc.EntryCount, len(doc.Entries))
	}

	return doc.Entries, nil
}
