// Package badgerstore provides a BadgerDB-backed Store for on-device
// persistence of sealed cache payloads.
package badgerstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"pocketcache/internal/cache"
	"pocketcache/internal/store"
)

// deleteBatchSize bounds keys per delete transaction to stay under
// badger's transaction size limit.
const deleteBatchSize = 1000

// Config configures the BadgerDB store.
type Config struct {
	// Dir is the directory to store data in. Leave empty with InMemory.
	Dir string

	// InMemory keeps everything in memory (useful for testing).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// ValueLogFileSize sets the size of value log files in bytes.
	ValueLogFileSize int64

	// GCDiscardRatio is the discard ratio for value log GC.
	GCDiscardRatio float64

	// GCInterval is the interval between GC runs. Zero disables GC.
	GCInterval time.Duration
}

// DefaultConfig returns settings sized for an on-device cache.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		SyncWrites:       false,
		ValueLogFileSize: 1 << 26, // 64MB
		GCDiscardRatio:   0.5,
		GCInterval:       5 * time.Minute,
	}
}

// Store is a BadgerDB-backed store.Store implementation.
type Store struct {
	db     *badger.DB
	gcStop chan struct{}
	gcWg   sync.WaitGroup
}

// New opens (or creates) a BadgerDB store with the given configuration.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}
	// Badger is chatty by default; keep it quiet
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Join(cache.ErrStorageIO, err)
	}

	s := &Store{
		db:     db,
		gcStop: make(chan struct{}),
	}

	if !cfg.InMemory && cfg.GCInterval > 0 {
		s.startGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return s, nil
}

// startGC starts the value log garbage collection goroutine.
func (s *Store) startGC(interval time.Duration, discardRatio float64) {
	s.gcWg.Add(1)
	go func() {
		defer s.gcWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.gcStop:
				return
			case <-ticker.C:
				for {
					if err := s.db.RunValueLogGC(discardRatio); err != nil {
						break
					}
				}
			}
		}
	}()
}

// Get retrieves the value for a key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Join(cache.ErrStorageIO, err)
	}

	return value, true, nil
}

// Set stores a value under a key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return errors.Join(cache.ErrStorageIO, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return errors.Join(cache.ErrStorageIO, err)
	}
	return nil
}

// Keys returns all keys with the given prefix, sorted ascending.
// Badger iterates in byte order, which matches the contract.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Join(cache.ErrStorageIO, err)
	}

	return keys, nil
}

// GetMulti retrieves multiple keys in one read transaction.
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := make(map[string][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[key] = value
		}
		return nil
	})
	if err != nil {
		return nil, errors.Join(cache.ErrStorageIO, err)
	}

	return result, nil
}

// DeleteMulti removes multiple keys, splitting into bounded transactions.
func (s *Store) DeleteMulti(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		err := s.db.Update(func(txn *badger.Txn) error {
			for _, key := range batch {
				if err := txn.Delete([]byte(key)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return errors.Join(cache.ErrStorageIO, err)
		}
	}
	return nil
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	close(s.gcStop)
	s.gcWg.Wait()

	if err := s.db.Close(); err != nil {
		return errors.Join(cache.ErrStorageIO, err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
