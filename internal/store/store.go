package store

import "context"

// Store is the persistence boundary for sealed cache payloads. Values
// handed to a Store are opaque byte slices; encryption, integrity and
// serialization all happen above this interface. Implementations must
// be safe for concurrent use.
//
// Get reports absence as (nil, false, nil); errors are reserved for
// real I/O failures so callers can tell a miss from a broken store.
type Store interface {
	// Get retrieves the value for a key.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value under a key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix, sorted ascending.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// GetMulti retrieves multiple keys in one call. Absent keys are
	// simply missing from the result map.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)

	// DeleteMulti removes multiple keys in one call.
	DeleteMulti(ctx context.Context, keys []string) error

	// Close releases the underlying resources.
	Close() error
}
