// Package sqlitestore provides a SQLite-backed Store for on-device
// persistence of sealed cache payloads.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"pocketcache/internal/cache"
	"pocketcache/internal/store"
)

// deleteBatchSize keeps DELETE ... IN statements under SQLite's
// default host parameter limit.
const deleteBatchSize = 500

// Config configures the SQLite store.
type Config struct {
	// Path is the database file location.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime.
	ConnMaxLifetime time.Duration

	// JournalMode sets the SQLite journal mode.
	JournalMode string

	// BusyTimeout sets the busy timeout in milliseconds.
	BusyTimeout int
}

// DefaultConfig returns settings sized for an on-device cache.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		JournalMode:     "WAL",
		BusyTimeout:     5000,
	}
}

// Store is a SQLite-backed store.Store implementation.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store and runs the schema migration.
func New(cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Join(cache.ErrStorageIO, err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Set pragmas
	pragmas := []string{}
	if cfg.JournalMode != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode="+cfg.JournalMode)
	}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, "PRAGMA busy_timeout="+strconv.Itoa(cfg.BusyTimeout))
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Join(cache.ErrStorageIO, err)
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Join(cache.ErrStorageIO, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// migrate creates the payload table if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS payloads (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return errors.Join(cache.ErrStorageIO, err)
	}
	return nil
}

// Get retrieves the value for a key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM payloads WHERE key = ?", key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payloads (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
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

	if _, err := s.db.ExecContext(ctx, "DELETE FROM payloads WHERE key = ?", key); err != nil {
		return errors.Join(cache.ErrStorageIO, err)
	}
	return nil
}

// Keys returns all keys with the given prefix, sorted ascending.
// A half-open range scan is used instead of LIKE, which is
// case-insensitive in SQLite.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	var err error

	upper, bounded := prefixUpperBound(prefix)
	if prefix == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT key FROM payloads ORDER BY key")
	} else if bounded {
		rows, err = s.db.QueryContext(ctx,
			"SELECT key FROM payloads WHERE key >= ? AND key < ? ORDER BY key", prefix, upper)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT key FROM payloads WHERE key >= ? ORDER BY key", prefix)
	}
	if err != nil {
		return nil, errors.Join(cache.ErrStorageIO, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Join(cache.ErrStorageIO, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(cache.ErrStorageIO, err)
	}

	return keys, nil
}

// prefixUpperBound returns the smallest string greater than every key
// with the given prefix. The second return is false when no such bound
// exists (prefix is all 0xff bytes).
func prefixUpperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

// GetMulti retrieves multiple keys in one query.
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := make(map[string][]byte, len(keys))
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		query, args := inQuery("SELECT key, value FROM payloads WHERE key IN", batch)
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, errors.Join(cache.ErrStorageIO, err)
		}

		for rows.Next() {
			var key string
			var value []byte
			if err := rows.Scan(&key, &value); err != nil {
				rows.Close()
				return nil, errors.Join(cache.ErrStorageIO, err)
			}
			result[key] = value
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, errors.Join(cache.ErrStorageIO, err)
		}
		rows.Close()
	}

	return result, nil
}

// DeleteMulti removes multiple keys in bounded batches.
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

		query, args := inQuery("DELETE FROM payloads WHERE key IN", batch)
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return errors.Join(cache.ErrStorageIO, err)
		}
	}
	return nil
}

// inQuery builds "<stmt> (?, ?, ...)" with one placeholder per key.
func inQuery(stmt string, keys []string) (string, []interface{}) {
	args := make([]interface{}, len(keys))
	placeholders := make([]byte, 0, len(keys)*2+2)
	placeholders = append(placeholders, " ("...)
	for i, key := range keys {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = key
	}
	placeholders = append(placeholders, ')')
	return stmt + string(placeholders), args
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Join(cache.ErrStorageIO, err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
