package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "d/user:1", []byte("payload")))

	value, found, err := s.Get(ctx, "d/user:1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("payload"), value)

	_, found, err = s.Get(ctx, "d/user:2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("abc")))

	value, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	value[0] = 'X'

	again, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again, "mutating a returned value must not affect the store")
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting an absent key is not an error
	assert.NoError(t, s.Delete(ctx, "k"))
}

func TestMemoryStoreKeysPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "d/b", []byte("1")))
	require.NoError(t, s.Set(ctx, "d/a", []byte("2")))
	require.NoError(t, s.Set(ctx, "m/index", []byte("3")))

	keys, err := s.Keys(ctx, "d/")
	require.NoError(t, err)
	assert.Equal(t, []string{"d/a", "d/b"}, keys)

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStoreMulti(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	require.NoError(t, s.Set(ctx, "b", []byte("2")))

	got, err := s.GetMulti(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("1"), got["a"])

	require.NoError(t, s.DeleteMulti(ctx, []string{"a", "b"}))
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n)
			for j := 0; j < 100; j++ {
				_ = s.Set(ctx, key, []byte{byte(j)})
				_, _, _ = s.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, s.Len())
}
