package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/citystreams/errors"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, "city/data/gps_data", Join("city", "data", "gps_data"))
	assert.Equal(t, "data/x", Join("/data/", "x"))
	assert.Equal(t, "a/b", Join("a//b"))
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("city/data/batch-1.avro"))

	for _, key := range []string{"", "/abs", "dir/", "a/../b", "a//b", "./a"} {
		err := ValidateKey(key)
		assert.Error(t, err, key)
		assert.True(t, errors.IsInvalid(err), key)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "a/2", []byte("two")))
	require.NoError(t, s.Put(ctx, "a/1", []byte("one")))
	require.NoError(t, s.Put(ctx, "b/1", []byte("other")))

	data, err := s.Get(ctx, "a/1")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	data[0] = 'X'
	again, _ := s.Get(ctx, "a/1")
	assert.Equal(t, "one", string(again), "Get must return a copy")

	keys, err := s.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2"}, keys)

	require.NoError(t, s.Put(ctx, "a/1", []byte("replaced")))
	data, _ = s.Get(ctx, "a/1")
	assert.Equal(t, "replaced", string(data))
	assert.Equal(t, 3, s.Len())

	require.NoError(t, s.Delete(ctx, "a/1"))
	require.NoError(t, s.Delete(ctx, "a/1"))
	_, err = s.Get(ctx, "a/1")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	assert.Error(t, s.Put(ctx, "/bad", nil))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore()
	assert.ErrorIs(t, s.Put(ctx, "k", nil), context.Canceled)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k/%02d", i)
			assert.NoError(t, s.Put(ctx, key, []byte(key)))
			_, err := s.Get(ctx, key)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	keys, err := s.List(ctx, "k/")
	require.NoError(t, err)
	assert.Len(t, keys, 20)
}
