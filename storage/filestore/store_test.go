package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/storage"
)

var _ storage.Store = (*Store)(nil)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Put(ctx, "city/data/gps_data/batch-1.jsonl", []byte("first")))
	data, err := s.Get(ctx, "city/data/gps_data/batch-1.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	require.NoError(t, s.Put(ctx, "city/data/gps_data/batch-1.jsonl", []byte("second")))
	data, err = s.Get(ctx, "city/data/gps_data/batch-1.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(filepath.Join(s.Root(), "city", "data", "gps_data", "batch-1.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestStore_GetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nope/file")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, key := range []string{"../outside", "/abs", "a/../../b"} {
		assert.Error(t, s.Put(ctx, key, []byte("x")), key)
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, key := range []string{"d/gps/b-2", "d/gps/b-1", "d/vehicle/b-1", "c/gps/checkpoint.json"} {
		require.NoError(t, s.Put(ctx, key, []byte(key)))
	}
	// A leftover temp file from an interrupted write is not a key.
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "d", "gps", "b-3.123.tmp"), nil, 0o644))

	keys, err := s.List(ctx, "d/gps/")
	require.NoError(t, err)
	assert.Equal(t, []string{"d/gps/b-1", "d/gps/b-2"}, keys)

	keys, err = s.List(ctx, "d/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	keys, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 4)

	keys, err = s.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Put(ctx, "k/v", []byte("x")))
	require.NoError(t, s.Delete(ctx, "k/v"))
	require.NoError(t, s.Delete(ctx, "k/v"))

	_, err := s.Get(ctx, "k/v")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestStore_ConcurrentOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, "shared/key", []byte(fmt.Sprintf("writer-%02d", i))))
		}(i)
	}
	wg.Wait()

	data, err := s.Get(ctx, "shared/key")
	require.NoError(t, err)
	assert.Regexp(t, `^writer-\d\d$`, string(data))

	keys, err := s.List(ctx, "shared/")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared/key"}, keys)
}
