//go:build integration

package natsclient

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_EnsureStream(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := tc.Client.EnsureStream(ctx, "CITY", []string{"vehicle_data", "gps_data"})
	require.NoError(t, err)

	again, err := tc.Client.EnsureStream(ctx, "CITY", []string{"ignored"})
	require.NoError(t, err)
	assert.Equal(t, stream.CachedInfo().Config.Subjects, again.CachedInfo().Config.Subjects)

	require.NoError(t, tc.Publish(ctx, "vehicle_data", []byte(`{}`), []byte(`{}`)))
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
}

func TestIntegration_KVStore_UpdateWithRetry(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("TEST_CHECKPOINTS"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	bucket, err := tc.Client.KeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "TEST_CHECKPOINTS"})
	require.NoError(t, err)
	kv := tc.Client.NewKVStore(bucket)

	_, err = kv.Get(ctx, "counter")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := kv.UpdateWithRetry(ctx, "counter", func(current []byte) ([]byte, error) {
				n := 0
				if current != nil {
					n, _ = strconv.Atoi(string(current))
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entry, err := kv.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(writers), string(entry.Value))

	rejected := errors.New("rejected")
	_, err = kv.UpdateWithRetry(ctx, "counter", func([]byte) ([]byte, error) { return nil, rejected })
	assert.ErrorIs(t, err, rejected)

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"counter"}, keys)

	require.NoError(t, kv.Delete(ctx, "counter"))
	_, err = kv.Get(ctx, "counter")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)
}

func TestIntegration_ObjectStoreBucket(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := tc.Client.ObjectStoreBucket(ctx, jetstream.ObjectStoreConfig{Bucket: "TEST_DATA"})
	require.NoError(t, err)

	_, err = store.PutBytes(ctx, "a/b", []byte("payload"))
	require.NoError(t, err)

	same, err := tc.Client.ObjectStoreBucket(ctx, jetstream.ObjectStoreConfig{Bucket: "TEST_DATA"})
	require.NoError(t, err)
	data, err := same.GetBytes(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}
