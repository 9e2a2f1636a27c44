package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/pkg/retry"
)

// KVEntry wraps a KV entry with its revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operations behavior
type KVOptions struct {
	MaxRetries    int           // CAS retries after the first attempt
	RetryDelay    time.Duration // initial delay between retries
	MaxRetryDelay time.Duration
	Timeout       time.Duration // per call; covers all retries of UpdateWithRetry
	MaxValueSize  int
}

// DefaultKVOptions returns the defaults used for checkpoint buckets.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:    10,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: time.Second,
		Timeout:       5 * time.Second,
		MaxValueSize:  1024 * 1024,
	}
}

// KVStore provides KV operations with compare-and-set support.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps bucket.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	return NewKVStore(bucket, c.logger, opts...)
}

// NewKVStore wraps bucket without a client, for callers holding only a
// jetstream.KeyValue.
func NewKVStore(bucket jetstream.KeyValue, logger *slog.Logger, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{bucket: bucket, options: options, logger: logger}
}

// Bucket returns the bucket name.
func (kv *KVStore) Bucket() string {
	return kv.bucket.Bucket()
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision. A missing key returns ErrKVKeyNotFound.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}

	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes key unconditionally (last writer wins).
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	kv.logger.Debug("KV put", "bucket", kv.Bucket(), "key", key, "revision", rev)
	return rev, nil
}

// Update performs a CAS write against revision.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	return rev, nil
}

// UpdateWithRetry reads key, applies updateFn and writes the result with a
// CAS check, retrying on concurrent modification. updateFn receives nil when
// the key does not exist. Errors returned by updateFn end the update
// immediately and are returned unchanged.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) (uint64, error) {

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	cfg := retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}

	var (
		revision uint64
		fnErr    error
	)
	err := retry.Do(ctx, cfg, func() error {
		var current []byte
		var expected uint64

		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			current, expected = entry.Value, entry.Revision
		case !stderrors.Is(err, ErrKVKeyNotFound):
			return err
		}

		next, err := updateFn(current)
		if err != nil {
			fnErr = err
			return retry.NonRetryable(err)
		}
		if kv.options.MaxValueSize > 0 && len(next) > kv.options.MaxValueSize {
			return retry.NonRetryable(fmt.Errorf("value size %d exceeds maximum %d",
				len(next), kv.options.MaxValueSize))
		}

		if expected == 0 {
			revision, err = kv.bucket.Create(ctx, key, next)
		} else {
			revision, err = kv.bucket.Update(ctx, key, next, expected)
		}
		if err != nil && IsKVConflictError(err) {
			kv.logger.Debug("KV CAS conflict, retrying", "bucket", kv.Bucket(), "key", key)
			return ErrKVRevisionMismatch
		}
		return err
	})

	if fnErr != nil {
		return 0, fnErr
	}
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVMaxRetriesExceeded
		}
		return 0, err
	}
	return revision, nil
}

// Delete removes a key from the bucket
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the live keys of the bucket. An empty bucket yields no keys.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

// IsKVConflictError checks if error indicates a conflict (key exists or wrong revision)
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVRevisionMismatch) || stderrors.Is(err, ErrKVKeyExists) ||
		stderrors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10058")
}

// KV errors. ErrKVKeyNotFound matches errors.ErrKeyNotFound.
var (
	ErrKVKeyNotFound        = fmt.Errorf("kv: %w", errors.ErrKeyNotFound)
	ErrKVKeyExists          = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = fmt.Errorf("kv: %w", errors.ErrMaxRetriesExceeded)
)
