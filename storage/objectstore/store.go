package objectstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/metric"
	"github.com/c360/citystreams/natsclient"
	"github.com/c360/citystreams/storage"
)

// Config configures the object store bucket.
type Config struct {
	BucketName  string        `json:"bucket_name" yaml:"bucket_name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	MaxBytes    int64         `json:"max_bytes,omitempty" yaml:"max_bytes,omitempty"`
	Replicas    int           `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	Compression bool          `json:"compression,omitempty" yaml:"compression,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		BucketName:  "CITYSTREAMS",
		Description: "citystreams sink partitions and checkpoints",
		Replicas:    1,
		Timeout:     10 * time.Second,
	}
}

// Store implements storage.Store on a JetStream object store bucket.
// Objects are replaced as a whole on Put; JetStream only exposes the new
// object once every chunk has been stored.
type Store struct {
	bucket  jetstream.ObjectStore
	name    string
	timeout time.Duration
	metrics *storeMetrics
	logger  *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// NewStoreWithConfig opens or creates the bucket described by cfg.
// registry may be nil to disable metrics.
func NewStoreWithConfig(ctx context.Context, client *natsclient.Client, cfg Config,
	registry metric.MetricsRegistrar, logger *slog.Logger) (*Store, error) {

	if client == nil {
		return nil, errors.ConfigFailure("objectstore", "NewStoreWithConfig", "NATS client is required")
	}
	if cfg.BucketName == "" {
		return nil, errors.ConfigFailure("objectstore", "NewStoreWithConfig", "bucket name is required")
	}

	bucket, err := client.ObjectStoreBucket(ctx, jetstream.ObjectStoreConfig{
		Bucket:      cfg.BucketName,
		Description: cfg.Description,
		MaxBytes:    cfg.MaxBytes,
		Replicas:    cfg.Replicas,
		Storage:     jetstream.FileStorage,
		Compression: cfg.Compression,
	})
	if err != nil {
		return nil, err
	}
	return New(bucket, cfg, registry, logger)
}

// New wraps an already opened bucket.
func New(bucket jetstream.ObjectStore, cfg Config, registry metric.MetricsRegistrar, logger *slog.Logger) (*Store, error) {
	m, err := newStoreMetrics(registry, cfg.BucketName)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		bucket:  bucket,
		name:    cfg.BucketName,
		timeout: cfg.Timeout,
		metrics: m,
		logger:  logger.With("component", "objectstore", "bucket", cfg.BucketName),
	}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

// Put implements storage.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	if _, err := s.bucket.PutBytes(ctx, key, data); err != nil {
		s.metrics.recordError("put")
		return errors.WrapTransient(err, "objectstore", "Put", fmt.Sprintf("put %s/%s", s.name, key))
	}
	s.metrics.recordWrite(time.Since(start))
	s.logger.Debug("Stored object", "key", key, "bytes", len(data))
	return nil
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	data, err := s.bucket.GetBytes(ctx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, errors.Wrap(errors.ErrKeyNotFound, "objectstore", "Get", key)
		}
		s.metrics.recordError("get")
		return nil, errors.WrapTransient(err, "objectstore", "Get", fmt.Sprintf("get %s/%s", s.name, key))
	}
	s.metrics.recordRead(time.Since(start))
	return data, nil
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	infos, err := s.bucket.List(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoObjectsFound) {
			s.metrics.updateBucketSize(0, 0)
			return []string{}, nil
		}
		s.metrics.recordError("list")
		return nil, errors.WrapTransient(err, "objectstore", "List", fmt.Sprintf("list %s", s.name))
	}

	keys := make([]string, 0, len(infos))
	var size uint64
	live := 0
	for _, info := range infos {
		if info.Deleted {
			continue
		}
		live++
		size += info.Size
		if strings.HasPrefix(info.Name, prefix) {
			keys = append(keys, info.Name)
		}
	}
	sort.Strings(keys)

	s.metrics.recordList(time.Since(start))
	s.metrics.updateBucketSize(live, size)
	return keys, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.bucket.Delete(ctx, key); err != nil {
		if stderrors.Is(err, jetstream.ErrObjectNotFound) {
			return nil
		}
		s.metrics.recordError("delete")
		return errors.WrapTransient(err, "objectstore", "Delete", fmt.Sprintf("delete %s/%s", s.name, key))
	}
	s.metrics.recordDelete()
	return nil
}
