package checkpoint

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/schema"
	"github.com/c360/citystreams/storage"
)

// RootFunc maps a stream to the storage prefix its checkpoint lives under.
type RootFunc func(kind schema.StreamKind) string

// BlobStore keeps one JSON checkpoint file per stream in a storage.Store,
// at <root>/checkpoint.json. The atomicity of Commit comes from the
// backend's whole-object Put; commits for the same stream are serialised
// in process so the monotonic check and the write cannot interleave.
type BlobStore struct {
	store storage.Store
	root  RootFunc

	mu    sync.Mutex
	locks map[schema.StreamKind]*sync.Mutex
}

var _ Store = (*BlobStore)(nil)

// NewBlobStore creates a BlobStore over store.
func NewBlobStore(store storage.Store, root RootFunc) (*BlobStore, error) {
	if store == nil {
		return nil, errors.ConfigFailure("BlobStore", "NewBlobStore", "storage backend is required")
	}
	if root == nil {
		return nil, errors.ConfigFailure("BlobStore", "NewBlobStore", "checkpoint root is required")
	}
	return &BlobStore{store: store, root: root, locks: make(map[schema.StreamKind]*sync.Mutex)}, nil
}

// PrefixRoot lays checkpoints out as <prefix>/<topic>.
func PrefixRoot(prefix string) RootFunc {
	return func(kind schema.StreamKind) string {
		return storage.Join(prefix, kind.Topic())
	}
}

// Key returns the storage key of the checkpoint for kind.
func (b *BlobStore) Key(kind schema.StreamKind) string {
	return storage.Join(b.root(kind), FileName)
}

func (b *BlobStore) lock(kind schema.StreamKind) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[kind]
	if !ok {
		l = &sync.Mutex{}
		b.locks[kind] = l
	}
	return l
}

// Load implements Store.
func (b *BlobStore) Load(ctx context.Context, kind schema.StreamKind) (Record, bool, error) {
	data, err := b.store.Get(ctx, b.Key(kind))
	if err != nil {
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, errors.CheckpointFailure(err, "BlobStore", "Load", "read "+b.Key(kind))
	}
	rec, err := decode(data, kind, "BlobStore")
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Commit implements Store.
func (b *BlobStore) Commit(ctx context.Context, rec Record) error {
	if err := validate(rec, "BlobStore"); err != nil {
		return err
	}

	l := b.lock(rec.Stream)
	l.Lock()
	defer l.Unlock()

	prev, ok, err := b.Load(ctx, rec.Stream)
	if err != nil {
		return err
	}
	if ok {
		if err := checkMonotonic(prev, rec, "BlobStore"); err != nil {
			return err
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapFatal(err, "BlobStore", "Commit", "encode checkpoint")
	}
	if err := b.store.Put(ctx, b.Key(rec.Stream), data); err != nil {
		return errors.CheckpointFailure(err, "BlobStore", "Commit", "write "+b.Key(rec.Stream))
	}
	return nil
}
