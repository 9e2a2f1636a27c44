package checkpoint

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/natsclient"
	"github.com/c360/citystreams/schema"
)

// DefaultBucket is the KV bucket checkpoints are kept in by default.
const DefaultBucket = "CITYSTREAMS_CHECKPOINTS"

// KVStore keeps checkpoints in a NATS KV bucket, one key per stream topic.
// Commits are compare-and-set writes against the entry revision, so two
// processes committing the same stream cannot lose an update or move the
// offset backwards.
type KVStore struct {
	kv *natsclient.KVStore
}

var _ Store = (*KVStore)(nil)

// NewKVStore creates a KVStore on kv.
func NewKVStore(kv *natsclient.KVStore) (*KVStore, error) {
	if kv == nil {
		return nil, errors.ConfigFailure("KVStore", "NewKVStore", "KV bucket is required")
	}
	return &KVStore{kv: kv}, nil
}

func key(kind schema.StreamKind) string {
	return kind.Topic()
}

// Load implements Store.
func (s *KVStore) Load(ctx context.Context, kind schema.StreamKind) (Record, bool, error) {
	entry, err := s.kv.Get(ctx, key(kind))
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, errors.CheckpointFailure(err, "KVStore", "Load", "get "+key(kind))
	}
	rec, err := decode(entry.Value, kind, "KVStore")
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Commit implements Store.
func (s *KVStore) Commit(ctx context.Context, rec Record) error {
	if err := validate(rec, "KVStore"); err != nil {
		return err
	}

	_, err := s.kv.UpdateWithRetry(ctx, key(rec.Stream), func(current []byte) ([]byte, error) {
		if current != nil {
			prev, err := decode(current, rec.Stream, "KVStore")
			if err != nil {
				return nil, err
			}
			if err := checkMonotonic(prev, rec, "KVStore"); err != nil {
				return nil, err
			}
		}
		return json.Marshal(rec)
	})
	if err != nil {
		if errors.IsFatal(err) {
			return err
		}
		return errors.CheckpointFailure(err, "KVStore", "Commit", "update "+key(rec.Stream))
	}
	return nil
}
