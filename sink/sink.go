// Package sink writes parsed batches to partitioned storage.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/record"
	"github.com/c360/citystreams/schema"
	"github.com/c360/citystreams/storage"
)

// RejectedDir is the directory under a stream's data root that holds
// payloads the parser refused.
const RejectedDir = "_rejected"

// RootFunc maps a stream to its data root in the store.
type RootFunc func(kind schema.StreamKind) string

// PrefixRoot lays data out as <prefix>/<topic>.
func PrefixRoot(prefix string) RootFunc {
	return func(kind schema.StreamKind) string {
		return storage.Join(prefix, kind.Topic())
	}
}

// Rejected is a message that failed to parse.
type Rejected struct {
	Offset  int64
	Payload []byte
	Field   string
	Reason  string
}

// Appender is the part of Writer a pipeline depends on.
type Appender interface {
	Append(ctx context.Context, kind schema.StreamKind, batch []record.Record, checkpointOffset int64) error
}

// Pruner removes partitions written for a batch whose checkpoint never
// landed. A replay may cut batches differently, so such a partition would
// not be overwritten and its rows would be stored twice.
type Pruner interface {
	// Prune deletes the partitions of kind keyed above committed, or every
	// partition of kind when hasCommit is false. It returns the number removed.
	Prune(ctx context.Context, kind schema.StreamKind, committed int64, hasCommit bool) (int, error)
}

// Writer encodes batches and stores each one as a partition keyed by the
// checkpoint offset it is committed under. Writing the same offset twice
// overwrites the earlier partition, so replaying an uncommitted batch does
// not duplicate rows.
type Writer struct {
	store    storage.Store
	registry *schema.Registry
	encoder  Encoder
	root     RootFunc
	logger   *slog.Logger
}

var (
	_ Appender = (*Writer)(nil)
	_ Pruner   = (*Writer)(nil)
)

// New creates a Writer. logger may be nil.
func New(store storage.Store, registry *schema.Registry, encoder Encoder, root RootFunc, logger *slog.Logger) (*Writer, error) {
	switch {
	case store == nil:
		return nil, errors.ConfigFailure("Writer", "New", "storage backend is required")
	case registry == nil:
		return nil, errors.ConfigFailure("Writer", "New", "schema registry is required")
	case encoder == nil:
		return nil, errors.ConfigFailure("Writer", "New", "encoder is required")
	case root == nil:
		return nil, errors.ConfigFailure("Writer", "New", "data root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:    store,
		registry: registry,
		encoder:  encoder,
		root:     root,
		logger:   logger.With("component", "sink"),
	}, nil
}

// PartitionName returns the file name of the partition for offset.
func PartitionName(offset int64, ext string) string {
	return fmt.Sprintf("batch-%020d.%s", offset, ext)
}

// partitionOffset extracts the offset from a partition file name.
func partitionOffset(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, "batch-")
	if !ok {
		return 0, false
	}
	digits, _, ok := strings.Cut(rest, ".")
	if !ok {
		return 0, false
	}
	offset, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return offset, true
}

// Key returns the storage key of the partition for kind at offset.
func (w *Writer) Key(kind schema.StreamKind, offset int64) string {
	return storage.Join(w.root(kind), PartitionName(offset, w.encoder.Extension()))
}

// Append writes batch as one partition. Empty batches write nothing.
// Storage and encoding failures are transient errors.ErrSink errors.
func (w *Writer) Append(ctx context.Context, kind schema.StreamKind, batch []record.Record, checkpointOffset int64) error {
	if len(batch) == 0 {
		return nil
	}
	s, err := w.registry.SchemaFor(kind)
	if err != nil {
		return err
	}
	for _, r := range batch {
		if r.Kind() != kind {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %s record in %s batch", errors.ErrInvalidData, r.Kind(), kind),
				"Writer", "Append", "check batch")
		}
	}

	data, err := w.encoder.Encode(s, batch)
	if err != nil {
		return errors.SinkFailure(err, "Writer", "Append", "encode batch")
	}

	key := w.Key(kind, checkpointOffset)
	if err := w.store.Put(ctx, key, data); err != nil {
		return errors.SinkFailure(err, "Writer", "Append", "write "+key)
	}

	w.logger.Debug("Wrote partition", "stream", kind.String(), "key", key,
		"records", len(batch), "bytes", len(data))
	return nil
}

type rejectedLine struct {
	Offset  int64  `json:"offset"`
	Field   string `json:"field,omitempty"`
	Reason  string `json:"reason"`
	Payload string `json:"payload"`
}

// RejectKey returns the dead-letter key for kind at offset.
func (w *Writer) RejectKey(kind schema.StreamKind, offset int64) string {
	return storage.Join(w.root(kind), RejectedDir, PartitionName(offset, FormatJSONL))
}

// Reject writes rejected payloads as a JSON-lines dead-letter partition,
// keyed like Append. Empty input writes nothing.
func (w *Writer) Reject(ctx context.Context, kind schema.StreamKind, rejects []Rejected, checkpointOffset int64) error {
	if len(rejects) == 0 {
		return nil
	}

	var b strings.Builder
	enc := json.NewEncoder(&b)
	for _, r := range rejects {
		line := rejectedLine{
			Offset:  r.Offset,
			Field:   r.Field,
			Reason:  r.Reason,
			Payload: strings.ToValidUTF8(string(r.Payload), "�"),
		}
		if err := enc.Encode(line); err != nil {
			return errors.SinkFailure(err, "Writer", "Reject", "encode rejected payload")
		}
	}

	key := w.RejectKey(kind, checkpointOffset)
	if err := w.store.Put(ctx, key, []byte(b.String())); err != nil {
		return errors.SinkFailure(err, "Writer", "Reject", "write "+key)
	}
	return nil
}

// Prune implements Pruner. Data and dead-letter partitions are both removed.
func (w *Writer) Prune(ctx context.Context, kind schema.StreamKind, committed int64, hasCommit bool) (int, error) {
	root := w.root(kind)
	keys, err := w.store.List(ctx, root+"/")
	if err != nil {
		return 0, errors.SinkFailure(err, "Writer", "Prune", "list "+root)
	}

	removed := 0
	for _, key := range keys {
		offset, ok := partitionOffset(path.Base(key))
		if !ok || (hasCommit && offset <= committed) {
			continue
		}
		if err := w.store.Delete(ctx, key); err != nil {
			return removed, errors.SinkFailure(err, "Writer", "Prune", "delete "+key)
		}
		removed++
		w.logger.Info("Removed uncommitted partition", "stream", kind.String(), "key", key)
	}
	return removed, nil
}
