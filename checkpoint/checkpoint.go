// Package checkpoint persists per-stream progress: the last source offset
// whose batch reached the sink, and the watermark at that point.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/pkg/timestamp"
	"github.com/c360/citystreams/schema"
)

// FileName is the object name of a stream's checkpoint under its root.
const FileName = "checkpoint.json"

// Record is one committed checkpoint.
type Record struct {
	Stream schema.StreamKind
	// Offset is the highest source offset fully written to the sink.
	Offset int64
	// Watermark is zero when no event has been observed yet.
	Watermark time.Time
	WrittenAt time.Time
	RunID     string
}

// Store loads and commits checkpoints. Implementations are safe for
// concurrent use; Commit is atomic and never lets the offset go backwards.
type Store interface {
	// Load returns the last committed record. ok is false when the stream
	// has never committed, meaning it starts from the earliest position.
	Load(ctx context.Context, kind schema.StreamKind) (rec Record, ok bool, err error)

	// Commit persists rec. A lower offset than the stored one fails with
	// errors.ErrOffsetRegression, which is fatal.
	Commit(ctx context.Context, rec Record) error
}

type wireRecord struct {
	Stream    schema.StreamKind `json:"stream"`
	Offset    int64             `json:"offset"`
	Watermark string            `json:"watermark,omitempty"`
	WrittenAt string            `json:"written_at"`
	RunID     string            `json:"run_id,omitempty"`
}

// MarshalJSON encodes times as RFC3339 with full sub-second precision; an
// unset watermark is omitted.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		Stream:    r.Stream,
		Offset:    r.Offset,
		Watermark: timestamp.Format(r.Watermark),
		WrittenAt: timestamp.Format(r.WrittenAt),
		RunID:     r.RunID,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	watermark, err := parseOptionalTime(w.Watermark)
	if err != nil {
		return fmt.Errorf("watermark: %w", err)
	}
	written, err := parseOptionalTime(w.WrittenAt)
	if err != nil {
		return fmt.Errorf("written_at: %w", err)
	}
	*r = Record{
		Stream:    w.Stream,
		Offset:    w.Offset,
		Watermark: watermark,
		WrittenAt: written,
		RunID:     w.RunID,
	}
	return nil
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return timestamp.ParseEventTime(s)
}

func validate(rec Record, component string) error {
	if !rec.Stream.Valid() {
		return errors.ConfigFailure(component, "Commit", "invalid stream kind %d", rec.Stream)
	}
	if rec.Offset < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative offset %d", errors.ErrInvalidData, rec.Offset),
			component, "Commit", "validate checkpoint")
	}
	return nil
}

// checkMonotonic rejects a commit that would move the offset backwards.
// Re-committing the same offset is allowed so replays stay idempotent.
func checkMonotonic(prev, next Record, component string) error {
	if next.Offset < prev.Offset {
		return errors.WrapFatal(
			fmt.Errorf("%w: %s offset %d < committed %d", errors.ErrOffsetRegression, next.Stream, next.Offset, prev.Offset),
			component, "Commit", "check offset")
	}
	return nil
}

func decode(data []byte, kind schema.StreamKind, component string) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrDataCorrupted, err),
			component, "Load", fmt.Sprintf("decode %s checkpoint", kind))
	}
	if rec.Stream != kind {
		return Record{}, errors.WrapFatal(
			fmt.Errorf("%w: checkpoint belongs to %s, not %s", errors.ErrDataCorrupted, rec.Stream, kind),
			component, "Load", "check stream")
	}
	return rec, nil
}
