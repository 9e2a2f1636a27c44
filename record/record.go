// Package record defines the typed, immutable row produced by parsing one
// broker message against its stream schema.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/citystreams/pkg/timestamp"
	"github.com/c360/citystreams/schema"
)

// Record is one parsed message. Every schema field is present; nullable
// fields that were absent hold nil. Values are string, float64, int32 or
// time.Time (UTC) according to the field type.
//
// Records are values: the With* methods return modified copies.
type Record struct {
	kind      schema.StreamKind
	names     []string
	values    []any
	offset    int64
	eventTime time.Time
	late      bool
}

// New builds a record from values keyed by field name. values must contain
// every schema field (nil for absent nullable fields); the event time is
// read from the timestamp field.
func New(s schema.Schema, values map[string]any, offset int64) (Record, error) {
	r := Record{
		kind:   s.Kind,
		names:  s.Names(),
		values: make([]any, len(s.Fields)),
		offset: offset,
	}
	for i, f := range s.Fields {
		v, ok := values[f.Name]
		if !ok {
			return Record{}, fmt.Errorf("record %s: missing field %q", s.Kind, f.Name)
		}
		if v == nil && !f.Nullable {
			return Record{}, fmt.Errorf("record %s: required field %q is null", s.Kind, f.Name)
		}
		r.values[i] = v
	}

	ts, ok := values[schema.EventTimeField].(time.Time)
	if !ok {
		return Record{}, fmt.Errorf("record %s: event time is not a time.Time", s.Kind)
	}
	r.eventTime = ts
	return r, nil
}

// Kind returns the stream the record belongs to.
func (r Record) Kind() schema.StreamKind { return r.kind }

// Offset returns the source offset of the message the record was parsed from.
func (r Record) Offset() int64 { return r.offset }

// EventTime returns the record's timestamp field.
func (r Record) EventTime() time.Time { return r.eventTime }

// Late reports whether the record arrived behind the watermark.
func (r Record) Late() bool { return r.late }

// WithLate returns a copy of r with the late flag set.
func (r Record) WithLate(late bool) Record {
	r.late = late
	return r
}

// Get returns the value of a field. ok is false for unknown field names.
func (r Record) Get(name string) (v any, ok bool) {
	for i, n := range r.names {
		if n == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Len returns the number of schema fields.
func (r Record) Len() int { return len(r.names) }

// Each calls fn for every field in schema order.
func (r Record) Each(fn func(name string, value any)) {
	for i, n := range r.names {
		fn(n, r.values[i])
	}
}

// MarshalJSON encodes the schema fields in schema order. Timestamps are
// written as RFC 3339 strings so the output parses back to an equal record.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.writeJSON(&buf, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalRow encodes the record like MarshalJSON, followed by the offset and
// lateness columns.
func (r Record) MarshalRow() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.writeJSON(&buf, true); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r Record) writeJSON(buf *bytes.Buffer, withColumns bool) error {
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(buf, name, jsonValue(r.values[i])); err != nil {
			return err
		}
	}
	if withColumns {
		if len(r.names) > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(buf, schema.OffsetColumn, r.offset); err != nil {
			return err
		}
		buf.WriteByte(',')
		if err := writeMember(buf, schema.LateColumn, r.late); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeMember(buf *bytes.Buffer, name string, v any) error {
	key, err := json.Marshal(name)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	buf.Write(key)
	buf.WriteByte(':')
	buf.Write(val)
	return nil
}

func jsonValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return timestamp.Format(t)
	}
	return v
}

