package sink

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/amient/avro"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/pkg/timestamp"
	"github.com/c360/citystreams/record"
	"github.com/c360/citystreams/schema"
)

// Encoder turns a batch of records into the bytes of one partition file.
type Encoder interface {
	// Extension is the file extension of encoded partitions, without a dot.
	Extension() string
	Encode(s schema.Schema, batch []record.Record) ([]byte, error)
}

// Format names accepted by NewEncoder.
const (
	FormatParquet = "parquet"
	FormatAvro    = "avro"
	FormatJSONL   = "jsonl"
)

// NewEncoder returns the encoder for a configured format name.
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case FormatParquet, "":
		return NewParquetEncoder(), nil
	case FormatAvro:
		return NewAvroEncoder(), nil
	case FormatJSONL:
		return JSONLinesEncoder{}, nil
	default:
		return nil, errors.ConfigFailure("sink", "NewEncoder", "unknown sink format %q", format)
	}
}

// AvroEncoder writes Avro object container files, one record per row with
// the offset and lateness columns appended.
type AvroEncoder struct {
	mu      sync.Mutex
	schemas map[schema.StreamKind]avro.Schema
}

// NewAvroEncoder creates an AvroEncoder.
func NewAvroEncoder() *AvroEncoder {
	return &AvroEncoder{schemas: make(map[schema.StreamKind]avro.Schema)}
}

// Extension implements Encoder.
func (e *AvroEncoder) Extension() string { return FormatAvro }

func (e *AvroEncoder) schemaFor(s schema.Schema) (avro.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if as, ok := e.schemas[s.Kind]; ok {
		return as, nil
	}
	as, err := avro.ParseSchema(s.AvroSchema())
	if err != nil {
		return nil, fmt.Errorf("parse avro schema for %s: %w", s.Kind, err)
	}
	e.schemas[s.Kind] = as
	return as, nil
}

// Encode implements Encoder.
func (e *AvroEncoder) Encode(s schema.Schema, batch []record.Record) ([]byte, error) {
	as, err := e.schemaFor(s)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := avro.NewDataFileWriter(&buf, as, avro.NewGenericDatumWriter())
	if err != nil {
		return nil, fmt.Errorf("open avro container: %w", err)
	}
	for _, r := range batch {
		row := avro.NewGenericRecord(as)
		r.Each(func(name string, v any) {
			row.Set(name, avroValue(v))
		})
		row.Set(schema.OffsetColumn, r.Offset())
		row.Set(schema.LateColumn, r.Late())
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write avro row at offset %d: %w", r.Offset(), err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close avro container: %w", err)
	}
	return buf.Bytes(), nil
}

func avroValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return timestamp.ToUnixMs(t)
	}
	return v
}

// JSONLinesEncoder writes one JSON object per line.
type JSONLinesEncoder struct{}

// Extension implements Encoder.
func (JSONLinesEncoder) Extension() string { return FormatJSONL }

// Encode implements Encoder.
func (JSONLinesEncoder) Encode(_ schema.Schema, batch []record.Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range batch {
		line, err := r.MarshalRow()
		if err != nil {
			return nil, fmt.Errorf("encode row at offset %d: %w", r.Offset(), err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
