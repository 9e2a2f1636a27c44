package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/c360/citystreams/pkg/timestamp"
	"github.com/c360/citystreams/record"
	"github.com/c360/citystreams/schema"
)

// parquetParallelism is the number of goroutines encoding column chunks.
const parquetParallelism = 4

// ParquetEncoder writes one Snappy-compressed Parquet file per batch with a
// column per schema field plus the offset and lateness columns. Timestamps are
// INT64 TIMESTAMP_MILLIS columns.
type ParquetEncoder struct {
	mu      sync.Mutex
	schemas map[schema.StreamKind]string
}

// NewParquetEncoder creates a ParquetEncoder.
func NewParquetEncoder() *ParquetEncoder {
	return &ParquetEncoder{schemas: make(map[schema.StreamKind]string)}
}

// Extension implements Encoder.
func (e *ParquetEncoder) Extension() string { return FormatParquet }

type parquetField struct {
	Tag string `json:"Tag"`
}

type parquetSchema struct {
	Tag    string         `json:"Tag"`
	Fields []parquetField `json:"Fields"`
}

// ParquetSchema renders s as a parquet-go JSON schema definition.
func ParquetSchema(s schema.Schema) string {
	fields := make([]parquetField, 0, len(s.Fields)+2)
	for _, f := range s.Fields {
		var typ string
		switch f.Type {
		case schema.Timestamp:
			typ = "type=INT64, convertedtype=TIMESTAMP_MILLIS"
		case schema.Double:
			typ = "type=DOUBLE"
		case schema.Integer:
			typ = "type=INT32"
		default:
			typ = "type=BYTE_ARRAY, convertedtype=UTF8"
		}
		repetition := "REQUIRED"
		if f.Nullable {
			repetition = "OPTIONAL"
		}
		fields = append(fields, parquetField{
			Tag: fmt.Sprintf("name=%s, %s, repetitiontype=%s", f.Name, typ, repetition),
		})
	}
	fields = append(fields,
		parquetField{Tag: fmt.Sprintf("name=%s, type=INT64, repetitiontype=REQUIRED", schema.OffsetColumn)},
		parquetField{Tag: fmt.Sprintf("name=%s, type=BOOLEAN, repetitiontype=REQUIRED", schema.LateColumn)},
	)

	out, err := json.Marshal(parquetSchema{
		Tag:    fmt.Sprintf("name=%s_record, repetitiontype=REQUIRED", strings.ToLower(s.Kind.String())),
		Fields: fields,
	})
	if err != nil {
		// only strings are marshalled
		panic(err)
	}
	return string(out)
}

func (e *ParquetEncoder) schemaFor(s schema.Schema) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ps, ok := e.schemas[s.Kind]; ok {
		return ps
	}
	ps := ParquetSchema(s)
	e.schemas[s.Kind] = ps
	return ps
}

// Encode implements Encoder.
func (e *ParquetEncoder) Encode(s schema.Schema, batch []record.Record) ([]byte, error) {
	var buf bytes.Buffer
	pw, err := writer.NewJSONWriterFromWriter(e.schemaFor(s), &buf, parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("open parquet writer for %s: %w", s.Kind, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range batch {
		row := make(map[string]any, len(s.Fields)+2)
		r.Each(func(name string, v any) {
			row[name] = parquetValue(v)
		})
		row[schema.OffsetColumn] = r.Offset()
		row[schema.LateColumn] = r.Late()

		line, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode parquet row at offset %d: %w", r.Offset(), err)
		}
		if err := pw.Write(string(line)); err != nil {
			return nil, fmt.Errorf("write parquet row at offset %d: %w", r.Offset(), err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("close parquet file: %w", err)
	}
	return buf.Bytes(), nil
}

func parquetValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return timestamp.ToUnixMs(t)
	}
	return v
}
