package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/record"
	"github.com/c360/citystreams/schema"
	"github.com/c360/citystreams/storage"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func gpsRecord(t *testing.T, offset int64, late bool) record.Record {
	t.Helper()
	s, err := schema.NewRegistry().SchemaFor(schema.GPS)
	require.NoError(t, err)

	rec, err := record.New(s, map[string]any{
		"id":          "g-1",
		"deviceId":    "bus-7",
		"timestamp":   base.Add(time.Duration(offset) * time.Second),
		"speed":       42.5,
		"direction":   nil,
		"vehicleType": "bus",
	}, offset)
	require.NoError(t, err)
	return rec.WithLate(late)
}

func newWriter(t *testing.T, store storage.Store, enc Encoder) *Writer {
	t.Helper()
	w, err := New(store, schema.NewRegistry(), enc, PrefixRoot("city/data"), nil)
	require.NoError(t, err)
	return w
}

func TestNew_RequiresDependencies(t *testing.T) {
	reg := schema.NewRegistry()
	store := storage.NewMemoryStore()
	root := PrefixRoot("d")

	_, err := New(nil, reg, JSONLinesEncoder{}, root, nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
	_, err = New(store, nil, JSONLinesEncoder{}, root, nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
	_, err = New(store, reg, nil, root, nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
	_, err = New(store, reg, JSONLinesEncoder{}, nil, nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestNewEncoder(t *testing.T) {
	enc, err := NewEncoder("")
	require.NoError(t, err)
	assert.Equal(t, "parquet", enc.Extension())

	enc, err = NewEncoder("avro")
	require.NoError(t, err)
	assert.Equal(t, "avro", enc.Extension())

	enc, err = NewEncoder("jsonl")
	require.NoError(t, err)
	assert.Equal(t, "jsonl", enc.Extension())

	_, err = NewEncoder("orc")
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestPartitionName(t *testing.T) {
	assert.Equal(t, "batch-00000000000000000101.avro", PartitionName(101, "avro"))
	assert.Less(t, PartitionName(99, "avro"), PartitionName(100, "avro"))
}

func TestWriter_AppendJSONL(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newWriter(t, store, JSONLinesEncoder{})

	batch := []record.Record{gpsRecord(t, 11, false), gpsRecord(t, 12, true)}
	require.NoError(t, w.Append(ctx, schema.GPS, batch, 12))

	key := "city/data/gps_data/batch-00000000000000000012.jsonl"
	assert.Equal(t, key, w.Key(schema.GPS, 12))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)

	var rows []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
	assert.Equal(t, "bus-7", rows[0]["deviceId"])
	assert.Nil(t, rows[0]["direction"])
	assert.Equal(t, 11.0, rows[0][schema.OffsetColumn])
	assert.Equal(t, false, rows[0][schema.LateColumn])
	assert.Equal(t, true, rows[1][schema.LateColumn])
	assert.Equal(t, "2024-03-01T10:00:12Z", rows[1]["timestamp"])
}

func TestWriter_AppendAvro(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newWriter(t, store, NewAvroEncoder())

	require.NoError(t, w.Append(ctx, schema.GPS, []record.Record{gpsRecord(t, 5, false)}, 5))

	data, err := store.Get(ctx, "city/data/gps_data/batch-00000000000000000005.avro")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("Obj\x01")), "object container magic")
	assert.Contains(t, string(data), "GpsRecord")
}

func TestWriter_AppendParquet(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newWriter(t, store, NewParquetEncoder())

	batch := []record.Record{gpsRecord(t, 4, false), gpsRecord(t, 5, true)}
	require.NoError(t, w.Append(ctx, schema.GPS, batch, 5))

	data, err := store.Get(ctx, "city/data/gps_data/batch-00000000000000000005.parquet")
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")), "parquet header magic")
	assert.True(t, bytes.HasSuffix(data, []byte("PAR1")), "parquet footer magic")
	for _, col := range []string{"deviceId", "vehicleType", schema.OffsetColumn, schema.LateColumn} {
		assert.Contains(t, string(data), col, "footer names column %s", col)
	}
}

func TestParquetSchema(t *testing.T) {
	s, err := schema.NewRegistry().SchemaFor(schema.GPS)
	require.NoError(t, err)

	var doc struct {
		Tag    string
		Fields []struct{ Tag string }
	}
	require.NoError(t, json.Unmarshal([]byte(ParquetSchema(s)), &doc))
	assert.Equal(t, "name=gps_record, repetitiontype=REQUIRED", doc.Tag)
	require.Len(t, doc.Fields, len(s.Fields)+2)
	assert.Equal(t, "name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=REQUIRED", doc.Fields[2].Tag)
	assert.Equal(t, "name=_late, type=BOOLEAN, repetitiontype=REQUIRED", doc.Fields[len(doc.Fields)-1].Tag)
}

func TestWriter_EmptyBatchWritesNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	w := newWriter(t, store, JSONLinesEncoder{})

	require.NoError(t, w.Append(context.Background(), schema.GPS, nil, 7))
	assert.Equal(t, 0, store.Len())
}

// Appending the same batch twice at the same offset leaves exactly one
// partition with the same content.
func TestWriter_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newWriter(t, store, JSONLinesEncoder{})

	batch := []record.Record{gpsRecord(t, 1, false), gpsRecord(t, 2, false)}
	require.NoError(t, w.Append(ctx, schema.GPS, batch, 2))
	first, err := store.Get(ctx, w.Key(schema.GPS, 2))
	require.NoError(t, err)

	require.NoError(t, w.Append(ctx, schema.GPS, batch, 2))
	second, err := store.Get(ctx, w.Key(schema.GPS, 2))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	keys, err := store.List(ctx, "city/data/gps_data/")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestWriter_RejectsForeignRecords(t *testing.T) {
	w := newWriter(t, storage.NewMemoryStore(), JSONLinesEncoder{})

	err := w.Append(context.Background(), schema.Vehicle, []record.Record{gpsRecord(t, 1, false)}, 1)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

type brokenStore struct{ storage.Store }

func (brokenStore) Put(context.Context, string, []byte) error { return errors.ErrStorageUnavailable }

func TestWriter_StorageFailureIsTransientSinkError(t *testing.T) {
	w := newWriter(t, brokenStore{storage.NewMemoryStore()}, JSONLinesEncoder{})

	err := w.Append(context.Background(), schema.GPS, []record.Record{gpsRecord(t, 1, false)}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSink)
	assert.True(t, errors.IsTransient(err))
}

func TestWriter_Reject(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newWriter(t, store, NewAvroEncoder())

	require.NoError(t, w.Reject(ctx, schema.Weather, nil, 3))
	assert.Equal(t, 0, store.Len())

	rejects := []Rejected{
		{Offset: 2, Payload: []byte(`{"id":`), Reason: "malformed JSON"},
		{Offset: 3, Payload: []byte("\xff"), Field: "deviceId", Reason: "required field is missing"},
	}
	require.NoError(t, w.Reject(ctx, schema.Weather, rejects, 3))

	data, err := store.Get(ctx, "city/data/weather_data/_rejected/batch-00000000000000000003.jsonl")
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)
	var second rejectedLine
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, int64(3), second.Offset)
	assert.Equal(t, "deviceId", second.Field)
	assert.Equal(t, "�", second.Payload)
}

func TestWriter_Prune(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newWriter(t, store, JSONLinesEncoder{})

	for _, key := range []string{
		"city/data/gps_data/batch-00000000000000000005.jsonl",
		"city/data/gps_data/batch-00000000000000000010.jsonl",
		"city/data/gps_data/batch-00000000000000000014.jsonl",
		"city/data/gps_data/_rejected/batch-00000000000000000014.jsonl",
		"city/data/gps_data/README",
		"city/data/weather_data/batch-00000000000000000014.jsonl",
	} {
		require.NoError(t, store.Put(ctx, key, []byte("x")))
	}

	removed, err := w.Prune(ctx, schema.GPS, 10, true)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := store.List(ctx, "city/data/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"city/data/gps_data/README",
		"city/data/gps_data/batch-00000000000000000005.jsonl",
		"city/data/gps_data/batch-00000000000000000010.jsonl",
		"city/data/weather_data/batch-00000000000000000014.jsonl",
	}, keys)

	// Nothing committed: every partition of the stream is uncommitted.
	removed, err = w.Prune(ctx, schema.GPS, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, store.Len())
}

func TestPartitionOffset(t *testing.T) {
	off, ok := partitionOffset(PartitionName(42, FormatJSONL))
	assert.True(t, ok)
	assert.Equal(t, int64(42), off)

	for _, name := range []string{"README", "batch-.jsonl", "batch-12", "batch-x1.avro", "checkpoint.json"} {
		_, ok := partitionOffset(name)
		assert.False(t, ok, name)
	}
}
