package schema

import (
	"encoding/json"
	"testing"

	"github.com/c360/citystreams/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamKind(t *testing.T) {
	tests := []struct {
		kind  StreamKind
		name  string
		topic string
	}{
		{Vehicle, "vehicle", "vehicle_data"},
		{GPS, "gps", "gps_data"},
		{Traffic, "traffic", "traffic_data"},
		{Weather, "weather", "weather_data"},
		{Emergency, "emergency", "emergency_data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.kind.String())
			assert.Equal(t, tt.topic, tt.kind.Topic())

			byName, err := ParseStreamKind(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, byName)

			byTopic, err := ParseStreamKind(tt.topic)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, byTopic)
		})
	}

	_, err := ParseStreamKind("parking")
	assert.Error(t, err)
	assert.False(t, StreamKind(99).Valid())
	assert.Equal(t, "unknown(99)", StreamKind(99).String())
}

func TestStreamKind_TextRoundTrip(t *testing.T) {
	var decoded map[StreamKind]int
	require.NoError(t, json.Unmarshal([]byte(`{"gps": 1, "weather_data": 2}`), &decoded))
	assert.Equal(t, map[StreamKind]int{GPS: 1, Weather: 2}, decoded)
}

func TestRegistry_SchemaFor(t *testing.T) {
	r := NewRegistry()

	for _, kind := range AllKinds() {
		s, err := r.SchemaFor(kind)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, s.Kind)
		assert.Equal(t, []string{"id", "deviceId", "timestamp"}, s.Required())

		ts, ok := s.Field(EventTimeField)
		require.True(t, ok)
		assert.Equal(t, Timestamp, ts.Type)
	}

	_, err := r.SchemaFor(StreamKind(42))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
	assert.True(t, errors.IsFatal(err))
}

func TestRegistry_FieldOrderIsStable(t *testing.T) {
	r := NewRegistry()
	s, err := r.SchemaFor(Weather)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"id", "deviceId", "timestamp", "location", "temperature", "weatherCondition",
		"precipitation", "windSpeed", "humidity", "airQualityIndex",
	}, s.Names())

	// Callers cannot mutate the registry through a returned schema.
	s.Fields[0].Name = "mutated"
	again, err := r.SchemaFor(Weather)
	require.NoError(t, err)
	assert.Equal(t, "id", again.Fields[0].Name)
}

func TestRegistry_RejectsDuplicateFields(t *testing.T) {
	_, err := newRegistry([]Schema{{Kind: GPS, Fields: []Field{
		required("id", String),
		required("id", String),
		required("timestamp", Timestamp),
	}}})
	assert.ErrorContains(t, err, "duplicate field")

	_, err = newRegistry([]Schema{{Kind: GPS, Fields: []Field{required("id", String)}}})
	assert.ErrorContains(t, err, "missing timestamp")
}

func TestSchema_JSONSchema(t *testing.T) {
	s, err := NewRegistry().SchemaFor(Vehicle)
	require.NoError(t, err)

	doc := s.JSONSchema()
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, []string{"id", "deviceId", "timestamp"}, doc["required"])

	props := doc["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string"}, props["id"])
	assert.Equal(t, map[string]any{"type": []string{"number", "null"}}, props["speed"])
	assert.Equal(t, map[string]any{"type": []string{"integer", "null"}}, props["year"])
}

func TestSchema_AvroSchema(t *testing.T) {
	s, err := NewRegistry().SchemaFor(GPS)
	require.NoError(t, err)

	var doc struct {
		Type   string `json:"type"`
		Name   string `json:"name"`
		Fields []struct {
			Name string `json:"name"`
			Type any    `json:"type"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(s.AvroSchema()), &doc))

	assert.Equal(t, "record", doc.Type)
	assert.Equal(t, "GpsRecord", doc.Name)
	require.Len(t, doc.Fields, len(s.Fields)+2)
	assert.Equal(t, map[string]any{"type": "long", "logicalType": "timestamp-millis"}, doc.Fields[2].Type)
	assert.Equal(t, []any{"null", "double"}, doc.Fields[3].Type)
	assert.Equal(t, OffsetColumn, doc.Fields[len(doc.Fields)-2].Name)
	assert.Equal(t, LateColumn, doc.Fields[len(doc.Fields)-1].Name)
}
