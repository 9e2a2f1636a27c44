package parser

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/schema"
	"github.com/c360/citystreams/source"
	citytest "github.com/c360/citystreams/testutil"
)

func newParser(t *testing.T) *Parser {
	t.Helper()
	p, err := New(schema.NewRegistry())
	require.NoError(t, err)
	return p
}

func msg(payload string) source.RawMessage {
	return source.RawMessage{Topic: "test", Offset: 7, Value: []byte(payload)}
}

func TestParser_Vehicle(t *testing.T) {
	p := newParser(t)

	rec, err := p.Parse(schema.Vehicle, msg(`{
		"id": "v-1",
		"deviceId": "car-42",
		"timestamp": "2024-03-01T10:15:00.250Z",
		"location": "(51.5, -0.12)",
		"speed": 48,
		"direction": "North-East",
		"make": "BMW",
		"model": "C500",
		"year": 2020,
		"fuelType": "Hybrid",
		"extra": {"ignored": true}
	}`))
	require.NoError(t, err)

	assert.Equal(t, schema.Vehicle, rec.Kind())
	assert.Equal(t, int64(7), rec.Offset())
	assert.Equal(t, time.Date(2024, 3, 1, 10, 15, 0, 250000000, time.UTC), rec.EventTime())

	speed, _ := rec.Get("speed")
	assert.Equal(t, 48.0, speed)
	year, _ := rec.Get("year")
	assert.Equal(t, int32(2020), year)
	_, ok := rec.Get("extra")
	assert.False(t, ok)
}

func TestParser_NullableFields(t *testing.T) {
	p := newParser(t)

	rec, err := p.Parse(schema.Weather, msg(`{
		"id": "w-1", "deviceId": "station-3", "timestamp": "2024-03-01T10:15:00",
		"temperature": null
	}`))
	require.NoError(t, err)

	for _, name := range []string{"location", "temperature", "humidity", "airQualityIndex"} {
		v, ok := rec.Get(name)
		assert.True(t, ok, name)
		assert.Nil(t, v, name)
	}
	assert.Equal(t, time.UTC, rec.EventTime().Location())
}

func TestParser_RoundTrip(t *testing.T) {
	p := newParser(t)

	inputs := map[schema.StreamKind]string{
		schema.GPS:       `{"id":"g","deviceId":"d","timestamp":"2024-03-01T10:00:00Z","speed":12.75,"direction":"S","vehicleType":"bus"}`,
		schema.Traffic:   `{"id":"t","deviceId":"d","cameraId":"cam-1","location":"x","timestamp":"2024-03-01T10:00:00Z","snapshot":"Base64"}`,
		schema.Emergency: `{"id":"e","deviceId":"d","incidentId":"i","type":"Fire","timestamp":"2024-03-01T10:00:00Z","location":null,"status":"Active","description":"smoke"}`,
		schema.Weather:   `{"id":"w","deviceId":"d","timestamp":"2024-03-01T10:00:00Z","humidity":-40,"airQualityIndex":3.5}`,
	}

	for kind, in := range inputs {
		t.Run(kind.String(), func(t *testing.T) {
			first, err := p.Parse(kind, msg(in))
			require.NoError(t, err)

			encoded, err := json.Marshal(first)
			require.NoError(t, err)

			second, err := p.Parse(kind, msg(string(encoded)))
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestParser_Malformed(t *testing.T) {
	p := newParser(t)

	tests := []struct {
		name    string
		kind    schema.StreamKind
		payload string
		field   string
	}{
		{"empty payload", schema.GPS, ``, ""},
		{"whitespace payload", schema.GPS, "  \n", ""},
		{"invalid utf-8", schema.GPS, "{\"id\":\"\xff\xfe\"}", ""},
		{"not json", schema.GPS, `{id: 1}`, ""},
		{"array document", schema.GPS, `[1,2,3]`, ""},
		{"missing required", schema.GPS, `{"id":"g","timestamp":"2024-03-01T10:00:00Z"}`, "deviceId"},
		{"null required", schema.GPS, `{"id":"g","deviceId":null,"timestamp":"2024-03-01T10:00:00Z"}`, "deviceId"},
		{"wrong type", schema.GPS, `{"id":"g","deviceId":"d","timestamp":"2024-03-01T10:00:00Z","speed":"fast"}`, "speed"},
		{"bad timestamp", schema.GPS, `{"id":"g","deviceId":"d","timestamp":"yesterday"}`, "timestamp"},
		{"clock-only timestamp", schema.GPS, `{"id":"g","deviceId":"d","timestamp":"3:04PM"}`, "timestamp"},
		{"date-only timestamp", schema.GPS, `{"id":"g","deviceId":"d","timestamp":"2024-03-01"}`, "timestamp"},
		{"RFC1123 timestamp", schema.GPS, `{"id":"g","deviceId":"d","timestamp":"Fri, 01 Mar 2024 10:00:00 GMT"}`, "timestamp"},
		{"trailing garbage", schema.GPS, `{"id":"g","deviceId":"d","timestamp":"2024-03-01T10:00:00Z"} not json at all`, ""},
		{"two documents", schema.GPS, `{"id":"g","deviceId":"d","timestamp":"2024-03-01T10:00:00Z"}{"id":"h"}`, ""},
		{"fractional integer", schema.Vehicle, `{"id":"v","deviceId":"d","timestamp":"2024-03-01T10:00:00Z","year":2020.5}`, "year"},
		{"integer overflow", schema.Vehicle, `{"id":"v","deviceId":"d","timestamp":"2024-03-01T10:00:00Z","year":3000000000}`, "year"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.kind, msg(tt.payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrParsingFailed)

			pe, ok := errors.AsParseError(err)
			require.True(t, ok)
			assert.Equal(t, tt.field, pe.Field)
			assert.NotEmpty(t, pe.Reason)
		})
	}
}

func TestParser_MalformedPayloadsEveryStream(t *testing.T) {
	p := newParser(t)
	for _, kind := range schema.AllKinds() {
		kind := kind
		for name, payload := range citytest.MalformedPayloads {
			payload := payload
			t.Run(kind.String()+"/"+name, func(t *testing.T) {
				_, err := p.Parse(kind, source.RawMessage{Offset: 1, Value: payload})
				require.Error(t, err)
				_, ok := errors.AsParseError(err)
				assert.True(t, ok, "got %v", err)
			})
		}
	}
}

func TestParser_TrailingWhitespaceAccepted(t *testing.T) {
	p := newParser(t)
	_, err := p.Parse(schema.GPS, msg("{\"id\":\"g\",\"deviceId\":\"d\",\"timestamp\":\"2024-03-01T10:00:00Z\"}\n  "))
	assert.NoError(t, err)
}

func TestParser_FirstViolationInSchemaOrder(t *testing.T) {
	p := newParser(t)

	_, err := p.Parse(schema.GPS, msg(`{"speed":"fast","direction":7}`))
	pe, ok := errors.AsParseError(err)
	require.True(t, ok)
	assert.Equal(t, "id", pe.Field)
}

func TestParser_UnknownKind(t *testing.T) {
	p := newParser(t)

	_, err := p.Parse(schema.StreamKind(99), msg(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestSample(t *testing.T) {
	assert.Equal(t, "abc", Sample([]byte("abc"), 10))
	assert.Equal(t, "abc...", Sample([]byte("abcdef"), 3))
	assert.Equal(t, "a?", Sample([]byte("a\xff"), 10))
}
