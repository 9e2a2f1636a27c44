package testutil

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/c360/citystreams/schema"
)

// BaseTime is the reference event time used by test payloads.
var BaseTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// MalformedPayloads are payloads every stream must reject.
var MalformedPayloads = map[string][]byte{
	"empty":             {},
	"truncated":         []byte(`{"id": "x", "deviceId": `),
	"not an object":     []byte(`[1, 2, 3]`),
	"invalid utf8":      []byte("\xff\xfe"),
	"missing timestamp": []byte(`{"id": "x", "deviceId": "d"}`),
	"bad timestamp":     []byte(`{"id": "x", "deviceId": "d", "timestamp": "yesterday"}`),
	"null id":           []byte(`{"id": null, "deviceId": "d", "timestamp": "2024-03-01T10:00:00Z"}`),
	"clock-only time":   []byte(`{"id": "x", "deviceId": "d", "timestamp": "3:04PM"}`),
	"trailing garbage":  []byte(`{"id": "x", "deviceId": "d", "timestamp": "2024-03-01T10:00:00Z"} not json`),
	"two documents":     []byte(`{"id": "x", "deviceId": "d", "timestamp": "2024-03-01T10:00:00Z"}{"id": "y"}`),
}

// Payload returns a valid JSON payload for kind with the given id and
// event time. Stream-specific optional fields get plausible values.
func Payload(kind schema.StreamKind, id string, ts time.Time) []byte {
	doc := map[string]any{
		"id":        id,
		"deviceId":  "device-" + id,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	}
	switch kind {
	case schema.Vehicle:
		doc["location"] = "51.5074,-0.1278"
		doc["speed"] = 48.2
		doc["direction"] = "north-east"
		doc["make"] = "BMW"
		doc["model"] = "C500"
		doc["year"] = 2022
		doc["fuelType"] = "hybrid"
	case schema.GPS:
		doc["speed"] = 48.2
		doc["direction"] = "north-east"
		doc["vehicleType"] = "private"
	case schema.Traffic:
		doc["cameraId"] = "cam-17"
		doc["location"] = "51.5074,-0.1278"
		doc["snapshot"] = "Base64EncodedString"
	case schema.Weather:
		doc["location"] = "51.5074,-0.1278"
		doc["temperature"] = 14.5
		doc["weatherCondition"] = "Cloudy"
		doc["precipitation"] = 0.0
		doc["windSpeed"] = 12.3
		doc["humidity"] = 71
		doc["airQualityIndex"] = 42.0
	case schema.Emergency:
		doc["incidentId"] = "inc-" + id
		doc["type"] = "Fire"
		doc["location"] = "51.5074,-0.1278"
		doc["status"] = "Active"
		doc["description"] = "Smoke reported"
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

// Payloads returns n valid payloads for kind with event times one second
// apart starting at BaseTime.
func Payloads(kind schema.StreamKind, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = Payload(kind, "r"+strconv.Itoa(i), BaseTime.Add(time.Duration(i)*time.Second))
	}
	return out
}
