package schema

import (
	"fmt"

	"github.com/c360/citystreams/errors"
)

func required(name string, t FieldType) Field { return Field{Name: name, Type: t} }
func optional(name string, t FieldType) Field { return Field{Name: name, Type: t, Nullable: true} }

// builtin holds the fixed telemetry schemas. id, deviceId and timestamp are
// required; every other field may be absent or null.
var builtin = []Schema{
	{Kind: Vehicle, Fields: []Field{
		required("id", String),
		required("deviceId", String),
		required("timestamp", Timestamp),
		optional("location", String),
		optional("speed", Double),
		optional("direction", String),
		optional("make", String),
		optional("model", String),
		optional("year", Integer),
		optional("fuelType", String),
	}},
	{Kind: GPS, Fields: []Field{
		required("id", String),
		required("deviceId", String),
		required("timestamp", Timestamp),
		optional("speed", Double),
		optional("direction", String),
		optional("vehicleType", String),
	}},
	{Kind: Traffic, Fields: []Field{
		required("id", String),
		required("deviceId", String),
		optional("cameraId", String),
		optional("location", String),
		required("timestamp", Timestamp),
		optional("snapshot", String),
	}},
	{Kind: Weather, Fields: []Field{
		required("id", String),
		required("deviceId", String),
		required("timestamp", Timestamp),
		optional("location", String),
		optional("temperature", Double),
		optional("weatherCondition", String),
		optional("precipitation", Double),
		optional("windSpeed", Double),
		optional("humidity", Integer),
		optional("airQualityIndex", Double),
	}},
	{Kind: Emergency, Fields: []Field{
		required("id", String),
		required("deviceId", String),
		optional("incidentId", String),
		optional("type", String),
		required("timestamp", Timestamp),
		optional("location", String),
		optional("status", String),
		optional("description", String),
	}},
}

// Registry maps stream kinds to their schemas. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	schemas map[StreamKind]Schema
}

// NewRegistry builds the registry of the five telemetry schemas.
// It panics if a built-in schema is malformed.
func NewRegistry() *Registry {
	r, err := newRegistry(builtin)
	if err != nil {
		panic(err)
	}
	return r
}

func newRegistry(schemas []Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[StreamKind]Schema, len(schemas))}
	for _, s := range schemas {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.schemas[s.Kind]; dup {
			return nil, fmt.Errorf("schema %s registered twice", s.Kind)
		}
		fields := make([]Field, len(s.Fields))
		copy(fields, s.Fields)
		r.schemas[s.Kind] = Schema{Kind: s.Kind, Fields: fields}
	}
	return r, nil
}

// SchemaFor returns the schema registered for kind. An unregistered kind is a
// fatal configuration error.
func (r *Registry) SchemaFor(kind StreamKind) (Schema, error) {
	s, ok := r.schemas[kind]
	if !ok {
		return Schema{}, errors.ConfigFailure("Registry", "SchemaFor", "no schema registered for stream kind %s", kind)
	}
	fields := make([]Field, len(s.Fields))
	copy(fields, s.Fields)
	return Schema{Kind: s.Kind, Fields: fields}, nil
}

// Kinds returns the registered kinds in startup order.
func (r *Registry) Kinds() []StreamKind {
	var kinds []StreamKind
	for _, k := range AllKinds() {
		if _, ok := r.schemas[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
