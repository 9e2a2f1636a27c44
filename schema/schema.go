// Package schema defines the five city telemetry stream kinds and their fixed
// record schemas.
package schema

import (
	"fmt"
	"strings"
)

// StreamKind identifies one of the ingested telemetry streams.
type StreamKind int

// Stream kinds, in startup order.
const (
	Vehicle StreamKind = iota + 1
	GPS
	Traffic
	Weather
	Emergency
)

var kindNames = map[StreamKind]string{
	Vehicle:   "vehicle",
	GPS:       "gps",
	Traffic:   "traffic",
	Weather:   "weather",
	Emergency: "emergency",
}

// AllKinds returns every known stream kind in startup order.
func AllKinds() []StreamKind {
	return []StreamKind{Vehicle, GPS, Traffic, Weather, Emergency}
}

// String returns the lowercase stream name, e.g. "vehicle".
func (k StreamKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Valid reports whether k is one of the known stream kinds.
func (k StreamKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Topic returns the default broker topic for the stream, e.g. "vehicle_data".
func (k StreamKind) Topic() string {
	return k.String() + "_data"
}

// MarshalText encodes the kind as its name.
func (k StreamKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown stream kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind from its name.
func (k *StreamKind) UnmarshalText(b []byte) error {
	parsed, err := ParseStreamKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseStreamKind accepts either the stream name ("gps") or its topic ("gps_data").
func ParseStreamKind(s string) (StreamKind, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_data")
	for kind, n := range kindNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown stream kind %q", s)
}

// FieldType is the logical type of a schema field.
type FieldType int

// Field types supported by the telemetry schemas.
const (
	String FieldType = iota
	Timestamp
	Double
	Integer
)

func (t FieldType) String() string {
	switch t {
	case String:
		return "string"
	case Timestamp:
		return "timestamp"
	case Double:
		return "double"
	case Integer:
		return "integer"
	default:
		return "unknown"
	}
}

// Field is a single named, typed column of a schema.
type Field struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// Schema is the ordered field list for one stream kind.
type Schema struct {
	Kind   StreamKind
	Fields []Field
}

// EventTimeField is the field every schema carries as its event time.
const EventTimeField = "timestamp"

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the field names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Required returns the names of non-nullable fields in schema order.
func (s Schema) Required() []string {
	var names []string
	for _, f := range s.Fields {
		if !f.Nullable {
			names = append(names, f.Name)
		}
	}
	return names
}

func (s Schema) validate() error {
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %s: empty field name", s.Kind)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema %s: duplicate field %q", s.Kind, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	ts, ok := s.Field(EventTimeField)
	if !ok || ts.Type != Timestamp {
		return fmt.Errorf("schema %s: missing %s field of type timestamp", s.Kind, EventTimeField)
	}
	return nil
}
