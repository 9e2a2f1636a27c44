package schema

import (
	"encoding/json"
	"strings"
)

// Columns appended to every stored record alongside the schema fields.
const (
	OffsetColumn = "_offset"
	LateColumn   = "_late"
)

// JSONSchema renders the structural contract of s as a draft-07 JSON Schema
// document. Required fields must be present and non-null; nullable fields may
// be absent or null. Additional properties are allowed.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		var jsonType string
		switch f.Type {
		case Double:
			jsonType = "number"
		case Integer:
			jsonType = "integer"
		default:
			jsonType = "string"
		}
		if f.Nullable {
			props[f.Name] = map[string]any{"type": []string{jsonType, "null"}}
		} else {
			props[f.Name] = map[string]any{"type": jsonType}
		}
	}

	doc := map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"title":      s.Kind.String(),
		"type":       "object",
		"properties": props,
	}
	if req := s.Required(); len(req) > 0 {
		doc["required"] = req
	}
	return doc
}

type avroField struct {
	Name string `json:"name"`
	Type any    `json:"type"`
}

type avroRecord struct {
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Namespace string      `json:"namespace"`
	Fields    []avroField `json:"fields"`
}

// avroTimestamp is a long annotated as milliseconds since the Unix epoch.
var avroTimestamp = map[string]string{"type": "long", "logicalType": "timestamp-millis"}

// AvroSchema renders s as an Avro record schema. Timestamps are
// timestamp-millis longs; nullable fields become ["null", T] unions. The
// offset and lateness columns are appended.
func (s Schema) AvroSchema() string {
	fields := make([]avroField, 0, len(s.Fields)+2)
	for _, f := range s.Fields {
		var t any
		switch f.Type {
		case Timestamp:
			t = avroTimestamp
		case Double:
			t = "double"
		case Integer:
			t = "int"
		default:
			t = "string"
		}
		if f.Nullable {
			fields = append(fields, avroField{Name: f.Name, Type: []any{"null", t}})
		} else {
			fields = append(fields, avroField{Name: f.Name, Type: t})
		}
	}
	fields = append(fields,
		avroField{Name: OffsetColumn, Type: "long"},
		avroField{Name: LateColumn, Type: "boolean"},
	)

	name := s.Kind.String()
	rec := avroRecord{
		Type:      "record",
		Name:      strings.ToUpper(name[:1]) + name[1:] + "Record",
		Namespace: "citystreams",
		Fields:    fields,
	}
	out, err := json.Marshal(rec)
	if err != nil {
		// only plain strings and slices are marshalled
		panic(err)
	}
	return string(out)
}
