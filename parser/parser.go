package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cast"
	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/pkg/timestamp"
	"github.com/c360/citystreams/record"
	"github.com/c360/citystreams/schema"
	"github.com/c360/citystreams/source"
)

// Parser turns raw broker payloads into typed records. It is safe for
// concurrent use; compiled validators are shared read-only.
type Parser struct {
	schemas    map[schema.StreamKind]schema.Schema
	validators map[schema.StreamKind]*gojsonschema.Schema
}

// New compiles a structural validator for every schema in the registry.
func New(registry *schema.Registry) (*Parser, error) {
	p := &Parser{
		schemas:    make(map[schema.StreamKind]schema.Schema),
		validators: make(map[schema.StreamKind]*gojsonschema.Schema),
	}
	for _, kind := range registry.Kinds() {
		s, err := registry.SchemaFor(kind)
		if err != nil {
			return nil, err
		}
		v, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s.JSONSchema()))
		if err != nil {
			return nil, errors.WrapFatal(err, "Parser", "New", fmt.Sprintf("compile %s schema", kind))
		}
		p.schemas[kind] = s
		p.validators[kind] = v
	}
	return p, nil
}

// Parse validates raw against the schema of kind and returns the typed record.
// Malformed input yields a *errors.ParseError; an unknown kind is a
// configuration error.
func (p *Parser) Parse(kind schema.StreamKind, raw source.RawMessage) (record.Record, error) {
	s, ok := p.schemas[kind]
	if !ok {
		return record.Record{}, errors.ConfigFailure("Parser", "Parse", "no schema registered for stream kind %s", kind)
	}

	if len(bytes.TrimSpace(raw.Value)) == 0 {
		return record.Record{}, errors.NewParseError("", "undecodable payload: empty")
	}
	if !utf8.Valid(raw.Value) {
		return record.Record{}, errors.NewParseError("", "undecodable payload: invalid UTF-8")
	}

	result, err := p.validators[kind].Validate(gojsonschema.NewBytesLoader(raw.Value))
	if err != nil {
		return record.Record{}, errors.NewParseError("", "malformed JSON: "+err.Error())
	}
	if !result.Valid() {
		return record.Record{}, firstViolation(s, result.Errors())
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Value))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return record.Record{}, errors.NewParseError("", "malformed JSON: "+err.Error())
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return record.Record{}, errors.NewParseError("", "trailing data after JSON document")
	}

	values := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		v, present := doc[f.Name]
		if !present || v == nil {
			if !f.Nullable {
				return record.Record{}, errors.NewParseError(f.Name, "required field is missing")
			}
			values[f.Name] = nil
			continue
		}
		coerced, err := coerce(f, v)
		if err != nil {
			return record.Record{}, errors.NewParseError(f.Name, err.Error())
		}
		values[f.Name] = coerced
	}

	rec, err := record.New(s, values, raw.Offset)
	if err != nil {
		return record.Record{}, errors.NewParseError("", err.Error())
	}
	return rec, nil
}

func coerce(f schema.Field, v any) (any, error) {
	switch f.Type {
	case schema.String:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil

	case schema.Timestamp:
		return timestamp.ParseEventTime(v)

	case schema.Double:
		num, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		d, err := cast.ToFloat64E(num.String())
		if err != nil {
			return nil, fmt.Errorf("invalid number %s", num)
		}
		return d, nil

	case schema.Integer:
		num, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
		d, err := cast.ToFloat64E(num.String())
		if err != nil || d != math.Trunc(d) {
			return nil, fmt.Errorf("invalid integer %s", num)
		}
		if d < math.MinInt32 || d > math.MaxInt32 {
			return nil, fmt.Errorf("integer %s out of 32-bit range", num)
		}
		return int32(d), nil
	}
	return nil, fmt.Errorf("unsupported field type %s", f.Type)
}

// firstViolation picks the violation that comes first in schema field order,
// with document-level problems ahead of field ones.
func firstViolation(s schema.Schema, violations []gojsonschema.ResultError) error {
	order := make(map[string]int, len(s.Fields))
	for i, name := range s.Names() {
		order[name] = i + 1
	}

	var best *errors.ParseError
	bestRank := math.MaxInt
	for _, v := range violations {
		field := violationField(v)
		rank, known := order[field]
		if field == "" {
			rank = 0
		} else if !known {
			rank = len(order) + 1
		}
		if rank < bestRank {
			bestRank = rank
			best = errors.NewParseError(field, v.Description())
		}
	}
	if best == nil {
		return errors.NewParseError("", "payload does not match schema")
	}
	return best
}

const rootContext = "(root)"

func violationField(v gojsonschema.ResultError) string {
	if v.Type() == "required" {
		if prop, ok := v.Details()["property"].(string); ok {
			return prop
		}
	}
	field := v.Field()
	if field == rootContext || field == "" {
		return ""
	}
	return strings.TrimPrefix(field, rootContext+".")
}

// Sample returns at most n bytes of payload as a printable string for logs.
func Sample(payload []byte, n int) string {
	if len(payload) <= n {
		return strings.ToValidUTF8(string(payload), "?")
	}
	return strings.ToValidUTF8(string(payload[:n]), "?") + "..."
}
