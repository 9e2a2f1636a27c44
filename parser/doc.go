// Package parser validates raw telemetry payloads and coerces them into
// typed records.
//
// # Overview
//
// Parsing happens in two passes. The payload is first checked structurally
// with a JSON Schema compiled from the stream's schema (gojsonschema): the
// document must be an object, required fields must be present and non-null,
// and every known field must have the right JSON type. The payload is then
// decoded with json.Number preserved and each field is coerced:
//
//   - string    → string
//   - double    → float64
//   - integer   → int32 (integral values in 32-bit range only)
//   - timestamp → time.Time in UTC, parsed from ISO-8601 (zone-less is UTC)
//
// Properties that are not part of the schema are ignored.
//
// # Errors
//
// Every rejection is a *errors.ParseError naming the offending field, so the
// pipeline can count failures per field and skip the message:
//
//	rec, err := p.Parse(schema.GPS, raw)
//	if pe, ok := errors.AsParseError(err); ok {
//	    logger.Warn("skipping message", "field", pe.Field, "reason", pe.Reason)
//	}
package parser
