// Package citystreams ingests city telemetry streams into durable storage.
//
// Five topics are read independently: vehicle_data, gps_data, traffic_data,
// weather_data and emergency_data. Each runs in its own pipeline, which
// parses and validates records against a fixed per-stream schema, tags
// records that arrive more than the allowed lateness (two minutes by
// default) behind the stream's watermark, writes batches to storage and
// commits a checkpoint after every batch. A restart resumes right after the
// last committed offset.
//
// # Packages
//
//	schema        stream kinds and their record schemas
//	record        typed records with offset, event time and late flag
//	parser        payload validation and conversion into records
//	watermark     per-stream event-time watermark and lateness test
//	checkpoint    monotonic per-stream progress (blob files or NATS KV)
//	sink          Avro or JSON-lines partition writer, dead-letter output
//	source        broker abstraction, with jetstream and kafka backends
//	storage       object storage abstraction, with file and NATS object store backends
//	pipeline      the per-stream read, parse, write, commit loop
//	supervisor    runs pipelines side by side and isolates their failures
//	config        layered JSON/YAML configuration with environment overrides
//	metric        Prometheus metrics and the /metrics and /health endpoints
//	natsclient    shared NATS connection, streams, KV and object store buckets
//
// # Delivery
//
// Delivery is at least once from the broker's point of view and effectively
// once in storage: a batch is written under a key derived from the offset it
// commits, so replaying an uncommitted batch after a crash overwrites the
// partition instead of duplicating it.
//
// # Running
//
//	citystreams --config=config.yaml
//
// See cmd/citystreams for flags and the config package for the file format
// and CITYSTREAMS_* environment variables.
package citystreams
