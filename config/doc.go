// Package config loads the citystreams process configuration.
//
// A Loader starts from Default, merges each JSON or YAML layer key by key,
// applies CITYSTREAMS_* environment overrides and, when enabled, validates
// the result:
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//	for _, s := range cfg.EnabledStreams() {
//		fmt.Println(s.Kind, s.Topic)
//	}
//
// Validation failures are fatal configuration errors (errors.ErrConfiguration).
//
// # Environment
//
//	CITYSTREAMS_BROKER_TYPE        nats | kafka
//	CITYSTREAMS_NATS_URLS          comma separated
//	CITYSTREAMS_NATS_USERNAME, CITYSTREAMS_NATS_PASSWORD, CITYSTREAMS_NATS_TOKEN
//	CITYSTREAMS_NATS_STREAM
//	CITYSTREAMS_KAFKA_BROKERS      comma separated
//	CITYSTREAMS_KAFKA_GROUP_ID
//	CITYSTREAMS_STORAGE_TYPE       file | nats
//	CITYSTREAMS_STORAGE_ROOT, CITYSTREAMS_STORAGE_BUCKET
//	CITYSTREAMS_CHECKPOINT_TYPE    storage | kv
//	CITYSTREAMS_CHECKPOINT_BUCKET
//	CITYSTREAMS_SINK_FORMAT        parquet | avro | jsonl
//	CITYSTREAMS_DEAD_LETTER        bool
//	CITYSTREAMS_BATCH_SIZE, CITYSTREAMS_RETRY_BUDGET
//	CITYSTREAMS_ALLOWED_LATENESS   e.g. 2m
//	CITYSTREAMS_STREAMS            enabled streams, e.g. gps,weather
//
// Durations accept Go duration strings plus a day suffix ("1d").
package config
