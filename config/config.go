package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/schema"
)

// Backend names.
const (
	BrokerNATS  = "nats"
	BrokerKafka = "kafka"

	StorageFile = "file"
	StorageNATS = "nats"

	CheckpointStorage = "storage"
	CheckpointKV      = "kv"

	FormatParquet = "parquet"
	FormatAvro    = "avro"
	FormatJSONL   = "jsonl"
)

// EnvPrefix prefixes every environment override, e.g. CITYSTREAMS_NATS_URLS.
const EnvPrefix = "CITYSTREAMS"

// Config is the complete configuration of one citystreams process.
type Config struct {
	Version    string                  `json:"version,omitempty" yaml:"version,omitempty"`
	Broker     BrokerConfig            `json:"broker" yaml:"broker"`
	Storage    StorageConfig           `json:"storage" yaml:"storage"`
	Checkpoint CheckpointConfig        `json:"checkpoint" yaml:"checkpoint"`
	Sink       SinkConfig              `json:"sink" yaml:"sink"`
	Pipeline   PipelineConfig          `json:"pipeline" yaml:"pipeline"`
	Streams    map[string]StreamConfig `json:"streams" yaml:"streams"`
}

// BrokerConfig selects and configures the message broker.
type BrokerConfig struct {
	Type  string      `json:"type" yaml:"type"`
	NATS  NATSConfig  `json:"nats" yaml:"nats"`
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

// NATSConfig defines NATS connection settings. It is also used when the
// storage or checkpoint backend lives in JetStream.
type NATSConfig struct {
	URLs          []string      `json:"urls" yaml:"urls"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration      `json:"reconnect_wait" yaml:"reconnect_wait"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
	// Stream is the JetStream stream holding the topic subjects.
	Stream string `json:"stream" yaml:"stream"`
	// CreateStream provisions the stream at startup when it is missing.
	CreateStream bool `json:"create_stream" yaml:"create_stream"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	// MinVersion is "1.2" (default) or "1.3".
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"`
}

// KafkaConfig defines the Kafka consumer settings.
type KafkaConfig struct {
	Brokers    []string          `json:"brokers" yaml:"brokers"`
	GroupID    string            `json:"group_id" yaml:"group_id"`
	ClientID   string            `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Partition  int32             `json:"partition" yaml:"partition"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// StorageConfig selects where sink partitions are written. Data lands under
// <root>/data/<topic> and, for the storage checkpoint backend, checkpoints
// under <root>/checkpoints/<topic>.
type StorageConfig struct {
	Type   string `json:"type" yaml:"type"`
	Root   string `json:"root" yaml:"root"`
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	Type   string `json:"type" yaml:"type"`
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
}

// SinkConfig configures the partition file format.
type SinkConfig struct {
	Format string `json:"format" yaml:"format"`
	// DeadLetter writes unparseable payloads next to the data partitions.
	DeadLetter bool `json:"dead_letter" yaml:"dead_letter"`
}

// PipelineConfig holds the settings shared by all stream pipelines.
type PipelineConfig struct {
	BatchSize       int      `json:"batch_size" yaml:"batch_size"`
	PollWait        Duration `json:"poll_wait" yaml:"poll_wait"`
	RetryBudget     int      `json:"retry_budget" yaml:"retry_budget"`
	AllowedLateness Duration `json:"allowed_lateness" yaml:"allowed_lateness"`
	RetryDelay      Duration `json:"retry_delay" yaml:"retry_delay"`
	RetryMaxDelay   Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
}

// StreamConfig enables a stream and names its broker topic.
type StreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Topic   string `json:"topic" yaml:"topic"`
}

// Stream is an enabled stream resolved to its kind.
type Stream struct {
	Kind  schema.StreamKind
	Topic string
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	streams := make(map[string]StreamConfig, len(schema.AllKinds()))
	for _, kind := range schema.AllKinds() {
		streams[kind.String()] = StreamConfig{Enabled: true, Topic: kind.Topic()}
	}
	return &Config{
		Broker: BrokerConfig{
			Type: BrokerNATS,
			NATS: NATSConfig{
				URLs:          []string{"nats://localhost:4222"},
				MaxReconnects: -1,
				ReconnectWait: Duration(2 * time.Second),
				Stream:        "CITY",
				CreateStream:  true,
			},
			Kafka: KafkaConfig{
				GroupID: "citystreams",
			},
		},
		Storage: StorageConfig{
			Type:   StorageFile,
			Root:   "./data",
			Bucket: "CITYSTREAMS",
		},
		Checkpoint: CheckpointConfig{
			Type:   CheckpointStorage,
			Bucket: "CITYSTREAMS_CHECKPOINTS",
		},
		Sink: SinkConfig{
			Format: FormatParquet,
		},
		Pipeline: PipelineConfig{
			BatchSize:       500,
			PollWait:        Duration(time.Second),
			RetryBudget:     3,
			AllowedLateness: Duration(2 * time.Minute),
			RetryDelay:      Duration(100 * time.Millisecond),
			RetryMaxDelay:   Duration(5 * time.Second),
		},
		Streams: streams,
	}
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Broker.NATS.URLs = append([]string(nil), c.Broker.NATS.URLs...)
	clone.Broker.Kafka.Brokers = append([]string(nil), c.Broker.Kafka.Brokers...)
	if c.Broker.Kafka.Properties != nil {
		clone.Broker.Kafka.Properties = make(map[string]string, len(c.Broker.Kafka.Properties))
		for k, v := range c.Broker.Kafka.Properties {
			clone.Broker.Kafka.Properties[k] = v
		}
	}
	if c.Streams != nil {
		clone.Streams = make(map[string]StreamConfig, len(c.Streams))
		for k, v := range c.Streams {
			clone.Streams[k] = v
		}
	}
	return &clone
}

// UsesNATS reports whether any backend needs a NATS connection.
func (c *Config) UsesNATS() bool {
	return c.Broker.Type == BrokerNATS ||
		c.Storage.Type == StorageNATS ||
		c.Checkpoint.Type == CheckpointKV
}

// EnabledStreams returns the enabled streams in startup order.
func (c *Config) EnabledStreams() []Stream {
	var out []Stream
	for _, kind := range schema.AllKinds() {
		sc, ok := c.Streams[kind.String()]
		if !ok || !sc.Enabled {
			continue
		}
		topic := sc.Topic
		if topic == "" {
			topic = kind.Topic()
		}
		out = append(out, Stream{Kind: kind, Topic: topic})
	}
	return out
}

// Validate checks the configuration. Every failure is a fatal configuration
// error.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return errors.ConfigFailure("Config", "Validate", format, args...)
	}

	switch c.Broker.Type {
	case BrokerNATS:
		if c.Broker.NATS.Stream == "" {
			return fail("broker.nats.stream is required")
		}
	case BrokerKafka:
		if len(c.Broker.Kafka.Brokers) == 0 {
			return fail("broker.kafka.brokers is required")
		}
		if c.Broker.Kafka.Partition < 0 {
			return fail("broker.kafka.partition must be >= 0, got %d", c.Broker.Kafka.Partition)
		}
	default:
		return fail("unknown broker.type %q", c.Broker.Type)
	}

	switch c.Storage.Type {
	case StorageFile:
		if c.Storage.Root == "" {
			return fail("storage.root is required")
		}
	case StorageNATS:
		if c.Storage.Bucket == "" {
			return fail("storage.bucket is required for nats storage")
		}
	default:
		return fail("unknown storage.type %q", c.Storage.Type)
	}

	switch c.Checkpoint.Type {
	case CheckpointStorage:
	case CheckpointKV:
		if c.Checkpoint.Bucket == "" {
			return fail("checkpoint.bucket is required for kv checkpoints")
		}
	default:
		return fail("unknown checkpoint.type %q", c.Checkpoint.Type)
	}

	if c.UsesNATS() {
		if len(c.Broker.NATS.URLs) == 0 {
			return fail("broker.nats.urls is required")
		}
		tls := c.Broker.NATS.TLS
		if (tls.CertFile == "") != (tls.KeyFile == "") {
			return fail("broker.nats.tls cert_file and key_file must be set together")
		}
		if v := tls.MinVersion; v != "" && v != "1.2" && v != "1.3" {
			return fail("broker.nats.tls.min_version must be 1.2 or 1.3, got %q", v)
		}
	}

	switch c.Sink.Format {
	case FormatParquet, FormatAvro, FormatJSONL:
	default:
		return fail("unknown sink.format %q", c.Sink.Format)
	}

	p := c.Pipeline
	if p.BatchSize <= 0 {
		return fail("pipeline.batch_size must be positive, got %d", p.BatchSize)
	}
	if p.PollWait <= 0 {
		return fail("pipeline.poll_wait must be positive, got %s", p.PollWait)
	}
	if p.RetryBudget < 1 {
		return fail("pipeline.retry_budget must be at least 1, got %d", p.RetryBudget)
	}
	if p.AllowedLateness < 0 {
		return fail("pipeline.allowed_lateness must not be negative, got %s", p.AllowedLateness)
	}
	if p.RetryDelay < 0 || p.RetryMaxDelay < 0 {
		return fail("pipeline retry delays must not be negative")
	}

	topics := make(map[string]string)
	for name, sc := range c.Streams {
		kind, err := schema.ParseStreamKind(name)
		if err != nil || kind.String() != name {
			return fail("unknown stream %q", name)
		}
		if !sc.Enabled {
			continue
		}
		topic := sc.Topic
		if topic == "" {
			topic = kind.Topic()
		}
		if other, dup := topics[topic]; dup {
			return fail("streams %s and %s share topic %q", other, name, topic)
		}
		topics[topic] = name
	}
	if len(topics) == 0 {
		return fail("no stream is enabled")
	}
	return nil
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a JSON or YAML configuration file layer. Later layers
// override earlier ones key by key.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and the environment, in that order.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", "load "+path)
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a layer into a generic map. The format follows the file
// extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}
	return raw, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func (l *Loader) env(name string) (string, bool, error) {
	key := l.envPrefix + "_" + name
	val, ok := l.lookupEnv(key)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(key, val); err != nil {
		return "", false, errors.ConfigFailure("Loader", "applyEnvOverrides", "%v", err)
	}
	return val, true, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"BROKER_TYPE", &cfg.Broker.Type},
		{"NATS_USERNAME", &cfg.Broker.NATS.Username},
		{"NATS_PASSWORD", &cfg.Broker.NATS.Password},
		{"NATS_TOKEN", &cfg.Broker.NATS.Token},
		{"NATS_STREAM", &cfg.Broker.NATS.Stream},
		{"KAFKA_GROUP_ID", &cfg.Broker.Kafka.GroupID},
		{"STORAGE_TYPE", &cfg.Storage.Type},
		{"STORAGE_ROOT", &cfg.Storage.Root},
		{"STORAGE_BUCKET", &cfg.Storage.Bucket},
		{"CHECKPOINT_TYPE", &cfg.Checkpoint.Type},
		{"CHECKPOINT_BUCKET", &cfg.Checkpoint.Bucket},
		{"SINK_FORMAT", &cfg.Sink.Format},
	}
	for _, s := range strs {
		val, ok, err := l.env(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = val
		}
	}

	lists := []struct {
		name string
		dst  *[]string
	}{
		{"NATS_URLS", &cfg.Broker.NATS.URLs},
		{"KAFKA_BROKERS", &cfg.Broker.Kafka.Brokers},
	}
	for _, s := range lists {
		val, ok, err := l.env(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = splitList(val)
		}
	}

	if val, ok, err := l.env("ALLOWED_LATENESS"); err != nil {
		return err
	} else if ok {
		d, err := ParseDuration(val)
		if err != nil {
			return errors.ConfigFailure("Loader", "applyEnvOverrides", "%s_ALLOWED_LATENESS: %v", l.envPrefix, err)
		}
		cfg.Pipeline.AllowedLateness = Duration(d)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"BATCH_SIZE", &cfg.Pipeline.BatchSize},
		{"RETRY_BUDGET", &cfg.Pipeline.RetryBudget},
	}
	for _, s := range ints {
		val, ok, err := l.env(s.name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := cast.ToIntE(val)
		if err != nil {
			return errors.ConfigFailure("Loader", "applyEnvOverrides", "%s_%s: %v", l.envPrefix, s.name, err)
		}
		*s.dst = n
	}

	if val, ok, err := l.env("DEAD_LETTER"); err != nil {
		return err
	} else if ok {
		b, err := cast.ToBoolE(val)
		if err != nil {
			return errors.ConfigFailure("Loader", "applyEnvOverrides", "%s_DEAD_LETTER: %v", l.envPrefix, err)
		}
		cfg.Sink.DeadLetter = b
	}

	// CITYSTREAMS_STREAMS=gps,weather runs only the named streams.
	if val, ok, err := l.env("STREAMS"); err != nil {
		return err
	} else if ok {
		enabled := make(map[string]bool)
		for _, name := range splitList(val) {
			kind, err := schema.ParseStreamKind(name)
			if err != nil {
				return errors.ConfigFailure("Loader", "applyEnvOverrides", "%s_STREAMS: %v", l.envPrefix, err)
			}
			enabled[kind.String()] = true
		}
		for _, kind := range schema.AllKinds() {
			sc := cfg.Streams[kind.String()]
			sc.Enabled = enabled[kind.String()]
			cfg.Streams[kind.String()] = sc
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}
