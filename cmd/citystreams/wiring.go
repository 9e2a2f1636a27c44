package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/citystreams/checkpoint"
	"github.com/c360/citystreams/config"
	"github.com/c360/citystreams/metric"
	"github.com/c360/citystreams/natsclient"
	"github.com/c360/citystreams/parser"
	"github.com/c360/citystreams/pipeline"
	"github.com/c360/citystreams/pkg/retry"
	"github.com/c360/citystreams/pkg/tlsutil"
	"github.com/c360/citystreams/schema"
	"github.com/c360/citystreams/sink"
	"github.com/c360/citystreams/source"
	jssource "github.com/c360/citystreams/source/jetstream"
	kafkasource "github.com/c360/citystreams/source/kafka"
	"github.com/c360/citystreams/storage"
	"github.com/c360/citystreams/storage/filestore"
	"github.com/c360/citystreams/storage/objectstore"
	"github.com/c360/citystreams/supervisor"
	"github.com/c360/citystreams/watermark"
)

// Storage prefixes: <root>/data/<topic> and <root>/checkpoints/<topic>.
const (
	dataPrefix       = "data"
	checkpointPrefix = "checkpoints"
)

// infra holds the backends shared by every pipeline.
type infra struct {
	nats        *natsclient.Client
	source      source.Source
	store       storage.Store
	checkpoints checkpoint.Store
}

func (in *infra) Close(ctx context.Context) {
	if in.nats != nil {
		if err := in.nats.Close(ctx); err != nil {
			slog.Warn("Closing NATS connection failed", "error", err)
		}
	}
}

// setupInfrastructure connects to the backends named in cfg.
func setupInfrastructure(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (_ *infra, err error) {
	in := &infra{}
	defer func() {
		if err != nil {
			in.Close(context.Background())
		}
	}()

	if cfg.UsesNATS() {
		client, err := newNATSClient(cfg.Broker.NATS, registry.CoreMetrics(), logger)
		if err != nil {
			return nil, err
		}
		in.nats = client
		if err := connectToNATS(ctx, client); err != nil {
			return nil, err
		}
	}

	if in.source, err = openSource(ctx, cfg, in.nats, logger); err != nil {
		return nil, err
	}
	if in.store, err = openStorage(ctx, cfg, in.nats, registry, logger); err != nil {
		return nil, err
	}
	if in.checkpoints, err = openCheckpoints(ctx, cfg, in.nats, in.store, logger); err != nil {
		return nil, err
	}
	return in, nil
}

func newNATSClient(cfg config.NATSConfig, m *metric.Metrics, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(m),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait.Std()),
	}
	if t := cfg.TLS; t != (config.NATSTLSConfig{}) {
		tc := tlsutil.ClientConfig{CertFile: t.CertFile, KeyFile: t.KeyFile, MinVersion: t.MinVersion}
		if t.CAFile != "" {
			tc.CAFiles = []string{t.CAFile}
		}
		opts = append(opts, natsclient.WithTLS(tc))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	return client, nil
}

// connectToNATS establishes NATS connection and waits for it to be ready
func connectToNATS(ctx context.Context, client *natsclient.Client) error {
	slog.Info("Connecting to NATS", "url", client.URL())
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

func openSource(ctx context.Context, cfg *config.Config, client *natsclient.Client,
	logger *slog.Logger) (source.Source, error) {

	switch cfg.Broker.Type {
	case config.BrokerKafka:
		k := cfg.Broker.Kafka
		return kafkasource.New(kafkasource.Config{
			Brokers:   strings.Join(k.Brokers, ","),
			GroupID:   k.GroupID,
			ClientID:  k.ClientID,
			Partition: k.Partition,
			Extra:     k.Properties,
		}, logger)
	default:
		n := cfg.Broker.NATS
		if n.CreateStream {
			var subjects []string
			for _, s := range cfg.EnabledStreams() {
				subjects = append(subjects, s.Topic)
			}
			// JetStream may still be electing a leader right after connect.
			_, err := retry.DoWithResult(ctx, retry.Quick(), func() (jetstream.Stream, error) {
				return client.EnsureStream(ctx, n.Stream, subjects)
			})
			if err != nil {
				return nil, fmt.Errorf("ensure stream %s: %w", n.Stream, err)
			}
		}
		return jssource.New(client, n.Stream, logger)
	}
}

func openStorage(ctx context.Context, cfg *config.Config, client *natsclient.Client,
	registry *metric.MetricsRegistry, logger *slog.Logger) (storage.Store, error) {

	switch cfg.Storage.Type {
	case config.StorageNATS:
		oc := objectstore.DefaultConfig()
		oc.BucketName = cfg.Storage.Bucket
		return objectstore.NewStoreWithConfig(ctx, client, oc, registry, logger)
	default:
		return filestore.New(cfg.Storage.Root)
	}
}

func openCheckpoints(ctx context.Context, cfg *config.Config, client *natsclient.Client,
	store storage.Store, logger *slog.Logger) (checkpoint.Store, error) {

	if cfg.Checkpoint.Type != config.CheckpointKV {
		return checkpoint.NewBlobStore(store, checkpoint.PrefixRoot(checkpointPrefix))
	}

	bucket, err := retry.DoWithResult(ctx, retry.Quick(), func() (jetstream.KeyValue, error) {
		return client.KeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Checkpoint.Bucket,
			Description: "citystreams stream checkpoints",
			History:     5,
			Storage:     jetstream.FileStorage,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint bucket %s: %w", cfg.Checkpoint.Bucket, err)
	}
	return checkpoint.NewKVStore(natsclient.NewKVStore(bucket, logger))
}

// buildPipelines creates one pipeline per enabled stream. Every pipeline
// gets its own watermark; the sink and parser are shared.
func buildPipelines(
	cfg *config.Config,
	in *infra,
	m *metric.Metrics,
	runID string,
	logger *slog.Logger,
) ([]supervisor.Runner, error) {
	registry := schema.NewRegistry()
	prs, err := parser.New(registry)
	if err != nil {
		return nil, err
	}
	enc, err := sink.NewEncoder(cfg.Sink.Format)
	if err != nil {
		return nil, err
	}
	writer, err := sink.New(in.store, registry, enc, sink.PrefixRoot(dataPrefix), logger)
	if err != nil {
		return nil, err
	}

	pc := cfg.Pipeline
	backoff := retry.Config{
		InitialDelay: pc.RetryDelay.Std(),
		MaxDelay:     pc.RetryMaxDelay.Std(),
		Multiplier:   2.0,
		AddJitter:    true,
	}

	var runners []supervisor.Runner
	for _, s := range cfg.EnabledStreams() {
		deps := pipeline.Dependencies{
			Source:      in.source,
			Checkpoints: in.checkpoints,
			Sink:        writer,
			Parser:      prs,
			Watermark:   watermark.New(pc.AllowedLateness.Std()),
			Metrics:     m,
			Logger:      logger,
		}
		if cfg.Sink.DeadLetter {
			deps.Rejects = writer
		}

		p, err := pipeline.New(pipeline.Config{
			Kind:        s.Kind,
			Topic:       s.Topic,
			BatchSize:   pc.BatchSize,
			PollWait:    pc.PollWait.Std(),
			RetryBudget: pc.RetryBudget,
			Backoff:     backoff,
			RunID:       runID,
		}, deps)
		if err != nil {
			return nil, err
		}
		runners = append(runners, p)
	}
	return runners, nil
}
