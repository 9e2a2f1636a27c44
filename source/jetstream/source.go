// Package jetstream reads stream topics from NATS JetStream.
//
// Each subscription is an ordered consumer filtered to one subject. Offsets
// are JetStream stream sequence numbers: unique and increasing within a
// stream, though not contiguous for a single subject when several topics
// share the stream.
package jetstream

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/natsclient"
	"github.com/c360/citystreams/source"
)

// Source opens ordered consumers on one JetStream stream.
type Source struct {
	client *natsclient.Client
	stream string
	logger *slog.Logger
}

var _ source.Source = (*Source)(nil)

// New creates a Source reading from the stream called streamName.
func New(client *natsclient.Client, streamName string, logger *slog.Logger) (*Source, error) {
	if client == nil {
		return nil, errors.ConfigFailure("jetstream.Source", "New", "NATS client is required")
	}
	if streamName == "" {
		return nil, errors.ConfigFailure("jetstream.Source", "New", "stream name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		client: client,
		stream: streamName,
		logger: logger.With("component", "jetstream-source", "stream_name", streamName),
	}, nil
}

// consumerConfig maps a start position onto an ordered consumer config.
func consumerConfig(topic string, pos source.Position) jetstream.OrderedConsumerConfig {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{topic},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if !pos.IsEarliest() {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = uint64(pos.Offset() + 1)
	}
	return cfg
}

// Subscribe implements source.Source.
func (s *Source) Subscribe(ctx context.Context, topic string, pos source.Position) (source.Subscription, error) {
	js, err := s.client.JetStream()
	if err != nil {
		return nil, errors.SourceFailure(err, "jetstream.Source", "Subscribe", "get JetStream context")
	}

	stream, err := js.Stream(ctx, s.stream)
	if err != nil {
		return nil, errors.SourceFailure(err, "jetstream.Source", "Subscribe", "look up stream "+s.stream)
	}

	consumer, err := stream.OrderedConsumer(ctx, consumerConfig(topic, pos))
	if err != nil {
		return nil, errors.SourceFailure(err, "jetstream.Source", "Subscribe",
			fmt.Sprintf("create ordered consumer for %s at %s", topic, pos))
	}

	s.logger.Info("Subscribed", "topic", topic, "position", pos.String())
	return &subscription{topic: topic, consumer: consumer}, nil
}

type subscription struct {
	topic    string
	consumer jetstream.Consumer
	closed   atomic.Bool
}

// Pull implements source.Subscription. A fetch cannot be interrupted, so
// the wait is clipped to ctx's deadline.
func (s *subscription) Pull(ctx context.Context, max int, wait time.Duration) ([]source.RawMessage, error) {
	if s.closed.Load() {
		return nil, errors.SourceFailure(errors.ErrShuttingDown, "jetstream.Subscription", "Pull", "subscription closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	if wait <= 0 {
		return nil, nil
	}

	batch, err := s.consumer.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, errors.SourceFailure(err, "jetstream.Subscription", "Pull", "fetch "+s.topic)
	}

	var out []source.RawMessage
	for msg := range batch.Messages() {
		md, err := msg.Metadata()
		if err != nil {
			return out, errors.SourceFailure(err, "jetstream.Subscription", "Pull", "read metadata")
		}
		out = append(out, source.RawMessage{
			Topic:       s.topic,
			Offset:      int64(md.Sequence.Stream),
			Value:       msg.Data(),
			PublishedAt: md.Timestamp,
		})
	}

	if err := batch.Error(); err != nil && !isEmptyFetch(err) {
		return out, errors.SourceFailure(err, "jetstream.Subscription", "Pull", "fetch "+s.topic)
	}
	return out, nil
}

// isEmptyFetch reports errors that only mean nothing arrived in time.
func isEmptyFetch(err error) bool {
	return stderrors.Is(err, nats.ErrTimeout) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, jetstream.ErrNoMessages)
}

func (s *subscription) Close() error {
	s.closed.Store(true)
	return nil
}
