// Package kafka reads stream topics from Apache Kafka with confluent-kafka-go.
//
// Subscriptions assign a single partition explicitly instead of joining a
// consumer group rebalance: the checkpoint store owns the position, so the
// consumer never commits offsets to the broker.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/source"
)

// pollSlice bounds a single Poll so a pull stays responsive to ctx.
const pollSlice = 100 * time.Millisecond

// Config holds the consumer settings shared by all subscriptions.
type Config struct {
	Brokers   string
	GroupID   string
	ClientID  string
	Partition int32
	// Extra is merged into the librdkafka configuration last.
	Extra map[string]string
}

// Source opens partition consumers on a Kafka cluster.
type Source struct {
	cfg    Config
	logger *slog.Logger
}

var _ source.Source = (*Source)(nil)

// New creates a Source.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.Brokers == "" {
		return nil, errors.ConfigFailure("kafka.Source", "New", "bootstrap brokers are required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "citystreams"
	}
	if cfg.Partition < 0 {
		return nil, errors.ConfigFailure("kafka.Source", "New", "partition must be >= 0, got %d", cfg.Partition)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:    cfg,
		logger: logger.With("component", "kafka-source"),
	}, nil
}

func (s *Source) configMap(topic string) *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":    s.cfg.Brokers,
		"group.id":             s.cfg.GroupID + "-" + topic,
		"enable.auto.commit":   "false",
		"auto.offset.reset":    "earliest",
		"enable.partition.eof": true,
	}
	if s.cfg.ClientID != "" {
		(*cm)["client.id"] = s.cfg.ClientID
	}
	for k, v := range s.cfg.Extra {
		(*cm)[k] = v
	}
	return cm
}

// startOffset maps a start position onto a Kafka offset.
func startOffset(pos source.Position) kafka.Offset {
	if pos.IsEarliest() {
		return kafka.OffsetBeginning
	}
	return kafka.Offset(pos.Offset() + 1)
}

// Subscribe implements source.Source.
func (s *Source) Subscribe(_ context.Context, topic string, pos source.Position) (source.Subscription, error) {
	c, err := kafka.NewConsumer(s.configMap(topic))
	if err != nil {
		return nil, errors.SourceFailure(err, "kafka.Source", "Subscribe", "create consumer")
	}

	t := topic
	assignment := []kafka.TopicPartition{{
		Topic:     &t,
		Partition: s.cfg.Partition,
		Offset:    startOffset(pos),
	}}
	if err := c.Assign(assignment); err != nil {
		_ = c.Close()
		return nil, errors.SourceFailure(err, "kafka.Source", "Subscribe",
			fmt.Sprintf("assign %s[%d] at %s", topic, s.cfg.Partition, pos))
	}

	s.logger.Info("Assigned partition", "topic", topic, "partition", s.cfg.Partition,
		"position", pos.String())
	return &subscription{topic: topic, consumer: c, logger: s.logger}, nil
}

type subscription struct {
	topic    string
	consumer *kafka.Consumer
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Pull implements source.Subscription.
func (s *subscription) Pull(ctx context.Context, max int, wait time.Duration) ([]source.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.SourceFailure(errors.ErrShuttingDown, "kafka.Subscription", "Pull", "subscription closed")
	}

	deadline := time.Now().Add(wait)
	var out []source.RawMessage
	for len(out) < max {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		timeout := time.Until(deadline)
		if len(out) > 0 {
			// Drain what is already buffered, do not wait for more.
			timeout = 0
		} else if timeout <= 0 {
			return out, nil
		} else if timeout > pollSlice {
			timeout = pollSlice
		}

		ev := s.consumer.Poll(int(timeout / time.Millisecond))
		switch e := ev.(type) {
		case nil:
			if len(out) > 0 {
				return out, nil
			}
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				return out, errors.SourceFailure(e.TopicPartition.Error, "kafka.Subscription", "Pull", "read "+s.topic)
			}
			out = append(out, source.RawMessage{
				Topic:       s.topic,
				Offset:      int64(e.TopicPartition.Offset),
				Value:       e.Value,
				PublishedAt: e.Timestamp,
			})
		case kafka.PartitionEOF:
			if len(out) > 0 {
				return out, nil
			}
		case kafka.Error:
			if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
				return out, errors.SourceFailure(e, "kafka.Subscription", "Pull", "poll "+s.topic)
			}
			s.logger.Warn("Kafka client error", "topic", s.topic, "error", e)
		}
	}
	return out, nil
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.consumer.Close()
}
