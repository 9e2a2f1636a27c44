// Package source defines the broker-facing side of a pipeline: raw messages,
// start positions and the pull subscription contract implemented by the
// NATS JetStream and Kafka adapters.
package source

import (
	"context"
	"fmt"
	"time"
)

// RawMessage is an undecoded broker message. Offset is monotonically
// increasing within a topic and is what checkpoints record.
type RawMessage struct {
	Topic       string
	Offset      int64
	Value       []byte
	PublishedAt time.Time
}

// Position is where a subscription starts reading.
type Position struct {
	earliest bool
	after    int64
}

// Earliest starts at the first retained message of the topic.
func Earliest() Position { return Position{earliest: true} }

// After starts strictly after offset.
func After(offset int64) Position { return Position{after: offset} }

// IsEarliest reports whether p starts at the beginning of the topic.
func (p Position) IsEarliest() bool { return p.earliest }

// Offset returns the last consumed offset for an After position.
func (p Position) Offset() int64 { return p.after }

func (p Position) String() string {
	if p.earliest {
		return "earliest"
	}
	return fmt.Sprintf("after(%d)", p.after)
}

// Source opens subscriptions on broker topics.
type Source interface {
	Subscribe(ctx context.Context, topic string, pos Position) (Subscription, error)
}

// Subscription pulls messages in offset order.
//
// Pull blocks until at least one message is available, wait has elapsed, or
// ctx is done, and returns at most max messages. An empty result with a nil
// error means nothing arrived in time. Errors reaching the broker are
// reported as errors.ErrSourceUnavailable.
type Subscription interface {
	Pull(ctx context.Context, max int, wait time.Duration) ([]RawMessage, error)
	Close() error
}
