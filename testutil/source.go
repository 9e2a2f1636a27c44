package testutil

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/source"
)

// Subscribed records one Subscribe call on a MockSource.
type Subscribed struct {
	Topic    string
	Position source.Position
}

// MockSource is an in-memory broker implementing source.Source.
// Offsets are assigned per topic starting at 1 unless set explicitly with
// PublishAt. Thread-safe for concurrent use from multiple goroutines.
type MockSource struct {
	mu            sync.Mutex
	topics        map[string][]source.RawMessage
	next          map[string]int64
	subscriptions []Subscribed
	subscribeErrs int
	pullErrs      int
	changed       chan struct{}

	// OnPull, when set, is called after every non-empty pull, outside the lock.
	OnPull func(topic string, msgs []source.RawMessage)
}

var _ source.Source = (*MockSource)(nil)

// NewMockSource creates an empty MockSource.
func NewMockSource() *MockSource {
	return &MockSource{
		topics:  make(map[string][]source.RawMessage),
		next:    make(map[string]int64),
		changed: make(chan struct{}),
	}
}

// Publish appends payloads to topic and returns their offsets.
func (s *MockSource) Publish(topic string, payloads ...[]byte) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	offsets := make([]int64, 0, len(payloads))
	for _, p := range payloads {
		if s.next[topic] == 0 {
			s.next[topic] = 1
		}
		offset := s.next[topic]
		s.append(topic, offset, p)
		offsets = append(offsets, offset)
	}
	s.broadcast()
	return offsets
}

// PublishAt appends payload at an explicit offset. Later Publish calls
// continue after it.
func (s *MockSource) PublishAt(topic string, offset int64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(topic, offset, payload)
	s.broadcast()
}

func (s *MockSource) append(topic string, offset int64, payload []byte) {
	s.topics[topic] = append(s.topics[topic], source.RawMessage{
		Topic:       topic,
		Offset:      offset,
		Value:       payload,
		PublishedAt: time.Now(),
	})
	s.next[topic] = offset + 1
}

func (s *MockSource) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// FailSubscribe makes the next n Subscribe calls fail as source unavailable.
func (s *MockSource) FailSubscribe(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeErrs = n
}

// FailPull makes the next n Pull calls fail as source unavailable.
func (s *MockSource) FailPull(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pullErrs = n
}

// Subscriptions returns every successful Subscribe call in order.
func (s *MockSource) Subscriptions() []Subscribed {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscribed, len(s.subscriptions))
	copy(out, s.subscriptions)
	return out
}

// Subscribe implements source.Source.
func (s *MockSource) Subscribe(ctx context.Context, topic string, pos source.Position) (source.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribeErrs > 0 {
		s.subscribeErrs--
		return nil, errors.SourceFailure(errors.ErrConnectionLost, "MockSource", "Subscribe", "connect")
	}
	s.subscriptions = append(s.subscriptions, Subscribed{Topic: topic, Position: pos})

	cursor := int64(math.MinInt64)
	if !pos.IsEarliest() {
		cursor = pos.Offset()
	}
	return &mockSubscription{src: s, topic: topic, cursor: cursor}, nil
}

type mockSubscription struct {
	src    *MockSource
	topic  string
	cursor int64
	closed bool
}

func (m *mockSubscription) Pull(ctx context.Context, max int, wait time.Duration) ([]source.RawMessage, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		msgs, changed, err := m.take(max)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			if hook := m.src.OnPull; hook != nil {
				hook(m.topic, msgs)
			}
			return msgs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-changed:
		}
	}
}

func (m *mockSubscription) take(max int) ([]source.RawMessage, <-chan struct{}, error) {
	s := m.src
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.closed {
		return nil, nil, errors.SourceFailure(errors.ErrShuttingDown, "MockSource", "Pull", "subscription closed")
	}
	if s.pullErrs > 0 {
		s.pullErrs--
		return nil, nil, errors.SourceFailure(errors.ErrConnectionLost, "MockSource", "Pull", "fetch")
	}

	var out []source.RawMessage
	for _, msg := range s.topics[m.topic] {
		if len(out) == max {
			break
		}
		if msg.Offset > m.cursor {
			out = append(out, msg)
		}
	}
	if len(out) > 0 {
		m.cursor = out[len(out)-1].Offset
	}
	return out, s.changed, nil
}

func (m *mockSubscription) Close() error {
	m.src.mu.Lock()
	defer m.src.mu.Unlock()
	m.closed = true
	return nil
}
