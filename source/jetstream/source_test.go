package jetstream

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/natsclient"
	"github.com/c360/citystreams/source"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "CITY", nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)

	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)
	_, err = New(client, "", nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestConsumerConfig(t *testing.T) {
	cfg := consumerConfig("gps_data", source.Earliest())
	assert.Equal(t, []string{"gps_data"}, cfg.FilterSubjects)
	assert.Equal(t, jetstream.DeliverAllPolicy, cfg.DeliverPolicy)
	assert.Zero(t, cfg.OptStartSeq)

	cfg = consumerConfig("gps_data", source.After(100))
	assert.Equal(t, jetstream.DeliverByStartSequencePolicy, cfg.DeliverPolicy)
	assert.Equal(t, uint64(101), cfg.OptStartSeq)
}

func TestSubscribe_NotConnected(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)
	src, err := New(client, "CITY", nil)
	require.NoError(t, err)

	_, err = src.Subscribe(context.Background(), "gps_data", source.Earliest())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSourceUnavailable)
	assert.True(t, errors.IsTransient(err))
}

func TestIsEmptyFetch(t *testing.T) {
	assert.True(t, isEmptyFetch(nats.ErrTimeout))
	assert.True(t, isEmptyFetch(jetstream.ErrNoMessages))
	assert.False(t, isEmptyFetch(jetstream.ErrConsumerDeleted))
}
