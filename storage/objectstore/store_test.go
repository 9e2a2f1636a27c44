package objectstore

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/metric"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "CITYSTREAMS", cfg.BucketName)
	assert.Equal(t, 1, cfg.Replicas)
	assert.Positive(t, cfg.Timeout)
}

func TestStoreMetrics_Disabled(t *testing.T) {
	m, err := newStoreMetrics(nil, "B")
	require.NoError(t, err)
	assert.Nil(t, m)

	// nil metrics are no-ops
	m.recordWrite(time.Millisecond)
	m.recordError("put")
	m.updateBucketSize(1, 2)
}

func TestStoreMetrics_Registered(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	m, err := newStoreMetrics(registry, "DATA")
	require.NoError(t, err)

	m.recordWrite(time.Millisecond)
	m.recordWrite(time.Millisecond)
	m.recordDelete()
	m.recordError("get")
	m.updateBucketSize(3, 1024)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("delete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("get")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.storageBytes.WithLabelValues()))

	_, err = newStoreMetrics(registry, "DATA")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestStoreMetrics_PartialFailureRollsBack(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	taken := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "taken_total", Help: "taken"}, []string{})
	require.NoError(t, registry.RegisterCounterVec("objectstore_DATA", "errors", taken))

	_, err := newStoreMetrics(registry, "DATA")
	require.Error(t, err)

	// operations was registered before the conflict; its key is free again.
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ops_total", Help: "ops"}, []string{})
	assert.NoError(t, registry.RegisterCounterVec("objectstore_DATA", "operations", ops))
}

func TestNewStoreWithConfig_RequiresClient(t *testing.T) {
	_, err := NewStoreWithConfig(context.Background(), nil, DefaultConfig(), nil, nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}
