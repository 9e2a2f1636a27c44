package metric

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/citystreams/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())

	registry.CoreMetrics().RecordBatchCommitted("gps", 10, time.Millisecond)
	names := gatheredNames(t, registry)
	assert.True(t, names["citystreams_batches_committed_total"])
	assert.True(t, names["go_goroutines"])
}

func TestMetricsRegistry_RegisterVecs(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_ops_total", Help: "ops"}, []string{"op"})
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_objects", Help: "objects"}, []string{})
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_latency_seconds", Help: "latency"}, []string{"op"})

	require.NoError(t, registry.RegisterCounterVec("store", "ops", counter))
	require.NoError(t, registry.RegisterGaugeVec("store", "objects", gauge))
	require.NoError(t, registry.RegisterHistogramVec("store", "latency", hist))

	counter.WithLabelValues("put").Inc()
	gauge.WithLabelValues().Set(3)
	hist.WithLabelValues("put").Observe(0.1)

	names := gatheredNames(t, registry)
	assert.True(t, names["test_ops_total"])
	assert.True(t, names["test_objects"])
	assert.True(t, names["test_latency_seconds"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dup_total", Help: "dup"}, []string{})
	second := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dup_total", Help: "dup"}, []string{})

	require.NoError(t, registry.RegisterCounterVec("svc", "dup", first))

	err := registry.RegisterCounterVec("svc", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = registry.RegisterCounterVec("other", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "prometheus name conflict is reported as invalid")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "temp_gauge", Help: "tmp"}, []string{})
	require.NoError(t, registry.RegisterGaugeVec("svc", "temp", gauge))
	gauge.WithLabelValues().Set(1)

	assert.True(t, registry.Unregister("svc", "temp"))
	assert.False(t, registry.Unregister("svc", "temp"))
	assert.False(t, gatheredNames(t, registry)["temp_gauge"])

	// Re-registration after removal is allowed.
	require.NoError(t, registry.RegisterGaugeVec("svc", "temp", gauge))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_%d_total", i),
				Help: "concurrent",
			}, []string{})
			assert.NoError(t, registry.RegisterCounterVec("svc", fmt.Sprintf("c%d", i), c))
		}(i)
	}
	wg.Wait()
}

func TestMetrics_RecordMethods(t *testing.T) {
	m := NewMetrics()

	m.RecordReceived("vehicle", 5)
	m.RecordParsed("vehicle")
	m.RecordParseError("vehicle", "speed")
	m.RecordParseError("vehicle", "")
	m.RecordLate("vehicle")
	m.RecordBatchRetry("vehicle")
	m.RecordSourceRetry("vehicle")
	m.RecordBatchCommitted("vehicle", 42, 20*time.Millisecond)
	m.RecordWatermark("vehicle", time.Unix(1700000000, 0))
	m.RecordPipelineState("vehicle", 1)
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()

	assert.Equal(t, 5.0, testutil.ToFloat64(m.RecordsReceived.WithLabelValues("vehicle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors.WithLabelValues("vehicle", "speed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors.WithLabelValues("vehicle", "_payload")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.CheckpointOffset.WithLabelValues("vehicle")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.Watermark.WithLabelValues("vehicle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
}

func TestMetrics_BatchDurationHistogram(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()
	m.RecordBatchCommitted("weather", 1, 30*time.Millisecond)
	m.RecordBatchCommitted("weather", 2, 70*time.Millisecond)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() != "citystreams_batches_duration_seconds" {
			continue
		}
		require.Equal(t, dto.MetricType_HISTOGRAM, mf.GetType())
		for _, sample := range mf.GetMetric() {
			for _, lp := range sample.GetLabel() {
				if lp.GetName() == "stream" && lp.GetValue() == "weather" {
					hist = sample.GetHistogram()
				}
			}
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 0.1, hist.GetSampleSum(), 1e-9)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordReceived("gps", 1)
		m.RecordParseError("gps", "id")
		m.RecordBatchCommitted("gps", 1, time.Second)
		m.RecordWatermark("gps", time.Now())
		m.RecordNATSStatus(false)
	})
}
