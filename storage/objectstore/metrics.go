package objectstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/citystreams/metric"
)

// storeMetrics holds Prometheus metrics for object store operations.
// A nil *storeMetrics records nothing.
type storeMetrics struct {
	operations *prometheus.CounterVec   // by operation
	latency    *prometheus.HistogramVec // by operation
	errors     *prometheus.CounterVec   // by operation

	objectCount  *prometheus.GaugeVec
	storageBytes *prometheus.GaugeVec
}

func newStoreMetrics(registry metric.MetricsRegistrar, bucket string) (*storeMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"bucket": bucket}
	m := &storeMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "citystreams",
			Subsystem:   "objectstore",
			Name:        "operations_total",
			Help:        "Total number of object store operations",
			ConstLabels: labels,
		}, []string{"operation"}), // put, get, list, delete

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "citystreams",
			Subsystem:   "objectstore",
			Name:        "operation_duration_seconds",
			Help:        "Object store operation duration in seconds",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}, []string{"operation"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "citystreams",
			Subsystem:   "objectstore",
			Name:        "operation_errors_total",
			Help:        "Total number of failed object store operations",
			ConstLabels: labels,
		}, []string{"operation"}),

		objectCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "citystreams",
			Subsystem:   "objectstore",
			Name:        "object_count",
			Help:        "Number of live objects seen by the last list",
			ConstLabels: labels,
		}, []string{}),

		storageBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "citystreams",
			Subsystem:   "objectstore",
			Name:        "storage_bytes",
			Help:        "Bytes held by live objects as of the last list",
			ConstLabels: labels,
		}, []string{}),
	}

	prefix := "objectstore_" + bucket
	type vec struct {
		name string
		reg  func() error
	}
	vecs := []vec{
		{"operations", func() error { return registry.RegisterCounterVec(prefix, "operations", m.operations) }},
		{"latency", func() error { return registry.RegisterHistogramVec(prefix, "latency", m.latency) }},
		{"errors", func() error { return registry.RegisterCounterVec(prefix, "errors", m.errors) }},
		{"object_count", func() error { return registry.RegisterGaugeVec(prefix, "object_count", m.objectCount) }},
		{"storage_bytes", func() error { return registry.RegisterGaugeVec(prefix, "storage_bytes", m.storageBytes) }},
	}
	for i, v := range vecs {
		if err := v.reg(); err != nil {
			// Roll back so a retry with the same bucket can register again.
			for _, done := range vecs[:i] {
				registry.Unregister(prefix, done.name)
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *storeMetrics) observe(operation string, d time.Duration) {
	if m != nil {
		m.operations.WithLabelValues(operation).Inc()
		m.latency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (m *storeMetrics) recordWrite(d time.Duration) { m.observe("put", d) }
func (m *storeMetrics) recordRead(d time.Duration)  { m.observe("get", d) }
func (m *storeMetrics) recordList(d time.Duration)  { m.observe("list", d) }

func (m *storeMetrics) recordDelete() {
	if m != nil {
		m.operations.WithLabelValues("delete").Inc()
	}
}

func (m *storeMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

func (m *storeMetrics) updateBucketSize(objects int, bytes uint64) {
	if m != nil {
		m.objectCount.WithLabelValues().Set(float64(objects))
		m.storageBytes.WithLabelValues().Set(float64(bytes))
	}
}
