package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "citystreams"

// Metrics contains the pipeline metrics shared by every stream. All series
// are labelled by stream name. A nil *Metrics records nothing.
type Metrics struct {
	// Record flow
	RecordsReceived *prometheus.CounterVec
	RecordsParsed   *prometheus.CounterVec
	ParseErrors     *prometheus.CounterVec
	LateRecords     *prometheus.CounterVec

	// Batch and checkpoint progress
	BatchesCommitted *prometheus.CounterVec
	BatchRetries     *prometheus.CounterVec
	SourceRetries    *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec
	CheckpointOffset *prometheus.GaugeVec
	Watermark        *prometheus.GaugeVec
	PipelineState    *prometheus.GaugeVec

	// NATS connection
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RecordsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "received_total",
				Help:      "Total number of raw messages pulled from the broker",
			},
			[]string{"stream"},
		),

		RecordsParsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "parsed_total",
				Help:      "Total number of messages parsed into records",
			},
			[]string{"stream"},
		),

		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "parse_errors_total",
				Help:      "Total number of messages skipped because they failed to parse",
			},
			[]string{"stream", "field"},
		),

		LateRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "late_total",
				Help:      "Total number of records behind the watermark",
			},
			[]string{"stream"},
		),

		BatchesCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batches",
				Name:      "committed_total",
				Help:      "Total number of batches written and checkpointed",
			},
			[]string{"stream"},
		),

		BatchRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batches",
				Name:      "retries_total",
				Help:      "Total number of batch write or commit retries",
			},
			[]string{"stream"},
		),

		SourceRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "retries_total",
				Help:      "Total number of retries while the broker was unavailable",
			},
			[]string{"stream"},
		),

		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "batches",
				Name:      "duration_seconds",
				Help:      "Time from pull to committed checkpoint per batch",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stream"},
		),

		CheckpointOffset: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "checkpoint",
				Name:      "offset",
				Help:      "Last committed source offset",
			},
			[]string{"stream"},
		),

		Watermark: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "watermark",
				Name:      "timestamp_seconds",
				Help:      "Current event-time watermark as Unix seconds",
			},
			[]string{"stream"},
		),

		PipelineState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "state",
				Help:      "Pipeline state (0=starting, 1=running, 2=stopped, 3=failed)",
			},
			[]string{"stream"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RecordsReceived,
		m.RecordsParsed,
		m.ParseErrors,
		m.LateRecords,
		m.BatchesCommitted,
		m.BatchRetries,
		m.SourceRetries,
		m.BatchDuration,
		m.CheckpointOffset,
		m.Watermark,
		m.PipelineState,
		m.NATSConnected,
		m.NATSReconnects,
	}
}

// RecordReceived adds n pulled messages
func (m *Metrics) RecordReceived(stream string, n int) {
	if m != nil {
		m.RecordsReceived.WithLabelValues(stream).Add(float64(n))
	}
}

// RecordParsed increments the parsed record counter
func (m *Metrics) RecordParsed(stream string) {
	if m != nil {
		m.RecordsParsed.WithLabelValues(stream).Inc()
	}
}

// RecordParseError increments the parse error counter for a field.
// Document-level failures use the field label "_payload".
func (m *Metrics) RecordParseError(stream, field string) {
	if m == nil {
		return
	}
	if field == "" {
		field = "_payload"
	}
	m.ParseErrors.WithLabelValues(stream, field).Inc()
}

// RecordLate increments the late record counter
func (m *Metrics) RecordLate(stream string) {
	if m != nil {
		m.LateRecords.WithLabelValues(stream).Inc()
	}
}

// RecordBatchCommitted records a committed batch and its duration
func (m *Metrics) RecordBatchCommitted(stream string, offset int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.BatchesCommitted.WithLabelValues(stream).Inc()
	m.CheckpointOffset.WithLabelValues(stream).Set(float64(offset))
	m.BatchDuration.WithLabelValues(stream).Observe(duration.Seconds())
}

// RecordBatchRetry increments the batch retry counter
func (m *Metrics) RecordBatchRetry(stream string) {
	if m != nil {
		m.BatchRetries.WithLabelValues(stream).Inc()
	}
}

// RecordSourceRetry increments the source retry counter
func (m *Metrics) RecordSourceRetry(stream string) {
	if m != nil {
		m.SourceRetries.WithLabelValues(stream).Inc()
	}
}

// RecordCheckpointOffset sets the committed offset gauge
func (m *Metrics) RecordCheckpointOffset(stream string, offset int64) {
	if m != nil {
		m.CheckpointOffset.WithLabelValues(stream).Set(float64(offset))
	}
}

// RecordWatermark sets the watermark gauge
func (m *Metrics) RecordWatermark(stream string, wm time.Time) {
	if m != nil && !wm.IsZero() {
		m.Watermark.WithLabelValues(stream).Set(float64(wm.UnixMilli()) / 1000)
	}
}

// RecordPipelineState sets the pipeline state gauge
func (m *Metrics) RecordPipelineState(stream string, state int) {
	if m != nil {
		m.PipelineState.WithLabelValues(stream).Set(float64(state))
	}
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	if m != nil {
		m.NATSReconnects.Inc()
	}
}
