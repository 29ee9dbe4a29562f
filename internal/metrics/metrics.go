// Package metrics exposes pipeline counters and gauges to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests and when the endpoint is disabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "daqpull"

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	gatherer prometheus.Gatherer

	transfers         *prometheus.CounterVec
	transferBytes     *prometheus.CounterVec
	transferFailures  *prometheus.CounterVec
	transferDuration  prometheus.Histogram
	rejectedFiles     *prometheus.CounterVec
	findings          *prometheus.CounterVec
	stored            *prometheus.CounterVec
	channelDepth      *prometheus.GaugeVec
	unreachableStreak *prometheus.GaugeVec
	spaceBlocked      *prometheus.GaugeVec
	alerts            *prometheus.CounterVec
	inactiveUnits     prometheus.Gauge
	sequenceGaps      *prometheus.CounterVec
	workerRestarts    *prometheus.CounterVec
}

// New registers the pipeline collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Files transferred from acquisition units.",
		}, []string{"unit"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Bytes transferred from acquisition units.",
		}, []string{"unit"}),
		transferFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_failures_total",
			Help:      "Failed listings or transfers by failure kind.",
		}, []string{"unit", "kind"}),
		transferDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Wall time of successful transfers.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		rejectedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_files_total",
			Help:      "Remote files skipped because their names could not be parsed.",
		}, []string{"unit"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_findings_total",
			Help:      "Plausibility findings by kind.",
		}, []string{"kind"}),
		stored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stored_files_total",
			Help:      "Storage stage outcomes.",
		}, []string{"outcome"}),
		channelDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_depth",
			Help:      "Unacknowledged items per durable channel.",
		}, []string{"channel"}),
		unreachableStreak: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unreachable_streak",
			Help:      "Consecutive host-unreachable failures per unit.",
		}, []string{"unit"}),
		spaceBlocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "space_blocked",
			Help:      "1 while a volume is below its free-space floor.",
		}, []string{"volume"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Operator alerts by outcome.",
		}, []string{"outcome"}),
		inactiveUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inactive_units",
			Help:      "Units outside their inactivity window.",
		}),
		sequenceGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_mismatches_total",
			Help:      "Sequence discontinuities per unit.",
		}, []string{"unit"}),
		workerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Supervised worker restarts after a failure.",
		}, []string{"worker"}),
	}
	reg.MustRegister(
		m.transfers, m.transferBytes, m.transferFailures, m.transferDuration,
		m.rejectedFiles, m.findings, m.stored, m.channelDepth, m.unreachableStreak,
		m.spaceBlocked, m.alerts, m.inactiveUnits, m.sequenceGaps, m.workerRestarts,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// TransferCompleted records one successful transfer.
func (m *Metrics) TransferCompleted(unit string, bytes int64, seconds float64) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(unit).Inc()
	m.transferBytes.WithLabelValues(unit).Add(float64(bytes))
	m.transferDuration.Observe(seconds)
}

// TransferFailed records a failed listing or transfer.
func (m *Metrics) TransferFailed(unit, kind string) {
	if m == nil {
		return
	}
	m.transferFailures.WithLabelValues(unit, kind).Inc()
}

// FileRejected records a remote file skipped for a malformed name.
func (m *Metrics) FileRejected(unit string) {
	if m == nil {
		return
	}
	m.rejectedFiles.WithLabelValues(unit).Inc()
}

// Finding records one verification finding.
func (m *Metrics) Finding(kind string) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(kind).Inc()
}

// Stored records a storage outcome: moved, skipped, or failed.
func (m *Metrics) Stored(outcome string) {
	if m == nil {
		return
	}
	m.stored.WithLabelValues(outcome).Inc()
}

// SetChannelDepth publishes the depth of a durable channel.
func (m *Metrics) SetChannelDepth(channel string, depth int) {
	if m == nil {
		return
	}
	m.channelDepth.WithLabelValues(channel).Set(float64(depth))
}

// SetUnreachableStreak publishes a unit's consecutive unreachable count.
func (m *Metrics) SetUnreachableStreak(unit string, n int) {
	if m == nil {
		return
	}
	m.unreachableStreak.WithLabelValues(unit).Set(float64(n))
}

// SetSpaceBlocked flags a volume as below its floor.
func (m *Metrics) SetSpaceBlocked(volume string, blocked bool) {
	if m == nil {
		return
	}
	v := 0.0
	if blocked {
		v = 1
	}
	m.spaceBlocked.WithLabelValues(volume).Set(v)
}

// Alert records an alert outcome: queued, sent, deduplicated, or failed.
func (m *Metrics) Alert(outcome string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(outcome).Inc()
}

// SetInactiveUnits publishes the size of the inactive set.
func (m *Metrics) SetInactiveUnits(n int) {
	if m == nil {
		return
	}
	m.inactiveUnits.Set(float64(n))
}

// SequenceMismatch records a sequence discontinuity.
func (m *Metrics) SequenceMismatch(unit string) {
	if m == nil {
		return
	}
	m.sequenceGaps.WithLabelValues(unit).Inc()
}

// WorkerRestarted records a supervisor restart.
func (m *Metrics) WorkerRestarted(worker string) {
	if m == nil {
		return
	}
	m.workerRestarts.WithLabelValues(worker).Inc()
}
