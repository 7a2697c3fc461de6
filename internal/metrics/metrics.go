// Package metrics exposes Prometheus instruments for the fire monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/afroash/fire-monitor/internal/adaptive"
	"github.com/afroash/fire-monitor/internal/models"
)

const namespace = "fire_monitor"

// Metrics holds every instrument. Construct it once per registry.
type Metrics struct {
	ReadingsTotal    *prometheus.CounterVec
	DetectionsTotal  *prometheus.CounterVec
	FireProbability  *prometheus.GaugeVec
	DetectDuration   prometheus.Histogram
	AdaptationsTotal *prometheus.CounterVec
	RollbacksTotal   *prometheus.CounterVec
	LearningPhase    *prometheus.GaugeVec
	LearnedSamples   prometheus.Gauge
	ThresholdVersion prometheus.Gauge
	EventsDropped    prometheus.Counter
	ActiveSensors    prometheus.Gauge
}

// New registers the instruments on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// result: processed, invalid
		ReadingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Readings received, by outcome",
		}, []string{"result"}),

		DetectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "results_total",
			Help:      "Detection results by alert level",
		}, []string{"level"}),

		FireProbability: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "fire_probability",
			Help:      "Latest fire probability per sensor",
		}, []string{"sensor_id"}),

		DetectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "detect_duration_seconds",
			Help:      "Time spent detecting one reading",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),

		// outcome: applied, skipped, error
		AdaptationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adaptive",
			Name:      "adaptations_total",
			Help:      "Adaptation passes by outcome",
		}, []string{"outcome"}),

		// reason: manual, alarm_spike
		RollbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adaptive",
			Name:      "rollbacks_total",
			Help:      "Threshold rollbacks by reason",
		}, []string{"reason"}),

		LearningPhase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "adaptive",
			Name:      "learning_phase",
			Help:      "1 for the current learning phase, 0 otherwise",
		}, []string{"phase"}),

		LearnedSamples: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "adaptive",
			Name:      "samples",
			Help:      "Readings accepted into the learned statistics",
		}),

		ThresholdVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "adaptive",
			Name:      "threshold_version",
			Help:      "Active threshold version, 0 for the standard set",
		}),

		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "events_dropped_total",
			Help:      "Detection events dropped because the writer queue was full",
		}),

		ActiveSensors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Open sensor gateway connections",
		}),
	}
}

// ObserveResult records one detection result
func (m *Metrics) ObserveResult(res models.FireDetectionResult) {
	m.DetectionsTotal.WithLabelValues(res.AlertLevel.String()).Inc()
	m.FireProbability.WithLabelValues(res.SensorID).Set(res.FireProbability)
}

// ObserveStatus mirrors the adaptive status into gauges
func (m *Metrics) ObserveStatus(st adaptive.Status, version uint32) {
	for _, phase := range adaptive.LearningPhases {
		v := 0.0
		if phase == st.LearningPhase {
			v = 1
		}
		m.LearningPhase.WithLabelValues(string(phase)).Set(v)
	}
	m.LearnedSamples.Set(float64(st.TotalSamples))
	m.ThresholdVersion.Set(float64(version))
}
