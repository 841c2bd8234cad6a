package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: допуски и отказы admission control
	AdmissionsTotal *prometheus.CounterVec

	// Errors/Signals: алерты по типу и серьезности
	AlertsRaised *prometheus.CounterVec

	// Операторские действия: pause/resume/promote с исходом
	LifecycleActions *prometheus.CounterVec

	// Latency обхода монитора
	SweepDuration prometheus.Histogram

	// Saturation: заполненность аудит-буфера (backpressure)
	AuditBufferFill prometheus.Gauge

	// Текущий размер парка по статусам (обновляет монитор)
	FleetSize *prometheus.GaugeVec
}

// IncLifecycleAction реализует lifecycle.MetricsSink.
func (m *Metrics) IncLifecycleAction(action, outcome string) {
	m.LifecycleActions.WithLabelValues(action, outcome).Inc()
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистратора метрики уходят в локальный реестр
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		AdmissionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "chipfleet_admissions_total",
			Help: "Send admission decisions.",
		}, []string{"outcome"}), // granted, denied_limit, denied_paused

		AlertsRaised: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "chipfleet_alerts_raised_total",
			Help: "Alerts raised by the anomaly detector.",
		}, []string{"type", "severity"}),

		LifecycleActions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "chipfleet_lifecycle_actions_total",
			Help: "Operator lifecycle actions by outcome.",
		}, []string{"action", "outcome"}), // succeeded, skipped, failed

		SweepDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "chipfleet_monitor_sweep_duration_seconds",
			Help:    "Histogram of fleet monitor sweep latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "chipfleet_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),

		FleetSize: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "chipfleet_fleet_size",
			Help: "Number of chips by status.",
		}, []string{"status"}),
	}
}
