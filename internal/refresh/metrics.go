package refresh

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/queuewatch/internal/board"
)

// Metrics holds Prometheus metrics for the refresh loop and board state.
type Metrics struct {
	RefreshesTotal   *prometheus.CounterVec
	RefreshDuration  *prometheus.HistogramVec
	RefreshRecords   prometheus.Histogram
	Queues           *prometheus.GaugeVec
	AttentionQueues  prometheus.Gauge
	Generation       prometheus.Gauge
	AcksTotal        *prometheus.CounterVec
	EscalationsTotal prometheus.Counter
	NotifyTotal      *prometheus.CounterVec
	BriefingsTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns refresh metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuewatch_refreshes_total",
			Help: "Total refresh attempts by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queuewatch_refresh_duration_seconds",
			Help:    "Duration of refresh attempts in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}, []string{"outcome"}),
		RefreshRecords: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "queuewatch_refresh_records",
			Help:    "Queue records received per refresh.",
			Buckets: prometheus.ExponentialBuckets(8, 2, 10), // 8 .. ~4096
		}),
		Queues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queuewatch_queues",
			Help: "Current queues by severity.",
		}, []string{"severity"}),
		AttentionQueues: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queuewatch_attention_queues",
			Help: "Unacknowledged warning or critical queues.",
		}),
		Generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queuewatch_registry_generation",
			Help: "Generation of the applied refresh.",
		}),
		AcksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuewatch_acks_total",
			Help: "Acknowledgement toggles by resulting state.",
		}, []string{"state"}),
		EscalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queuewatch_escalations_total",
			Help: "Queues that became critical while unacknowledged.",
		}),
		NotifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuewatch_notifications_total",
			Help: "Escalation notifications by result.",
		}, []string{"result"}),
		BriefingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuewatch_briefings_total",
			Help: "Shift briefings by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RefreshesTotal,
		m.RefreshDuration,
		m.RefreshRecords,
		m.Queues,
		m.AttentionQueues,
		m.Generation,
		m.AcksTotal,
		m.EscalationsTotal,
		m.NotifyTotal,
		m.BriefingsTotal,
	)

	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Hooks returns session Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnRefresh: func(e *RefreshEvent) {
			m.RefreshesTotal.WithLabelValues(string(e.Trigger), string(e.Outcome)).Inc()
			m.RefreshDuration.WithLabelValues(string(e.Outcome)).Observe(e.Duration)
			if e.Outcome == board.OutcomeSuccess {
				m.RefreshRecords.Observe(float64(e.Records))
				m.Generation.Set(float64(e.Generation))
			}
			m.EscalationsTotal.Add(float64(e.Escalated))
		},
		OnBoard: func(c board.Counts, attention int) {
			m.Queues.WithLabelValues(string(board.SeverityCritical)).Set(float64(c.Critical))
			m.Queues.WithLabelValues(string(board.SeverityWarning)).Set(float64(c.Warning))
			m.Queues.WithLabelValues(string(board.SeverityOff)).Set(float64(c.Off))
			m.Queues.WithLabelValues(string(board.SeverityOK)).Set(float64(c.OK))
			m.AttentionQueues.Set(float64(attention))
		},
		OnAck: func(acknowledged bool) {
			state := "removed"
			if acknowledged {
				state = "acknowledged"
			}
			m.AcksTotal.WithLabelValues(state).Inc()
		},
		OnNotify: func(err error) {
			m.NotifyTotal.WithLabelValues(result(err)).Inc()
		},
		OnBriefing: func(err error) {
			m.BriefingsTotal.WithLabelValues(result(err)).Inc()
		},
	}
}
