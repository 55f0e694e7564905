package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	MessagesReceived       *prometheus.CounterVec
	RepliesSent            *prometheus.CounterVec
	GreetedSendersCount    prometheus.Gauge
	SessionState           prometheus.Gauge
	SessionTransitions     *prometheus.CounterVec
	ReconnectAttempts      prometheus.Counter
	SendDuration           *prometheus.HistogramVec
	CooldownSweepDuration  prometheus.Histogram
	RedisOperationDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbound_messages_total",
			Help: "Total number of inbound messages by dispatch outcome",
		}, []string{"result"}),
		RepliesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replies_sent_total",
			Help: "Total number of outbound replies by kind and status",
		}, []string{"kind", "status"}),
		GreetedSendersCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "greeted_senders_count",
			Help: "Current number of senders inside the greeting cool-down",
		}),
		SessionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "session_state",
			Help: "Current session state (0 disconnected, 1 awaiting_qr, 2 authenticated, 3 ready)",
		}),
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "session_transitions_total",
			Help: "Total number of session state transitions by target state",
		}, []string{"state"}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "session_reconnect_attempts_total",
			Help: "Total number of session reinitialization attempts",
		}),
		SendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "send_duration_seconds",
			Help:    "Time taken for outbound sends",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		CooldownSweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cooldown_sweep_duration_seconds",
			Help:    "Time taken to sweep expired cool-down entries",
			Buckets: prometheus.DefBuckets,
		}),
		RedisOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Time taken for Redis operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}
