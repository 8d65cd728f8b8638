package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus client metrics.
type PrometheusRecorder struct {
	connectionsTotal  *prometheus.CounterVec
	connectionsActive *prometheus.GaugeVec

	authAttemptsTotal *prometheus.CounterVec

	messagesDeliveredTotal prometheus.Counter
}

// NewPrometheusRecorder creates a PrometheusRecorder and registers its
// metrics against reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testmaild_connections_total",
			Help: "Total number of connections opened, by protocol.",
		}, []string{"protocol"}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "testmaild_connections_active",
			Help: "Number of currently active connections, by protocol.",
		}, []string{"protocol"}),
		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testmaild_auth_attempts_total",
			Help: "Total number of authentication attempts, by mechanism and result.",
		}, []string{"mechanism", "result"}),
		messagesDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "testmaild_messages_delivered_total",
			Help: "Total number of messages delivered via SMTP DATA.",
		}),
	}

	reg.MustRegister(
		r.connectionsTotal,
		r.connectionsActive,
		r.authAttemptsTotal,
		r.messagesDeliveredTotal,
	)
	return r
}

// IncConnections records a new connection for protocol.
func (r *PrometheusRecorder) IncConnections(protocol string) {
	r.connectionsTotal.WithLabelValues(protocol).Inc()
	r.connectionsActive.WithLabelValues(protocol).Inc()
}

// DecConnections records a closed connection for protocol.
func (r *PrometheusRecorder) DecConnections(protocol string) {
	r.connectionsActive.WithLabelValues(protocol).Dec()
}

// IncMessagesDelivered records a completed SMTP DATA delivery.
func (r *PrometheusRecorder) IncMessagesDelivered() {
	r.messagesDeliveredTotal.Inc()
}

// IncAuthAttempts records an authentication attempt outcome.
func (r *PrometheusRecorder) IncAuthAttempts(mechanism string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	r.authAttemptsTotal.WithLabelValues(mechanism, result).Inc()
}
