package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewPrometheusRecorderRegistersWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusRecorder(reg)
}

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := <-ch
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}

func TestIncConnectionsIncrementsTotalAndActive(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncConnections("smtp")
	r.IncConnections("smtp")

	if got := counterValue(t, r.connectionsTotal.WithLabelValues("smtp")); got != 2 {
		t.Fatalf("expected connectionsTotal=2, got %v", got)
	}
	if got := counterValue(t, r.connectionsActive.WithLabelValues("smtp")); got != 2 {
		t.Fatalf("expected connectionsActive=2, got %v", got)
	}

	r.DecConnections("smtp")
	if got := counterValue(t, r.connectionsActive.WithLabelValues("smtp")); got != 1 {
		t.Fatalf("expected connectionsActive=1 after Dec, got %v", got)
	}
}

func TestIncAuthAttemptsLabelsSuccessAndFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncAuthAttempts("PLAIN", true)
	r.IncAuthAttempts("PLAIN", false)

	if got := counterValue(t, r.authAttemptsTotal.WithLabelValues("PLAIN", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := counterValue(t, r.authAttemptsTotal.WithLabelValues("PLAIN", "failure")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestIncMessagesDelivered(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncMessagesDelivered()
	r.IncMessagesDelivered()

	if got := counterValue(t, r.messagesDeliveredTotal); got != 2 {
		t.Fatalf("expected 2 delivered, got %v", got)
	}
}
