package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecording(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordModelRequest("anthropic", "claude-sonnet-4-5", "success", 1.2, 500, 120)
	if got := testutil.ToFloat64(m.ModelRequests.WithLabelValues("anthropic", "claude-sonnet-4-5", "success")); got != 1 {
		t.Errorf("model requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ModelTokens.WithLabelValues("anthropic", "claude-sonnet-4-5", "input")); got != 500 {
		t.Errorf("input tokens = %v, want 500", got)
	}

	m.RecordToolExecution("send_message", "ok", 0.05)
	m.RecordToolExecution("send_message", "error", 0.02)
	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("send_message", "ok")); got != 1 {
		t.Errorf("tool ok count = %v, want 1", got)
	}

	m.SessionsEnded.WithLabelValues("front_desk", "completed").Inc()
	if got := testutil.ToFloat64(m.SessionsEnded.WithLabelValues("front_desk", "completed")); got != 1 {
		t.Errorf("sessions ended = %v, want 1", got)
	}
}
