package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordInvocation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordInvocation("researcher", "success", 1.2, 100, 40)
	m.RecordInvocation("researcher", "error", 0.1, 0, 0)

	if got := testutil.ToFloat64(m.AgentInvocations.WithLabelValues("researcher", "success")); got != 1 {
		t.Errorf("success count = %v", got)
	}
	if got := testutil.ToFloat64(m.TokensUsed.WithLabelValues("researcher", "input")); got != 100 {
		t.Errorf("input tokens = %v", got)
	}
}

func TestRecordDispatchAndTrigger(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDispatch("chat", "helper")
	m.RecordTriggerFire("cron", "helper")
	m.RecordToolExecution("echo", "success")

	if got := testutil.ToFloat64(m.ConnectorDispatches.WithLabelValues("chat", "helper")); got != 1 {
		t.Errorf("dispatch count = %v", got)
	}
	if got := testutil.ToFloat64(m.TriggerFires.WithLabelValues("cron", "helper")); got != 1 {
		t.Errorf("trigger count = %v", got)
	}
}
