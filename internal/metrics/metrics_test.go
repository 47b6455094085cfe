package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTaskOutcome(t *testing.T) {
	before := testutil.ToFloat64(tasksFinished.WithLabelValues("coder", "completed"))
	RecordTaskOutcome("coder", "completed")
	RecordTaskOutcome("coder", "completed")
	after := testutil.ToFloat64(tasksFinished.WithLabelValues("coder", "completed"))
	if after-before != 2 {
		t.Errorf("expected counter to grow by 2, grew by %v", after-before)
	}
}

func TestEnqueuedDefaultsToAnyRole(t *testing.T) {
	before := testutil.ToFloat64(tasksEnqueued.WithLabelValues("any"))
	RecordEnqueued("")
	if got := testutil.ToFloat64(tasksEnqueued.WithLabelValues("any")); got-before != 1 {
		t.Errorf("unlabelled task should count under role=any")
	}
}

func TestRecordAgentTransition(t *testing.T) {
	idle := func() float64 { return testutil.ToFloat64(agentsLive.WithLabelValues("idle")) }
	working := func() float64 { return testutil.ToFloat64(agentsLive.WithLabelValues("working")) }

	i0, w0 := idle(), working()
	RecordAgentTransition("", "idle")
	RecordAgentTransition("idle", "working")
	RecordAgentTransition("working", "working")

	if idle() != i0 || working() != w0+1 {
		t.Errorf("gauges: idle %v->%v, working %v->%v", i0, idle(), w0, working())
	}
	RecordAgentTransition("working", "")
	if working() != w0 {
		t.Errorf("agent removal should decrement its status gauge")
	}
}

func TestRecordCostIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(backendCost.WithLabelValues("none"))
	RecordCost("none", 0)
	RecordCost("none", 0.25)
	if got := testutil.ToFloat64(backendCost.WithLabelValues("none")); got-before != 0.25 {
		t.Errorf("cost grew by %v, want 0.25", got-before)
	}
}
