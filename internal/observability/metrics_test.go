package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorRecordsPhasesAndInstructions(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.ObservePhase("fund", 250*time.Millisecond)
	collector.IncInstruction("fund", nil)
	collector.IncInstruction("fund", nil)
	collector.IncInstruction("fund", errors.New("boom"))
	collector.IncSetupFailure("fund")

	if got := testutil.ToFloat64(collector.Instructions.WithLabelValues("fund", "ok")); got != 2 {
		t.Fatalf("sim_instructions_total{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Instructions.WithLabelValues("fund", "error")); got != 1 {
		t.Fatalf("sim_instructions_total{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.SetupFailures.WithLabelValues("fund")); got != 1 {
		t.Fatalf("sim_setup_failures_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "sim_phase_duration_seconds", map[string]string{"phase": "fund"}); count != 1 {
		t.Fatalf("sim_phase_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestCollectorTeardownAndEmulatorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.SetLifecycleState(8)
	collector.IncProcessExit(nil)
	collector.IncProcessExit(errors.New("wait"))
	collector.IncTaskJoin(nil)
	collector.IncPayment(nil)
	collector.IncPayment(errors.New("no route"))
	collector.IncEvent("CloseChannel")

	if got := testutil.ToFloat64(collector.LifecycleState); got != 8 {
		t.Fatalf("sim_lifecycle_state = %v, want 8", got)
	}
	if got := testutil.ToFloat64(collector.ProcessExits.WithLabelValues("wait_failed")); got != 1 {
		t.Fatalf("sim_process_exits_total{wait_failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Payments.WithLabelValues("error")); got != 1 {
		t.Fatalf("sim_payments_total{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.EventsFired.WithLabelValues("CloseChannel")); got != 1 {
		t.Fatalf("sim_events_fired_total = %v, want 1", got)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}
	first.IncTaskJoin(nil)
	if got := testutil.ToFloat64(second.TaskJoins.WithLabelValues("ok")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *SimCollector
	c.ObservePhase("x", time.Second)
	c.IncInstruction("x", nil)
	c.IncSetupFailure("x")
	c.SetLifecycleState(1)
	c.IncProcessExit(nil)
	c.IncTaskJoin(nil)
	c.IncPayment(nil)
	c.IncEvent("x")
	if c.Gatherer() != nil {
		t.Fatalf("nil collector gatherer should be nil")
	}
}

func TestMetricsHandlerExposesSimMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	collector.ObservePhase("connect", time.Millisecond)
	collector.IncInstruction("connect", nil)
	collector.SetLifecycleState(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"sim_phase_duration_seconds",
		"sim_instructions_total",
		"sim_lifecycle_state 3",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
