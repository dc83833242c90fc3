package metrics //nolint:testpackage // reads collectors directly

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"beastbot/pkg/dispatcher"

	dto "github.com/prometheus/client_model/go"
)

func family(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not registered", name)
	return nil
}

func labelled(f *dto.MetricFamily, label, value string) *dto.Metric {
	for _, m := range f.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == label && l.GetValue() == value {
				return m
			}
		}
	}
	return nil
}

func TestMetrics_RecordsTasks(t *testing.T) {
	m := New()
	m.TaskStarted()
	m.TaskStarted()
	m.SetActive(2)
	m.TaskFinished(dispatcher.OutcomeSuccess, 90*time.Second)
	m.TaskFinished(dispatcher.OutcomeTimeout, 31*time.Minute)
	m.SetActive(0)

	if got := family(t, m, "beastbot_tasks_started_total").GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("started = %v, want 2", got)
	}
	finished := family(t, m, "beastbot_tasks_finished_total")
	for outcome, want := range map[string]float64{
		dispatcher.OutcomeSuccess: 1,
		dispatcher.OutcomeTimeout: 1,
		dispatcher.OutcomeError:   0,
	} {
		metric := labelled(finished, "outcome", outcome)
		if metric == nil {
			t.Errorf("outcome %s not exported", outcome)
			continue
		}
		if got := metric.GetCounter().GetValue(); got != want {
			t.Errorf("outcome %s = %v, want %v", outcome, got, want)
		}
	}
	hist := family(t, m, "beastbot_task_duration_seconds").GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 2 || hist.GetSampleSum() != 90+31*60 {
		t.Errorf("histogram count %d sum %v", hist.GetSampleCount(), hist.GetSampleSum())
	}
	if got := family(t, m, "beastbot_active_tasks").GetMetric()[0].GetGauge().GetValue(); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
}

func TestMetrics_SchedulerPasses(t *testing.T) {
	m := New()
	m.SchedulerPass(nil)
	m.SchedulerPass(nil)
	m.SchedulerPass(errors.New("locked"))

	f := family(t, m, "beastbot_scheduler_passes_total")
	if got := labelled(f, "result", "ok").GetCounter().GetValue(); got != 2 {
		t.Errorf("ok = %v", got)
	}
	if got := labelled(f, "result", "error").GetCounter().GetValue(); got != 1 {
		t.Errorf("error = %v", got)
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.TaskStarted()
	m.TaskFinished(dispatcher.OutcomeError, time.Second)
	m.SetActive(1)
	m.SchedulerPass(nil)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.TaskStarted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "beastbot_tasks_started_total 1") {
		t.Errorf("exposition missing counter:\n%s", body)
	}
}
