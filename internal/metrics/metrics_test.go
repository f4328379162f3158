package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/atlas-desktop/execution-pipeline/internal/metrics"
)

func TestObserveCycleExposedOnHandler(t *testing.T) {
	m := metrics.New()
	m.ObserveCycle("completed", 1.5)
	m.SetQueueDepth("evaluation", "waiting", 3)
	m.SetBreakerOpen("execute", true)
	m.ObserveEvaluation("completed")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()

	for _, want := range []string{
		`execution_pipeline_cycles_total{outcome="completed"} 1`,
		`execution_pipeline_queue_depth{queue="evaluation",state="waiting"} 3`,
		`execution_pipeline_breaker_open{breaker="execute"} 1`,
		`execution_pipeline_evaluations_total{result="completed"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q\n\ngot:\n%s", want, body)
		}
	}
}

func TestSetBreakerOpenToggles(t *testing.T) {
	m := metrics.New()
	m.SetBreakerOpen("execute", true)
	m.SetBreakerOpen("execute", false)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `execution_pipeline_breaker_open{breaker="execute"} 0`) {
		t.Error("expected breaker_open to reflect the most recent SetBreakerOpen call")
	}
}
