package workers_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/queue"
	"github.com/atlas-desktop/execution-pipeline/internal/workers"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"go.uber.org/zap"
)

func TestSupervisorCompletesJobs(t *testing.T) {
	q := queue.New("evals", queue.Config{})
	handler := func(_ context.Context, job types.EvaluationJob) (*types.EvaluationResult, error) {
		return &types.EvaluationResult{JobID: job.ID, Success: true}, nil
	}

	sup := workers.NewPoolSupervisor(zap.NewNop(), q, handler, workers.SupervisorConfig{
		Concurrency:  2,
		LockDuration: time.Second,
	})
	sup.Start()
	defer sup.Stop()

	for i := 0; i < 5; i++ {
		if _, err := sup.AddJob(types.EvaluationJob{ID: "job"}, 0, ""); err != nil {
			t.Fatalf("AddJob failed: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		if sup.Stats().Queue.Completed == 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("jobs did not complete in time: %+v", sup.Stats().Queue)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestGracefulStopScenario implements scenario S6: in-flight jobs finish,
// no new claims are made once Stop is called, and the pool reports clean.
func TestGracefulStopScenario(t *testing.T) {
	q := queue.New("evals", queue.Config{})

	var started, finished int64
	handler := func(_ context.Context, job types.EvaluationJob) (*types.EvaluationResult, error) {
		atomic.AddInt64(&started, 1)
		time.Sleep(500 * time.Millisecond)
		atomic.AddInt64(&finished, 1)
		return &types.EvaluationResult{JobID: job.ID, Success: true}, nil
	}

	sup := workers.NewPoolSupervisor(zap.NewNop(), q, handler, workers.SupervisorConfig{
		Concurrency:   2,
		LockDuration:  5 * time.Second,
		DrainDeadline: 3 * time.Second,
	})
	sup.Start()

	for i := 0; i < 10; i++ {
		if _, err := sup.AddJob(types.EvaluationJob{ID: "job"}, 0, ""); err != nil {
			t.Fatalf("AddJob failed: %v", err)
		}
	}

	time.Sleep(1 * time.Second)
	sup.Stop()

	if sup.IsRunning() {
		t.Fatal("supervisor should report stopped")
	}
	if atomic.LoadInt64(&started) != atomic.LoadInt64(&finished) {
		t.Fatalf("in-flight jobs should all finish before Stop returns: started=%d finished=%d",
			started, finished)
	}
}
