package queue_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/queue"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
)

func TestBackoffDelayDoubles(t *testing.T) {
	base := 5 * time.Second
	cases := map[int]time.Duration{
		1: 5 * time.Second,
		2: 10 * time.Second,
		3: 20 * time.Second,
		4: 40 * time.Second,
	}
	for attempt, want := range cases {
		got := queue.BackoffDelay(base, attempt)
		if got != want {
			t.Errorf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestAttemptsExhaustedNeverRetried(t *testing.T) {
	q := queue.New("evals", queue.Config{MaxStalledRedeliveries: 3})

	id, err := q.Enqueue(types.EvaluationJob{ID: "j1"}, queue.EnqueueOptions{Attempts: 2, BackoffBase: time.Millisecond})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		claim, ok := q.Claim(time.Second)
		if !ok {
			t.Fatalf("expected claim %d to succeed", i+1)
		}
		if err := q.Fail(claim.JobID, claim.Token, assertErr); err != nil {
			t.Fatalf("Fail failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond) // let backoff delay elapse
	}

	if _, ok := q.Claim(time.Second); ok {
		t.Fatal("job should not be claimable after attempts exhausted")
	}

	counts := q.Counts()
	if counts.Failed != 1 {
		t.Fatalf("expected 1 terminally failed job, got %d", counts.Failed)
	}
	_ = id
}

var assertErr = queue.ErrNotFound // reused as a stand-in failure cause

func TestEnqueueIsIdempotentByJobID(t *testing.T) {
	q := queue.New("evals", queue.Config{})

	id1, err := q.Enqueue(types.EvaluationJob{ID: "dup"}, queue.EnqueueOptions{JobID: "fixed-id"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	id2, err := q.Enqueue(types.EvaluationJob{ID: "dup"}, queue.EnqueueOptions{JobID: "fixed-id"})
	if err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected idempotent submit to return same id, got %s and %s", id1, id2)
	}
	if q.Counts().Waiting != 1 {
		t.Fatalf("expected exactly 1 waiting job, got %d", q.Counts().Waiting)
	}
}

// TestStallRedeliveryScenario implements scenario S3: a worker claims a
// job, never heartbeats or completes it, and a short lock duration
// forces redelivery to a second claimant.
func TestStallRedeliveryScenario(t *testing.T) {
	q := queue.New("evals", queue.Config{MaxStalledRedeliveries: 3})

	if _, err := q.Enqueue(types.EvaluationJob{ID: "stall-me"}, queue.EnqueueOptions{JobID: "stall-me", Attempts: 3, BackoffBase: time.Millisecond}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	claimA, ok := q.Claim(50 * time.Millisecond) // short lock duration
	if !ok {
		t.Fatal("worker A failed to claim job")
	}
	if claimA.Attempt != 1 {
		t.Fatalf("expected first attempt, got %d", claimA.Attempt)
	}

	// Worker A "dies": never heartbeats, completes, or fails.
	time.Sleep(60 * time.Millisecond)

	stalled := q.CheckStalled()
	if len(stalled) != 1 || stalled[0] != "stall-me" {
		t.Fatalf("expected job to be detected stalled, got %v", stalled)
	}

	claimB, ok := q.Claim(time.Second)
	if !ok {
		t.Fatal("worker B failed to claim redelivered job")
	}
	if claimB.Attempt != 2 {
		t.Fatalf("expected second attempt after redelivery, got %d", claimB.Attempt)
	}
	if claimB.Token == claimA.Token {
		t.Fatal("redelivered claim must carry a fresh token")
	}

	// Worker A's stale completion must be rejected: the attempt moved on.
	if err := q.Complete(claimA.JobID, claimA.Token, &types.EvaluationResult{JobID: claimA.JobID}); err == nil {
		t.Fatal("expected stale completion from worker A to be rejected")
	}

	if err := q.Complete(claimB.JobID, claimB.Token, &types.EvaluationResult{JobID: claimB.JobID}); err != nil {
		t.Fatalf("worker B's completion should succeed: %v", err)
	}

	counts := q.Counts()
	if counts.Completed != 1 {
		t.Fatalf("expected exactly one completed job, got %d", counts.Completed)
	}
	if counts.Active != 0 {
		t.Fatalf("expected no active jobs remaining, got %d", counts.Active)
	}
}

func TestPauseBlocksClaims(t *testing.T) {
	q := queue.New("evals", queue.Config{})
	if _, err := q.Enqueue(types.EvaluationJob{ID: "j"}, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	q.Pause()
	if _, ok := q.Claim(time.Second); ok {
		t.Fatal("claim should not succeed while paused")
	}
	q.Resume()
	if _, ok := q.Claim(time.Second); !ok {
		t.Fatal("claim should succeed after resume")
	}
}
