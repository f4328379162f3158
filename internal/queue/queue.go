// Package queue implements the durable evaluation-job queue: at-least-once
// delivery, priority scheduling, exponential backoff retry, and stall
// detection for jobs whose claiming worker goes silent.
package queue

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/execution-pipeline/pkg/types"
)

// State is a job's position in its lifecycle.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var (
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("queue: closed")
	// ErrNotFound is returned when a job id has no active claim.
	ErrNotFound = errors.New("queue: job not found")
	// ErrTokenMismatch guards against a stalled worker completing a job
	// after it has already been redelivered under a new attempt token.
	ErrTokenMismatch = errors.New("queue: attempt token mismatch")
)

// EnqueueOptions configures one job's scheduling and retention.
type EnqueueOptions struct {
	JobID           string // idempotent submit key; generated if empty
	Priority        int    // higher runs first
	Attempts        int    // attempt limit, default 3
	BackoffBase     time.Duration
	RetainCompleted types.RetentionPolicy
	RetainFailed    types.RetentionPolicy
}

// Counts is the queue's aggregate state snapshot.
type Counts struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Delayed   int
}

// Claim is a job handed to a worker. Token identifies this specific
// attempt; Complete/Fail/Heartbeat must present it so a stalled worker
// that wakes up after redelivery cannot clobber the new attempt's result.
type Claim struct {
	JobID   string
	Attempt int
	Token   string
	Payload types.EvaluationJob
}

type record struct {
	id              string
	payload         types.EvaluationJob
	priority        int
	attempt         int
	attemptLimit    int
	backoffBase     time.Duration
	retainCompleted types.RetentionPolicy
	retainFailed    types.RetentionPolicy
	state           State
	enqueuedAt      time.Time
	readyAt         time.Time
	token           string
	lockExpiry      time.Time
	stallCount      int
	result          *types.EvaluationResult
	failErr         error
	seq             int
}

// priorityHeap orders waiting jobs by priority desc, then FIFO.
type priorityHeap []*record

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*record)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Queue is a single named durable job queue.
type Queue struct {
	mu             sync.Mutex
	name           string
	waiting        *priorityHeap
	delayed        []*record
	active         map[string]*record
	completed      []*record
	failed         []*record
	byJobID        map[string]*record
	maxStalled     int
	paused         bool
	closed         bool
	seq            int
	now            func() time.Time
	tokenGen       func() string
}

// Config configures queue-wide defaults not overridden per job.
type Config struct {
	MaxStalledRedeliveries int
}

// New creates an empty, running Queue.
func New(name string, cfg Config) *Queue {
	maxStalled := cfg.MaxStalledRedeliveries
	if maxStalled <= 0 {
		maxStalled = 3
	}
	h := &priorityHeap{}
	heap.Init(h)
	return &Queue{
		name:       name,
		waiting:    h,
		active:     make(map[string]*record),
		byJobID:    make(map[string]*record),
		maxStalled: maxStalled,
		now:        time.Now,
		tokenGen:   newToken,
	}
}

var tokenSeq struct {
	mu sync.Mutex
	n  int64
}

func newToken() string {
	tokenSeq.mu.Lock()
	tokenSeq.n++
	n := tokenSeq.n
	tokenSeq.mu.Unlock()
	return fmt.Sprintf("tok-%d-%d", time.Now().UnixNano(), n)
}

// Enqueue submits a job. A resubmit with a JobID already present in any
// non-terminal or completed state returns the existing id without
// creating a duplicate (idempotent submit).
func (q *Queue) Enqueue(payload types.EvaluationJob, opts EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrClosed
	}

	id := opts.JobID
	if id == "" {
		id = fmt.Sprintf("%s-%d", q.name, q.seq+1)
	}
	if existing, ok := q.byJobID[id]; ok {
		return existing.id, nil
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := opts.BackoffBase
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	q.seq++
	rec := &record{
		id:              id,
		payload:         payload,
		priority:        opts.Priority,
		attempt:         0,
		attemptLimit:    attempts,
		backoffBase:     backoff,
		retainCompleted: opts.RetainCompleted,
		retainFailed:    opts.RetainFailed,
		state:           StateWaiting,
		enqueuedAt:      q.now(),
		seq:             q.seq,
	}
	q.byJobID[id] = rec
	heap.Push(q.waiting, rec)
	return id, nil
}

// Claim pops the highest-priority ready job and marks it active under
// lockDuration. Delayed jobs whose backoff window has elapsed are
// promoted to waiting before the pop.
func (q *Queue) Claim(lockDuration time.Duration) (*Claim, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.paused {
		return nil, false
	}

	q.promoteDueDelayedLocked()

	if q.waiting.Len() == 0 {
		return nil, false
	}
	rec := heap.Pop(q.waiting).(*record)
	rec.attempt++
	rec.state = StateActive
	rec.token = q.tokenGen()
	rec.lockExpiry = q.now().Add(lockDuration)
	q.active[rec.id] = rec

	return &Claim{JobID: rec.id, Attempt: rec.attempt, Token: rec.token, Payload: rec.payload}, true
}

func (q *Queue) promoteDueDelayedLocked() {
	now := q.now()
	remaining := q.delayed[:0]
	for _, rec := range q.delayed {
		if !rec.readyAt.After(now) {
			rec.state = StateWaiting
			heap.Push(q.waiting, rec)
		} else {
			remaining = append(remaining, rec)
		}
	}
	q.delayed = remaining
}

// Heartbeat extends an active job's lock, resetting stall timing for a
// long-running job.
func (q *Queue) Heartbeat(jobID, token string, lockDuration time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.active[jobID]
	if !ok {
		return ErrNotFound
	}
	if rec.token != token {
		return ErrTokenMismatch
	}
	rec.lockExpiry = q.now().Add(lockDuration)
	return nil
}

// Complete records a successful result, keyed by (jobId, attempt): a
// stale attempt token (superseded by redelivery) is rejected.
func (q *Queue) Complete(jobID, token string, result *types.EvaluationResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.active[jobID]
	if !ok {
		return ErrNotFound
	}
	if rec.token != token {
		return ErrTokenMismatch
	}
	delete(q.active, jobID)
	rec.state = StateCompleted
	rec.result = result
	q.completed = appendRetained(q.completed, rec, rec.retainCompleted)
	return nil
}

// Fail records a failed attempt. If attempts remain, the job is
// rescheduled after an exponential backoff delay; otherwise it moves to
// the terminal failed set and is never retried.
func (q *Queue) Fail(jobID, token string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.active[jobID]
	if !ok {
		return ErrNotFound
	}
	if rec.token != token {
		return ErrTokenMismatch
	}
	delete(q.active, jobID)
	q.failOrRescheduleLocked(rec, cause)
	return nil
}

func (q *Queue) failOrRescheduleLocked(rec *record, cause error) {
	if rec.attempt >= rec.attemptLimit {
		rec.state = StateFailed
		rec.failErr = cause
		q.failed = appendRetained(q.failed, rec, rec.retainFailed)
		return
	}
	delay := BackoffDelay(rec.backoffBase, rec.attempt)
	rec.state = StateDelayed
	rec.readyAt = q.now().Add(delay)
	q.delayed = append(q.delayed, rec)
}

// BackoffDelay computes the exponential backoff delay for attempt n
// (1-indexed): base * 2^(n-1).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := int64(1) << uint(attempt-1)
	return base * time.Duration(mult)
}

// CheckStalled scans active jobs whose lock has expired without a
// heartbeat/terminal event and redelivers them (or fails them terminally
// past maxStalledRedeliveries). Returns the job ids that stalled.
func (q *Queue) CheckStalled() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var stalled []string
	for id, rec := range q.active {
		if rec.lockExpiry.After(now) {
			continue
		}
		stalled = append(stalled, id)
		delete(q.active, id)
		rec.stallCount++
		if rec.stallCount > q.maxStalled {
			q.failOrRescheduleLocked(rec, errors.New("queue: max stalled redeliveries exceeded"))
			continue
		}
		rec.state = StateWaiting
		heap.Push(q.waiting, rec)
	}
	return stalled
}

func appendRetained(list []*record, rec *record, policy types.RetentionPolicy) []*record {
	list = append(list, rec)
	if policy.Count > 0 && len(list) > policy.Count {
		list = list[len(list)-policy.Count:]
	}
	return list
}

// Counts returns the aggregate job-state snapshot.
func (q *Queue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Counts{
		Waiting:   q.waiting.Len(),
		Active:    len(q.active),
		Completed: len(q.completed),
		Failed:    len(q.failed),
		Delayed:   len(q.delayed),
	}
}

// Pause stops new claims from succeeding; in-flight jobs are unaffected.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume re-enables claims after Pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
}

// Close marks the queue closed; subsequent Enqueue/Claim calls fail.
// Already-active jobs are left to complete or stall-expire.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
