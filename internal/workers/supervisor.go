package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/queue"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func decimalFromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// PanicError wraps a recovered handler panic so it flows through the
// supervisor's typed error path instead of crashing the claim loop.
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("evaluation handler panicked: %v", e.Recovered)
}

// WorkerEventKind tags the pool supervisor's typed event stream.
type WorkerEventKind string

const (
	WorkerEventReady     WorkerEventKind = "ready"
	WorkerEventActive    WorkerEventKind = "active"
	WorkerEventProgress  WorkerEventKind = "progress"
	WorkerEventCompleted WorkerEventKind = "completed"
	WorkerEventFailed    WorkerEventKind = "failed"
	WorkerEventStalled   WorkerEventKind = "stalled"
	WorkerEventError     WorkerEventKind = "error"
)

// WorkerEvent is one emission on the supervisor's event channel. At most
// one terminal event (completed|failed) is ever emitted per (jobId, attempt).
type WorkerEvent struct {
	Kind     WorkerEventKind
	JobID    string
	Attempt  int
	Result   *types.EvaluationResult
	Err      error
	Progress int
	At       time.Time
}

// Handler runs one evaluation job to completion. It must not perform
// real I/O that could block indefinitely — the backtest engine it wraps
// is pure replay.
type Handler func(ctx context.Context, job types.EvaluationJob) (*types.EvaluationResult, error)

// SupervisorConfig configures the pool supervisor per §4.2's contract.
type SupervisorConfig struct {
	Concurrency            int
	LockDuration           time.Duration
	StalledCheckInterval   time.Duration
	MaxStalledRedeliveries int
	DrainDeadline          time.Duration
	Attempts               int
	BackoffBase            time.Duration
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 30 * time.Second
	}
	if c.StalledCheckInterval <= 0 {
		c.StalledCheckInterval = 5 * time.Second
	}
	if c.MaxStalledRedeliveries <= 0 {
		c.MaxStalledRedeliveries = 3
	}
	if c.DrainDeadline <= 0 {
		c.DrainDeadline = 10 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	return c
}

// aggStats is the supervisor-wide rolling statistics it reports via
// Stats(), mirroring §3's Worker Statistics record.
type aggStats struct {
	mu                sync.Mutex
	processed         int64
	failed            int64
	active            int64
	processingTimesMs []int64 // ring buffer, last 100
	lastProcessedAt   *time.Time
	lastFailedAt      *time.Time
}

func (s *aggStats) recordSuccess(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.processed++
	s.lastProcessedAt = &now
	s.pushLatencyLocked(elapsed.Milliseconds())
}

func (s *aggStats) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.failed++
	s.lastFailedAt = &now
}

func (s *aggStats) pushLatencyLocked(ms int64) {
	const window = 100
	s.processingTimesMs = append(s.processingTimesMs, ms)
	if len(s.processingTimesMs) > window {
		s.processingTimesMs = s.processingTimesMs[len(s.processingTimesMs)-window:]
	}
}

func (s *aggStats) snapshot(active int) types.WorkerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg int64
	if n := len(s.processingTimesMs); n > 0 {
		var sum int64
		for _, v := range s.processingTimesMs {
			sum += v
		}
		avg = sum / int64(n)
	}

	times := make([]int64, len(s.processingTimesMs))
	copy(times, s.processingTimesMs)

	return types.WorkerStats{
		Processed:           s.processed,
		Failed:              s.failed,
		Active:              active,
		ProcessingTimesMs:   times,
		AvgProcessingTimeMs: decimalFromInt(avg),
		LastProcessedAt:     s.lastProcessedAt,
		LastFailedAt:        s.lastFailedAt,
	}
}

// PoolSupervisor owns N concurrent claim-and-process workers over one
// durable queue, plus stall detection and graceful drain on Stop.
type PoolSupervisor struct {
	logger  *zap.Logger
	queue   *queue.Queue
	handler Handler
	cfg     SupervisorConfig
	events  chan WorkerEvent

	stats     aggStats
	running   atomic.Bool
	activeNow atomic.Int64
	startedAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPoolSupervisor creates a supervisor over q, driving handler for
// every claimed job.
func NewPoolSupervisor(logger *zap.Logger, q *queue.Queue, handler Handler, cfg SupervisorConfig) *PoolSupervisor {
	return &PoolSupervisor{
		logger:  logger,
		queue:   q,
		handler: handler,
		cfg:     cfg.withDefaults(),
		events:  make(chan WorkerEvent, 256),
	}
}

// Events returns the supervisor's typed event stream.
func (s *PoolSupervisor) Events() <-chan WorkerEvent { return s.events }

// Start launches the worker goroutines and the stall-check loop.
func (s *PoolSupervisor) Start() {
	if s.running.Swap(true) {
		return
	}
	s.startedAt = time.Now()
	s.stopCh = make(chan struct{})

	s.logger.Info("pool supervisor starting",
		zap.Int("concurrency", s.cfg.Concurrency),
		zap.Duration("lockDuration", s.cfg.LockDuration),
	)

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.claimLoop(i)
	}
	s.wg.Add(1)
	go s.stalledLoop()

	s.emit(WorkerEvent{Kind: WorkerEventReady, At: time.Now()})
}

func (s *PoolSupervisor) claimLoop(_ int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		claim, ok := s.queue.Claim(s.cfg.LockDuration)
		if !ok {
			select {
			case <-s.stopCh:
				return
			case <-time.After(20 * time.Millisecond):
				continue
			}
		}

		s.process(claim)
	}
}

func (s *PoolSupervisor) process(claim *queue.Claim) {
	s.activeNow.Add(1)
	defer s.activeNow.Add(-1)

	s.emit(WorkerEvent{Kind: WorkerEventActive, JobID: claim.JobID, Attempt: claim.Attempt, At: time.Now()})

	start := time.Now()
	result, err := s.runHandler(claim)
	elapsed := time.Since(start)

	if err != nil {
		s.stats.recordFailure()
		if ferr := s.queue.Fail(claim.JobID, claim.Token, err); ferr != nil {
			s.emit(WorkerEvent{Kind: WorkerEventError, JobID: claim.JobID, Err: ferr, At: time.Now()})
			return
		}
		s.emit(WorkerEvent{Kind: WorkerEventFailed, JobID: claim.JobID, Attempt: claim.Attempt, Err: err, At: time.Now()})
		return
	}

	s.stats.recordSuccess(elapsed)
	if cerr := s.queue.Complete(claim.JobID, claim.Token, result); cerr != nil {
		s.emit(WorkerEvent{Kind: WorkerEventError, JobID: claim.JobID, Err: cerr, At: time.Now()})
		return
	}
	s.emit(WorkerEvent{Kind: WorkerEventCompleted, JobID: claim.JobID, Attempt: claim.Attempt, Result: result, At: time.Now()})
}

// runHandler recovers a panicking handler into a typed error, matching
// the teacher's worker-pool panic-recovery discipline.
func (s *PoolSupervisor) runHandler(claim *queue.Claim) (result *types.EvaluationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Recovered: r}
			s.emit(WorkerEvent{Kind: WorkerEventError, JobID: claim.JobID, Err: err, At: time.Now()})
		}
	}()
	return s.handler(context.Background(), claim.Payload)
}

func (s *PoolSupervisor) stalledLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.StalledCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			for _, id := range s.queue.CheckStalled() {
				s.emit(WorkerEvent{Kind: WorkerEventStalled, JobID: id, At: time.Now()})
			}
		}
	}
}

func (s *PoolSupervisor) emit(ev WorkerEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("worker event dropped: channel full", zap.String("kind", string(ev.Kind)))
	}
}

// AddJob enqueues one evaluation job.
func (s *PoolSupervisor) AddJob(job types.EvaluationJob, priority int, jobID string) (string, error) {
	return s.queue.Enqueue(job, queue.EnqueueOptions{
		JobID:       jobID,
		Priority:    priority,
		Attempts:    s.cfg.Attempts,
		BackoffBase: s.cfg.BackoffBase,
	})
}

// AddBatch enqueues multiple jobs, returning their assigned ids in order.
func (s *PoolSupervisor) AddBatch(jobs []types.EvaluationJob, priority int) ([]string, error) {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		id, err := s.AddJob(j, priority, "")
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Pause stops the queue from issuing new claims; in-flight jobs continue.
func (s *PoolSupervisor) Pause() {
	s.queue.Pause()
	s.emit(WorkerEvent{Kind: WorkerEventReady, At: time.Now()})
}

// Resume re-enables claims after Pause.
func (s *PoolSupervisor) Resume() {
	s.queue.Resume()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *PoolSupervisor) IsRunning() bool {
	return s.running.Load()
}

// Stop gracefully shuts the supervisor down: no new claims are issued,
// in-flight jobs are given until natural completion or DrainDeadline,
// and the queue handle is closed last.
func (s *PoolSupervisor) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("pool supervisor stopped gracefully")
	case <-time.After(s.cfg.DrainDeadline):
		s.logger.Warn("pool supervisor drain deadline exceeded; abandoning in-flight jobs",
			zap.Duration("deadline", s.cfg.DrainDeadline))
	}

	s.queue.Close()
}

// Stats returns aggregated worker statistics, queue counts, and uptime.
type Stats struct {
	Worker  types.WorkerStats
	Queue   queue.Counts
	Uptime  time.Duration
}

// Stats reports the supervisor's current aggregate state.
func (s *PoolSupervisor) Stats() Stats {
	return Stats{
		Worker: s.stats.snapshot(int(s.activeNow.Load())),
		Queue:  s.queue.Counts(),
		Uptime: time.Since(s.startedAt),
	}
}
