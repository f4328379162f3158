// Package breaker implements a named, mutex-guarded circuit breaker
// registry used to protect every orchestrator node and external call.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"go.uber.org/zap"
)

// ErrBreakerOpen is returned by Execute when a breaker is open and no
// fallback was supplied.
var ErrBreakerOpen = errors.New("breaker: circuit open")

// Config is one breaker's threshold/reset pair.
type Config struct {
	Threshold int
	Reset     time.Duration
}

// Default configs for the three breaker families named in the pipeline
// contract; callers may override any of them per breaker name.
var (
	DefaultExecuteConfig        = Config{Threshold: 3, Reset: 60 * time.Second}
	DefaultRPCConfig            = Config{Threshold: 5, Reset: 30 * time.Second}
	DefaultEvaluationFetchConfig = Config{Threshold: 10, Reset: 120 * time.Second}
)

type breakerState struct {
	config              Config
	consecutiveFailures int
	openSince           *time.Time
	isOpen              bool
}

// Op is the guarded operation a breaker wraps.
type Op func() error

// Fallback produces a substitute result when an operation is skipped
// because its breaker is open.
type Fallback func() error

// Registry is a process-local set of named circuit breakers. It is the
// only shared mutable state workers and orchestrator nodes observe
// concurrently, so every mutation is mutex-guarded.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*breakerState
	defaults Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewRegistry creates a Registry. defaults is used for any name not
// explicitly configured via Configure.
func NewRegistry(logger *zap.Logger, defaults Config) *Registry {
	return &Registry{
		breakers: make(map[string]*breakerState),
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// Configure sets (or resets) the threshold/reset pair for a named
// breaker. Safe to call before or after the breaker has been used.
func (r *Registry) Configure(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateLocked(name)
	st.config = cfg
}

func (r *Registry) stateLocked(name string) *breakerState {
	st, ok := r.breakers[name]
	if !ok {
		st = &breakerState{config: r.defaults}
		r.breakers[name] = st
	}
	return st
}

// Execute runs op under the named breaker. If the breaker is open and
// its reset window has not elapsed, op is skipped: fallback runs if
// supplied, otherwise ErrBreakerOpen is returned. On success the
// failure counter resets; on failure it increments and opens the
// breaker once it reaches threshold.
func (r *Registry) Execute(name string, op Op, fallback Fallback) error {
	r.mu.Lock()
	st := r.stateLocked(name)
	now := r.now()

	if st.isOpen {
		if st.openSince != nil && now.Sub(*st.openSince) < st.config.Reset {
			r.mu.Unlock()
			if fallback != nil {
				return fallback()
			}
			return ErrBreakerOpen
		}
		// Reset window elapsed: half-open, allow one trial call.
		st.isOpen = false
		st.openSince = nil
	}
	r.mu.Unlock()

	err := op()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		st.consecutiveFailures++
		if st.consecutiveFailures >= st.config.Threshold {
			r.openLocked(name, st, now)
		}
		return err
	}
	st.consecutiveFailures = 0
	return nil
}

func (r *Registry) openLocked(name string, st *breakerState, now time.Time) {
	if st.isOpen {
		return
	}
	st.isOpen = true
	opened := now
	st.openSince = &opened
	if r.logger != nil {
		r.logger.Warn("breaker opened", zap.String("name", name), zap.Int("failures", st.consecutiveFailures))
	}
}

// OpenBreaker forces a named breaker open immediately, regardless of its
// failure count (used by consecutive-cycle-error tripping and the
// safety gate's CRITICAL-severity rule).
func (r *Registry) OpenBreaker(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateLocked(name)
	r.openLocked(name, st, r.now())
}

// ResetBreaker closes a named breaker and clears its failure count.
func (r *Registry) ResetBreaker(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateLocked(name)
	st.isOpen = false
	st.openSince = nil
	st.consecutiveFailures = 0
}

// GetStatus returns the observable state of a named breaker.
func (r *Registry) GetStatus(name string) types.CircuitBreakerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateLocked(name)
	return types.CircuitBreakerRecord{
		Name:                name,
		FailureThreshold:    st.config.Threshold,
		ResetTimeout:        st.config.Reset,
		ConsecutiveFailures: st.consecutiveFailures,
		OpenSince:           st.openSince,
		IsOpen:              st.isOpen,
	}
}
