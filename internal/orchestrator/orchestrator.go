// Package orchestrator provides the central integration point driving the
// pipeline's fixed node DAG: context, theorize, evaluate, select,
// risk-gate, execute, learn. Every node runs under a named circuit
// breaker; critical nodes (risk-gate, execute) have no fallback, so a
// breaker trip there ends the cycle with a SKIPPED status instead of
// continuing with stale data.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/breaker"
	"github.com/atlas-desktop/execution-pipeline/internal/events"
	"github.com/atlas-desktop/execution-pipeline/internal/workers"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"go.uber.org/zap"
)

// Final cycle statuses. A cycle that runs every node to completion ends
// COMPLETED. A breaker trip on a node with no fallback ends it
// SKIPPED_CIRCUIT_BREAKER, an empty selection SKIPPED_NO_CANDIDATE, and a
// rejecting safety gate REJECTED; an error from a node with no fallback
// ends it "FAILED_" followed by the step name.
const (
	StatusCompleted            = "COMPLETED"
	StatusSkippedCircuitBreaker = "SKIPPED_CIRCUIT_BREAKER"
	StatusSkippedNoCandidate    = "SKIPPED_NO_CANDIDATE"
	StatusRejected              = "REJECTED"
)

// Theorizer turns the current context payload into candidate ideas.
type Theorizer interface {
	Theorize(ctx context.Context, state types.CycleState) ([]types.CandidateIdea, error)
}

// ContextProvider gathers the external market/portfolio context a cycle
// starts from.
type ContextProvider interface {
	FetchContext(ctx context.Context) (map[string]any, error)
}

// Selector ranks a cycle's evaluation results and proposes the signal to
// submit to the safety gate, if any.
type Selector interface {
	Select(ctx context.Context, state types.CycleState) (*types.CandidateIdea, *types.Signal, error)
}

// GateInputBuilder assembles one cycle's safety-gate input from its
// selected candidate and signal.
type GateInputBuilder interface {
	BuildGateInput(ctx context.Context, state types.CycleState) (GateInput, error)
}

// VenueExecutor performs the real trade for an approved signal.
type VenueExecutor interface {
	Execute(ctx context.Context, signal types.Signal, decision types.RiskDecision) (types.ExecutionOutcome, error)
}

// Learner persists whatever the cycle produced (performance snapshots,
// activation status) after execute completes, successfully or not.
type Learner interface {
	Learn(ctx context.Context, state types.CycleState) error
}

// Config configures one Orchestrator instance.
type Config struct {
	MaxConsecutiveErrors int
	CycleInterval        time.Duration
	EmergencyHaltOnStart bool
	EvaluationTimeout    time.Duration
	ExecuteBreakerName   string
}

func (c Config) withDefaults() Config {
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = time.Minute
	}
	if c.EvaluationTimeout <= 0 {
		c.EvaluationTimeout = 2 * time.Minute
	}
	if c.ExecuteBreakerName == "" {
		c.ExecuteBreakerName = "execute"
	}
	return c
}

// Orchestrator drives the fixed node DAG over a breaker registry, an
// evaluation worker pool, and the pluggable domain collaborators above.
type Orchestrator struct {
	logger     *zap.Logger
	cfg        Config
	breakers   *breaker.Registry
	gate       *SafetyGate
	eventBus   *events.EventBus
	supervisor *workers.PoolSupervisor

	contextProvider ContextProvider
	theorizer       Theorizer
	selector        Selector
	gateInputs      GateInputBuilder
	executor        VenueExecutor
	learner         Learner

	mu                sync.Mutex
	consecutiveErrors int
	cycleNumber       int

	now func() time.Time
}

// New creates an Orchestrator. Collaborators may be nil for a node to be
// skipped with a typed empty result (useful in tests exercising a subset
// of the DAG).
func New(
	logger *zap.Logger,
	cfg Config,
	breakers *breaker.Registry,
	eventBus *events.EventBus,
	supervisor *workers.PoolSupervisor,
	contextProvider ContextProvider,
	theorizer Theorizer,
	selector Selector,
	gateInputs GateInputBuilder,
	executor VenueExecutor,
	learner Learner,
) *Orchestrator {
	return &Orchestrator{
		logger:          logger.Named("orchestrator"),
		cfg:             cfg.withDefaults(),
		breakers:        breakers,
		gate:            NewSafetyGate(breakers),
		eventBus:        eventBus,
		supervisor:      supervisor,
		contextProvider: contextProvider,
		theorizer:       theorizer,
		selector:        selector,
		gateInputs:      gateInputs,
		executor:        executor,
		learner:         learner,
		now:             time.Now,
	}
}

// RunCycle drives one traversal of the DAG to completion and returns the
// final Cycle State.
func (o *Orchestrator) RunCycle(ctx context.Context, cycleID string) types.CycleState {
	o.mu.Lock()
	o.cycleNumber++
	n := o.cycleNumber
	o.mu.Unlock()

	state := CreateInitial(cycleID, n, o.now())
	executeSucceeded := false

	state, skipped := o.runStep(ctx, state, types.StepContext, "context", o.contextNode, nil)
	if !skipped {
		state, skipped = o.runStep(ctx, state, types.StepTheorize, "theorize", o.theorizeNode, theorizeFallback)
	}
	if !skipped {
		state, skipped = o.runStep(ctx, state, types.StepEvaluate, "evaluate", o.evaluateNode, evaluateFallback)
	}
	if !skipped {
		state, skipped = o.runStep(ctx, state, types.StepSelect, "select", o.selectNode, selectFallback)
	}
	if !skipped && state.Payload.Selected == nil {
		state = Apply(state, Partial{FinalStatus: StatusSkippedNoCandidate})
		skipped = true
	}
	if !skipped {
		state, skipped = o.runStep(ctx, state, types.StepRiskGate, "risk-gate", o.riskGateNode, nil)
	}
	if !skipped && state.Payload.RiskDecision != nil && !state.Payload.RiskDecision.Approved {
		state = Apply(state, Partial{FinalStatus: StatusRejected})
		skipped = true
	}
	if !skipped {
		var execSkipped bool
		state, execSkipped = o.runStep(ctx, state, types.StepExecute, "execute", o.executeNode, nil)
		executeSucceeded = !execSkipped
		skipped = execSkipped
	}

	o.recordCycleOutcome(executeSucceeded)

	state, _ = o.runStep(ctx, state, types.StepLearn, "learn", o.learnNode, learnFallback)

	if state.FinalStatus == "" {
		state = Apply(state, Partial{FinalStatus: StatusCompleted})
	}

	o.logger.Info("cycle complete",
		zap.String("cycleId", state.CycleID),
		zap.String("finalStatus", state.FinalStatus),
		zap.Int("errors", len(state.Errors)),
		zap.Int("warnings", len(state.Warnings)),
	)

	return state
}

type nodeFunc func(ctx context.Context, state types.CycleState) (Partial, error)
type fallbackFunc func(state types.CycleState) Partial

// runStep wraps one node in its named breaker. A breaker-open skip uses
// fallback if supplied; with no fallback (critical nodes) the cycle ends
// SKIPPED_CIRCUIT_BREAKER. An error from the node itself is folded into
// the state's error list and, for critical nodes, also ends the cycle.
func (o *Orchestrator) runStep(ctx context.Context, state types.CycleState, step types.CycleStep, breakerName string, fn nodeFunc, fallback fallbackFunc) (types.CycleState, bool) {
	state = Apply(state, Partial{CurrentStep: step})

	var partial Partial
	var nodeErr error
	breakerTripped := false

	op := func() error {
		p, err := fn(ctx, state)
		if err != nil {
			nodeErr = err
			return err
		}
		partial = p
		return nil
	}
	fb := func() error {
		breakerTripped = true
		if fallback != nil {
			partial = fallback(state)
		}
		return nil
	}

	var execErr error
	if o.breakers != nil {
		execErr = o.breakers.Execute(breakerName, op, fb)
	} else {
		execErr = op()
	}

	if execErr != nil && nodeErr == nil && !breakerTripped {
		// op itself was never invoked (breaker open, no fallback).
		breakerTripped = true
	}

	if breakerTripped && fallback == nil {
		final := Apply(state, AddError(state, fmt.Sprintf("%s: circuit breaker open, no fallback available", breakerName), o.now()))
		final = Apply(final, Partial{FinalStatus: StatusSkippedCircuitBreaker})
		return final, true
	}

	if nodeErr != nil {
		state = Apply(state, AddError(state, fmt.Sprintf("%s: %v", breakerName, nodeErr), o.now()))
		if fallback == nil {
			state = Apply(state, Partial{FinalStatus: "FAILED_" + string(step)})
			return state, true
		}
		return Apply(state, fallback(state)), false
	}

	return Apply(state, partial), false
}

// recordCycleOutcome implements the consecutive-error tripping rule:
// once MaxConsecutiveErrors cycles in a row fail to reach execute
// successfully, the execute breaker is opened explicitly; any successful
// cycle resets the counter to zero.
func (o *Orchestrator) recordCycleOutcome(executeSucceeded bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if executeSucceeded {
		o.consecutiveErrors = 0
		return
	}
	o.consecutiveErrors++
	if o.consecutiveErrors >= o.cfg.MaxConsecutiveErrors && o.breakers != nil {
		o.breakers.OpenBreaker(o.cfg.ExecuteBreakerName)
		o.publishLifecycle("breaker-open", o.cfg.ExecuteBreakerName, "consecutive cycle failures reached threshold")
	}
}

func (o *Orchestrator) publishLifecycle(phase, name, detail string) {
	if o.eventBus == nil {
		return
	}
	o.eventBus.Publish(events.NewSystemLifecycleEvent(phase, name, detail))
}

// --- Node implementations ---

func (o *Orchestrator) contextNode(ctx context.Context, state types.CycleState) (Partial, error) {
	if o.contextProvider == nil {
		return Partial{Payload: &PayloadPartial{ContextData: map[string]any{}}}, nil
	}
	data, err := o.contextProvider.FetchContext(ctx)
	if err != nil {
		return Partial{}, err
	}
	return Partial{Payload: &PayloadPartial{ContextData: data}}, nil
}

func (o *Orchestrator) theorizeNode(ctx context.Context, state types.CycleState) (Partial, error) {
	if o.theorizer == nil {
		return Partial{Payload: &PayloadPartial{Candidates: []types.CandidateIdea{}}}, nil
	}
	candidates, err := o.theorizer.Theorize(ctx, state)
	if err != nil {
		return Partial{}, err
	}
	return Partial{Payload: &PayloadPartial{Candidates: candidates}}, nil
}

func theorizeFallback(state types.CycleState) Partial {
	return Partial{Payload: &PayloadPartial{Candidates: []types.CandidateIdea{}}}
}

// evaluateNode dispatches one job per candidate to the worker pool and
// collects results by job id, tolerating a supervisor-less orchestrator
// (evaluation is simply skipped with an empty result set).
func (o *Orchestrator) evaluateNode(ctx context.Context, state types.CycleState) (Partial, error) {
	candidates := state.Payload.Candidates
	if len(candidates) == 0 || o.supervisor == nil {
		return Partial{Payload: &PayloadPartial{EvaluationResults: []types.EvaluationResult{}}}, nil
	}

	pending := make(map[string]int, len(candidates)) // jobID -> attempt limit
	for i, c := range candidates {
		instrument := ""
		if len(c.Instruments) > 0 {
			instrument = c.Instruments[0]
		}
		job := types.EvaluationJob{
			ID:           fmt.Sprintf("%s-%d", state.CycleID, i),
			CandidateID:  c.ID,
			Instrument:   instrument,
			Timeframe:    c.Timeframe,
			WindowDays:   30,
			AttemptLimit: 3,
		}
		jobID, err := o.supervisor.AddJob(job, 0, job.ID)
		if err != nil {
			return Partial{}, err
		}
		pending[jobID] = job.AttemptLimit
	}

	results := make([]types.EvaluationResult, 0, len(candidates))
	timeout := time.After(o.cfg.EvaluationTimeout)

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return Partial{}, ctx.Err()
		case <-timeout:
			for jobID := range pending {
				results = append(results, types.EvaluationResult{JobID: jobID, Success: false, Error: "evaluation timed out", Timestamp: o.now()})
			}
			pending = nil
		case ev, ok := <-o.supervisor.Events():
			if !ok {
				pending = nil
				break
			}
			limit, isPending := pending[ev.JobID]
			if !isPending {
				continue
			}
			switch ev.Kind {
			case workers.WorkerEventCompleted:
				delete(pending, ev.JobID)
				if ev.Result != nil {
					results = append(results, *ev.Result)
					o.publishEvaluationResult(*ev.Result)
				}
			case workers.WorkerEventFailed:
				if ev.Attempt >= limit {
					delete(pending, ev.JobID)
					errMsg := ""
					if ev.Err != nil {
						errMsg = ev.Err.Error()
					}
					result := types.EvaluationResult{JobID: ev.JobID, Success: false, Error: errMsg, Timestamp: o.now()}
					results = append(results, result)
					o.publishEvaluationResult(result)
				}
			}
		}
	}

	return Partial{Payload: &PayloadPartial{EvaluationResults: results}}, nil
}

func evaluateFallback(state types.CycleState) Partial {
	return Partial{Payload: &PayloadPartial{EvaluationResults: []types.EvaluationResult{}}}
}

func (o *Orchestrator) publishEvaluationResult(result types.EvaluationResult) {
	if o.eventBus == nil {
		return
	}
	if result.Success && result.Report != nil {
		o.eventBus.Publish(events.NewEvaluationCompleteEvent(result.CandidateID, result.CandidateID, string(result.Report.Assessment.Tier), result.Report.Assessment.Score, result.Report.Assessment.ShouldActivate))
	} else {
		o.eventBus.Publish(events.NewEvaluationFailedEvent(result.CandidateID, result.CandidateID, result.Error))
	}
}

func (o *Orchestrator) selectNode(ctx context.Context, state types.CycleState) (Partial, error) {
	if o.selector == nil {
		return Partial{}, nil
	}
	candidate, signal, err := o.selector.Select(ctx, state)
	if err != nil {
		return Partial{}, err
	}
	return Partial{Payload: &PayloadPartial{Selected: candidate, Signal: signal}}, nil
}

func selectFallback(state types.CycleState) Partial {
	return Partial{}
}

// riskGateNode evaluates the safety gate. A panic anywhere in building
// the gate input or evaluating it is recovered here and turned into a
// rejected, paused decision (invariant #10: the gate fails closed, it
// never lets an exception silently approve execution).
func (o *Orchestrator) riskGateNode(ctx context.Context, state types.CycleState) (partial Partial, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision := types.RiskDecision{
				Approved:    false,
				IsPaused:    true,
				PauseReason: fmt.Sprintf("safety gate panicked: %v", r),
			}
			partial = Partial{Payload: &PayloadPartial{RiskDecision: &decision}}
			err = nil
		}
	}()

	in := GateInput{ExecuteBreakerName: o.cfg.ExecuteBreakerName, EmergencyHalt: o.cfg.EmergencyHaltOnStart}
	if o.gateInputs != nil {
		built, buildErr := o.gateInputs.BuildGateInput(ctx, state)
		if buildErr != nil {
			decision := types.RiskDecision{Approved: false, IsPaused: true, PauseReason: "gate input build failed: " + buildErr.Error()}
			return Partial{Payload: &PayloadPartial{RiskDecision: &decision}}, nil
		}
		built.ExecuteBreakerName = o.cfg.ExecuteBreakerName
		in = built
	}
	decision := o.gate.Evaluate(in)
	return Partial{Payload: &PayloadPartial{RiskDecision: &decision}}, nil
}

func (o *Orchestrator) executeNode(ctx context.Context, state types.CycleState) (Partial, error) {
	if o.executor == nil || state.Payload.Signal == nil {
		return Partial{}, nil
	}
	decision := types.RiskDecision{Approved: true}
	if state.Payload.RiskDecision != nil {
		decision = *state.Payload.RiskDecision
	}
	outcome, err := o.executor.Execute(ctx, *state.Payload.Signal, decision)
	if err != nil {
		return Partial{}, err
	}
	return Partial{Payload: &PayloadPartial{ExecutionOutcome: &outcome}}, nil
}

func (o *Orchestrator) learnNode(ctx context.Context, state types.CycleState) (Partial, error) {
	if o.learner == nil {
		return Partial{}, nil
	}
	if err := o.learner.Learn(ctx, state); err != nil {
		return Partial{}, err
	}
	return Partial{}, nil
}

func learnFallback(state types.CycleState) Partial {
	return Partial{}
}
