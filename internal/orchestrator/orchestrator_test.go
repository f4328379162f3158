package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/atlas-desktop/execution-pipeline/internal/breaker"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type stubTheorizer struct {
	candidates []types.CandidateIdea
}

func (s stubTheorizer) Theorize(ctx context.Context, state types.CycleState) ([]types.CandidateIdea, error) {
	return s.candidates, nil
}

type stubSelector struct {
	candidate *types.CandidateIdea
	signal    *types.Signal
}

func (s stubSelector) Select(ctx context.Context, state types.CycleState) (*types.CandidateIdea, *types.Signal, error) {
	return s.candidate, s.signal, nil
}

type criticalAnomalyGateInputs struct{}

func (criticalAnomalyGateInputs) BuildGateInput(ctx context.Context, state types.CycleState) (GateInput, error) {
	return GateInput{AnomalySeverity: types.SeverityCritical}, nil
}

type recordingExecutor struct {
	called bool
}

func (e *recordingExecutor) Execute(ctx context.Context, signal types.Signal, decision types.RiskDecision) (types.ExecutionOutcome, error) {
	e.called = true
	return types.ExecutionOutcome{SignalID: "sig-1", Success: true}, nil
}

func baseCandidate() types.CandidateIdea {
	return types.CandidateIdea{ID: "cand-1", Name: "test", Instruments: []string{"BTC-USD"}}
}

// TestRunCycleRejectsOnCriticalAnomaly implements scenario S5 end to end:
// a CRITICAL anomaly at risk-gate must reject the cycle, skip the
// executor, and end with the REJECTED status tag.
func TestRunCycleRejectsOnCriticalAnomaly(t *testing.T) {
	reg := breaker.NewRegistry(zap.NewNop(), breaker.DefaultExecuteConfig)
	executor := &recordingExecutor{}
	candidate := baseCandidate()
	signal := &types.Signal{Symbol: "BTC-USD", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(1)}

	o := New(zap.NewNop(), Config{}, reg, nil, nil,
		nil,
		stubTheorizer{candidates: []types.CandidateIdea{candidate}},
		stubSelector{candidate: &candidate, signal: signal},
		criticalAnomalyGateInputs{},
		executor,
		nil,
	)

	state := o.RunCycle(context.Background(), "cycle-1")

	if state.FinalStatus != StatusRejected {
		t.Fatalf("expected status %s, got %s", StatusRejected, state.FinalStatus)
	}
	if executor.called {
		t.Fatal("executor must not run once the gate rejects the cycle")
	}
	if state.Payload.RiskDecision == nil || !state.Payload.RiskDecision.IsPaused {
		t.Fatal("expected a paused risk decision")
	}
}

// TestRunCycleNoCandidateSkips covers the no-candidate-selected path:
// the cycle ends SKIPPED_NO_CANDIDATE without invoking the gate or executor.
func TestRunCycleNoCandidateSkips(t *testing.T) {
	reg := breaker.NewRegistry(zap.NewNop(), breaker.DefaultExecuteConfig)
	executor := &recordingExecutor{}

	o := New(zap.NewNop(), Config{}, reg, nil, nil,
		nil,
		stubTheorizer{candidates: nil},
		stubSelector{},
		nil,
		executor,
		nil,
	)

	state := o.RunCycle(context.Background(), "cycle-1")

	if state.FinalStatus != StatusSkippedNoCandidate {
		t.Fatalf("expected status %s, got %s", StatusSkippedNoCandidate, state.FinalStatus)
	}
	if executor.called {
		t.Fatal("executor must not run when no candidate was selected")
	}
}

// TestRunCycleHappyPath exercises the full DAG with an approving gate,
// ending COMPLETED with the executor invoked.
func TestRunCycleHappyPath(t *testing.T) {
	reg := breaker.NewRegistry(zap.NewNop(), breaker.DefaultExecuteConfig)
	executor := &recordingExecutor{}
	candidate := baseCandidate()
	signal := &types.Signal{Symbol: "BTC-USD", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(1)}

	o := New(zap.NewNop(), Config{}, reg, nil, nil,
		nil,
		stubTheorizer{candidates: []types.CandidateIdea{candidate}},
		stubSelector{candidate: &candidate, signal: signal},
		nil,
		executor,
		nil,
	)

	state := o.RunCycle(context.Background(), "cycle-1")

	if state.FinalStatus != StatusCompleted {
		t.Fatalf("expected status %s, got %s", StatusCompleted, state.FinalStatus)
	}
	if !executor.called {
		t.Fatal("expected the executor to run on the happy path")
	}
}

// failingExecutor always errors, to drive the consecutive-error tripping
// invariant.
type failingExecutor struct{}

func (failingExecutor) Execute(ctx context.Context, signal types.Signal, decision types.RiskDecision) (types.ExecutionOutcome, error) {
	return types.ExecutionOutcome{}, errors.New("venue unreachable")
}

// TestConsecutiveExecuteFailuresOpenBreaker covers §4.3's consecutive-
// error tripping rule: after MaxConsecutiveErrors cycles in a row fail to
// execute, the execute breaker opens explicitly.
func TestConsecutiveExecuteFailuresOpenBreaker(t *testing.T) {
	reg := breaker.NewRegistry(zap.NewNop(), breaker.Config{Threshold: 100, Reset: 0})
	candidate := baseCandidate()
	signal := &types.Signal{Symbol: "BTC-USD", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(1)}

	o := New(zap.NewNop(), Config{MaxConsecutiveErrors: 3, ExecuteBreakerName: "execute"}, reg, nil, nil,
		nil,
		stubTheorizer{candidates: []types.CandidateIdea{candidate}},
		stubSelector{candidate: &candidate, signal: signal},
		nil,
		failingExecutor{},
		nil,
	)

	for i := 0; i < 3; i++ {
		o.RunCycle(context.Background(), "cycle")
	}

	if !reg.GetStatus("execute").IsOpen {
		t.Fatal("expected the execute breaker to open after 3 consecutive execute failures")
	}
}
