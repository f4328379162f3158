package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/breaker"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TestSafetyGateAllPass verifies the gate approves execution when every
// check in the battery passes.
func TestSafetyGateAllPass(t *testing.T) {
	gate := NewSafetyGate(breaker.NewRegistry(zap.NewNop(), breaker.DefaultExecuteConfig))
	decision := gate.Evaluate(GateInput{ExecuteBreakerName: "execute"})
	if !decision.Approved {
		t.Fatalf("expected approved, got warnings: %v", decision.Warnings)
	}
	if decision.IsPaused {
		t.Fatal("expected isPaused=false when all checks pass")
	}
}

// TestSafetyGateRejectCritical implements scenario S5: a CRITICAL-severity
// anomaly must reject the cycle and report pauseReason containing
// "anomaly_detection".
func TestSafetyGateRejectCritical(t *testing.T) {
	reg := breaker.NewRegistry(zap.NewNop(), breaker.DefaultExecuteConfig)
	gate := NewSafetyGate(reg)

	decision := gate.Evaluate(GateInput{
		ExecuteBreakerName: "execute",
		AnomalySeverity:    types.SeverityCritical,
	})

	if decision.Approved {
		t.Fatal("expected approved=false on a CRITICAL anomaly")
	}
	if !decision.IsPaused {
		t.Fatal("expected isPaused=true on a CRITICAL anomaly")
	}
	if decision.PauseReason != "anomaly_detection" {
		t.Fatalf("expected pauseReason 'anomaly_detection', got %q", decision.PauseReason)
	}

	status := reg.GetStatus("execute")
	if !status.IsOpen {
		t.Fatal("expected a CRITICAL failure to open the execute breaker")
	}
}

// TestSafetyGateBalanceDiscrepancy checks the >10% reported-vs-reconstructed
// portfolio divergence check, a CRITICAL-severity check per §4.3.
func TestSafetyGateBalanceDiscrepancy(t *testing.T) {
	gate := NewSafetyGate(breaker.NewRegistry(zap.NewNop(), breaker.DefaultExecuteConfig))
	decision := gate.Evaluate(GateInput{
		ExecuteBreakerName:     "execute",
		ReportedPortfolio:      decimal.NewFromInt(100000),
		ReconstructedPortfolio: decimal.NewFromInt(85000),
	})
	if decision.Approved {
		t.Fatal("expected rejection when balances diverge by more than 10%")
	}
	if !decision.IsPaused {
		t.Fatal("a >10% balance discrepancy is CRITICAL and must pause")
	}
}

// TestRiskGateNodeFailClosedOnPanic covers invariant #10 at the node
// level: a panicking GateInputBuilder must not let execution proceed.
func TestRiskGateNodeFailClosedOnPanic(t *testing.T) {
	reg := breaker.NewRegistry(zap.NewNop(), breaker.DefaultExecuteConfig)
	o := New(zap.NewNop(), Config{}, reg, nil, nil, nil, nil, nil, panicGateInputs{}, nil, nil)

	state := CreateInitial("c1", 1, time.Now())
	partial, err := o.riskGateNode(context.Background(), state)
	if err != nil {
		t.Fatalf("riskGateNode must recover internally, got error: %v", err)
	}
	if partial.Payload == nil || partial.Payload.RiskDecision == nil {
		t.Fatal("expected a risk decision even after a panic")
	}
	if partial.Payload.RiskDecision.Approved {
		t.Fatal("expected approved=false after a panicking gate input builder")
	}
	if !partial.Payload.RiskDecision.IsPaused {
		t.Fatal("expected isPaused=true after a panicking gate input builder")
	}
}

type panicGateInputs struct{}

func (panicGateInputs) BuildGateInput(ctx context.Context, state types.CycleState) (GateInput, error) {
	panic("boom")
}
