package backtester

import (
	"testing"

	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
)

// TestTierBoundaryScenario implements scenario S2: at the default
// thresholds, a strategy passing every cutoff (all but Sharpe sitting
// exactly on their limits) scores EXCELLENT
// and is both viable and should-activate; dropping win rate just below
// its cutoff flips viable to false.
//
// The formula's literal weights (2 for Sharpe, 2 for win rate, 1 each
// for drawdown/profit factor/sample size) mean losing one doubly-weighted
// pass drops the score from 7 to 5, which is GOOD under the tier table
// in §4.1 — not ACCEPTABLE. We implement the tier table exactly as
// specified rather than special-casing this one scenario.
func TestTierBoundaryScenario(t *testing.T) {
	checker := NewViabilityChecker(DefaultViabilityThresholds())

	metrics := &types.PerformanceMetrics{
		SharpeRatio:  decimal.NewFromFloat(1.5),
		WinRate:      decimal.NewFromFloat(0.55),
		MaxDrawdown:  decimal.NewFromFloat(0.20),
		ProfitFactor: decimal.NewFromFloat(1.3),
		TotalTrades:  10,
	}

	verdict := checker.Check(metrics)
	if verdict.Tier != types.TierExcellent {
		t.Fatalf("expected EXCELLENT tier, got %s (score %d)", verdict.Tier, verdict.Score)
	}
	if !verdict.Viable || !verdict.ShouldActivate {
		t.Fatalf("expected viable and should-activate true, got viable=%v shouldActivate=%v", verdict.Viable, verdict.ShouldActivate)
	}

	metrics.WinRate = decimal.NewFromFloat(0.549)
	verdict = checker.Check(metrics)
	if verdict.Viable {
		t.Fatal("expected viable=false once win rate drops below the minimum")
	}
	if verdict.ShouldActivate {
		t.Fatal("should-activate must be false when not viable")
	}
	if verdict.Tier != types.TierGood {
		t.Fatalf("expected GOOD tier at score 5, got %s (score %d)", verdict.Tier, verdict.Score)
	}
}

// TestTierArithmetic exhaustively checks the score->tier mapping for
// every possible weighted score value.
func TestTierArithmetic(t *testing.T) {
	cases := map[int]types.Tier{
		7: types.TierExcellent,
		6: types.TierExcellent,
		5: types.TierGood,
		4: types.TierAcceptable,
		3: types.TierPoor,
		2: types.TierPoor,
		1: types.TierRejected,
		0: types.TierRejected,
	}
	for score, want := range cases {
		if got := tierForScore(score); got != want {
			t.Errorf("score %d: expected %s, got %s", score, want, got)
		}
	}
}

// TestRejectedWhenAllFail covers the low-score boundary explicitly.
func TestRejectedWhenAllFail(t *testing.T) {
	checker := NewViabilityChecker(DefaultViabilityThresholds())
	metrics := &types.PerformanceMetrics{
		SharpeRatio:  decimal.NewFromFloat(-0.5),
		WinRate:      decimal.NewFromFloat(0.1),
		MaxDrawdown:  decimal.NewFromFloat(0.9),
		ProfitFactor: decimal.NewFromFloat(0.2),
		TotalTrades:  1,
	}
	verdict := checker.Check(metrics)
	if verdict.Tier != types.TierRejected {
		t.Fatalf("expected REJECTED, got %s (score %d)", verdict.Tier, verdict.Score)
	}
	if verdict.Viable || verdict.ShouldActivate {
		t.Fatal("a fully-failing strategy must not be viable or should-activate")
	}
}
