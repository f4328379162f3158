package orchestrator

import (
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/breaker"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
)

// GateInput carries everything one safety-gate evaluation needs; the
// orchestrator assembles it from the cycle's selected candidate, signal,
// and whatever context the theorize/context nodes gathered.
type GateInput struct {
	ExecuteBreakerName  string
	EmergencyHalt       bool
	EstimatedGasPrice   decimal.Decimal
	MaxGasPrice         decimal.Decimal
	TradeSize           decimal.Decimal
	MaxTradeSize        decimal.Decimal
	PoolLiquidity       decimal.Decimal
	MinPoolLiquidity    decimal.Decimal
	EstimatedSlippage   decimal.Decimal
	MaxSlippage         decimal.Decimal
	AnomalySeverity     types.SafetyCheckSeverity
	RebalancesToday     int
	MaxRebalancesPerDay int
	ReportedPortfolio   decimal.Decimal
	ReconstructedPortfolio decimal.Decimal
}

// SafetyGate runs the ordered check battery from §4.3 before the
// executor node. It itself runs under a breaker; a panic or internal
// error during Evaluate is caught by the caller and treated as a failed
// gate (fail-closed), per invariant #10.
type SafetyGate struct {
	breakers *breaker.Registry
	now      func() time.Time
}

// NewSafetyGate creates a gate backed by the shared breaker registry.
func NewSafetyGate(breakers *breaker.Registry) *SafetyGate {
	return &SafetyGate{breakers: breakers, now: time.Now}
}

// Evaluate runs every check in order and returns the aggregate decision.
// Execute proceeds iff every check passes. Any CRITICAL-severity failure
// additionally opens the execute breaker.
func (g *SafetyGate) Evaluate(in GateInput) types.RiskDecision {
	now := g.now()
	checks := []types.SafetyCheckResult{
		g.checkBreaker(in, now),
		g.checkEmergencyHalt(in, now),
		g.checkGasPrice(in, now),
		g.checkTradeSize(in, now),
		g.checkLiquidity(in, now),
		g.checkSlippage(in, now),
		g.checkAnomalies(in, now),
		g.checkDailyRebalanceCap(in, now),
		g.checkBalanceDiscrepancy(in, now),
	}

	decision := types.RiskDecision{Approved: true, Checks: checks}

	for _, c := range checks {
		if c.Passed {
			continue
		}
		decision.Approved = false
		decision.Warnings = append(decision.Warnings, c.Name+": "+c.Reason)
		if c.Severity == types.SeverityCritical {
			decision.IsPaused = true
			if decision.PauseReason == "" {
				decision.PauseReason = c.Name
			}
			if g.breakers != nil && in.ExecuteBreakerName != "" {
				g.breakers.OpenBreaker(in.ExecuteBreakerName)
			}
		}
	}

	return decision
}

func (g *SafetyGate) checkBreaker(in GateInput, now time.Time) types.SafetyCheckResult {
	name := "execute_breaker"
	if g.breakers == nil || in.ExecuteBreakerName == "" {
		return pass(name, now)
	}
	status := g.breakers.GetStatus(in.ExecuteBreakerName)
	if status.IsOpen {
		return fail(name, "execute breaker is open", types.SeverityCritical, now)
	}
	return pass(name, now)
}

func (g *SafetyGate) checkEmergencyHalt(in GateInput, now time.Time) types.SafetyCheckResult {
	name := "emergency_halt"
	if in.EmergencyHalt {
		return fail(name, "emergency halt flag is set", types.SeverityCritical, now)
	}
	return pass(name, now)
}

func (g *SafetyGate) checkGasPrice(in GateInput, now time.Time) types.SafetyCheckResult {
	name := "gas_price_limit"
	if in.MaxGasPrice.IsZero() {
		return pass(name, now)
	}
	if in.EstimatedGasPrice.GreaterThan(in.MaxGasPrice) {
		return fail(name, "estimated gas price exceeds limit", types.SeverityWarning, now)
	}
	return pass(name, now)
}

func (g *SafetyGate) checkTradeSize(in GateInput, now time.Time) types.SafetyCheckResult {
	name := "max_trade_size"
	if in.MaxTradeSize.IsZero() {
		return pass(name, now)
	}
	if in.TradeSize.GreaterThan(in.MaxTradeSize) {
		return fail(name, "trade size exceeds maximum", types.SeverityWarning, now)
	}
	return pass(name, now)
}

func (g *SafetyGate) checkLiquidity(in GateInput, now time.Time) types.SafetyCheckResult {
	name := "min_liquidity"
	if in.MinPoolLiquidity.IsZero() {
		return pass(name, now)
	}
	if in.PoolLiquidity.LessThan(in.MinPoolLiquidity) {
		return fail(name, "pool/market liquidity below minimum", types.SeverityWarning, now)
	}
	return pass(name, now)
}

func (g *SafetyGate) checkSlippage(in GateInput, now time.Time) types.SafetyCheckResult {
	name := "slippage_tolerance"
	if in.MaxSlippage.IsZero() {
		return pass(name, now)
	}
	if in.EstimatedSlippage.GreaterThan(in.MaxSlippage) {
		return fail(name, "estimated slippage exceeds tolerance", types.SeverityWarning, now)
	}
	return pass(name, now)
}

func (g *SafetyGate) checkAnomalies(in GateInput, now time.Time) types.SafetyCheckResult {
	name := "anomaly_detection"
	switch in.AnomalySeverity {
	case types.SeverityCritical:
		return fail(name, "anomaly detector reported CRITICAL severity", types.SeverityCritical, now)
	case types.SeverityWarning:
		return fail(name, "anomaly detector reported WARNING severity", types.SeverityWarning, now)
	default:
		return pass(name, now)
	}
}

func (g *SafetyGate) checkDailyRebalanceCap(in GateInput, now time.Time) types.SafetyCheckResult {
	name := "daily_rebalance_cap"
	if in.MaxRebalancesPerDay <= 0 {
		return pass(name, now)
	}
	if in.RebalancesToday >= in.MaxRebalancesPerDay {
		return fail(name, "daily rebalance cap reached", types.SeverityWarning, now)
	}
	return pass(name, now)
}

func (g *SafetyGate) checkBalanceDiscrepancy(in GateInput, now time.Time) types.SafetyCheckResult {
	name := "balance_discrepancy"
	if in.ReportedPortfolio.IsZero() {
		return pass(name, now)
	}
	diff := in.ReportedPortfolio.Sub(in.ReconstructedPortfolio).Abs()
	threshold := in.ReportedPortfolio.Mul(decimal.NewFromFloat(0.10))
	if diff.GreaterThan(threshold) {
		return fail(name, "reported vs reconstructed portfolio differ by more than 10%", types.SeverityCritical, now)
	}
	return pass(name, now)
}

func pass(name string, now time.Time) types.SafetyCheckResult {
	return types.SafetyCheckResult{Name: name, Passed: true, Severity: types.SeverityInfo, Timestamp: now}
}

func fail(name, reason string, sev types.SafetyCheckSeverity, now time.Time) types.SafetyCheckResult {
	return types.SafetyCheckResult{Name: name, Passed: false, Reason: reason, Severity: sev, Timestamp: now}
}
