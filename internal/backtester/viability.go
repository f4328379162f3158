// Package backtester provides strategy viability assessment: turning a
// Performance Report's raw metrics into a tiered accept/reject verdict.
package backtester

import (
	"fmt"

	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
)

// DefaultViabilityThresholds returns the default pass/fail cutoffs.
func DefaultViabilityThresholds() types.ViabilityThresholds {
	return types.ViabilityThresholds{
		MinSharpe:       decimal.NewFromFloat(1.0),
		MinWinRate:      decimal.NewFromFloat(0.55),
		MaxDrawdown:     decimal.NewFromFloat(0.20),
		MinProfitFactor: decimal.NewFromFloat(1.3),
		MinTotalTrades:  10,
	}
}

// AggressiveViabilityThresholds loosens every cutoff for higher risk
// tolerance (paper-trading or exploratory evaluation runs).
func AggressiveViabilityThresholds() types.ViabilityThresholds {
	return types.ViabilityThresholds{
		MinSharpe:       decimal.NewFromFloat(0.5),
		MinWinRate:      decimal.NewFromFloat(0.45),
		MaxDrawdown:     decimal.NewFromFloat(0.30),
		MinProfitFactor: decimal.NewFromFloat(1.1),
		MinTotalTrades:  5,
	}
}

// ConservativeViabilityThresholds tightens every cutoff for capital
// destined for live deployment.
func ConservativeViabilityThresholds() types.ViabilityThresholds {
	return types.ViabilityThresholds{
		MinSharpe:       decimal.NewFromFloat(1.5),
		MinWinRate:      decimal.NewFromFloat(0.60),
		MaxDrawdown:     decimal.NewFromFloat(0.10),
		MinProfitFactor: decimal.NewFromFloat(1.8),
		MinTotalTrades:  50,
	}
}

// ViabilityChecker scores a PerformanceMetrics set into a ViabilityVerdict
// under one fixed set of thresholds.
type ViabilityChecker struct {
	thresholds types.ViabilityThresholds
}

// NewViabilityChecker creates a checker over thresholds. A zero-value
// thresholds (MinTotalTrades == 0 and everything else zero) is replaced
// with DefaultViabilityThresholds.
func NewViabilityChecker(thresholds types.ViabilityThresholds) *ViabilityChecker {
	if thresholds == (types.ViabilityThresholds{}) {
		thresholds = DefaultViabilityThresholds()
	}
	return &ViabilityChecker{thresholds: thresholds}
}

// Check applies the exact tier rule: each of Sharpe/winRate/drawdown/
// profitFactor/sampleSize is scored pass (weight 2 for Sharpe and win
// rate, weight 1 for the rest) or fail (0); the weights sum to a score
// in [0,7] which maps to a discrete Tier. Viable requires Sharpe, win
// rate, and drawdown to all pass; should-activate additionally requires
// the sample-size check to pass.
func (vc *ViabilityChecker) Check(metrics *types.PerformanceMetrics) types.ViabilityVerdict {
	t := vc.thresholds

	sharpePass := metrics.SharpeRatio.GreaterThanOrEqual(t.MinSharpe)
	winRatePass := metrics.WinRate.GreaterThanOrEqual(t.MinWinRate)
	ddPass := metrics.MaxDrawdown.LessThanOrEqual(t.MaxDrawdown)
	pfPass := metrics.ProfitFactor.GreaterThanOrEqual(t.MinProfitFactor)
	samplePass := metrics.TotalTrades >= t.MinTotalTrades

	score := 0
	if sharpePass {
		score += 2
	}
	if winRatePass {
		score += 2
	}
	if ddPass {
		score++
	}
	if pfPass {
		score++
	}
	if samplePass {
		score++
	}

	verdict := types.ViabilityVerdict{
		Tier:       tierForScore(score),
		Score:      score,
		Viable:     sharpePass && winRatePass && ddPass,
		Thresholds: t,
	}
	verdict.ShouldActivate = verdict.Viable && samplePass

	verdict.Reasons = reasonsFor(sharpePass, winRatePass, ddPass, pfPass, samplePass, metrics, t)
	verdict.Recommendations = recommendationsFor(sharpePass, winRatePass, ddPass, pfPass, samplePass)

	return verdict
}

// BuildReport assembles the full PerformanceReport for one BacktestResult,
// attaching the viability verdict under thresholds.
func BuildReport(result *types.BacktestResult, initialCapital decimal.Decimal, thresholds types.ViabilityThresholds) *types.PerformanceReport {
	m := result.Metrics
	if m == nil {
		m = &types.PerformanceMetrics{}
	}

	finalCapital := initialCapital
	if len(result.EquityCurve) > 0 {
		finalCapital = result.EquityCurve[len(result.EquityCurve)-1].Equity
	}

	checker := NewViabilityChecker(thresholds)
	verdict := checker.Check(m)

	return &types.PerformanceReport{
		InitialCapital:     initialCapital,
		FinalCapital:       finalCapital,
		TotalReturn:        m.TotalReturn,
		AnnualizedReturn:   m.AnnualizedReturn,
		MaxDrawdown:        m.MaxDrawdown,
		SharpeRatio:        m.SharpeRatio,
		SortinoRatio:       m.SortinoRatio,
		CalmarRatio:        m.CalmarRatio,
		WinRate:            m.WinRate,
		ProfitFactor:       m.ProfitFactor,
		TradeCount:         m.TotalTrades,
		AvgWin:             m.AvgWin,
		AvgLoss:            m.AvgLoss,
		Expectancy:         m.Expectancy,
		RiskAdjustedReturn: m.SharpeRatio,
		ConsistencyScore:   decimal.NewFromInt(int64(verdict.Score)).Div(decimal.NewFromInt(7)),
		Trades:             result.Trades,
		Assessment:         verdict,
	}
}

// tierForScore maps the 0-7 weighted score to its discrete tier.
func tierForScore(score int) types.Tier {
	switch {
	case score >= 6:
		return types.TierExcellent
	case score == 5:
		return types.TierGood
	case score == 4:
		return types.TierAcceptable
	case score >= 2:
		return types.TierPoor
	default:
		return types.TierRejected
	}
}

func reasonsFor(sharpePass, winRatePass, ddPass, pfPass, samplePass bool, m *types.PerformanceMetrics, t types.ViabilityThresholds) []string {
	var reasons []string
	if !sharpePass {
		reasons = append(reasons, fmt.Sprintf("Sharpe %s below minimum %s", m.SharpeRatio.String(), t.MinSharpe.String()))
	}
	if !winRatePass {
		reasons = append(reasons, fmt.Sprintf("win rate %s below minimum %s", m.WinRate.String(), t.MinWinRate.String()))
	}
	if !ddPass {
		reasons = append(reasons, fmt.Sprintf("drawdown %s exceeds maximum %s", m.MaxDrawdown.String(), t.MaxDrawdown.String()))
	}
	if !pfPass {
		reasons = append(reasons, fmt.Sprintf("profit factor %s below minimum %s", m.ProfitFactor.String(), t.MinProfitFactor.String()))
	}
	if !samplePass {
		reasons = append(reasons, fmt.Sprintf("%d trades below minimum sample size %d", m.TotalTrades, t.MinTotalTrades))
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "all viability checks passed")
	}
	return reasons
}

func recommendationsFor(sharpePass, winRatePass, ddPass, pfPass, samplePass bool) []string {
	var recs []string
	if !sharpePass {
		recs = append(recs, "reduce trade frequency or improve entry timing to lift risk-adjusted return")
	}
	if !winRatePass {
		recs = append(recs, "tighten entry criteria or add a market-regime filter")
	}
	if !ddPass {
		recs = append(recs, "add tighter stop-losses or reduce position sizing")
	}
	if !pfPass {
		recs = append(recs, "focus on winner size relative to loser size")
	}
	if !samplePass {
		recs = append(recs, "extend the backtest window to accumulate more trades")
	}
	return recs
}
