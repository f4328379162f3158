// Package backtester provides walk-forward analysis for strategy validation:
// repeated in-sample/out-of-sample replay over rolling windows of the same
// bar series, to check a strategy isn't overfit to one stretch of history.
package backtester

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/strategy"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalkForwardAnalyzer performs walk-forward optimization analysis over a
// fixed bar series, re-running the engine for each rolling window.
type WalkForwardAnalyzer struct {
	logger *zap.Logger
	cfg    types.EngineConfig
}

// NewWalkForwardAnalyzer creates a new walk-forward analyzer.
func NewWalkForwardAnalyzer(logger *zap.Logger, cfg types.EngineConfig) *WalkForwardAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalkForwardAnalyzer{logger: logger.Named("walkforward"), cfg: cfg}
}

// Run slices bars into windowDays/stepDays rolling windows (80/20
// in-sample/out-of-sample split) and replays newStrategy() independently
// against each window's in-sample and out-of-sample slices.
func (wf *WalkForwardAnalyzer) Run(ctx context.Context, bars []types.Bar, newStrategy func() strategy.Strategy, windowDays, stepDays int) (*types.WalkForwardResult, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("walkforward: no bars to analyze")
	}
	if windowDays <= 0 {
		windowDays = 30
	}
	if stepDays <= 0 {
		stepDays = 7
	}

	windows := wf.generateWindows(bars[0].Timestamp, bars[len(bars)-1].Timestamp, windowDays, stepDays)
	if len(windows) == 0 {
		return nil, fmt.Errorf("walkforward: no windows generated for the given range")
	}

	results := make([]types.WalkForwardWindow, 0, len(windows))
	var allTrades []*types.Trade
	var allEquityCurve []types.EquityCurvePoint

	for i, w := range windows {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		inBars := slice(bars, w.InSampleStart, w.InSampleEnd)
		outBars := slice(bars, w.OutSampleStart, w.OutSampleEnd)
		if len(inBars) == 0 || len(outBars) == 0 {
			wf.logger.Warn("walk-forward window has no bars, skipping", zap.Int("window", i))
			continue
		}

		inEngine := NewEngine(wf.logger, wf.cfg)
		inResult, err := inEngine.Run(ctx, newStrategy(), inBars)
		if err != nil {
			wf.logger.Warn("in-sample backtest failed", zap.Int("window", i), zap.Error(err))
			continue
		}

		outEngine := NewEngine(wf.logger, wf.cfg)
		outResult, err := outEngine.Run(ctx, newStrategy(), outBars)
		if err != nil {
			wf.logger.Warn("out-of-sample backtest failed", zap.Int("window", i), zap.Error(err))
			continue
		}

		results = append(results, types.WalkForwardWindow{
			InSampleStart:    w.InSampleStart,
			InSampleEnd:      w.InSampleEnd,
			OutSampleStart:   w.OutSampleStart,
			OutSampleEnd:     w.OutSampleEnd,
			InSampleMetrics:  inResult.Metrics,
			OutSampleMetrics: outResult.Metrics,
			OutSampleReturn:  outResult.Metrics.TotalReturn,
			OutSampleSharpe:  outResult.Metrics.SharpeRatio,
		})

		for i := range outResult.Trades {
			allTrades = append(allTrades, &outResult.Trades[i])
		}
		allEquityCurve = append(allEquityCurve, outResult.EquityCurve...)
	}

	metricsCalc := NewMetricsCalculator()
	overallMetrics := metricsCalc.Calculate(allTrades, allEquityCurve, wf.cfg.InitialCapital)
	robustness := wf.calculateRobustness(results)

	wf.logger.Info("walk-forward analysis complete",
		zap.Int("windows", len(results)),
		zap.String("robustness", robustness.String()),
	)

	return &types.WalkForwardResult{
		Windows:        results,
		OverallMetrics: overallMetrics,
		Robustness:     robustness,
	}, nil
}

type windowRange struct {
	InSampleStart, InSampleEnd, OutSampleStart, OutSampleEnd time.Time
}

func (wf *WalkForwardAnalyzer) generateWindows(start, end time.Time, windowDays, stepDays int) []windowRange {
	var windows []windowRange

	windowDuration := time.Duration(windowDays) * 24 * time.Hour
	stepDuration := time.Duration(stepDays) * 24 * time.Hour
	inSampleDuration := time.Duration(float64(windowDuration) * 0.8)

	current := start
	for !current.Add(windowDuration).After(end) {
		windows = append(windows, windowRange{
			InSampleStart:  current,
			InSampleEnd:    current.Add(inSampleDuration),
			OutSampleStart: current.Add(inSampleDuration),
			OutSampleEnd:   current.Add(windowDuration),
		})
		current = current.Add(stepDuration)
	}
	return windows
}

// slice returns the bars within [from, to), preserving order.
func slice(bars []types.Bar, from, to time.Time) []types.Bar {
	var out []types.Bar
	for _, b := range bars {
		if !b.Timestamp.Before(from) && b.Timestamp.Before(to) {
			out = append(out, b)
		}
	}
	return out
}

// calculateRobustness is the out-of-sample/in-sample return ratio,
// clamped to [0, 2]; values above 0.5 indicate a strategy that isn't
// badly overfit to its in-sample window.
func (wf *WalkForwardAnalyzer) calculateRobustness(windows []types.WalkForwardWindow) decimal.Decimal {
	if len(windows) == 0 {
		return decimal.Zero
	}

	var inSampleReturns, outSampleReturns decimal.Decimal
	for _, w := range windows {
		if w.InSampleMetrics != nil && w.OutSampleMetrics != nil {
			inSampleReturns = inSampleReturns.Add(w.InSampleMetrics.TotalReturn)
			outSampleReturns = outSampleReturns.Add(w.OutSampleMetrics.TotalReturn)
		}
	}

	if inSampleReturns.IsZero() {
		return decimal.Zero
	}

	robustness := outSampleReturns.Div(inSampleReturns)
	if robustness.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if robustness.GreaterThan(decimal.NewFromInt(2)) {
		return decimal.NewFromInt(2)
	}
	return robustness
}
