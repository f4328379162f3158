package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/backtester"
	"github.com/atlas-desktop/execution-pipeline/internal/data"
	"github.com/atlas-desktop/execution-pipeline/internal/strategy"
	"github.com/atlas-desktop/execution-pipeline/internal/workers"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"go.uber.org/zap"
)

// EvaluationThresholds bounds how a backtest's metrics score into a Tier
// (§4.1's viability rule).
type EvaluationThresholds = types.ViabilityThresholds

// NewEvaluationHandler builds the worker-pool Handler that backs the
// evaluate node: given one EvaluationJob it resolves the candidate's
// strategy, loads the requested window of bars, replays it through the
// backtest engine, and scores the result into a PerformanceReport.
func NewEvaluationHandler(logger *zap.Logger, store *data.Store, strategies *strategy.StrategyRegistry, candidates *CandidateRegistry, thresholds EvaluationThresholds, engineCfg types.EngineConfig) workers.Handler {
	log := logger.Named("evaluation-handler")
	checker := backtester.NewViabilityChecker(thresholds)

	return func(ctx context.Context, job types.EvaluationJob) (*types.EvaluationResult, error) {
		start := time.Now()

		candidate, ok := candidates.Get(job.CandidateID)
		if !ok {
			return nil, fmt.Errorf("evaluation handler: unknown candidate %s", job.CandidateID)
		}
		strat, ok := strategies.Create(candidate.Name)
		if !ok {
			return nil, fmt.Errorf("evaluation handler: unknown strategy %s", candidate.Name)
		}
		if err := strat.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("evaluation handler: initialize strategy: %w", err)
		}

		window := job.WindowDays
		if window <= 0 {
			window = 30
		}
		ohlcv, err := store.LoadOHLCV(ctx, job.Instrument, job.Timeframe, time.Now().AddDate(0, 0, -window), time.Now())
		if err != nil {
			return nil, fmt.Errorf("evaluation handler: load bars: %w", err)
		}
		if len(ohlcv) == 0 {
			return &types.EvaluationResult{
				JobID: job.ID, CandidateID: job.CandidateID, Instrument: job.Instrument,
				Success: false, Error: "no bars available for window", Timestamp: time.Now(),
			}, nil
		}

		bars := make([]types.Bar, len(ohlcv))
		for i, c := range ohlcv {
			bars[i] = types.Bar{
				Instrument: job.Instrument,
				Timestamp:  c.Timestamp,
				Open:       c.Open,
				High:       c.High,
				Low:        c.Low,
				Close:      c.Close,
				Volume:     c.Volume,
			}
		}

		cfg := job.Engine
		if cfg.InitialCapital.IsZero() {
			cfg = engineCfg
		}
		engine := backtester.NewEngine(log, cfg)
		result, err := engine.Run(ctx, strat, bars)
		if err != nil {
			return &types.EvaluationResult{
				JobID: job.ID, CandidateID: job.CandidateID, Instrument: job.Instrument,
				Success: false, Error: err.Error(), Timestamp: time.Now(),
			}, nil
		}

		verdict := checker.Check(result.Metrics)
		report := &types.PerformanceReport{
			InitialCapital:   cfg.InitialCapital,
			FinalCapital:     cfg.InitialCapital.Add(result.Metrics.TotalReturn.Mul(cfg.InitialCapital)),
			TotalReturn:      result.Metrics.TotalReturn,
			AnnualizedReturn: result.Metrics.AnnualizedReturn,
			MaxDrawdown:      result.Metrics.MaxDrawdown,
			SharpeRatio:      result.Metrics.SharpeRatio,
			SortinoRatio:     result.Metrics.SortinoRatio,
			CalmarRatio:      result.Metrics.CalmarRatio,
			WinRate:          result.Metrics.WinRate,
			ProfitFactor:     result.Metrics.ProfitFactor,
			TradeCount:       result.Metrics.TotalTrades,
			AvgWin:           result.Metrics.AvgWin,
			AvgLoss:          result.Metrics.AvgLoss,
			Expectancy:       result.Metrics.Expectancy,
			Trades:           result.Trades,
			Assessment:       verdict,
		}

		return &types.EvaluationResult{
			JobID:            job.ID,
			CandidateID:      job.CandidateID,
			Instrument:       job.Instrument,
			Success:          true,
			Report:           report,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			BarsProcessed:    len(bars),
			Timestamp:        time.Now(),
		}, nil
	}
}
