// Package pipeline wires the orchestrator's narrow node interfaces
// (Theorizer, ContextProvider, Selector, GateInputBuilder, VenueExecutor,
// Learner) to the concrete strategy/signals/regime/sizing/execution/data
// collaborators, the way cmd/server/main.go assembles a runnable system.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/data"
	"github.com/atlas-desktop/execution-pipeline/internal/execution"
	"github.com/atlas-desktop/execution-pipeline/internal/orchestrator"
	"github.com/atlas-desktop/execution-pipeline/internal/regime"
	"github.com/atlas-desktop/execution-pipeline/internal/sizing"
	"github.com/atlas-desktop/execution-pipeline/internal/strategy"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketContextAdapter feeds the context node from the regime detector and
// the most recent bar in the data store: a snapshot of the market the rest
// of the cycle reasons over.
type MarketContextAdapter struct {
	logger      *zap.Logger
	store       *data.Store
	detector    *regime.RegimeDetector
	instruments []string
	timeframe   types.Timeframe
}

// NewMarketContextAdapter builds a context provider over a bar store and a
// regime detector shared with the rest of the pipeline.
func NewMarketContextAdapter(logger *zap.Logger, store *data.Store, detector *regime.RegimeDetector, instruments []string, timeframe types.Timeframe) *MarketContextAdapter {
	return &MarketContextAdapter{logger: logger.Named("context-adapter"), store: store, detector: detector, instruments: instruments, timeframe: timeframe}
}

// FetchContext implements orchestrator.ContextProvider.
func (a *MarketContextAdapter) FetchContext(ctx context.Context) (map[string]any, error) {
	snapshot := make(map[string]any, len(a.instruments)+1)

	for _, instrument := range a.instruments {
		bars, err := a.store.LoadOHLCV(ctx, instrument, a.timeframe, time.Now().AddDate(0, 0, -5), time.Now())
		if err != nil {
			a.logger.Warn("context node: failed to load recent bars", zap.String("instrument", instrument), zap.Error(err))
			continue
		}
		if len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		snapshot[instrument] = map[string]any{
			"lastClose": last.Close,
			"volume":    last.Volume,
			"asOf":      last.Timestamp,
		}
		a.detector.AddDataPoint(last.Close, last.Volume, last.Timestamp)
	}

	if state := a.detector.GetCurrentRegime(); state != nil {
		snapshot["regime"] = map[string]any{
			"primary":    string(state.Primary),
			"confidence": state.Confidence,
			"volatility": state.Volatility,
			"trend":      state.Trend,
		}
		snapshot["regimeTransition"] = a.detector.IsRegimeTransition()
	}

	return snapshot, nil
}

// CandidateRegistry remembers which strategy produced each candidate ID
// across a cycle, since an EvaluationJob only carries the candidate ID —
// the evaluation handler needs it to look up which strategy to replay.
type CandidateRegistry struct {
	mu   sync.Mutex
	byID map[string]types.CandidateIdea
}

// NewCandidateRegistry creates an empty registry.
func NewCandidateRegistry() *CandidateRegistry {
	return &CandidateRegistry{byID: make(map[string]types.CandidateIdea)}
}

// Put records a candidate under its ID.
func (r *CandidateRegistry) Put(c types.CandidateIdea) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = c
}

// Get looks up a previously recorded candidate by ID.
func (r *CandidateRegistry) Get(id string) (types.CandidateIdea, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	return c, ok
}

// IdeaTheorizer turns the registered strategy catalogue into candidate
// ideas for the theorize node, one candidate per registered strategy per
// configured instrument.
type IdeaTheorizer struct {
	logger      *zap.Logger
	registry    *strategy.StrategyRegistry
	candidates  *CandidateRegistry
	instruments []string
	timeframe   types.Timeframe
}

// NewIdeaTheorizer builds a theorizer over a strategy registry. candidates
// is shared with the evaluation handler so it can resolve a job's
// candidate ID back to the strategy that produced it.
func NewIdeaTheorizer(logger *zap.Logger, registry *strategy.StrategyRegistry, candidates *CandidateRegistry, instruments []string, timeframe types.Timeframe) *IdeaTheorizer {
	return &IdeaTheorizer{logger: logger.Named("theorizer"), registry: registry, candidates: candidates, instruments: instruments, timeframe: timeframe}
}

// Theorize implements orchestrator.Theorizer.
func (t *IdeaTheorizer) Theorize(ctx context.Context, state types.CycleState) ([]types.CandidateIdea, error) {
	now := time.Now()
	candidates := make([]types.CandidateIdea, 0, len(t.registry.List())*len(t.instruments))

	for _, name := range t.registry.List() {
		strat, ok := t.registry.Create(name)
		if !ok {
			continue
		}
		category := categoryFor(name)
		for _, instrument := range t.instruments {
			candidate := types.CandidateIdea{
				ID:          fmt.Sprintf("%s-%s-%d", name, instrument, now.UnixNano()),
				Name:        strat.Name(),
				Category:    category,
				Instruments: []string{instrument},
				Timeframe:   t.timeframe,
				Parameters:  parametersOf(strat),
				Risk: types.CandidateRiskParams{
					MaxPositionFraction: decimal.NewFromFloat(0.1),
					StopLossFraction:    decimal.NewFromFloat(0.02),
					TakeProfitFraction:  decimal.NewFromFloat(0.04),
					MaxLeverage:         decimal.NewFromInt(1),
				},
				Confidence: decimal.NewFromFloat(0.5),
				Rationale:  strat.Description(),
				Status:     types.CandidateStatusPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			candidates = append(candidates, candidate)
			t.candidates.Put(candidate)
		}
	}

	return candidates, nil
}

func categoryFor(strategyName string) types.CandidateCategory {
	switch strategyName {
	case "mean_reversion", "vwap_reversion", "grid":
		return types.CategoryMeanReversion
	case "momentum", "trend_following", "breakout":
		return types.CategoryTrendFollowing
	default:
		return types.CategoryTrendFollowing
	}
}

func parametersOf(strat strategy.Strategy) map[string]any {
	params := make(map[string]any, len(strat.Parameters()))
	for name, p := range strat.Parameters() {
		params[name] = p.Current
	}
	return params
}

// RankedSelector picks the highest-scoring evaluated candidate that
// cleared activation, and sizes its entry through the position sizer
// before handing it to the risk gate.
type RankedSelector struct {
	logger *zap.Logger
	sizer  *sizing.PositionSizer

	mu             sync.Mutex
	tradeHistory   map[string][]sizing.TradeResult
	portfolioValue decimal.Decimal
}

// NewRankedSelector builds a selector backed by a shared position sizer.
func NewRankedSelector(logger *zap.Logger, sizer *sizing.PositionSizer, portfolioValue decimal.Decimal) *RankedSelector {
	return &RankedSelector{logger: logger.Named("selector"), sizer: sizer, tradeHistory: make(map[string][]sizing.TradeResult), portfolioValue: portfolioValue}
}

// Select implements orchestrator.Selector: it picks the best activation
// candidate from this cycle's evaluation results and turns it into a
// sized trade signal.
func (s *RankedSelector) Select(ctx context.Context, state types.CycleState) (*types.CandidateIdea, *types.Signal, error) {
	var best *types.EvaluationResult
	for i := range state.Payload.EvaluationResults {
		r := &state.Payload.EvaluationResults[i]
		if !r.Success || r.Report == nil || !r.Report.Assessment.ShouldActivate {
			continue
		}
		if best == nil || r.Report.Assessment.Score > best.Report.Assessment.Score {
			best = r
		}
	}
	if best == nil {
		return nil, nil, nil
	}

	var candidate *types.CandidateIdea
	for i := range state.Payload.Candidates {
		if state.Payload.Candidates[i].ID == best.CandidateID {
			candidate = &state.Payload.Candidates[i]
			break
		}
	}
	if candidate == nil {
		return nil, nil, nil
	}

	req := &sizing.SizingRequest{
		Symbol:         best.Instrument,
		PortfolioValue: s.portfolioValue,
		WinRate:        decimalToFloat(best.Report.WinRate),
		AvgWin:         decimalToFloat(best.Report.AvgWin),
		AvgLoss:        decimalToFloat(best.Report.AvgLoss),
		Confidence:     decimalToFloat(candidate.Confidence),
	}
	sized := s.sizer.CalculateSize(req)

	signal := &types.Signal{
		ID:         fmt.Sprintf("sig-%s", best.JobID),
		Symbol:     best.Instrument,
		Type:       types.SignalTypeEntry,
		Side:       types.OrderSideBuy,
		Confidence: candidate.Confidence,
		Source:     candidate.Name,
		Timeframe:  candidate.Timeframe,
		Indicators: map[string]any{"positionUnits": sized.PositionUnits, "kellyUsed": sized.KellyUsed},
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}

	return candidate, signal, nil
}

func decimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// GateInputAdapter assembles the safety gate's input from the cycle's
// selected candidate/signal plus the risk manager and regime detector's
// live state.
type GateInputAdapter struct {
	logger   *zap.Logger
	riskMgr  *execution.RiskManager
	detector *regime.RegimeDetector
	store    *data.Store
	cfg      GateInputConfig
}

// GateInputConfig names the static limits the gate checks every cycle
// against (§6 options table).
type GateInputConfig struct {
	MaxGasPrice         decimal.Decimal
	MaxTradeSize        decimal.Decimal
	MinPoolLiquidity    decimal.Decimal
	MaxSlippage         decimal.Decimal
	MaxRebalancesPerDay int
}

// NewGateInputAdapter builds a gate input builder over the shared risk
// manager, regime detector, and the data store's persisted daily-rebalance
// counter.
func NewGateInputAdapter(logger *zap.Logger, riskMgr *execution.RiskManager, detector *regime.RegimeDetector, store *data.Store, cfg GateInputConfig) *GateInputAdapter {
	return &GateInputAdapter{logger: logger.Named("gate-input"), riskMgr: riskMgr, detector: detector, store: store, cfg: cfg}
}

// BuildGateInput implements orchestrator.GateInputBuilder.
func (g *GateInputAdapter) BuildGateInput(ctx context.Context, state types.CycleState) (orchestrator.GateInput, error) {
	in := orchestrator.GateInput{
		MaxGasPrice:         g.cfg.MaxGasPrice,
		MaxTradeSize:        g.cfg.MaxTradeSize,
		MinPoolLiquidity:    g.cfg.MinPoolLiquidity,
		PoolLiquidity:       g.cfg.MinPoolLiquidity, // no live liquidity feed wired yet; never trips this check
		MaxSlippage:         g.cfg.MaxSlippage,
		MaxRebalancesPerDay: g.cfg.MaxRebalancesPerDay,
	}

	stats := g.riskMgr.GetStats()
	in.EmergencyHalt = stats.IsDisabled

	if state.Payload.Signal != nil {
		in.TradeSize = state.Payload.Signal.Price
	}

	if regimeState := g.detector.GetCurrentRegime(); regimeState != nil && g.detector.IsRegimeTransition() {
		in.AnomalySeverity = types.SeverityWarning
	}

	day := state.StartedAt.UTC().Format("2006-01-02")
	in.RebalancesToday = g.store.IncrementDailyCounter(day, "rebalances")

	return in, nil
}

// VenueExecutorAdapter submits an approved signal to the venue executor.
type VenueExecutorAdapter struct {
	logger   *zap.Logger
	executor *execution.Executor
	exchange string
}

// NewVenueExecutorAdapter wraps a concrete Executor as a VenueExecutor.
func NewVenueExecutorAdapter(logger *zap.Logger, executor *execution.Executor, exchange string) *VenueExecutorAdapter {
	return &VenueExecutorAdapter{logger: logger.Named("venue-executor"), executor: executor, exchange: exchange}
}

// Execute implements orchestrator.VenueExecutor.
func (v *VenueExecutorAdapter) Execute(ctx context.Context, signal types.Signal, decision types.RiskDecision) (types.ExecutionOutcome, error) {
	result, err := v.executor.Execute(ctx, &signal, v.exchange)
	if err != nil {
		return types.ExecutionOutcome{SignalID: signal.ID, Success: false, Error: err.Error(), ExecutedAt: time.Now()}, err
	}
	return types.ExecutionOutcome{
		SignalID:   signal.ID,
		Success:    result.Status == "filled",
		FilledQty:  result.FilledQty,
		FilledPx:   result.AvgPrice,
		ExecutedAt: result.Timestamp,
	}, nil
}

// FeedbackLearner records the cycle's execution outcome in the position
// sizer's trade history, which GetTradeStatistics reads back. The risk
// manager it holds is not updated.
type FeedbackLearner struct {
	logger  *zap.Logger
	sizer   *sizing.PositionSizer
	riskMgr *execution.RiskManager
}

// NewFeedbackLearner builds a learner over the shared sizer and risk
// manager.
func NewFeedbackLearner(logger *zap.Logger, sizer *sizing.PositionSizer, riskMgr *execution.RiskManager) *FeedbackLearner {
	return &FeedbackLearner{logger: logger.Named("learner"), sizer: sizer, riskMgr: riskMgr}
}

// Learn implements orchestrator.Learner.
func (l *FeedbackLearner) Learn(ctx context.Context, state types.CycleState) error {
	outcome := state.Payload.ExecutionOutcome
	if outcome == nil || state.Payload.Signal == nil {
		return nil
	}

	l.sizer.AddTradeResult(&sizing.TradeResult{
		Symbol:    state.Payload.Signal.Symbol,
		Entry:     state.Payload.Signal.Price,
		Exit:      outcome.FilledPx,
		IsWin:     outcome.Success,
		RiskTaken: outcome.FilledQty,
	})

	l.logger.Debug("cycle learned",
		zap.String("cycleId", state.CycleID),
		zap.Bool("executionSuccess", outcome.Success),
	)
	return nil
}
