// Package types provides shared type definitions for the execution pipeline.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a single market observation (a "candle") for one instrument.
// Timestamps across a replay sequence must be strictly monotonic
// non-decreasing.
type Bar struct {
	Instrument string          `json:"instrument"`
	Timestamp  time.Time       `json:"timestamp"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	BestBid    decimal.Decimal `json:"bestBid,omitempty"`
	BestAsk    decimal.Decimal `json:"bestAsk,omitempty"`
	BidSize    decimal.Decimal `json:"bidSize,omitempty"`
	AskSize    decimal.Decimal `json:"askSize,omitempty"`
	VWAP       decimal.Decimal `json:"vwap,omitempty"`
}

// OHLCV projects a Bar down to the plain candle shape strategies consume,
// dropping the book-depth fields they don't need.
func (b Bar) OHLCV() OHLCV {
	return OHLCV{
		Symbol:    b.Instrument,
		Timestamp: b.Timestamp,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

// CandidateCategory tags the broad family a candidate idea belongs to.
type CandidateCategory string

const (
	CategoryTrendFollowing CandidateCategory = "trend-following"
	CategoryMeanReversion  CandidateCategory = "mean-reversion"
	CategoryMarketMaking   CandidateCategory = "market-making"
	CategoryArbitrage      CandidateCategory = "arbitrage"
	CategoryMLPrediction   CandidateCategory = "ml-prediction"
)

// CandidateStatus is the lifecycle tag of a CandidateIdea as it moves
// through theorize -> evaluate -> select -> execute.
type CandidateStatus string

const (
	CandidateStatusPending   CandidateStatus = "pending"
	CandidateStatusQueued    CandidateStatus = "queued"
	CandidateStatusRunning   CandidateStatus = "running"
	CandidateStatusCompleted CandidateStatus = "completed"
	CandidateStatusFailed    CandidateStatus = "failed"
	CandidateStatusRejected  CandidateStatus = "rejected"
)

// CandidateRiskParams bounds how aggressively a candidate may be sized
// and exited once selected.
type CandidateRiskParams struct {
	MaxPositionFraction decimal.Decimal `json:"maxPositionFraction"`
	StopLossFraction    decimal.Decimal `json:"stopLossFraction"`
	TakeProfitFraction  decimal.Decimal `json:"takeProfitFraction"`
	MaxLeverage         decimal.Decimal `json:"maxLeverage"`
}

// MarketContext is the optional context snapshot a theorizer attaches to
// a candidate: the regime it was conceived under.
type MarketContext struct {
	RegimeTag      string          `json:"regimeTag"`
	Volatility     decimal.Decimal `json:"volatility"`
	TrendStrength  decimal.Decimal `json:"trendStrength"`
}

// CandidateIdea is a proposed strategy awaiting distributed evaluation.
type CandidateIdea struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Category    CandidateCategory      `json:"category"`
	Instruments []string               `json:"instruments"`
	Timeframe   Timeframe              `json:"timeframe"`
	Parameters  map[string]any         `json:"parameters"`
	EntryRules  []string               `json:"entryRules"`
	ExitRules   []string               `json:"exitRules"`
	Risk        CandidateRiskParams    `json:"risk"`
	Confidence  decimal.Decimal        `json:"confidence"`
	Rationale   string                 `json:"rationale"`
	Status      CandidateStatus        `json:"status"`
	Context     *MarketContext         `json:"context,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// Tier is the discrete quality label a Performance Report's scoring
// resolves to.
type Tier string

const (
	TierExcellent Tier = "EXCELLENT"
	TierGood      Tier = "GOOD"
	TierAcceptable Tier = "ACCEPTABLE"
	TierPoor      Tier = "POOR"
	TierRejected  Tier = "REJECTED"
)

// ViabilityThresholds are the pass/fail cutoffs used to score a
// Performance Report into a Tier.
type ViabilityThresholds struct {
	MinSharpe       decimal.Decimal `json:"minSharpe"`
	MinWinRate      decimal.Decimal `json:"minWinRate"`
	MaxDrawdown     decimal.Decimal `json:"maxDrawdown"`
	MinProfitFactor decimal.Decimal `json:"minProfitFactor"`
	MinTotalTrades  int             `json:"minTotalTrades"`
}

// ViabilityVerdict is the Tier, viability, and activation recommendation
// derived from a Performance Report under a fixed set of thresholds.
type ViabilityVerdict struct {
	Tier            Tier                `json:"tier"`
	Score           int                 `json:"score"`
	Viable          bool                `json:"viable"`
	ShouldActivate  bool                `json:"shouldActivate"`
	Reasons         []string            `json:"reasons"`
	Recommendations []string            `json:"recommendations"`
	Thresholds      ViabilityThresholds `json:"thresholds"`
}

// PerformanceReport is the structured output of one backtest run.
type PerformanceReport struct {
	InitialCapital     decimal.Decimal    `json:"initialCapital"`
	FinalCapital       decimal.Decimal    `json:"finalCapital"`
	TotalReturn        decimal.Decimal    `json:"totalReturn"`
	AnnualizedReturn   decimal.Decimal    `json:"annualizedReturn"`
	MaxDrawdown        decimal.Decimal    `json:"maxDrawdown"`
	SharpeRatio        decimal.Decimal    `json:"sharpeRatio"`
	SortinoRatio       decimal.Decimal    `json:"sortinoRatio"`
	CalmarRatio        decimal.Decimal    `json:"calmarRatio"`
	WinRate            decimal.Decimal    `json:"winRate"`
	ProfitFactor       decimal.Decimal    `json:"profitFactor"`
	TradeCount         int                `json:"tradeCount"`
	AvgWin             decimal.Decimal    `json:"avgWin"`
	AvgLoss            decimal.Decimal    `json:"avgLoss"`
	Expectancy         decimal.Decimal    `json:"expectancy"`
	RiskAdjustedReturn decimal.Decimal    `json:"riskAdjustedReturn"`
	ConsistencyScore   decimal.Decimal    `json:"consistencyScore"`
	Trades             []Trade            `json:"trades"`
	Assessment         ViabilityVerdict   `json:"assessment"`
}

// EvaluationJob is one unit of work submitted to the worker pool: replay
// one candidate against one instrument/timeframe/window.
type EvaluationJob struct {
	ID            string      `json:"id"`
	CandidateID   string      `json:"candidateId"`
	Instrument    string      `json:"instrument"`
	Timeframe     Timeframe   `json:"timeframe"`
	WindowDays    int         `json:"windowDays"`
	Engine        EngineConfig `json:"engine"`
	Priority      int         `json:"priority"`
	Attempt       int         `json:"attempt"`
	AttemptLimit  int         `json:"attemptLimit"`
}

// EvaluationResult is the outcome of running one EvaluationJob.
type EvaluationResult struct {
	JobID            string              `json:"jobId"`
	CandidateID      string              `json:"candidateId"`
	Instrument       string              `json:"instrument"`
	Success          bool                `json:"success"`
	Report           *PerformanceReport  `json:"report,omitempty"`
	Error            string              `json:"error,omitempty"`
	ProcessingTimeMs int64               `json:"processingTimeMs"`
	BarsProcessed    int                 `json:"barsProcessed"`
	Timestamp        time.Time           `json:"timestamp"`
}

// CircuitBreakerRecord is the observable state of one named breaker.
type CircuitBreakerRecord struct {
	Name                string     `json:"name"`
	FailureThreshold    int        `json:"failureThreshold"`
	ResetTimeout        time.Duration `json:"resetTimeout"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	OpenSince           *time.Time `json:"openSince,omitempty"`
	IsOpen              bool       `json:"isOpen"`
}

// WorkerStats is the rolling statistics kept per worker and aggregated
// by the pool supervisor.
type WorkerStats struct {
	Processed          int64         `json:"processed"`
	Failed             int64         `json:"failed"`
	Active             int           `json:"active"`
	ProcessingTimesMs  []int64       `json:"-"`
	AvgProcessingTimeMs decimal.Decimal `json:"avgProcessingTimeMs"`
	LastProcessedAt    *time.Time    `json:"lastProcessedAt,omitempty"`
	LastFailedAt       *time.Time    `json:"lastFailedAt,omitempty"`
}

// RiskDecision is the safety gate's verdict passed to the venue executor.
type RiskDecision struct {
	Approved   bool     `json:"approved"`
	IsPaused   bool     `json:"isPaused"`
	PauseReason string  `json:"pauseReason,omitempty"`
	Warnings   []string `json:"warnings"`
	Checks     []SafetyCheckResult `json:"checks"`
}

// SafetyCheckSeverity ranks how serious a failed safety check is.
type SafetyCheckSeverity string

const (
	SeverityInfo     SafetyCheckSeverity = "INFO"
	SeverityWarning  SafetyCheckSeverity = "WARNING"
	SeverityCritical SafetyCheckSeverity = "CRITICAL"
)

// SafetyCheckResult is the outcome of one safety-gate battery check.
type SafetyCheckResult struct {
	Name      string              `json:"name"`
	Passed    bool                `json:"passed"`
	Reason    string              `json:"reason,omitempty"`
	Severity  SafetyCheckSeverity `json:"severity"`
	Timestamp time.Time           `json:"timestamp"`
}

// ExecutionOutcome is the result of the venue executor acting on an
// approved signal.
type ExecutionOutcome struct {
	SignalID   string          `json:"signalId"`
	Success    bool            `json:"success"`
	FilledQty  decimal.Decimal `json:"filledQty"`
	FilledPx   decimal.Decimal `json:"filledPx"`
	Error      string          `json:"error,omitempty"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// CycleStep names one node in the orchestrator's fixed DAG.
type CycleStep string

const (
	StepContext   CycleStep = "context"
	StepTheorize  CycleStep = "theorize"
	StepEvaluate  CycleStep = "evaluate"
	StepSelect    CycleStep = "select"
	StepRiskGate  CycleStep = "risk-gate"
	StepExecute   CycleStep = "execute"
	StepLearn     CycleStep = "learn"
)

// CyclePayload is the domain-specific data a cycle accumulates as it
// traverses the DAG. Every field is optional; later steps populate what
// earlier steps left empty.
type CyclePayload struct {
	ContextData        map[string]any      `json:"contextData,omitempty"`
	Candidates         []CandidateIdea     `json:"candidates,omitempty"`
	EvaluationResults  []EvaluationResult  `json:"evaluationResults,omitempty"`
	Selected           *CandidateIdea      `json:"selected,omitempty"`
	Signal             *Signal             `json:"signal,omitempty"`
	RiskDecision       *RiskDecision       `json:"riskDecision,omitempty"`
	ExecutionOutcome   *ExecutionOutcome   `json:"executionOutcome,omitempty"`
}

// CycleState is the immutable-per-step record threaded through the
// orchestrator's DAG. It is produced by orchestrator.CreateInitial and
// transformed only by orchestrator.Apply(state, partial); no node mutates
// its input.
type CycleState struct {
	CycleID     string       `json:"cycleId"`
	CycleNumber int          `json:"cycleNumber"`
	StartedAt   time.Time    `json:"startedAt"`
	CurrentStep CycleStep    `json:"currentStep"`
	FinalStatus string       `json:"finalStatus,omitempty"`
	Thoughts    []string     `json:"thoughts"`
	Errors      []string     `json:"errors"`
	Warnings    []string     `json:"warnings"`
	Payload     CyclePayload `json:"payload"`
}
