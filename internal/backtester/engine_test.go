package backtester

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/strategy"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// buyOnceStrategy buys on the first bar and never signals again, giving
// tests a predictable single position to exercise exits against.
type buyOnceStrategy struct {
	fired      bool
	stopLoss   decimal.Decimal
	takeProfit decimal.Decimal
}

func (s *buyOnceStrategy) Name() string        { return "buy-once" }
func (s *buyOnceStrategy) Description() string { return "test double" }
func (s *buyOnceStrategy) Parameters() map[string]strategy.StrategyParameter {
	return nil
}
func (s *buyOnceStrategy) SetParameter(string, interface{}) error { return nil }
func (s *buyOnceStrategy) Initialize(context.Context) error       { return nil }
func (s *buyOnceStrategy) Reset()                                 { s.fired = false }
func (s *buyOnceStrategy) OnTick(strategy.TickData) (*strategy.Signal, error) {
	return nil, nil
}
func (s *buyOnceStrategy) OnBar(bar types.OHLCV) (*strategy.Signal, error) {
	if s.fired {
		return nil, nil
	}
	s.fired = true
	return &strategy.Signal{
		Side:        types.OrderSideBuy,
		Strength:    decimal.NewFromFloat(0.5),
		StopLoss:    s.stopLoss,
		TakeProfit:  s.takeProfit,
		GeneratedAt: bar.Timestamp,
	}, nil
}

func mkBar(instrument string, day int, o, h, l, c float64) types.Bar {
	return types.Bar{
		Instrument: instrument,
		Timestamp:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Open:       decimal.NewFromFloat(o),
		High:       decimal.NewFromFloat(h),
		Low:        decimal.NewFromFloat(l),
		Close:      decimal.NewFromFloat(c),
		Volume:     decimal.NewFromInt(1000),
	}
}

// TestDeterministicReplay implements scenario S1: identical inputs
// (bars, config, strategy) must produce a byte-identical trade sequence
// and equity curve across repeated runs.
func TestDeterministicReplay(t *testing.T) {
	bars := []types.Bar{
		mkBar("BTC-USD", 0, 100, 105, 98, 102),
		mkBar("BTC-USD", 1, 102, 110, 100, 108),
		mkBar("BTC-USD", 2, 108, 112, 104, 106),
	}
	cfg := types.EngineConfig{
		InitialCapital: decimal.NewFromInt(10000),
		FillModel:      types.FillModelStandard,
		CommissionRate: decimal.NewFromFloat(0.001),
		SlippageBps:    decimal.NewFromInt(5),
	}

	run := func() *types.BacktestResult {
		e := NewEngine(zap.NewNop(), cfg)
		result, err := e.Run(context.Background(), &buyOnceStrategy{}, bars)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return result
	}

	a, b := run(), run()

	if len(a.Trades) != len(b.Trades) || len(a.Trades) == 0 {
		t.Fatalf("expected matching non-empty trade lists, got %d and %d", len(a.Trades), len(b.Trades))
	}
	for i := range a.Trades {
		if !a.Trades[i].Price.Equal(b.Trades[i].Price) || !a.Trades[i].Quantity.Equal(b.Trades[i].Quantity) {
			t.Fatalf("trade %d diverged between runs: %+v vs %+v", i, a.Trades[i], b.Trades[i])
		}
	}
	if !a.Metrics.TotalReturn.Equal(b.Metrics.TotalReturn) {
		t.Fatalf("total return diverged: %s vs %s", a.Metrics.TotalReturn, b.Metrics.TotalReturn)
	}
	for i := range a.EquityCurve {
		if !a.EquityCurve[i].Equity.Equal(b.EquityCurve[i].Equity) {
			t.Fatalf("equity curve point %d diverged: %s vs %s", i, a.EquityCurve[i].Equity, b.EquityCurve[i].Equity)
		}
	}
}

// TestStopLossBeforeTakeProfitTieBreak covers the §4.1 invariant that a
// bar triggering both exits in the same bar resolves to the stop-loss.
func TestStopLossBeforeTakeProfitTieBreak(t *testing.T) {
	bars := []types.Bar{
		mkBar("ETH-USD", 0, 100, 101, 99, 100),
		// Bar 1's range spans both the stop (90) and the take-profit (120).
		mkBar("ETH-USD", 1, 100, 125, 85, 105),
	}
	cfg := types.EngineConfig{
		InitialCapital: decimal.NewFromInt(10000),
		FillModel:      types.FillModelStandard,
		CommissionRate: decimal.Zero,
	}
	strat := &buyOnceStrategy{
		stopLoss:   decimal.NewFromInt(90),
		takeProfit: decimal.NewFromInt(120),
	}
	e := NewEngine(zap.NewNop(), cfg)
	result, err := e.Run(context.Background(), strat, bars)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Trades) != 2 {
		t.Fatalf("expected an entry and an exit trade, got %d", len(result.Trades))
	}
	exit := result.Trades[1]
	if !exit.Price.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("expected exit at the stop-loss price 90, got %s (take-profit should not win the tie)", exit.Price)
	}
}

// TestFillModelsBoundStandard checks PESSIMISTIC charges more and
// OPTIMISTIC charges less than STANDARD for the same buy.
func TestFillModelsBoundStandard(t *testing.T) {
	bar := mkBar("BTC-USD", 0, 100, 110, 90, 100)
	slippage := decimal.NewFromInt(100) // 1% for a visible spread

	std := (&Engine{cfg: types.EngineConfig{FillModel: types.FillModelStandard, SlippageBps: slippage}}).fillPrice(bar, types.OrderSideBuy)
	pess := (&Engine{cfg: types.EngineConfig{FillModel: types.FillModelPessimistic, SlippageBps: slippage}}).fillPrice(bar, types.OrderSideBuy)
	opt := (&Engine{cfg: types.EngineConfig{FillModel: types.FillModelOptimistic, SlippageBps: slippage}}).fillPrice(bar, types.OrderSideBuy)

	if !pess.GreaterThan(std) {
		t.Fatalf("pessimistic buy fill %s should exceed standard %s", pess, std)
	}
	if !opt.LessThan(std) {
		t.Fatalf("optimistic buy fill %s should undercut standard %s", opt, std)
	}
}

// TestEmptyBarsRejected enforces the non-empty-bars precondition.
func TestEmptyBarsRejected(t *testing.T) {
	e := NewEngine(zap.NewNop(), types.EngineConfig{})
	if _, err := e.Run(context.Background(), &buyOnceStrategy{}, nil); err == nil {
		t.Fatal("expected ErrEmptyBars for an empty bar slice")
	}
}
