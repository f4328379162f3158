// Package backtester replays a strategy against historical bars and
// produces a Performance Report. The engine is pure: no wall-clock reads,
// no I/O, no goroutines — identical (bars, config, strategy) inputs
// produce an identical trade sequence and equity curve every run.
package backtester

import (
	"context"
	"fmt"
	"sort"

	"github.com/atlas-desktop/execution-pipeline/internal/clock"
	"github.com/atlas-desktop/execution-pipeline/internal/strategy"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrEmptyBars is returned when Run is given no bars to replay.
var ErrEmptyBars = fmt.Errorf("backtester: bars must be non-empty and time-sorted")

// StrategyError wraps a panic or error raised from a strategy callback,
// terminating the run with no partial report.
type StrategyError struct {
	Cause error
}

func (e *StrategyError) Error() string { return fmt.Sprintf("strategy-error: %v", e.Cause) }
func (e *StrategyError) Unwrap() error { return e.Cause }

// Engine owns one backtest replay: a simulated clock, a shadow portfolio,
// and the configured fill model.
type Engine struct {
	logger *zap.Logger
	cfg    types.EngineConfig
}

// NewEngine creates an Engine for one job's configuration. A nil logger
// is replaced with a no-op logger so the engine never needs a nil check.
func NewEngine(logger *zap.Logger, cfg types.EngineConfig) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InitialCapital.IsZero() {
		cfg.InitialCapital = decimal.NewFromInt(100000)
	}
	if cfg.FillModel == "" {
		cfg.FillModel = types.FillModelStandard
	}
	return &Engine{logger: logger.Named("backtester"), cfg: cfg}
}

// Run replays strat against bars in order, producing a BacktestResult.
// bars must be non-empty and sorted by Timestamp ascending; Run does not
// sort them itself, since silently reordering caller data would mask a
// bug in the data path.
func (e *Engine) Run(ctx context.Context, strat strategy.Strategy, bars []types.Bar) (*types.BacktestResult, error) {
	if len(bars) == 0 {
		return nil, ErrEmptyBars
	}
	if !sort.SliceIsSorted(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) }) {
		return nil, ErrEmptyBars
	}

	portfolio := NewPortfolio(e.cfg.InitialCapital)
	simClock := clock.NewSimClock(bars[0].Timestamp)

	var trades []types.Trade
	equityCurve := make([]types.EquityCurvePoint, 0, len(bars))

	for _, bar := range bars {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		simClock.AdvanceTo(bar.Timestamp)

		if trade, ok := e.checkExit(portfolio, bar); ok {
			trades = append(trades, trade)
		}

		signal, err := func() (sig *strategy.Signal, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return strat.OnBar(bar.OHLCV())
		}()
		if err != nil {
			return nil, &StrategyError{Cause: err}
		}
		if signal != nil {
			if trade, ok := e.fillSignal(portfolio, bar, signal); ok {
				trades = append(trades, trade)
			}
		}

		portfolio.UpdatePrice(bar.Instrument, bar.Close)
		equityCurve = append(equityCurve, types.EquityCurvePoint{
			Timestamp: bar.Timestamp,
			Equity:    portfolio.GetEquity(),
			Cash:      portfolio.GetCash(),
			Drawdown:  portfolio.GetDrawdown(),
		})
	}

	last := bars[len(bars)-1]
	portfolio.CloseAll(last.Timestamp)
	equityCurve = append(equityCurve, types.EquityCurvePoint{
		Timestamp: last.Timestamp,
		Equity:    portfolio.GetEquity(),
		Cash:      portfolio.GetCash(),
		Drawdown:  portfolio.GetDrawdown(),
	})

	metricsCalc := NewMetricsCalculator()
	tradePtrs := make([]*types.Trade, len(trades))
	for i := range trades {
		tradePtrs[i] = &trades[i]
	}
	metrics := metricsCalc.Calculate(tradePtrs, equityCurve, e.cfg.InitialCapital)
	riskMetrics := metricsCalc.CalculateRiskMetrics(equityCurve)

	return &types.BacktestResult{
		Metrics:         metrics,
		RiskMetrics:     riskMetrics,
		EquityCurve:     equityCurve,
		Trades:          trades,
		EventsProcessed: uint64(len(bars)),
	}, nil
}

// checkExit evaluates stop-loss/take-profit against the bar's extremes
// for the instrument's open position. Stop-loss wins when both trigger
// in the same bar (the conservative tie-break).
func (e *Engine) checkExit(portfolio *Portfolio, bar types.Bar) (types.Trade, bool) {
	pos := portfolio.GetPosition(bar.Instrument)
	if pos == nil || pos.Quantity.IsZero() {
		return types.Trade{}, false
	}

	var exitPrice decimal.Decimal
	var triggered bool

	if !pos.StopLoss.IsZero() && bar.Low.LessThanOrEqual(pos.StopLoss) {
		exitPrice = pos.StopLoss
		triggered = true
	} else if !pos.TakeProfit.IsZero() && bar.High.GreaterThanOrEqual(pos.TakeProfit) {
		exitPrice = pos.TakeProfit
		triggered = true
	}
	if !triggered {
		return types.Trade{}, false
	}

	commission := pos.Quantity.Mul(exitPrice).Mul(e.cfg.CommissionRate)
	qty := pos.Quantity
	pnl := portfolio.Sell(bar.Instrument, qty, exitPrice, commission)

	return types.Trade{
		Symbol:     bar.Instrument,
		Side:       types.OrderSideSell,
		Quantity:   qty,
		Price:      exitPrice,
		Commission: commission,
		PnL:        pnl,
		ExecutedAt: bar.Timestamp,
	}, true
}

// fillSignal simulates a fill for one strategy signal under the
// configured fill model and returns the resulting trade, if any capital
// was actually committed.
func (e *Engine) fillSignal(portfolio *Portfolio, bar types.Bar, sig *strategy.Signal) (types.Trade, bool) {
	price := e.fillPrice(bar, sig.Side)
	if price.IsZero() || price.IsNegative() {
		return types.Trade{}, false
	}

	switch sig.Side {
	case types.OrderSideBuy:
		strength := sig.Strength
		if strength.IsZero() {
			strength = decimal.NewFromFloat(0.1)
		}
		if strength.GreaterThan(decimal.NewFromInt(1)) {
			strength = decimal.NewFromInt(1)
		}
		available := portfolio.GetCash()
		notional := available.Mul(strength)
		qty := notional.Div(price)
		commission := notional.Mul(e.cfg.CommissionRate)
		if notional.Add(commission).GreaterThan(available) || qty.IsZero() || qty.IsNegative() {
			return types.Trade{}, false
		}
		portfolio.Buy(bar.Instrument, qty, price, commission, sig.StopLoss, sig.TakeProfit, bar.Timestamp)
		return types.Trade{
			Symbol:     bar.Instrument,
			Side:       types.OrderSideBuy,
			Quantity:   qty,
			Price:      price,
			Commission: commission,
			ExecutedAt: bar.Timestamp,
		}, true

	case types.OrderSideSell:
		pos := portfolio.GetPosition(bar.Instrument)
		if pos == nil || pos.Quantity.IsZero() {
			return types.Trade{}, false
		}
		qty := pos.Quantity
		commission := qty.Mul(price).Mul(e.cfg.CommissionRate)
		pnl := portfolio.Sell(bar.Instrument, qty, price, commission)
		return types.Trade{
			Symbol:     bar.Instrument,
			Side:       types.OrderSideSell,
			Quantity:   qty,
			Price:      price,
			Commission: commission,
			PnL:        pnl,
			ExecutedAt: bar.Timestamp,
		}, true
	}

	return types.Trade{}, false
}

// fillPrice resolves a signal's execution price under the configured
// fill model. STANDARD fills at the bar close with a flat bps cost
// charged symmetrically to both sides; PESSIMISTIC and OPTIMISTIC fill
// at the disadvantaging/advantaging touch of the bar's range instead,
// bounding the STANDARD estimate from both sides for sensitivity runs.
func (e *Engine) fillPrice(bar types.Bar, side types.OrderSide) decimal.Decimal {
	slippageFrac := e.cfg.SlippageBps.Div(decimal.NewFromInt(10000))
	barRange := bar.High.Sub(bar.Low)

	switch e.cfg.FillModel {
	case types.FillModelPessimistic:
		if side == types.OrderSideBuy {
			return bar.High.Add(barRange.Mul(slippageFrac))
		}
		return bar.Low.Sub(barRange.Mul(slippageFrac))
	case types.FillModelOptimistic:
		if side == types.OrderSideBuy {
			return bar.Low.Sub(barRange.Mul(slippageFrac))
		}
		return bar.High.Add(barRange.Mul(slippageFrac))
	default: // STANDARD
		offset := bar.Close.Mul(slippageFrac)
		if side == types.OrderSideBuy {
			return bar.Close.Add(offset)
		}
		return bar.Close.Sub(offset)
	}
}
