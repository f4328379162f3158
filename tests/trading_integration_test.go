// Package tests provides integration tests spanning strategy, execution
// and backtester components together.
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/backtester"
	"github.com/atlas-desktop/execution-pipeline/internal/execution"
	"github.com/atlas-desktop/execution-pipeline/internal/strategy"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/atlas-desktop/execution-pipeline/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestStrategiesAgainstSyntheticBars(t *testing.T) {
	logger := zap.NewNop()
	bars := generateTestBars(1000)

	for _, name := range []string{"momentum", "mean_reversion", "breakout"} {
		name := name
		t.Run(name, func(t *testing.T) {
			registry := strategy.NewStrategyRegistry(logger)
			strat, ok := registry.Create(name)
			if !ok {
				t.Fatalf("failed to create %s strategy", name)
			}
			if err := strat.Initialize(context.Background()); err != nil {
				t.Fatal(err)
			}

			signalCount := 0
			for _, bar := range bars {
				signal, err := strat.OnBar(bar)
				if err != nil {
					t.Fatal(err)
				}
				if signal != nil {
					signalCount++
				}
			}
			t.Logf("%s generated %d signals from %d bars", name, signalCount, len(bars))
		})
	}
}

func TestRiskManager(t *testing.T) {
	logger := zap.NewNop()

	config := execution.DefaultRiskConfig()
	config.MaxPositionSize = decimal.NewFromInt(1000)
	config.MaxDailyLoss = decimal.NewFromInt(500)
	config.MaxDailyTrades = 20

	rm := execution.NewRiskManager(logger, config)
	ctx := context.Background()

	t.Run("ApproveValidOrder", func(t *testing.T) {
		order := &types.Order{
			ID:       utils.GenerateOrderID(),
			Symbol:   "BTCUSDT",
			Side:     types.OrderSideBuy,
			Type:     types.OrderTypeMarket,
			Quantity: decimal.NewFromFloat(0.1),
			Price:    decimal.NewFromInt(50000),
		}

		result := rm.CheckOrder(ctx, order, decimal.NewFromInt(10000))
		if !result.Approved {
			t.Errorf("expected order to be approved, got violations: %v", result.Violations)
		}
	})

	t.Run("RejectOversizedOrder", func(t *testing.T) {
		order := &types.Order{
			ID:       utils.GenerateOrderID(),
			Symbol:   "BTCUSDT",
			Side:     types.OrderSideBuy,
			Type:     types.OrderTypeMarket,
			Quantity: decimal.NewFromFloat(1),
			Price:    decimal.NewFromInt(50000),
		}

		result := rm.CheckOrder(ctx, order, decimal.NewFromInt(10000))
		t.Logf("result: approved=%v, warnings=%v", result.Approved, result.Warnings)
		if result.Approved {
			t.Error("expected an order worth 50000 to be rejected by the 10000 order and position value limits")
		}
	})

	t.Run("KillSwitchActivation", func(t *testing.T) {
		rm.ManualKillSwitch("test activation", time.Hour)

		order := &types.Order{
			ID:       utils.GenerateOrderID(),
			Symbol:   "ETHUSDT",
			Side:     types.OrderSideBuy,
			Type:     types.OrderTypeMarket,
			Quantity: decimal.NewFromFloat(0.1),
			Price:    decimal.NewFromInt(3000),
		}

		result := rm.CheckOrder(ctx, order, decimal.NewFromInt(10000))
		if result.Approved {
			t.Error("expected order to be rejected while the kill switch is active")
		}

		rm.DisableKillSwitch()
	})
}

func TestOrderManager(t *testing.T) {
	logger := zap.NewNop()
	om := execution.NewOrderManager(logger)

	t.Run("TrackOrder", func(t *testing.T) {
		order := &types.Order{
			ID:       utils.GenerateOrderID(),
			Symbol:   "BTCUSDT",
			Side:     types.OrderSideBuy,
			Type:     types.OrderTypeLimit,
			Quantity: decimal.NewFromFloat(0.5),
			Price:    decimal.NewFromInt(48000),
			Status:   types.OrderStatusOpen,
		}

		managed := om.TrackOrder(order, "paper", "")
		if managed == nil {
			t.Fatal("expected a tracked order")
		}

		tracked := om.GetOrder(order.ID)
		if tracked == nil {
			t.Fatal("failed to retrieve tracked order")
		}
		if tracked.Order.ID != order.ID {
			t.Error("order ID mismatch")
		}
	})

	t.Run("RecordFill", func(t *testing.T) {
		order := &types.Order{
			ID:       utils.GenerateOrderID(),
			Symbol:   "ETHUSDT",
			Side:     types.OrderSideBuy,
			Type:     types.OrderTypeLimit,
			Quantity: decimal.NewFromFloat(1.0),
			Price:    decimal.NewFromInt(3000),
			Status:   types.OrderStatusOpen,
		}
		om.TrackOrder(order, "paper", "")

		om.RecordFill(execution.OrderFill{
			OrderID:   order.ID,
			TradeID:   utils.GenerateTradeID(),
			Quantity:  decimal.NewFromFloat(0.5),
			Price:     decimal.NewFromInt(2995),
			Commission: decimal.NewFromFloat(0.5),
			Timestamp: time.Now(),
		})

		tracked := om.GetOrder(order.ID)
		if tracked.FilledQty.String() != "0.5" {
			t.Errorf("expected filled qty 0.5, got %s", tracked.FilledQty)
		}

		om.RecordFill(execution.OrderFill{
			OrderID:   order.ID,
			TradeID:   utils.GenerateTradeID(),
			Quantity:  decimal.NewFromFloat(0.5),
			Price:     decimal.NewFromInt(3000),
			Commission: decimal.NewFromFloat(0.5),
			Timestamp: time.Now(),
		})

		tracked = om.GetOrder(order.ID)
		if tracked.Status != execution.OrderStatusFilled {
			t.Errorf("expected status filled, got %s", tracked.Status)
		}
	})

	t.Run("PositionTracking", func(t *testing.T) {
		position := om.GetPosition("ETHUSDT")
		if position == nil {
			t.Fatal("expected a position to exist")
		}
		if position.Quantity.IsZero() {
			t.Error("expected a non-zero position quantity")
		}
	})
}

func TestSlippageCalculator(t *testing.T) {
	logger := zap.NewNop()
	config := execution.DefaultSlippageConfig()
	sc := execution.NewSlippageCalculator(logger, config)

	t.Run("EstimateSlippage", func(t *testing.T) {
		order := &types.Order{
			ID:       utils.GenerateOrderID(),
			Symbol:   "BTCUSDT",
			Side:     types.OrderSideBuy,
			Type:     types.OrderTypeMarket,
			Quantity: decimal.NewFromFloat(0.5),
			Price:    decimal.NewFromInt(50000),
		}
		market := execution.MarketData{
			Symbol:    "BTCUSDT",
			Price:     decimal.NewFromInt(50000),
			Bid:       decimal.NewFromInt(49990),
			Ask:       decimal.NewFromInt(50010),
			Volume24h: decimal.NewFromInt(1_000_000),
			ATR:       decimal.NewFromInt(500),
			Liquidity: decimal.NewFromInt(100_000),
		}

		estimate := sc.EstimateSlippage(order, market)
		if estimate.ExpectedSlippage.LessThan(decimal.Zero) {
			t.Error("expected a non-negative slippage estimate")
		}
		t.Logf("estimated slippage: %.4f%% (range: %.4f%% - %.4f%%)",
			estimate.ExpectedSlippage.Mul(decimal.NewFromInt(100)).InexactFloat64(),
			estimate.SlippageRange.Min.Mul(decimal.NewFromInt(100)).InexactFloat64(),
			estimate.SlippageRange.Max.Mul(decimal.NewFromInt(100)).InexactFloat64(),
		)
	})
}

func TestBacktesterEngine(t *testing.T) {
	logger := zap.NewNop()
	registry := strategy.NewStrategyRegistry(logger)
	strat, ok := registry.Create("momentum")
	if !ok {
		t.Fatal("failed to create momentum strategy")
	}
	if err := strat.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	ohlcv := generateTestBars(500)
	bars := make([]types.Bar, len(ohlcv))
	for i, c := range ohlcv {
		bars[i] = types.Bar{
			Instrument: "BTCUSDT",
			Timestamp:  c.Timestamp,
			Open:       c.Open,
			High:       c.High,
			Low:        c.Low,
			Close:      c.Close,
			Volume:     c.Volume,
		}
	}

	engine := backtester.NewEngine(logger, types.EngineConfig{
		InitialCapital: decimal.NewFromInt(10000),
		CommissionRate: decimal.NewFromFloat(0.001),
	})

	result, err := engine.Run(context.Background(), strat, bars)
	if err != nil {
		t.Fatal(err)
	}
	var finalEquity decimal.Decimal
	if n := len(result.EquityCurve); n > 0 {
		finalEquity = result.EquityCurve[n-1].Equity
	}
	t.Logf("final equity: %.2f, trades: %d", finalEquity.InexactFloat64(), len(result.Trades))
}

func TestUtils(t *testing.T) {
	t.Run("GenerateIDs", func(t *testing.T) {
		orderID := utils.GenerateOrderID()
		tradeID := utils.GenerateTradeID()
		signalID := utils.GenerateSignalID()

		if len(orderID) == 0 || len(tradeID) == 0 || len(signalID) == 0 {
			t.Error("generated IDs should not be empty")
		}

		ids := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			id := utils.GenerateOrderID()
			if ids[id] {
				t.Error("duplicate ID generated")
			}
			ids[id] = true
		}
	})

	t.Run("EMACalculator", func(t *testing.T) {
		ema := utils.NewEMA(14)
		for i := 0; i < 20; i++ {
			ema.Add(decimal.NewFromInt(int64(100 + i)))
		}
		if current := ema.Current(); !current.IsPositive() {
			t.Error("EMA should be positive")
		}
	})

	t.Run("SMACalculator", func(t *testing.T) {
		sma := utils.NewSMA(5)
		var last decimal.Decimal
		for _, v := range []int64{10, 20, 30, 40, 50} {
			last = sma.Add(decimal.NewFromInt(v))
		}
		if expected := decimal.NewFromInt(30); !last.Equal(expected) {
			t.Errorf("expected SMA %s, got %s", expected, last)
		}
	})

	t.Run("Statistics", func(t *testing.T) {
		values := []decimal.Decimal{
			decimal.NewFromInt(10), decimal.NewFromInt(20), decimal.NewFromInt(30),
			decimal.NewFromInt(40), decimal.NewFromInt(50),
		}
		if mean := utils.CalculateMean(values); !mean.Equal(decimal.NewFromInt(30)) {
			t.Errorf("expected mean 30, got %s", mean)
		}
		if stdDev := utils.CalculateStdDev(values); !stdDev.IsPositive() {
			t.Error("stdDev should be positive")
		}
	})
}

// generateTestBars produces deterministic synthetic OHLCV data for a
// single instrument.
func generateTestBars(count int) []types.OHLCV {
	bars := make([]types.OHLCV, count)
	basePrice := 50000.0
	baseTime := time.Now().Add(-time.Duration(count) * time.Hour)

	for i := 0; i < count; i++ {
		trend := float64(i) * 0.5
		noise := float64((i*17)%100-50) * 0.5
		price := basePrice + trend + noise

		high := price * (1 + float64((i*13)%10)*0.001)
		low := price * (1 - float64((i*7)%10)*0.001)
		open := price * (1 + float64((i*11)%5-2)*0.001)
		volume := 100.0 + float64((i*23)%200)

		bars[i] = types.OHLCV{
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(high),
			Low:       decimal.NewFromFloat(low),
			Close:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromFloat(volume),
			Timestamp: baseTime.Add(time.Duration(i) * time.Hour),
		}
	}

	return bars
}
