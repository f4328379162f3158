// Package main provides the entry point for the execution pipeline server.
// It wires the seven-node research-to-execution cycle — context, theorize,
// evaluate, select, risk-gate, execute, learn — behind the existing
// HTTP/WebSocket API, and drives it on a ticker until shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/api"
	"github.com/atlas-desktop/execution-pipeline/internal/backtester"
	"github.com/atlas-desktop/execution-pipeline/internal/breaker"
	"github.com/atlas-desktop/execution-pipeline/internal/data"
	"github.com/atlas-desktop/execution-pipeline/internal/events"
	"github.com/atlas-desktop/execution-pipeline/internal/execution"
	"github.com/atlas-desktop/execution-pipeline/internal/metrics"
	"github.com/atlas-desktop/execution-pipeline/internal/orchestrator"
	"github.com/atlas-desktop/execution-pipeline/internal/pipeline"
	"github.com/atlas-desktop/execution-pipeline/internal/queue"
	"github.com/atlas-desktop/execution-pipeline/internal/regime"
	"github.com/atlas-desktop/execution-pipeline/internal/sizing"
	"github.com/atlas-desktop/execution-pipeline/internal/strategy"
	"github.com/atlas-desktop/execution-pipeline/internal/workers"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	host := flag.String("host", "localhost", "Server host")
	port := flag.Int("port", 8080, "Server port")
	dataDir := flag.String("data", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	paperTrading := flag.Bool("paper", true, "Enable paper trading mode")
	cycleInterval := flag.Duration("cycle-interval", time.Minute, "Interval between orchestrator cycles")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	logger.Info("Starting execution pipeline",
		zap.String("host", *host),
		zap.Int("port", *port),
		zap.String("dataDir", *dataDir),
		zap.Bool("paperTrading", *paperTrading),
		zap.Duration("cycleInterval", *cycleInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instruments := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}
	timeframe := types.Timeframe1h

	dataStore, err := data.NewStore(logger, *dataDir)
	if err != nil {
		logger.Fatal("failed to initialize data store", zap.Error(err))
	}

	strategyRegistry := strategy.NewStrategyRegistry(logger)
	logger.Info("registered strategies", zap.Strings("strategies", strategyRegistry.List()))

	regimeDetector := regime.NewRegimeDetector(logger, regime.DefaultRegimeConfig())
	positionSizer := sizing.NewPositionSizer(logger, sizing.DefaultSizingConfig())

	riskConfig := execution.DefaultRiskConfig()
	riskConfig.MaxDailyTrades = 50
	riskConfig.RiskPerTrade = decimal.NewFromFloat(0.02)
	riskManager := execution.NewRiskManager(logger, riskConfig)

	executorConfig := execution.DefaultExecutorConfig()
	executorConfig.PaperTrading = *paperTrading
	venueExecutor := execution.NewExecutor(logger, executorConfig)

	// Breaker registry: named circuit breakers for the execute, RPC and
	// evaluation-fetch node families.
	breakers := breaker.NewRegistry(logger, breaker.DefaultExecuteConfig)

	metricsRegistry := metrics.New()

	// Event bus carries lifecycle and evaluation events to any subscriber
	// (WebSocket hub, metrics, audit log).
	eventBus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	if err := eventBus.Start(ctx); err != nil {
		logger.Fatal("failed to start event bus", zap.Error(err))
	}

	// Durable priority job queue plus worker pool for the evaluate node's
	// backtest replay work.
	evalQueue := queue.New("evaluation", queue.Config{MaxStalledRedeliveries: 3})
	candidates := pipeline.NewCandidateRegistry()
	evalHandler := pipeline.NewEvaluationHandler(
		logger,
		dataStore,
		strategyRegistry,
		candidates,
		backtester.DefaultViabilityThresholds(),
		types.EngineConfig{
			InitialCapital: decimal.NewFromInt(100000),
			CommissionRate: decimal.NewFromFloat(0.001),
		},
	)
	supervisor := workers.NewPoolSupervisor(logger, evalQueue, evalHandler, workers.SupervisorConfig{
		Concurrency: 4,
	})
	supervisor.Start()

	// Orchestrator node adapters, grounded on the concrete domain packages.
	contextProvider := pipeline.NewMarketContextAdapter(logger, dataStore, regimeDetector, instruments, timeframe)
	theorizer := pipeline.NewIdeaTheorizer(logger, strategyRegistry, candidates, instruments, timeframe)
	selector := pipeline.NewRankedSelector(logger, positionSizer, decimal.NewFromInt(100000))
	gateInputs := pipeline.NewGateInputAdapter(logger, riskManager, regimeDetector, dataStore, pipeline.GateInputConfig{
		MaxGasPrice:         decimal.NewFromInt(200),
		MaxTradeSize:        decimal.NewFromInt(50000),
		MinPoolLiquidity:    decimal.NewFromInt(10000),
		MaxSlippage:         decimal.NewFromFloat(0.02),
		MaxRebalancesPerDay: 20,
	})
	venueExecutorAdapter := pipeline.NewVenueExecutorAdapter(logger, venueExecutor, "paper")
	learner := pipeline.NewFeedbackLearner(logger, positionSizer, riskManager)

	orch := orchestrator.New(
		logger,
		orchestrator.Config{
			MaxConsecutiveErrors: 5,
			CycleInterval:        *cycleInterval,
			EvaluationTimeout:    2 * time.Minute,
			ExecuteBreakerName:   "execute",
		},
		breakers,
		eventBus,
		supervisor,
		contextProvider,
		theorizer,
		selector,
		gateInputs,
		venueExecutorAdapter,
		learner,
	)

	serverConfig := &types.ServerConfig{
		Host:           *host,
		Port:           *port,
		WebSocketPath:  "/ws",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxConnections: 100,
		EnableMetrics:  true,
		MetricsPort:    9090,
	}
	server := api.NewServer(logger, serverConfig, dataStore, strategyRegistry)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	var metricsServer *http.Server
	if serverConfig.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsRegistry.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", *host, serverConfig.MetricsPort),
			Handler: mux,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	cycleDone := make(chan struct{})
	go runCycleLoop(ctx, orch, *cycleInterval, cycleDone, metricsRegistry)
	go reportQueueAndBreakerMetrics(ctx, evalQueue, breakers, metricsRegistry)

	logger.Info("execution pipeline started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", *host, *port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", *host, *port)),
		zap.Bool("paperTrading", *paperTrading),
		zap.Int("metricsPort", serverConfig.MetricsPort),
	)

	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	<-cycleDone

	supervisor.Stop()
	eventBus.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during metrics server shutdown", zap.Error(err))
		}
	}

	logger.Info("execution pipeline stopped")
}

// runCycleLoop drives RunCycle on cycleInterval until ctx is cancelled,
// then closes done, recording each cycle's outcome and duration.
func runCycleLoop(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration, done chan struct{}, m *metrics.Registry) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			started := time.Now()
			state := orch.RunCycle(ctx, fmt.Sprintf("cycle-%d", n))
			outcome := state.FinalStatus
			if outcome == "" {
				outcome = "unknown"
			}
			m.ObserveCycle(outcome, time.Since(started).Seconds())
		}
	}
}

// reportQueueAndBreakerMetrics polls the evaluation queue's depth and the
// breaker registry's trip state on a short interval, since neither pushes
// updates to a subscriber.
func reportQueueAndBreakerMetrics(ctx context.Context, q *queue.Queue, breakers *breaker.Registry, m *metrics.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	breakerNames := []string{"execute", "rpc", "evaluation-fetch"}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts := q.Counts()
			m.SetQueueDepth("evaluation", "waiting", counts.Waiting)
			m.SetQueueDepth("evaluation", "active", counts.Active)
			m.SetQueueDepth("evaluation", "delayed", counts.Delayed)
			m.SetQueueDepth("evaluation", "completed", counts.Completed)
			m.SetQueueDepth("evaluation", "failed", counts.Failed)

			for _, name := range breakerNames {
				status := breakers.GetStatus(name)
				m.SetBreakerOpen(name, status.IsOpen)
			}
		}
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
