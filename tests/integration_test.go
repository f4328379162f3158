// Package tests_test exercises the HTTP/WebSocket API end to end
// against a running server instance.
package tests_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/api"
	"github.com/atlas-desktop/execution-pipeline/internal/data"
	"github.com/atlas-desktop/execution-pipeline/internal/strategy"
	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TestFullBacktestWorkflow exercises the complete flow from API request
// to results: health check, symbol discovery, historical data, and a
// backtest run polled to completion.
func TestFullBacktestWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	logger := zap.NewNop()
	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}
	strategies := strategy.NewStrategyRegistry(logger)

	const port = 18082
	config := &types.ServerConfig{
		Host:          "localhost",
		Port:          port,
		WebSocketPath: "/ws",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
	server := api.NewServer(logger, config, dataStore, strategies)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	baseURL := "http://localhost:18082"
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()

	t.Log("step 1: health check")
	resp, err := http.Get(baseURL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health check returned %d", resp.StatusCode)
	}

	t.Log("step 2: list symbols")
	resp, err = http.Get(baseURL + "/api/v1/data/symbols")
	if err != nil {
		t.Fatalf("get symbols failed: %v", err)
	}
	var symbolsResp struct {
		Symbols []string `json:"symbols"`
	}
	json.NewDecoder(resp.Body).Decode(&symbolsResp)
	resp.Body.Close()
	if len(symbolsResp.Symbols) == 0 {
		t.Fatal("expected at least one default symbol")
	}
	symbol := symbolsResp.Symbols[0]

	t.Log("step 3: historical data")
	resp, err = http.Get(baseURL + "/api/v1/data/history/" + symbol + "?timeframe=1h")
	if err != nil {
		t.Fatalf("get history failed: %v", err)
	}
	var history struct {
		Bars  []types.OHLCV `json:"bars"`
		Count int           `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&history)
	resp.Body.Close()
	t.Logf("retrieved %d bars for %s", history.Count, symbol)

	t.Log("step 4: run backtest")
	backtestConfig := types.BacktestConfig{
		Symbols:        []string{symbol},
		StartDate:      time.Now().AddDate(0, -1, 0),
		EndDate:        time.Now(),
		Timeframe:      types.Timeframe1h,
		InitialCapital: decimal.NewFromInt(10000),
		Commission:     decimal.NewFromFloat(0.001),
		Strategy: types.StrategyConfig{
			Name: "momentum",
		},
	}
	configJSON, _ := json.Marshal(backtestConfig)

	resp, err = http.Post(baseURL+"/api/v1/backtest/run", "application/json", bytes.NewReader(configJSON))
	if err != nil {
		t.Fatalf("run backtest failed: %v", err)
	}
	var runResult map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&runResult)
	resp.Body.Close()

	backtestID, _ := runResult["id"].(string)
	if backtestID == "" {
		t.Fatal("expected a backtest id in the response")
	}
	t.Logf("backtest started: %s", backtestID)

	t.Log("step 5: poll for completion")
	var finalStatus string
	for i := 0; i < 30; i++ {
		time.Sleep(200 * time.Millisecond)

		resp, err = http.Get(baseURL + "/api/v1/backtest/" + backtestID)
		if err != nil {
			t.Logf("status check error: %v", err)
			continue
		}
		var status map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		finalStatus, _ = status["status"].(string)
		if finalStatus == "completed" || finalStatus == "failed" {
			break
		}
	}

	if finalStatus != "completed" {
		t.Fatalf("expected backtest to complete, final status: %q", finalStatus)
	}
}

// TestWebSocketPing sends a ping request over the WebSocket endpoint and
// checks that the response echoes its method.
func TestWebSocketPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	logger := zap.NewNop()
	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}
	strategies := strategy.NewStrategyRegistry(logger)

	const port = 18083
	config := &types.ServerConfig{
		Host:          "localhost",
		Port:          port,
		WebSocketPath: "/ws",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
	server := api.NewServer(logger, config, dataStore, strategies)

	go server.Start()
	time.Sleep(100 * time.Millisecond)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws://localhost:18083/ws", nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	req := map[string]interface{}{
		"id":     "ping-1",
		"type":   "request",
		"method": "ping",
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp map[string]interface{}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read pong: %v", err)
	}
	if resp["method"] != "ping" {
		t.Fatalf("expected echoed method 'ping', got %v", resp["method"])
	}
}
