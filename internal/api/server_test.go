// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
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

func setupTestServer(t *testing.T, port int) (*api.Server, string) {
	t.Helper()
	logger := zap.NewNop()

	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}
	strategies := strategy.NewStrategyRegistry(logger)

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

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	})

	return server, "http://localhost:" + strconv.Itoa(port)
}

func TestHealthEndpoint(t *testing.T) {
	_, baseURL := setupTestServer(t, 18090)

	resp, err := http.Get(baseURL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", result["status"])
	}
}

func TestSymbolsEndpoint(t *testing.T) {
	_, baseURL := setupTestServer(t, 18091)

	resp, err := http.Get(baseURL + "/api/v1/data/symbols")
	if err != nil {
		t.Fatalf("symbols request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var body struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Symbols) == 0 {
		t.Log("no symbols available (expected before any history is loaded)")
	}
}

func TestBacktestEndpoints(t *testing.T) {
	_, baseURL := setupTestServer(t, 18092)

	config := types.BacktestConfig{
		Symbols:        []string{"BTCUSDT"},
		StartDate:      time.Now().AddDate(0, -1, 0),
		EndDate:        time.Now(),
		Timeframe:      types.Timeframe1h,
		InitialCapital: decimal.NewFromInt(10000),
		Commission:     decimal.NewFromFloat(0.001),
		Strategy: types.StrategyConfig{
			Name: "momentum",
		},
	}
	body, _ := json.Marshal(config)

	resp, err := http.Post(baseURL+"/api/v1/backtest/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("backtest run request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var runResult map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&runResult); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	backtestID, _ := runResult["id"].(string)
	if backtestID == "" {
		t.Fatal("response missing backtest id")
	}

	time.Sleep(200 * time.Millisecond)

	resp, err = http.Get(baseURL + "/api/v1/backtest/" + backtestID)
	if err != nil {
		t.Fatalf("backtest status request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		t.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}

func TestBacktestNotFound(t *testing.T) {
	_, baseURL := setupTestServer(t, 18093)

	resp, err := http.Get(baseURL + "/api/v1/backtest/does-not-exist")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown backtest id, got %d", resp.StatusCode)
	}
}

func TestWebSocketPing(t *testing.T) {
	_, _ = setupTestServer(t, 18094)

	conn, _, err := websocket.DefaultDialer.Dial("ws://localhost:18094/ws", nil)
	if err != nil {
		t.Fatalf("websocket connection failed: %v", err)
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
		t.Errorf("expected echoed method 'ping', got %v", resp["method"])
	}
}

func TestConcurrentWebSocketConnections(t *testing.T) {
	_, _ = setupTestServer(t, 18095)

	const numConnections = 5
	conns := make([]*websocket.Conn, numConnections)
	for i := 0; i < numConnections; i++ {
		conn, _, err := websocket.DefaultDialer.Dial("ws://localhost:18095/ws", nil)
		if err != nil {
			t.Fatalf("connection %d failed: %v", i, err)
		}
		conns[i] = conn
		defer conn.Close()
	}

	for i, conn := range conns {
		req := map[string]interface{}{
			"id":     "ping",
			"type":   "request",
			"method": "ping",
		}
		if err := conn.WriteJSON(req); err != nil {
			t.Errorf("connection %d: failed to send ping: %v", i, err)
		}
	}

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var resp map[string]interface{}
		if err := conn.ReadJSON(&resp); err != nil {
			t.Errorf("connection %d: failed to read pong: %v", i, err)
			continue
		}
		if resp["method"] != "ping" {
			t.Errorf("connection %d: expected echoed method 'ping', got %v", i, resp["method"])
		}
	}
}
