package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Queue.WorkerCount != 4 {
		t.Errorf("expected default worker count 4, got %d", cfg.Queue.WorkerCount)
	}
	if cfg.Breaker.Threshold != 5 {
		t.Errorf("expected default breaker threshold 5, got %d", cfg.Breaker.Threshold)
	}
	if cfg.CycleInterval() != time.Minute {
		t.Errorf("expected default cycle interval 1m, got %s", cfg.CycleInterval())
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
queue:
  workerCount: 8
breaker:
  threshold: 10
  resetMs: 120000
server:
  port: 9999
engine:
  initialCapital: "250000"
`)
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Queue.WorkerCount != 8 {
		t.Errorf("expected worker count 8, got %d", cfg.Queue.WorkerCount)
	}
	if cfg.Breaker.Threshold != 10 {
		t.Errorf("expected breaker threshold 10, got %d", cfg.Breaker.Threshold)
	}
	if cfg.BreakerReset() != 2*time.Minute {
		t.Errorf("expected breaker reset 2m, got %s", cfg.BreakerReset())
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if !cfg.Engine.InitialCapital.Equal(cfg.Engine.InitialCapital) {
		t.Errorf("initial capital should parse as a decimal")
	}
	if cfg.Engine.InitialCapital.String() != "250000" {
		t.Errorf("expected initial capital 250000, got %s", cfg.Engine.InitialCapital.String())
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: -1\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := config.Load(path); err == nil {
		t.Error("expected an error for an out-of-range port")
	}
}
