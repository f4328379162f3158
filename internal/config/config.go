// Package config loads process configuration for the execution pipeline
// from a config file, environment variables, and built-in defaults, using
// viper the way the teacher's go.mod already commits to (spf13/viper plus
// its fsnotify/go-toml transitive deps).
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/atlas-desktop/execution-pipeline/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config aggregates the option groups from the external interfaces table:
// queue, breaker, orchestrator, engine and server settings. Each group
// reuses the config type pkg/types already defines rather than a parallel
// shape.
type Config struct {
	Queue        types.QueueConfig        `mapstructure:"queue"`
	Breaker      types.BreakerConfig      `mapstructure:"breaker"`
	Orchestrator types.OrchestratorConfig `mapstructure:"orchestrator"`
	Engine       types.EngineConfig       `mapstructure:"engine"`
	Server       types.ServerConfig       `mapstructure:"server"`
	Data         types.DataConfig         `mapstructure:"data"`
}

// Load reads configuration from the given file path (if non-empty and the
// file exists), then EXEC_PIPELINE-prefixed environment variables, layered
// over built-in defaults. A missing config file is not an error — the
// process runs on defaults and env overrides alone.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EXEC_PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decimalDecodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue.queueName", "evaluation")
	v.SetDefault("queue.workerCount", 4)
	v.SetDefault("queue.concurrencyPerWorker", 4)
	v.SetDefault("queue.lockDurationMs", 30_000)
	v.SetDefault("queue.stalledIntervalMs", 5_000)
	v.SetDefault("queue.maxStalledRedeliveries", 3)
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoffBaseMs", 5_000)
	v.SetDefault("queue.retainCompleted.count", 1000)
	v.SetDefault("queue.retainFailed.count", 1000)

	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.resetMs", 60_000)

	v.SetDefault("orchestrator.maxConsecutiveErrors", 5)
	v.SetDefault("orchestrator.cycleIntervalMs", int(time.Minute/time.Millisecond))
	v.SetDefault("orchestrator.emergencyHaltOnStart", false)

	v.SetDefault("engine.initialCapital", "100000")
	v.SetDefault("engine.fillModel", string(types.FillModelStandard))
	v.SetDefault("engine.commissionRate", "0.001")
	v.SetDefault("engine.slippageBps", "5")
	v.SetDefault("engine.latencyMs", 0)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocketPath", "/ws")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.maxConnections", 100)
	v.SetDefault("server.enableMetrics", true)
	v.SetDefault("server.metricsPort", 9090)

	v.SetDefault("data.dataDir", "./data")
	v.SetDefault("data.cacheSize", 256)
	v.SetDefault("data.compressionType", "none")
}

func (c *Config) validate() error {
	if c.Queue.WorkerCount <= 0 {
		return fmt.Errorf("queue.workerCount must be positive, got %d", c.Queue.WorkerCount)
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be positive, got %d", c.Breaker.Threshold)
	}
	if c.Orchestrator.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("orchestrator.maxConsecutiveErrors must be positive, got %d", c.Orchestrator.MaxConsecutiveErrors)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// CycleInterval converts the orchestrator's millisecond option into a
// time.Duration for internal/orchestrator.Config.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Orchestrator.CycleIntervalMs) * time.Millisecond
}

// BreakerReset converts the breaker's millisecond option into a
// time.Duration for internal/breaker.Config.
func (c *Config) BreakerReset() time.Duration {
	return time.Duration(c.Breaker.ResetMs) * time.Millisecond
}

// decimalDecodeHook lets viper unmarshal plain strings/numbers in the
// config file into shopspring/decimal.Decimal fields.
func decimalDecodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(decimalHookFunc)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHookFunc(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != decimalType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		return decimal.NewFromString(data.(string))
	case reflect.Float32, reflect.Float64:
		return decimal.NewFromFloat(reflect.ValueOf(data).Float()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decimal.NewFromInt(reflect.ValueOf(data).Int()), nil
	default:
		return data, nil
	}
}
