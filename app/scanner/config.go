package scanner

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zephyr-analytics/zephscan/pkg/db/backend"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/ledger"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/workflow"
	"github.com/zephyr-analytics/zephscan/pkg/logging"
	"github.com/zephyr-analytics/zephscan/pkg/utils"
)

// Config is the scanner configuration. Values are layered: defaults, then the YAML file,
// then environment variables, then command line flags.
type Config struct {
	Node    NodeConfig     `yaml:"node"`
	Scan    ScanConfig     `yaml:"scan"`
	Store   backend.Config `yaml:"store"`
	Daemon  DaemonConfig   `yaml:"daemon"`
	Logging LoggingConfig  `yaml:"logging"`
}

type NodeConfig struct {
	URLs            []string      `yaml:"urls"`
	Timeout         time.Duration `yaml:"timeout"`
	RPS             int           `yaml:"rps"`
	Burst           int           `yaml:"burst"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type ScanConfig struct {
	StartHeight        uint64 `yaml:"start_height"`
	EndHeight          uint64 `yaml:"end_height"`
	ActivationHeight   uint64 `yaml:"activation_height"`
	ResumeMode         string `yaml:"resume_mode"`
	SkipPolicy         string `yaml:"skip_policy"`
	RequireBlockReward bool   `yaml:"require_block_reward"`
	Concurrency        int    `yaml:"fetch_concurrency"`
	ChunkSize          int    `yaml:"fetch_chunk_size"`
	PricingCacheSize   int    `yaml:"pricing_cache_size"`
}

type DaemonConfig struct {
	CronSpec    string `yaml:"cron"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	wf := workflow.DefaultConfig()
	return Config{
		Node: NodeConfig{
			URLs:            []string{"http://127.0.0.1:17767"},
			Timeout:         15 * time.Second,
			RPS:             20,
			Burst:           40,
			BreakerFailures: 3,
			BreakerCooldown: 5 * time.Second,
		},
		Scan: ScanConfig{
			StartHeight:        wf.StartHeight,
			ActivationHeight:   wf.ActivationHeight,
			ResumeMode:         string(wf.Mode),
			SkipPolicy:         string(wf.Policy),
			RequireBlockReward: wf.RequireBlockReward,
			Concurrency:        wf.Concurrency,
			ChunkSize:          wf.ChunkSize,
			PricingCacheSize:   wf.PricingCacheSize,
		},
		Store: backend.Config{
			Backend:      backend.CSV,
			DataDir:      "./csvs",
			ClickHouseDB: "zephscan",
		},
		Daemon: DaemonConfig{
			CronSpec:    "0 */2 * * * *",
			MetricsAddr: ":9102",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// LoadConfig applies the YAML file at path (skipped when empty) and then the environment
// on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Node.URLs = utils.EnvList("NODE_RPC_URLS", c.Node.URLs)
	c.Node.Timeout = utils.EnvDuration("RPC_TIMEOUT", c.Node.Timeout)
	c.Node.RPS = utils.EnvInt("RPC_RPS", c.Node.RPS)
	c.Node.Burst = utils.EnvInt("RPC_BURST", c.Node.Burst)
	c.Node.BreakerFailures = utils.EnvInt("RPC_BREAKER_FAILURES", c.Node.BreakerFailures)
	c.Node.BreakerCooldown = utils.EnvDuration("RPC_BREAKER_COOLDOWN", c.Node.BreakerCooldown)

	c.Scan.StartHeight = utils.EnvUint64("START_HEIGHT", c.Scan.StartHeight)
	c.Scan.EndHeight = utils.EnvUint64("END_HEIGHT", c.Scan.EndHeight)
	c.Scan.ActivationHeight = utils.EnvUint64("ACTIVATION_HEIGHT", c.Scan.ActivationHeight)
	c.Scan.ResumeMode = utils.Env("RESUME_MODE", c.Scan.ResumeMode)
	c.Scan.SkipPolicy = utils.Env("SKIP_POLICY", c.Scan.SkipPolicy)
	c.Scan.RequireBlockReward = utils.EnvBool("REQUIRE_BLOCK_REWARD", c.Scan.RequireBlockReward)
	c.Scan.Concurrency = utils.EnvInt("FETCH_CONCURRENCY", c.Scan.Concurrency)
	c.Scan.ChunkSize = utils.EnvInt("FETCH_CHUNK_SIZE", c.Scan.ChunkSize)
	c.Scan.PricingCacheSize = utils.EnvInt("PRICING_CACHE_SIZE", c.Scan.PricingCacheSize)

	c.Store.Backend = utils.Env("STORE_BACKEND", c.Store.Backend)
	c.Store.DataDir = utils.Env("DATA_DIR", c.Store.DataDir)
	c.Store.ClickHouseEnabled = utils.EnvBool("CLICKHOUSE_ENABLED", c.Store.ClickHouseEnabled)
	c.Store.ClickHouseDB = utils.Env("CLICKHOUSE_DB", c.Store.ClickHouseDB)

	c.Daemon.CronSpec = utils.Env("SCAN_CRON", c.Daemon.CronSpec)
	c.Daemon.MetricsAddr = utils.Env("METRICS_ADDR", c.Daemon.MetricsAddr)

	c.Logging.Level = utils.Env("LOG_LEVEL", c.Logging.Level)
	c.Logging.Encoding = utils.Env("LOG_ENCODING", c.Logging.Encoding)
}

// Validate rejects configurations no stage could run with.
func (c *Config) Validate() error {
	if len(c.Node.URLs) == 0 {
		return fmt.Errorf("at least one node RPC url is required")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if c.Scan.EndHeight != 0 && c.Scan.EndHeight < c.Scan.StartHeight {
		return fmt.Errorf("end height %d is below start height %d", c.Scan.EndHeight, c.Scan.StartHeight)
	}
	if _, err := workflow.ParseResumeMode(c.Scan.ResumeMode); err != nil {
		return err
	}
	if _, err := ledger.ParseSkipPolicy(c.Scan.SkipPolicy); err != nil {
		return err
	}
	return logging.Validate(c.Logging.Level, c.Logging.Encoding)
}

// WorkflowConfig converts the scan section for workflow.New. Call Validate first.
func (c *Config) WorkflowConfig() workflow.Config {
	mode, _ := workflow.ParseResumeMode(c.Scan.ResumeMode)
	policy, _ := ledger.ParseSkipPolicy(c.Scan.SkipPolicy)
	return workflow.Config{
		StartHeight:        c.Scan.StartHeight,
		EndHeight:          c.Scan.EndHeight,
		ActivationHeight:   c.Scan.ActivationHeight,
		ChunkSize:          c.Scan.ChunkSize,
		Concurrency:        c.Scan.Concurrency,
		PricingCacheSize:   c.Scan.PricingCacheSize,
		Policy:             policy,
		RequireBlockReward: c.Scan.RequireBlockReward,
		Mode:               mode,
	}
}
