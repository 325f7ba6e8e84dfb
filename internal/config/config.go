// Package config loads application configuration from a YAML file plus
// environment variables for secrets like database DSNs.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"lending-strategy-lab/internal/domain"
)

// Storage backend identifiers.
const (
	BackendMemory = "memory"
	BackendDB     = "db"
)

// Config is the full application configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Markets    MarketsConfig   `yaml:"markets"`
	Strategies []StrategyEntry `yaml:"strategies"`
	Scan       ScanConfig      `yaml:"scan"`
	Rebalance  RebalanceConfig `yaml:"rebalance"`

	Allocation domain.AllocationConstraints `yaml:"allocation"`

	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// MarketsConfig names the market surface the analyzer enumerates over.
type MarketsConfig struct {
	PerpMarkets  []string `yaml:"perp_markets"`
	StableTokens []string `yaml:"stable_tokens"`
}

// StrategyEntry configures one calculator variant.
type StrategyEntry struct {
	Variant             string   `yaml:"variant"`
	LiquidationDistance *float64 `yaml:"liquidation_distance"`
}

// Domain converts the entry to its domain form.
func (e StrategyEntry) Domain() domain.StrategyConfig {
	return domain.StrategyConfig{
		Variant:             e.Variant,
		LiquidationDistance: e.LiquidationDistance,
	}
}

// ScanConfig controls analyzer concurrency.
type ScanConfig struct {
	Workers int `yaml:"workers"` // 0 means one per CPU
}

// RebalanceConfig controls drift detection.
type RebalanceConfig struct {
	DriftThreshold float64 `yaml:"drift_threshold"` // 0 means the default
}

// StorageConfig selects the storage backend. DSNs come from the environment,
// never the YAML file.
type StorageConfig struct {
	Backend          string `yaml:"backend"`
	PostgresDSNEnv   string `yaml:"postgres_dsn_env"`
	ClickhouseDSNEnv string `yaml:"clickhouse_dsn_env"`
}

// PostgresDSN resolves the PostgreSQL DSN from the environment.
func (s StorageConfig) PostgresDSN() (string, error) {
	return dsnFromEnv(s.PostgresDSNEnv, "POSTGRES_DSN")
}

// ClickhouseDSN resolves the ClickHouse DSN from the environment.
func (s StorageConfig) ClickhouseDSN() (string, error) {
	return dsnFromEnv(s.ClickhouseDSNEnv, "CLICKHOUSE_DSN")
}

func dsnFromEnv(name, fallback string) (string, error) {
	if name == "" {
		name = fallback
	}
	dsn := os.Getenv(name)
	if dsn == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return dsn, nil
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a configuration with sensible defaults for local use.
func Default() *Config {
	d := 0.20
	return &Config{
		LogLevel: "info",
		Strategies: []StrategyEntry{
			{Variant: domain.VariantStablecoinLending},
			{Variant: domain.VariantNoLoopCrossProtocol, LiquidationDistance: &d},
			{Variant: domain.VariantRecursiveLending, LiquidationDistance: &d},
		},
		Allocation: domain.AllocationConstraints{
			PortfolioSizeUSD:      10_000,
			MaxStrategies:         5,
			TokenExposureLimit:    0.30,
			ProtocolExposureLimit: 0.50,
			Weights:               domain.DefaultBlendWeights,
			Confidence:            domain.DefaultConfidenceWeights,
		},
		Storage: StorageConfig{Backend: BackendMemory},
		Metrics: MetricsConfig{ListenAddr: ":9090"},
	}
}

// Load reads configuration from a YAML file, layered over defaults. A .env
// file in the working directory is loaded first if present so DSN variables
// can live there during development.
func Load(path string) (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendDB:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("no strategy variants configured")
	}
	if c.Scan.Workers < 0 {
		return fmt.Errorf("scan workers must be non-negative, got %d", c.Scan.Workers)
	}
	if c.Rebalance.DriftThreshold < 0 {
		return fmt.Errorf("drift threshold must be non-negative, got %.4f", c.Rebalance.DriftThreshold)
	}
	return c.Allocation.Validate()
}

// StrategyConfigs converts the configured entries to domain form.
func (c *Config) StrategyConfigs() []domain.StrategyConfig {
	out := make([]domain.StrategyConfig, 0, len(c.Strategies))
	for _, e := range c.Strategies {
		out = append(out, e.Domain())
	}
	return out
}
