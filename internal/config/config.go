// Package config defines all configuration for the trading platform.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via COLOSSEUM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"colosseum/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Trading    TradingConfig    `mapstructure:"trading"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Autonomous AutonomousConfig `mapstructure:"autonomous"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Receipts   ReceiptsConfig   `mapstructure:"receipts"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// TradingConfig sets platform-wide trading defaults.
//
//   - DefaultStartingCapitalUsd: cash granted to newly registered agents.
//   - DefaultMode: "paper" or "live"; applied when an intent omits a mode.
//   - PlatformFeeBps / TakerFeeBps: fee taxonomy in basis points. Paper mode
//     charges only the platform component; live charges both.
//   - SupportedSymbols: universe the feed polls and intents may reference.
type TradingConfig struct {
	DefaultStartingCapitalUsd float64    `mapstructure:"default_starting_capital_usd"`
	DefaultMode               types.Mode `mapstructure:"default_mode"`
	PlatformFeeBps            float64    `mapstructure:"platform_fee_bps"`
	TakerFeeBps               float64    `mapstructure:"taker_fee_bps"`
	SupportedSymbols          []string   `mapstructure:"supported_symbols"`
}

// RiskConfig holds the default per-agent risk limits, applied at agent
// registration. Limits are evaluated per order by the risk engine.
type RiskConfig struct {
	MaxPositionSizePct  float64 `mapstructure:"max_position_size_pct"`
	MaxOrderNotionalUsd float64 `mapstructure:"max_order_notional_usd"`
	MaxGrossExposureUsd float64 `mapstructure:"max_gross_exposure_usd"`
	DailyLossCapUsd     float64 `mapstructure:"daily_loss_cap_usd"`
	MaxDrawdownPct      float64 `mapstructure:"max_drawdown_pct"`
	CooldownSeconds     int     `mapstructure:"cooldown_seconds"`
}

// Limits converts the config defaults to the per-agent limit struct.
func (c RiskConfig) Limits() types.RiskLimits {
	return types.RiskLimits{
		MaxPositionSizePct:  c.MaxPositionSizePct,
		MaxOrderNotionalUsd: c.MaxOrderNotionalUsd,
		MaxGrossExposureUsd: c.MaxGrossExposureUsd,
		DailyLossCapUsd:     c.DailyLossCapUsd,
		MaxDrawdownPct:      c.MaxDrawdownPct,
		CooldownSeconds:     c.CooldownSeconds,
	}
}

// WorkerConfig tunes the execution worker's drain loop.
type WorkerConfig struct {
	IntervalMs   int `mapstructure:"interval_ms"`
	MaxBatchSize int `mapstructure:"max_batch_size"`
}

// AutonomousConfig tunes the per-agent kill-switch policy.
//
//   - MaxDrawdownStopPct: drawdown at or above this halts the agent for good.
//   - CooldownAfterConsecutiveFailures: failure streak that triggers a cooldown.
//   - CooldownMs: how long the cooldown lasts.
type AutonomousConfig struct {
	MaxDrawdownStopPct               float64 `mapstructure:"max_drawdown_stop_pct"`
	CooldownMs                       int64   `mapstructure:"cooldown_ms"`
	CooldownAfterConsecutiveFailures int     `mapstructure:"cooldown_after_consecutive_failures"`
}

// FeedConfig controls the HTTP price feed adapter. The core only consumes
// price.updated events; the feed is the default producer.
type FeedConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ReceiptsConfig holds the optional platform receipt-signing key (hex
// secp256k1). When empty, receipts carry the hash-chain envelope only.
type ReceiptsConfig struct {
	SigningKey string `mapstructure:"signing_key"`
}

// DashboardConfig controls the HTTP/WebSocket API server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// PathsConfig sets where state and logs are persisted.
type PathsConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	StateFile string `mapstructure:"state_file"`
	LogFile   string `mapstructure:"log_file"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// The signing key uses COLOSSEUM_SIGNING_KEY so it never lands in the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("COLOSSEUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("COLOSSEUM_SIGNING_KEY"); key != "" {
		cfg.Receipts.SigningKey = key
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Trading.DefaultStartingCapitalUsd <= 0 {
		return fmt.Errorf("trading.default_starting_capital_usd must be > 0")
	}
	switch c.Trading.DefaultMode {
	case types.ModePaper, types.ModeLive:
	default:
		return fmt.Errorf("trading.default_mode must be \"paper\" or \"live\"")
	}
	if c.Trading.PlatformFeeBps < 0 || c.Trading.TakerFeeBps < 0 {
		return fmt.Errorf("fee bps must be >= 0")
	}
	if len(c.Trading.SupportedSymbols) == 0 {
		return fmt.Errorf("trading.supported_symbols must not be empty")
	}
	if c.Risk.MaxOrderNotionalUsd <= 0 {
		return fmt.Errorf("risk.max_order_notional_usd must be > 0")
	}
	if c.Risk.MaxGrossExposureUsd <= 0 {
		return fmt.Errorf("risk.max_gross_exposure_usd must be > 0")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 1 {
		return fmt.Errorf("risk.max_drawdown_pct must be in (0, 1]")
	}
	if c.Worker.IntervalMs <= 0 {
		return fmt.Errorf("worker.interval_ms must be > 0")
	}
	if c.Worker.MaxBatchSize <= 0 {
		return fmt.Errorf("worker.max_batch_size must be > 0")
	}
	if c.Autonomous.MaxDrawdownStopPct <= 0 {
		return fmt.Errorf("autonomous.max_drawdown_stop_pct must be > 0")
	}
	if c.Autonomous.CooldownMs <= 0 {
		return fmt.Errorf("autonomous.cooldown_ms must be > 0")
	}
	if c.Autonomous.CooldownAfterConsecutiveFailures <= 0 {
		return fmt.Errorf("autonomous.cooldown_after_consecutive_failures must be > 0")
	}
	if c.Feed.Enabled {
		if c.Feed.BaseURL == "" {
			return fmt.Errorf("feed.base_url is required when feed.enabled")
		}
		if c.Feed.PollInterval <= 0 {
			return fmt.Errorf("feed.poll_interval must be > 0")
		}
	}
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir is required")
	}
	if c.Paths.StateFile == "" {
		return fmt.Errorf("paths.state_file is required")
	}
	return nil
}
