package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"colosseum/pkg/types"
)

const validYAML = `
trading:
  default_starting_capital_usd: 10000
  default_mode: paper
  platform_fee_bps: 8
  taker_fee_bps: 10
  supported_symbols: [SOL, ETH]
risk:
  max_order_notional_usd: 2000
  max_gross_exposure_usd: 20000
  daily_loss_cap_usd: 500
  max_drawdown_pct: 0.2
  cooldown_seconds: 10
worker:
  interval_ms: 500
  max_batch_size: 25
autonomous:
  max_drawdown_stop_pct: 0.5
  cooldown_ms: 60000
  cooldown_after_consecutive_failures: 2
feed:
  enabled: true
  base_url: https://prices.example.com
  poll_interval: 30s
dashboard:
  enabled: true
  port: 8080
paths:
  data_dir: data
  state_file: data/state.json
logging:
  level: info
  format: text
`

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if cfg.Trading.DefaultMode != types.ModePaper {
		t.Errorf("default mode = %q", cfg.Trading.DefaultMode)
	}
	if cfg.Trading.PlatformFeeBps != 8 {
		t.Errorf("platform bps = %v", cfg.Trading.PlatformFeeBps)
	}
	if cfg.Feed.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %v", cfg.Feed.PollInterval)
	}
	if cfg.Worker.MaxBatchSize != 25 {
		t.Errorf("max batch = %d", cfg.Worker.MaxBatchSize)
	}
	limits := cfg.Risk.Limits()
	if limits.MaxOrderNotionalUsd != 2000 || limits.CooldownSeconds != 10 {
		t.Errorf("limits = %+v", limits)
	}
}

func TestSigningKeyFromEnv(t *testing.T) {
	t.Setenv("COLOSSEUM_SIGNING_KEY", "0xabc123")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Receipts.SigningKey != "0xabc123" {
		t.Errorf("signing key = %q", cfg.Receipts.SigningKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero starting capital", func(c *Config) { c.Trading.DefaultStartingCapitalUsd = 0 }},
		{"bad mode", func(c *Config) { c.Trading.DefaultMode = "demo" }},
		{"negative fee", func(c *Config) { c.Trading.PlatformFeeBps = -1 }},
		{"no symbols", func(c *Config) { c.Trading.SupportedSymbols = nil }},
		{"zero order notional", func(c *Config) { c.Risk.MaxOrderNotionalUsd = 0 }},
		{"drawdown above 1", func(c *Config) { c.Risk.MaxDrawdownPct = 1.5 }},
		{"zero worker interval", func(c *Config) { c.Worker.IntervalMs = 0 }},
		{"zero batch", func(c *Config) { c.Worker.MaxBatchSize = 0 }},
		{"zero cooldown", func(c *Config) { c.Autonomous.CooldownMs = 0 }},
		{"feed without url", func(c *Config) { c.Feed.BaseURL = "" }},
		{"missing state file", func(c *Config) { c.Paths.StateFile = "" }},
	}

	for _, tc := range cases {
		cfg, err := Load(writeConfig(t, validYAML))
		if err != nil {
			t.Fatal(err)
		}
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate accepted invalid config", tc.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file must error")
	}
}
