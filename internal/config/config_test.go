package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "paper" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"cash asset not listed", func(c *Config) { c.Universe.CashAsset = "EUR" }, "cash_asset"},
		{"perp underlying unknown", func(c *Config) { c.Universe.Perps["SOL-PERP"] = "SOL" }, "underlying"},
		{"balance on unknown venue", func(c *Config) {
			c.Balances = append(c.Balances, BalanceConfig{Venue: "ghost", Asset: "USDC", Kind: "spot_balance"})
		}, "unknown venue"},
		{"bad balance kind", func(c *Config) {
			c.Balances[0].Kind = "margin"
		}, "unknown kind"},
		{"entry below exit", func(c *Config) {
			c.Strategy.BasisCarry.EntryFundingAnnualized = 0.01
		}, "entry_funding_annualized"},
		{"missing backtest data", func(c *Config) { c.Backtest.DataPath = "" }, "data_path"},
		{"negative tolerance", func(c *Config) { c.Engine.ReconciliationTolerance = 0 }, "reconciliation_tolerance"},
		{"negative risk weight", func(c *Config) { c.Engine.RiskWeightMargin = -0.1 }, "risk weights"},
		{"all risk weights zero", func(c *Config) {
			c.Engine.RiskWeightLending = 0
			c.Engine.RiskWeightMargin = 0
			c.Engine.RiskWeightDelta = 0
		}, "risk weight"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateLiveModeRequirements(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Live.WSURL = ""
	cfg.Live.IndexContracts = map[string]IndexContractConfig{
		"aUSDC": {Underlying: "USDC", Address: "0xabc", Method: "exchangeRate()"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "ws_url") || !strings.Contains(err.Error(), "rpc_url") {
		t.Fatalf("error = %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "backtest"

[engine]
risk_weight_delta = 0.5

[strategy.basis_carry]
entry_funding_annualized = 0.12
funding_interval = "8h"

[redis]
addr = "redis.internal:6380"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Strategy.BasisCarry.EntryFundingAnnualized != 0.12 {
		t.Fatalf("entry = %v", cfg.Strategy.BasisCarry.EntryFundingAnnualized)
	}
	if cfg.Strategy.BasisCarry.FundingInterval.Duration != 8*time.Hour {
		t.Fatalf("funding interval = %v", cfg.Strategy.BasisCarry.FundingInterval.Duration)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("redis addr = %s", cfg.Redis.Addr)
	}
	if cfg.Engine.RiskWeightDelta != 0.5 || cfg.Engine.RiskWeightLending != 0.35 {
		t.Fatalf("risk weights = %v/%v/%v",
			cfg.Engine.RiskWeightLending, cfg.Engine.RiskWeightMargin, cfg.Engine.RiskWeightDelta)
	}
	// Untouched sections keep their defaults.
	if cfg.Postgres.Port != 5432 {
		t.Fatalf("postgres port = %d", cfg.Postgres.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BASIS_MODE", "live")
	t.Setenv("BASIS_LIVE_INTERVAL", "30s")
	t.Setenv("BASIS_VENUE_HYPERLIQUID_API_KEY", "env-key")
	t.Setenv("BASIS_REDIS_ADDR", "other:6379")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "live" {
		t.Fatalf("mode = %s", cfg.Mode)
	}
	if cfg.Live.Interval.Duration != 30*time.Second {
		t.Fatalf("interval = %v", cfg.Live.Interval.Duration)
	}
	if cfg.Venues["hyperliquid"].APIKey != "env-key" {
		t.Fatalf("api key = %s", cfg.Venues["hyperliquid"].APIKey)
	}
	if cfg.Redis.Addr != "other:6379" {
		t.Fatalf("redis addr = %s", cfg.Redis.Addr)
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	venue := cfg.Venues["hyperliquid"]
	venue.APIKey = "key-1"
	venue.APISecret = "secret-1"
	cfg.Venues["hyperliquid"] = venue
	cfg.Postgres.Password = "pg-pass"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	if red.Venues["hyperliquid"].APIKey != "***" || red.Venues["hyperliquid"].APISecret != "***" {
		t.Fatalf("venue credentials not redacted: %+v", red.Venues["hyperliquid"])
	}
	if red.Postgres.Password != "***" || red.Notify.TelegramToken != "***" {
		t.Fatal("postgres or notify secrets not redacted")
	}
	// The original must be untouched.
	if cfg.Venues["hyperliquid"].APIKey != "key-1" {
		t.Fatal("redaction mutated the original config")
	}
}
