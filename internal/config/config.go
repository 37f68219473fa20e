// Package config defines the top-level configuration for the basis engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BASIS_* environment variables.
type Config struct {
	Run      RunConfig              `toml:"run"`
	Engine   EngineConfig           `toml:"engine"`
	Universe UniverseConfig         `toml:"universe"`
	Venues   map[string]VenueConfig `toml:"venues"`
	Balances []BalanceConfig        `toml:"balances"`
	Strategy StrategyConfig         `toml:"strategy"`
	Backtest BacktestConfig         `toml:"backtest"`
	Live     LiveConfig             `toml:"live"`
	Postgres PostgresConfig         `toml:"postgres"`
	Redis    RedisConfig            `toml:"redis"`
	S3       S3Config               `toml:"s3"`
	Notify   NotifyConfig           `toml:"notify"`
	Mode     string                 `toml:"mode"`
	LogLevel string                 `toml:"log_level"`
}

// RunConfig identifies what a run trades and reports in.
type RunConfig struct {
	ReportingCurrency string `toml:"reporting_currency"`
}

// EngineConfig holds tick-loop parameters.
type EngineConfig struct {
	// ExecutionTimeout bounds each instruction-set submission. Zero disables
	// the timeout.
	ExecutionTimeout duration `toml:"execution_timeout"`
	// ReconciliationTolerance is the allowed gap between balance-based and
	// attribution-based PnL, in reporting currency.
	ReconciliationTolerance float64 `toml:"reconciliation_tolerance"`
	// HealthFactorTarget, MarginRatioTarget, and DeltaTolerance parameterize
	// the risk scoring curves.
	HealthFactorTarget float64 `toml:"health_factor_target"`
	MarginRatioTarget  float64 `toml:"margin_ratio_target"`
	DeltaTolerance     float64 `toml:"delta_tolerance"`
	// RiskWeightLending, RiskWeightMargin, and RiskWeightDelta blend the
	// per-category risk scores into the overall score. The monitor
	// renormalizes them, so only their ratios matter.
	RiskWeightLending float64 `toml:"risk_weight_lending"`
	RiskWeightMargin  float64 `toml:"risk_weight_margin"`
	RiskWeightDelta   float64 `toml:"risk_weight_delta"`
}

// UniverseConfig enumerates the tradable assets and how receipt-style tokens
// map to their underlyings.
type UniverseConfig struct {
	// CashAsset is the settlement asset, normally the reporting currency.
	CashAsset string `toml:"cash_asset"`
	// Assets are the spot symbols priced every tick.
	Assets []string `toml:"assets"`
	// Perps maps each perpetual instrument to its underlying spot asset,
	// e.g. "ETH-PERP" = "ETH".
	Perps map[string]string `toml:"perps"`
	// Receipts maps each lending receipt token to its underlying,
	// e.g. "aUSDC" = "USDC".
	Receipts map[string]string `toml:"receipts"`
	// Staked maps each staked token to its underlying, e.g. "stETH" = "ETH".
	Staked map[string]string `toml:"staked"`
}

// VenueConfig holds the risk parameters, execution cost model, and API
// credentials for one venue.
type VenueConfig struct {
	// LiquidationThreshold and LiquidationBonus apply to lending venues.
	LiquidationThreshold float64 `toml:"liquidation_threshold"`
	LiquidationBonus     float64 `toml:"liquidation_bonus"`
	// MaintenanceMarginFraction and InitialMarginFraction apply to
	// derivative venues.
	MaintenanceMarginFraction float64 `toml:"maintenance_margin_fraction"`
	InitialMarginFraction     float64 `toml:"initial_margin_fraction"`

	// TakerFeeBps and SlippageBps model execution costs on this venue.
	TakerFeeBps float64 `toml:"taker_fee_bps"`
	SlippageBps float64 `toml:"slippage_bps"`

	// API credentials for live trading.
	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	APIPassphrase       string `toml:"api_passphrase"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// BalanceConfig seeds one opening ledger balance.
type BalanceConfig struct {
	Venue    string  `toml:"venue"`
	Asset    string  `toml:"asset"`
	Kind     string  `toml:"kind"`
	Quantity float64 `toml:"quantity"`
}

// StrategyConfig selects and parameterizes the decision layer.
type StrategyConfig struct {
	Name       string           `toml:"name"`
	BasisCarry BasisCarryConfig `toml:"basis_carry"`
}

// BasisCarryConfig holds parameters for the basis carry strategy.
type BasisCarryConfig struct {
	Venue                  string   `toml:"venue"`
	SpotAsset              string   `toml:"spot_asset"`
	PerpInstrument         string   `toml:"perp_instrument"`
	EntryFundingAnnualized float64  `toml:"entry_funding_annualized"`
	ExitFundingAnnualized  float64  `toml:"exit_funding_annualized"`
	TargetFraction         float64  `toml:"target_fraction"`
	RebalanceBand          float64  `toml:"rebalance_band"`
	FundingInterval        duration `toml:"funding_interval"`
	MinOrderNotional       float64  `toml:"min_order_notional"`
}

// BacktestConfig holds backtest-mode parameters.
type BacktestConfig struct {
	// DataPath is the JSONL snapshot file replayed tick by tick.
	DataPath string `toml:"data_path"`
	// Persist writes the run, its events, and its PnL series to Postgres.
	Persist bool `toml:"persist"`
	// ArchiveOnComplete exports the finished run to blob storage.
	ArchiveOnComplete bool `toml:"archive_on_complete"`
}

// LiveConfig holds live-mode parameters: tick cadence, data feeds, and the
// onchain index sources.
type LiveConfig struct {
	Interval duration `toml:"interval"`
	// MaxAge is the oldest a cached quote may be before a tick is rejected.
	// Zero defaults to twice the interval.
	MaxAge duration `toml:"max_age"`

	WSURL  string `toml:"ws_url"`
	RPCURL string `toml:"rpc_url"`

	SubgraphURL    string `toml:"subgraph_url"`
	SubgraphAPIKey string `toml:"subgraph_api_key"`
	// SubgraphSymbols maps subgraph reserve symbols to local assets.
	SubgraphSymbols map[string]string `toml:"subgraph_symbols"`

	// IndexContracts configures the onchain redemption-rate reader per
	// receipt asset.
	IndexContracts map[string]IndexContractConfig `toml:"index_contracts"`
	// IndexPollInterval is the cadence of the onchain index poller.
	IndexPollInterval duration `toml:"index_poll_interval"`

	// BorrowRates are static annualized fallbacks used when no subgraph is
	// configured or it is unreachable.
	BorrowRates map[string]float64 `toml:"borrow_rates"`

	// LeaderLockTTL is the Redis leader lock lifetime. Zero disables leader
	// election, for single-instance deployments.
	LeaderLockTTL duration `toml:"leader_lock_ttl"`
}

// IndexContractConfig describes one receipt token's rate contract.
type IndexContractConfig struct {
	Underlying string `toml:"underlying"`
	Address    string `toml:"address"`
	Method     string `toml:"method"`
	Decimals   int    `toml:"decimals"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Run: RunConfig{
			ReportingCurrency: "USDC",
		},
		Engine: EngineConfig{
			ExecutionTimeout:        duration{30 * time.Second},
			ReconciliationTolerance: 0.01,
			HealthFactorTarget:      1.5,
			MarginRatioTarget:       2.0,
			DeltaTolerance:          0.05,
			RiskWeightLending:       0.35,
			RiskWeightMargin:        0.40,
			RiskWeightDelta:         0.25,
		},
		Universe: UniverseConfig{
			CashAsset: "USDC",
			Assets:    []string{"USDC", "ETH"},
			Perps:     map[string]string{"ETH-PERP": "ETH"},
			Receipts:  map[string]string{"aUSDC": "USDC"},
			Staked:    map[string]string{},
		},
		Venues: map[string]VenueConfig{
			"hyperliquid": {
				MaintenanceMarginFraction: 0.02,
				InitialMarginFraction:     0.05,
				TakerFeeBps:               5,
				SlippageBps:               10,
			},
			"aave": {
				LiquidationThreshold: 0.85,
				LiquidationBonus:     0.05,
			},
		},
		Balances: []BalanceConfig{
			{Venue: "hyperliquid", Asset: "USDC", Kind: "spot_balance", Quantity: 100_000},
		},
		Strategy: StrategyConfig{
			Name: "basis_carry",
			BasisCarry: BasisCarryConfig{
				Venue:                  "hyperliquid",
				SpotAsset:              "ETH",
				PerpInstrument:         "ETH-PERP",
				EntryFundingAnnualized: 0.08,
				ExitFundingAnnualized:  0.02,
				TargetFraction:         0.5,
				RebalanceBand:          0.02,
				FundingInterval:        duration{time.Hour},
				MinOrderNotional:       100,
			},
		},
		Backtest: BacktestConfig{
			DataPath:          "data/snapshots.jsonl",
			Persist:           false,
			ArchiveOnComplete: false,
		},
		Live: LiveConfig{
			Interval:          duration{time.Minute},
			WSURL:             "wss://api.hyperliquid.xyz/ws",
			IndexPollInterval: duration{time.Minute},
			BorrowRates:       map[string]float64{},
			SubgraphSymbols:   map[string]string{},
			IndexContracts:    map[string]IndexContractConfig{},
			LeaderLockTTL:     duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "basis-runs",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"risk_alert", "reconciliation_breach", "run_failed"},
		},
		Mode:     "backtest",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"backtest": true,
	"live":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validBalanceKinds enumerates the accepted values for BalanceConfig.Kind.
var validBalanceKinds = map[string]bool{
	"spot_balance":    true,
	"perp_position":   true,
	"lending_deposit": true,
	"lending_debt":    true,
	"staked_balance":  true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: backtest, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Run.ReportingCurrency == "" {
		errs = append(errs, "run: reporting_currency must not be empty")
	}
	if c.Engine.ReconciliationTolerance <= 0 {
		errs = append(errs, "engine: reconciliation_tolerance must be > 0")
	}
	if c.Engine.HealthFactorTarget <= 1 {
		errs = append(errs, "engine: health_factor_target must be > 1")
	}
	if c.Engine.MarginRatioTarget <= 1 {
		errs = append(errs, "engine: margin_ratio_target must be > 1")
	}
	if c.Engine.DeltaTolerance <= 0 {
		errs = append(errs, "engine: delta_tolerance must be > 0")
	}
	if c.Engine.RiskWeightLending < 0 || c.Engine.RiskWeightMargin < 0 || c.Engine.RiskWeightDelta < 0 {
		errs = append(errs, "engine: risk weights must be >= 0")
	}
	if c.Engine.RiskWeightLending+c.Engine.RiskWeightMargin+c.Engine.RiskWeightDelta <= 0 {
		errs = append(errs, "engine: at least one risk weight must be > 0")
	}

	// Universe.
	if c.Universe.CashAsset == "" {
		errs = append(errs, "universe: cash_asset must not be empty")
	}
	if len(c.Universe.Assets) == 0 {
		errs = append(errs, "universe: at least one asset is required")
	}
	known := make(map[string]bool, len(c.Universe.Assets))
	for _, a := range c.Universe.Assets {
		known[a] = true
	}
	if !known[c.Universe.CashAsset] {
		errs = append(errs, fmt.Sprintf("universe: cash_asset %q is not listed in assets", c.Universe.CashAsset))
	}
	for perp, underlying := range c.Universe.Perps {
		if !known[underlying] {
			errs = append(errs, fmt.Sprintf("universe: perp %s underlying %q is not listed in assets", perp, underlying))
		}
	}
	for receipt, underlying := range c.Universe.Receipts {
		if !known[underlying] {
			errs = append(errs, fmt.Sprintf("universe: receipt %s underlying %q is not listed in assets", receipt, underlying))
		}
	}
	for staked, underlying := range c.Universe.Staked {
		if !known[underlying] {
			errs = append(errs, fmt.Sprintf("universe: staked %s underlying %q is not listed in assets", staked, underlying))
		}
	}

	// Venues.
	if len(c.Venues) == 0 {
		errs = append(errs, "venues: at least one venue is required")
	}
	for name, v := range c.Venues {
		if v.LiquidationThreshold < 0 || v.LiquidationThreshold >= 1 {
			errs = append(errs, fmt.Sprintf("venues.%s: liquidation_threshold must be in [0, 1)", name))
		}
		if v.MaintenanceMarginFraction < 0 || v.MaintenanceMarginFraction >= 1 {
			errs = append(errs, fmt.Sprintf("venues.%s: maintenance_margin_fraction must be in [0, 1)", name))
		}
		if v.InitialMarginFraction < v.MaintenanceMarginFraction {
			errs = append(errs, fmt.Sprintf("venues.%s: initial_margin_fraction must be >= maintenance_margin_fraction", name))
		}
		if v.TakerFeeBps < 0 || v.SlippageBps < 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: fee and slippage bps must be >= 0", name))
		}
		if v.EncryptedSecretPath != "" && v.SecretPassword == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: secret_password is required when encrypted_secret_path is set", name))
		}
	}

	// Balances.
	for i, b := range c.Balances {
		if _, ok := c.Venues[b.Venue]; !ok {
			errs = append(errs, fmt.Sprintf("balances[%d]: unknown venue %q", i, b.Venue))
		}
		if !validBalanceKinds[b.Kind] {
			errs = append(errs, fmt.Sprintf("balances[%d]: unknown kind %q", i, b.Kind))
		}
	}

	// Strategy.
	if c.Strategy.Name == "" {
		errs = append(errs, "strategy: name must not be empty")
	}
	if c.Strategy.Name == "basis_carry" {
		bc := c.Strategy.BasisCarry
		if _, ok := c.Venues[bc.Venue]; !ok {
			errs = append(errs, fmt.Sprintf("strategy.basis_carry: unknown venue %q", bc.Venue))
		}
		if bc.TargetFraction <= 0 || bc.TargetFraction > 1 {
			errs = append(errs, "strategy.basis_carry: target_fraction must be in (0, 1]")
		}
		if bc.EntryFundingAnnualized <= bc.ExitFundingAnnualized {
			errs = append(errs, "strategy.basis_carry: entry_funding_annualized must exceed exit_funding_annualized")
		}
		if bc.FundingInterval.Duration <= 0 {
			errs = append(errs, "strategy.basis_carry: funding_interval must be positive")
		}
	}

	// Mode-specific sections.
	if mode == "backtest" && c.Backtest.DataPath == "" {
		errs = append(errs, "backtest: data_path must not be empty")
	}
	if mode == "live" {
		if c.Live.Interval.Duration <= 0 {
			errs = append(errs, "live: interval must be positive")
		}
		if c.Live.WSURL == "" {
			errs = append(errs, "live: ws_url must not be empty")
		}
		if len(c.Live.IndexContracts) > 0 && c.Live.RPCURL == "" {
			errs = append(errs, "live: rpc_url is required when index_contracts are configured")
		}
		for asset, contract := range c.Live.IndexContracts {
			if contract.Address == "" || contract.Method == "" {
				errs = append(errs, fmt.Sprintf("live.index_contracts.%s: address and method must be set", asset))
			}
		}
	}

	// Postgres.
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis.
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3.
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
