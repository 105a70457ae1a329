package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/elchief84/defi-liquidation-keeper/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ChainConfig covers on-chain access: RPC endpoints, contract addresses and
// the asset pair the keeper liquidates against.
type ChainConfig struct {
	RPCURLs           []string      `mapstructure:"rpc_urls"`
	ChainID           int64         `mapstructure:"chain_id"`
	PoolAddress       string        `mapstructure:"pool_address"`
	OracleAddress     string        `mapstructure:"oracle_address"`
	ContractAddress   string        `mapstructure:"contract_address"`
	DebtAsset         string        `mapstructure:"debt_asset"`
	DebtSymbol        string        `mapstructure:"debt_symbol"`
	DebtDecimals      int           `mapstructure:"debt_decimals"`
	CollateralAsset   string        `mapstructure:"collateral_asset"`
	PrivateKey        string        `mapstructure:"private_key"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	StrictFailover    bool          `mapstructure:"strict_failover"`
	DispatchGasLimit  uint64        `mapstructure:"dispatch_gas_limit"`
	FlashLoanNotional float64       `mapstructure:"flash_loan_notional"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. When DSN is empty and
// SnapshotPath is set, a JSON file snapshot is used instead; with neither the
// keeper runs memory-only.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	SnapshotPath    string        `mapstructure:"snapshot_path"`
	SnapshotEvery   time.Duration `mapstructure:"snapshot_every"`
}

// EngineConfig governs the trigger engine's scan loop.
type EngineConfig struct {
	ScanInterval   time.Duration `mapstructure:"scan_interval"`
	StartupDelay   time.Duration `mapstructure:"startup_delay"`
	BatchSize      int           `mapstructure:"batch_size"`
	Workers        int           `mapstructure:"workers"`
	QueriesPerSec  float64       `mapstructure:"queries_per_sec"`
	QueryBurst     int           `mapstructure:"query_burst"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	HeartbeatEvery uint64        `mapstructure:"heartbeat_every"`
}

// RiskConfig tunes the refresh policy tiers. Bounds are simulated-risk values.
type RiskConfig struct {
	CriticalBelow   float64       `mapstructure:"critical_below"`
	HighBelow       float64       `mapstructure:"high_below"`
	MediumBelow     float64       `mapstructure:"medium_below"`
	HighMaxAge      time.Duration `mapstructure:"high_max_age"`
	MediumMaxAge    time.Duration `mapstructure:"medium_max_age"`
	LowMaxAge       time.Duration `mapstructure:"low_max_age"`
	ActionThreshold float64       `mapstructure:"action_threshold"`
	LiquidationHF   float64       `mapstructure:"liquidation_hf"`
}

// DiscoveryConfig drives watch-list refill from the indexer.
type DiscoveryConfig struct {
	SubgraphURL    string        `mapstructure:"subgraph_url"`
	LowWatermark   int           `mapstructure:"low_watermark"`
	HighWatermark  int           `mapstructure:"high_watermark"`
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines notification routing and the inbound command channel.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot credentials.
type TelegramConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BotToken     string        `mapstructure:"bot_token"`
	ChatID       string        `mapstructure:"chat_id"`
	APIBase      string        `mapstructure:"api_base"`
	PollCommands bool          `mapstructure:"poll_commands"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

// Load builds configuration from file, environment, and defaults. A .env file
// in the working directory is merged into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("KEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "liquidation-keeper")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("chain.chain_id", int64(42161))
	v.SetDefault("chain.debt_symbol", "USDC")
	v.SetDefault("chain.debt_decimals", 6)
	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("chain.strict_failover", false)
	v.SetDefault("chain.dispatch_gas_limit", uint64(1_000_000))
	v.SetDefault("chain.flash_loan_notional", 1000.0)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x6b707273))
	v.SetDefault("database.snapshot_every", "2m")

	v.SetDefault("engine.scan_interval", "5s")
	v.SetDefault("engine.startup_delay", "0s")
	v.SetDefault("engine.batch_size", 50)
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.queries_per_sec", 20.0)
	v.SetDefault("engine.query_burst", 10)
	v.SetDefault("engine.cooldown", "1h")
	v.SetDefault("engine.heartbeat_every", uint64(20))

	v.SetDefault("risk.critical_below", 1.02)
	v.SetDefault("risk.high_below", 1.10)
	v.SetDefault("risk.medium_below", 1.50)
	v.SetDefault("risk.high_max_age", "12s")
	v.SetDefault("risk.medium_max_age", "5m")
	v.SetDefault("risk.low_max_age", "45m")
	v.SetDefault("risk.action_threshold", 1.02)
	v.SetDefault("risk.liquidation_hf", 1.0)

	v.SetDefault("discovery.low_watermark", 500)
	v.SetDefault("discovery.high_watermark", 2000)
	v.SetDefault("discovery.interval", "10m")
	v.SetDefault("discovery.request_timeout", "15s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.poll_commands", true)
	v.SetDefault("alerting.telegram.poll_timeout", "30s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks. A failure here is the only condition
// allowed to abort the process.
func (c *Config) Validate() error {
	if len(c.Chain.RPCURLs) == 0 {
		return fmt.Errorf("chain.rpc_urls must list at least one endpoint")
	}
	if c.Chain.PoolAddress == "" {
		return fmt.Errorf("chain.pool_address is required")
	}
	if c.Chain.OracleAddress == "" {
		return fmt.Errorf("chain.oracle_address is required")
	}
	if c.Chain.DebtDecimals < 0 || c.Chain.DebtDecimals > 30 {
		return fmt.Errorf("chain.debt_decimals out of range: %d", c.Chain.DebtDecimals)
	}
	if c.Engine.ScanInterval <= 0 {
		return fmt.Errorf("engine.scan_interval must be greater than zero")
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine.batch_size must be greater than zero")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be greater than zero")
	}
	if c.Engine.Cooldown <= 0 {
		return fmt.Errorf("engine.cooldown must be greater than zero")
	}
	if c.Risk.ActionThreshold <= 0 {
		return fmt.Errorf("risk.action_threshold must be greater than zero")
	}
	if c.Discovery.LowWatermark > c.Discovery.HighWatermark {
		return fmt.Errorf("discovery.low_watermark cannot exceed high_watermark")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}
