package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"oracle-feeder/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Signer    SignerConfig    `mapstructure:"signer"`
	Voting    VotingConfig    `mapstructure:"voting"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Preflight PreflightConfig `mapstructure:"preflight"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. Persistence is
// optional; an empty DSN disables it.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the chain polling cadence.
type SchedulerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ChainConfig covers read access to the chain.
type ChainConfig struct {
	ChainID        string        `mapstructure:"chain_id"`
	LCDURL         string        `mapstructure:"lcd_url"`
	ModuleRoute    string        `mapstructure:"module_route"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// EpochIdentifier selects epoch-driven rounds; empty falls back to
	// block-height rounds derived from the oracle vote period.
	EpochIdentifier         string `mapstructure:"epoch_identifier"`
	MinBlocksBeforeRoundEnd int64  `mapstructure:"min_blocks_before_round_end"`
	AddressPrefix           string `mapstructure:"address_prefix"`
}

// SignerConfig configures the external signer daemon invocation.
type SignerConfig struct {
	Binary           string        `mapstructure:"binary"`
	Validator        string        `mapstructure:"validator"`
	ValidatorAccount string        `mapstructure:"validator_account"`
	Feeder           string        `mapstructure:"feeder"`
	KeyringBackend   string        `mapstructure:"keyring_backend"`
	KeyPassword      string        `mapstructure:"key_password"`
	Fees             string        `mapstructure:"fees"`
	GasPrices        string        `mapstructure:"gas_prices"`
	GasAdjustment    string        `mapstructure:"gas_adjustment"`
	Gas              string        `mapstructure:"gas"`
	Node             string        `mapstructure:"node"`
	ExtraFlags       []string      `mapstructure:"extra_flags"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// Sender resolves the account that signs oracle transactions: the
// delegated feeder when set, otherwise the validator's own account.
func (s SignerConfig) Sender() string {
	if s.Feeder != "" {
		return s.Feeder
	}
	return s.ValidatorAccount
}

// VotingConfig bounds the commit-reveal cycle.
type VotingConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	BlockWait     time.Duration `mapstructure:"block_wait"`
	BlockPoll     time.Duration `mapstructure:"block_poll"`
	IndexAttempts int           `mapstructure:"index_attempts"`
	IndexDelay    time.Duration `mapstructure:"index_delay"`
}

// PricingConfig drives aggregation and validation.
type PricingConfig struct {
	BaseDenom       string            `mapstructure:"base_denom"`
	FXMap           map[string]string `mapstructure:"fx_map"`
	Precision       int32             `mapstructure:"precision"`
	FetchTimeout    time.Duration     `mapstructure:"fetch_timeout"`
	SourceTimeout   time.Duration     `mapstructure:"source_timeout"`
	MaxConcurrency  int               `mapstructure:"max_concurrency"`
	FXSymbols       []string          `mapstructure:"fx_symbols"`
	FXProviders     []string          `mapstructure:"fx_providers"`
	MarketProviders []string          `mapstructure:"market_providers"`
	MarketSymbol    string            `mapstructure:"market_symbol"`
}

// SourcesConfig groups per-provider settings.
type SourcesConfig struct {
	Osmosis      OsmosisConfig      `mapstructure:"osmosis"`
	Band         BandConfig         `mapstructure:"band"`
	AlphaVantage AlphaVantageConfig `mapstructure:"alphavantage"`
	EVMFeeds     []EVMFeedConfig    `mapstructure:"evm_feeds"`
	UserAgent    string             `mapstructure:"user_agent"`
}

// OsmosisConfig points at the liquidity pool used for the market price.
type OsmosisConfig struct {
	LCDURL      string `mapstructure:"lcd_url"`
	PoolID      string `mapstructure:"pool_id"`
	BaseAsset   string `mapstructure:"base_asset"`
	QuoteAsset  string `mapstructure:"quote_asset"`
	QuoteSymbol string `mapstructure:"quote_symbol"`
}

// BandConfig configures the Band standard dataset REST endpoint.
type BandConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	AskCount int    `mapstructure:"ask_count"`
	MinCount int    `mapstructure:"min_count"`
}

// AlphaVantageConfig configures the AlphaVantage FX API.
type AlphaVantageConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// EVMFeedConfig describes a Chainlink-compatible aggregator contract.
type EVMFeedConfig struct {
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"`
	RPCURL   string `mapstructure:"rpc_url"`
	Address  string `mapstructure:"address"`
	Key      string `mapstructure:"key"`
	Decimals int32  `mapstructure:"decimals"`
	Invert   bool   `mapstructure:"invert"`
	// MaxAge rejects feed answers older than this; zero disables the check.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled    bool           `mapstructure:"enabled"`
	MissAlerts bool           `mapstructure:"miss_alerts"`
	Timeout    time.Duration  `mapstructure:"timeout"`
	Retention  time.Duration  `mapstructure:"retention"`
	Telegram   TelegramConfig `mapstructure:"telegram"`
	Slack      SlackConfig    `mapstructure:"slack"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// SlackConfig describes the Slack incoming webhook.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// PreflightConfig governs the startup readiness checks.
type PreflightConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRounds int `mapstructure:"max_rounds"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORACLEFEEDER")
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
	v.SetDefault("app.name", "oracle-feeder")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.poll_interval", "1s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f72636c))

	v.SetDefault("chain.chain_id", "symphony-testnet-3")
	v.SetDefault("chain.lcd_url", "http://localhost:1317")
	v.SetDefault("chain.module_route", "osmosis/oracle/v1beta1")
	v.SetDefault("chain.request_timeout", "4s")
	v.SetDefault("chain.epoch_identifier", "")
	v.SetDefault("chain.min_blocks_before_round_end", 3)
	v.SetDefault("chain.address_prefix", "symphony")

	v.SetDefault("signer.binary", "symphonyd")
	v.SetDefault("signer.keyring_backend", "os")
	v.SetDefault("signer.fees", "50000note")
	v.SetDefault("signer.gas_adjustment", "1.5")
	v.SetDefault("signer.timeout", "30s")

	v.SetDefault("voting.max_retries", 2)
	v.SetDefault("voting.block_wait", "10s")
	v.SetDefault("voting.block_poll", "250ms")
	v.SetDefault("voting.index_attempts", 10)
	v.SetDefault("voting.index_delay", "1s")

	v.SetDefault("pricing.base_denom", "uusd")
	v.SetDefault("pricing.fx_map", map[string]string{
		"uusd": "USD",
		"ukhd": "HKD",
		"uvnd": "INR",
	})
	v.SetDefault("pricing.precision", 12)
	v.SetDefault("pricing.fetch_timeout", "15s")
	v.SetDefault("pricing.source_timeout", "4s")
	v.SetDefault("pricing.max_concurrency", 8)
	v.SetDefault("pricing.fx_symbols", []string{"HKD", "INR"})
	v.SetDefault("pricing.fx_providers", []string{"band"})
	v.SetDefault("pricing.market_providers", []string{"osmosis"})
	v.SetDefault("pricing.market_symbol", "MLD")

	v.SetDefault("sources.user_agent", "")
	v.SetDefault("sources.osmosis.lcd_url", "https://lcd.testnet.osmosis.zone")
	v.SetDefault("sources.osmosis.pool_id", "588")
	v.SetDefault("sources.osmosis.base_asset", "ibc/B8435C53F8B5CC87703531FF736508875DF473D0C231E93A3EF5C2C934E562A4")
	v.SetDefault("sources.osmosis.quote_asset", "uosmo")
	v.SetDefault("sources.osmosis.quote_symbol", "OSMO")
	v.SetDefault("sources.band.endpoint", "https://laozi1.bandchain.org/api/oracle/v1")
	v.SetDefault("sources.band.ask_count", 16)
	v.SetDefault("sources.band.min_count", 10)
	v.SetDefault("sources.alphavantage.base_url", "https://www.alphavantage.co")
	v.SetDefault("sources.alphavantage.requests_per_minute", 5)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":19000")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.miss_alerts", true)
	v.SetDefault("alerting.timeout", "4s")
	v.SetDefault("alerting.retention", "720h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.slack.enabled", false)

	v.SetDefault("preflight.enabled", true)
	v.SetDefault("preflight.max_attempts", 5)
	v.SetDefault("preflight.retry_delay", "10s")

	v.SetDefault("export.max_rounds", 5000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
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

// Validate performs basic sanity checks on the configuration values. It
// deliberately does not require signer identities: read-only commands run
// without them and the vote controller rejects a missing sender itself.
func (c *Config) Validate() error {
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be greater than zero")
	}
	if c.Voting.MaxRetries < 0 {
		return fmt.Errorf("voting.max_retries cannot be negative")
	}
	if c.Voting.IndexAttempts <= 0 {
		return fmt.Errorf("voting.index_attempts must be greater than zero")
	}
	if c.Pricing.BaseDenom == "" {
		return fmt.Errorf("pricing.base_denom is required")
	}
	if c.Pricing.Precision < 0 || c.Pricing.Precision > 18 {
		return fmt.Errorf("pricing.precision must be between 0 and 18")
	}
	if c.Pricing.FetchTimeout <= 0 {
		return fmt.Errorf("pricing.fetch_timeout must be greater than zero")
	}
	if len(c.Pricing.MarketProviders) == 0 {
		return fmt.Errorf("pricing.market_providers must name at least one provider")
	}
	if c.Export.MaxRounds <= 0 {
		return fmt.Errorf("export.max_rounds must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Alerting.Slack.Enabled && c.Alerting.Slack.WebhookURL == "" {
		return fmt.Errorf("alerting.slack.webhook_url is required")
	}
	for i, feed := range c.Sources.EVMFeeds {
		if feed.RPCURL == "" || feed.Address == "" {
			return fmt.Errorf("sources.evm_feeds[%d]: rpc_url and address are required", i)
		}
	}
	return nil
}

// ResolveMaxRounds returns either the CLI override or config default.
func (c *Config) ResolveMaxRounds(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRounds
}
