package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/regimebot/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Trading     TradingConfig   `mapstructure:"trading"`
	Indicators  IndicatorConfig `mapstructure:"indicators"`
	Regime      RegimeConfig    `mapstructure:"regime"`
	Strategy    StrategyConfig  `mapstructure:"strategy"`
	Router      RouterConfig    `mapstructure:"router"`
	Risk        RiskConfig      `mapstructure:"risk"`
	Broker      BrokerConfig    `mapstructure:"broker"`
	State       StateConfig     `mapstructure:"state"`
	Feed        FeedConfig      `mapstructure:"feed"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
}

type TradingConfig struct {
	Symbol           string  `mapstructure:"symbol"`
	Exchange         string  `mapstructure:"exchange"`
	PrimaryTimeframe string  `mapstructure:"primary_timeframe"`
	DailyTimeframe   string  `mapstructure:"daily_timeframe"`
	PrimaryLimit     int     `mapstructure:"primary_limit"`
	DailyLimit       int     `mapstructure:"daily_limit"`
	StartingBalance  float64 `mapstructure:"starting_balance"`
	ForceSentiment   string  `mapstructure:"force_sentiment_override"`
}

// IndicatorConfig holds lookback windows for the feature engine.
type IndicatorConfig struct {
	MAType         string  `mapstructure:"ma_type"`
	FastWindow     int     `mapstructure:"fast_window"`
	SlowWindow     int     `mapstructure:"slow_window"`
	RSIPeriod      int     `mapstructure:"rsi_period"`
	ATRPeriod      int     `mapstructure:"atr_period"`
	BBWindow       int     `mapstructure:"bb_window"`
	BBStdDev       float64 `mapstructure:"bb_std_dev"`
	VolumeWindow   int     `mapstructure:"volume_window"`
	DailyFast      int     `mapstructure:"daily_fast_window"`
	DailySlow      int     `mapstructure:"daily_slow_window"`
	DailyBBWindow  int     `mapstructure:"daily_bb_window"`
	DailyATRPeriod int     `mapstructure:"daily_atr_period"`
}

type RegimeConfig struct {
	TrendThreshold float64 `mapstructure:"trend_threshold"`
}

type StrategyConfig struct {
	EntryThresholdPct float64 `mapstructure:"entry_threshold_pct"`
	RSIOversold       float64 `mapstructure:"rsi_oversold"`
	RSIExit           float64 `mapstructure:"rsi_exit"`
	BandTolerance     float64 `mapstructure:"band_tolerance"`
}

type RouterConfig struct {
	TrendStrategies         []string `mapstructure:"trend_strategies"`
	RangeStrategies         []string `mapstructure:"range_strategies"`
	VolumeBreakoutThreshold float64  `mapstructure:"volume_breakout_threshold"`
}

type RiskConfig struct {
	RiskPerTradePct        float64       `mapstructure:"risk_per_trade_pct"`
	MaxPositionPct         float64       `mapstructure:"max_position_pct"`
	MinTradeValue          float64       `mapstructure:"min_trade_value"`
	StopMultiplier         float64       `mapstructure:"stop_multiplier"`
	MaxDrawdownPct         float64       `mapstructure:"max_drawdown_pct"`
	DailyLossKillSwitchPct float64       `mapstructure:"daily_loss_kill_switch_pct"`
	MaxOpenPositions       int           `mapstructure:"max_open_positions"`
	MaxConsecutiveLosses   int           `mapstructure:"max_consecutive_losses"`
	LossPause              time.Duration `mapstructure:"loss_pause"`
	CooldownBars           int           `mapstructure:"cooldown_bars"`
	MinStopDistancePct     float64       `mapstructure:"min_stop_distance_pct"`
	QuantityPrecision      int32         `mapstructure:"quantity_precision"`

	// StrategyRiskPct overrides RiskPerTradePct for entries routed from a strategy.
	StrategyRiskPct map[string]float64 `mapstructure:"strategy_risk_pct"`
}

type BrokerConfig struct {
	FeeRate     float64 `mapstructure:"fee_rate"`
	SlippagePct float64 `mapstructure:"slippage_pct"`
}

type StateConfig struct {
	Dir         string  `mapstructure:"dir"`
	DiskWarnPct float64 `mapstructure:"disk_warn_pct"`
}

type FeedConfig struct {
	CCXTServiceURL string        `mapstructure:"ccxt_service_url"`
	SentimentURL   string        `mapstructure:"sentiment_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	SentimentTTL   time.Duration `mapstructure:"sentiment_ttl"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
	MinLevel string `mapstructure:"min_level"`

	// DailySummary sends the previous UTC day's PnL and win rate at INFO.
	DailySummary bool `mapstructure:"daily_summary"`
}

type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Exporter       string  `mapstructure:"exporter"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	ExportLogs     bool    `mapstructure:"export_logs"`
}

type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// Load reads configuration from config.yaml, .env and the environment.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the built-in defaults without reading files or the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &config
}

// Validate checks the trading-critical bounds.
func (c *Config) Validate() error {
	r := c.Risk
	switch {
	case c.Trading.Symbol == "":
		return utils.NewValidationError("trading.symbol", "is required")
	case c.Trading.StartingBalance <= 0:
		return utils.NewValidationErrorf("trading.starting_balance", "must be positive, got %v", c.Trading.StartingBalance)
	case r.RiskPerTradePct <= 0 || r.RiskPerTradePct >= 1:
		return utils.NewValidationErrorf("risk.risk_per_trade_pct", "must be in (0, 1), got %v", r.RiskPerTradePct)
	case r.MaxPositionPct <= 0 || r.MaxPositionPct > 1:
		return utils.NewValidationErrorf("risk.max_position_pct", "must be in (0, 1], got %v", r.MaxPositionPct)
	case r.StopMultiplier <= 0:
		return utils.NewValidationErrorf("risk.stop_multiplier", "must be positive, got %v", r.StopMultiplier)
	case r.MaxOpenPositions != 1:
		return utils.NewValidationErrorf("risk.max_open_positions", "must be 1, got %d", r.MaxOpenPositions)
	case r.DailyLossKillSwitchPct <= 0 || r.DailyLossKillSwitchPct >= 1:
		return utils.NewValidationErrorf("risk.daily_loss_kill_switch_pct", "must be in (0, 1), got %v", r.DailyLossKillSwitchPct)
	case r.MaxDrawdownPct <= 0 || r.MaxDrawdownPct >= 1:
		return utils.NewValidationErrorf("risk.max_drawdown_pct", "must be in (0, 1), got %v", r.MaxDrawdownPct)
	case c.Indicators.FastWindow <= 0 || c.Indicators.FastWindow >= c.Indicators.SlowWindow:
		return utils.NewValidationErrorf("indicators.fast_window", "must be positive and below slow_window (%d >= %d)",
			c.Indicators.FastWindow, c.Indicators.SlowWindow)
	case c.Indicators.MAType != "sma" && c.Indicators.MAType != "ema":
		return utils.NewValidationErrorf("indicators.ma_type", "must be sma or ema, got %q", c.Indicators.MAType)
	case c.Feed.Timeout <= 0:
		return utils.NewValidationError("feed.timeout", "must be positive")
	}
	for strategy, pct := range r.StrategyRiskPct {
		if pct <= 0 || pct >= 1 {
			return utils.NewValidationErrorf("risk.strategy_risk_pct."+strategy, "must be in (0, 1), got %v", pct)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Trading
	v.SetDefault("trading.symbol", "BTC/USDT")
	v.SetDefault("trading.exchange", "binance")
	v.SetDefault("trading.primary_timeframe", "4h")
	v.SetDefault("trading.daily_timeframe", "1d")
	v.SetDefault("trading.primary_limit", 300)
	v.SetDefault("trading.daily_limit", 120)
	v.SetDefault("trading.starting_balance", 10000.0)
	v.SetDefault("trading.force_sentiment_override", "")

	// Indicators
	v.SetDefault("indicators.ma_type", "sma")
	v.SetDefault("indicators.fast_window", 20)
	v.SetDefault("indicators.slow_window", 50)
	v.SetDefault("indicators.rsi_period", 14)
	v.SetDefault("indicators.atr_period", 14)
	v.SetDefault("indicators.bb_window", 20)
	v.SetDefault("indicators.bb_std_dev", 2.0)
	v.SetDefault("indicators.volume_window", 20)
	v.SetDefault("indicators.daily_fast_window", 20)
	v.SetDefault("indicators.daily_slow_window", 50)
	v.SetDefault("indicators.daily_bb_window", 20)
	v.SetDefault("indicators.daily_atr_period", 14)

	v.SetDefault("regime.trend_threshold", 1.0)

	// Strategy
	v.SetDefault("strategy.entry_threshold_pct", 0.0)
	v.SetDefault("strategy.rsi_oversold", 30.0)
	v.SetDefault("strategy.rsi_exit", 45.0)
	v.SetDefault("strategy.band_tolerance", 0.01)

	// Router
	v.SetDefault("router.trend_strategies", []string{"trend_following"})
	v.SetDefault("router.range_strategies", []string{"mean_reversion"})
	v.SetDefault("router.volume_breakout_threshold", 1.5)

	// Risk
	v.SetDefault("risk.risk_per_trade_pct", 0.01)
	v.SetDefault("risk.max_position_pct", 0.25)
	v.SetDefault("risk.min_trade_value", 10.0)
	v.SetDefault("risk.stop_multiplier", 2.0)
	v.SetDefault("risk.max_drawdown_pct", 0.20)
	v.SetDefault("risk.daily_loss_kill_switch_pct", 0.05)
	v.SetDefault("risk.max_open_positions", 1)
	v.SetDefault("risk.max_consecutive_losses", 3)
	v.SetDefault("risk.loss_pause", "24h")
	v.SetDefault("risk.cooldown_bars", 2)
	v.SetDefault("risk.min_stop_distance_pct", 0.001)
	v.SetDefault("risk.quantity_precision", 6)
	v.SetDefault("risk.strategy_risk_pct", map[string]float64{})

	// Broker
	v.SetDefault("broker.fee_rate", 0.0005)
	v.SetDefault("broker.slippage_pct", 0.0005)

	// State
	v.SetDefault("state.dir", "./state")
	v.SetDefault("state.disk_warn_pct", 90.0)

	// Feed
	v.SetDefault("feed.ccxt_service_url", "http://localhost:3001")
	v.SetDefault("feed.sentiment_url", "https://api.alternative.me/fng/")
	v.SetDefault("feed.timeout", "15s")
	v.SetDefault("feed.max_retries", 1)
	v.SetDefault("feed.retry_delay", "2s")
	v.SetDefault("feed.sentiment_ttl", "1h")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "regimebot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.database_url", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "300s")

	// Telegram
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.min_level", "warning")
	v.SetDefault("telegram.daily_summary", true)

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "regimebot")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.export_logs", false)

	v.SetDefault("metrics.textfile_path", "")
}
