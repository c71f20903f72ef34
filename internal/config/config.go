package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Cron   CronConfig   `mapstructure:"cron"`

	AI         AIConfig         `mapstructure:"ai"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Flow       FlowConfig       `mapstructure:"flow"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// RedisConfig is optional; with Addr empty the flow lock and sentiment
// cache fall back to their in-process implementations.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CronConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	PortfolioSnapshot string `mapstructure:"portfolio_snapshot"`
}

type AIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKeyEnv    string        `mapstructure:"api_key_env"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	Temperature  float64       `mapstructure:"temperature"`
}

type MarketDataConfig struct {
	BinanceBaseURL   string        `mapstructure:"binance_base_url"`
	KlineInterval    string        `mapstructure:"kline_interval"`
	KlineLimit       int           `mapstructure:"kline_limit"`
	Timeout          time.Duration `mapstructure:"timeout"`
	SentimentURL     string        `mapstructure:"sentiment_url"`
	SentimentTTL     time.Duration `mapstructure:"sentiment_ttl"`
	FundingEnabled   bool          `mapstructure:"funding_enabled"`
	StreamURL        string        `mapstructure:"stream_url"`
	StreamReadLimit  int64         `mapstructure:"stream_read_limit"`
	StreamMaxBackoff time.Duration `mapstructure:"stream_max_backoff"`
}

type RiskConfig struct {
	MaxOpenPositions    int     `mapstructure:"max_open_positions"`
	MaxPositionUSD      float64 `mapstructure:"max_position_usd"`
	MaxTotalNotionalUSD float64 `mapstructure:"max_total_notional_usd"`
	MaxDailyLossUSD     float64 `mapstructure:"max_daily_loss_usd"`
	MaxLeverage         int     `mapstructure:"max_leverage"`
	MinConfidence       float64 `mapstructure:"min_confidence"`
	RiskModel           string  `mapstructure:"risk_model"`
}

type ExecutorConfig struct {
	Mode           string        `mapstructure:"mode"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	SubmitRetries  int           `mapstructure:"submit_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	OrderTimeout   time.Duration `mapstructure:"order_timeout"`
	APIKeyEnv      string        `mapstructure:"api_key_env"`
	APISecretEnv   string        `mapstructure:"api_secret_env"`
	PaperFeeRate   float64       `mapstructure:"paper_fee_rate"`
	PaperSlippage  float64       `mapstructure:"paper_slippage_bps"`
}

type MonitorConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ReevalInterval time.Duration `mapstructure:"reeval_interval"`
	ReevalModel    string        `mapstructure:"reeval_model"`
}

type FlowConfig struct {
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	MaxLoopDelay      time.Duration `mapstructure:"max_loop_delay"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.portfolio_snapshot", "@hourly")

	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("ai.default_model", "gpt-4o-mini")
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.temperature", 0.2)

	v.SetDefault("market_data.binance_base_url", "https://api.binance.com")
	v.SetDefault("market_data.kline_interval", "15m")
	v.SetDefault("market_data.kline_limit", 100)
	v.SetDefault("market_data.timeout", "15s")
	v.SetDefault("market_data.sentiment_url", "https://api.alternative.me/fng/?limit=1")
	v.SetDefault("market_data.sentiment_ttl", "30s")
	v.SetDefault("market_data.funding_enabled", true)
	v.SetDefault("market_data.stream_url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("market_data.stream_read_limit", 1048576)
	v.SetDefault("market_data.stream_max_backoff", "30s")

	v.SetDefault("risk.max_open_positions", 5)
	v.SetDefault("risk.max_position_usd", 1000)
	v.SetDefault("risk.max_total_notional_usd", 5000)
	v.SetDefault("risk.max_daily_loss_usd", 500)
	v.SetDefault("risk.max_leverage", 10)
	v.SetDefault("risk.min_confidence", 0.3)
	v.SetDefault("risk.risk_model", "")

	v.SetDefault("executor.mode", "paper")
	v.SetDefault("executor.poll_interval", "2s")
	v.SetDefault("executor.submit_retries", 3)
	v.SetDefault("executor.retry_base_delay", "250ms")
	v.SetDefault("executor.order_timeout", "2m")
	v.SetDefault("executor.api_key_env", "BINANCE_API_KEY")
	v.SetDefault("executor.api_secret_env", "BINANCE_API_SECRET")
	v.SetDefault("executor.paper_fee_rate", 0.0004)
	v.SetDefault("executor.paper_slippage_bps", 2)

	v.SetDefault("monitor.poll_interval", "1s")
	v.SetDefault("monitor.reeval_interval", "60s")
	v.SetDefault("monitor.reeval_model", "")

	v.SetDefault("flow.scheduler_interval", "5s")
	v.SetDefault("flow.lock_ttl", "5m")
	v.SetDefault("flow.max_loop_delay", "1h")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
