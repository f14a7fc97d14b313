package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Storage    StorageConfig    `mapstructure:"storage"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	LLM        LLMConfig        `mapstructure:"llm"`
	CRM        CRMConfig        `mapstructure:"crm"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Screener   ScreenerConfig   `mapstructure:"screener"`
	Cron       CronConfig       `mapstructure:"cron"`
	Triggers   TriggersConfig   `mapstructure:"triggers"`
	Retry      RetryConfig      `mapstructure:"retry"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
}

// ---- Leaf structs ----

type AppConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig selects the relational backend: "mysql" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	EventsTopic    string   `mapstructure:"events_topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type CRMConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Token           string        `mapstructure:"token"`
	LocationID      string        `mapstructure:"location_id"`
	APIVersion      string        `mapstructure:"api_version"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PageSize        int           `mapstructure:"page_size"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	SignatureHeader string        `mapstructure:"signature_header"`
}

type DispatcherConfig struct {
	MaxAttempts int              `mapstructure:"max_attempts"`
	Providers   []ProviderConfig `mapstructure:"providers"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

// ProviderConfig describes one CRM delivery endpoint. BaseURL/Token fall back to the crm section.
type ProviderConfig struct {
	Name      string        `mapstructure:"name"`
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type PolicyConfig struct {
	QuietHoursStart    int    `mapstructure:"quiet_hours_start"`
	QuietHoursEnd      int    `mapstructure:"quiet_hours_end"`
	DefaultTimezone    string `mapstructure:"default_timezone"`
	DailyCapPerContact int    `mapstructure:"daily_cap_per_contact"`
}

type ScreenerConfig struct {
	Keywords []string `mapstructure:"keywords"`
}

type CronConfig struct {
	Secret         string `mapstructure:"secret"`
	BookingNudges  string `mapstructure:"booking_nudges"`
	WeeklyDigest   string `mapstructure:"weekly_digest"`
	WeeklyCheckins string `mapstructure:"weekly_checkins"`
	SnoozeWakeups  string `mapstructure:"snooze_wakeups"`
}

type TriggersConfig struct {
	NudgeWindowStartHours int    `mapstructure:"nudge_window_start_hours"`
	NudgeWindowEndHours   int    `mapstructure:"nudge_window_end_hours"`
	DefaultChannel        string `mapstructure:"default_channel"`
	DigestTopN            int    `mapstructure:"digest_top_n"`
	RiskThreshold         int    `mapstructure:"risk_threshold"`
}

type RetryConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (COACHINBOX_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (COACHINBOX_MYSQL_DSN -> mysql.dsn)
	v.SetEnvPrefix("COACHINBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
