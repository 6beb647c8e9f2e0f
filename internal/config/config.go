package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"smartpesa/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Forecast  ForecastConfig  `mapstructure:"forecast"`
	Credit    CreditConfig    `mapstructure:"credit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// ForecastConfig tunes the hybrid forecaster.
type ForecastConfig struct {
	HistoryDays           int     `mapstructure:"history_days"`
	MinDays               int     `mapstructure:"min_days"`
	Trees                 int     `mapstructure:"trees"`
	MaxDepth              int     `mapstructure:"max_depth"`
	Seed                  int64   `mapstructure:"seed"`
	IntervalWidth         float64 `mapstructure:"interval_width"`
	UncertaintySamples    int     `mapstructure:"uncertainty_samples"`
	ChangepointPriorScale float64 `mapstructure:"changepoint_prior_scale"`
	Extended              bool    `mapstructure:"extended"`
}

// CreditConfig tunes credit scoring.
type CreditConfig struct {
	Validity time.Duration `mapstructure:"validity"`
	Workers  int           `mapstructure:"workers"`
}

// SchedulerConfig governs background jobs.
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RiskScan        string        `mapstructure:"risk_scan"`
	ScoreRefresh    string        `mapstructure:"score_refresh"`
	AlertRetention  time.Duration `mapstructure:"alert_retention"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	MinLevel string         `mapstructure:"min_level"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// MetricsConfig names the Prometheus namespace.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SMARTPESA")
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
	v.SetDefault("app.name", "smartpesa")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("forecast.history_days", 365)
	v.SetDefault("forecast.min_days", 30)
	v.SetDefault("forecast.trees", 100)
	v.SetDefault("forecast.max_depth", 10)
	v.SetDefault("forecast.seed", 42)
	v.SetDefault("forecast.interval_width", 0.8)
	v.SetDefault("forecast.uncertainty_samples", 1000)
	v.SetDefault("forecast.changepoint_prior_scale", 0.05)
	v.SetDefault("forecast.extended", false)

	v.SetDefault("credit.validity", "720h")
	v.SetDefault("credit.workers", 4)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.risk_scan", "0 6 * * *")
	v.SetDefault("scheduler.score_refresh", "30 2 * * *")
	v.SetDefault("scheduler.alert_retention", "2160h")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x736d7061))

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_level", "HIGH")
	v.SetDefault("alerting.cooldown", "24h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "smartpesa")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Forecast.MinDays <= 0 {
		return fmt.Errorf("forecast.min_days must be greater than zero")
	}
	if c.Forecast.HistoryDays < c.Forecast.MinDays {
		return fmt.Errorf("forecast.history_days must be at least forecast.min_days")
	}
	if c.Forecast.Trees <= 0 {
		return fmt.Errorf("forecast.trees must be greater than zero")
	}
	if c.Forecast.MaxDepth <= 0 {
		return fmt.Errorf("forecast.max_depth must be greater than zero")
	}
	if c.Forecast.IntervalWidth <= 0 || c.Forecast.IntervalWidth >= 1 {
		return fmt.Errorf("forecast.interval_width must be in (0, 1)")
	}
	if c.Forecast.UncertaintySamples <= 0 {
		return fmt.Errorf("forecast.uncertainty_samples must be greater than zero")
	}
	if c.Forecast.ChangepointPriorScale <= 0 {
		return fmt.Errorf("forecast.changepoint_prior_scale must be greater than zero")
	}
	if c.Credit.Validity <= 0 {
		return fmt.Errorf("credit.validity must be greater than zero")
	}
	if c.Credit.Workers <= 0 {
		return fmt.Errorf("credit.workers must be greater than zero")
	}
	switch strings.ToUpper(c.Alerting.MinLevel) {
	case "LOW", "MEDIUM", "HIGH":
	default:
		return fmt.Errorf("alerting.min_level must be one of LOW, MEDIUM, HIGH")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
