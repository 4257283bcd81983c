package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fx-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Indicators IndicatorsConfig `mapstructure:"indicators"`
	News       NewsConfig       `mapstructure:"news"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Push       PushConfig       `mapstructure:"push"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs polling cadence for both jobs.
type SchedulerConfig struct {
	RatesInterval   time.Duration `mapstructure:"rates_interval"`
	NewsInterval    time.Duration `mapstructure:"news_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// IndicatorsConfig covers the external indicator source.
type IndicatorsConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	USDCode        string        `mapstructure:"usd_code"`
	EURCode        string        `mapstructure:"eur_code"`
	UFCode         string        `mapstructure:"uf_code"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// NewsConfig captures the finance news feed.
type NewsConfig struct {
	FeedURL        string        `mapstructure:"feed_url"`
	SourceLabel    string        `mapstructure:"source_label"`
	MaxItems       int           `mapstructure:"max_items"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AlertingConfig defines change-detection defaults. The percentage
// threshold is a fraction of the baseline value (0.01 = 1%).
type AlertingConfig struct {
	DefaultPctThreshold float64       `mapstructure:"default_pct_threshold"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
}

// PushConfig parameterises the push delivery gateway.
type PushConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AccessToken    string        `mapstructure:"access_token"`
	BatchSize      int           `mapstructure:"batch_size"`
	ReceiptDelay   time.Duration `mapstructure:"receipt_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FXWATCHER")
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
	v.SetDefault("app.name", "fxwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.rates_interval", "15m")
	v.SetDefault("scheduler.news_interval", "30m")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66787741))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("indicators.base_url", "https://mindicador.cl/api")
	v.SetDefault("indicators.usd_code", "dolar")
	v.SetDefault("indicators.eur_code", "euro")
	v.SetDefault("indicators.uf_code", "uf")
	v.SetDefault("indicators.request_timeout", "10s")
	v.SetDefault("indicators.user_agent", "fxwatcher/1.0")

	v.SetDefault("news.feed_url", "https://www.df.cl/noticias/site/tax/port/all/rss___portada.xml")
	v.SetDefault("news.source_label", "Diario Financiero")
	v.SetDefault("news.max_items", 15)
	v.SetDefault("news.request_timeout", "15s")
	v.SetDefault("news.user_agent", "fxwatcher/1.0")

	v.SetDefault("alerting.default_pct_threshold", 0.01)
	v.SetDefault("alerting.cooldown", "30m")

	v.SetDefault("push.base_url", "https://exp.host/--/api/v2")
	v.SetDefault("push.batch_size", 100)
	v.SetDefault("push.receipt_delay", "5s")
	v.SetDefault("push.request_timeout", "15s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Scheduler.RatesInterval <= 0 {
		return fmt.Errorf("scheduler.rates_interval must be greater than zero")
	}
	if c.Scheduler.NewsInterval <= 0 {
		return fmt.Errorf("scheduler.news_interval must be greater than zero")
	}
	if c.Indicators.BaseURL == "" {
		return fmt.Errorf("indicators.base_url is required")
	}
	if c.News.MaxItems <= 0 {
		return fmt.Errorf("news.max_items must be greater than zero")
	}
	if c.Alerting.DefaultPctThreshold < 0 {
		return fmt.Errorf("alerting.default_pct_threshold cannot be negative")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Push.BatchSize <= 0 {
		return fmt.Errorf("push.batch_size must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
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
