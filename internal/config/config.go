package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"signal-relay/internal/dialect"
	"signal-relay/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN               string        `mapstructure:"dsn"`
	MaxOpenConns      int           `mapstructure:"max_open_conns"`
	MaxIdleConns      int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `mapstructure:"conn_max_lifetime"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// ServerConfig covers the HTTP surface.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	StreamBuffer      int           `mapstructure:"stream_buffer"`
}

// QueueConfig governs the durable inbound queue consumer.
type QueueConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	Workers        int           `mapstructure:"workers"`
	LeaseDuration  time.Duration `mapstructure:"lease_duration"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	Retention      time.Duration `mapstructure:"retention"`
	PurgeLockKey   int64         `mapstructure:"purge_lock_key"`
}

// RoutingConfig lists the routed channels inline and/or in a separate file.
type RoutingConfig struct {
	File     string          `mapstructure:"file"`
	Channels []dialect.Route `mapstructure:"channels"`
}

// AlertingConfig defines notification delivery.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	BotToken      string            `mapstructure:"bot_token"`
	APIBase       string            `mapstructure:"api_base"`
	DefaultChatID string            `mapstructure:"default_chat_id"`
	Destinations  map[string]string `mapstructure:"destinations"`
	RatePerSecond float64           `mapstructure:"rate_per_second"`
	MaxRetries    int               `mapstructure:"max_retries"`
	Timeout       time.Duration     `mapstructure:"timeout"`
}

// ExecutionConfig configures the trade-execution webhook.
type ExecutionConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Channels   []int64       `mapstructure:"channels"`
	Domains    []string      `mapstructure:"domains"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from file, environment, and defaults. A .env file
// in the working directory is loaded first without overriding the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SIGNALRELAY")
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
	v.SetDefault("app.name", "signalrelay")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.health_check_period", "1m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_body_bytes", int64(64*1024))
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.stream_buffer", 64)

	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.batch_size", 50)
	v.SetDefault("queue.workers", 8)
	v.SetDefault("queue.lease_duration", "2m")
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.backoff_initial", "2s")
	v.SetDefault("queue.backoff_max", "5m")
	v.SetDefault("queue.retention", "168h")
	v.SetDefault("queue.purge_lock_key", int64(0x53524c50))

	v.SetDefault("routing.file", "")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.rate_per_second", 20.0)
	v.SetDefault("alerting.telegram.max_retries", 3)
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("execution.enabled", false)
	v.SetDefault("execution.timeout", "10s")
	v.SetDefault("execution.max_retries", 3)

	v.SetDefault("export.max_rows", 100000)
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
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be greater than zero")
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be greater than zero")
	}
	if c.Queue.BatchSize <= 0 || c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.batch_size and queue.workers must be greater than zero")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be greater than zero")
	}
	if c.Queue.LeaseDuration <= 0 {
		return fmt.Errorf("queue.lease_duration must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.DefaultChatID == "" && len(c.Alerting.Telegram.Destinations) == 0 {
			return fmt.Errorf("alerting.telegram.default_chat_id 或 destinations 必须配置")
		}
	}
	if c.Execution.Enabled && c.Execution.WebhookURL == "" {
		return fmt.Errorf("execution.webhook_url is required when execution is enabled")
	}
	return nil
}

// Routes merges the routing file with the inline channel list. Inline
// entries come last so duplicates are reported against them.
func (c *Config) Routes() ([]dialect.Route, error) {
	var routes []dialect.Route
	if c.Routing.File != "" {
		fromFile, err := dialect.LoadRoutesFile(c.Routing.File)
		if err != nil {
			return nil, err
		}
		routes = append(routes, fromFile...)
	}
	routes = append(routes, c.Routing.Channels...)
	if len(routes) == 0 {
		return nil, fmt.Errorf("no channels routed: set routing.file or routing.channels")
	}
	return routes, nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}

// Persistent reports whether a database is configured.
func (c *Config) Persistent() bool {
	return strings.TrimSpace(c.Database.DSN) != ""
}
