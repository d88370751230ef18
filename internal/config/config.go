package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/expiration"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/messaging/redis"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/worker"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Journey   JourneyConfig   `mapstructure:"journey"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	HealthPort   int           `mapstructure:"health_port"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type SweeperConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	// LagDays is how many days past end_date a protocol stays active. One
	// means a protocol ending yesterday is swept today.
	LagDays int `mapstructure:"lag_days"`
	// ExcludedProgramTypes are never completed by date.
	ExcludedProgramTypes []string `mapstructure:"excluded_program_types"`
}

type JourneyConfig struct {
	AutoAdvanceEnabled  bool          `mapstructure:"auto_advance_enabled"`
	AutoAdvanceInterval time.Duration `mapstructure:"auto_advance_interval"`
	TemplateCacheTTL    time.Duration `mapstructure:"template_cache_ttl"`
}

type LedgerConfig struct {
	MaxCASAttempts     int `mapstructure:"max_cas_attempts"`
	FollowUpWindowDays int `mapstructure:"follow_up_window_days"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// envOverrides are read from LEDGER_* variables after the file is loaded, for
// secrets and per-deployment endpoints.
type envOverrides struct {
	DatabaseHost     string `envconfig:"DATABASE_HOST"`
	DatabasePort     int    `envconfig:"DATABASE_PORT"`
	DatabaseUser     string `envconfig:"DATABASE_USER"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	DatabaseName     string `envconfig:"DATABASE_NAME"`
	RedisURL         string `envconfig:"REDIS_URL"`
	ServerPort       int    `envconfig:"SERVER_PORT"`
	LogLevel         string `envconfig:"LOG_LEVEL"`
}

const envPrefix = "LEDGER"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.health_port", 8081)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "protocol_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.channel", "protocol-ledger.events")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", time.Second)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", time.Hour)
	v.SetDefault("sweeper.lag_days", 1)
	v.SetDefault("sweeper.excluded_program_types", []string{string(model.ProgramWeightLoss), string(model.ProgramHRT)})

	v.SetDefault("journey.auto_advance_enabled", true)
	v.SetDefault("journey.auto_advance_interval", time.Hour)
	v.SetDefault("journey.template_cache_ttl", 5*time.Minute)

	v.SetDefault("ledger.max_cas_attempts", 3)
	v.SetDefault("ledger.follow_up_window_days", model.FollowUpWindowDays)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yml from path (or the usual locations when path is
// empty), applies LEDGER_* overrides and validates the result. A missing
// file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.applyOverrides(env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyOverrides(env envOverrides) {
	if env.DatabaseHost != "" {
		c.Database.Host = env.DatabaseHost
	}
	if env.DatabasePort != 0 {
		c.Database.Port = env.DatabasePort
	}
	if env.DatabaseUser != "" {
		c.Database.User = env.DatabaseUser
	}
	if env.DatabasePassword != "" {
		c.Database.Password = env.DatabasePassword
	}
	if env.DatabaseName != "" {
		c.Database.Name = env.DatabaseName
	}
	if env.RedisURL != "" {
		c.Redis.URL = env.RedisURL
	}
	if env.ServerPort != 0 {
		c.Server.Port = env.ServerPort
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
}

func (c *Config) Validate() error {
	if c.Ledger.MaxCASAttempts < 1 {
		return fmt.Errorf("ledger.max_cas_attempts must be at least 1")
	}
	if c.Sweeper.LagDays < 0 {
		return fmt.Errorf("sweeper.lag_days must not be negative")
	}
	if _, err := c.Sweeper.ProgramTypes(); err != nil {
		return err
	}
	return nil
}

// ProgramTypes parses the sweep exclusion list.
func (c SweeperConfig) ProgramTypes() ([]model.ProgramType, error) {
	out := make([]model.ProgramType, 0, len(c.ExcludedProgramTypes))
	for _, name := range c.ExcludedProgramTypes {
		pt, err := model.ParseProgramType(name)
		if err != nil {
			return nil, fmt.Errorf("sweeper.excluded_program_types: %w", err)
		}
		out = append(out, pt)
	}
	return out, nil
}

// ToSweeperConfig assumes Validate already accepted the exclusion list.
func (c SweeperConfig) ToSweeperConfig() expiration.Config {
	excluded, _ := c.ProgramTypes()
	return expiration.Config{
		LagDays:              c.LagDays,
		ExcludedProgramTypes: excluded,
	}
}

func (c LogConfig) ToLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      logger.ParseLevel(c.Level),
		TimeFormat: time.RFC3339,
		JSON:       c.JSON,
	}
}

func (c *OutboxConfig) ToWorkerConfig(channel string) worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		Channel:       channel,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
