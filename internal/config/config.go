/*-------------------------------------------------------------------------
 *
 * config.go
 *    Configuration loading for NeuronLedger
 *
 * Configuration comes from defaults, an optional YAML file and environment
 * variables (a .env file in the working directory is honoured), in that
 * order of precedence.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/config/config.go
 *
 *-------------------------------------------------------------------------
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

/* Config holds application configuration */
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Auth     AuthConfig     `yaml:"auth"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
	Budgets  BudgetConfig   `yaml:"budgets"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

/* ServerConfig holds HTTP server configuration */
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

/* DatabaseConfig holds database configuration */
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

/* LoggingConfig holds logging configuration */
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

/* AuthConfig holds authentication configuration */
type AuthConfig struct {
	Mode      string `yaml:"mode"` /* "jwt" or "header" */
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
}

/* WebhookConfig holds delivery engine configuration */
type WebhookConfig struct {
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	UserAgent        string        `yaml:"user_agent"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SweepBatchSize   int           `yaml:"sweep_batch_size"`
	SweepConcurrency int           `yaml:"sweep_concurrency"`
	ClaimLease       time.Duration `yaml:"claim_lease"`
	StalePendingAge  time.Duration `yaml:"stale_pending_age"`
	RateLimit        float64       `yaml:"rate_limit"` /* requests per second, 0 disables */
	RateBurst        int           `yaml:"rate_burst"`
}

/* BudgetConfig holds budget maintenance configuration */
type BudgetConfig struct {
	RolloverInterval  time.Duration `yaml:"rollover_interval"`
	RolloverBatchSize int           `yaml:"rollover_batch_size"`
}

/* PriceEntry is one seeded pricing row; prices are decimal strings in USD per 1M tokens */
type PriceEntry struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	InputPer1M  string `yaml:"input_per_1m"`
	OutputPer1M string `yaml:"output_per_1m"`
}

/* PricingConfig holds the pricing seed */
type PricingConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Seed            []PriceEntry  `yaml:"seed"`
}

/* TracingConfig holds OpenTelemetry configuration */
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

/* DefaultConfig returns the default configuration */
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "neurondb",
			Password:        "neurondb",
			Database:        "neurondb",
			SSLMode:         "disable",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Auth: AuthConfig{
			Mode: "jwt",
		},
		Webhooks: WebhookConfig{
			Workers:          10,
			QueueSize:        1000,
			UserAgent:        "NeuronLedger-Webhooks/1.0",
			SweepInterval:    60 * time.Second,
			SweepBatchSize:   100,
			SweepConcurrency: 10,
			ClaimLease:       5 * time.Minute,
			StalePendingAge:  10 * time.Minute,
		},
		Budgets: BudgetConfig{
			RolloverInterval:  5 * time.Minute,
			RolloverBatchSize: 500,
		},
		Pricing: PricingConfig{
			RefreshInterval: 10 * time.Minute,
			Seed:            DefaultPricing(),
		},
		Tracing: TracingConfig{
			ServiceName:  "neuronledger",
			SamplingRate: 1.0,
		},
	}
}

/* DefaultPricing returns the built-in pricing seed */
func DefaultPricing() []PriceEntry {
	return []PriceEntry{
		{Provider: "openai", Model: "gpt-4o", InputPer1M: "2.50", OutputPer1M: "10.00"},
		{Provider: "openai", Model: "gpt-4o-mini", InputPer1M: "0.15", OutputPer1M: "0.60"},
		{Provider: "openai", Model: "gpt-4-turbo", InputPer1M: "10.00", OutputPer1M: "30.00"},
		{Provider: "anthropic", Model: "claude-3-5-sonnet", InputPer1M: "3.00", OutputPer1M: "15.00"},
		{Provider: "anthropic", Model: "claude-3-5-haiku", InputPer1M: "0.80", OutputPer1M: "4.00"},
		{Provider: "anthropic", Model: "claude-3-opus", InputPer1M: "15.00", OutputPer1M: "75.00"},
	}
}

/* LoadConfig loads configuration from a YAML file on top of defaults, then applies env overrides */
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: path='%s', error=%w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: path='%s', error=%w", path, err)
	}

	LoadFromEnv(cfg)
	return cfg, nil
}

/* LoadFromEnv applies environment variable overrides, reading .env first if present */
func LoadFromEnv(cfg *Config) {
	_ = godotenv.Load()

	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.CORSOrigins = getEnvSlice("CORS_ALLOWED_ORIGINS", cfg.Server.CORSOrigins)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", cfg.Database.ConnMaxLifetime)
	cfg.Database.ConnMaxIdleTime = getEnvDuration("DB_CONN_MAX_IDLE_TIME", cfg.Database.ConnMaxIdleTime)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = getEnv("LOG_OUTPUT", cfg.Logging.Output)

	cfg.Auth.Mode = getEnv("AUTH_MODE", cfg.Auth.Mode)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTIssuer = getEnv("JWT_ISSUER", cfg.Auth.JWTIssuer)

	cfg.Webhooks.Workers = getEnvInt("WEBHOOK_WORKERS", cfg.Webhooks.Workers)
	cfg.Webhooks.QueueSize = getEnvInt("WEBHOOK_QUEUE_SIZE", cfg.Webhooks.QueueSize)
	cfg.Webhooks.UserAgent = getEnv("WEBHOOK_USER_AGENT", cfg.Webhooks.UserAgent)
	cfg.Webhooks.SweepInterval = getEnvDuration("WEBHOOK_SWEEP_INTERVAL", cfg.Webhooks.SweepInterval)
	cfg.Webhooks.SweepBatchSize = getEnvInt("WEBHOOK_SWEEP_BATCH_SIZE", cfg.Webhooks.SweepBatchSize)
	cfg.Webhooks.SweepConcurrency = getEnvInt("WEBHOOK_SWEEP_CONCURRENCY", cfg.Webhooks.SweepConcurrency)
	cfg.Webhooks.ClaimLease = getEnvDuration("WEBHOOK_CLAIM_LEASE", cfg.Webhooks.ClaimLease)
	cfg.Webhooks.RateLimit = getEnvFloat("WEBHOOK_RATE_LIMIT", cfg.Webhooks.RateLimit)
	cfg.Webhooks.RateBurst = getEnvInt("WEBHOOK_RATE_BURST", cfg.Webhooks.RateBurst)

	cfg.Budgets.RolloverInterval = getEnvDuration("BUDGET_ROLLOVER_INTERVAL", cfg.Budgets.RolloverInterval)
	cfg.Budgets.RolloverBatchSize = getEnvInt("BUDGET_ROLLOVER_BATCH_SIZE", cfg.Budgets.RolloverBatchSize)

	cfg.Pricing.RefreshInterval = getEnvDuration("PRICING_REFRESH_INTERVAL", cfg.Pricing.RefreshInterval)

	cfg.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.ServiceName = getEnv("OTEL_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.SamplingRate = getEnvFloat("OTEL_SAMPLING_RATE", cfg.Tracing.SamplingRate)
}

/* Validate checks configuration invariants */
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: port=%d", c.Server.Port)
	}
	if c.Database.Host == "" || c.Database.Database == "" {
		return fmt.Errorf("database host and name are required: host='%s', database='%s'", c.Database.Host, c.Database.Database)
	}
	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth mode 'jwt' requires JWT_SECRET")
		}
	case "header":
	default:
		return fmt.Errorf("invalid auth mode: mode='%s', allowed='jwt,header'", c.Auth.Mode)
	}
	if c.Webhooks.Workers <= 0 || c.Webhooks.QueueSize <= 0 {
		return fmt.Errorf("webhook workers and queue size must be positive: workers=%d, queue_size=%d", c.Webhooks.Workers, c.Webhooks.QueueSize)
	}
	if c.Webhooks.SweepInterval <= 0 || c.Webhooks.SweepBatchSize <= 0 {
		return fmt.Errorf("webhook sweep interval and batch size must be positive: interval=%s, batch_size=%d", c.Webhooks.SweepInterval, c.Webhooks.SweepBatchSize)
	}
	if c.Budgets.RolloverInterval <= 0 || c.Pricing.RefreshInterval <= 0 {
		return fmt.Errorf("budget rollover and pricing refresh intervals must be positive: rollover=%s, refresh=%s", c.Budgets.RolloverInterval, c.Pricing.RefreshInterval)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing sampling rate must be within [0,1]: rate=%f", c.Tracing.SamplingRate)
	}
	return nil
}

/* ConnectionString renders the lib/pq key/value connection string */
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

/* URL renders the connection as a postgres:// URL for the migration driver */
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return defaultValue
	}
	return parts
}
