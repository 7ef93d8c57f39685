// Package config provides configuration management for the scraper services.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dhruv2003/Scrapper/internal/types"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	Redis      RedisConfig
	Mongo      MongoConfig
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Worker     WorkerConfig
	Portal     PortalConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int
}

// AuthConfig holds the shared-secret API authentication settings.
type AuthConfig struct {
	Token         string
	AdminUser     string
	AdminPassword string
}

// RedisConfig holds queue/status store configuration.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// Addr returns the host:port address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// MongoConfig holds document store configuration.
type MongoConfig struct {
	URI                string
	Database           string
	Collection         string
	OverflowCollection string
}

// PostgresConfig holds relational store configuration.
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns a connection URL suitable for golang-migrate.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds the optional scrape-run archive configuration.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// WorkerConfig holds worker loop configuration.
type WorkerConfig struct {
	QueueName        string
	Concurrency      int
	DequeueTimeout   time.Duration
	ReconnectDelay   time.Duration
	ReconnectMax     time.Duration
	DBErrorCooldown  time.Duration
	LeaseTTL         time.Duration
	HeartbeatEvery   time.Duration
	ReapInterval     time.Duration
	FailedSweepAge   time.Duration
	CredentialsGlobs []string
}

// PortalConfig holds portal scraper configuration. Each record type
// has its own portal origin; session settings are shared.
type PortalConfig struct {
	BaseURLs        map[string]string
	Headless        bool
	ManualLoginWait time.Duration
	PageSettle      time.Duration
}

// BaseURLFor returns the portal origin serving a record type.
func (c *PortalConfig) BaseURLFor(recordType string) string {
	return c.BaseURLs[recordType]
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from a .env file and environment variables.
func Load() (*Config, error) {
	// .env file is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			RequestsPerSec:  getEnvAsInt("SERVER_REQUESTS_PER_SEC", 20),
		},
		Auth: AuthConfig{
			Token:         getEnv("API_TOKEN", ""),
			AdminUser:     getEnv("ADMIN_USER", "admin@cpcb.com"),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Host:           getEnv("REDIS_HOST", "localhost"),
			Port:           getEnv("REDIS_PORT", "6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
		},
		Mongo: MongoConfig{
			URI:                getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:           getEnv("MONGO_DB", "cpcb_scraper"),
			Collection:         getEnv("MONGO_COLLECTION", "entities"),
			OverflowCollection: getEnv("MONGO_OVERFLOW_COLLECTION", "entities_overflow"),
		},
		Postgres: PostgresConfig{
			Host:           getEnv("POSTGRES_HOST", "localhost"),
			Port:           getEnv("POSTGRES_PORT", "5432"),
			Database:       getEnv("POSTGRES_DB", "cpcb_scraper"),
			User:           getEnv("POSTGRES_USER", "scraper"),
			Password:       getEnv("POSTGRES_PASSWORD", ""),
			MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
			Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
			Port:     getEnv("CLICKHOUSE_PORT", "9000"),
			Database: getEnv("CLICKHOUSE_DB", "cpcb_scraper"),
			User:     getEnv("CLICKHOUSE_USER", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Worker: WorkerConfig{
			QueueName:       getEnv("WORKER_QUEUE", "pwmr_jobs"),
			Concurrency:     getEnvAsInt("WORKER_CONCURRENCY", 1),
			DequeueTimeout:  getEnvAsDuration("WORKER_DEQUEUE_TIMEOUT", time.Second),
			ReconnectDelay:  getEnvAsDuration("WORKER_RECONNECT_DELAY", 5*time.Second),
			ReconnectMax:    getEnvAsDuration("WORKER_RECONNECT_MAX", 60*time.Second),
			DBErrorCooldown: getEnvAsDuration("WORKER_DB_ERROR_COOLDOWN", 10*time.Second),
			LeaseTTL:        getEnvAsDuration("WORKER_LEASE_TTL", 20*time.Minute),
			HeartbeatEvery:  getEnvAsDuration("WORKER_HEARTBEAT_EVERY", time.Minute),
			ReapInterval:    getEnvAsDuration("WORKER_REAP_INTERVAL", 5*time.Minute),
			FailedSweepAge:  getEnvAsDuration("WORKER_FAILED_SWEEP_AGE", 24*time.Hour),
			CredentialsGlobs: []string{
				getEnv("CREDENTIALS_GLOB", "credentials*.json"),
			},
		},
		Portal: PortalConfig{
			BaseURLs: map[string]string{
				types.RecordTypePlastic: getEnv("PORTAL_BASE_URL_PWMR", "https://eprplastic.cpcb.gov.in"),
				types.RecordTypeBattery: getEnv("PORTAL_BASE_URL_BWMR", "https://eprbatteries.cpcb.gov.in"),
				types.RecordTypeEWaste:  getEnv("PORTAL_BASE_URL_EWMR", "https://eprewaste.cpcb.gov.in"),
			},
			Headless:        getEnvAsBool("PORTAL_HEADLESS", false),
			ManualLoginWait: getEnvAsDuration("PORTAL_MANUAL_LOGIN_WAIT", 600*time.Second),
			PageSettle:      getEnvAsDuration("PORTAL_PAGE_SETTLE", 3*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Auth.Token == "" {
		return nil, fmt.Errorf("API_TOKEN must be set")
	}

	return cfg, nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
