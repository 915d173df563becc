// Package config provides configuration management for the wallet gateway.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wallet-gateway/internal/types"
)

// Config holds all application configuration
type Config struct {
	Gateway   GatewayConfig
	Transport TransportConfig
	Wallet    WalletConfig
	Database  DatabaseConfig
	Watcher   WatcherConfig
	Ops       OpsConfig
	Logging   LoggingConfig
}

// GatewayConfig holds the gateway's messaging-network settings
type GatewayConfig struct {
	// Identity is the gateway's own addressable identity, e.g.
	// "wallet.example.org". Destinations matching it resolve to the gateway.
	Identity types.Identity
	// Admins are the identities allowed privileged resolution and listing.
	Admins []types.Identity
	// WarnThreshold is the balance under which a payment reply carries a
	// low-balance warning.
	WarnThreshold types.Amount
	// CommandRate and CommandBurst bound the per-user command throughput.
	CommandRate  float64
	CommandBurst int
}

// IsAdmin reports whether an identity is in the configured admin list.
func (g *GatewayConfig) IsAdmin(identity types.Identity) bool {
	bare := identity.Bare()
	for _, admin := range g.Admins {
		if admin == bare {
			return true
		}
	}
	return false
}

// TransportConfig holds the messaging server link configuration. The gateway
// dials the messaging server and exchanges newline-delimited JSON frames.
type TransportConfig struct {
	Addr           string
	DialTimeout    time.Duration
	ReconnectDelay time.Duration
}

// WalletConfig holds wallet RPC configuration
type WalletConfig struct {
	URL string
	// MinConfirmations is passed to sendfrom/move.
	MinConfirmations int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL renders the connection URL used by the migration runner.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// WatcherConfig holds balance watcher configuration
type WatcherConfig struct {
	PollInterval time.Duration
}

// OpsConfig holds the operational HTTP server configuration
type OpsConfig struct {
	Host string
	Port string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Gateway: GatewayConfig{
			Identity:      types.Identity(getEnv("GATEWAY_IDENTITY", "wallet.localhost")),
			Admins:        parseIdentities(getEnv("GATEWAY_ADMINS", "")),
			WarnThreshold: types.Amount(getEnvAsInt("GATEWAY_WARN_THRESHOLD", 10)),
			CommandRate:   getEnvAsFloat("GATEWAY_COMMAND_RATE", 2.0),
			CommandBurst:  getEnvAsInt("GATEWAY_COMMAND_BURST", 5),
		},
		Transport: TransportConfig{
			Addr:           getEnv("TRANSPORT_ADDR", "localhost:5347"),
			DialTimeout:    getEnvAsDuration("TRANSPORT_DIAL_TIMEOUT", 10*time.Second),
			ReconnectDelay: getEnvAsDuration("TRANSPORT_RECONNECT_DELAY", 5*time.Second),
		},
		Wallet: WalletConfig{
			URL:              getEnv("WALLET_RPC_URL", "http://localhost:8332"),
			MinConfirmations: getEnvAsInt("WALLET_MIN_CONFIRMATIONS", 1),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "wallet_gateway"),
				User:           getEnv("POSTGRES_USER", "gateway"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "wallet_gateway"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Watcher: WatcherConfig{
			PollInterval: getEnvAsDuration("WATCHER_POLL_INTERVAL", 30*time.Second),
		},
		Ops: OpsConfig{
			Host: getEnv("OPS_HOST", "0.0.0.0"),
			Port: getEnv("OPS_PORT", "8080"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// parseIdentities splits a comma-separated identity list
func parseIdentities(raw string) []types.Identity {
	var identities []types.Identity
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		identities = append(identities, types.Identity(part))
	}
	return identities
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
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

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
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
