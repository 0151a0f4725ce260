// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases, always absolute
	LogLevel string
	LogFile  string // optional, logs are also appended here
	Port     int
	DevMode  bool

	BinanceAPIKey       string
	BinanceAPISecret    string
	BinanceNativeMarket bool // false emulates MARKET with a limit at the best rate

	BrokerCallTimeout time.Duration
	BrokerRateLimit   float64 // calls per second, 0 disables pacing

	StrategiesFile   string
	SchedulerWorkers int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("BRIDGEBOT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFile:             getEnv("LOG_FILE", ""),
		Port:                getEnvAsInt("GO_PORT", 8001),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		BinanceAPIKey:       getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret:    getEnv("BINANCE_API_SECRET", ""),
		BinanceNativeMarket: getEnvAsBool("BINANCE_NATIVE_MARKET", true),
		BrokerCallTimeout:   getEnvAsDuration("BROKER_CALL_TIMEOUT", 15*time.Second),
		BrokerRateLimit:     getEnvAsFloat("BROKER_RATE_LIMIT", 5),
		StrategiesFile:      getEnv("STRATEGIES_FILE", filepath.Join(absDataDir, "strategies.yaml")),
		SchedulerWorkers:    getEnvAsInt("SCHEDULER_WORKERS", 4),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BrokerCallTimeout <= 0 {
		return fmt.Errorf("BROKER_CALL_TIMEOUT must be positive")
	}
	if c.BrokerRateLimit < 0 {
		return fmt.Errorf("BROKER_RATE_LIMIT must not be negative")
	}
	if c.SchedulerWorkers < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
	}
	// Binance credentials are optional: paper strategies run without them
	return nil
}

// HasExchangeCredentials reports whether live trading is possible
func (c *Config) HasExchangeCredentials() bool {
	return c.BinanceAPIKey != "" && c.BinanceAPISecret != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
