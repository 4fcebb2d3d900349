// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Shkeeper processor
	APIURL      string // Base URL of the Shkeeper API
	APIKey      string // Shared secret, sent and verified via X-Shkeeper-Api-Key
	CallbackURL string // Absolute URL the processor posts notifications to
	GatewayName string // Gateway identifier recorded on ledger entries

	// Reconciliation policy
	MinimalFiatTransaction decimal.Decimal // Transactions below this fiat amount are treated as scam
	RoundCreditAmount      bool            // Floor settled amounts to whole units
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultGatewayName  = "shkeeper"
	DefaultMinimalFiat  = "0.1"
	DefaultCallbackPath = "/callback/shkeeper"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	minFiat, err := decimal.NewFromString(getEnv("MINIMAL_FIAT_TRANSACTION", DefaultMinimalFiat))
	if err != nil {
		return nil, fmt.Errorf("MINIMAL_FIAT_TRANSACTION must be a decimal number: %w", err)
	}

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:            os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		APIURL:                 os.Getenv("API_URL"),
		APIKey:                 os.Getenv("API_KEY"),
		CallbackURL:            os.Getenv("CALLBACK_URL"),
		GatewayName:            getEnv("GATEWAY_NAME", DefaultGatewayName),
		MinimalFiatTransaction: minFiat,
		RoundCreditAmount:      getEnvBool("ROUND_CREDIT_AMOUNT", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("API_URL is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.MinimalFiatTransaction.IsNegative() {
		return fmt.Errorf("MINIMAL_FIAT_TRANSACTION must not be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
