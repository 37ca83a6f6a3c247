package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Exchange connectivity
	BinanceWSURL string // override, e.g. for a local test relay

	// Database
	DBPath string

	// HTTP
	HTTPAddr string

	// Trading defaults
	QuoteAsset string // default symbol suffix, e.g. USDT

	// Logging
	LogLevel string
	DevMode  bool
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.BinanceWSURL = getEnv("BINANCE_WS_URL", "wss://fstream.binance.com/ws")
	cfg.DBPath = getEnv("DATABASE_PATH", "./data/paper_trader.db")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.DevMode = getEnvAsBool("DEV_MODE", false)

	if cfg.DBPath == "" {
		errs = append(errs, "DATABASE_PATH must be set")
	}
	if cfg.QuoteAsset == "" {
		errs = append(errs, "QUOTE_ASSET must be set")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
