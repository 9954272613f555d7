package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/accmarket/market-bfa-go/internal/domain"
)

// Modes selected by APP_MODE.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string
	Mode     string

	// Marketplace API
	MarketBaseURL     string
	MarketDevProxyURL string
	MarketTokenURL    string
	MarketScope       string
	MarketClientID    string
	MarketSecret      string
	MarketAPIToken    string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxConcurrency  int
	MarketRateLimit float64

	// Cache
	CacheTTL      time.Duration
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Observability
	OTLPEndpoint string

	// Payment relay
	RelayForwardURL     string
	RelaySecret         string
	RelayAllowedOrigins []string
	RelayRateLimit      int
	RelayRateWindow     time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Mode:     strings.ToLower(getEnv("APP_MODE", ModeProduction)),

		MarketBaseURL:     getEnv("MARKET_BASE_URL", "https://api.lzt.market"),
		MarketDevProxyURL: getEnv("MARKET_DEV_PROXY_URL", "http://localhost:5173/api"),
		MarketTokenURL:    getEnv("MARKET_TOKEN_URL", "https://api.lzt.market/oauth/token"),
		MarketScope:       getEnv("MARKET_SCOPE", "basic read market"),
		MarketClientID:    getEnv("MARKET_CLIENT_ID", ""),
		MarketSecret:      getEnv("MARKET_CLIENT_SECRET", ""),
		MarketAPIToken:    getEnv("MARKET_API_TOKEN", ""),

		HTTPTimeout: getEnvDuration("MARKET_TIMEOUT", 30*time.Second),

		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		InitialBackoff:  getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency:  getEnvInt("MAX_CONCURRENCY", 50),
		MarketRateLimit: getEnvFloat("MARKET_RATE_LIMIT", 0),

		CacheTTL:      getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheBackend:  strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		RelayForwardURL:     getEnv("RELAY_FORWARD_URL", ""),
		RelaySecret:         getEnv("WINPAY_CALLBACK_SECRET", ""),
		RelayAllowedOrigins: getEnvList("RELAY_ALLOWED_ORIGINS", []string{"*"}),
		RelayRateLimit:      getEnvInt("RELAY_RATE_LIMIT", 100),
		RelayRateWindow:     getEnvDuration("RELAY_RATE_WINDOW", 15*time.Minute),
	}
}

// MarketURL returns the API base for the configured mode: the storefront's
// dev proxy in development, the absolute upstream host otherwise.
func (c *Config) MarketURL() string {
	if c.Mode == ModeDevelopment {
		return strings.TrimRight(c.MarketDevProxyURL, "/")
	}
	return strings.TrimRight(c.MarketBaseURL, "/")
}

// Credentials returns the marketplace credentials.
func (c *Config) Credentials() domain.Credentials {
	return domain.Credentials{
		ClientID:     c.MarketClientID,
		ClientSecret: c.MarketSecret,
		StaticToken:  c.MarketAPIToken,
	}
}

// Validate reports missing configuration that would make every marketplace
// call fail.
func (c *Config) Validate() error {
	if c.MarketURL() == "" {
		return &domain.ConfigError{Field: "MARKET_BASE_URL"}
	}
	creds := c.Credentials()
	if creds.StaticToken == "" && !creds.HasClientCredentials() {
		return &domain.ConfigError{
			Field:   "MARKET_API_TOKEN",
			Message: "set MARKET_API_TOKEN or MARKET_CLIENT_ID and MARKET_CLIENT_SECRET",
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
