package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	AccessTokenTTL     time.Duration
	ClockSkew          time.Duration
	CORSAllowedOrigins []string

	CurrencyCode        string
	CatalogCacheTTL     time.Duration
	CatalogDefaultLimit int
	CatalogMaxLimit     int

	ReportsCacheTTL   time.Duration
	ReportsRangeDays  int
	ExchangeCacheTTL  time.Duration
	ExchangeFeedURL   string
	IdempotencyTTL    time.Duration
	LowStockThreshold int

	LoginRateWindow time.Duration
	LoginRateMax    int
	GlobalRateLimit string

	AlertEmail        string
	WorkerConcurrency int

	MaxBodyBytes int64
	EnableHSTS   bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "pos-api"),
		JWTAudience:        strings.TrimSpace(k.String("JWT_AUDIENCE")),
		AccessTokenTTL:     parseDuration(k.String("ACCESS_TOKEN_TTL"), "12h"),
		ClockSkew:          parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CurrencyCode:        valueOrDefault(k.String("CURRENCY_CODE"), "USD"),
		CatalogCacheTTL:     parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		CatalogDefaultLimit: parseInt(k.String("CATALOG_DEFAULT_LIMIT"), 20),
		CatalogMaxLimit:     parseInt(k.String("CATALOG_MAX_LIMIT"), 100),

		ReportsCacheTTL:   parseDuration(k.String("REPORTS_CACHE_TTL"), "10m"),
		ReportsRangeDays:  parseInt(k.String("REPORTS_RANGE_DAYS"), 30),
		ExchangeCacheTTL:  parseDuration(k.String("EXCHANGE_CACHE_TTL"), "1h"),
		ExchangeFeedURL:   strings.TrimSpace(k.String("EXCHANGE_FEED_URL")),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LowStockThreshold: parseInt(k.String("LOW_STOCK_THRESHOLD"), 5),

		LoginRateWindow: parseDuration(k.String("LOGIN_RATE_WINDOW"), "1m"),
		LoginRateMax:    parseInt(k.String("LOGIN_RATE_MAX"), 10),
		GlobalRateLimit: valueOrDefault(k.String("GLOBAL_RATE_LIMIT"), "300-M"),

		AlertEmail:        strings.TrimSpace(k.String("ALERT_EMAIL")),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 10),

		MaxBodyBytes: int64(parseInt(k.String("MAX_BODY_BYTES"), 1<<20)),
		EnableHSTS:   parseBool(k.String("ENABLE_HSTS"), false),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
