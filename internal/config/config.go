package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Secret      string
	DatabaseDSN string
	HTTPPort    string

	ModelStore     string
	ModelsDir      string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ModelCacheSize int

	LookbackDays       int
	TrainRatePerMinute int

	LogLevel     string
	LogFormat    string
	OTLPEndpoint string

	// Warnings collects values that were invalid and replaced by defaults.
	Warnings []string
}

// Load reads configuration from environment variables with reasonable defaults.
// A .env file in the working directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) Config {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	cfg := Config{
		Secret:        get("SECRET", "dev_secret"),
		DatabaseDSN:   get("DATABASE_DSN", "file:pharmacore.db?_pragma=foreign_keys(1)"),
		HTTPPort:      get("HTTP_PORT", "8080"),
		ModelStore:    strings.ToLower(get("MODEL_STORE", "file")),
		ModelsDir:     get("MODELS_DIR", "models"),
		RedisAddr:     get("REDIS_ADDR", "localhost:6379"),
		RedisPassword: get("REDIS_PASSWORD", ""),
		LogLevel:      strings.ToLower(get("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(get("LOG_FORMAT", "json")),
		OTLPEndpoint:  get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	positive := func(key string, def int) int {
		raw := get(key, strconv.Itoa(def))
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			cfg.Warnings = append(cfg.Warnings, key+"="+raw+" is invalid, using "+strconv.Itoa(def))
			return def
		}
		return n
	}
	cfg.ModelCacheSize = positive("MODEL_CACHE_SIZE", 256)
	cfg.LookbackDays = positive("FORECAST_LOOKBACK_DAYS", 365)
	cfg.TrainRatePerMinute = positive("TRAIN_RATE_PER_MINUTE", 6)

	if db, err := strconv.Atoi(get("REDIS_DB", "0")); err == nil && db >= 0 {
		cfg.RedisDB = db
	} else {
		cfg.Warnings = append(cfg.Warnings, "REDIS_DB is invalid, using 0")
	}

	// Validate that port is numeric.
	if _, err := strconv.Atoi(cfg.HTTPPort); err != nil {
		cfg.Warnings = append(cfg.Warnings, "HTTP_PORT="+cfg.HTTPPort+" is invalid, using 8080")
		cfg.HTTPPort = "8080"
	}
	if cfg.ModelStore != "file" && cfg.ModelStore != "redis" {
		cfg.Warnings = append(cfg.Warnings, "MODEL_STORE="+cfg.ModelStore+" is invalid, using file")
		cfg.ModelStore = "file"
	}
	return cfg
}
