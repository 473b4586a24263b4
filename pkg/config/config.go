package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds evaluator and server configuration.
type Config struct {
	Port       string
	LogLevel   string
	Ruleset    string
	RulesetDir string

	VerdictStore string
	DatabaseURL  string
	SQLitePath   string
	RedisAddr    string

	S3Region   string
	S3Endpoint string

	OTelEnabled  bool
	OTelEndpoint string

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:           getenv("PORT", "8080"),
		LogLevel:       getenv("LOG_LEVEL", "INFO"),
		Ruleset:        getenv("MPLPC_RULESET", "latest"),
		RulesetDir:     os.Getenv("MPLPC_RULESET_DIR"),
		VerdictStore:   strings.ToLower(getenv("VERDICT_STORE", "memory")),
		DatabaseURL:    getenv("DATABASE_URL", "postgres://mplpc@localhost:5432/mplpc?sslmode=disable"),
		SQLitePath:     getenv("SQLITE_PATH", "mplpc.db"),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		S3Region:       getenv("AWS_REGION", "us-east-1"),
		S3Endpoint:     os.Getenv("MPLPC_S3_ENDPOINT"),
		OTelEnabled:    os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:   getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		RateLimitRPS:   getfloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getint("RATE_LIMIT_BURST", 20),
	}
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 {
		return f
	}
	return def
}
