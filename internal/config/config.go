package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTTTL             time.Duration
	BcryptCost         int
	DefaultWaitMinutes int
	RateLimitWindow    time.Duration
	RateLimitMax       int
	RequireStaffAuth   bool
	MissGrace          time.Duration
	MissScanInterval   time.Duration
	MissBatchSize      int
	OTLPEndpoint       string
	OTLPInsecure       bool
	TraceSampleRatio   float64
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTTTL:             readDurationHours("JWT_EXPIRES_IN_HOURS", 168),
		BcryptCost:         readInt("BCRYPT_COST", 12),
		DefaultWaitMinutes: readInt("DEFAULT_WAIT_MINUTES", 30),
		RateLimitWindow:    readDurationMillis("RATE_LIMIT_WINDOW_MS", 900000),
		RateLimitMax:       readInt("RATE_LIMIT_MAX_REQUESTS", 100),
		RequireStaffAuth:   readBool("AUTH_REQUIRED_FOR_STAFF", true),
		MissGrace:          readDurationSeconds("MISS_GRACE_SECONDS", 0),
		MissScanInterval:   readDurationSeconds("MISS_SCAN_INTERVAL_SECONDS", 30),
		MissBatchSize:      readInt("MISS_BATCH_SIZE", 100),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:       readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSampleRatio:   readFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return time.Duration(fallback) * time.Millisecond
	}
	return time.Duration(value) * time.Millisecond
}

func readDurationHours(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return time.Duration(fallback) * time.Hour
	}
	return time.Duration(value) * time.Hour
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
