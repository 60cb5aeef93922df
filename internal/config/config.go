package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment        string
	ServiceName        string
	Version            string
	HTTPPort           string
	GRPCPort           string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	JWTSecret          string
	JWTIssuer          string
	AccessTokenTTL     time.Duration
	PhoneCodeTTL       time.Duration
	RateLimitBurst     int
	RateLimitPerSecond int
	MaxBodyBytes       int64
	CORSAllowedOrigins []string
	ChatSingleSession  bool
	SnowflakeNode      int64
	TelemetryEndpoint  string
	TelemetryInsecure  bool
}

// Load reads configuration from the environment, after merging a local .env
// file when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:        getEnv("APP_ENV", "development"),
		ServiceName:        getEnv("SERVICE_NAME", "back-officener"),
		Version:            getEnv("APP_VERSION", "dev"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		GRPCPort:           getEnv("GRPC_PORT", "9090"),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getInt("REDIS_DB", 0),
		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:          getEnv("JWT_ISSUER", "back-officener"),
		AccessTokenTTL:     getDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		PhoneCodeTTL:       getDuration("PHONE_CODE_TTL", 3*time.Minute),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 20),
		RateLimitPerSecond: getInt("RATE_LIMIT_PER_SEC", 10),
		MaxBodyBytes:       int64(getInt("MAX_BODY_BYTES", 1<<20)),
		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", nil),
		ChatSingleSession:  getBool("CHAT_SINGLE_SESSION", false),
		SnowflakeNode:      int64(getInt("SNOWFLAKE_NODE", 1)),
		TelemetryEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:  getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.AccessTokenTTL <= 0 {
		return Config{}, fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}
	if cfg.PhoneCodeTTL <= 0 {
		return Config{}, fmt.Errorf("PHONE_CODE_TTL must be positive")
	}
	if cfg.RateLimitBurst < 1 {
		cfg.RateLimitBurst = 1
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		var cleaned []string
		for _, p := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
