package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig

	// StoreBackend selects the room store: "memory" or "redis".
	StoreBackend string

	LivenessWindow   time.Duration
	MessageRetention int

	// AllowEmailHeaderAuth accepts a known X-User-Email without a bearer token.
	AllowEmailHeaderAuth bool

	TURNCredentialsURL string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	env := getEnv("ENVIRONMENT", "development")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    env,
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		StoreBackend:         strings.ToLower(getEnv("STORE_BACKEND", StoreBackendMemory)),
		LivenessWindow:       getEnvDuration("LIVENESS_WINDOW", 15*time.Second),
		MessageRetention:     getEnvInt("MESSAGE_RETENTION", 5000),
		AllowEmailHeaderAuth: getEnvBool("ALLOW_EMAIL_HEADER_AUTH", env != "production"),
		TURNCredentialsURL:   getEnv("TURN_CREDENTIALS_URL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
