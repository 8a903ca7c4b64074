package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer         string        // Optional: issuer claim for tokens (default: storefront-dev)
	SigningKeyFile string        // Optional: Ed25519 PEM key, generated when missing; empty means ephemeral
	StoreDriver    string        // Optional: refresh token store driver (memory, bolt, sqlite) (default: memory)
	StorePath      string        // Optional: path for file backed drivers (default: ./devauth.db)
	Pepper         string        // Optional: pepper appended to passwords before hashing
	AccessTTL      time.Duration // Optional: access token lifetime (default: 15m)
	RefreshTTL     time.Duration // Optional: refresh token lifetime (default: 30 days)
	SeedEmail      string        // Optional: customer created on startup
	SeedPassword   string        // Optional: password of the seeded customer
	TenantID       string        // Optional: tenant stamped into issued tokens

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	return Config{
		Issuer:              getEnvOrDefault("DEVAUTH_ISSUER", "storefront-dev"),
		SigningKeyFile:      os.Getenv("DEVAUTH_SIGNING_KEY_FILE"),
		StoreDriver:         getEnvOrDefault("DEVAUTH_STORE_DRIVER", "memory"),
		StorePath:           getEnvOrDefault("DEVAUTH_STORE_PATH", "devauth.db"),
		Pepper:              os.Getenv("DEVAUTH_PEPPER"),
		AccessTTL:           getEnvDurationOrDefault("DEVAUTH_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:          getEnvDurationOrDefault("DEVAUTH_REFRESH_TTL", 30*24*time.Hour),
		SeedEmail:           os.Getenv("DEVAUTH_SEED_EMAIL"),
		SeedPassword:        os.Getenv("DEVAUTH_SEED_PASSWORD"),
		TenantID:            os.Getenv("DEVAUTH_TENANT_ID"),
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
