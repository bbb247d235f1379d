// Package config loads the control plane's startup configuration from the
// environment using plain getEnv/getEnvInt/getEnvBool helpers, pulled into
// one place and built once.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is built once at startup; cmd/main.go copies the fields each
// component needs into that package's own Config struct.
type Config struct {
	AdminAddr string
	LogLevel  string
	LogPretty bool

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	CacheEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string

	NATSURL      string
	NATSUser     string
	NATSPassword string

	BootstrapKey string
	JWTSecret    string

	HeartbeatTimeout    time.Duration
	LeaseTimeout        time.Duration
	LeaseCheckInterval  time.Duration
	SchedulerWorkers    int
	SchedulerPoll       time.Duration
	ReconcileInterval   time.Duration
	ShutdownTimeout     time.Duration
}

// Load builds a Config from the process environment, falling back to
// development-friendly defaults for anything unset.
func Load() Config {
	return Config{
		AdminAddr: getEnv("ADMIN_ADDR", ":8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "orchestrator"),
		DBPassword: getEnv("DB_PASSWORD", "orchestrator"),
		DBName:     getEnv("DB_NAME", "orchestrator"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),

		CacheEnabled:  getEnvBool("CACHE_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		NATSURL:      getEnv("NATS_URL", ""),
		NATSUser:     getEnv("NATS_USER", ""),
		NATSPassword: getEnv("NATS_PASSWORD", ""),

		BootstrapKey: getEnv("NODE_BOOTSTRAP_KEY", ""),
		JWTSecret:    getEnv("JWT_SECRET_KEY", ""),

		HeartbeatTimeout:   getEnvDuration("HEARTBEAT_TIMEOUT", 60*time.Second),
		LeaseTimeout:       getEnvDuration("LEASE_TIMEOUT", 120*time.Second),
		LeaseCheckInterval: getEnvDuration("LEASE_CHECK_INTERVAL", 30*time.Second),
		SchedulerWorkers:   getEnvInt("SCHEDULER_WORKERS", 0),
		SchedulerPoll:      getEnvDuration("SCHEDULER_POLL_INTERVAL", 2*time.Second),
		ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", 5*time.Second),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
