package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	ServerHost string
	ServerPort string

	// Storage
	StorageBackend string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Collaboration
	StepRetention     int
	IdleTimeout       time.Duration
	EvictionInterval  time.Duration
	SaveDebounce      time.Duration
	HeartbeatInterval time.Duration

	// Step history archive worker pool
	ArchiveWorkers   int
	ArchiveQueueSize int
	ArchiveRetention int

	// Auth
	AuthSecret string
	PushAPIKey string

	// Observability
	TracingEnabled bool
	JaegerEndpoint string
	LogLevel       string
	LogEnv         string
	LogFile        string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost: getEnv("SERVER_HOST", "localhost"),
		ServerPort: getEnv("SERVER_PORT", "8080"),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendPostgres)),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "collab_sync"),
		DBSSLMode:      getEnv("DB_SSLMODE", "disable"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),

		StepRetention:     getEnvInt("STEP_RETENTION", 500),
		IdleTimeout:       getEnvDuration("IDLE_TIMEOUT", 10*time.Minute),
		EvictionInterval:  getEnvDuration("EVICTION_INTERVAL", time.Minute),
		SaveDebounce:      getEnvDuration("SAVE_DEBOUNCE", 2*time.Second),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),

		ArchiveWorkers:   getEnvInt("ARCHIVE_WORKERS", 2),
		ArchiveQueueSize: getEnvInt("ARCHIVE_QUEUE_SIZE", 256),
		ArchiveRetention: getEnvInt("ARCHIVE_RETENTION", 10000),

		AuthSecret: getEnv("AUTH_SECRET", ""),
		PushAPIKey: getEnv("PUSH_API_KEY", ""),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogEnv:         getEnv("LOG_ENV", "dev"),
		LogFile:        getEnv("LOG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of postgres, redis, memory (got %q)", c.StorageBackend)
	}
	if c.StepRetention <= 0 {
		return fmt.Errorf("STEP_RETENTION must be positive")
	}
	if c.IdleTimeout <= 0 || c.EvictionInterval <= 0 || c.SaveDebounce <= 0 || c.HeartbeatInterval <= 0 {
		return fmt.Errorf("IDLE_TIMEOUT, EVICTION_INTERVAL, SAVE_DEBOUNCE and HEARTBEAT_INTERVAL must be positive")
	}
	if c.IdleTimeout <= c.SaveDebounce {
		return fmt.Errorf("IDLE_TIMEOUT (%s) must be longer than SAVE_DEBOUNCE (%s)", c.IdleTimeout, c.SaveDebounce)
	}
	if c.ArchiveWorkers <= 0 || c.ArchiveQueueSize <= 0 {
		return fmt.Errorf("ARCHIVE_WORKERS and ARCHIVE_QUEUE_SIZE must be positive")
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
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
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
