package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by LIVE_STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Live     LiveConfig
	Kafka    KafkaConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/classlive?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings. Redis carries cross-instance
// fan-out and the archive job queue; with Enabled false the server runs single-instance.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the secret used to validate identity tokens.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// LiveConfig tunes the live-session engine.
type LiveConfig struct {
	StoreDriver      string
	DoubtMaxLength   int
	PollMaxOptions   int
	StoreTimeout     time.Duration
	RetryAttempts    int
	RetryBackoff     time.Duration
	SubscriberBuffer int
	// MemoryMembers seeds the in-memory roster: "course:user:role,..." (memory driver only).
	MemoryMembers string
}

// KafkaConfig enables exporting every fanned-out event to a topic. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// AWSConfig holds AWS credentials and the archive bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classlive"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Live: LiveConfig{
			StoreDriver:      strings.ToLower(getEnv("LIVE_STORE_DRIVER", StoreDriverPostgres)),
			DoubtMaxLength:   getEnvInt("LIVE_DOUBT_MAX_LENGTH", 1000),
			PollMaxOptions:   getEnvInt("LIVE_POLL_MAX_OPTIONS", 10),
			StoreTimeout:     time.Duration(getEnvInt("LIVE_STORE_TIMEOUT_MS", 3000)) * time.Millisecond,
			RetryAttempts:    getEnvInt("LIVE_RETRY_ATTEMPTS", 3),
			RetryBackoff:     time.Duration(getEnvInt("LIVE_RETRY_BACKOFF_MS", 100)) * time.Millisecond,
			SubscriberBuffer: getEnvInt("LIVE_SUBSCRIBER_BUFFER", 256),
			MemoryMembers:    getEnv("LIVE_MEMORY_MEMBERS", ""),
		},
		Kafka: KafkaConfig{
			Brokers:  splitTrim(getEnv("KAFKA_BROKERS", ""), ","),
			Topic:    getEnv("KAFKA_TOPIC", "classlive.events"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "classlive"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", "classlive-session-archives"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Live.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("LIVE_STORE_DRIVER %q: want postgres or memory", c.Live.StoreDriver))
	}
	if c.Live.DoubtMaxLength <= 0 {
		errs = append(errs, errors.New("LIVE_DOUBT_MAX_LENGTH must be positive"))
	}
	if c.Live.PollMaxOptions < 2 {
		errs = append(errs, errors.New("LIVE_POLL_MAX_OPTIONS must be at least 2"))
	}
	if c.Live.StoreTimeout <= 0 {
		errs = append(errs, errors.New("LIVE_STORE_TIMEOUT_MS must be positive"))
	}
	if c.Live.RetryAttempts < 0 {
		errs = append(errs, errors.New("LIVE_RETRY_ATTEMPTS must not be negative"))
	}
	if c.Live.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("LIVE_SUBSCRIBER_BUFFER must be positive"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	return errors.Join(errs...)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
