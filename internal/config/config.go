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
	StoreBackendPostgres = "postgres"
	StoreBackendBadger   = "badger"
	StoreBackendMemory   = "memory"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Store       StoreConfig
	Chat        ChatConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxConnections  int
	MaxIdleTime     time.Duration
	ConnMaxLifetime time.Duration
	EnsureSchema    bool
}

// RedisConfig is optional: an empty Addr disables rate limiting.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Required bool
	Secret   string
	Issuer   string
}

type StoreConfig struct {
	Backend    string
	BadgerPath string
}

type ChatConfig struct {
	SubscriberBuffer   int
	RejectSelfMessages bool
	IdentityCheck      bool
	MaxContentLength   int
	PingInterval       time.Duration
	WriteWait          time.Duration
}

type RateLimitConfig struct {
	Enabled           bool
	SendPerMinute     int
	RequestsPerMinute int
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", ""),
			MaxConnections:  getEnvAsInt("DATABASE_MAX_CONNECTIONS", 25),
			MaxIdleTime:     getEnvAsDuration("DATABASE_MAX_IDLE_TIME", 5*time.Minute),
			ConnMaxLifetime: getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", 1*time.Hour),
			EnsureSchema:    getEnvAsBool("DATABASE_ENSURE_SCHEMA", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Required: getEnvAsBool("JWT_REQUIRED", false),
			Secret:   getEnv("JWT_SECRET", ""),
			Issuer:   getEnv("JWT_ISSUER", "peer-chat"),
		},
		Store: StoreConfig{
			Backend:    strings.ToLower(getEnv("STORE_BACKEND", StoreBackendMemory)),
			BadgerPath: getEnv("BADGER_PATH", "./data/badger"),
		},
		Chat: ChatConfig{
			SubscriberBuffer:   getEnvAsInt("CHAT_SUBSCRIBER_BUFFER", 64),
			RejectSelfMessages: getEnvAsBool("CHAT_REJECT_SELF_MESSAGES", false),
			IdentityCheck:      getEnvAsBool("CHAT_IDENTITY_CHECK", false),
			MaxContentLength:   getEnvAsInt("CHAT_MAX_CONTENT_LENGTH", 4000),
			PingInterval:       getEnvAsDuration("CHAT_WS_PING_INTERVAL", 30*time.Second),
			WriteWait:          getEnvAsDuration("CHAT_WS_WRITE_WAIT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			SendPerMinute:     getEnvAsInt("RATE_LIMIT_SEND_PER_MINUTE", 60),
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 100),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreBackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_DSN must be set for the postgres store")
		}
	case StoreBackendBadger:
		if c.Store.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH must be set for the badger store")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.JWT.Required && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must be set when JWT_REQUIRED is true")
	}
	if c.Chat.IdentityCheck && c.Database.DSN == "" {
		return fmt.Errorf("CHAT_IDENTITY_CHECK needs DATABASE_DSN for the user directory")
	}
	if c.Chat.MaxContentLength <= 0 {
		return fmt.Errorf("CHAT_MAX_CONTENT_LENGTH must be positive")
	}
	return nil
}

// RateLimitActive reports whether a Redis limiter should be wired.
func (c *Config) RateLimitActive() bool {
	return c.RateLimit.Enabled && c.Redis.Addr != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
