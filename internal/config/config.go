// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session store backends accepted by SESSION_STORE.
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
	SessionStoreMemory   = "memory"
)

const minProductionSecretLen = 32

// Config holds application configuration loaded from the environment.
// It is built once at startup and passed by pointer; nothing mutates it afterwards.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC server listens on (e.g. :9090).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Required unless SESSION_STORE=memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL used when SESSION_STORE=redis.
	RedisURL string `mapstructure:"REDIS_URL"`
	// SessionStore selects the session backend: postgres, redis or memory.
	SessionStore string `mapstructure:"SESSION_STORE"`

	// JWTSecret is the shared HMAC secret for HS256/HS384/HS512.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTAlgorithm is the signing algorithm: HS256, HS384, HS512, RS256 or ES256.
	JWTAlgorithm string `mapstructure:"JWT_ALGORITHM"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the hard token lifetime (e.g. "30m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// SessionInactivityTimeout is the maximum idle time before a session is closed (e.g. "60m").
	SessionInactivityTimeout string `mapstructure:"SESSION_INACTIVITY_TIMEOUT"`
	// StoreTimeoutValue bounds every session/identity store call (e.g. "3s").
	StoreTimeoutValue string `mapstructure:"STORE_TIMEOUT"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogEncoding is json or console.
	LogEncoding string `mapstructure:"LOG_ENCODING"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables session events.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SessionEventsTopic is the Kafka topic for session lifecycle events.
	SessionEventsTopic string `mapstructure:"SESSION_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group ID for the audit worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("SESSION_STORE", SessionStorePostgres)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "serreconnect-auth")
	v.SetDefault("JWT_AUDIENCE", "serreconnect-api")
	v.SetDefault("JWT_ACCESS_TTL", "30m")
	v.SetDefault("SESSION_INACTIVITY_TIMEOUT", "60m")
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_ENCODING", "json")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SESSION_EVENTS_TOPIC", "serreconnect-session-events")
	v.SetDefault("KAFKA_GROUP_ID", "serreconnect-audit-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}

	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))
	switch c.SessionStore {
	case SessionStorePostgres, SessionStoreRedis, SessionStoreMemory:
	default:
		return fmt.Errorf("config: SESSION_STORE must be postgres, redis or memory, got %q", c.SessionStore)
	}
	if c.SessionStore != SessionStoreMemory && strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("config: DATABASE_URL must be set when SESSION_STORE=%s", c.SessionStore)
	}

	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	c.JWTAlgorithm = strings.ToUpper(strings.TrimSpace(c.JWTAlgorithm))
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
		if c.JWTSecret == "" {
			return errors.New("config: JWT_SECRET must be set for HMAC algorithms")
		}
		if c.Env == "production" && len(c.JWTSecret) < minProductionSecretLen {
			return fmt.Errorf("config: JWT_SECRET must be at least %d bytes when APP_ENV=production", minProductionSecretLen)
		}
	case "RS256", "ES256":
		if c.JWTPrivateKey == "" || c.JWTPublicKey == "" {
			return fmt.Errorf("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set for %s", c.JWTAlgorithm)
		}
	default:
		return fmt.Errorf("config: unsupported JWT_ALGORITHM %q", c.JWTAlgorithm)
	}

	if d, err := time.ParseDuration(c.SessionInactivityTimeout); err == nil && d <= 0 {
		return errors.New("config: SESSION_INACTIVITY_TIMEOUT must be positive")
	}
	if d, err := time.ParseDuration(c.StoreTimeoutValue); err == nil && d <= 0 {
		return errors.New("config: STORE_TIMEOUT must be positive")
	}
	return nil
}

// UsesHMAC reports whether tokens are signed with the shared secret.
func (c *Config) UsesHMAC() bool {
	return strings.HasPrefix(c.JWTAlgorithm, "HS")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parsePositive(c.JWTAccessTTL, 30*time.Minute)
}

// InactivityTimeout parses SessionInactivityTimeout. Returns 60m if unset or invalid.
func (c *Config) InactivityTimeout() time.Duration {
	return parsePositive(c.SessionInactivityTimeout, 60*time.Minute)
}

// StoreTimeout parses StoreTimeoutValue. Returns 3s if unset or invalid.
func (c *Config) StoreTimeout() time.Duration {
	return parsePositive(c.StoreTimeoutValue, 3*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means session events are disabled.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parsePositive(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
