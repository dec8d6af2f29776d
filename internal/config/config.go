// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends accepted by CTRLSYS_STORAGE.
const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
)

// Config holds the control plane configuration.
type Config struct {
	// Server settings.
	Port                int
	GRPCPort            int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Storage settings.
	Storage     string // postgres, sqlite or memory
	DatabaseURL string // Postgres URL for queries.
	NotifyURL   string // Direct Postgres URL for LISTEN/NOTIFY; empty disables cross-replica events.
	SQLitePath  string

	// Timer lifecycle.
	SweepInterval   time.Duration
	ListRetention   time.Duration
	HubBuffer       int
	WSPushInterval  time.Duration
	WSWriteDeadline time.Duration

	// Auth settings.
	APIKeyHash        string // Argon2id hash from auth.HashAPIKey.
	APIKey            string // Plaintext key for local setups; ignored when APIKeyHash is set.
	Operator          string // Name recorded as created_by for tokens issued by /auth/token.
	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiration     time.Duration

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults. Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		Storage:           strings.ToLower(envStr("CTRLSYS_STORAGE", StorageMemory)),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		NotifyURL:         envStr("NOTIFY_URL", ""),
		SQLitePath:        envStr("CTRLSYS_SQLITE_PATH", "ctrlsys.db"),
		APIKeyHash:        envStr("CTRLSYS_API_KEY_HASH", ""),
		APIKey:            envStr("CTRLSYS_API_KEY", ""),
		Operator:          envStr("CTRLSYS_OPERATOR", "admin"),
		JWTPrivateKeyPath: envStr("CTRLSYS_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  envStr("CTRLSYS_JWT_PUBLIC_KEY", ""),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "ctrlsys"),
		LogLevel:          envStr("CTRLSYS_LOG_LEVEL", "info"),
	}

	var err error
	cfg.Port, err = envInt("CTRLSYS_PORT", 8080)
	collect(err)
	cfg.GRPCPort, err = envInt("CTRLSYS_GRPC_PORT", 50053)
	collect(err)
	cfg.ReadTimeout, err = envDuration("CTRLSYS_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("CTRLSYS_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	maxBody, err := envInt("CTRLSYS_MAX_REQUEST_BODY_BYTES", 1<<20)
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)

	cfg.SweepInterval, err = envDuration("CTRLSYS_SWEEP_INTERVAL", time.Second)
	collect(err)
	cfg.ListRetention, err = envDuration("CTRLSYS_LIST_RETENTION", 24*time.Hour)
	collect(err)
	cfg.HubBuffer, err = envInt("CTRLSYS_HUB_BUFFER", 64)
	collect(err)
	cfg.WSPushInterval, err = envDuration("CTRLSYS_WS_PUSH_INTERVAL", time.Second)
	collect(err)
	cfg.WSWriteDeadline, err = envDuration("CTRLSYS_WS_WRITE_DEADLINE", 10*time.Second)
	collect(err)

	cfg.JWTExpiration, err = envDuration("CTRLSYS_JWT_EXPIRATION", 24*time.Hour)
	collect(err)

	cfg.RateLimitEnabled, err = envBool("CTRLSYS_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("CTRLSYS_RATE_LIMIT_RPS", 5)
	collect(err)
	cfg.RateLimitBurst, err = envInt("CTRLSYS_RATE_LIMIT_BURST", 10)
	collect(err)

	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when CTRLSYS_STORAGE=postgres"))
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("CTRLSYS_SQLITE_PATH is required when CTRLSYS_STORAGE=sqlite"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("CTRLSYS_STORAGE=%q must be one of postgres, sqlite, memory", c.Storage))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("CTRLSYS_PORT=%d is out of range", c.Port))
	}
	if c.GRPCPort <= 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("CTRLSYS_GRPC_PORT=%d is out of range", c.GRPCPort))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("CTRLSYS_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("CTRLSYS_SWEEP_INTERVAL must be positive"))
	}
	if c.ListRetention <= 0 {
		errs = append(errs, errors.New("CTRLSYS_LIST_RETENTION must be positive"))
	}
	if c.WSPushInterval <= 0 {
		errs = append(errs, errors.New("CTRLSYS_WS_PUSH_INTERVAL must be positive"))
	}
	if c.HubBuffer <= 0 {
		errs = append(errs, errors.New("CTRLSYS_HUB_BUFFER must be positive"))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, errors.New("CTRLSYS_RATE_LIMIT_RPS and CTRLSYS_RATE_LIMIT_BURST must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
