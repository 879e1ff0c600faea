package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	HTTPAddr    string

	// Backend selects the durable store: memory, sqlite or postgres.
	Backend     string
	DatabaseURL string
	SQLitePath  string

	JWTSecret string

	RedisAddr      string
	RateLimitRPS   int
	RateLimitBurst int

	KafkaBrokers []string
	KafkaTopic   string

	MaxBodyBytes int64
	IPAllowlist  []string

	TLSCertFile string
	TLSKeyFile  string

	ShutdownTimeout time.Duration
}

// Load loads configuration from environment variables. Unset optional
// values fall back to development defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     envOr("APP_ENV", "development"),
		HTTPAddr:        envOr("HTTP_ADDR", ":8080"),
		Backend:         envOr("STORE_BACKEND", "memory"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      envOr("SQLITE_PATH", "fintrack.db"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RateLimitRPS:    envIntOr("RATE_LIMIT_RPS", 20),
		RateLimitBurst:  envIntOr("RATE_LIMIT_BURST", 40),
		KafkaTopic:      envOr("KAFKA_TOPIC", "fintrack.postings"),
		MaxBodyBytes:    int64(envIntOr("MAX_BODY_BYTES", 1<<20)),
		TLSCertFile:     os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:      os.Getenv("TLS_KEY_FILE"),
		ShutdownTimeout: 10 * time.Second,
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("IP_ALLOWLIST"); v != "" {
		cfg.IPAllowlist = splitList(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	switch c.Backend {
	case "memory":
	case "sqlite":
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return errors.New("STORE_BACKEND must be one of memory, sqlite, postgres")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if c.Environment == "production" || c.Environment == "staging" {
		if c.Backend == "memory" {
			return errors.New("STORE_BACKEND memory is not allowed in " + c.Environment)
		}
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required in " + c.Environment)
		}
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	return nil
}

// Production reports whether the service runs with production hardening.
func (c *Config) Production() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
