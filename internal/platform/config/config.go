package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pstrings "pipay/pkg/platform/strings"
)

// DevWebhookSecret signs webhooks in permissive mode when WEBHOOK_SECRET is unset.
const DevWebhookSecret = "dev_secret"

// Store backends accepted by STORE_BACKEND.
const (
	BackendAuto     = ""
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Verify   Verification
	Store    Store
	Redis    RedisConfig
	Kafka    Kafka
	Payments Payments
	Admin    Admin
	Log      Log
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	CORSOrigin     string
	RequestTimeout time.Duration
}

// Verification configures the identity, payment and webhook verifiers.
type Verification struct {
	Strict        bool
	APIBase       string
	APISecret     string
	Timeout       time.Duration
	JWTSecret     string
	WebhookSecret string
}

// Store selects and configures the persistence backend.
type Store struct {
	Backend     string
	DatabaseURL string
	PGDriver    string
	SQLitePath  string
}

// RedisConfig configures the optional Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures optional event publishing.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Payments tunes the payment lifecycle.
type Payments struct {
	ConfirmOneShot  bool
	ConfirmLockTTL  time.Duration
	ConfirmLockWait time.Duration
}

// Admin holds HTTP Basic credentials for the admin endpoints.
type Admin struct {
	User string
	Pass string
}

// Log configures the process logger.
type Log struct {
	Level  string
	Format string
}

// FromEnv builds a Config from environment variables, loading a .env file from
// the working directory first when one exists. Variables already set in the
// environment win over .env entries.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		d, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg := Config{
		Server: Server{
			Addr:           serverAddr(),
			CORSOrigin:     os.Getenv("CORS_ORIGIN"),
			RequestTimeout: duration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Verify: Verification{
			Strict:        envBool("PI_STRICT_VERIFY"),
			APIBase:       strings.TrimRight(os.Getenv("PI_API_BASE"), "/"),
			APISecret:     os.Getenv("PI_API_SECRET"),
			Timeout:       duration("PI_API_TIMEOUT", 10*time.Second),
			JWTSecret:     os.Getenv("IDENTITY_JWT_SECRET"),
			WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		},
		Store: Store{
			Backend:     strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND"))),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			PGDriver:    envOr("STORE_PG_DRIVER", "postgres"),
			SQLitePath:  envOr("SQLITE_PATH", "pipay.db"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			Brokers: pstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   envOr("KAFKA_TOPIC", "pipay.events"),
		},
		Payments: Payments{
			ConfirmOneShot:  envBool("CONFIRM_ONE_SHOT"),
			ConfirmLockTTL:  duration("CONFIRM_LOCK_TTL", 15*time.Second),
			ConfirmLockWait: duration("CONFIRM_LOCK_WAIT", 12*time.Second),
		},
		Admin: Admin{
			User: os.Getenv("ADMIN_USER"),
			Pass: os.Getenv("ADMIN_PASS"),
		},
		Log: Log{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "json"),
		},
	}

	switch cfg.Store.Backend {
	case BackendAuto, BackendPostgres, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND: unknown backend %q", cfg.Store.Backend))
	}
	switch cfg.Store.PGDriver {
	case "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("STORE_PG_DRIVER: unknown driver %q", cfg.Store.PGDriver))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PreferredBackend resolves the auto backend: relational when a DSN is set,
// otherwise the embedded file store.
func (s Store) PreferredBackend() string {
	if s.Backend != BackendAuto {
		return s.Backend
	}
	if s.DatabaseURL != "" {
		return BackendPostgres
	}
	return BackendSQLite
}

// EffectiveWebhookSecret returns the HMAC key for inbound webhooks. Strict mode
// never falls back to the development secret.
func (v Verification) EffectiveWebhookSecret() string {
	if v.WebhookSecret != "" || v.Strict {
		return v.WebhookSecret
	}
	return DevWebhookSecret
}

// RemoteConfigured reports whether both the provider base URL and its bearer
// secret are set.
func (v Verification) RemoteConfigured() bool {
	return v.APIBase != "" && v.APISecret != ""
}

// Configured reports whether admin credentials are set.
func (a Admin) Configured() bool {
	return a.User != "" && a.Pass != ""
}

func serverAddr() string {
	if addr := os.Getenv("PIPAY_ADDR"); addr != "" {
		return addr
	}
	return ":" + envOr("PORT", "5050")
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}
