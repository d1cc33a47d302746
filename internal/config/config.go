package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxAttempts      int
	DLQRetentionDays int
}

type PaymentConfig struct {
	ReconcileConcurrency int
	ReconcileRatePerMin  int
	WebhookConcurrency   int
	WebhookRetryBase     time.Duration
	WebhookRetryCap      time.Duration
	WebhookMaxAttempts   int
}

type InventoryConfig struct {
	ReservationTTL    time.Duration
	OptimisticRetries int
	DefaultStrategy   string // "optimistic" or "pessimistic"
	SweepInterval     time.Duration
}

type SearchConfig struct {
	Concurrency int
	RatePerSec  int
}

type MonitoringConfig struct {
	PollInterval time.Duration
	WarnWaiting  int64
	WarnFailed   int64
	WarnDelayed  int64
}

type Config struct {
	AppEnv      string
	ServiceName string
	Port        int

	// Postgres (pgxpool DSN)
	DBDSN string

	// Redis (broker + task queue)
	RedisAddr string
	RedisPass string
	RedisDB   int

	Outbox     OutboxConfig
	Payment    PaymentConfig
	Inventory  InventoryConfig
	Search     SearchConfig
	Monitoring MonitoringConfig

	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.ServiceName = getEnv("SERVICE_NAME", "commerce-core")
	cfg.Port = getInt("PORT", 8080)

	// --- Postgres: prefer DATABASE_URL if present, else build from POSTGRES_*
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL != "" {
		cfg.DBDSN = dbURL
	} else {
		addr := getEnv("POSTGRES_ADDR", "")
		user := getEnv("POSTGRES_USER", "")
		pass := getEnv("POSTGRES_PASSWORD", "")
		db := getEnv("POSTGRES_DB", "")
		sslmode := getEnv("POSTGRES_SSLMODE", "disable")
		cfg.DBDSN = buildPostgresURL(addr, user, pass, db, sslmode)
	}

	cfg.RedisAddr = getEnv("REDIS_ADDR", "127.0.0.1:6379")
	cfg.RedisPass = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getInt("REDIS_DB", 0)

	cfg.Outbox = OutboxConfig{
		PollingInterval:  getDuration("OUTBOX_POLLING_INTERVAL", 5*time.Second),
		BatchSize:        getInt("OUTBOX_BATCH_SIZE", 100),
		MaxAttempts:      getInt("OUTBOX_MAX_ATTEMPTS", 5),
		DLQRetentionDays: getInt("OUTBOX_DLQ_RETENTION_DAYS", 7),
	}

	cfg.Payment = PaymentConfig{
		ReconcileConcurrency: getInt("PAYMENT_RECONCILE_CONCURRENCY", 2),
		ReconcileRatePerMin:  getInt("PAYMENT_RECONCILE_RATE_PER_MIN", 20),
		WebhookConcurrency:   getInt("WEBHOOK_RETRY_CONCURRENCY", 3),
		WebhookRetryBase:     getDuration("WEBHOOK_RETRY_BASE", 2*time.Second),
		WebhookRetryCap:      getDuration("WEBHOOK_RETRY_CAP", 32*time.Second),
		WebhookMaxAttempts:   getInt("WEBHOOK_MAX_ATTEMPTS", 5),
	}

	cfg.Inventory = InventoryConfig{
		ReservationTTL:    getDuration("RESERVATION_TTL", 15*time.Minute),
		OptimisticRetries: getInt("OPTIMISTIC_CAS_RETRIES", 3),
		DefaultStrategy:   getEnv("INVENTORY_STRATEGY_DEFAULT", "optimistic"),
		SweepInterval:     getDuration("RESERVATION_SWEEP_INTERVAL", 30*time.Second),
	}

	cfg.Search = SearchConfig{
		Concurrency: getInt("SEARCH_INDEXING_CONCURRENCY", 5),
		RatePerSec:  getInt("SEARCH_INDEXING_RATE_PER_SEC", 20),
	}

	cfg.Monitoring = MonitoringConfig{
		PollInterval: getDuration("MONITOR_POLL_INTERVAL", 30*time.Second),
		WarnWaiting:  int64(getInt("MONITOR_WARN_WAITING", 100)),
		WarnFailed:   int64(getInt("MONITOR_WARN_FAILED", 50)),
		WarnDelayed:  int64(getInt("MONITOR_WARN_DELAYED", 1000)),
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("missing database config: provide DATABASE_URL or POSTGRES_ADDR/POSTGRES_USER/POSTGRES_PASSWORD/POSTGRES_DB")
	}
	switch cfg.Inventory.DefaultStrategy {
	case "optimistic", "pessimistic":
	default:
		return nil, fmt.Errorf("invalid INVENTORY_STRATEGY_DEFAULT %q (want optimistic or pessimistic)", cfg.Inventory.DefaultStrategy)
	}

	return cfg, nil
}

// buildPostgresURL builds a safe postgres URL DSN (handles special characters).
func buildPostgresURL(addr, user, pass, db, sslmode string) string {
	if strings.TrimSpace(addr) == "" || strings.TrimSpace(user) == "" || strings.TrimSpace(db) == "" {
		return ""
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   strings.TrimSpace(addr),
		Path:   "/" + strings.TrimPrefix(strings.TrimSpace(db), "/"),
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}

	q := url.Values{}
	if strings.TrimSpace(sslmode) != "" {
		q.Set("sslmode", strings.TrimSpace(sslmode))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
