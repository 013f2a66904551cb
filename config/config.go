// Package config reads the runtime configuration of the competition engine
// from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

type Config struct {
	Port           string
	Env            string
	LogLevel       string
	DatabaseURL    string
	DatabaseDriver string // postgres or sqlite
	ServiceToken   string
	AllowedOrigins []string

	// Canonical timezone used to turn calendar dates into window boundaries.
	Location *time.Location

	ReconcileInterval    time.Duration
	ReconcileItemTimeout time.Duration
	MonitorInterval      time.Duration

	Monitoring MonitoringConfig

	PrizeTablePath string
	Currency       currency.Unit

	CacheTTL time.Duration
	RedisURL string

	AlertWebhookURL  string
	PayoutServiceURL string
	PayoutPollEvery  time.Duration

	R2 R2Config
}

type MonitoringConfig struct {
	AlertDedupWindow        time.Duration
	ScoreDriftThreshold     decimal.Decimal
	OrphanSessionThreshold  int64
	PendingPaymentAge       time.Duration
	PendingPaymentThreshold int64
}

// R2Config points the snapshot archive at a Cloudflare R2 (or any S3
// compatible) bucket. Archiving is disabled when Bucket is empty.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Endpoint        string
	PublicBaseURL   string
}

func (c R2Config) Enabled() bool { return c.Bucket != "" }

// IsDevelopment reports whether the process runs with development defaults.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// Load reads a .env file if present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}

	cfg := &Config{
		Port:           r.str("PORT", "8080"),
		Env:            r.str("ENV", "development"),
		LogLevel:       r.str("LOG_LEVEL", "info"),
		DatabaseURL:    r.str("DATABASE_URL", ""),
		DatabaseDriver: strings.ToLower(r.str("DATABASE_DRIVER", "postgres")),
		ServiceToken:   r.str("SERVICE_TOKEN", ""),
		AllowedOrigins: r.list("ALLOWED_ORIGINS", "http://localhost:3000"),

		ReconcileInterval:    r.duration("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileItemTimeout: r.duration("RECONCILE_ITEM_TIMEOUT", 20*time.Second),
		MonitorInterval:      r.duration("MONITOR_INTERVAL", 5*time.Minute),

		Monitoring: MonitoringConfig{
			AlertDedupWindow:        r.duration("ALERT_DEDUP_WINDOW", time.Hour),
			ScoreDriftThreshold:     r.decimal("SCORE_DRIFT_THRESHOLD", decimal.Zero),
			OrphanSessionThreshold:  r.int("ORPHAN_SESSION_THRESHOLD", 10),
			PendingPaymentAge:       r.duration("PENDING_PAYMENT_AGE", 72*time.Hour),
			PendingPaymentThreshold: r.int("PENDING_PAYMENT_THRESHOLD", 0),
		},

		PrizeTablePath: r.str("PRIZE_TABLE_PATH", ""),

		CacheTTL: r.duration("CACHE_TTL", 15*time.Second),
		RedisURL: r.str("REDIS_URL", ""),

		AlertWebhookURL:  r.str("ALERT_WEBHOOK_URL", ""),
		PayoutServiceURL: strings.TrimRight(r.str("PAYOUT_SERVICE_URL", ""), "/"),
		PayoutPollEvery:  r.duration("PAYOUT_POLL_INTERVAL", time.Minute),

		R2: R2Config{
			AccountID:       r.str("CLOUDFLARE_ACCOUNT_ID", ""),
			AccessKeyID:     r.str("R2_ACCESS_KEY_ID", ""),
			AccessKeySecret: r.str("R2_ACCESS_KEY_SECRET", ""),
			Bucket:          r.str("R2_BUCKET_NAME", ""),
			Endpoint:        r.str("R2_ENDPOINT", ""),
			PublicBaseURL:   r.str("R2_PUBLIC_BASE_URL", ""),
		},
	}

	tz := r.str("COMPETITION_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.fail("COMPETITION_TIMEZONE", err)
	}
	cfg.Location = loc

	unit, err := currency.ParseISO(r.str("PRIZE_CURRENCY", "USD"))
	if err != nil {
		r.fail("PRIZE_CURRENCY", err)
	}
	cfg.Currency = unit

	if r.err != nil {
		return nil, r.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.ReconcileItemTimeout <= 0 {
		return fmt.Errorf("RECONCILE_ITEM_TIMEOUT must be positive")
	}
	if c.Monitoring.AlertDedupWindow < 0 {
		return fmt.Errorf("ALERT_DEDUP_WINDOW must not be negative")
	}
	if c.R2.Enabled() && c.R2.AccountID == "" && c.R2.Endpoint == "" {
		return fmt.Errorf("R2_BUCKET_NAME is set but neither CLOUDFLARE_ACCOUNT_ID nor R2_ENDPOINT is")
	}
	return nil
}

// reader collects the first parse error so Load can report it with the
// offending variable name.
type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) list(key, def string) []string {
	var out []string
	for _, v := range strings.Split(r.str(key, def), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *reader) int(key string, def int64) int64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) decimal(key string, def decimal.Decimal) decimal.Decimal {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}
