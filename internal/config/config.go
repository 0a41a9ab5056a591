package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DispatchModeQueue  = "queue"
	DispatchModeInline = "inline"
)

// DefaultHolidays is used when HOLIDAYS is unset.
var DefaultHolidays = []string{"01-01", "05-01", "05-08", "07-14", "08-15", "11-01", "11-11", "12-25"}

type Config struct {
	DatabaseDSN        string `env:"DATABASE_DSN,required=true"`
	RedisURL           string `env:"REDIS_URL,required=true"`
	RabbitMQURL        string `env:"RABBITMQ_URL"`
	StripeSecretKey    string `env:"STRIPE_SECRET_KEY,required=true"`
	StripeAPIURL       string `env:"STRIPE_API_URL"`
	NotifierWebhookURL string `env:"NOTIFIER_WEBHOOK_URL,required=true"`
	CardUpdateSecret   string `env:"CARD_UPDATE_SECRET,required=true"`
	CardUpdateBaseURL  string `env:"CARD_UPDATE_BASE_URL,default=https://billing.example.com/card-update"`
	PaymentLinkBaseURL string `env:"PAYMENT_LINK_BASE_URL,default=https://billing.example.com/pay"`

	DispatchMode       string        `env:"DISPATCH_MODE,default=queue"`
	RunInterval        time.Duration `env:"RUN_INTERVAL,default=5m"`
	ScanLimit          int           `env:"SCAN_LIMIT,default=500"`
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY,default=8"`
	GatewayTimeout     time.Duration `env:"GATEWAY_TIMEOUT,default=30s"`
	ReconcileThreshold time.Duration `env:"RECONCILE_THRESHOLD,default=0s"`
	ReconcileInterval  time.Duration `env:"RECONCILE_INTERVAL,default=1m"`
	MaxReclaims        int           `env:"MAX_RECLAIMS,default=3"`
	GatewayRatePerSec  int           `env:"GATEWAY_RATE_LIMIT_PER_SEC,default=25"`

	BestSlotsLimit int           `env:"BEST_SLOTS_LIMIT,default=5"`
	SlotCacheTTL   time.Duration `env:"SLOT_CACHE_TTL,default=15m"`
	ConfigCacheTTL time.Duration `env:"CONFIG_CACHE_TTL,default=1m"`
	// HOLIDAYS is a comma separated MM-DD list; the tag parser reserves commas.
	HolidaysRaw string `env:"HOLIDAYS"`
	Timezone    string `env:"TIMEZONE,default=UTC"`
	RNGSeed     int64  `env:"RNG_SEED,default=0"`

	APIPort   int    `env:"API_PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.DispatchMode = strings.ToLower(strings.TrimSpace(cfg.DispatchMode))
	if cfg.ReconcileThreshold <= 0 {
		cfg.ReconcileThreshold = 2 * cfg.GatewayTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DispatchMode {
	case DispatchModeQueue:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("RABBITMQ_URL is required when DISPATCH_MODE=%s", DispatchModeQueue)
		}
	case DispatchModeInline:
	default:
		return fmt.Errorf("invalid DISPATCH_MODE %q", c.DispatchMode)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.RunInterval <= 0 {
		return fmt.Errorf("RUN_INTERVAL must be positive")
	}
	if c.MaxReclaims < 0 {
		return fmt.Errorf("MAX_RECLAIMS must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Holidays returns the configured MM-DD holiday list.
func (c *Config) Holidays() []string {
	if strings.TrimSpace(c.HolidaysRaw) == "" {
		return append([]string(nil), DefaultHolidays...)
	}
	parts := strings.FieldsFunc(c.HolidaysRaw, func(r rune) bool { return r == ',' || r == '|' })
	days := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			days = append(days, p)
		}
	}
	return days
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) QueueMode() bool {
	return c.DispatchMode == DispatchModeQueue
}
