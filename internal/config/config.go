// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type WebConfig struct {
	Port      int    `yaml:"port"`
	BaseURL   string `yaml:"base_url"` // public base URL used to build callback and decision links
	JWTSecret string `yaml:"jwt_secret"`
	AdminUser string `yaml:"admin_user"`
	AdminPass string `yaml:"admin_pass"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type ZarinPalConfig struct {
	MerchantID  string `yaml:"merchant_id"`
	CallbackURL string `yaml:"callback_url"`
	Sandbox     bool   `yaml:"sandbox"`
}

type NOWPaymentsConfig struct {
	APIKey      string `yaml:"api_key"`
	PayCurrency string `yaml:"pay_currency"` // default usdttrc20
	USDRate     int64  `yaml:"usd_rate"`     // Toman per USD, for invoice pricing
}

type StripeConfig struct {
	APIKey     string `yaml:"api_key"`
	SuccessURL string `yaml:"success_url"`
	CancelURL  string `yaml:"cancel_url"`
	Currency   string `yaml:"currency"`
	USDRate    int64  `yaml:"usd_rate"` // Toman per USD minor unit conversion
}

type PaymentConfig struct {
	ZarinPal    ZarinPalConfig    `yaml:"zarinpal"`
	NOWPayments NOWPaymentsConfig `yaml:"nowpayments"`
	Stripe      StripeConfig      `yaml:"stripe"`
}

type EmailConfig struct {
	APIKey    string `yaml:"api_key"`
	APIURL    string `yaml:"api_url"` // transactional email API endpoint
	From      string `yaml:"from"`
	AdminAddr string `yaml:"admin_addr"` // manual payment decision emails go here
}

type WebhookConfig struct {
	URLs []string `yaml:"urls"` // customer-configured outbound webhook targets
}

type PanelConfig struct {
	DefaultType    string        `yaml:"default_type"` // marzban|marzneshin, used when plan lookup fails
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type SchedulerConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	ExpiryInterval    time.Duration `yaml:"expiry_interval"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Web       WebConfig       `yaml:"web"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Payment   PaymentConfig   `yaml:"payment"`
	Email     EmailConfig     `yaml:"email"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Panel     PanelConfig     `yaml:"panel"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Web.Port <= 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Payment.NOWPayments.PayCurrency == "" {
		cfg.Payment.NOWPayments.PayCurrency = "usdttrc20"
	}
	if cfg.Payment.Stripe.Currency == "" {
		cfg.Payment.Stripe.Currency = "usd"
	}
	if cfg.Panel.DefaultType == "" {
		cfg.Panel.DefaultType = "marzban"
	}
	if cfg.Panel.RequestTimeout <= 0 {
		cfg.Panel.RequestTimeout = 30 * time.Second
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = time.Minute
	}
	if cfg.Scheduler.StaleAfter <= 0 {
		cfg.Scheduler.StaleAfter = 10 * time.Minute
	}
	if cfg.Scheduler.ExpiryInterval <= 0 {
		cfg.Scheduler.ExpiryInterval = time.Hour
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	// Minimal validation. Provider keys are checked lazily by their
	// adapters so a deployment can run with a subset of payment rails.
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Web.BaseURL == "" {
		return nil, errors.New("web.base_url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
