package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (PAYRECON_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Store       string `default:"memory" usage:"Order store backend: memory or postgres"`
	DatabaseURL string `usage:"PostgreSQL connection URL (PAYRECON_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Payment     PaymentConfig
	Simulator   SimulatorConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// PaymentConfig describes the receiving account customers transfer to.
type PaymentConfig struct {
	BankAccount string `usage:"Receiving bank account number" flag:"bank-account"`
	BankName    string `usage:"Receiving bank short name (e.g. MBBank)" flag:"bank-name"`
	QRBaseURL   string `default:"https://qr.sepay.vn/img" usage:"Payment QR image endpoint" flag:"qr-base-url"`
	QRTemplate  string `default:"compact" usage:"Payment QR template" flag:"qr-template"`
	CodePrefix  string `default:"DH" usage:"Order code prefix (A-Z, 0-9)" flag:"code-prefix"`
}

// SimulatorConfig controls the payment simulation endpoint.
type SimulatorConfig struct {
	Enabled bool `default:"false" usage:"Mount the simulate-payment test endpoint" flag:"simulator"`
}

// RateLimitConfig controls the per-client fixed window rate limiter.
// The webhook is exempt: gateway retries must never be throttled.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

// loadConfig parses args as flags; nil args skip flag parsing.
func loadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: args == nil,
		Args:      args,
		EnvPrefix: "PAYRECON",
		Files:     []string{"config.yaml", "/etc/payrecon/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PAYRECON_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required for the postgres store: set PAYRECON_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown store %q: want %q or %q", c.Store, StoreMemory, StorePostgres)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}
