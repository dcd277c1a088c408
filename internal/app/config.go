package app

import (
	"net/url"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/display"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Catalog   CatalogConfig
	Display   DisplayConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// CatalogConfig configures the remote product catalog client.
type CatalogConfig struct {
	BaseURL  string        `default:"https://fakestoreapi.com" usage:"Remote catalog base URL" flag:"catalog-url"`
	Timeout  time.Duration `default:"10s" usage:"Per request catalog timeout" flag:"catalog-timeout"`
	Dedup    bool          `default:"true" usage:"Collapse concurrent identical catalog requests"`
	Prefetch bool          `default:"false" usage:"Warm each new session's catalog cache"`
}

// DisplayConfig controls the display currency.
type DisplayConfig struct {
	Rate   string `default:"5.5" usage:"Catalog price to display price factor"`
	Symbol string `default:"R$" usage:"Display currency symbol"`
}

// SessionConfig controls visitor sessions.
type SessionConfig struct {
	CookieName   string        `default:"storefront_session" usage:"Session cookie name"`
	IdleTTL      time.Duration `default:"30m" usage:"Idle session expiry" flag:"session-ttl"`
	SecureCookie bool          `default:"false" usage:"Mark the session cookie Secure"`
}

// RateLimitConfig controls the per-client rate limiter.
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

// LoadConfig loads configuration from environment variables and YAML files,
// then applies platform defaults and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

// applyPlatformDefaults honours the PORT variable set by hosting platforms.
func (c *Config) applyPlatformDefaults() {
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate checks values aconfig cannot.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Catalog.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("catalog base url %q must be an absolute http(s) URL", c.Catalog.BaseURL)
	}
	if c.Catalog.Timeout <= 0 {
		return errors.New("catalog timeout must be positive")
	}
	if _, err := c.Currency(); err != nil {
		return err
	}
	if c.Session.IdleTTL <= 0 {
		return errors.New("session idle ttl must be positive")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// Currency returns the configured display currency.
func (c *Config) Currency() (display.Currency, error) {
	rate, err := decimal.NewFromString(c.Display.Rate)
	if err != nil {
		return display.Currency{}, errors.Wrapf(err, "display rate %q", c.Display.Rate)
	}
	if !rate.IsPositive() {
		return display.Currency{}, errors.Errorf("display rate %s must be positive", rate)
	}
	return display.Currency{Rate: rate, Symbol: c.Display.Symbol}, nil
}
