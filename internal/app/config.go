package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
//
// Monetary settings are declared as strings and parsed into decimals after
// loading, so config files never go through binary floating point.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Pricing     PricingConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// PricingConfig controls the tax rate and flat-rate shipping applied by the
// pricing pipeline.
type PricingConfig struct {
	TaxRate          string `default:"0.10"  usage:"Tax rate applied to the discounted subtotal (e.g. 0.10)" flag:"tax-rate"`
	ShippingFee      string `default:"5.00"  usage:"Flat shipping fee per order" flag:"shipping-fee"`
	ShippingFreeOver string `default:"50.00" usage:"Subtotal at which shipping becomes free; empty disables" flag:"shipping-free-over"`

	taxRate          decimal.Decimal
	shippingFee      decimal.Decimal
	shippingFreeOver decimal.Decimal
}

// TaxRateDecimal returns the parsed tax rate.
func (p *PricingConfig) TaxRateDecimal() decimal.Decimal { return p.taxRate }

// ShippingFeeDecimal returns the parsed flat shipping fee.
func (p *PricingConfig) ShippingFeeDecimal() decimal.Decimal { return p.shippingFee }

// ShippingFreeOverDecimal returns the parsed free-shipping threshold.
func (p *PricingConfig) ShippingFreeOverDecimal() decimal.Decimal { return p.shippingFreeOver }

// RateLimitConfig controls the per-client fixed window rate limiter.
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

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if err := cfg.Pricing.parse(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (p *PricingConfig) parse() error {
	var err error
	if p.taxRate, err = decimal.NewFromString(p.TaxRate); err != nil {
		return errors.Wrapf(err, "parse tax rate %q", p.TaxRate)
	}
	if p.taxRate.IsNegative() {
		return errors.Errorf("tax rate %q must not be negative", p.TaxRate)
	}
	if p.shippingFee, err = decimal.NewFromString(p.ShippingFee); err != nil {
		return errors.Wrapf(err, "parse shipping fee %q", p.ShippingFee)
	}
	p.shippingFreeOver = decimal.Zero
	if p.ShippingFreeOver != "" {
		if p.shippingFreeOver, err = decimal.NewFromString(p.ShippingFreeOver); err != nil {
			return errors.Wrapf(err, "parse free shipping threshold %q", p.ShippingFreeOver)
		}
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT to the application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
