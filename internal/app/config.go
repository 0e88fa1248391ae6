package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `default:"" usage:"Redis URL for webhook replay guard, settings bus and rate limits; empty disables" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for admin API key hashing (STORE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Locale       string `default:"en-US" usage:"Locale for amounts in notifications"`
	MaxBodyBytes int64  `default:"1048576" usage:"Maximum request body size" flag:"max-body-bytes"`

	JWT        JWTConfig
	Kafka      KafkaConfig
	Kashier    KashierConfig
	Stripe     StripeConfig
	Orders     OrdersConfig
	Promotions PromotionsConfig
	RateLimit  RateLimitConfig
	Graceful   GracefulConfig
}

// JWTConfig verifies customer bearer tokens.
type JWTConfig struct {
	Secret string `usage:"HMAC secret for customer tokens (STORE_JWT_SECRET)"`
	Issuer string `default:"storefront" usage:"Expected token issuer"`
}

// KafkaConfig enables notification events. Without brokers notifications are
// written to the log.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers for notification events"`
	Topic   string   `default:"storefront.notifications" usage:"Notification topic"`
}

// KashierConfig enables the gateway payment method.
type KashierConfig struct {
	MerchantID       string `usage:"Kashier merchant id; empty disables the gateway method" flag:"kashier-merchant-id"`
	APIKey           string `usage:"Kashier payment API key"`
	SecretKey        string `usage:"Kashier secret key for refunds"`
	Mode             string `default:"test" usage:"Kashier mode: test or live"`
	MerchantRedirect string `usage:"URL the customer returns to after payment"`
	FailureRedirect  string `usage:"URL the customer returns to after a failed payment"`
	WebhookURL       string `usage:"Public URL of the Kashier webhook route"`
}

// StripeConfig enables the credit_card payment method.
type StripeConfig struct {
	APIKey        string `usage:"Stripe secret key; empty disables the credit_card method"`
	WebhookSecret string `usage:"Stripe webhook signing secret"`
	SuccessURL    string `usage:"Checkout success URL"`
	CancelURL     string `usage:"Checkout cancel URL"`
}

// OrdersConfig tunes order rules.
type OrdersConfig struct {
	AllowReturnAfterRejection bool          `default:"false" usage:"Allow a new return request after a rejection" flag:"allow-return-after-rejection"`
	WebhookReplayTTL          time.Duration `default:"72h" usage:"How long processed webhook deliveries are remembered" flag:"webhook-replay-ttl"`
}

// PromotionsConfig controls how coupons and automatic promotions interact.
type PromotionsConfig struct {
	Automatic                bool `default:"true" usage:"Apply automatic promotions"`
	CouponOverridesAutomatic bool `default:"true" usage:"A valid coupon wins over automatic promotions" flag:"coupon-overrides-automatic"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
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
		return nil, err
	}
	return &cfg, nil
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	case c.JWT.Secret == "":
		return errors.New("JWT secret is required: set STORE_JWT_SECRET")
	case c.APIKeyPepper == "":
		return errors.New("API key pepper is required: set STORE_API_KEY_PEPPER")
	case c.Stripe.APIKey != "" && c.Stripe.WebhookSecret == "":
		return errors.New("stripe webhook secret is required when stripe is enabled")
	case c.Kashier.MerchantID != "" && c.Kashier.APIKey == "":
		return errors.New("kashier API key is required when kashier is enabled")
	case c.Kashier.MerchantID != "" && c.Kashier.SecretKey == "":
		return errors.New("kashier secret key is required when kashier is enabled")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	c.Kafka.Brokers = compact(c.Kafka.Brokers)
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
