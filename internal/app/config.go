package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr   string `default:"127.0.0.1:6379" usage:"Redis address for guest cart storage" flag:"redis-addr"`

	Backend   BackendConfig
	Pipeline  PipelineConfig
	Kafka     KafkaConfig
	CartTTL   time.Duration `default:"720h" usage:"Guest cart retention" flag:"cart-ttl"`
	CartIdle  time.Duration `default:"1h"   usage:"Evict in-memory session carts idle longer than this" flag:"cart-idle"`
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// BackendConfig points at the upstream commerce API.
type BackendConfig struct {
	URL     string        `usage:"Commerce API base URL" flag:"backend-url"`
	APIKey  string        `usage:"Commerce API key" flag:"backend-api-key"`
	Timeout time.Duration `default:"10s" usage:"Commerce API request timeout" flag:"backend-timeout"`
}

// PipelineConfig tunes the checkout state machine.
type PipelineConfig struct {
	InteractionTimeout time.Duration `default:"300s" usage:"Max time the payment page may stay open" flag:"interaction-timeout"`
	VerifyAttempts     int           `default:"3" usage:"Total payment verification attempts" flag:"verify-attempts"`
	VerifyDelay        time.Duration `default:"2s" usage:"Fixed delay between verification retries" flag:"verify-delay"`
	TerminalRetention  time.Duration `default:"15m" usage:"How long a finished order stays queryable in memory" flag:"terminal-retention"`
}

// KafkaConfig controls order lifecycle event publishing. Events are disabled
// when no brokers are configured.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka broker addresses (empty disables events)"`
	Topic   string   `default:"order.status" usage:"Order event topic"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"true" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
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
	if cfg.Backend.URL == "" {
		return nil, errors.New("commerce API URL is required: set CHECKOUT_BACKEND_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" && c.RedisAddr == "127.0.0.1:6379" {
		c.RedisAddr = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
