package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Orders    OrdersConfig    `yaml:"orders"`
	Auth      AuthConfig      `yaml:"auth"`
	Credits   CreditsConfig   `yaml:"credits"`
	Push      PushConfig      `yaml:"push"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (empty disables protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// StorageConfig holds the durable user/order store configuration.
type StorageConfig struct {
	Backend         string             `yaml:"backend"`          // "postgres", "mongodb", or "memory"
	PostgresURL     string             `yaml:"postgres_url"`     // PostgreSQL connection string
	MongoDBURL      string             `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string             `yaml:"mongodb_database"` // MongoDB database name (default: "bundl")
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`    // PostgreSQL connection pool settings
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// RedisConfig holds live-cache connection configuration.
type RedisConfig struct {
	Addr          string   `yaml:"addr"`           // host:port (default: "localhost:6379")
	Password      string   `yaml:"password"`       // optional AUTH password
	DB            int      `yaml:"db"`             // logical database index
	Namespace     string   `yaml:"namespace"`      // process-wide key prefix (default: "bundl")
	ExpiryChannel string   `yaml:"expiry_channel"` // keyspace notification channel (default derived from db)
	DialTimeout   Duration `yaml:"dial_timeout"`
	ReadTimeout   Duration `yaml:"read_timeout"`
	WriteTimeout  Duration `yaml:"write_timeout"`
	PoolSize      int      `yaml:"pool_size"`
}

// OrdersConfig holds the order lifecycle engine parameters.
type OrdersConfig struct {
	DefaultUserCredits    int      `yaml:"default_user_credits"`     // starting balance for new users (default: 5)
	CreditCostPerAction   int      `yaml:"credit_cost_per_action"`   // charged per createOrder / pledgeToOrder (default: 1)
	DefaultExpiry         Duration `yaml:"default_expiry"`           // TTL when the client omits expirySeconds (default: 10m)
	DefaultSearchRadiusKm float64  `yaml:"default_search_radius_km"` // radius when the client omits radiusKm (default: 10)
	OrderMinAmount        float64  `yaml:"order_min_amount"`         // minimum amountNeeded (default: 1)
	PledgeMinAmount       float64  `yaml:"pledge_min_amount"`        // minimum pledgeAmount (default: 1)
}

// AuthConfig holds phone OTP and token configuration.
type AuthConfig struct {
	JWTSecret       string   `yaml:"jwt_secret"`        // HMAC signing secret for access/refresh tokens
	AccessTokenTTL  Duration `yaml:"access_token_ttl"`  // default: 1h
	RefreshTokenTTL Duration `yaml:"refresh_token_ttl"` // default: 720h
	OTPTTL          Duration `yaml:"otp_ttl"`           // pending OTP transaction lifetime (default: 5m)
	DebugEnabled    bool     `yaml:"debug_enabled"`     // accept any OTP (development/closed testing only)
	DummyNumbers    []string `yaml:"dummy_numbers"`     // store-review accounts that bypass OTP delivery
	ProviderURL     string   `yaml:"provider_url"`      // external OTP provider endpoint
	ProviderAPIKey  string   `yaml:"provider_api_key"`
	ProviderTimeout Duration `yaml:"provider_timeout"`
}

// CreditsConfig holds in-app purchase credit top-up configuration.
type CreditsConfig struct {
	WebhookSecret string          `yaml:"webhook_secret"` // Cashfree client secret for webhook signatures
	Packages      []CreditPackage `yaml:"packages"`
}

// CreditPackage defines a purchasable credit bundle.
type CreditPackage struct {
	ID         string `yaml:"id" json:"id"`
	Credits    int    `yaml:"credits" json:"credits"`
	PricePaise int64  `yaml:"price_paise" json:"pricePaise"` // price in minor currency units
}

// PushConfig holds push notification delivery configuration.
type PushConfig struct {
	Enabled     bool          `yaml:"enabled"`
	EndpointURL string        `yaml:"endpoint_url"` // FCM-compatible HTTP endpoint
	ServerKey   string        `yaml:"server_key"`
	Timeout     Duration      `yaml:"timeout"`
	QueueSize   int           `yaml:"queue_size"` // dispatcher buffer; a full buffer drops events (default: 256)
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker guarding an external service.
type BreakerConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
}

// RateLimitConfig holds rate limiting configuration.
// Provides multi-tier rate limiting to prevent spam while allowing legitimate use.
type RateLimitConfig struct {
	// Global rate limiting (across all users)
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-user rate limiting (identified by authenticated user id)
	PerUserEnabled bool     `yaml:"per_user_enabled"`
	PerUserLimit   int      `yaml:"per_user_limit"`
	PerUserWindow  Duration `yaml:"per_user_window"`

	// Per-IP rate limiting (fallback when the caller is not authenticated)
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}
