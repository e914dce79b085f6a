package config

import (
	"database/sql"
	"fmt"
	"strings"
)

// finalize validates the assembled configuration and derives dependent defaults.
func (c *Config) finalize() error {
	switch c.Storage.Backend {
	case "memory":
		// Development/testing only; nothing to validate.
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage backend %q requires postgres_url", c.Storage.Backend)
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			return fmt.Errorf("storage backend %q requires mongodb_url", c.Storage.Backend)
		}
		if c.Storage.MongoDBDatabase == "" {
			c.Storage.MongoDBDatabase = "bundl"
		}
	case "":
		// Auto-detect: prefer postgres, then mongodb, then memory.
		switch {
		case c.Storage.PostgresURL != "":
			c.Storage.Backend = "postgres"
		case c.Storage.MongoDBURL != "":
			c.Storage.Backend = "mongodb"
		default:
			c.Storage.Backend = "memory"
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Redis.Namespace == "" {
		return fmt.Errorf("redis namespace must not be empty")
	}
	if strings.ContainsAny(c.Redis.Namespace, ": ") {
		return fmt.Errorf("redis namespace %q must not contain ':' or spaces", c.Redis.Namespace)
	}
	if c.Redis.ExpiryChannel == "" {
		c.Redis.ExpiryChannel = fmt.Sprintf("__keyevent@%d__:expired", c.Redis.DB)
	}

	if c.Orders.DefaultUserCredits < 0 {
		return fmt.Errorf("orders.default_user_credits must not be negative")
	}
	if c.Orders.CreditCostPerAction < 1 {
		return fmt.Errorf("orders.credit_cost_per_action must be at least 1")
	}
	if c.Orders.DefaultExpiry.Duration <= 0 {
		return fmt.Errorf("orders.default_expiry must be positive")
	}
	if c.Orders.DefaultSearchRadiusKm <= 0 {
		return fmt.Errorf("orders.default_search_radius_km must be positive")
	}
	if c.Orders.OrderMinAmount <= 0 || c.Orders.PledgeMinAmount <= 0 {
		return fmt.Errorf("orders.order_min_amount and orders.pledge_min_amount must be positive")
	}

	if c.Auth.JWTSecret == "" && c.Logging.Environment == "production" {
		return fmt.Errorf("auth.jwt_secret is required in production")
	}
	if c.Auth.DebugEnabled && c.Logging.Environment == "production" {
		return fmt.Errorf("auth.debug_enabled must not be set in production")
	}

	for i, pkg := range c.Credits.Packages {
		if pkg.Credits <= 0 {
			return fmt.Errorf("credits.packages[%d]: credits must be positive", i)
		}
		if pkg.PricePaise <= 0 {
			return fmt.Errorf("credits.packages[%d]: price_paise must be positive", i)
		}
	}

	if c.Push.Enabled && c.Push.EndpointURL == "" {
		return fmt.Errorf("push.endpoint_url is required when push is enabled")
	}

	return nil
}

// ApplyPostgresPoolSettings applies pool settings to an opened database handle.
func ApplyPostgresPoolSettings(db *sql.DB, cfg PostgresPoolConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
}
