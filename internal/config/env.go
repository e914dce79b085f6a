package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use BUNDL_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "BUNDL_SERVER_ADDRESS")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "BUNDL_ADMIN_METRICS_API_KEY")

	// Logging config
	setIfEnv(&c.Logging.Level, "BUNDL_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "BUNDL_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "BUNDL_ENVIRONMENT")

	// Storage config
	setIfEnv(&c.Storage.Backend, "BUNDL_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "BUNDL_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "BUNDL_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "BUNDL_MONGODB_DATABASE")

	// Redis config
	setIfEnv(&c.Redis.Addr, "BUNDL_REDIS_ADDR")
	setIfEnv(&c.Redis.Password, "BUNDL_REDIS_PASSWORD")
	setIntIfEnv(&c.Redis.DB, "BUNDL_REDIS_DB")
	setIfEnv(&c.Redis.Namespace, "BUNDL_REDIS_NAMESPACE")
	setIfEnv(&c.Redis.ExpiryChannel, "BUNDL_REDIS_EXPIRY_CHANNEL")

	// Orders config
	setIntIfEnv(&c.Orders.DefaultUserCredits, "BUNDL_DEFAULT_USER_CREDITS")
	setIntIfEnv(&c.Orders.CreditCostPerAction, "BUNDL_CREDIT_COST_PER_ACTION")
	setDurationIfEnv(&c.Orders.DefaultExpiry, "BUNDL_DEFAULT_ORDER_EXPIRY")
	setFloatIfEnv(&c.Orders.DefaultSearchRadiusKm, "BUNDL_DEFAULT_SEARCH_RADIUS_KM")
	setFloatIfEnv(&c.Orders.OrderMinAmount, "BUNDL_ORDER_MIN_AMOUNT")
	setFloatIfEnv(&c.Orders.PledgeMinAmount, "BUNDL_PLEDGE_MIN_AMOUNT")

	// Auth config
	setIfEnv(&c.Auth.JWTSecret, "BUNDL_JWT_SECRET")
	setDurationIfEnv(&c.Auth.AccessTokenTTL, "BUNDL_ACCESS_TOKEN_TTL")
	setDurationIfEnv(&c.Auth.RefreshTokenTTL, "BUNDL_REFRESH_TOKEN_TTL")
	setBoolIfEnv(&c.Auth.DebugEnabled, "DEBUG_ENABLED")
	setIfEnv(&c.Auth.ProviderURL, "BUNDL_OTP_PROVIDER_URL")
	setIfEnv(&c.Auth.ProviderAPIKey, "BUNDL_OTP_PROVIDER_API_KEY")
	if v := os.Getenv("BUNDL_DUMMY_NUMBERS"); v != "" {
		c.Auth.DummyNumbers = splitAndTrim(v)
	}

	// Credits config
	setIfEnv(&c.Credits.WebhookSecret, "CASHFREE_CLIENT_SECRET")

	// Push config
	setBoolIfEnv(&c.Push.Enabled, "BUNDL_PUSH_ENABLED")
	setIfEnv(&c.Push.EndpointURL, "BUNDL_PUSH_ENDPOINT_URL")
	setIfEnv(&c.Push.ServerKey, "BUNDL_PUSH_SERVER_KEY")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setFloatIfEnv sets a float64 pointer from an environment variable.
func setFloatIfEnv(target *float64, key string) {
	if v := os.Getenv(key); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			*target = f
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// splitAndTrim splits a comma separated list and trims whitespace around entries.
func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
