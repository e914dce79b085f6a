package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":3002",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Storage: StorageConfig{
			Backend:         "memory",
			MongoDBDatabase: "bundl",
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Namespace:    "bundl",
			DialTimeout:  Duration{Duration: 5 * time.Second},
			ReadTimeout:  Duration{Duration: 3 * time.Second},
			WriteTimeout: Duration{Duration: 3 * time.Second},
			PoolSize:     50,
		},
		Orders: OrdersConfig{
			DefaultUserCredits:    5,
			CreditCostPerAction:   1,
			DefaultExpiry:         Duration{Duration: 10 * time.Minute},
			DefaultSearchRadiusKm: 10,
			OrderMinAmount:        1,
			PledgeMinAmount:       1,
		},
		Auth: AuthConfig{
			AccessTokenTTL:  Duration{Duration: 1 * time.Hour},
			RefreshTokenTTL: Duration{Duration: 720 * time.Hour},
			OTPTTL:          Duration{Duration: 5 * time.Minute},
			ProviderTimeout: Duration{Duration: 5 * time.Second},
		},
		Credits: CreditsConfig{
			Packages: []CreditPackage{
				{ID: "starter", Credits: 5, PricePaise: 4900},
				{ID: "regular", Credits: 15, PricePaise: 9900},
				{ID: "bulk", Credits: 40, PricePaise: 19900},
			},
		},
		Push: PushConfig{
			Timeout:   Duration{Duration: 5 * time.Second},
			QueueSize: 256,
			Breaker: BreakerConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
			},
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent spam, not restrict legitimate use
			GlobalEnabled:  true,
			GlobalLimit:    1000,
			GlobalWindow:   Duration{Duration: 1 * time.Minute},
			PerUserEnabled: true,
			PerUserLimit:   60,
			PerUserWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:   true,
			PerIPLimit:     120,
			PerIPWindow:    Duration{Duration: 1 * time.Minute},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
