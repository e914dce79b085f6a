package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Address != ":3002" {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, ":3002")
	}
	if cfg.Orders.DefaultUserCredits != 5 {
		t.Errorf("Orders.DefaultUserCredits = %d, want 5", cfg.Orders.DefaultUserCredits)
	}
	if cfg.Orders.CreditCostPerAction != 1 {
		t.Errorf("Orders.CreditCostPerAction = %d, want 1", cfg.Orders.CreditCostPerAction)
	}
	if cfg.Orders.DefaultExpiry.Duration != 10*time.Minute {
		t.Errorf("Orders.DefaultExpiry = %v, want 10m", cfg.Orders.DefaultExpiry.Duration)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Storage.Backend = %q, want memory (auto-detect fallback)", cfg.Storage.Backend)
	}
	if cfg.Redis.ExpiryChannel != "__keyevent@0__:expired" {
		t.Errorf("Redis.ExpiryChannel = %q, want derived default", cfg.Redis.ExpiryChannel)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  address: ":9090"
redis:
  namespace: bundl-test
  db: 2
orders:
  default_user_credits: 10
  default_expiry: 120s
auth:
  debug_enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("Server.Address = %q, want :9090", cfg.Server.Address)
	}
	if cfg.Orders.DefaultUserCredits != 10 {
		t.Errorf("Orders.DefaultUserCredits = %d, want 10", cfg.Orders.DefaultUserCredits)
	}
	if cfg.Orders.DefaultExpiry.Duration != 2*time.Minute {
		t.Errorf("Orders.DefaultExpiry = %v, want 2m", cfg.Orders.DefaultExpiry.Duration)
	}
	if !cfg.Auth.DebugEnabled {
		t.Error("Auth.DebugEnabled = false, want true")
	}
	if cfg.Redis.ExpiryChannel != "__keyevent@2__:expired" {
		t.Errorf("Redis.ExpiryChannel = %q, want __keyevent@2__:expired", cfg.Redis.ExpiryChannel)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		want  time.Duration
		isErr bool
	}{
		{name: "go style", yaml: "5m", want: 5 * time.Minute},
		{name: "bare seconds", yaml: "600", want: 600 * time.Second},
		{name: "empty", yaml: `""`, want: 0},
		{name: "garbage", yaml: "soon", isErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := yaml.Unmarshal([]byte(tt.yaml), &d)
			if tt.isErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.yaml)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal %q: %v", tt.yaml, err)
			}
			if d.Duration != tt.want {
				t.Errorf("Duration = %v, want %v", d.Duration, tt.want)
			}
		})
	}
}

func TestFinalizeRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"postgres without url", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"empty namespace", func(c *Config) { c.Redis.Namespace = "" }},
		{"namespace with colon", func(c *Config) { c.Redis.Namespace = "a:b" }},
		{"zero credit cost", func(c *Config) { c.Orders.CreditCostPerAction = 0 }},
		{"negative default credits", func(c *Config) { c.Orders.DefaultUserCredits = -1 }},
		{"zero radius", func(c *Config) { c.Orders.DefaultSearchRadiusKm = 0 }},
		{"debug in production", func(c *Config) {
			c.Logging.Environment = "production"
			c.Auth.JWTSecret = "secret"
			c.Auth.DebugEnabled = true
		}},
		{"bad package", func(c *Config) { c.Credits.Packages = []CreditPackage{{ID: "x", Credits: 0, PricePaise: 100}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.finalize(); err == nil {
				t.Error("finalize() = nil, want error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BUNDL_SERVER_ADDRESS", ":4000")
	t.Setenv("BUNDL_DEFAULT_USER_CREDITS", "7")
	t.Setenv("BUNDL_DEFAULT_ORDER_EXPIRY", "90s")
	t.Setenv("BUNDL_DEFAULT_SEARCH_RADIUS_KM", "2.5")
	t.Setenv("DEBUG_ENABLED", "true")
	t.Setenv("BUNDL_DUMMY_NUMBERS", "+919999999999, +918888888888")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Address != ":4000" {
		t.Errorf("Server.Address = %q, want :4000", cfg.Server.Address)
	}
	if cfg.Orders.DefaultUserCredits != 7 {
		t.Errorf("Orders.DefaultUserCredits = %d, want 7", cfg.Orders.DefaultUserCredits)
	}
	if cfg.Orders.DefaultExpiry.Duration != 90*time.Second {
		t.Errorf("Orders.DefaultExpiry = %v, want 90s", cfg.Orders.DefaultExpiry.Duration)
	}
	if cfg.Orders.DefaultSearchRadiusKm != 2.5 {
		t.Errorf("Orders.DefaultSearchRadiusKm = %v, want 2.5", cfg.Orders.DefaultSearchRadiusKm)
	}
	if !cfg.Auth.DebugEnabled {
		t.Error("Auth.DebugEnabled = false, want true")
	}
	if len(cfg.Auth.DummyNumbers) != 2 || cfg.Auth.DummyNumbers[1] != "+918888888888" {
		t.Errorf("Auth.DummyNumbers = %v, want two trimmed entries", cfg.Auth.DummyNumbers)
	}
}
