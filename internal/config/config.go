package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/pricehistory"
)

type Config struct {
	Env       string `mapstructure:"LCR_ENV"`
	HTTPAddr  string `mapstructure:"LCR_HTTP_ADDR"`
	PublicURL string `mapstructure:"LCR_PUBLIC_ORIGIN"`

	GenesisPath string `mapstructure:"LCR_GENESIS_PATH"`

	KV       KVConfig       `mapstructure:",squash"`
	Database DBConfig       `mapstructure:",squash"`
	Oracle   OracleConfig   `mapstructure:",squash"`
	Ledger   LedgerConfig   `mapstructure:",squash"`
	Keeper   KeeperConfig   `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type KVConfig struct {
	Backend          string        `mapstructure:"LCR_KV_BACKEND"` // "memory", "redis"
	RedisURL         string        `mapstructure:"LCR_REDIS_URL"`
	FallbackToMemory bool          `mapstructure:"LCR_KV_FALLBACK_TO_MEMORY"`
	JanitorInterval  time.Duration `mapstructure:"LCR_KV_JANITOR_INTERVAL"`
}

type DBConfig struct {
	// Empty keeps the instruction journal in memory.
	PostgresDSN string `mapstructure:"LCR_POSTGRES_DSN"`
}

type OracleConfig struct {
	Provider        string        `mapstructure:"LCR_ORACLE_PROVIDER"` // "binance", "mock"
	RefreshInterval time.Duration `mapstructure:"LCR_ORACLE_REFRESH_INTERVAL"`
	RetryInterval   time.Duration `mapstructure:"LCR_ORACLE_RETRY_INTERVAL"`
	MaxStaleSlots   uint64        `mapstructure:"LCR_ORACLE_MAX_STALE_SLOTS"`
	SlotDuration    time.Duration `mapstructure:"LCR_ORACLE_SLOT_DURATION"`
	MockVolatility  float64       `mapstructure:"LCR_ORACLE_MOCK_VOLATILITY"`
	QuoteTTL        time.Duration `mapstructure:"LCR_ORACLE_QUOTE_TTL"`
	// ClockGenesis is the RFC3339 instant of slot zero.
	ClockGenesis string `mapstructure:"LCR_CLOCK_GENESIS"`
}

// Genesis parses ClockGenesis.
func (o OracleConfig) Genesis() (time.Time, error) {
	return time.Parse(time.RFC3339, o.ClockGenesis)
}

type LedgerConfig struct {
	Window     int64  `mapstructure:"LCR_LEDGER_WINDOW"`
	Spacing    int64  `mapstructure:"LCR_LEDGER_SPACING"`
	MinSamples uint64 `mapstructure:"LCR_LEDGER_MIN_SAMPLES"`
}

// Params converts the ledger section into history parameters.
func (l LedgerConfig) Params() pricehistory.Params {
	return pricehistory.Params{Window: l.Window, Spacing: l.Spacing, MinSamples: l.MinSamples}
}

type KeeperConfig struct {
	Enabled         bool          `mapstructure:"LCR_KEEPER_ENABLED"`
	Address         string        `mapstructure:"LCR_KEEPER_ADDRESS"`
	SampleInterval  time.Duration `mapstructure:"LCR_KEEPER_SAMPLE_INTERVAL"`
	PenaltyInterval time.Duration `mapstructure:"LCR_KEEPER_PENALTY_INTERVAL"`
}

// Keeper parses the keeper's account address.
func (k KeeperConfig) Keeper() (address.Address, error) {
	if k.Address == "" {
		return address.FromSeed("keeper"), nil
	}
	return address.Parse(k.Address)
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"LCR_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"LCR_CORS_ALLOWED_ORIGINS"`
	RequireSignatures  bool     `mapstructure:"LCR_REQUIRE_SIGNATURES"`

	// SignatureMaxTTL caps how far ahead a signed request may expire.
	SignatureMaxTTL time.Duration `mapstructure:"LCR_SIGNATURE_MAX_TTL"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LCR_ENV", "dev")
	v.SetDefault("LCR_HTTP_ADDR", ":8080")
	v.SetDefault("LCR_PUBLIC_ORIGIN", "http://localhost:3000")
	v.SetDefault("LCR_GENESIS_PATH", "genesis.toml")
	v.SetDefault("LCR_KV_BACKEND", "memory")
	v.SetDefault("LCR_REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("LCR_KV_FALLBACK_TO_MEMORY", true)
	v.SetDefault("LCR_KV_JANITOR_INTERVAL", "1m")
	v.SetDefault("LCR_POSTGRES_DSN", "")
	v.SetDefault("LCR_ORACLE_PROVIDER", "mock")
	v.SetDefault("LCR_ORACLE_REFRESH_INTERVAL", "2s")
	v.SetDefault("LCR_ORACLE_RETRY_INTERVAL", "5s")
	v.SetDefault("LCR_ORACLE_MAX_STALE_SLOTS", 25)
	v.SetDefault("LCR_ORACLE_SLOT_DURATION", "400ms")
	v.SetDefault("LCR_ORACLE_MOCK_VOLATILITY", 0.002)
	v.SetDefault("LCR_ORACLE_QUOTE_TTL", "30s")
	v.SetDefault("LCR_CLOCK_GENESIS", "2024-01-01T00:00:00Z")
	v.SetDefault("LCR_LEDGER_WINDOW", 86_400)
	v.SetDefault("LCR_LEDGER_SPACING", 3_600)
	v.SetDefault("LCR_LEDGER_MIN_SAMPLES", 12)
	v.SetDefault("LCR_KEEPER_ENABLED", true)
	v.SetDefault("LCR_KEEPER_ADDRESS", "")
	v.SetDefault("LCR_KEEPER_SAMPLE_INTERVAL", "1h")
	v.SetDefault("LCR_KEEPER_PENALTY_INTERVAL", "10m")
	v.SetDefault("LCR_RATE_LIMIT_RPM", 120)
	v.SetDefault("LCR_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("LCR_REQUIRE_SIGNATURES", false)
	v.SetDefault("LCR_SIGNATURE_MAX_TTL", "5m")
}

func Load() (*Config, error) {
	loadDotEnvFiles()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// Handle array parsing for comma-separated values
	if origins := v.GetString("LCR_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("LCR_CORS_ALLOWED_ORIGINS", strings.Split(origins, ","))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.KV.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid LCR_KV_BACKEND %q (must be memory or redis)", c.KV.Backend)
	}
	if c.KV.Backend == "redis" && c.KV.RedisURL == "" {
		return fmt.Errorf("LCR_REDIS_URL is required for the redis backend")
	}
	switch c.Oracle.Provider {
	case "mock", "binance":
	default:
		return fmt.Errorf("invalid LCR_ORACLE_PROVIDER %q (must be mock or binance)", c.Oracle.Provider)
	}
	if c.Oracle.RefreshInterval <= 0 {
		return fmt.Errorf("LCR_ORACLE_REFRESH_INTERVAL must be positive")
	}
	if c.Oracle.SlotDuration <= 0 {
		return fmt.Errorf("LCR_ORACLE_SLOT_DURATION must be positive")
	}
	if _, err := c.Oracle.Genesis(); err != nil {
		return fmt.Errorf("invalid LCR_CLOCK_GENESIS: %w", err)
	}
	if c.Ledger.Window <= 0 || c.Ledger.Spacing <= 0 {
		return fmt.Errorf("LCR_LEDGER_WINDOW and LCR_LEDGER_SPACING must be positive")
	}
	if c.Ledger.Spacing > c.Ledger.Window {
		return fmt.Errorf("LCR_LEDGER_SPACING (%d) exceeds LCR_LEDGER_WINDOW (%d)", c.Ledger.Spacing, c.Ledger.Window)
	}
	if _, err := c.Keeper.Keeper(); err != nil {
		return fmt.Errorf("invalid LCR_KEEPER_ADDRESS: %w", err)
	}
	if c.Security.RateLimitRPM < 0 {
		return fmt.Errorf("LCR_RATE_LIMIT_RPM must not be negative")
	}
	if c.Security.SignatureMaxTTL <= 0 {
		return fmt.Errorf("LCR_SIGNATURE_MAX_TTL must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
