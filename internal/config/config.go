package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env      string `mapstructure:"AMM_ENV"`
	LogLevel string `mapstructure:"AMM_LOG_LEVEL"`
	HTTPAddr string `mapstructure:"AMM_HTTP_ADDR"`

	Database   DBConfig         `mapstructure:",squash"`
	Cache      CacheConfig      `mapstructure:",squash"`
	Markets    MarketConfig     `mapstructure:",squash"`
	Roles      RoleConfig       `mapstructure:",squash"`
	Settlement SettlementConfig `mapstructure:",squash"`
	Security   SecurityConfig   `mapstructure:",squash"`
}

type DBConfig struct {
	Type     string `mapstructure:"AMM_DB_TYPE"` // "memory", "sqlite", "postgres"
	DSN      string `mapstructure:"AMM_DB_DSN"`
	MaxConns int    `mapstructure:"AMM_DB_MAX_CONNS"`
	MinConns int    `mapstructure:"AMM_DB_MIN_CONNS"`
}

type CacheConfig struct {
	RedisAddr string `mapstructure:"AMM_REDIS_ADDR"`
}

type MarketConfig struct {
	// token:decimals pairs, e.g. "usdc.near:6,wnear.near:24"
	CollateralRaw          string        `mapstructure:"AMM_COLLATERAL_TOKENS"`
	ValidityBondRaw        string        `mapstructure:"AMM_VALIDITY_BOND"`
	DefaultChallengePeriod time.Duration `mapstructure:"AMM_CHALLENGE_PERIOD"`

	Collateral   map[string]int32 `mapstructure:"-"`
	ValidityBond decimal.Decimal  `mapstructure:"-"`
}

type RoleConfig struct {
	Governance string `mapstructure:"AMM_GOVERNANCE_ACCOUNT"`
	Oracle     string `mapstructure:"AMM_ORACLE_ACCOUNT"`
	Treasury   string `mapstructure:"AMM_TREASURY_ACCOUNT"`
	Custodian  string `mapstructure:"AMM_CUSTODIAN_ACCOUNT"`
	// account=hexpubkey pairs; requests from these accounts must be signed
	PublicKeysRaw string `mapstructure:"AMM_ACCOUNT_PUBLIC_KEYS"`

	PublicKeys map[string]string `mapstructure:"-"`
}

type SettlementConfig struct {
	Endpoint     string        `mapstructure:"AMM_TRANSFER_ENDPOINT"`
	PollInterval time.Duration `mapstructure:"AMM_SETTLEMENT_POLL_INTERVAL"`
	BatchSize    int           `mapstructure:"AMM_SETTLEMENT_BATCH_SIZE"`
	MaxAttempts  int           `mapstructure:"AMM_SETTLEMENT_MAX_ATTEMPTS"`
	BackoffBase  time.Duration `mapstructure:"AMM_SETTLEMENT_BACKOFF_BASE"`
	BackoffMax   time.Duration `mapstructure:"AMM_SETTLEMENT_BACKOFF_MAX"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"AMM_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"AMM_CORS_ALLOWED_ORIGINS"`
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
			_ = gotenv.Load(path) // variables already set win
		}
	}
}

// Load reads configuration from the environment and any .env file.
func Load() (*Config, error) {
	loadDotEnvFiles()
	return load(viper.New())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("AMM_ENV", "dev")
	v.SetDefault("AMM_LOG_LEVEL", "")
	v.SetDefault("AMM_HTTP_ADDR", ":8080")
	v.SetDefault("AMM_DB_TYPE", "memory")
	v.SetDefault("AMM_DB_DSN", "")
	v.SetDefault("AMM_DB_MAX_CONNS", 10)
	v.SetDefault("AMM_DB_MIN_CONNS", 1)
	v.SetDefault("AMM_REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("AMM_COLLATERAL_TOKENS", "usdc:6")
	v.SetDefault("AMM_VALIDITY_BOND", "0")
	v.SetDefault("AMM_CHALLENGE_PERIOD", "24h")
	v.SetDefault("AMM_GOVERNANCE_ACCOUNT", "governance")
	v.SetDefault("AMM_ORACLE_ACCOUNT", "oracle")
	v.SetDefault("AMM_TREASURY_ACCOUNT", "")
	v.SetDefault("AMM_CUSTODIAN_ACCOUNT", "custodian")
	v.SetDefault("AMM_ACCOUNT_PUBLIC_KEYS", "")
	v.SetDefault("AMM_TRANSFER_ENDPOINT", "")
	v.SetDefault("AMM_SETTLEMENT_POLL_INTERVAL", "2s")
	v.SetDefault("AMM_SETTLEMENT_BATCH_SIZE", 64)
	v.SetDefault("AMM_SETTLEMENT_MAX_ATTEMPTS", 10)
	v.SetDefault("AMM_SETTLEMENT_BACKOFF_BASE", "1s")
	v.SetDefault("AMM_SETTLEMENT_BACKOFF_MAX", "5m")
	v.SetDefault("AMM_RATE_LIMIT_RPM", 120)
	v.SetDefault("AMM_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// comma-separated lists
	if origins := v.GetString("AMM_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("AMM_CORS_ALLOWED_ORIGINS", splitList(origins))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) parse() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.Database.Type = strings.ToLower(strings.TrimSpace(c.Database.Type))

	c.Markets.Collateral = make(map[string]int32)
	for _, pair := range splitList(c.Markets.CollateralRaw) {
		token, decimals, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("AMM_COLLATERAL_TOKENS entry %q must be token:decimals", pair)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(decimals), 10, 32)
		if err != nil || n < 0 || n > 38 {
			return fmt.Errorf("AMM_COLLATERAL_TOKENS entry %q has invalid decimals", pair)
		}
		c.Markets.Collateral[strings.TrimSpace(token)] = int32(n)
	}

	bond, err := decimal.NewFromString(strings.TrimSpace(c.Markets.ValidityBondRaw))
	if err != nil {
		return fmt.Errorf("AMM_VALIDITY_BOND: %w", err)
	}
	c.Markets.ValidityBond = bond

	c.Roles.PublicKeys = make(map[string]string)
	for _, pair := range splitList(c.Roles.PublicKeysRaw) {
		account, key, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("AMM_ACCOUNT_PUBLIC_KEYS entry %q must be account=hexkey", pair)
		}
		c.Roles.PublicKeys[strings.TrimSpace(account)] = strings.TrimSpace(key)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("invalid AMM_ENV %q (must be dev, test, or prod)", c.Env)
	}
	switch c.Database.Type {
	case "memory":
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("AMM_DB_DSN is required for %s", c.Database.Type)
		}
	default:
		return fmt.Errorf("invalid AMM_DB_TYPE %q (must be memory, sqlite, or postgres)", c.Database.Type)
	}
	if len(c.Markets.Collateral) == 0 {
		return fmt.Errorf("AMM_COLLATERAL_TOKENS must list at least one token")
	}
	if c.Markets.ValidityBond.IsNegative() || !c.Markets.ValidityBond.Equal(c.Markets.ValidityBond.Floor()) {
		return fmt.Errorf("AMM_VALIDITY_BOND must be a non-negative integer")
	}
	if c.Markets.DefaultChallengePeriod < 0 {
		return fmt.Errorf("AMM_CHALLENGE_PERIOD must not be negative")
	}
	if c.Roles.Governance == "" {
		return fmt.Errorf("AMM_GOVERNANCE_ACCOUNT is required")
	}
	if c.Roles.Oracle == "" {
		return fmt.Errorf("AMM_ORACLE_ACCOUNT is required")
	}
	if c.IsProd() && c.Settlement.Endpoint == "" {
		return fmt.Errorf("AMM_TRANSFER_ENDPOINT is required in prod")
	}
	if c.IsProd() {
		if c.Roles.Custodian == "" {
			return fmt.Errorf("AMM_CUSTODIAN_ACCOUNT is required in prod")
		}
		for _, account := range c.Roles.Privileged() {
			if c.Roles.PublicKeys[account] == "" {
				return fmt.Errorf("AMM_ACCOUNT_PUBLIC_KEYS needs a key for %s in prod", account)
			}
		}
	}
	if c.Security.RateLimitRPM <= 0 {
		return fmt.Errorf("AMM_RATE_LIMIT_RPM must be positive")
	}
	return nil
}

// Privileged lists the role accounts that must sign their requests.
func (r RoleConfig) Privileged() []string {
	var out []string
	for _, account := range []string{r.Governance, r.Oracle, r.Custodian} {
		if account != "" {
			out = append(out, account)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
