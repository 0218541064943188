package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, map[string]int32{"usdc": 6}, cfg.Markets.Collateral)
	assert.True(t, cfg.Markets.ValidityBond.IsZero())
	assert.Equal(t, 24*time.Hour, cfg.Markets.DefaultChallengePeriod)
	assert.Equal(t, 2*time.Second, cfg.Settlement.PollInterval)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.Security.CORSAllowedOrigins)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AMM_ENV", "PROD")
	t.Setenv("AMM_DB_TYPE", "sqlite")
	t.Setenv("AMM_DB_DSN", "/tmp/amm.db")
	t.Setenv("AMM_COLLATERAL_TOKENS", "usdc.near:6, wnear.near:24")
	t.Setenv("AMM_VALIDITY_BOND", "1000000")
	t.Setenv("AMM_GOVERNANCE_ACCOUNT", "gov.near")
	t.Setenv("AMM_ORACLE_ACCOUNT", "oracle.near")
	t.Setenv("AMM_CUSTODIAN_ACCOUNT", "custody.near")
	t.Setenv("AMM_ACCOUNT_PUBLIC_KEYS", "gov.near=02abcd, oracle.near=03ef01, custody.near=02beef")
	t.Setenv("AMM_TRANSFER_ENDPOINT", "http://ledger:9000")
	t.Setenv("AMM_SETTLEMENT_MAX_ATTEMPTS", "3")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, "/tmp/amm.db", cfg.Database.DSN)
	assert.Equal(t, map[string]int32{"usdc.near": 6, "wnear.near": 24}, cfg.Markets.Collateral)
	assert.Equal(t, "1000000", cfg.Markets.ValidityBond.String())
	assert.Equal(t, map[string]string{"gov.near": "02abcd", "oracle.near": "03ef01", "custody.near": "02beef"}, cfg.Roles.PublicKeys)
	assert.Equal(t, []string{"gov.near", "oracle.near", "custody.near"}, cfg.Roles.Privileged())
	assert.Equal(t, 3, cfg.Settlement.MaxAttempts)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad env", map[string]string{"AMM_ENV": "staging"}, "AMM_ENV"},
		{"unknown db", map[string]string{"AMM_DB_TYPE": "mysql"}, "AMM_DB_TYPE"},
		{"sqlite without path", map[string]string{"AMM_DB_TYPE": "sqlite"}, "AMM_DB_DSN"},
		{"collateral without decimals", map[string]string{"AMM_COLLATERAL_TOKENS": "usdc"}, "token:decimals"},
		{"collateral bad decimals", map[string]string{"AMM_COLLATERAL_TOKENS": "usdc:x"}, "invalid decimals"},
		{"fractional bond", map[string]string{"AMM_VALIDITY_BOND": "1.5"}, "AMM_VALIDITY_BOND"},
		{"negative challenge", map[string]string{"AMM_CHALLENGE_PERIOD": "-1h"}, "AMM_CHALLENGE_PERIOD"},
		{"prod without ledger", map[string]string{"AMM_ENV": "prod"}, "AMM_TRANSFER_ENDPOINT"},
		{"bad key pair", map[string]string{"AMM_ACCOUNT_PUBLIC_KEYS": "gov.near"}, "account=hexkey"},
		{"prod governance without key", map[string]string{
			"AMM_ENV":                "prod",
			"AMM_TRANSFER_ENDPOINT":  "http://ledger:9000",
			"AMM_GOVERNANCE_ACCOUNT": "gov.near",
		}, "needs a key for gov.near"},
		{"prod oracle without key", map[string]string{
			"AMM_ENV":                 "prod",
			"AMM_TRANSFER_ENDPOINT":   "http://ledger:9000",
			"AMM_GOVERNANCE_ACCOUNT":  "gov.near",
			"AMM_ORACLE_ACCOUNT":      "oracle.near",
			"AMM_ACCOUNT_PUBLIC_KEYS": "gov.near=02abcd",
		}, "needs a key for oracle.near"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := load(viper.New())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
