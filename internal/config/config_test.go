package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adacracker/MintTrail/internal/trace"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "minttrail-config-*.yaml")
	require.NoError(t, err)
	_, err = tmpFile.WriteString(body)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	yaml := `
general:
  instance_id: "test-node"
  environment: "staging"
  log_level: "debug"
  log_format: "text"

server:
  addr: ":8080"
  trust_proxy: true
  max_body_bytes: 1024

blockfrost:
  base_url: "https://cardano-preprod.blockfrost.io/api/v0"
  project_id: "preprodABC"
  max_attempts: 5
  base_backoff: 500ms

rate_limit:
  window: 30s
  max_requests: 3

trace:
  next_tx_lookahead: 8
  known_tokens:
    - symbol: "WMT"
      asset_id: "1d7f33bd23d85e1a25d87d86fac4f199c3197a2f7afeb662a0f34e1e776f726c646d6f62696c65746f6b656e"

bundle:
  analyzer:
    history_count: 100
    max_inspected_txs: 40
    use_address_listing: true
  scorer:
    extreme_score: 70
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "staging", cfg.General.Environment)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, int64(1024), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "preprodABC", cfg.Blockfrost.ProjectID)
	assert.Equal(t, 5, cfg.Blockfrost.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Blockfrost.BaseBackoff)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 3, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 8, cfg.Trace.NextTxLookahead)
	require.Len(t, cfg.Trace.KnownTokens, 1)
	assert.Equal(t, "WMT", cfg.Trace.KnownTokens[0].Symbol)
	assert.Equal(t, 100, cfg.Bundle.Analyzer.HistoryCount)
	assert.True(t, cfg.Bundle.Analyzer.UseAddressListing)

	// Scorer keys not in the file keep their defaults.
	assert.Equal(t, 70, cfg.Bundle.Scorer.ExtremeScore)
	assert.Equal(t, 40, cfg.Bundle.Scorer.HighScore)
	assert.Equal(t, 80.0, cfg.Bundle.Scorer.ExtremeShare)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(ProjectIDEnv, "")

	cfg, err := Load(writeConfig(t, "general:\n  log_level: warn\n"))
	require.NoError(t, err)

	assert.Equal(t, "minttrail-1", cfg.General.InstanceID)
	assert.Equal(t, "warn", cfg.General.LogLevel)
	assert.Equal(t, "json", cfg.General.LogFormat)
	assert.Equal(t, ":3001", cfg.Server.Addr)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "https://cardano-mainnet.blockfrost.io/api/v0", cfg.Blockfrost.BaseURL)
	assert.Equal(t, 3, cfg.Blockfrost.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Blockfrost.BaseBackoff)
	assert.Equal(t, 4*time.Second, cfg.Blockfrost.MaxBackoff)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 5, cfg.Trace.NextTxLookahead)
	assert.Equal(t, 50, cfg.Bundle.Analyzer.HistoryCount)
	assert.Equal(t, 20, cfg.Bundle.Analyzer.MaxInspectedTxs)
	assert.Equal(t, 100*time.Millisecond, cfg.Bundle.Analyzer.PacingDelay)
	assert.Equal(t, 35, cfg.Bundle.Scorer.LimitedDataScore)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("TEST_MINTTRAIL_INSTANCE", "env-node")

	cfg, err := Load(writeConfig(t, `
general:
  instance_id: "${TEST_MINTTRAIL_INSTANCE}"
`))
	require.NoError(t, err)
	assert.Equal(t, "env-node", cfg.General.InstanceID)
}

func TestLoadConfigProjectIDFromEnv(t *testing.T) {
	t.Setenv(ProjectIDEnv, "mainnetFROMENV")

	cfg, err := Load(writeConfig(t, "general: {}\n"))
	require.NoError(t, err)
	assert.Equal(t, "mainnetFROMENV", cfg.Blockfrost.ProjectID)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/minttrail.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults ok", func(*Config) {}, ""},
		{"bad log format", func(c *Config) { c.General.LogFormat = "xml" }, "log_format"},
		{"zero attempts", func(c *Config) { c.Blockfrost.MaxAttempts = 0 }, "max_attempts"},
		{"inspect beyond history", func(c *Config) { c.Bundle.Analyzer.MaxInspectedTxs = 60 }, "exceeds history_count"},
		{"band order", func(c *Config) { c.Bundle.Scorer.HighShare = 90 }, "extreme > high > medium"},
		{"short known token", func(c *Config) {
			c.Trace.KnownTokens = append(c.Trace.KnownTokens, trace.KnownToken{Symbol: "X", AssetID: "abc"})
		}, "known_tokens[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
