package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tonsentry/tonsentry/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	// Ensure clean env
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("STATE_BACKEND", "")
	t.Setenv("STATE_PATH", "")
	t.Setenv("TON_NETWORK", "")
	t.Setenv("TON_ENDPOINT", "")
	t.Setenv("POLL_SECONDS", "")
	t.Setenv("FACILITATOR_FAIL_OPEN", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "file", cfg.StateBackend)
	assert.Equal(t, "testnet", cfg.Network)
	assert.Contains(t, cfg.TonEndpoint, "testnet")
	assert.Equal(t, 15, cfg.PollSeconds)
	assert.False(t, cfg.FailOpen)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STATE_BACKEND", "sqlite")
	t.Setenv("STATE_PATH", "/var/lib/tonsentry")
	t.Setenv("TON_NETWORK", "mainnet")
	t.Setenv("TON_ENDPOINT", "https://toncenter.com/api/v2")
	t.Setenv("CONTRACT_ADDRESS", "EQcontract")
	t.Setenv("OWNER_ID", "alice")
	t.Setenv("FACILITATOR_URL", "https://facilitator.example/decide")
	t.Setenv("ENVELOPE_DB_URL", "postgres://sentry@db/sentry")
	t.Setenv("POLL_SECONDS", "5")
	t.Setenv("FACILITATOR_FAIL_OPEN", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.StateBackend)
	assert.Equal(t, "/var/lib/tonsentry", cfg.StatePath)
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, "https://toncenter.com/api/v2", cfg.TonEndpoint)
	assert.Equal(t, "EQcontract", cfg.ContractAddr)
	assert.Equal(t, "alice", cfg.OwnerID)
	assert.Equal(t, "https://facilitator.example/decide", cfg.FacilitatorURL)
	assert.Equal(t, "postgres://sentry@db/sentry", cfg.EnvelopeDB)
	assert.Equal(t, 5, cfg.PollSeconds)
	assert.True(t, cfg.FailOpen)
}

// TestLoad_BadPollSeconds falls back to the default on unparseable input.
func TestLoad_BadPollSeconds(t *testing.T) {
	t.Setenv("POLL_SECONDS", "soon")
	assert.Equal(t, 15, config.Load().PollSeconds)

	t.Setenv("POLL_SECONDS", "-3")
	assert.Equal(t, 15, config.Load().PollSeconds)
}
