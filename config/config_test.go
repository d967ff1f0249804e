package config

import (
	"testing"

	"github.com/driftwood-labs/depthsync/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DEPTHSYNC_SYMBOL", "DEPTHSYNC_SNAPSHOT_DEPTH", "DEPTHSYNC_BUFFER_CAPACITY",
		"DEPTHSYNC_FETCH_TIMEOUT", "DEPTHSYNC_PUBLISH_MODE",
		"BINANCE_REST_ENDPOINT", "BINANCE_WS_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_RequiresSymbol(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEPTHSYNC_SYMBOL", "btc_usdt")
	t.Setenv("DEPTHSYNC_PUBLISH_MODE", "coalesced")
	t.Setenv("DEPTHSYNC_SNAPSHOT_DEPTH", "500")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "btc", cfg.Symbol.Base)
	assert.Equal(t, "usdt", cfg.Symbol.Quote)
	assert.Equal(t, 500, cfg.SnapshotDepth)
	assert.Equal(t, engine.PublishCoalesced, cfg.PublishMode)
	assert.Equal(t, 1024, cfg.BufferCapacity, "unset options fall back to defaults")
}

func TestLoad_RejectsInvalidPublishMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEPTHSYNC_SYMBOL", "btc_usdt")
	t.Setenv("DEPTHSYNC_PUBLISH_MODE", "bogus")

	_, err := Load("")
	assert.Error(t, err)
}
