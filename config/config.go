// Package config loads the small set of options the engine recognizes
// from the environment, with optional .env support the way the reference
// implementation's tests load theirs.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/driftwood-labs/depthsync/engine"
	"github.com/driftwood-labs/depthsync/market"
)

var logger = log.New(os.Stdout, "[config] ", log.LstdFlags)

// Config is the full set of options the engine and its collaborators
// recognize.
type Config struct {
	// Symbol is the instrument the engine owns.
	Symbol market.Symbol
	// SnapshotDepth is the REST depth level to request.
	SnapshotDepth int
	// BufferCapacity bounds the Sync Layer's pre-sync/awaiting buffer.
	BufferCapacity int
	// FetchTimeout is the per-attempt snapshot fetch deadline.
	FetchTimeout time.Duration
	// PublishMode is per_update or coalesced.
	PublishMode engine.PublishMode

	BinanceRESTEndpoint string
	BinanceWSEndpoint   string
}

// Default returns sensible defaults matching the spec's suggested values.
func Default() Config {
	return Config{
		SnapshotDepth:       1000,
		BufferCapacity:      1024,
		FetchTimeout:        10 * time.Second,
		PublishMode:         engine.PublishPerUpdate,
		BinanceRESTEndpoint: "https://api.binance.com",
		BinanceWSEndpoint:   "wss://stream.binance.com:9443/stream",
	}
}

// Load reads configuration from the process environment, optionally
// preceded by a .env file at envPath (pass "" to skip). Unset variables
// fall back to Default's values.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			logger.Printf("no .env file loaded from %s: %s", envPath, err)
		}
	}

	cfg := Default()

	symbolStr := os.Getenv("DEPTHSYNC_SYMBOL")
	if symbolStr == "" {
		return Config{}, fmt.Errorf("config: DEPTHSYNC_SYMBOL is required, e.g. btc_usdt")
	}
	symbol, err := market.FromString(symbolStr)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Symbol = symbol

	if v := os.Getenv("DEPTHSYNC_SNAPSHOT_DEPTH"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid DEPTHSYNC_SNAPSHOT_DEPTH: %w", err)
		}
		cfg.SnapshotDepth = depth
	}

	if v := os.Getenv("DEPTHSYNC_BUFFER_CAPACITY"); v != "" {
		cap, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid DEPTHSYNC_BUFFER_CAPACITY: %w", err)
		}
		cfg.BufferCapacity = cap
	}

	if v := os.Getenv("DEPTHSYNC_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid DEPTHSYNC_FETCH_TIMEOUT: %w", err)
		}
		cfg.FetchTimeout = d
	}

	if v := os.Getenv("DEPTHSYNC_PUBLISH_MODE"); v != "" {
		switch v {
		case "per_update":
			cfg.PublishMode = engine.PublishPerUpdate
		case "coalesced":
			cfg.PublishMode = engine.PublishCoalesced
		default:
			return Config{}, fmt.Errorf("config: invalid DEPTHSYNC_PUBLISH_MODE %q, want per_update or coalesced", v)
		}
	}

	if v := os.Getenv("BINANCE_REST_ENDPOINT"); v != "" {
		cfg.BinanceRESTEndpoint = v
	}
	if v := os.Getenv("BINANCE_WS_ENDPOINT"); v != "" {
		cfg.BinanceWSEndpoint = v
	}

	return cfg, nil
}
