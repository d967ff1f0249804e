// Command depthsyncd runs a single-symbol order book synchronization
// engine against Binance: it maintains a locally synced L2 book from a
// snapshot plus an incremental depth-diff stream, and exposes the result
// through an in-process handle and a Prometheus /metrics endpoint.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftwood-labs/depthsync/config"
	"github.com/driftwood-labs/depthsync/engine"
	"github.com/driftwood-labs/depthsync/metrics"
	"github.com/driftwood-labs/depthsync/provider/binance"
	"github.com/driftwood-labs/depthsync/recovery"
)

var logger = log.New(os.Stdout, "[depthsyncd] ", log.LstdFlags)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logger.Fatalf("loading config: %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncAPI := binance.NewSyncAPI(cfg.BinanceRESTEndpoint)

	streamClient := binance.NewStreamClient(cfg.BinanceWSEndpoint)
	if err := streamClient.Connect(); err != nil {
		logger.Fatalf("connecting to Binance stream: %s", err)
	}
	defer streamClient.Close()

	streamAPI := binance.NewStreamAPI(streamClient)
	updates, unsubscribe, err := streamAPI.DepthDiffStream(cfg.Symbol)
	if err != nil {
		logger.Fatalf("subscribing to depth stream for %s: %s", cfg.Symbol, err)
	}
	defer unsubscribe()

	recoveryCfg := recovery.DefaultConfig()
	recoveryCfg.SnapshotDepth = cfg.SnapshotDepth
	recoveryCfg.FetchTimeout = cfg.FetchTimeout
	coordinator := recovery.New(syncAPI, recoveryCfg)

	go coordinator.Run(ctx)
	defer coordinator.Stop()

	recorder := metrics.New(cfg.Symbol.String())
	go func() {
		if err := metrics.Serve(":9090", recorder); err != nil {
			logger.Printf("metrics server stopped: %s", err)
		}
	}()

	e := engine.New(
		cfg.Symbol,
		engine.Config{BufferCapacity: cfg.BufferCapacity, PublishMode: cfg.PublishMode},
		coordinator.Results(),
		updates,
		coordinator,
		recorder,
	)

	// Kick off the initial snapshot fetch; the engine starts in
	// synclayer.StateUninitialized and buffers every update until it
	// lands.
	coordinator.Request(cfg.Symbol)

	logger.Printf("starting depth sync for %s", cfg.Symbol)
	e.Run(ctx)
	logger.Printf("shutting down")
}
