package recovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftwood-labs/depthsync/market"
	"github.com/driftwood-labs/depthsync/orderbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	failures  int32
	callCount atomic.Int32
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, symbol market.Symbol, depth int) (orderbook.Snapshot, error) {
	n := f.callCount.Add(1)
	if n <= f.failures {
		return orderbook.Snapshot{}, errors.New("simulated transport error")
	}
	return orderbook.Snapshot{LastUpdateID: uint64(n), Bids: nil, Asks: nil}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BackoffMin = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	cfg.FetchTimeout = time.Second
	return cfg
}

func TestCoordinator_FetchesOnRequest(t *testing.T) {
	symbol, _ := market.New("btc", "usdt")
	fetcher := &fakeFetcher{}
	c := New(fetcher, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Request(symbol)

	select {
	case snapshot := <-c.Results():
		assert.Equal(t, uint64(1), snapshot.LastUpdateID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func TestCoordinator_RetriesOnFailure(t *testing.T) {
	symbol, _ := market.New("btc", "usdt")
	fetcher := &fakeFetcher{failures: 2}
	c := New(fetcher, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Request(symbol)

	select {
	case snapshot := <-c.Results():
		assert.True(t, snapshot.LastUpdateID > 0)
		assert.GreaterOrEqual(t, fetcher.callCount.Load(), int32(3))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot after retries")
	}
}

func TestCoordinator_RequestCoalescesWhileQueued(t *testing.T) {
	symbol, _ := market.New("btc", "usdt")
	fetcher := &fakeFetcher{}
	c := New(fetcher, testConfig())

	ok1 := c.Request(symbol)
	ok2 := c.Request(symbol)

	require.True(t, ok1)
	require.True(t, ok2, "a second request while one is already queued must not block or fail")
}

func TestCoordinator_StopAbortsInFlightFetch(t *testing.T) {
	symbol, _ := market.New("btc", "usdt")
	fetcher := &fakeFetcher{failures: 1000}
	cfg := testConfig()
	cfg.BackoffMax = time.Minute
	c := New(fetcher, cfg)

	go c.Run(context.Background())
	c.Request(symbol)

	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not abort the in-flight fetch in time")
	}
}
