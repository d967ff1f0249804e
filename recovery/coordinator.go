// Package recovery decouples snapshot re-fetching -- slow, network-bound,
// possibly failing -- from the update-consumption path.
package recovery

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/jpillora/backoff"
	"github.com/driftwood-labs/depthsync/market"
	"github.com/driftwood-labs/depthsync/orderbook"
)

var logger = log.New(os.Stdout, "[recovery] ", log.LstdFlags)

// ErrShutdown is returned by fetchWithRetry when the coordinator's context
// is cancelled while a fetch attempt or its backoff sleep was in progress;
// Run then returns without delivering a snapshot.
var ErrShutdown = errors.New("recovery: shutdown requested")

// SnapshotFetcher is the inbound snapshot provider collaborator: a REST
// client able to fetch a fresh depth snapshot for a symbol.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, symbol market.Symbol, depth int) (orderbook.Snapshot, error)
}

// RefetchRequest asks the Coordinator to (re)fetch a snapshot.
type RefetchRequest struct {
	Symbol market.Symbol
}

// Config tunes the Coordinator's retry behaviour.
type Config struct {
	SnapshotDepth int
	FetchTimeout  time.Duration

	// BackoffMin/BackoffMax/BackoffFactor configure the exponential
	// backoff applied between failed attempts. Retries are unbounded in
	// count -- the stream is worthless without a snapshot -- but bounded
	// in per-attempt delay.
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	BackoffFactor float64
}

// DefaultConfig returns the spec's suggested backoff envelope: 100ms,
// 200ms, 400ms, ... capped at 5s, with a 10s per-attempt fetch timeout.
func DefaultConfig() Config {
	return Config{
		SnapshotDepth: 1000,
		FetchTimeout:  10 * time.Second,
		BackoffMin:    100 * time.Millisecond,
		BackoffMax:    5 * time.Second,
		BackoffFactor: 2,
	}
}

// Coordinator runs snapshot refetches on its own goroutine. At most one
// request waits while a fetch is running; further requests coalesce onto
// the waiting one.
type Coordinator struct {
	fetcher SnapshotFetcher
	cfg     Config

	requests chan RefetchRequest
	results  chan orderbook.Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Coordinator that will call fetcher to satisfy
// RefetchRequests. Call Run to start it and Stop to cancel any in-flight
// attempt and release resources.
func New(fetcher SnapshotFetcher, cfg Config) *Coordinator {
	return &Coordinator{
		fetcher: fetcher,
		cfg:     cfg,
		// Capacity 1: a full channel means a request is already pending,
		// so additional requests coalesce onto it for free. Run takes a
		// request off the channel before fetching, so one request made
		// during a fetch is queued and starts another fetch afterwards.
		requests: make(chan RefetchRequest, 1),
		results:  make(chan orderbook.Snapshot),
		done:     make(chan struct{}),
	}
}

// Results returns the channel fresh snapshots are delivered on.
func (c *Coordinator) Results() <-chan orderbook.Snapshot { return c.results }

// Request asks the coordinator to fetch a snapshot for symbol. It never
// blocks: if a request is already pending, this one is coalesced onto it.
// A request made while a fetch is running and none is pending is queued
// and triggers a further fetch once the current one finishes. Returns
// false once Run has returned (the coordinator has been stopped).
func (c *Coordinator) Request(symbol market.Symbol) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.requests <- RefetchRequest{Symbol: symbol}:
		return true
	default:
		return true // already in flight; the pending request covers this one
	}
}

// Run drives the coordinator until ctx is cancelled. It is meant to be
// started in its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.requests:
			snapshot, err := c.fetchWithRetry(ctx, req.Symbol)
			if err != nil {
				// Only ctx cancellation aborts fetchWithRetry early.
				return
			}
			select {
			case c.results <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop cancels any in-flight fetch and its backoff sleep, and waits for Run
// to return.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

func (c *Coordinator) fetchWithRetry(ctx context.Context, symbol market.Symbol) (orderbook.Snapshot, error) {
	b := &backoff.Backoff{
		Min:    c.cfg.BackoffMin,
		Max:    c.cfg.BackoffMax,
		Factor: c.cfg.BackoffFactor,
	}

	for {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		snapshot, err := c.fetcher.FetchSnapshot(attemptCtx, symbol, c.cfg.SnapshotDepth)
		cancel()

		if err == nil {
			b.Reset()
			return snapshot, nil
		}

		if ctx.Err() != nil {
			return orderbook.Snapshot{}, ErrShutdown
		}

		delay := b.Duration()
		logger.Printf("snapshot fetch failed for %s: %s, retrying in %s", symbol, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return orderbook.Snapshot{}, ErrShutdown
		}
	}
}
