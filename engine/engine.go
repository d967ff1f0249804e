// Package engine implements the Publication Engine: the single writer that
// owns the workspace order book and the Sync Layer, applies ready updates,
// and atomically publishes an immutable snapshot handle after each batch.
package engine

import (
	"context"
	"log"
	"os"

	"github.com/driftwood-labs/depthsync/market"
	"github.com/driftwood-labs/depthsync/orderbook"
	"github.com/driftwood-labs/depthsync/synclayer"
)

var logger = log.New(os.Stdout, "[engine] ", log.LstdFlags)

// PublishMode selects how aggressively the engine clones and swaps the
// published Handle.
type PublishMode int

const (
	// PublishPerUpdate clones and publishes after every iteration that
	// mutated the workspace. Minimizes staleness.
	PublishPerUpdate PublishMode = iota
	// PublishCoalesced drains any updates that arrive while a publish is
	// being prepared and folds them into a single clone+swap. Amortizes
	// clone cost under bursty load.
	PublishCoalesced
)

// Config tunes the Publication Engine.
type Config struct {
	BufferCapacity int
	PublishMode    PublishMode
}

// Recorder observes engine events for metrics purposes. All methods must
// be safe to call from the engine's single goroutine; implementations
// typically just increment counters.
type Recorder interface {
	GapDetected()
	BufferOverflow()
	SnapshotApplied()
	UpdatesApplied(applied, malformed int)
	Published()
	CrossedBook()
}

type noopRecorder struct{}

func (noopRecorder) GapDetected()                       {}
func (noopRecorder) BufferOverflow()                    {}
func (noopRecorder) SnapshotApplied()                   {}
func (noopRecorder) UpdatesApplied(applied, malformed int) {}
func (noopRecorder) Published()                         {}
func (noopRecorder) CrossedBook()                       {}

// Requester is the narrow slice of recovery.Coordinator the engine depends
// on: a non-blocking way to ask for a fresh snapshot. A false return means
// the recovery path is gone (the coordinator is no longer running), which is fatal to the
// engine per the spec's error handling design.
type Requester interface {
	Request(symbol market.Symbol) bool
}

// Engine is the Publication Engine. It is not safe for concurrent use by
// multiple goroutines: Run must be called exactly once, from the goroutine
// that owns the workspace.
type Engine struct {
	symbol market.Symbol
	cfg    Config

	layer     *synclayer.Layer
	workspace *orderbook.Book
	handle    *Handle

	snapshots <-chan orderbook.Snapshot
	updates   <-chan orderbook.Update
	recovery  Requester
	recorder  Recorder
}

// New constructs a Publication Engine for symbol. snapshots and updates
// are the external collaborator channels described in the spec's external
// interfaces section; recovery is used to request a fresh snapshot when a
// gap is detected.
func New(
	symbol market.Symbol,
	cfg Config,
	snapshots <-chan orderbook.Snapshot,
	updates <-chan orderbook.Update,
	recovery Requester,
	recorder Recorder,
) *Engine {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Engine{
		symbol:    symbol,
		cfg:       cfg,
		layer:     synclayer.New(symbol, cfg.BufferCapacity),
		workspace: orderbook.New(),
		handle:    &Handle{},
		snapshots: snapshots,
		updates:   updates,
		recovery:  recovery,
		recorder:  recorder,
	}
}

// Published returns the read path: an atomically swappable handle to the
// most recently published, immutable order book.
func (e *Engine) Published() *Handle { return e.handle }

// Run drives the event loop until ctx is cancelled. The select among
// pending snapshot, pending update, and shutdown is biased toward the
// snapshot: a pending snapshot always drains the Sync Layer's buffer
// before another update is serviced, so a recovering book catches up in
// one pass instead of falling further behind.
func (e *Engine) Run(ctx context.Context) {
	for {
		// Non-blocking priority check: service a ready snapshot before
		// falling into the blocking three-way select below.
		select {
		case s, ok := <-e.snapshots:
			if !ok {
				e.publish()
				return
			}
			e.handleSnapshot(s)
			continue
		default:
		}

		select {
		case s, ok := <-e.snapshots:
			if !ok {
				e.publish()
				return
			}
			e.handleSnapshot(s)

		case u, ok := <-e.updates:
			if !ok {
				e.publish()
				return
			}
			e.handleUpdate(u)

		case <-ctx.Done():
			e.publish()
			return
		}
	}
}

func (e *Engine) handleSnapshot(s orderbook.Snapshot) {
	e.workspace = orderbook.FromSnapshot(s)
	drain := e.layer.SetSnapshot(s)

	for _, u := range drain.Updates {
		e.applyToWorkspace(u)
	}

	if drain.Gap != nil {
		e.recorder.GapDetected()
		logger.Printf("snapshot for %s failed to align with buffered updates, requesting another", e.symbol)
		e.requestRecovery()
	}

	e.recorder.SnapshotApplied()
	e.publish()
}

func (e *Engine) handleUpdate(u orderbook.Update) {
	overflowsBefore := e.layer.OverflowCount()
	outcome := e.layer.Push(u)

	switch outcome.Kind {
	case synclayer.OutcomeReady:
		e.applyToWorkspace(outcome.Update)
		if e.cfg.PublishMode == PublishCoalesced {
			e.drainCoalesced()
		} else {
			e.publish()
		}

	case synclayer.OutcomeGap:
		e.recorder.GapDetected()
		e.requestRecovery()

	case synclayer.OutcomeBuffered:
		if e.layer.OverflowCount() > overflowsBefore {
			e.recorder.BufferOverflow()
		}
	}
}

// drainCoalesced opportunistically applies any further updates that are
// already sitting in the channel before publishing, amortizing the clone
// cost of a burst. It never blocks: an empty channel ends the drain
// immediately.
func (e *Engine) drainCoalesced() {
	for {
		select {
		case u, ok := <-e.updates:
			if !ok {
				e.publish()
				return
			}
			outcome := e.layer.Push(u)
			switch outcome.Kind {
			case synclayer.OutcomeReady:
				e.applyToWorkspace(outcome.Update)
			case synclayer.OutcomeGap:
				e.recorder.GapDetected()
				e.requestRecovery()
				e.publish()
				return
			}
		default:
			e.publish()
			return
		}
	}
}

func (e *Engine) applyToWorkspace(u orderbook.Update) {
	applied, malformed := e.workspace.Apply(u)
	e.recorder.UpdatesApplied(applied, malformed)

	if e.workspace.IsCrossed() {
		e.recorder.CrossedBook()
		logger.Printf("crossed book detected for %s after applying update up to %d", e.symbol, u.FinalUpdateID)
	}
}

func (e *Engine) requestRecovery() {
	if !e.recovery.Request(e.symbol) {
		logger.Fatalf("recovery request channel closed for %s, shutting down", e.symbol)
	}
}

func (e *Engine) publish() {
	e.handle.store(e.workspace.Clone())
	e.recorder.Published()
}
