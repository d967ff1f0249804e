// Package synclayer turns a possibly out-of-order, snapshot-preceded stream
// of depth updates into a strictly ordered sequence of safely-applicable
// updates, buffering premature updates and detecting gaps that require a
// fresh snapshot.
package synclayer

import (
	"log"
	"os"

	"github.com/gammazero/deque"
	"github.com/driftwood-labs/depthsync/market"
	"github.com/driftwood-labs/depthsync/orderbook"
)

var logger = log.New(os.Stdout, "[sync] ", log.LstdFlags)

// State is the Sync Layer's current tagged state.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingSnapshot
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingSnapshot:
		return "awaiting_snapshot"
	case StateSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// Gap is the one-shot signal delivered toward the Recovery Coordinator when
// continuity is lost or a snapshot fails to align with buffered updates.
type Gap struct {
	Symbol                market.Symbol
	LastAppliedID         uint64
	ObservedFirstUpdateID uint64
}

// OutcomeKind classifies the result of pushing an update into the layer.
type OutcomeKind int

const (
	// OutcomeDiscarded: the update is already reflected in LastAppliedID.
	OutcomeDiscarded OutcomeKind = iota
	// OutcomeBuffered: the update was queued, pending snapshot alignment.
	OutcomeBuffered
	// OutcomeReady: the update is safe to apply to the workspace now.
	OutcomeReady
	// OutcomeGap: a discontinuity was detected; recovery should be requested.
	OutcomeGap
)

// Outcome is the result of Push.
type Outcome struct {
	Kind   OutcomeKind
	Update orderbook.Update
	Gap    *Gap
}

// Drain is the result of SetSnapshot: zero or more updates that are now
// safe to apply, in order, and/or a Gap if the snapshot failed to align
// with what was buffered.
type Drain struct {
	Updates []orderbook.Update
	Gap     *Gap
}

// Layer is the Sync Layer state machine described in the component design.
// It is not safe for concurrent use: it is owned and driven exclusively by
// the Publication Engine.
type Layer struct {
	symbol   market.Symbol
	capacity int

	state         State
	lastAppliedID uint64
	buf           deque.Deque[orderbook.Update]
	gapSignaled   bool

	overflowCount int
}

// New returns a Layer in the Uninitialized state with the given pre-sync
// buffer capacity.
func New(symbol market.Symbol, capacity int) *Layer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Layer{symbol: symbol, capacity: capacity, state: StateUninitialized}
}

// State returns the layer's current tagged state.
func (l *Layer) State() State { return l.state }

// LastAppliedID returns the monotonic watermark and whether the layer is
// currently Synced.
func (l *Layer) LastAppliedID() (uint64, bool) {
	return l.lastAppliedID, l.state == StateSynced
}

// BufferLen reports how many updates are currently queued, pending
// snapshot alignment.
func (l *Layer) BufferLen() int { return l.buf.Len() }

// OverflowCount reports how many times the pre-sync buffer has dropped the
// oldest entry to make room for a new one.
func (l *Layer) OverflowCount() int { return l.overflowCount }

// Push feeds one incoming update into the state machine.
func (l *Layer) Push(u orderbook.Update) Outcome {
	switch l.state {
	case StateUninitialized, StateAwaitingSnapshot:
		return l.bufferAndMaybeGap(u)
	case StateSynced:
		return l.pushSynced(u)
	default:
		panic("synclayer: unreachable state")
	}
}

func (l *Layer) pushSynced(u orderbook.Update) Outcome {
	if u.FinalUpdateID <= l.lastAppliedID {
		return Outcome{Kind: OutcomeDiscarded}
	}

	if u.FirstUpdateID <= l.lastAppliedID+1 {
		l.lastAppliedID = u.FinalUpdateID
		return Outcome{Kind: OutcomeReady, Update: u}
	}

	gap := Gap{Symbol: l.symbol, LastAppliedID: l.lastAppliedID, ObservedFirstUpdateID: u.FirstUpdateID}
	l.state = StateAwaitingSnapshot
	l.gapSignaled = true
	logger.Printf("gap detected for %s: last_applied=%d observed_first=%d", l.symbol, gap.LastAppliedID, gap.ObservedFirstUpdateID)

	// The update itself can't be applied yet, but it may still be useful
	// once a fresh snapshot lands, so it joins the pre-sync buffer.
	l.pushBuffer(u)

	return Outcome{Kind: OutcomeGap, Gap: &gap}
}

func (l *Layer) bufferAndMaybeGap(u orderbook.Update) Outcome {
	overflowed := l.pushBuffer(u)
	if !overflowed {
		return Outcome{Kind: OutcomeBuffered}
	}

	l.overflowCount++
	if l.state == StateUninitialized {
		// No watermark exists yet to measure a gap against; just log.
		logger.Printf("pre-sync buffer overflow for %s, oldest update dropped", l.symbol)
		return Outcome{Kind: OutcomeBuffered}
	}

	if l.gapSignaled {
		return Outcome{Kind: OutcomeBuffered}
	}

	l.gapSignaled = true
	gap := Gap{Symbol: l.symbol, LastAppliedID: l.lastAppliedID, ObservedFirstUpdateID: u.FirstUpdateID}
	logger.Printf("buffer overflow forced a gap for %s", l.symbol)
	return Outcome{Kind: OutcomeGap, Gap: &gap}
}

func (l *Layer) pushBuffer(u orderbook.Update) (overflowed bool) {
	if l.buf.Len() >= l.capacity {
		l.buf.PopFront()
		overflowed = true
	}
	l.buf.PushBack(u)
	return overflowed
}

func (l *Layer) drainAll() []orderbook.Update {
	out := make([]orderbook.Update, 0, l.buf.Len())
	for l.buf.Len() > 0 {
		out = append(out, l.buf.PopFront())
	}
	return out
}

// SetSnapshot aligns the layer to a freshly fetched Snapshot: it discards
// buffered updates already reflected in the snapshot, locates the first
// buffered update that overlaps the snapshot's watermark, and drains the
// contiguous chain of updates starting there. The Sync Layer is considered
// re-initialized by this call.
func (l *Layer) SetSnapshot(s orderbook.Snapshot) Drain {
	buffered := l.drainAll()

	var kept []orderbook.Update
	for _, u := range buffered {
		if u.FinalUpdateID > s.LastUpdateID {
			kept = append(kept, u)
		}
	}

	alignIdx := -1
	for i, u := range kept {
		if u.FirstUpdateID <= s.LastUpdateID+1 && s.LastUpdateID+1 <= u.FinalUpdateID {
			alignIdx = i
			break
		}
	}

	l.gapSignaled = false

	if alignIdx == -1 {
		l.lastAppliedID = s.LastUpdateID
		l.state = StateSynced

		if len(kept) == 0 {
			return Drain{}
		}

		// The snapshot is older than every buffered update: re-buffer
		// them so the next snapshot attempt gets another chance to align,
		// and signal a gap so a fresh snapshot gets fetched.
		for _, u := range kept {
			l.buf.PushBack(u)
		}
		l.state = StateAwaitingSnapshot
		l.gapSignaled = true
		gap := Gap{Symbol: l.symbol, LastAppliedID: s.LastUpdateID, ObservedFirstUpdateID: kept[0].FirstUpdateID}
		logger.Printf("stale snapshot for %s: last_update_id=%d earliest_buffered_first=%d", l.symbol, s.LastUpdateID, kept[0].FirstUpdateID)
		return Drain{Gap: &gap}
	}

	l.state = StateSynced
	cur := s.LastUpdateID
	var drained []orderbook.Update
	for i := alignIdx; i < len(kept); i++ {
		u := kept[i]
		if u.FirstUpdateID > cur+1 {
			break
		}
		drained = append(drained, u)
		if u.FinalUpdateID > cur {
			cur = u.FinalUpdateID
		}
	}
	l.lastAppliedID = cur

	return Drain{Updates: drained}
}
