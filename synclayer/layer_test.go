package synclayer

import (
	"testing"

	"github.com/driftwood-labs/depthsync/market"
	"github.com/driftwood-labs/depthsync/orderbook"
	"github.com/stretchr/testify/assert"
)

func testSymbol(t *testing.T) market.Symbol {
	s, err := market.New("btc", "usdt")
	assert.NoError(t, err)
	return s
}

func TestPreSnapshotBuffering(t *testing.T) {
	// Updates that arrive before any snapshot buffer until a snapshot
	// aligns with them.
	l := New(testSymbol(t), 16)

	out := l.Push(orderbook.Update{FirstUpdateID: 95, FinalUpdateID: 99})
	assert.Equal(t, OutcomeBuffered, out.Kind)

	out = l.Push(orderbook.Update{FirstUpdateID: 100, FinalUpdateID: 104})
	assert.Equal(t, OutcomeBuffered, out.Kind)

	drain := l.SetSnapshot(orderbook.Snapshot{LastUpdateID: 99})
	assert.Nil(t, drain.Gap)
	assert.Len(t, drain.Updates, 1)
	assert.Equal(t, uint64(104), drain.Updates[0].FinalUpdateID)

	last, synced := l.LastAppliedID()
	assert.True(t, synced)
	assert.Equal(t, uint64(104), last)
}

func TestGapDetectionWhileSynced(t *testing.T) {
	// An update whose FirstUpdateID skips past the synced watermark is a
	// gap: the layer drops back to awaiting a fresh snapshot.
	l := New(testSymbol(t), 16)
	l.SetSnapshot(orderbook.Snapshot{LastUpdateID: 200})

	out := l.Push(orderbook.Update{FirstUpdateID: 202, FinalUpdateID: 210})
	assert.Equal(t, OutcomeGap, out.Kind)
	assert.Equal(t, StateAwaitingSnapshot, l.State())
	assert.Equal(t, uint64(200), out.Gap.LastAppliedID)
	assert.Equal(t, uint64(202), out.Gap.ObservedFirstUpdateID)

	// Further updates are buffered, not applied, and the gap is coalesced.
	out = l.Push(orderbook.Update{FirstUpdateID: 211, FinalUpdateID: 215})
	assert.Equal(t, OutcomeBuffered, out.Kind)
}

func TestOverlapTolerance(t *testing.T) {
	// An update that overlaps the last applied ID but still covers it is
	// accepted, not treated as a gap or a discard.
	l := New(testSymbol(t), 16)
	l.SetSnapshot(orderbook.Snapshot{LastUpdateID: 300})

	out := l.Push(orderbook.Update{FirstUpdateID: 295, FinalUpdateID: 305})
	assert.Equal(t, OutcomeReady, out.Kind)

	last, synced := l.LastAppliedID()
	assert.True(t, synced)
	assert.Equal(t, uint64(305), last)
}

func TestStaleSnapshotWhileAwaiting(t *testing.T) {
	// A snapshot fetched in response to a gap can itself already be stale
	// by the time it arrives; the layer must re-signal the gap and keep
	// the buffered update for the next attempt rather than drop it.
	l := New(testSymbol(t), 16)
	l.SetSnapshot(orderbook.Snapshot{LastUpdateID: 200})
	l.Push(orderbook.Update{FirstUpdateID: 500, FinalUpdateID: 510}) // forces a gap, buffered

	drain := l.SetSnapshot(orderbook.Snapshot{LastUpdateID: 400})
	assert.NotNil(t, drain.Gap)
	assert.Equal(t, StateAwaitingSnapshot, l.State())
	assert.Empty(t, drain.Updates)

	// The buffered update is retained for the next snapshot attempt.
	drain = l.SetSnapshot(orderbook.Snapshot{LastUpdateID: 499})
	assert.Nil(t, drain.Gap)
	assert.Len(t, drain.Updates, 1)
	assert.Equal(t, StateSynced, l.State())
	last, _ := l.LastAppliedID()
	assert.Equal(t, uint64(510), last)
}

func TestDiscardAlreadyApplied(t *testing.T) {
	l := New(testSymbol(t), 16)
	l.SetSnapshot(orderbook.Snapshot{LastUpdateID: 50})

	out := l.Push(orderbook.Update{FirstUpdateID: 40, FinalUpdateID: 50})
	assert.Equal(t, OutcomeDiscarded, out.Kind)
}

func TestBufferOverflowWhileAwaitingCoalescesGap(t *testing.T) {
	l := New(testSymbol(t), 2)
	l.SetSnapshot(orderbook.Snapshot{LastUpdateID: 10})
	l.Push(orderbook.Update{FirstUpdateID: 20, FinalUpdateID: 25}) // gap -> awaiting

	l.Push(orderbook.Update{FirstUpdateID: 26, FinalUpdateID: 27})
	out := l.Push(orderbook.Update{FirstUpdateID: 28, FinalUpdateID: 29})
	assert.Equal(t, OutcomeBuffered, out.Kind)

	out = l.Push(orderbook.Update{FirstUpdateID: 30, FinalUpdateID: 31})
	assert.Equal(t, OutcomeBuffered, out.Kind, "overflow while already awaiting coalesces, no repeat gap outcome")
	assert.Equal(t, 2, l.OverflowCount())
}

func TestOrderingGuarantee_StrictlyIncreasing(t *testing.T) {
	// Updates emitted as ready must have strictly increasing
	// FinalUpdateID, and each one's FirstUpdateID must not skip past the
	// previous one's FinalUpdateID plus one.
	l := New(testSymbol(t), 16)
	l.SetSnapshot(orderbook.Snapshot{LastUpdateID: 0})

	var emitted []orderbook.Update
	for _, u := range []orderbook.Update{
		{FirstUpdateID: 1, FinalUpdateID: 5},
		{FirstUpdateID: 6, FinalUpdateID: 6},
		{FirstUpdateID: 5, FinalUpdateID: 9}, // overlaps, still contiguous
	} {
		out := l.Push(u)
		if out.Kind == OutcomeReady {
			emitted = append(emitted, out.Update)
		}
	}

	for i := 1; i < len(emitted); i++ {
		assert.Less(t, emitted[i-1].FinalUpdateID, emitted[i].FinalUpdateID)
		assert.LessOrEqual(t, emitted[i].FirstUpdateID, emitted[i-1].FinalUpdateID+1)
	}
}
