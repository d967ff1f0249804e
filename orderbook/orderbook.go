// Package orderbook implements the two-sided, price-aggregated (L2) order
// book: an ordered map per side offering O(1) top-of-book access and
// O(log n) price-level mutation.
package orderbook

import (
	"log"
	"os"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

var logger = log.New(os.Stdout, "[orderbook] ", log.LstdFlags)

const treeDegree = 32

// PriceLevel is a single (price, quantity) pair. A quantity of zero is only
// ever meaningful as a deletion marker inside an Update; it must never
// appear in a Book's stored levels.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Snapshot is a point-in-time, exchange-provided view of both sides of the
// book, identified by the last update it reflects.
type Snapshot struct {
	LastUpdateID uint64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// Update is an incremental depth update covering the inclusive sequence
// range [FirstUpdateID, FinalUpdateID]. PrevFinalUpdateID, when present, is
// the FinalUpdateID of the immediately preceding update in the exchange's
// stream (Binance's "pu" field).
type Update struct {
	FirstUpdateID     uint64
	FinalUpdateID     uint64
	PrevFinalUpdateID *uint64
	Bids              []PriceLevel
	Asks              []PriceLevel
}

// side is one half of the book: a price-ordered tree plus a cached
// extremum so BestXxx stays O(1) instead of the tree's O(log n) Min/Max.
type side struct {
	tree *btree.BTreeG[PriceLevel]
	best *PriceLevel
	desc bool // true for bids (best = highest price)
}

func newSide(desc bool) *side {
	less := func(a, b PriceLevel) bool { return a.Price.LessThan(b.Price) }
	if desc {
		less = func(a, b PriceLevel) bool { return a.Price.GreaterThan(b.Price) }
	}
	return &side{
		tree: btree.NewG(treeDegree, less),
		desc: desc,
	}
}

func (s *side) less(a, b PriceLevel) bool {
	if s.desc {
		return a.Price.GreaterThan(b.Price)
	}
	return a.Price.LessThan(b.Price)
}

func (s *side) set(level PriceLevel) {
	s.tree.ReplaceOrInsert(level)
	if s.best == nil || s.less(level, *s.best) || level.Price.Equal(s.best.Price) {
		best := level
		s.best = &best
	}
}

func (s *side) remove(price decimal.Decimal) {
	probe := PriceLevel{Price: price}
	removed, ok := s.tree.Delete(probe)
	if !ok {
		return
	}
	if s.best != nil && removed.Price.Equal(s.best.Price) {
		s.recomputeBest()
	}
}

func (s *side) recomputeBest() {
	min, ok := s.tree.Min()
	if !ok {
		s.best = nil
		return
	}
	best := min
	s.best = &best
}

func (s *side) clone() *side {
	out := &side{tree: s.tree.Clone(), desc: s.desc}
	if s.best != nil {
		best := *s.best
		out.best = &best
	}
	return out
}

func (s *side) depth(n int) []PriceLevel {
	if n <= 0 {
		n = s.tree.Len()
	}
	out := make([]PriceLevel, 0, n)
	s.tree.Ascend(func(level PriceLevel) bool {
		out = append(out, level)
		return len(out) < n
	})
	return out
}

// Book is the mutable, two-sided L2 order book. It carries no locking of
// its own: callers (the Publication Engine) are responsible for
// single-writer discipline and for Clone-ing before sharing a Book across
// goroutines.
type Book struct {
	LastUpdateID uint64
	bids         *side
	asks         *side
}

// New returns an empty book.
func New() *Book {
	return &Book{bids: newSide(true), asks: newSide(false)}
}

// FromSnapshot builds a fresh Book from a Snapshot, dropping any entries
// with non-positive quantity.
func FromSnapshot(s Snapshot) *Book {
	b := New()
	b.LastUpdateID = s.LastUpdateID
	for _, lvl := range s.Bids {
		if lvl.Qty.Sign() > 0 {
			b.bids.set(lvl)
		}
	}
	for _, lvl := range s.Asks {
		if lvl.Qty.Sign() > 0 {
			b.asks.set(lvl)
		}
	}
	return b
}

// Apply mutates the book in place per the update's bid/ask levels: a
// quantity of zero removes the level (a no-op if the level is absent), a
// positive quantity inserts or replaces it. A negative quantity is
// malformed: it is logged and skipped, and does not abort the rest of the
// batch. Apply returns how many levels were applied and how many were
// malformed.
func (b *Book) Apply(u Update) (applied, malformed int) {
	a, m := applySide(b.asks, u.Asks)
	applied += a
	malformed += m

	a, m = applySide(b.bids, u.Bids)
	applied += a
	malformed += m

	if u.FinalUpdateID > b.LastUpdateID {
		b.LastUpdateID = u.FinalUpdateID
	}
	return applied, malformed
}

func applySide(s *side, levels []PriceLevel) (applied, malformed int) {
	for _, lvl := range levels {
		switch {
		case lvl.Qty.Sign() < 0:
			logger.Printf("malformed level dropped: price=%s qty=%s", lvl.Price, lvl.Qty)
			malformed++
		case lvl.Qty.Sign() == 0:
			s.remove(lvl.Price)
			applied++
		default:
			s.set(lvl)
			applied++
		}
	}
	return applied, malformed
}

// BestBid returns the highest-priced bid level, if any, in O(1).
func (b *Book) BestBid() (PriceLevel, bool) {
	if b.bids.best == nil {
		return PriceLevel{}, false
	}
	return *b.bids.best, true
}

// BestAsk returns the lowest-priced ask level, if any, in O(1).
func (b *Book) BestAsk() (PriceLevel, bool) {
	if b.asks.best == nil {
		return PriceLevel{}, false
	}
	return *b.asks.best, true
}

// Spread returns BestAsk - BestBid, when both sides are non-empty.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Mid returns the midpoint between BestBid and BestAsk, when both sides are
// non-empty.
func (b *Book) Mid() (decimal.Decimal, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// IsCrossed reports whether the book is in an invalid crossed state:
// best_bid >= best_ask while both sides are non-empty. A crossed book is a
// correctness failure to be logged by the caller, never silently repaired.
func (b *Book) IsCrossed() bool {
	bid, ok := b.BestBid()
	if !ok {
		return false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// Depth returns up to n levels per side, best-first. n <= 0 returns the
// full depth of each side.
func (b *Book) Depth(n int) (bids, asks []PriceLevel) {
	return b.bids.depth(n), b.asks.depth(n)
}

// Clone returns a deep copy of the book, used by the Publication Engine
// before an atomic publish.
func (b *Book) Clone() *Book {
	return &Book{
		LastUpdateID: b.LastUpdateID,
		bids:         b.bids.clone(),
		asks:         b.asks.clone(),
	}
}

// BidCount and AskCount report the number of resting levels per side,
// mostly useful for tests and metrics.
func (b *Book) BidCount() int { return b.bids.tree.Len() }
func (b *Book) AskCount() int { return b.asks.tree.Len() }
