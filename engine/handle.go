package engine

import (
	"sync/atomic"

	"github.com/driftwood-labs/depthsync/orderbook"
)

// Handle is an atomically swappable reference to an immutable order book.
// Readers Load it with zero synchronization overhead and no locking; the
// atomic.Pointer swap performed by the publisher gives acquire/release
// ordering between the writer and any number of concurrent readers.
type Handle struct {
	ptr atomic.Pointer[orderbook.Book]
}

// Load returns the most recently published book. It never blocks and is
// safe to call from any number of goroutines. It returns nil if nothing
// has been published yet.
func (h *Handle) Load() *orderbook.Book {
	return h.ptr.Load()
}

func (h *Handle) store(b *orderbook.Book) {
	h.ptr.Store(b)
}
