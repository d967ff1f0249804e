// Package metrics exposes the engine's Prometheus surface: gaps, buffer
// overflows, publishes, applied/malformed update counts, and crossed-book
// occurrences.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements engine.Recorder on top of a dedicated Prometheus
// registry, one per engine instance so multiple engines in the same
// process (e.g. in tests) don't collide on metric names.
type Recorder struct {
	registry *prometheus.Registry

	gaps            prometheus.Counter
	bufferOverflows prometheus.Counter
	snapshots       prometheus.Counter
	updatesApplied  prometheus.Counter
	updatesMalformed prometheus.Counter
	publishes       prometheus.Counter
	crossedBooks    prometheus.Counter
}

// New builds a Recorder labeled with symbol, registered against a fresh
// registry.
func New(symbol string) *Recorder {
	reg := prometheus.NewRegistry()

	labels := prometheus.Labels{"symbol": symbol}
	r := &Recorder{
		registry: reg,
		gaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "depthsync_gaps_total",
			Help:        "number of sequence gaps detected in the depth update stream",
			ConstLabels: labels,
		}),
		bufferOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "depthsync_buffer_overflows_total",
			Help:        "number of times the pre-sync buffer dropped the oldest update",
			ConstLabels: labels,
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "depthsync_snapshots_applied_total",
			Help:        "number of snapshots applied to the workspace book",
			ConstLabels: labels,
		}),
		updatesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "depthsync_levels_applied_total",
			Help:        "number of price levels inserted, replaced, or deleted",
			ConstLabels: labels,
		}),
		updatesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "depthsync_levels_malformed_total",
			Help:        "number of price levels dropped for a negative quantity",
			ConstLabels: labels,
		}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "depthsync_publishes_total",
			Help:        "number of times the published handle was swapped",
			ConstLabels: labels,
		}),
		crossedBooks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "depthsync_crossed_book_total",
			Help:        "number of times the workspace book was observed crossed after an apply",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(r.gaps, r.bufferOverflows, r.snapshots, r.updatesApplied, r.updatesMalformed, r.publishes, r.crossedBooks)
	reg.MustRegister(collectors.NewGoCollector())

	return r
}

func (r *Recorder) GapDetected()    { r.gaps.Inc() }
func (r *Recorder) BufferOverflow() { r.bufferOverflows.Inc() }
func (r *Recorder) SnapshotApplied() { r.snapshots.Inc() }
func (r *Recorder) CrossedBook()    { r.crossedBooks.Inc() }
func (r *Recorder) Published()      { r.publishes.Inc() }

func (r *Recorder) UpdatesApplied(applied, malformed int) {
	r.updatesApplied.Add(float64(applied))
	r.updatesMalformed.Add(float64(malformed))
}

// Handler returns an http.Handler serving this Recorder's registry in the
// Prometheus exposition format, for mounting at e.g. /metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve starts a blocking HTTP server exposing the metrics handler at addr.
func Serve(addr string, r *Recorder) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	log.Printf("[metrics] listening at %s", addr)
	return http.ListenAndServe(addr, mux)
}
