// Package metrics wires the storage/concurrency core to Prometheus, in the
// style of Mu-L-marmot's telemetry package: a registry constructed once at
// bootstrap, counters registered against it, and a promhttp handler an
// embedder can mount. The core never starts its own HTTP server — serving
// /metrics belongs to the excluded executor/server layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters every core subsystem increments.
type Registry struct {
	reg *prometheus.Registry

	BufferPool BufferPoolMetrics
	LockMgr    LockManagerMetrics
}

// BufferPoolMetrics counts buffer pool cache behavior.
type BufferPoolMetrics struct {
	Hits            prometheus.Counter
	Misses          prometheus.Counter
	Evictions       prometheus.Counter
	DirtyWritebacks prometheus.Counter
}

// LockManagerMetrics counts lock manager acquisition outcomes.
type LockManagerMetrics struct {
	Grants            prometheus.Counter
	Waits             prometheus.Counter
	DeadlocksDetected prometheus.Counter
}

// NewRegistry builds a fresh, independent registry. Tests and the CLI demo
// each get their own so counters don't leak across runs.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "crabdb", Name: name, Help: help}
	}

	r := &Registry{
		reg: reg,
		BufferPool: BufferPoolMetrics{
			Hits:            prometheus.NewCounter(opts("buffer_pool_hits_total", "pages served without a disk read")),
			Misses:          prometheus.NewCounter(opts("buffer_pool_misses_total", "pages that required a disk read")),
			Evictions:       prometheus.NewCounter(opts("buffer_pool_evictions_total", "frames reclaimed via the replacer")),
			DirtyWritebacks: prometheus.NewCounter(opts("buffer_pool_dirty_writebacks_total", "dirty frames flushed before reuse")),
		},
		LockMgr: LockManagerMetrics{
			Grants:            prometheus.NewCounter(opts("lock_manager_grants_total", "lock requests granted")),
			Waits:             prometheus.NewCounter(opts("lock_manager_waits_total", "lock requests that had to queue")),
			DeadlocksDetected: prometheus.NewCounter(opts("lock_manager_deadlocks_total", "deadlock cycles broken by the detector")),
		},
	}

	reg.MustRegister(
		r.BufferPool.Hits, r.BufferPool.Misses, r.BufferPool.Evictions, r.BufferPool.DirtyWritebacks,
		r.LockMgr.Grants, r.LockMgr.Waits, r.LockMgr.DeadlocksDetected,
	)
	return r
}

// Handler exposes the registry over HTTP for an embedder to mount.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
