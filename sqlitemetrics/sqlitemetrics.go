// Package sqlitemetrics exposes a connection's statement cache
// counters as a prometheus.Collector.
package sqlitemetrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridiandb/sqlite"
)

// usesAfterClose mirrors the package-wide sqlite.UsesAfterClose expvar
// map, one sample per code path that saw a post-close call.
var usesAfterClose = prometheus.NewDesc(
	"sqlite_uses_after_close_total",
	"Operations attempted on an object after it was closed.",
	[]string{"op"}, nil)

// UsesAfterCloseCollector exposes sqlite.UsesAfterClose to prometheus.
// Register at most one per process.
type UsesAfterCloseCollector struct{}

func (UsesAfterCloseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- usesAfterClose
}

func (UsesAfterCloseCollector) Collect(ch chan<- prometheus.Metric) {
	sqlite.UsesAfterClose.Do(func(kv expvar.KeyValue) {
		v, ok := kv.Value.(*expvar.Int)
		if !ok {
			return
		}
		ch <- prometheus.MustNewConstMetric(usesAfterClose,
			prometheus.CounterValue, float64(v.Value()), kv.Key)
	})
}

// Collector reads sqlite.Conn.CacheStats on every scrape. Register
// one per connection, distinguished by the conn label.
type Collector struct {
	conn *sqlite.Conn

	entries   *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	noCache   *prometheus.Desc
	noVdbe    *prometheus.Desc
	tooBig    *prometheus.Desc
}

// NewCollector returns a collector for conn. name becomes the conn
// label on every metric.
func NewCollector(name string, conn *sqlite.Conn) *Collector {
	labels := prometheus.Labels{"conn": name}
	return &Collector{
		conn: conn,
		entries: prometheus.NewDesc(
			"sqlite_stmt_cache_entries",
			"Idle entries currently in the statement cache.",
			nil, labels),
		hits: prometheus.NewDesc(
			"sqlite_stmt_cache_hits_total",
			"Statement prepares served from the cache.",
			nil, labels),
		misses: prometheus.NewDesc(
			"sqlite_stmt_cache_misses_total",
			"Statement prepares that had to compile.",
			nil, labels),
		evictions: prometheus.NewDesc(
			"sqlite_stmt_cache_evictions_total",
			"Idle statements finalized to make room.",
			nil, labels),
		noCache: prometheus.NewDesc(
			"sqlite_stmt_cache_nocache_total",
			"One-shot prepares that bypassed the cache.",
			nil, labels),
		noVdbe: prometheus.NewDesc(
			"sqlite_stmt_cache_novdbe_total",
			"Query texts that compiled to no statement.",
			nil, labels),
		tooBig: prometheus.NewDesc(
			"sqlite_stmt_cache_toobig_total",
			"Query texts too large to cache.",
			nil, labels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.noCache
	ch <- c.noVdbe
	ch <- c.tooBig
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.conn.CacheStats(false)
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.noCache, prometheus.CounterValue, float64(s.NoCache))
	ch <- prometheus.MustNewConstMetric(c.noVdbe, prometheus.CounterValue, float64(s.NoVdbe))
	ch <- prometheus.MustNewConstMetric(c.tooBig, prometheus.CounterValue, float64(s.TooBig))
}
