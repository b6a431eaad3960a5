// Package prometheus exports entidx operational metrics to Prometheus.
//
//	c := prometheus.NewCollector("entidx")
//	registry.MustRegister(c)
//	db, err := entidx.Open(ctx, entidx.WithMetricsCollector(c))
package prometheus

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Collector implements entidx.MetricsCollector on Prometheus counters and
// histograms. It is itself a prometheus.Collector; register it once.
type Collector struct {
	commits         *prom.CounterVec
	commitLatency   prom.Histogram
	participants    prom.Histogram
	rollbacks       prom.Counter
	queries         *prom.CounterVec
	queryLatency    *prom.HistogramVec
	queryMatches    prom.Histogram
	snapshots       *prom.CounterVec
	snapshotBytes   *prom.CounterVec
	snapshotLatency *prom.HistogramVec
}

var _ prom.Collector = (*Collector)(nil)

// NewCollector creates a collector with metric names prefixed by namespace.
func NewCollector(namespace string) *Collector {
	return &Collector{
		commits: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Transaction commits by status",
		}, []string{"status"}),
		commitLatency: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Latency of transaction commits",
			Buckets:   prom.DefBuckets,
		}),
		participants: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_participants",
			Help:      "Index structures touched per committed transaction",
			Buckets:   prom.ExponentialBuckets(1, 2, 10),
		}),
		rollbacks: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Transaction rollbacks",
		}),
		queries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by collection and status",
		}, []string{"collection", "status"}),
		queryLatency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Latency of queries",
			Buckets:   prom.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"collection"}),
		queryMatches: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "query_matches",
			Help:      "Records matched per query before paging",
			Buckets:   prom.ExponentialBuckets(1, 4, 12),
		}),
		snapshots: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshot saves and loads by status",
		}, []string{"op", "status"}),
		snapshotBytes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_bytes_total",
			Help:      "Snapshot bytes written or read",
		}, []string{"op"}),
		snapshotLatency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Latency of snapshot saves and loads",
			Buckets:   prom.DefBuckets,
		}, []string{"op"}),
	}
}

func (c *Collector) metrics() []prom.Collector {
	return []prom.Collector{
		c.commits, c.commitLatency, c.participants, c.rollbacks,
		c.queries, c.queryLatency, c.queryMatches,
		c.snapshots, c.snapshotBytes, c.snapshotLatency,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, m := range c.metrics() {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	for _, m := range c.metrics() {
		m.Collect(ch)
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordCommit implements entidx.MetricsCollector.
func (c *Collector) RecordCommit(participants int, d time.Duration, err error) {
	c.commits.WithLabelValues(status(err)).Inc()
	c.commitLatency.Observe(d.Seconds())
	if err == nil {
		c.participants.Observe(float64(participants))
	}
}

// RecordRollback implements entidx.MetricsCollector.
func (c *Collector) RecordRollback(int) {
	c.rollbacks.Inc()
}

// RecordQuery implements entidx.MetricsCollector.
func (c *Collector) RecordQuery(collection string, matched int, d time.Duration, err error) {
	c.queries.WithLabelValues(collection, status(err)).Inc()
	c.queryLatency.WithLabelValues(collection).Observe(d.Seconds())
	if err == nil {
		c.queryMatches.Observe(float64(matched))
	}
}

// RecordSnapshot implements entidx.MetricsCollector.
func (c *Collector) RecordSnapshot(op string, bytes int64, d time.Duration, err error) {
	c.snapshots.WithLabelValues(op, status(err)).Inc()
	c.snapshotLatency.WithLabelValues(op).Observe(d.Seconds())
	if err == nil {
		c.snapshotBytes.WithLabelValues(op).Add(float64(bytes))
	}
}
