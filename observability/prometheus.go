// Package observability exports instance metrics to Prometheus.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "esdm"

// PrometheusCollector implements esdm.MetricsCollector on Prometheus
// counters and histograms.
type PrometheusCollector struct {
	requestLatency *prometheus.HistogramVec
	requests       *prometheus.CounterVec
	requestBytes   *prometheus.CounterVec
	chunks         *prometheus.CounterVec

	fragmentLatency *prometheus.HistogramVec
	fragments       *prometheus.CounterVec
	fragmentBytes   *prometheus.CounterVec

	commitLatency prometheus.Histogram
	commits       *prometheus.CounterVec
}

// NewPrometheusCollector creates the metrics and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &PrometheusCollector{
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of region reads and writes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Region reads and writes.",
		}, []string{"op", "status"}),
		requestBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "request_bytes_total",
			Help:      "User bytes moved by successful reads and writes.",
		}, []string{"op"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chunks_total",
			Help:      "Chunks touched by successful reads and writes.",
		}, []string{"op"}),
		fragmentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "fragment_duration_seconds",
			Help:      "Latency of backend fragment transfers.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op", "backend"}),
		fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fragments_total",
			Help:      "Backend fragment transfers.",
		}, []string{"op", "backend", "status"}),
		fragmentBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fragment_bytes_total",
			Help:      "Bytes transferred to and from backends.",
		}, []string{"op", "backend"}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "catalog_commit_duration_seconds",
			Help:      "Latency of catalog commits.",
			Buckets:   prometheus.DefBuckets,
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "catalog_commits_total",
			Help:      "Catalog commits.",
		}, []string{"status"}),
	}

	for _, m := range []prometheus.Collector{
		c.requestLatency, c.requests, c.requestBytes, c.chunks,
		c.fragmentLatency, c.fragments, c.fragmentBytes,
		c.commitLatency, c.commits,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *PrometheusCollector) request(op string, bytes int64, chunks int, d time.Duration, err error) {
	s := status(err)
	c.requestLatency.WithLabelValues(op, s).Observe(d.Seconds())
	c.requests.WithLabelValues(op, s).Inc()
	if err == nil {
		c.requestBytes.WithLabelValues(op).Add(float64(bytes))
		c.chunks.WithLabelValues(op).Add(float64(chunks))
	}
}

func (c *PrometheusCollector) fragment(op, backend string, bytes int64, d time.Duration, err error) {
	c.fragmentLatency.WithLabelValues(op, backend).Observe(d.Seconds())
	c.fragments.WithLabelValues(op, backend, status(err)).Inc()
	if err == nil {
		c.fragmentBytes.WithLabelValues(op, backend).Add(float64(bytes))
	}
}

// RecordWrite records a region write.
func (c *PrometheusCollector) RecordWrite(bytes int64, chunks int, d time.Duration, err error) {
	c.request("write", bytes, chunks, d, err)
}

// RecordRead records a region read.
func (c *PrometheusCollector) RecordRead(bytes int64, chunks int, d time.Duration, err error) {
	c.request("read", bytes, chunks, d, err)
}

// RecordFragmentPut records one fragment put.
func (c *PrometheusCollector) RecordFragmentPut(backend string, bytes int64, d time.Duration, err error) {
	c.fragment("put", backend, bytes, d, err)
}

// RecordFragmentGet records one fragment get.
func (c *PrometheusCollector) RecordFragmentGet(backend string, bytes int64, d time.Duration, err error) {
	c.fragment("get", backend, bytes, d, err)
}

// RecordCommit records a catalog commit.
func (c *PrometheusCollector) RecordCommit(d time.Duration, err error) {
	c.commitLatency.Observe(d.Seconds())
	c.commits.WithLabelValues(status(err)).Inc()
}
