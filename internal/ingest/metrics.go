package ingest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "issuelens"
	metricsSubsystem = "scan"
)

type scanMetrics struct {
	scansTotal   *prometheus.CounterVec
	issuesCached prometheus.Counter
	scanDuration prometheus.Histogram
}

var (
	defaultScanMetricsOnce sync.Once
	defaultScanMetricsInst *scanMetrics
)

func getDefaultScanMetrics() *scanMetrics {
	defaultScanMetricsOnce.Do(func() {
		defaultScanMetricsInst = newScanMetrics(prometheus.DefaultRegisterer)
	})
	return defaultScanMetricsInst
}

func newScanMetrics(reg prometheus.Registerer) *scanMetrics {
	m := &scanMetrics{
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "total",
			Help:      "Number of repository scans by outcome.",
		}, []string{"outcome"}),
		issuesCached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "issues_cached_total",
			Help:      "Issues upserted into the cache across all scans.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "duration_seconds",
			Help:      "Wall time of completed scans.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.scansTotal, m.issuesCached, m.scanDuration)
	}
	return m
}
