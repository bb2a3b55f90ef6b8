package analyze

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "issuelens"
	metricsSubsystem = "analysis"
)

type analysisMetrics struct {
	analysesTotal      *prometheus.CounterVec
	batchesPerAnalysis prometheus.Histogram
}

var (
	defaultAnalysisMetricsOnce sync.Once
	defaultAnalysisMetricsInst *analysisMetrics
)

func getDefaultAnalysisMetrics() *analysisMetrics {
	defaultAnalysisMetricsOnce.Do(func() {
		defaultAnalysisMetricsInst = newAnalysisMetrics(prometheus.DefaultRegisterer)
	})
	return defaultAnalysisMetricsInst
}

func newAnalysisMetrics(reg prometheus.Registerer) *analysisMetrics {
	m := &analysisMetrics{
		analysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "total",
			Help:      "Number of analysis runs by outcome.",
		}, []string{"outcome"}),
		batchesPerAnalysis: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batches",
			Help:      "Batches used per completed analysis.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.analysesTotal, m.batchesPerAnalysis)
	}
	return m
}
