package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	reg             *prom.Registry
	packageOutcomes *prom.CounterVec
	stepDuration    *prom.HistogramVec
	cacheResults    *prom.CounterVec
	runDuration     prom.Histogram
}

// NewPrometheusRecorder creates the collectors and registers them with reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		packageOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "crossdeps",
			Name:      "package_outcomes_total",
			Help:      "Packages by final outcome (built, skipped, failed)",
		}, []string{"outcome"}),
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "crossdeps",
			Name:      "step_duration_seconds",
			Help:      "Duration of recipe steps by kind",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"kind"}),
		cacheResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "crossdeps",
			Name:      "cache_results_total",
			Help:      "Artifact cache lookups by result (hit, download, failed)",
		}, []string{"result"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "crossdeps",
			Name:      "run_duration_seconds",
			Help:      "Total duration of a build run",
			Buckets:   prom.ExponentialBuckets(1, 4, 8),
		}),
	}
	reg.MustRegister(pr.packageOutcomes, pr.stepDuration, pr.cacheResults, pr.runDuration)
	return pr
}

// Registry returns the registry the collectors live in.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	return p.reg
}

func (p *PrometheusRecorder) IncPackageOutcome(outcome string) {
	p.packageOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveStepDuration(kind string, d time.Duration) {
	p.stepDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCacheResult(result string) {
	p.cacheResults.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	p.runDuration.Observe(d.Seconds())
}

// WriteTextfile writes the registry in the node_exporter textfile format.
// The file is replaced atomically.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	return prom.WriteToTextfile(path, p.reg)
}
