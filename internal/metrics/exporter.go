// internal/metrics/exporter.go
package metrics

import (
	"net/http"
	"strconv"

	"github.com/FairForge/microperf/internal/evaluation"
	"github.com/FairForge/microperf/internal/reporting"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Latency stat label values
const (
	StatMin  = "min"
	StatMean = "mean"
	StatMax  = "max"
)

// Exporter publishes evaluation results as Prometheus metrics on its own
// registry. It satisfies reporting.Reporter.
type Exporter struct {
	registry *prometheus.Registry

	throughput        *prometheus.GaugeVec
	errorPercentage   *prometheus.GaugeVec
	latency           *prometheus.GaugeVec
	percentileLatency *prometheus.GaugeVec
	success           *prometheus.GaugeVec
	evaluations       *prometheus.CounterVec
}

// NewExporter creates an exporter with a fresh registry.
func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Exporter{
		registry: reg,
		throughput: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "microperf_throughput_qps",
				Help: "Achieved throughput of the last run in evaluations per second",
			},
			[]string{"evaluation", "group"},
		),
		errorPercentage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "microperf_error_percentage",
				Help: "Percentage of failed evaluations in the last run",
			},
			[]string{"evaluation", "group"},
		),
		latency: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "microperf_latency_ms",
				Help: "Latency of the last run in milliseconds",
			},
			[]string{"evaluation", "group", "stat"},
		),
		percentileLatency: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "microperf_percentile_latency_ms",
				Help: "Latency percentiles with a configured ceiling, in milliseconds",
			},
			[]string{"evaluation", "group", "percentile"},
		),
		success: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "microperf_evaluation_success",
				Help: "1 when the last run met every requirement, 0 otherwise",
			},
			[]string{"evaluation", "group"},
		),
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microperf_evaluations_total",
				Help: "Finished runs by outcome",
			},
			[]string{"status"},
		),
	}
}

// Registry returns the registry the metrics live on.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Observe publishes one finished evaluation. Aborted or unvalidated runs
// only count towards microperf_evaluations_total and clear success.
func (e *Exporter) Observe(ectx *evaluation.Context) {
	status := reporting.Status(ectx)
	e.evaluations.WithLabelValues(status).Inc()

	name, group := ectx.Name, ectx.Group
	if !ectx.Validated() || ectx.Aborted() {
		e.success.WithLabelValues(name, group).Set(0)
		return
	}

	r := ectx.Results()
	e.throughput.WithLabelValues(name, group).Set(float64(r.ThroughputQps))
	e.errorPercentage.WithLabelValues(name, group).Set(r.ErrorPercentage)
	e.latency.WithLabelValues(name, group, StatMin).Set(r.MinLatencyMs)
	e.latency.WithLabelValues(name, group, StatMean).Set(r.MeanLatencyMs)
	e.latency.WithLabelValues(name, group, StatMax).Set(r.MaxLatencyMs)
	for p, pr := range r.Percentiles {
		e.percentileLatency.WithLabelValues(name, group, strconv.Itoa(p)).Set(pr.ActualMs)
	}
	if r.Successful {
		e.success.WithLabelValues(name, group).Set(1)
	} else {
		e.success.WithLabelValues(name, group).Set(0)
	}
}

// GenerateReport observes every evaluation.
func (e *Exporter) GenerateReport(evaluations []*evaluation.Context) error {
	for _, ectx := range evaluations {
		e.Observe(ectx)
	}
	return nil
}

var _ reporting.Reporter = (*Exporter)(nil)
