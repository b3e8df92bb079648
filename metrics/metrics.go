// Package metrics records retrieval metrics and pushes them to a
// Prometheus Pushgateway at the end of a batch run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Failure classes used as the "class" label
const (
	ClassTransport  = "transport"
	ClassStructural = "structural"
	ClassTable      = "table"
	ClassCanceled   = "canceled"
	ClassOther      = "other"
)

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reg *prometheus.Registry

	pagesFetched    prometheus.Counter
	solutionsParsed prometheus.Counter
	pageDuration    prometheus.Histogram
	failures        *prometheus.CounterVec
	lastSuccess     prometheus.Gauge
}

// New registers the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmt_pages_fetched_total",
			Help: "Catalog result pages fetched and parsed",
		}),
		solutionsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmt_solutions_parsed_total",
			Help: "Moment-tensor solutions parsed from result pages",
		}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cmt_page_duration_seconds",
			Help:    "Time to fetch and parse one result page",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmt_retrieval_failures_total",
			Help: "Failed retrievals by error class",
		}, []string{"class"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cmt_last_success_timestamp_seconds",
			Help: "Unix time of the last complete retrieval",
		}),
	}

	m.reg.MustRegister(m.pagesFetched, m.solutionsParsed, m.pageDuration, m.failures, m.lastSuccess)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ObservePage records one fetched and parsed page
func (m *Metrics) ObservePage(d time.Duration, solutions int) {
	if m == nil {
		return
	}
	m.pagesFetched.Inc()
	m.solutionsParsed.Add(float64(solutions))
	m.pageDuration.Observe(d.Seconds())
}

// ObserveFailure records a failed retrieval
func (m *Metrics) ObserveFailure(class string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(class).Inc()
}

// MarkSuccess records the completion time of a retrieval
func (m *Metrics) MarkSuccess(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.Set(float64(t.Unix()))
}

// Push sends every collector to the Pushgateway at url under job
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
