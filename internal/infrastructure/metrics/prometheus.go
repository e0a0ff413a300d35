// Package metrics exports run outcomes to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"TenderSync/internal/domain"
)

// PrometheusSink implements ports.RunMetrics.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	runsTotal        *prometheus.CounterVec
	itemsTotal       *prometheus.CounterVec
	failedDaysTotal  prometheus.Counter
	runDuration      prometheus.Histogram
	lastRunTimestamp *prometheus.GaugeVec
	lastRunItems     *prometheus.GaugeVec

	logger *slog.Logger
}

// NewPrometheusSink registers the run collectors with reg.
func NewPrometheusSink(reg prometheus.Registerer, logger *slog.Logger) *PrometheusSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PrometheusSink{logger: logger.With("component", "metrics")}

	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tendersync_runs_total",
		Help: "Total number of pipeline runs by final status.",
	}, []string{"status"})
	s.itemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tendersync_items_total",
		Help: "Announcements processed, by outcome.",
	}, []string{"outcome"})
	s.failedDaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tendersync_fetch_failed_days_total",
		Help: "Publication days that could not be fetched.",
	})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tendersync_run_duration_seconds",
		Help:    "Wall time of each pipeline run in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
	s.lastRunTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tendersync_last_run_timestamp_seconds",
		Help: "Unix time the last run finished, by status.",
	}, []string{"status"})
	s.lastRunItems = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tendersync_last_run_items",
		Help: "Counters of the most recent run.",
	}, []string{"outcome"})

	s.register(reg, s.runsTotal, "tendersync_runs_total")
	s.register(reg, s.itemsTotal, "tendersync_items_total")
	s.register(reg, s.failedDaysTotal, "tendersync_fetch_failed_days_total")
	s.register(reg, s.runDuration, "tendersync_run_duration_seconds")
	s.register(reg, s.lastRunTimestamp, "tendersync_last_run_timestamp_seconds")
	s.register(reg, s.lastRunItems, "tendersync_last_run_items")
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", "name", name, "error", err)
	}
}

// RunFinished records one finished run.
func (s *PrometheusSink) RunFinished(entry domain.RunLogEntry) {
	status := string(entry.Status)
	s.runsTotal.WithLabelValues(status).Inc()
	s.runDuration.Observe(entry.Duration().Seconds())
	s.failedDaysTotal.Add(float64(entry.Counts.FailedDays))
	if !entry.FinishedAt.IsZero() {
		s.lastRunTimestamp.WithLabelValues(status).Set(float64(entry.FinishedAt.Unix()))
	}

	for outcome, n := range outcomes(entry.Counts) {
		s.itemsTotal.WithLabelValues(outcome).Add(float64(n))
		s.lastRunItems.WithLabelValues(outcome).Set(float64(n))
	}
}

func outcomes(c domain.RunCounts) map[string]int {
	return map[string]int{
		"fetched":    c.Fetched,
		"new":        c.New,
		"matched":    c.Matched,
		"created":    c.Created,
		"reconciled": c.Reconciled,
		"skipped":    c.Skipped,
		"failed":     c.Failed,
		"suppressed": c.Suppressed,
		"deferred":   c.Deferred,
	}
}

// Pusher sends the gathered metrics of a one-shot run to a Pushgateway.
type Pusher struct {
	url      string
	job      string
	gatherer prometheus.Gatherer
}

// NewPusher returns nil when url is empty.
func NewPusher(url, job string, gatherer prometheus.Gatherer) *Pusher {
	if url == "" {
		return nil
	}
	if job == "" {
		job = "tendersync"
	}
	return &Pusher{url: url, job: job, gatherer: gatherer}
}

// Push replaces the job's metric group on the gateway.
func (p *Pusher) Push(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := push.New(p.url, p.job).Gatherer(p.gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", p.url, err)
	}
	return nil
}

// Noop discards run metrics.
type Noop struct{}

// RunFinished implements ports.RunMetrics.
func (Noop) RunFinished(domain.RunLogEntry) {}
