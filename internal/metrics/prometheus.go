package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusRecorder struct {
	registry  *prometheus.Registry
	payments  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	fallbacks *prometheus.CounterVec
	jobs      *prometheus.CounterVec
}

// NewPrometheusRecorder registers arcdrop collectors, plus the Go and process collectors,
// on a dedicated registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	payments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcdrop",
			Name:      "payments_total",
			Help:      "Payments processed by kind and outcome",
		},
		[]string{"kind", "outcome", "network"},
	)

	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arcdrop",
			Name:      "operation_latency_seconds",
			Help:      "Latency of payment and provider operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "network"},
	)

	fallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcdrop",
			Name:      "wallet_fallbacks_total",
			Help:      "Placeholder wallets issued because the provider failed",
		},
		[]string{"network"},
	)

	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcdrop",
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job executions by outcome",
		},
		[]string{"job", "outcome"},
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		payments, latency, fallbacks, jobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &PrometheusRecorder{
		registry:  registry,
		payments:  payments,
		latency:   latency,
		fallbacks: fallbacks,
		jobs:      jobs,
	}
}

func (p *PrometheusRecorder) PaymentProcessed(kind, outcome, network string) {
	p.payments.With(prometheus.Labels{"kind": kind, "outcome": outcome, "network": network}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(operation, network string, d time.Duration) {
	p.latency.With(prometheus.Labels{"operation": operation, "network": network}).Observe(d.Seconds())
}

func (p *PrometheusRecorder) WalletFallback(network string) {
	p.fallbacks.With(prometheus.Labels{"network": network}).Inc()
}

func (p *PrometheusRecorder) JobRun(job, outcome string) {
	p.jobs.With(prometheus.Labels{"job": job, "outcome": outcome}).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
