package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus holds the gateway's Prometheus instruments.
type Prometheus struct {
	ProxyLatency  *prometheus.HistogramVec
	ProxyFailures *prometheus.CounterVec

	VerdictsTotal    *prometheus.CounterVec
	ViolationsTotal  *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec

	IgnoredEvents prometheus.Counter
	WorkersFailed prometheus.Gauge
}

// NewPrometheus creates and registers all gateway metrics on the given
// registerer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		ProxyLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_proxy_latency_milliseconds",
				Help:    "Downstream response time per proxied service",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"service"},
		),
		ProxyFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_proxy_failures_total",
				Help: "Failed downstream requests per proxied service",
			},
			[]string{"service"},
		),
		VerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_verdicts_total",
				Help: "Verdicts produced by the verifier pool",
			},
			[]string{"verifier", "outcome"},
		),
		ViolationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_violations_total",
				Help: "Specification violations recorded per objective or requirement",
			},
			[]string{"key"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_verdict_transitions_total",
				Help: "Verdict transitions bridged to the requirement tier",
			},
			[]string{"objective"},
		),
		IgnoredEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_ignored_events_total",
				Help: "Semantic events dropped for having an unknown type",
			},
		),
		WorkersFailed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_verifier_workers_failed",
				Help: "Verifier workers whose evaluator child died",
			},
		),
	}
}

// ObserveProxyLatency records one downstream response time.
func (p *Prometheus) ObserveProxyLatency(service string, ms float64) {
	p.ProxyLatency.WithLabelValues(service).Observe(ms)
}

// CountProxyFailure records one failed downstream request.
func (p *Prometheus) CountProxyFailure(service string) {
	p.ProxyFailures.WithLabelValues(service).Inc()
}

// CountVerdict records one pool verdict.
func (p *Prometheus) CountVerdict(verifier, outcome string) {
	p.VerdictsTotal.WithLabelValues(verifier, outcome).Inc()
}

// CountViolation records one specification violation.
func (p *Prometheus) CountViolation(key string) {
	p.ViolationsTotal.WithLabelValues(key).Inc()
}

// CountTransition records one bridged verdict transition.
func (p *Prometheus) CountTransition(objective string) {
	p.TransitionsTotal.WithLabelValues(objective).Inc()
}
