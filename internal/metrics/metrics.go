// Package metrics exposes authorization pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ggoodman/realmguard/authz"
)

const metricsNamespace = "realmguard"

// Collector is a prometheus.Collector for guard decisions, delegated calls
// and browser logins.
type Collector struct {
	decisions     *prometheus.CounterVec
	delegateCalls *prometheus.HistogramVec
	logins        *prometheus.CounterVec
}

// NewCollector returns a new Collector. service labels every series.
func NewCollector(service string) *Collector {
	constLabels := prometheus.Labels{"service": service}
	return &Collector{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Name:        "authz_decisions_total",
				Help:        "Authorization decisions by outcome and credential source.",
				ConstLabels: constLabels,
			}, []string{"outcome", "source"},
		),
		delegateCalls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   metricsNamespace,
				Name:        "delegate_call_duration_seconds",
				Help:        "Duration of delegated downstream calls.",
				ConstLabels: constLabels,
				Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			}, []string{"path", "outcome"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Name:        "logins_total",
				Help:        "Completed browser login attempts by outcome.",
				ConstLabels: constLabels,
			}, []string{"outcome"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.decisions.Describe(ch)
	c.delegateCalls.Describe(ch)
	c.logins.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.decisions.Collect(ch)
	c.delegateCalls.Collect(ch)
	c.logins.Collect(ch)
}

// ObserveDecision implements authz.DecisionObserver.
func (c *Collector) ObserveDecision(d authz.Decision, pr *authz.Principal) {
	source := "anonymous"
	if pr != nil {
		source = string(pr.Source)
	}
	c.decisions.WithLabelValues(d.Outcome.String(), source).Inc()
}

// ObserveCall implements delegate.CallObserver.
func (c *Collector) ObserveCall(path string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.delegateCalls.WithLabelValues(path, outcome).Observe(d.Seconds())
}

// ObserveLogin implements oidclogin.LoginObserver.
func (c *Collector) ObserveLogin(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.logins.WithLabelValues(outcome).Inc()
}

// NewRegistry returns a registry holding c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
