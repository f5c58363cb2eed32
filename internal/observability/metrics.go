package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exported by the governance core.
// Every instance owns its registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	PoolAllocated     *prometheus.GaugeVec
	PoolCapacity      *prometheus.GaugeVec
	RateLimitFallback prometheus.Counter
	RateLimitDecision *prometheus.CounterVec
	PolicyDecisions   *prometheus.CounterVec
	AuditDropped      prometheus.Counter
	AuditEvicted      prometheus.Counter
	Tenants           *prometheus.GaugeVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PoolAllocated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "governance_pool_allocated",
			Help: "Resources currently allocated from a plan pool.",
		}, []string{"plan", "kind"}),
		PoolCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "governance_pool_capacity",
			Help: "Total capacity of a plan pool.",
		}, []string{"plan", "kind"}),
		RateLimitFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governance_ratelimit_fallback_total",
			Help: "Rate limit checks served by the local store after a backend failure.",
		}),
		RateLimitDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_ratelimit_checks_total",
			Help: "Rate limit checks by outcome.",
		}, []string{"allowed"}),
		PolicyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_policy_decisions_total",
			Help: "Policy evaluations by outcome.",
		}, []string{"result"}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governance_audit_dropped_total",
			Help: "Audit entries dropped because the async buffer was full.",
		}),
		AuditEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governance_audit_evicted_total",
			Help: "Audit entries evicted from the in-memory ring.",
		}),
		Tenants: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "governance_tenants",
			Help: "Tenants by status.",
		}, []string{"status"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.PoolAllocated,
		m.PoolCapacity,
		m.RateLimitFallback,
		m.RateLimitDecision,
		m.PolicyDecisions,
		m.AuditDropped,
		m.AuditEvicted,
		m.Tenants,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
