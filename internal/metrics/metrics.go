// ABOUTME: Prometheus counters for credential lookups, chat flows, and webhook deliveries
// ABOUTME: All recording methods are nil-safe so components work without metrics configured

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "redmine_bridge"

// Metrics owns a private registry and the bridge's counters.
type Metrics struct {
	registry *prometheus.Registry

	credentialLookups *prometheus.CounterVec
	backingQueries    prometheus.Counter
	flows             *prometheus.CounterVec
	webhooks          *prometheus.CounterVec
	notifications     *prometheus.CounterVec
}

// New registers all counters plus Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		credentialLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_lookups_total",
			Help:      "Credential resolutions by result (hit, miss, not_found, error).",
		}, []string{"result"}),
		backingQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_backing_queries_total",
			Help:      "Queries issued against the Redmine database for API tokens.",
		}),
		flows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_flows_total",
			Help:      "Chat flows that reached a terminal outcome.",
		}, []string{"flow", "outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Inbound webhook requests by outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Per-recipient notification outcomes (sent, skipped, error).",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.credentialLookups,
		m.backingQueries,
		m.flows,
		m.webhooks,
		m.notifications,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CredentialLookup(result string) {
	if m == nil {
		return
	}
	m.credentialLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) BackingQuery() {
	if m == nil {
		return
	}
	m.backingQueries.Inc()
}

func (m *Metrics) Flow(flow, outcome string) {
	if m == nil {
		return
	}
	m.flows.WithLabelValues(flow, outcome).Inc()
}

func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}
