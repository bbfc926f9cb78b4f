// Package metrics collects and exposes Prometheus metrics for the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the lifecycle manager, the RPA
// coordinator and the conversation handler.
type Recorder interface {
	RecordSessionCreated()
	RecordSessionClosed(reason string)
	SetActiveSessions(n int)
	RecordTrigger(status, errorType string)
	RecordTurn(kind string)
	RecordProviderCall(provider string, d time.Duration, err error)
	ConnectionOpened()
	ConnectionClosed()
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	sessionsCreated prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	triggers        *prometheus.CounterVec
	turns           *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	providerErrors  *prometheus.CounterVec
	openConnections prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Avatar sessions created and started.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_closed_total",
			Help: "Avatar sessions closed, by reason.",
		}, []string{"reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions_registered",
			Help: "Sessions currently held in the registry.",
		}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_rpa_triggers_total",
			Help: "Workflow trigger attempts, by outcome.",
		}, []string{"status", "error_type"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_conversation_turns_total",
			Help: "Conversation turns processed, by kind.",
		}, []string{"kind"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_provider_call_seconds",
			Help:    "Latency of calls to external providers.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_provider_errors_total",
			Help: "Failed calls to external providers.",
		}, []string{"provider"}),
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_ws_connections",
			Help: "Open conversation channels.",
		}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.sessionsClosed,
		c.activeSessions,
		c.triggers,
		c.turns,
		c.providerLatency,
		c.providerErrors,
		c.openConnections,
	)

	return c
}

// RecordSessionCreated counts a registered session.
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordSessionClosed counts a session leaving the registry or its remote side.
func (c *Collector) RecordSessionClosed(reason string) {
	c.sessionsClosed.WithLabelValues(reason).Inc()
}

// SetActiveSessions sets the registry size gauge.
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// RecordTrigger counts a workflow trigger attempt.
func (c *Collector) RecordTrigger(status, errorType string) {
	c.triggers.WithLabelValues(status, errorType).Inc()
}

// RecordTurn counts a conversation turn.
func (c *Collector) RecordTurn(kind string) {
	c.turns.WithLabelValues(kind).Inc()
}

// RecordProviderCall observes a provider call latency and counts failures.
func (c *Collector) RecordProviderCall(provider string, d time.Duration, err error) {
	c.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		c.providerErrors.WithLabelValues(provider).Inc()
	}
}

// ConnectionOpened increments the open channel gauge.
func (c *Collector) ConnectionOpened() {
	c.openConnections.Inc()
}

// ConnectionClosed decrements the open channel gauge.
func (c *Collector) ConnectionClosed() {
	c.openConnections.Dec()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSessionCreated()                           {}
func (Nop) RecordSessionClosed(string)                      {}
func (Nop) SetActiveSessions(int)                           {}
func (Nop) RecordTrigger(string, string)                    {}
func (Nop) RecordTurn(string)                               {}
func (Nop) RecordProviderCall(string, time.Duration, error) {}
func (Nop) ConnectionOpened()                               {}
func (Nop) ConnectionClosed()                               {}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
