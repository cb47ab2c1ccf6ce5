// Package metrics holds the Prometheus instrumentation for the runtime.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gantryhq/gantry/pkg/dispatch"
	"github.com/gantryhq/gantry/pkg/transport"
)

// Metrics holds all Prometheus metrics for the runtime.
type Metrics struct {
	registry *prometheus.Registry

	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	SessionsActive     prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_invocations_total",
				Help: "Total tool invocations by tool and result kind",
			},
			[]string{"tool", "kind"},
		),
		InvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gantry_invocation_duration_seconds",
				Help:    "Tool invocation duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gantry_sessions_active",
				Help: "Currently open duplex sessions",
			},
		),
	}

	registry.MustRegister(m.InvocationsTotal, m.InvocationDuration, m.SessionsActive)

	return m
}

// Gatherer exposes the registry for the /metrics endpoint.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveInvocation implements the dispatcher's observer hook.
func (m *Metrics) ObserveInvocation(toolName string, kind dispatch.Kind, duration time.Duration) {
	m.InvocationsTotal.WithLabelValues(toolName, string(kind)).Inc()
	m.InvocationDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// SessionOpened and SessionClosed implement the duplex transports' session
// observer, keeping the active-session gauge live.
func (m *Metrics) SessionOpened() {
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	m.SessionsActive.Dec()
}

var (
	_ dispatch.Observer         = (*Metrics)(nil)
	_ transport.SessionObserver = (*Metrics)(nil)
)
