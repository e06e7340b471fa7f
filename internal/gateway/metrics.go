// ABOUTME: Prometheus metrics for the gateway's own behavior.
// ABOUTME: Counts dispatch decisions and tracks live bridges and transactions.

package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	forwarded   prometheus.Counter
	backstopped prometheus.Counter
	bridges     prometheus.Gauge
	commits     prometheus.Counter
	rollbacks   prometheus.Counter
}

func newMetrics(openTransactions func() int) *metrics {
	registry := prometheus.NewRegistry()

	m := &metrics{
		registry: registry,
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trestle_requests_forwarded_total",
			Help: "HTTP requests reverse proxied to Upstream.",
		}),
		backstopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trestle_requests_backstopped_total",
			Help: "HTTP requests answered locally by plug-in or gateway routes.",
		}),
		bridges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trestle_websocket_bridges",
			Help: "WebSocket bridges currently open.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trestle_transactions_committed_total",
			Help: "Transactions committed on Upstream.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trestle_transactions_rolled_back_total",
			Help: "Transactions rolled back, whether by the caller or automatically.",
		}),
	}
	registry.MustRegister(m.forwarded, m.backstopped, m.bridges, m.commits, m.rollbacks)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "trestle_open_transactions",
		Help: "Root transactions currently open.",
	}, func() float64 { return float64(openTransactions()) }))

	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) requestForwarded() { m.forwarded.Inc() }

func (m *metrics) requestBackstopped() { m.backstopped.Inc() }

func (m *metrics) bridgeOpened() { m.bridges.Inc() }

func (m *metrics) bridgeClosed() { m.bridges.Dec() }

// TransactionCommitted and TransactionRolledBack implement transaction.Stats.

func (m *metrics) TransactionCommitted() { m.commits.Inc() }

func (m *metrics) TransactionRolledBack() { m.rollbacks.Inc() }
