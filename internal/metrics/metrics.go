// Package metrics exposes daemon counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "silo_tunnel"

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector is a prometheus.Collector for tunnel lifecycle and setup metrics.
type Collector struct {
	tunnelActive      prometheus.Gauge
	transitions       *prometheus.CounterVec
	setupDuration     *prometheus.HistogramVec
	hardeningUnproven prometheus.Counter
}

func NewCollector() *Collector {
	return &Collector{
		tunnelActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "tunnel_active",
				Help:      "1 while a tunnel is up, 0 otherwise.",
			},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tunnel_transitions_total",
				Help:      "Tunnel start and stop attempts by outcome.",
			}, []string{"op", "outcome"},
		),
		setupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "setup_duration_seconds",
				Help:      "Wall time of server setup workflows.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
			}, []string{"outcome"},
		),
		hardeningUnproven: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ssh_hardening_unconfirmed_total",
				Help:      "Setups where the SSH hardening marker was not seen.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.tunnelActive.Describe(ch)
	c.transitions.Describe(ch)
	c.setupDuration.Describe(ch)
	c.hardeningUnproven.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.tunnelActive.Collect(ch)
	c.transitions.Collect(ch)
	c.setupDuration.Collect(ch)
	c.hardeningUnproven.Collect(ch)
}

func (c *Collector) TunnelTransition(op string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.transitions.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) SetActive(active bool) {
	if active {
		c.tunnelActive.Set(1)
		return
	}
	c.tunnelActive.Set(0)
}

func (c *Collector) SetupFinished(started time.Time, err error, hardened bool) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.setupDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	if err == nil && !hardened {
		c.hardeningUnproven.Inc()
	}
}
