// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the daemon, registered on a per-server registry.

package control

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hioload_httpd"

// Metrics groups every collector the server updates.
type Metrics struct {
	Registry *prometheus.Registry

	Accepted        prometheus.Counter
	Active          prometheus.Gauge
	Rejected        prometheus.Counter
	Responses       *prometheus.CounterVec
	BytesSent       prometheus.Counter
	Evictions       prometheus.Counter
	QueueRejections prometheus.Counter
	QueueDepth      prometheus.Gauge
	Completed       prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry, so several servers
// in one process (tests) do not collide.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted and admitted to the table",
		}),
		Active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently open",
		}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections refused with the busy reply",
		}),
		Responses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Responses fully sent, by status code",
		}, []string{"code"}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Response bytes written to sockets",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_evictions_total",
			Help:      "Connections closed by the idle timer",
		}),
		QueueRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejections_total",
			Help:      "Submissions refused because the work queue was full",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Connections waiting for a worker",
		}),
		Completed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Worker tasks finished",
		}),
	}
}

// ObserveResponse records one fully sent response.
func (m *Metrics) ObserveResponse(status, bytes int) {
	if status > 0 {
		m.Responses.WithLabelValues(strconv.Itoa(status)).Inc()
	}
	if bytes > 0 {
		m.BytesSent.Add(float64(bytes))
	}
}
