package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "filament",
		Subsystem: "server",
		Name:      "connections_accepted_total",
		Help:      "Client connections accepted",
	})

	metricConnsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "filament",
		Subsystem: "server",
		Name:      "connections_active",
		Help:      "Client connections currently open",
	})

	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filament",
		Subsystem: "server",
		Name:      "requests_total",
		Help:      "Responses written, by status class",
	}, []string{"class"})

	metricBytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "filament",
		Subsystem: "server",
		Name:      "bytes_read_total",
		Help:      "Bytes read from client sockets",
	})

	metricBytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "filament",
		Subsystem: "server",
		Name:      "bytes_written_total",
		Help:      "Bytes written to client sockets (sendfile included)",
	})

	metricCGISpawned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "filament",
		Subsystem: "server",
		Name:      "cgi_spawned_total",
		Help:      "CGI children started",
	})

	metricCGITimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "filament",
		Subsystem: "server",
		Name:      "cgi_timeouts_total",
		Help:      "CGI children killed at their deadline",
	})

	metricIdleClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "filament",
		Subsystem: "server",
		Name:      "idle_closed_total",
		Help:      "Connections closed by the idle sweep",
	})
)

func statusClass(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
