package reactor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRegisteredFDs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "filament",
		Subsystem: "reactor",
		Name:      "registered_fds",
		Help:      "Descriptors currently registered with the event loop",
	})

	metricLoopWakeups = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "filament",
		Subsystem: "reactor",
		Name:      "wakeups_total",
		Help:      "Total epoll_wait returns",
	})

	metricDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "filament",
		Subsystem: "reactor",
		Name:      "events_dispatched_total",
		Help:      "Total readiness events dispatched to handlers",
	})
)
