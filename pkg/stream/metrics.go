package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFramesPosted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videostream",
		Subsystem: "host",
		Name:      "frames_posted_total",
		Help:      "Frames posted to the host for distribution.",
	})
	metricFramesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videostream",
		Subsystem: "host",
		Name:      "frames_expired_total",
		Help:      "Frames reclaimed after their expiration deadline.",
	})
	metricFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videostream",
		Subsystem: "host",
		Name:      "frames_dropped_total",
		Help:      "Frames withdrawn before their expiration deadline.",
	})
	metricClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "videostream",
		Subsystem: "host",
		Name:      "clients_connected",
		Help:      "Currently connected subscriber sockets.",
	})
)
