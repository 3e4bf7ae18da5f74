package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Total number of notification rows created, by request source.",
	}, []string{"source"})

	EmailBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_email_batches_total",
		Help: "Total number of email batch submissions, by outcome.",
	}, []string{"outcome"})

	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notification_live_connections",
		Help: "Current number of open live delivery connections.",
	})

	DroppedSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_dropped_subscribers_total",
		Help: "Live connections evicted because they stopped draining updates.",
	})
)
