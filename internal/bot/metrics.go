package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorman_bot_events_received_total",
			Help: "Total number of webhook events accepted for processing",
		},
		[]string{"type"},
	)

	eventsDuplicateTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doorman_bot_events_duplicate_total",
			Help: "Total number of webhook events dropped as duplicates",
		},
	)

	eventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorman_bot_events_failed_total",
			Help: "Total number of webhook events that failed processing after retries",
		},
		[]string{"type"},
	)

	webhookRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorman_bot_webhook_rejected_total",
			Help: "Total number of webhook deliveries rejected before dispatch",
		},
		[]string{"reason"},
	)
)
