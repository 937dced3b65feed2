package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorman_gateway_requests_total",
			Help: "Total number of platform API requests attempted",
		},
		[]string{"method"},
	)

	requestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorman_gateway_request_errors_total",
			Help: "Total number of failed platform API requests",
		},
		[]string{"method"},
	)
)
