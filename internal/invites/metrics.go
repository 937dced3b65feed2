package invites

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorman_invites_attributions_total",
			Help: "Total number of arrival attribution attempts",
		},
		[]string{"result"},
	)

	snapshotRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorman_invites_snapshot_refreshes_total",
			Help: "Total number of invite snapshot refreshes",
		},
		[]string{"status"},
	)

	arrivalsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorman_invites_arrivals_recorded_total",
			Help: "Total number of arrivals recorded in the ledger",
		},
		[]string{"classification"},
	)

	departuresRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorman_invites_departures_recorded_total",
			Help: "Total number of departures processed",
		},
		[]string{"outcome"},
	)

	rewardGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorman_invites_reward_grants_total",
			Help: "Total number of reward role grant attempts",
		},
		[]string{"status"},
	)
)
