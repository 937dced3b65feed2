package announce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var announcementsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "doorman_announce_messages_total",
		Help: "Total number of join/leave announcements attempted",
	},
	[]string{"kind", "status"},
)
