package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "mutations_total",
			Help:      "Message mutations by operation and outcome reason.",
		},
		[]string{"op", "result"},
	)

	BroadcastEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "broadcast_events_total",
			Help:      "Events fanned out to connected sessions.",
		},
		[]string{"event"},
	)

	DroppedDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "dropped_deliveries_total",
			Help:      "Per-session deliveries dropped because the session queue was full or closed.",
		},
		[]string{"transport"},
	)

	Sessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "connected_sessions",
			Help:      "Currently connected sessions per transport.",
		},
		[]string{"transport"},
	)

	Evicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "retention_evicted_total",
			Help:      "Rows physically removed by the retention policy.",
		},
	)

	HistoryCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "history_cache_total",
			Help:      "History snapshot cache lookups by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(Mutations)
	prometheus.MustRegister(BroadcastEvents)
	prometheus.MustRegister(DroppedDeliveries)
	prometheus.MustRegister(Sessions)
	prometheus.MustRegister(Evicted)
	prometheus.MustRegister(HistoryCache)
}
