// Package telemetry — счётчики Prometheus для здоровья примирителя.
// Экспонируются на /metrics через promhttp.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resyncs — принудительные перезагрузки тредов после устаревшей ленты.
	Resyncs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "interflow",
		Name:      "thread_resyncs_total",
		Help:      "Full thread resyncs triggered after a stale realtime feed.",
	})

	// Retirements — погашенные оптимистичные записи, по способу корреляции.
	Retirements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "interflow",
		Name:      "optimistic_retirements_total",
		Help:      "Optimistic entries retired by confirmed inserts.",
	}, []string{"method"}) // temp_id | content

	// DeleteMatches — сообщения, снятые DELETE-событиями ленты.
	DeleteMatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "interflow",
		Name:      "delete_matches_total",
		Help:      "Messages removed from thread buffers by realtime deletions.",
	})

	// SendFailures — отправки, завершившиеся failed-записью.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "interflow",
		Name:      "send_failures_total",
		Help:      "Agent sends that ended in a failed optimistic entry.",
	})

	// HistoryLoads — догрузки страниц истории.
	HistoryLoads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "interflow",
		Name:      "history_loads_total",
		Help:      "Older-history page loads.",
	})

	// FeedReconnects — переподключения клиента ленты изменений.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "interflow",
		Name:      "feed_reconnects_total",
		Help:      "Realtime feed reconnects.",
	})

	// ConsoleConnections — активные websocket-подключения консолей.
	ConsoleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "interflow",
		Name:      "console_connections",
		Help:      "Currently connected agent consoles.",
	})
)
