// Package httpmetrics holds the server's prometheus collectors.
package httpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CardMoves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kitchen_card_moves_total",
		Help: "Optimistic card moves applied locally.",
	})

	MovePersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kitchen_card_move_persist_failures_total",
		Help: "Background move persistence calls that failed.",
	})

	BoardReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kitchen_board_reloads_total",
		Help: "Full board reloads triggered by change notifications.",
	})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kitchen_messages_sent_total",
		Help: "Messages persisted, labeled by delivery target.",
	}, []string{"target"})

	MessageDeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kitchen_message_delivery_failures_total",
		Help: "Messages that failed on both storage targets.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kitchen_active_sessions",
		Help: "Sessions with a live event stream.",
	})
)
