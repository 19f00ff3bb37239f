// Package metrics holds the Prometheus collectors of the bot runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Walkthrough
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripbot_sessions_started_total",
			Help: "Total number of walkthroughs started by /start",
		},
		[]string{"bot_id"},
	)

	Advances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripbot_advances_total",
			Help: "Total number of Next presses by outcome",
		},
		[]string{"result"}, // "delivered", "completed", "stale", "busy", "invalid", "error"
	)

	SessionsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dripbot_sessions_completed_total",
			Help: "Total number of walkthroughs that reached the end message",
		},
	)

	AdImpressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripbot_ad_impressions_total",
			Help: "Total number of advertisements transmitted",
		},
		[]string{"bot_id"},
	)

	// Delivery
	FileIDCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripbot_file_id_cache_total",
			Help: "File handle lookups by outcome",
		},
		[]string{"outcome"}, // "hit", "miss", "stale"
	)

	DeliveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripbot_delivery_errors_total",
			Help: "Total number of failed sends to Telegram",
		},
		[]string{"kind"}, // "photo", "video", "media_group", "text"
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dripbot_send_duration_seconds",
			Help:    "Duration of Telegram send calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Bots
	ActiveBots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dripbot_active_bots",
			Help: "Number of bot identities currently running",
		},
	)

	UpdatesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripbot_updates_total",
			Help: "Total number of Telegram updates handled by type",
		},
		[]string{"type"}, // "message", "callback", "ignored"
	)
)
