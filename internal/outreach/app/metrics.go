package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_webhook_events_total",
			Help: "Webhook events processed, partitioned by classified kind and outcome.",
		},
		[]string{"kind", "status"},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_messages_sent_total",
			Help: "Outbound message sends, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	invitationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_invitations_dispatched_total",
			Help: "Scheduler invitation dispatches, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	attendeeResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_attendee_resolutions_total",
			Help: "Attendee identity resolutions, partitioned by source (memo, cache, provider, unresolved).",
		},
		[]string{"source"},
	)

	schedulerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outreach_scheduler_run_duration_seconds",
			Help:    "Wall time of one full scheduler pass over all clients.",
			Buckets: prometheus.DefBuckets,
		},
	)
)
