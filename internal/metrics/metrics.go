package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DraftsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachinbox_drafts_total",
			Help: "Drafts generated by message type and outcome",
		},
		[]string{"type", "outcome"}, // ok|error
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachinbox_transitions_total",
			Help: "Message lifecycle transitions by action and resulting status",
		},
		[]string{"action", "status"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachinbox_deliveries_total",
			Help: "Outbound deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"}, // sent|failed
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachinbox_webhook_events_total",
			Help: "Inbound CRM webhook events by type and outcome",
		},
		[]string{"type", "outcome"}, // ok|duplicate|ignored|retry|failed|rejected
	)

	TriggerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachinbox_trigger_runs_total",
			Help: "Trigger items by workflow and result",
		},
		[]string{"workflow", "result"}, // created|duplicate|skipped_quiet_hours|skipped_daily_cap|error
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachinbox_retries_total",
			Help: "Sync retry attempts by kind and outcome",
		},
		[]string{"kind", "outcome"}, // ok|rescheduled|dropped
	)

	EventsRelayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coachinbox_events_relayed_total",
			Help: "Outbox events published to Kafka",
		},
	)
)

var once sync.Once

// MustRegister registers all collectors once; later calls are no-ops.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			DraftsTotal,
			TransitionsTotal,
			DeliveriesTotal,
			WebhookEventsTotal,
			TriggerRunsTotal,
			RetriesTotal,
			EventsRelayedTotal,
		)
	})
}
