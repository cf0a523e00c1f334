package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salonbot",
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by outcome.",
		},
		[]string{"outcome"},
	)

	classifiedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salonbot",
			Name:      "classified_messages_total",
			Help:      "Inbound messages by classified intent.",
		},
		[]string{"intent"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salonbot",
			Name:      "bookings_total",
			Help:      "Booking attempts by result.",
		},
		[]string{"result"},
	)

	deliveryStatuses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salonbot",
			Name:      "delivery_statuses_total",
			Help:      "Outbound delivery status updates by status.",
		},
		[]string{"status"},
	)

	dedupHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "salonbot",
			Name:      "dedup_hits_total",
			Help:      "Webhook messages dropped as duplicates.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(webhookEvents, classifiedMessages, bookings, deliveryStatuses, dedupHits)
	})
}

// IncWebhook increments the webhook event counter for an outcome label.
func IncWebhook(outcome string) {
	webhookEvents.WithLabelValues(outcome).Inc()
}

// IncClassified increments the counter for a classified intent.
func IncClassified(intent string) {
	classifiedMessages.WithLabelValues(intent).Inc()
}

// IncBooking increments the booking counter for a result label.
func IncBooking(result string) {
	bookings.WithLabelValues(result).Inc()
}

// IncDeliveryStatus increments the delivery status counter.
func IncDeliveryStatus(status string) {
	deliveryStatuses.WithLabelValues(status).Inc()
}

// IncDedupHit counts a duplicate webhook message.
func IncDedupHit() {
	dedupHits.Inc()
}
