package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the booking backend
type Metrics struct {
	BookingsCreated    prometheus.Counter
	BookingsConfirmed  prometheus.Counter
	BookingsCancelled  prometheus.Counter
	BookingsExpired    prometheus.Counter
	PaymentFailures    prometheus.Counter
	DuplicateFinalizes prometheus.Counter
	AmountMismatches   prometheus.Counter

	WebhooksReceived *prometheus.CounterVec

	GatewayCallDuration *prometheus.HistogramVec
	FinalizeDuration    prometheus.Histogram
}

// NewMetrics creates and registers all collectors with the given registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BookingsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Total number of bookings created",
		}),
		BookingsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_confirmed_total",
			Help:      "Total number of bookings confirmed after payment",
		}),
		BookingsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_cancelled_total",
			Help:      "Total number of bookings cancelled by guests",
		}),
		BookingsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_expired_total",
			Help:      "Total number of pending bookings expired by the sweeper",
		}),
		PaymentFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_failures_total",
			Help:      "Total number of bookings marked payment_failed",
		}),
		DuplicateFinalizes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_finalizes_total",
			Help:      "Finalize attempts that found the booking already confirmed",
		}),
		AmountMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amount_mismatches_total",
			Help:      "Payment confirmations whose amount disagreed with the booking",
		}),
		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "Gateway notifications received, by verification outcome",
		}, []string{"outcome"}),
		GatewayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Checkout gateway call latency by operation and outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		FinalizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_duration_seconds",
			Help:      "End-to-end finalize latency including gateway verification",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveGatewayCall records one gateway call's latency.
func (m *Metrics) ObserveGatewayCall(operation, outcome string, d time.Duration) {
	m.GatewayCallDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// CountWebhook records one inbound notification by verification outcome.
func (m *Metrics) CountWebhook(outcome string) {
	m.WebhooksReceived.WithLabelValues(outcome).Inc()
}
