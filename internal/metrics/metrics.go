package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	inboundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_webhook_events_total",
			Help: "Total number of inbound provider webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	outboundDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_delivery_attempts_total",
			Help: "Total number of outbound delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	retryPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retry_pass_duration_seconds",
			Help:    "Duration of retry scheduler passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(inboundEventsTotal)
	prometheus.MustRegister(outboundDeliveriesTotal)
	prometheus.MustRegister(retryPassDuration)
}

// ObserveInboundEvent records one inbound webhook by event type and outcome
// (accepted, rejected, failed).
func ObserveInboundEvent(eventType, outcome string) {
	inboundEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveDeliveryOutcome records one outbound delivery attempt outcome
// (succeeded, retrying, exhausted).
func ObserveDeliveryOutcome(outcome string) {
	outboundDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetryPass records the duration of one scheduler pass.
func ObserveRetryPass(seconds float64) {
	retryPassDuration.Observe(seconds)
}
