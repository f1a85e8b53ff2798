// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook request outcomes, used as the "result" label on UpdatesReceived.
const (
	ResultOK               = "ok"
	ResultDuplicate        = "duplicate"
	ResultInvalidSignature = "invalid_signature"
	ResultBadPayload       = "bad_payload"
	ResultNoChatID         = "no_chat_id"
	ResultTooLarge         = "too_large"
	ResultEnqueueError     = "enqueue_error"
)

var (
	// UpdatesReceived counts inbound webhook requests by outcome.
	UpdatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptopay_relay",
		Name:      "updates_received_total",
		Help:      "Inbound Crypto Pay webhook requests by outcome.",
	}, []string{"result"})

	// Deliveries counts terminal delivery outcomes.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptopay_relay",
		Name:      "deliveries_total",
		Help:      "Telegram notification deliveries by terminal status.",
	}, []string{"status"})

	// DeliveryDuration observes end-to-end send latency per attempt.
	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cryptopay_relay",
		Name:      "delivery_duration_seconds",
		Help:      "Telegram sendMessage latency per attempt.",
		Buckets:   prometheus.DefBuckets,
	})

)

// RegisterQueueDepth registers a queue depth gauge backed by fn, so every
// scrape of /metrics reads the live depth instead of a last-set value.
// Call once at startup, after the queue exists.
func RegisterQueueDepth(fn func() float64) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "cryptopay_relay",
		Name:      "queue_depth",
		Help:      "Deliveries waiting in the queue.",
	}, fn)
}
