// Package observability exposes the Prometheus metrics for the backend.
// Metrics are registered on the default registry via promauto and served
// from the /metrics endpoint.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// streamTotal counts message streams by terminal result.
	streamTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coreapi_stream_total",
		Help: "Total message streams by result",
	}, []string{"result"})

	// streamDuration tracks full exchange latency, first byte to done.
	streamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coreapi_stream_duration_seconds",
		Help:    "Message stream duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
	})

	// streamFirstChunk tracks how long the client waits for the first
	// chunk, which is what a user perceives as responsiveness.
	streamFirstChunk = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coreapi_stream_first_chunk_seconds",
		Help:    "Time to first stream chunk in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// streamsActive gauges concurrently open streams.
	streamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coreapi_streams_active",
		Help: "Currently open message streams",
	})

	// authTotal counts auth operations by kind and result.
	authTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coreapi_auth_total",
		Help: "Auth operations by kind and result",
	}, []string{"kind", "result"})

	// inferencePreflightFailures counts streams refused on a dead engine.
	inferencePreflightFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coreapi_inference_preflight_failures_total",
		Help: "Streams refused because the inference engine failed preflight",
	})
)

// Stream result labels.
const (
	StreamOK      = "ok"
	StreamError   = "error"
	StreamRefused = "refused"
)

// StreamStarted marks a stream open and returns a closer that records its
// outcome and duration.
func StreamStarted() func(result string) {
	streamsActive.Inc()
	start := time.Now()
	return func(result string) {
		streamsActive.Dec()
		streamTotal.WithLabelValues(result).Inc()
		streamDuration.Observe(time.Since(start).Seconds())
	}
}

// FirstChunk records the delay before the first chunk of a stream.
func FirstChunk(d time.Duration) {
	streamFirstChunk.Observe(d.Seconds())
}

// PreflightFailed records a refused stream due to engine unavailability.
func PreflightFailed() {
	inferencePreflightFailures.Inc()
}

// AuthAttempt records an auth operation outcome.
func AuthAttempt(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	authTotal.WithLabelValues(kind, result).Inc()
}
