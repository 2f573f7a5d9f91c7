// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "murmur_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks completion stream duration per model.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "murmur_llm_stream_duration_seconds",
			Help:    "Completion stream duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal counts streamed output chunks per model.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_llm_tokens_total",
			Help: "Streamed completion chunks",
		},
		[]string{"model"},
	)

	// SSEConnectionsActive tracks open chat streams.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "murmur_sse_connections_active",
			Help: "Number of open chat streams",
		},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_conversations_total",
			Help: "Conversations created",
		},
		[]string{"origin"},
	)

	// PersistFailuresTotal counts post-stream history writes that failed.
	PersistFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_persist_failures_total",
			Help: "Post-stream persistence failures",
		},
		[]string{"stage"},
	)

	// RegistrySkipsTotal counts providers left out of a registry build.
	RegistrySkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_registry_skips_total",
			Help: "Providers skipped while building the model registry",
		},
		[]string{"provider"},
	)

	// TranscriptionsTotal counts speech-to-text proxy calls.
	TranscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_transcriptions_total",
			Help: "Speech-to-text requests",
		},
		[]string{"status"},
	)

	// EventsPublishedTotal counts conversation events sent to the bus.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_events_published_total",
			Help: "Conversation events published",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for a finished completion stream.
func RecordLLMStream(model, status string, duration float64, chunks int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model).Add(float64(chunks))
}

// IncrementSSEConnections increments the open stream count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the open stream count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
