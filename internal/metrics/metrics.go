package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the stream client. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	HandshakesTotal  *prometheus.CounterVec
	KeepAlivesTotal  *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	FragmentsTotal   prometheus.Counter
	AudioBytesTotal  prometheus.Counter
	Classifications  *prometheus.CounterVec
	ClassifyDuration prometheus.Histogram

	WebhookEvents *prometheus.CounterVec
	RateLimitHits prometheus.Counter
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "rtms"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live stream sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished stream sessions by final state",
		}, []string{"state"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Stream session lifetime in seconds",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}),
		HandshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshake outcomes per channel",
		}, []string{"role", "result"}),
		KeepAlivesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_total",
			Help:      "Keep-alive requests answered per channel",
		}, []string{"role"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Malformed frames dropped per channel",
		}, []string{"role"}),
		FragmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_fragments_total",
			Help:      "Transcript fragments received",
		}),
		AudioBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Raw audio bytes received",
		}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifier invocations by result",
		}, []string{"result"}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Classifier latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook events by event name and outcome",
		}, []string{"event", "outcome"}),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rate_limit_hits_total",
			Help:      "Webhook requests rejected by the rate limiter",
		}),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.HandshakesTotal,
		m.KeepAlivesTotal,
		m.DecodeErrors,
		m.FragmentsTotal,
		m.AudioBytesTotal,
		m.Classifications,
		m.ClassifyDuration,
		m.WebhookEvents,
		m.RateLimitHits,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded(state string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(state).Inc()
	m.SessionDuration.Observe(lifetime.Seconds())
}

func (m *Metrics) Handshake(role string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.HandshakesTotal.WithLabelValues(role, result).Inc()
}

func (m *Metrics) KeepAlive(role string) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(role).Inc()
}

func (m *Metrics) DecodeError(role string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(role).Inc()
}

func (m *Metrics) Fragment() {
	if m == nil {
		return
	}
	m.FragmentsTotal.Inc()
}

func (m *Metrics) Audio(bytes int) {
	if m == nil {
		return
	}
	m.AudioBytesTotal.Add(float64(bytes))
}

// Classified records a finished classify call. Calls that ended after their
// session stopped are recorded as discarded.
func (m *Metrics) Classified(err error, discarded bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case discarded:
		result = "discarded"
	}
	m.Classifications.WithLabelValues(result).Inc()
	m.ClassifyDuration.Observe(took.Seconds())
}

func (m *Metrics) WebhookEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitHits.Inc()
}
