package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

// RetrievalMetrics records access resolution and retrieval telemetry.
type RetrievalMetrics struct {
	service string

	accessDecisions   *prometheus.CounterVec
	accessSteps       prometheus.Histogram
	scopeDocuments    *prometheus.HistogramVec
	retrieverDuration *prometheus.HistogramVec
	retrieverFailures *prometheus.CounterVec
	outcomes          *prometheus.CounterVec
	passages          *prometheus.HistogramVec
	duration          prometheus.Histogram
}

func NewRetrievalMetrics(service string, registerer prometheus.Registerer) *RetrievalMetrics {
	constLabels := prometheus.Labels{"service": service}

	m := &RetrievalMetrics{
		service: service,
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "access",
			Name:        "decisions_total",
			Help:        "Permission resolutions by rule and resulting level.",
			ConstLabels: constLabels,
		}, []string{"via", "level"}),
		accessSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "access",
			Name:        "resolution_steps",
			Help:        "Folders examined per permission resolution.",
			Buckets:     []float64{0, 1, 2, 3, 5, 8, 13, 21},
			ConstLabels: constLabels,
		}),
		scopeDocuments: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "access",
			Name:        "scope_documents",
			Help:        "Accessible documents per resolved scope.",
			Buckets:     prometheus.ExponentialBuckets(1, 4, 8),
			ConstLabels: constLabels,
		}, []string{"admin"}),
		retrieverDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "retriever_duration_seconds",
			Help:        "Retriever call duration by source.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"source"}),
		retrieverFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "retriever_failures_total",
			Help:        "Failed retriever calls by source.",
			ConstLabels: constLabels,
		}, []string{"source"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "requests_total",
			Help:        "Retrieval requests by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		passages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "passages",
			Help:        "Passages returned per answered request, by bucket.",
			Buckets:     []float64{0, 1, 2, 3, 5, 8, 10, 15},
			ConstLabels: constLabels,
		}, []string{"bucket"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "duration_seconds",
			Help:        "End-to-end retrieval duration.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.accessDecisions,
		m.accessSteps,
		m.scopeDocuments,
		m.retrieverDuration,
		m.retrieverFailures,
		m.outcomes,
		m.passages,
		m.duration,
	)
	return m
}

func (m *RetrievalMetrics) ObserveAccessDecision(decision domain.AccessDecision) {
	m.accessDecisions.WithLabelValues(string(decision.Via), decision.Level.String()).Inc()
	if decision.Via != domain.ViaAdmin {
		m.accessSteps.Observe(float64(decision.Steps))
	}
}

func (m *RetrievalMetrics) ObserveAccessScope(admin bool, documents int) {
	label := "false"
	if admin {
		label = "true"
	}
	m.scopeDocuments.WithLabelValues(label).Observe(float64(documents))
}

func (m *RetrievalMetrics) ObserveRetriever(source string, duration time.Duration, _ int, err error) {
	m.retrieverDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err != nil {
		m.retrieverFailures.WithLabelValues(source).Inc()
	}
}

func (m *RetrievalMetrics) ObserveRetrieval(outcome string, relevant, supplementary int, duration time.Duration) {
	m.outcomes.WithLabelValues(outcome).Inc()
	m.duration.Observe(duration.Seconds())
	if relevant > 0 || supplementary > 0 {
		m.passages.WithLabelValues("relevant").Observe(float64(relevant))
		m.passages.WithLabelValues("supplementary").Observe(float64(supplementary))
	}
}
