package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the pipeline.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	messagesPublished  *prometheus.CounterVec
	messagesProcessed  *prometheus.CounterVec
	processingDuration *prometheus.HistogramVec
	cacheLatency       prometheus.Observer
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	trainingRuns       prometheus.Counter
	modelAccuracy      prometheus.Gauge
	scoresComputed     prometheus.Counter
}

// NewMetricsService registers the pipeline's Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	messagesPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_messages_published_total",
		Help: "Messages published per stream",
	}, []string{"stream"})

	messagesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_messages_processed_total",
		Help: "Messages processed per stream and outcome",
	}, []string{"stream", "result"})

	processingDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_message_processing_seconds",
		Help:    "Message handler duration per stream",
		Buckets: prometheus.DefBuckets,
	}, []string{"stream"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	trainingRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "churn_model_training_runs_total",
		Help: "Completed churn model training runs",
	})

	modelAccuracy := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "churn_model_accuracy",
		Help: "Training accuracy of the current churn model",
	})

	scoresComputed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "churn_scores_computed_total",
		Help: "Churn scores computed (cache misses and batch scoring)",
	})

	registry.MustRegister(
		messagesPublished,
		messagesProcessed,
		processingDuration,
		cacheLatency,
		cacheHits,
		cacheMisses,
		trainingRuns,
		modelAccuracy,
		scoresComputed,
	)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		messagesPublished:  messagesPublished,
		messagesProcessed:  messagesProcessed,
		processingDuration: processingDuration,
		cacheLatency:       cacheLatency,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		trainingRuns:       trainingRuns,
		modelAccuracy:      modelAccuracy,
		scoresComputed:     scoresComputed,
	}
}

// Handler exposes the /metrics endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// RecordPublish counts one published message.
func (s *MetricsService) RecordPublish(stream string) {
	if s == nil {
		return
	}
	s.messagesPublished.WithLabelValues(stream).Inc()
}

// ObserveMessage records one processed message outcome and duration.
func (s *MetricsService) ObserveMessage(stream, result string, duration time.Duration) {
	if s == nil {
		return
	}
	s.messagesProcessed.WithLabelValues(stream, result).Inc()
	s.processingDuration.WithLabelValues(stream).Observe(duration.Seconds())
}

// RecordCacheOperation counts a cache lookup and its latency.
func (s *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if s == nil {
		return
	}
	s.cacheLatency.Observe(duration.Seconds())
	if hit {
		s.cacheHits.Inc()
	} else {
		s.cacheMisses.Inc()
	}
}

// RecordTraining marks a completed training run and its accuracy.
func (s *MetricsService) RecordTraining(accuracy float64) {
	if s == nil {
		return
	}
	s.trainingRuns.Inc()
	s.modelAccuracy.Set(accuracy)
}

// RecordScoreComputed counts one freshly computed churn score.
func (s *MetricsService) RecordScoreComputed() {
	if s == nil {
		return
	}
	s.scoresComputed.Inc()
}
