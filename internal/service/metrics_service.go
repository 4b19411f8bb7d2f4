package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and the verification workflow.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	signatures      *prometheus.CounterVec
	signDuration    prometheus.Histogram
	pdfJobs         *prometheus.CounterVec
	pdfDuration     prometheus.Histogram
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "public_verification_cache_lookups_total",
		Help: "Public verification cache lookups by result",
	}, []string{"result"})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "certificate_verification_decisions_total",
		Help: "Verification decisions by level and outcome",
	}, []string{"level", "outcome"})

	signatures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "certificate_signatures_total",
		Help: "Level 3 signing attempts by outcome",
	}, []string{"outcome"})

	signDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "certificate_signature_provider_seconds",
		Help:    "Latency of signing provider calls",
		Buckets: prometheus.DefBuckets,
	})

	pdfJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "certificate_pdf_jobs_total",
		Help: "Certificate PDF generation jobs by outcome",
	}, []string{"outcome"})

	pdfDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "certificate_pdf_render_seconds",
		Help:    "Certificate PDF rendering duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLookups, decisions, signatures, signDuration, pdfJobs, pdfDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLookups:    cacheLookups,
		decisions:       decisions,
		signatures:      signatures,
		signDuration:    signDuration,
		pdfJobs:         pdfJobs,
		pdfDuration:     pdfDuration,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheLookup counts public verification cache hits and misses.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordDecision counts a verification outcome at a level; outcome is the status or an error code.
func (m *MetricsService) RecordDecision(level int, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(fmt.Sprintf("%d", level), outcome).Inc()
}

// RecordSignature counts a signing attempt and the provider latency when known.
func (m *MetricsService) RecordSignature(outcome string, providerLatency time.Duration) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(outcome).Inc()
	if providerLatency > 0 {
		m.signDuration.Observe(providerLatency.Seconds())
	}
}

// RecordPDFJob counts a PDF job outcome and its render time.
func (m *MetricsService) RecordPDFJob(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pdfJobs.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.pdfDuration.Observe(duration.Seconds())
	}
}
