// Package metrics exposes Prometheus collectors for scans, illumination
// providers and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricScansTotal            = "moonhunter_scans_total"
	MetricScanDuration          = "moonhunter_scan_duration_seconds"
	MetricSamplesTotal          = "moonhunter_scan_samples_total"
	MetricProviderFailuresTotal = "moonhunter_provider_failures_total"
	MetricProviderCallsTotal    = "moonhunter_provider_calls_total"
	MetricProviderCallDuration  = "moonhunter_provider_call_duration_seconds"
	MetricHTTPRequestsTotal     = "moonhunter_http_requests_total"
	MetricHTTPRequestDuration   = "moonhunter_http_request_duration_seconds"
)

// Metrics holds every collector. It satisfies engine.ScanObserver and
// moonphase.MetricsRecorder.
type Metrics struct {
	scansTotal            *prometheus.CounterVec
	scanDuration          *prometheus.HistogramVec
	samplesTotal          *prometheus.CounterVec
	providerFailuresTotal *prometheus.CounterVec
	providerCallsTotal    *prometheus.CounterVec
	providerCallDuration  *prometheus.HistogramVec
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricScansTotal,
				Help: "Scene scans by outcome (completed, failed, cancelled)",
			},
			[]string{"outcome"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricScanDuration,
				Help:    "Wall time of scene scans",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),
		samplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSamplesTotal,
				Help: "Evaluated scan samples by outcome",
			},
			[]string{"outcome"},
		),
		providerFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricProviderFailuresTotal,
				Help: "Samples skipped because a provider failed",
			},
			[]string{"provider"},
		),
		providerCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricProviderCallsTotal,
				Help: "Illumination provider calls by status",
			},
			[]string{"provider", "status"},
		),
		providerCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricProviderCallDuration,
				Help:    "Latency of illumination provider calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "API requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
}

// Register adds every collector to reg
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.scansTotal,
		m.scanDuration,
		m.samplesTotal,
		m.providerFailuresTotal,
		m.providerCallsTotal,
		m.providerCallDuration,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	}
}

func (m *Metrics) ObserveScan(outcome string, d time.Duration) {
	m.scansTotal.WithLabelValues(outcome).Inc()
	m.scanDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveSample(outcome string) {
	m.samplesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveProviderFailure(provider string) {
	m.providerFailuresTotal.WithLabelValues(provider).Inc()
}

// ObserveCall records one illumination lookup, status is "ok" or "error"
func (m *Metrics) ObserveCall(provider string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.providerCallsTotal.WithLabelValues(provider, status).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// Middleware counts requests by chi route pattern so path parameters do not
// explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
		m.httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus text format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}
