package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the allocation engine.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateFallbacks   *prometheus.CounterVec
	pledgeResyncs   *prometheus.CounterVec
	bonusCalcs      prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_fx_rate_fallback_total",
		Help: "Exchange-rate lookups that degraded to the 1.0 fallback.",
	}, []string{"currency"})
	resyncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_pledge_resync_total",
		Help: "Pledge aggregate resyncs by outcome.",
	}, []string{"outcome"})
	bonus := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_bonus_calculations_total",
		Help: "Solicitor bonus calculations persisted.",
	})
	registry.MustRegister(requests, duration, fallbacks, resyncs, bonus)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		rateFallbacks:   fallbacks,
		pledgeResyncs:   resyncs,
		bonusCalcs:      bonus,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveRateFallback records a degraded exchange-rate lookup.
func (m *Metrics) ObserveRateFallback(currency string) {
	if m == nil {
		return
	}
	m.rateFallbacks.WithLabelValues(currency).Inc()
}

// ObservePledgeResync records a pledge resync outcome ("ok" or "failed").
func (m *Metrics) ObservePledgeResync(outcome string) {
	if m == nil {
		return
	}
	m.pledgeResyncs.WithLabelValues(outcome).Inc()
}

// ObserveBonusCalculation records a persisted bonus calculation.
func (m *Metrics) ObserveBonusCalculation() {
	if m == nil {
		return
	}
	m.bonusCalcs.Inc()
}

// Middleware instruments HTTP handlers with request count and duration.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
