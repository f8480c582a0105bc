package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Metrics collects Prometheus metrics for the HTTP surface and the ledger engine.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	notifyFailures  prometheus.Counter
	txRetries       *prometheus.CounterVec
}

// NewMetrics initialises the registry and its collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_transitions_total",
		Help: "Committed voucher transitions by target status.",
	}, []string{"target"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_settlements_total",
		Help: "Balance settlements by kind (approval, reversal, difference).",
	}, []string{"kind"})
	notifyFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_ledger_notify_failures_total",
		Help: "Impact notifications that failed after commit.",
	})
	txRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_tx_retries_total",
		Help: "Transaction attempts re-run after a conflict, by store.",
	}, []string{"store"})
	registry.MustRegister(requests, duration, transitions, settlements, notifyFailures, txRetries)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		transitions:     transitions,
		settlements:     settlements,
		notifyFailures:  notifyFailures,
		txRetries:       txRetries,
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

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// TransitionCommitted implements accounting.Observer.
func (m *Metrics) TransitionCommitted(target accounting.VoucherStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(strings.ToLower(string(target))).Inc()
}

// SettlementApplied implements accounting.Observer.
func (m *Metrics) SettlementApplied(kind string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(kind).Inc()
}

// NotifyFailed implements accounting.Observer.
func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

// TxRetried counts a re-run transaction attempt for the named store.
func (m *Metrics) TxRetried(store string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(store).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
