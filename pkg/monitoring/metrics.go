package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector handles Prometheus metrics collection
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	accessDecisionsTotal  *prometheus.CounterVec
	auditEventsTotal      *prometheus.CounterVec
	auditBufferSize       prometheus.Gauge
	codeAttemptsTotal     *prometheus.CounterVec
	cryptoFailuresTotal   *prometheus.CounterVec
	complianceViolations  *prometheus.CounterVec
	retentionActionsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a new metrics collector backed by its own
// registry
func NewMetricsCollector(serviceName string) *MetricsCollector {
	m := &MetricsCollector{
		serviceName: serviceName,
		registry:    prometheus.NewRegistry(),

		// HTTP request metrics
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code", "service"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "service"},
		),

		// Governance metrics
		accessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_decisions_total",
				Help: "Total number of access control decisions",
			},
			[]string{"resource", "action", "allowed", "service"},
		),
		auditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_events_total",
				Help: "Total number of audit events",
			},
			[]string{"resource", "action", "success", "service"},
		),
		auditBufferSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audit_buffer_entries",
				Help: "Number of entries held in the in-memory audit buffer",
			},
		),
		complianceViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliance_violations_total",
				Help: "Total number of compliance violations",
			},
			[]string{"violation_type", "severity", "service"},
		),
		retentionActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retention_actions_total",
				Help: "Total number of records deleted or anonymized by retention",
			},
			[]string{"data_type", "action", "service"},
		),

		// Security metrics
		codeAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "code_generation_attempts_total",
				Help: "Total number of unique code candidates tried",
			},
			[]string{"kind", "collided", "service"},
		),
		cryptoFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_failures_total",
				Help: "Total number of encryption and decryption failures",
			},
			[]string{"operation", "service"},
		),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.accessDecisionsTotal,
		m.auditEventsTotal,
		m.auditBufferSize,
		m.codeAttemptsTotal,
		m.cryptoFailuresTotal,
		m.complianceViolations,
		m.retentionActionsTotal,
	)

	return m
}

// Registry exposes the collector's registry
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, m.serviceName).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint, m.serviceName).Observe(duration.Seconds())
}

// RecordAccessDecision records an access control decision
func (m *MetricsCollector) RecordAccessDecision(resource, action string, allowed bool) {
	m.accessDecisionsTotal.WithLabelValues(resource, action, strconv.FormatBool(allowed), m.serviceName).Inc()
}

// RecordAuditEvent records audit event metrics
func (m *MetricsCollector) RecordAuditEvent(resource, action string, success bool) {
	m.auditEventsTotal.WithLabelValues(resource, action, strconv.FormatBool(success), m.serviceName).Inc()
}

// SetAuditBufferSize records the current audit buffer length
func (m *MetricsCollector) SetAuditBufferSize(n int) {
	m.auditBufferSize.Set(float64(n))
}

// RecordCodeAttempt records one unique code candidate
func (m *MetricsCollector) RecordCodeAttempt(kind string, collided bool) {
	m.codeAttemptsTotal.WithLabelValues(kind, strconv.FormatBool(collided), m.serviceName).Inc()
}

// RecordCryptoFailure records an encryption or decryption failure
func (m *MetricsCollector) RecordCryptoFailure(operation string) {
	m.cryptoFailuresTotal.WithLabelValues(operation, m.serviceName).Inc()
}

// RecordComplianceViolation records compliance violation metrics
func (m *MetricsCollector) RecordComplianceViolation(violationType, severity string) {
	m.complianceViolations.WithLabelValues(violationType, severity, m.serviceName).Inc()
}

// RecordRetentionAction records records removed or anonymized by retention
func (m *MetricsCollector) RecordRetentionAction(dataType, action string, count int) {
	if count <= 0 {
		return
	}
	m.retentionActionsTotal.WithLabelValues(dataType, action, m.serviceName).Add(float64(count))
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware creates middleware for HTTP request metrics. The route
// template is used as the endpoint label when routeName resolves one.
func (m *MetricsCollector) HTTPMiddleware(routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapper, r)

			endpoint := r.URL.Path
			if routeName != nil {
				if name := routeName(r); name != "" {
					endpoint = name
				}
			}

			m.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(wrapper.statusCode), time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
