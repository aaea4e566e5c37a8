package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/edgehub/hubcore/internal/analytics"
	"github.com/edgehub/hubcore/internal/devices"
	"github.com/edgehub/hubcore/internal/hubs"
	"github.com/edgehub/hubcore/internal/students"
	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/monitoring"
	"github.com/edgehub/hubcore/pkg/rbac"
)

// AuditService is the audit log as seen by the HTTP surface
type AuditService interface {
	rbac.AuditRecorder
	rbac.AuditQuerier
}

// Dependencies are the services exposed over HTTP. Limiter, Metrics and
// Tracing are optional.
type Dependencies struct {
	Students  *students.Service
	Devices   *devices.Service
	Analytics *analytics.Service
	Hubs      *hubs.Service
	Access    rbac.AccessEnforcer
	Audit     AuditService
	Tokens    *TokenValidator
	Limiter   *RateLimiter
	Metrics   *monitoring.MetricsCollector
	Tracing   *monitoring.TracingManager
}

// Config holds the HTTP server configuration
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MetricsPath  string
}

// Server is the thin HTTP adapter over the hub services
type Server struct {
	router  *mux.Router
	server  *http.Server
	logger  *logger.Logger
	tokens  *TokenValidator
	limiter *RateLimiter

	students  *students.Service
	devices   *devices.Service
	analytics *analytics.Service
	hubs      *hubs.Service
	access    rbac.AccessEnforcer
	audit     AuditService
	metrics   *monitoring.MetricsCollector
	tracing   *monitoring.TracingManager

	stopOnce sync.Once
	stop     chan struct{}
}

// NewServer wires routes and middleware
func NewServer(cfg Config, deps Dependencies, log *logger.Logger) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		router:    mux.NewRouter(),
		logger:    log,
		tokens:    deps.Tokens,
		limiter:   deps.Limiter,
		students:  deps.Students,
		devices:   deps.Devices,
		analytics: deps.Analytics,
		hubs:      deps.Hubs,
		access:    deps.Access,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		tracing:   deps.Tracing,
		stop:      make(chan struct{}),
	}

	s.setupRoutes(cfg.MetricsPath)
	s.setupMiddleware()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	if s.limiter != nil {
		go s.cleanupLimiter()
	}

	s.logger.WithComponent("gateway").WithField("addr", s.server.Addr).Info("Starting hub server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.logger.WithComponent("gateway").Info("Stopping hub server")
	return s.server.Shutdown(ctx)
}

func (s *Server) cleanupLimiter() {
	ticker := time.NewTicker(idleLimiterTTL)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.limiter.Cleanup(); n > 0 {
				s.logger.WithComponent("gateway").WithField("removed", n).Debug("Dropped idle rate limiters")
			}
		}
	}
}

// setupRoutes sets up the routing
func (s *Server) setupRoutes(metricsPath string) {
	if s.metrics != nil {
		s.router.Handle(metricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/students", s.handleCreateStudent).Methods(http.MethodPost)
	api.HandleFunc("/students", s.handleListStudents).Methods(http.MethodGet)
	api.HandleFunc("/students/code/{code}", s.handleGetStudentByCode).Methods(http.MethodGet)
	api.HandleFunc("/students/{id}", s.handleGetStudent).Methods(http.MethodGet)
	api.HandleFunc("/students/{id}", s.handleUpdateStudent).Methods(http.MethodPut)
	api.HandleFunc("/students/{id}", s.handleDeleteStudent).Methods(http.MethodDelete)
	api.HandleFunc("/students/{id}/export", s.handleExportStudent).Methods(http.MethodGet)

	api.HandleFunc("/devices/register", s.handleRegisterDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/validate/{code}", s.handleValidateDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/authenticate", s.handleAuthenticateDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}", s.handleGetDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}", s.handleUpdateDevice).Methods(http.MethodPut)
	api.HandleFunc("/devices/{id}", s.handleDeleteDevice).Methods(http.MethodDelete)

	api.HandleFunc("/analytics/events", s.handleCollectEvent).Methods(http.MethodPost)
	api.HandleFunc("/analytics/summary", s.handleAnalyticsSummary).Methods(http.MethodGet)
	api.HandleFunc("/analytics/export", s.handleAnalyticsExport).Methods(http.MethodGet)

	api.HandleFunc("/hubs/{id}/status", s.handleHubStatus).Methods(http.MethodGet)

	api.HandleFunc("/audit/logs", s.handleAuditLogs).Methods(http.MethodGet)
	api.HandleFunc("/audit/export", s.handleAuditExport).Methods(http.MethodGet)
	api.HandleFunc("/audit/compliance", s.handleComplianceReport).Methods(http.MethodGet)
}

// setupMiddleware sets up middleware
func (s *Server) setupMiddleware() {
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(s.requestIDMiddleware)
	if s.tracing != nil {
		s.router.Use(s.tracing.HTTPMiddleware)
	}
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware(routeTemplate))
	}
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.authMiddleware)
	if s.limiter != nil {
		s.router.Use(s.rateLimitMiddleware)
	}
}
