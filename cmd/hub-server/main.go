package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgehub/hubcore/internal/analytics"
	"github.com/edgehub/hubcore/internal/devices"
	"github.com/edgehub/hubcore/internal/gateway"
	"github.com/edgehub/hubcore/internal/hubs"
	internalrbac "github.com/edgehub/hubcore/internal/rbac"
	"github.com/edgehub/hubcore/internal/students"
	"github.com/edgehub/hubcore/pkg/codegen"
	"github.com/edgehub/hubcore/pkg/config"
	"github.com/edgehub/hubcore/pkg/database"
	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/monitoring"
	"github.com/edgehub/hubcore/pkg/rbac"
	"github.com/edgehub/hubcore/pkg/repository"
	"github.com/edgehub/hubcore/pkg/security"
)

var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	hubLogger := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, hubLogger); err != nil {
		hubLogger.WithError(err).Fatal("Hub server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, hubLogger *logger.Logger) error {
	sec, err := security.NewService(security.Options{
		Key:       cfg.Encryption.Key,
		AADDomain: cfg.Encryption.AADDomain,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize security service: %w", err)
	}

	if report := sec.ValidateEncryptionSetup(); !report.IsValid {
		for _, w := range report.Warnings {
			hubLogger.Security("encryption_setup_warning", map[string]interface{}{"warning": w})
		}
	}

	var metrics *monitoring.MetricsCollector
	var tracing *monitoring.TracingManager
	if cfg.Monitoring.Enabled {
		metrics = monitoring.NewMetricsCollector(cfg.Monitoring.ServiceName)
		tracing, err = monitoring.NewTracingManager(&monitoring.TracingConfig{
			ServiceName:    cfg.Monitoring.ServiceName,
			ServiceVersion: version,
			Environment:    os.Getenv("ENVIRONMENT"),
			SamplingRate:   cfg.Monitoring.SamplingRate,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracing.Shutdown(shutdownCtx)
		}()
	}

	audit := internalrbac.NewAuditLogger(internalrbac.AuditConfig{Capacity: cfg.Audit.Capacity}, hubLogger)
	access := internalrbac.NewAccessControlService(audit, hubLogger)
	codes := codegen.NewGenerator(sec, codegen.Config{
		MaxAttempts: cfg.CodeGen.MaxAttempts,
		BackoffBase: time.Duration(cfg.CodeGen.BackoffBaseMS) * time.Millisecond,
	}, hubLogger.Logger)

	var (
		studentRepo repository.StudentRepository = repository.NewMemoryStudentRepository()
		deviceRepo  repository.DeviceRepository  = repository.NewMemoryDeviceRepository()
		auditSink   *internalrbac.PostgresAuditSink
	)
	if cfg.Database.URL != "" {
		db, err := database.NewConnection(ctx, &cfg.Database, hubLogger)
		if err != nil {
			return err
		}
		defer db.Close()

		studentRepo = repository.NewPostgresStudentRepository(db.DB)
		deviceRepo = repository.NewPostgresDeviceRepository(db.DB)
		if cfg.Audit.Persist {
			auditSink = internalrbac.NewPostgresAuditSink(db.DB)
			audit.WithSink(auditSink)
		}
	} else {
		hubLogger.WithComponent("hub-server").Warn("No database configured, using in-memory repositories")
	}

	studentService := students.NewService(studentRepo, access, audit, sec, codes, hubLogger)
	deviceService := devices.NewService(deviceRepo, access, audit, sec, codes, hubLogger)
	analyticsService := analytics.NewService(analytics.Config{}, access, audit, hubLogger)
	hubService := hubs.NewService(studentRepo, deviceRepo, access, audit, hubLogger)

	sweeper := internalrbac.NewRetentionSweeper(audit, internalrbac.SweeperConfig{
		AuditRetentionDays: cfg.Audit.RetentionDays,
		IntervalHours:      cfg.Retention.IntervalHours,
	}, hubLogger,
		internalrbac.RetentionJob{DataType: rbac.DataTypeStudent, Action: rbac.RetentionActionDelete, Run: studentService.ApplyRetention},
		internalrbac.RetentionJob{DataType: rbac.DataTypeAnalytics, Action: rbac.RetentionActionAnonymize, Run: analyticsService.Anonymize},
	)
	if auditSink != nil {
		sweeper.WithPruner(auditSink)
	}

	if metrics != nil {
		audit.WithObserver(metrics)
		access.WithObserver(metrics)
		codes.WithObserver(metrics)
		studentService.WithObserver(metrics)
		sweeper.WithObserver(metrics)
	}

	var limiter *gateway.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = gateway.NewRateLimiter(cfg.RateLimit.RequestsPerMin, cfg.RateLimit.BurstSize)
	}

	tokens, err := gateway.NewTokenValidator(cfg.JWT.SecretKey, cfg.JWT.Issuer).WithTrustedProxies(cfg.Server.TrustedProxies...)
	if err != nil {
		return err
	}

	metricsPath := ""
	if metrics != nil {
		metricsPath = cfg.Monitoring.MetricsPath
	}

	server := gateway.NewServer(gateway.Config{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		MetricsPath:  metricsPath,
	}, gateway.Dependencies{
		Students:  studentService,
		Devices:   deviceService,
		Analytics: analyticsService,
		Hubs:      hubService,
		Access:    access,
		Audit:     audit,
		Tokens:    tokens,
		Limiter:   limiter,
		Metrics:   metrics,
		Tracing:   tracing,
	}, hubLogger)

	if cfg.Retention.Enabled {
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		hubLogger.WithComponent("hub-server").WithField("port", cfg.Server.Port).Info("Starting hub server")
		errCh <- server.Start()
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-quit:
	}

	hubLogger.WithComponent("hub-server").Info("Shutting down hub server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	hubLogger.WithComponent("hub-server").Info("Hub server stopped")
	return nil
}
