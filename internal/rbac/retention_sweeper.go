package rbac

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/rbac"
)

// RetentionJob applies the retention policy of one data type. Run returns
// the number of records it deleted or anonymized.
type RetentionJob struct {
	DataType string
	Action   string
	Run      func(ctx context.Context, now time.Time) (int, error)
}

// AuditPruner removes persisted audit entries older than a cutoff
type AuditPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionObserver receives retention metrics. It is optional.
type RetentionObserver interface {
	RecordRetentionAction(dataType, action string, count int)
}

// SweeperConfig holds the parameters for NewRetentionSweeper
type SweeperConfig struct {
	// AuditRetentionDays bounds the in-memory audit buffer. Defaults to 90.
	AuditRetentionDays int

	// IntervalHours is how often the sweeper runs. Defaults to 24.
	IntervalHours int
}

// RetentionSweeper periodically trims the audit buffer and runs the
// retention jobs. It runs as a background goroutine and stops via its
// context or the Stop method.
type RetentionSweeper struct {
	audit     *AuditLogger
	pruner    AuditPruner
	jobs      []RetentionJob
	auditDays int
	interval  time.Duration
	logger    *logrus.Entry
	observer  RetentionObserver
	now       func() time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRetentionSweeper creates a sweeper but does not start it
func NewRetentionSweeper(audit *AuditLogger, cfg SweeperConfig, log *logger.Logger, jobs ...RetentionJob) *RetentionSweeper {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	days := cfg.AuditRetentionDays
	if days <= 0 {
		days = rbac.DefaultAuditRetentionDays
	}

	return &RetentionSweeper{
		audit:     audit,
		jobs:      jobs,
		auditDays: days,
		interval:  interval,
		logger:    log.WithComponent("retention_sweeper"),
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// WithPruner attaches a persistent audit store pruned on the audit policy
func (s *RetentionSweeper) WithPruner(p AuditPruner) *RetentionSweeper {
	s.pruner = p
	return s
}

// WithObserver attaches a metrics observer
func (s *RetentionSweeper) WithObserver(o RetentionObserver) *RetentionSweeper {
	s.observer = o
	return s
}

// Start begins the background loop. It sweeps immediately, then repeats on
// the configured interval.
func (s *RetentionSweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go s.loop(ctx)

	s.logger.WithFields(logrus.Fields{
		"audit_retention_days": s.auditDays,
		"interval_hours":       int(s.interval.Hours()),
		"jobs":                 len(s.jobs),
	}).Info("Retention sweeper started")
}

// Stop signals the sweeper to exit and waits for it to finish. It is safe
// to call more than once, and returns at once if Start was never called.
func (s *RetentionSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *RetentionSweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass
func (s *RetentionSweeper) Sweep(ctx context.Context) {
	now := s.now().UTC()

	if s.audit != nil {
		if removed := s.audit.ClearOldLogs(s.auditDays); removed > 0 {
			s.record(rbac.DataTypeAudit, rbac.RetentionActionDelete, removed)
		}
	}

	if s.pruner != nil {
		policy := rbac.RetentionPolicies()[rbac.DataTypeAudit]
		cutoff := now.AddDate(-policy.Years, 0, 0)
		n, err := s.pruner.PruneOlderThan(ctx, cutoff)
		if err != nil {
			s.logger.WithError(err).Warn("Persistent audit prune failed")
		} else if n > 0 {
			s.record(rbac.DataTypeAudit, policy.Action, int(n))
		}
	}

	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}

		n, err := job.Run(ctx, now)
		if err != nil {
			s.logger.WithError(err).WithField("data_type", job.DataType).Warn("Retention job failed")
			continue
		}
		if n > 0 {
			s.record(job.DataType, job.Action, n)
		}
	}
}

func (s *RetentionSweeper) record(dataType, action string, count int) {
	s.logger.WithFields(logrus.Fields{
		"data_type": dataType,
		"action":    action,
		"count":     count,
	}).Info("Retention applied")

	if s.observer != nil {
		s.observer.RecordRetentionAction(dataType, action, count)
	}
}
