package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/rbac"
	"github.com/edgehub/hubcore/pkg/security"
)

const (
	// DefaultPageLimit applies when a filter carries no limit
	DefaultPageLimit = 100

	recentWindow    = 24 * time.Hour
	maxRecentEvents = 100
)

// AuditObserver receives audit metrics. It is optional.
type AuditObserver interface {
	RecordAuditEvent(resource, action string, success bool)
	SetAuditBufferSize(n int)
}

// AuditConfig holds audit logger settings
type AuditConfig struct {
	Capacity int
}

// AuditLogger keeps a bounded in-memory audit trail. Once the buffer is
// full the oldest entry is evicted on every append. It is a best-effort
// log, not a system of record; attach an AuditSink for durability.
type AuditLogger struct {
	mu       sync.RWMutex
	buf      []rbac.AuditLogEntry
	start    int
	count    int
	capacity int

	logger   *logger.Logger
	sink     rbac.AuditSink
	observer AuditObserver
	now      func() time.Time
}

// NewAuditLogger creates an audit logger
func NewAuditLogger(cfg AuditConfig, log *logger.Logger) *AuditLogger {
	if cfg.Capacity <= 0 {
		cfg.Capacity = rbac.DefaultAuditCapacity
	}

	return &AuditLogger{
		buf:      make([]rbac.AuditLogEntry, cfg.Capacity),
		capacity: cfg.Capacity,
		logger:   log,
		now:      time.Now,
	}
}

// WithSink attaches a persistent sink
func (a *AuditLogger) WithSink(sink rbac.AuditSink) *AuditLogger {
	a.sink = sink
	return a
}

// WithObserver attaches a metrics observer
func (a *AuditLogger) WithObserver(o AuditObserver) *AuditLogger {
	a.observer = o
	return a
}

// Len returns the number of buffered entries
func (a *AuditLogger) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.count
}

// LogEvent assigns an id and timestamp to entry, appends it and writes a
// leveled log line. It never panics and never returns an error.
func (a *AuditLogger) LogEvent(ctx context.Context, entry rbac.AuditLogEntry) {
	defer func() {
		if r := recover(); r != nil && a.logger != nil {
			a.logger.WithField("panic", fmt.Sprint(r)).Error("Audit logging failed")
		}
	}()

	entry.ID = uuid.New().String()
	entry.Timestamp = a.now().UTC()
	entry.Details = security.SanitizeForLogging(entry.Details)
	entry.ComplianceFlags = cloneFlags(entry.ComplianceFlags)

	size := a.append(entry)

	if a.observer != nil {
		a.observer.RecordAuditEvent(entry.Resource, entry.Action, entry.Success)
		a.observer.SetAuditBufferSize(size)
	}

	a.emit(ctx, entry)

	if a.sink != nil {
		if err := a.sink.Persist(ctx, entry); err != nil && a.logger != nil {
			a.logger.WithError(err).WithField("audit_id", entry.ID).Warn("Failed to persist audit entry")
		}
	}
}

func (a *AuditLogger) append(entry rbac.AuditLogEntry) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count < a.capacity {
		a.buf[(a.start+a.count)%a.capacity] = entry
		a.count++
		return a.count
	}

	a.buf[a.start] = entry
	a.start = (a.start + 1) % a.capacity
	return a.count
}

func (a *AuditLogger) emit(ctx context.Context, entry rbac.AuditLogEntry) {
	if a.logger == nil {
		return
	}

	fields := logrus.Fields{
		"audit":            true,
		"audit_id":         entry.ID,
		"user_id":          entry.UserID,
		"user_type":        entry.UserType,
		"hub_id":           entry.HubID,
		"action":           entry.Action,
		"resource":         entry.Resource,
		"resource_id":      entry.ResourceID,
		"success":          entry.Success,
		"sensitive_data":   entry.SensitiveData,
		"compliance_flags": entry.ComplianceFlags,
		"details":          entry.Details,
	}
	if entry.ErrorMessage != "" {
		fields["error"] = entry.ErrorMessage
	}

	le := a.logger.WithContext(ctx).WithFields(fields)
	msg := fmt.Sprintf("Audit: %s %s", entry.Action, entry.Resource)

	switch logLevel(entry) {
	case logrus.ErrorLevel:
		le.Error(msg)
	case logrus.WarnLevel:
		le.Warn(msg)
	case logrus.InfoLevel:
		le.Info(msg)
	default:
		le.Debug(msg)
	}
}

// logLevel maps an entry to its log level: failures are errors, sensitive
// data access is a warning, destructive or exporting actions are info.
func logLevel(entry rbac.AuditLogEntry) logrus.Level {
	switch {
	case !entry.Success:
		return logrus.ErrorLevel
	case entry.SensitiveData:
		return logrus.WarnLevel
	case entry.Action == rbac.ActionDelete, entry.Action == rbac.ActionExport, entry.Action == rbac.ActionCreate:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

func fromContext(ac *rbac.AccessContext) rbac.AuditLogEntry {
	if ac == nil {
		return rbac.AuditLogEntry{UserType: rbac.UserTypeAnonymous}
	}
	return rbac.AuditLogEntry{
		UserID:    ac.UserID,
		UserType:  ac.UserType,
		HubID:     ac.HubID,
		IPAddress: ac.IPAddress,
		UserAgent: ac.UserAgent,
	}
}

// LogStudentDataAccess records an operation on a student record
func (a *AuditLogger) LogStudentDataAccess(ctx context.Context, ac *rbac.AccessContext, action, studentID string, success bool, details map[string]interface{}) {
	entry := fromContext(ac)
	entry.Action = action
	entry.Resource = rbac.ResourceStudent
	entry.ResourceID = studentID
	entry.Success = success
	entry.Details = details
	entry.SensitiveData = true
	entry.ComplianceFlags = []string{rbac.ComplianceCOPPA, rbac.ComplianceGDPR}
	if !success {
		entry.ErrorMessage = detailString(details, "error")
	}

	a.LogEvent(ctx, entry)
}

// LogDeviceOperation records an operation on a device
func (a *AuditLogger) LogDeviceOperation(ctx context.Context, ac *rbac.AccessContext, action, deviceID string, success bool, details map[string]interface{}) {
	entry := fromContext(ac)
	entry.Action = action
	entry.Resource = rbac.ResourceDevice
	entry.ResourceID = deviceID
	entry.Success = success
	entry.Details = details
	if !success {
		entry.ErrorMessage = detailString(details, "error")
	}

	a.LogEvent(ctx, entry)
}

// LogAnalyticsOperation records an operation on the analytics store.
// Details must not carry event properties.
func (a *AuditLogger) LogAnalyticsOperation(ctx context.Context, ac *rbac.AccessContext, action string, success bool, details map[string]interface{}) {
	entry := fromContext(ac)
	entry.Action = action
	entry.Resource = rbac.ResourceAnalytics
	entry.Success = success
	entry.Details = details
	if action == rbac.ActionAnonymize {
		entry.ComplianceFlags = []string{rbac.ComplianceGDPR}
	}
	if !success {
		entry.ErrorMessage = detailString(details, "error")
	}

	a.LogEvent(ctx, entry)
}

// LogAuthenticationAttempt records an authentication attempt. The
// identifier itself is never stored, only its length and type.
func (a *AuditLogger) LogAuthenticationAttempt(ctx context.Context, ac *rbac.AccessContext, identifier, identifierType string, success bool, reason string) {
	entry := fromContext(ac)
	entry.Action = rbac.ActionAuthenticate
	entry.Resource = rbac.ResourceAuth
	entry.Success = success
	entry.SensitiveData = true
	entry.Details = map[string]interface{}{
		"identifier_length": len(identifier),
		"identifier_type":   identifierType,
	}
	if !success {
		entry.ErrorMessage = reason
	}

	a.LogEvent(ctx, entry)
}

// LogDataExport records an export of dataType records
func (a *AuditLogger) LogDataExport(ctx context.Context, ac *rbac.AccessContext, dataType string, recordCount int, success bool) {
	entry := fromContext(ac)
	entry.Action = rbac.ActionExport
	entry.Resource = dataType
	entry.Success = success
	entry.SensitiveData = true
	entry.ComplianceFlags = []string{rbac.ComplianceGDPR, rbac.ComplianceDataPortability}
	entry.Details = map[string]interface{}{
		"record_count": recordCount,
	}

	a.LogEvent(ctx, entry)
}

// LogDataDeletion records the deletion of a dataType record
func (a *AuditLogger) LogDataDeletion(ctx context.Context, ac *rbac.AccessContext, dataType, recordID string, success bool, reason string) {
	entry := fromContext(ac)
	entry.Action = rbac.ActionDelete
	entry.Resource = dataType
	entry.ResourceID = recordID
	entry.Success = success
	entry.SensitiveData = true
	entry.ComplianceFlags = []string{rbac.ComplianceGDPR, rbac.ComplianceRightToBeForgotten}
	entry.Details = map[string]interface{}{
		"reason": reason,
	}
	if !success {
		entry.ErrorMessage = reason
	}

	a.LogEvent(ctx, entry)
}

// GetAuditLogs returns matching entries newest first. Total counts every
// match before pagination.
func (a *AuditLogger) GetAuditLogs(filter rbac.AuditFilter) rbac.AuditPage {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	page := rbac.AuditPage{Logs: []rbac.AuditLogEntry{}}
	a.eachNewest(func(e *rbac.AuditLogEntry) bool {
		if !matches(e, &filter) {
			return true
		}
		if page.Total >= offset && len(page.Logs) < limit {
			page.Logs = append(page.Logs, cloneEntry(e))
		}
		page.Total++
		return true
	})

	return page
}

// GetComplianceReport aggregates the buffer, optionally scoped to hubID
func (a *AuditLogger) GetComplianceReport(hubID string) rbac.ComplianceReport {
	now := a.now().UTC()
	report := rbac.ComplianceReport{
		HubID:           hubID,
		ComplianceFlags: make(map[string]int),
		RecentEvents:    []rbac.AuditLogEntry{},
		GeneratedAt:     now,
	}
	since := now.Add(-recentWindow)

	a.mu.RLock()
	defer a.mu.RUnlock()

	a.eachNewest(func(e *rbac.AuditLogEntry) bool {
		if hubID != "" && e.HubID != hubID {
			return true
		}

		report.TotalEvents++
		if e.SensitiveData {
			report.SensitiveDataEvents++
		}
		if !e.Success {
			report.FailedEvents++
		}
		for _, f := range e.ComplianceFlags {
			report.ComplianceFlags[f]++
		}
		if !e.Timestamp.Before(since) && len(report.RecentEvents) < maxRecentEvents {
			report.RecentEvents = append(report.RecentEvents, cloneEntry(e))
		}
		return true
	})

	return report
}

// ClearOldLogs removes entries older than olderThanDays days and returns
// how many were removed. Non-positive values use the 90 day default.
func (a *AuditLogger) ClearOldLogs(olderThanDays int) int {
	if olderThanDays <= 0 {
		olderThanDays = rbac.DefaultAuditRetentionDays
	}
	cutoff := a.now().UTC().AddDate(0, 0, -olderThanDays)

	a.mu.Lock()
	kept := make([]rbac.AuditLogEntry, 0, a.count)
	for i := 0; i < a.count; i++ {
		e := a.buf[(a.start+i)%a.capacity]
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := a.count - len(kept)

	buf := make([]rbac.AuditLogEntry, a.capacity)
	copy(buf, kept)
	a.buf = buf
	a.start = 0
	a.count = len(kept)
	size := a.count
	a.mu.Unlock()

	if a.observer != nil {
		a.observer.SetAuditBufferSize(size)
	}
	if removed > 0 && a.logger != nil {
		a.logger.WithFields(logrus.Fields{
			"component": "audit_logger",
			"removed":   removed,
			"cutoff":    cutoff.Format(time.RFC3339),
		}).Info("Cleared old audit logs")
	}

	return removed
}

// eachNewest walks the buffer from newest to oldest. Callers hold the lock.
func (a *AuditLogger) eachNewest(fn func(*rbac.AuditLogEntry) bool) {
	for i := a.count - 1; i >= 0; i-- {
		if !fn(&a.buf[(a.start+i)%a.capacity]) {
			return
		}
	}
}

func matches(e *rbac.AuditLogEntry, f *rbac.AuditFilter) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.HubID != "" && e.HubID != f.HubID {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	if f.SensitiveData != nil && e.SensitiveData != *f.SensitiveData {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	return true
}

func cloneEntry(e *rbac.AuditLogEntry) rbac.AuditLogEntry {
	out := *e
	out.ComplianceFlags = cloneFlags(e.ComplianceFlags)
	if e.Details != nil {
		out.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return out
}

func cloneFlags(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func detailString(details map[string]interface{}, key string) string {
	if v, ok := details[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}
