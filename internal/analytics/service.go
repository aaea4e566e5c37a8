// Package analytics collects device usage events in a bounded in-memory
// store and ages student identifiers out of them.
package analytics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/rbac"
	"github.com/edgehub/hubcore/pkg/security"
	"github.com/edgehub/hubcore/pkg/types"
)

// DefaultCapacity bounds the number of events held in memory
const DefaultCapacity = 50000

// Config holds analytics store settings
type Config struct {
	Capacity int
}

// Service stores analytics events. The oldest event is evicted once the
// store is full.
type Service struct {
	mu       sync.RWMutex
	events   []types.AnalyticsEvent
	start    int
	capacity int

	access rbac.AccessEnforcer
	audit  rbac.AuditRecorder
	logger *logger.Logger
	now    func() time.Time
}

// NewService creates an analytics service
func NewService(cfg Config, access rbac.AccessEnforcer, audit rbac.AuditRecorder, log *logger.Logger) *Service {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Service{
		capacity: cfg.Capacity,
		access:   access,
		audit:    audit,
		logger:   log,
		now:      time.Now,
	}
}

// Collect stores one usage event. Sensitive property keys are redacted
// before storage.
func (s *Service) Collect(ctx context.Context, ac *rbac.AccessContext, event *types.AnalyticsEvent) (*types.AnalyticsEvent, error) {
	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceAnalytics, rbac.ActionCollect, ""); err != nil {
		return nil, err
	}

	var verrs rbac.ValidationErrors
	if event == nil || strings.TrimSpace(event.EventType) == "" {
		verrs.Add("event_type", "event type is required")
		s.audit.LogAnalyticsOperation(ctx, ac, rbac.ActionCollect, false, map[string]interface{}{
			"error": verrs.Error(),
		})
		return nil, verrs
	}

	stored := *event
	stored.ID = uuid.New().String()
	stored.Anonymized = false
	stored.Properties = security.SanitizeForLogging(event.Properties)
	if stored.HubID == "" && ac != nil {
		stored.HubID = ac.HubID
	}
	if stored.OccurredAt.IsZero() {
		stored.OccurredAt = s.now().UTC()
	}

	s.mu.Lock()
	s.push(stored)
	s.mu.Unlock()

	s.audit.LogAnalyticsOperation(ctx, ac, rbac.ActionCollect, true, map[string]interface{}{
		"event_id":   stored.ID,
		"event_type": stored.EventType,
		"hub_id":     stored.HubID,
	})
	s.logger.WithContext(ctx).WithField("event_type", stored.EventType).Debug("Analytics event collected")
	return cloneEvent(stored), nil
}

// Len returns the number of stored events
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Summary aggregates the events of hubID. An empty hubID covers every hub.
func (s *Service) Summary(ctx context.Context, ac *rbac.AccessContext, hubID string) (*types.AnalyticsSummary, error) {
	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceAnalytics, rbac.ActionView, hubID); err != nil {
		return nil, err
	}

	summary := &types.AnalyticsSummary{
		HubID:        hubID,
		EventsByType: make(map[string]int),
		GeneratedAt:  s.now().UTC(),
	}
	devices := make(map[string]struct{})
	students := make(map[string]struct{})

	s.mu.RLock()
	s.each(func(e *types.AnalyticsEvent) {
		if hubID != "" && e.HubID != hubID {
			return
		}
		summary.TotalEvents++
		summary.EventsByType[e.EventType]++
		if e.DeviceID != "" {
			devices[e.DeviceID] = struct{}{}
		}
		if e.StudentID != "" {
			students[e.StudentID] = struct{}{}
		}
		if e.Anonymized {
			summary.AnonymizedEvents++
		}
	})
	s.mu.RUnlock()

	summary.UniqueDevices = len(devices)
	summary.UniqueStudents = len(students)

	s.audit.LogAnalyticsOperation(ctx, ac, rbac.ActionView, true, map[string]interface{}{
		"hub_id":       hubID,
		"total_events": summary.TotalEvents,
	})
	return summary, nil
}

// ExportEvents returns copies of the events of hubID
func (s *Service) ExportEvents(ctx context.Context, ac *rbac.AccessContext, hubID string) ([]*types.AnalyticsEvent, error) {
	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceAnalytics, rbac.ActionExport, hubID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]*types.AnalyticsEvent, 0, len(s.events))
	s.each(func(e *types.AnalyticsEvent) {
		if hubID == "" || e.HubID == hubID {
			out = append(out, cloneEvent(*e))
		}
	})
	s.mu.RUnlock()

	s.audit.LogDataExport(ctx, ac, rbac.DataTypeAnalytics, len(out), true)
	return out, nil
}

// Anonymize strips student identifiers from events whose retention period
// has lapsed as of now. It returns the number of events changed.
func (s *Service) Anonymize(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	changed := 0
	s.each(func(e *types.AnalyticsEvent) {
		if e.Anonymized {
			return
		}
		decision := rbac.ShouldRetainDataAt(rbac.DataTypeAnalytics, e.OccurredAt, nil, now)
		if decision.Retain || decision.Action != rbac.RetentionActionAnonymize {
			return
		}
		e.StudentID = ""
		e.Properties = nil
		e.Anonymized = true
		changed++
	})
	s.mu.Unlock()

	if changed > 0 {
		s.audit.LogAnalyticsOperation(ctx, rbac.SystemContext("retention-sweeper"), rbac.ActionAnonymize, true, map[string]interface{}{
			"record_count": changed,
			"cutoff":       now.UTC(),
		})
		s.logger.WithComponent("analytics").WithField("count", changed).Info("Anonymized analytics events")
	}
	return changed, nil
}

// push appends e, overwriting the oldest event once the store is full.
// Callers hold mu.
func (s *Service) push(e types.AnalyticsEvent) {
	if len(s.events) < s.capacity {
		s.events = append(s.events, e)
		return
	}
	s.events[s.start] = e
	s.start = (s.start + 1) % s.capacity
}

// each visits events oldest first. Callers hold mu.
func (s *Service) each(fn func(*types.AnalyticsEvent)) {
	n := len(s.events)
	for i := 0; i < n; i++ {
		fn(&s.events[(s.start+i)%n])
	}
}

func cloneEvent(e types.AnalyticsEvent) *types.AnalyticsEvent {
	out := e
	if e.Properties != nil {
		out.Properties = make(map[string]interface{}, len(e.Properties))
		for k, v := range e.Properties {
			out.Properties[k] = v
		}
	}
	return &out
}
