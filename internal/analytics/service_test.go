package analytics

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalrbac "github.com/edgehub/hubcore/internal/rbac"
	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/rbac"
	"github.com/edgehub/hubcore/pkg/security"
	"github.com/edgehub/hubcore/pkg/types"
)

func newTestService(capacity int) (*Service, *internalrbac.AuditLogger) {
	log := logger.NewWithOutput("panic", io.Discard)
	audit := internalrbac.NewAuditLogger(internalrbac.AuditConfig{Capacity: 100}, log)
	access := internalrbac.NewAccessControlService(audit, log)
	return NewService(Config{Capacity: capacity}, access, audit, log), audit
}

var apiCtx = &rbac.AccessContext{UserID: "tablet-app", UserType: rbac.UserTypeAPI, HubID: "hub-1"}

func TestCollect(t *testing.T) {
	svc, _ := newTestService(10)

	stored, err := svc.Collect(context.Background(), apiCtx, &types.AnalyticsEvent{
		DeviceID:   "d1",
		StudentID:  "s1",
		EventType:  "lesson_started",
		Properties: map[string]interface{}{"lesson": "fractions", "first_name": "Ada"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "hub-1", stored.HubID)
	assert.False(t, stored.OccurredAt.IsZero())
	assert.Equal(t, security.Redacted, stored.Properties["first_name"])
	assert.Equal(t, "fractions", stored.Properties["lesson"])

	_, err = svc.Collect(context.Background(), apiCtx, &types.AnalyticsEvent{})
	var verrs rbac.ValidationErrors
	assert.ErrorAs(t, err, &verrs)

	_, err = svc.Collect(context.Background(), &rbac.AccessContext{UserType: rbac.UserTypeAnonymous}, &types.AnalyticsEvent{EventType: "x"})
	assert.True(t, rbac.IsAccessError(err))
}

func TestCollect_EvictsOldest(t *testing.T) {
	svc, _ := newTestService(3)
	ctx := context.Background()

	for _, typ := range []string{"a", "b", "c", "d"} {
		_, err := svc.Collect(ctx, apiCtx, &types.AnalyticsEvent{EventType: typ})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, svc.Len())

	summary, err := svc.Summary(ctx, rbac.SystemContext("report"), "")
	require.NoError(t, err)
	assert.NotContains(t, summary.EventsByType, "a")
	assert.Equal(t, 1, summary.EventsByType["d"])
}

func TestSummary(t *testing.T) {
	svc, _ := newTestService(100)
	ctx := context.Background()

	events := []types.AnalyticsEvent{
		{HubID: "hub-1", DeviceID: "d1", StudentID: "s1", EventType: "lesson_started"},
		{HubID: "hub-1", DeviceID: "d1", StudentID: "s2", EventType: "lesson_started"},
		{HubID: "hub-1", DeviceID: "d2", StudentID: "s1", EventType: "quiz_completed"},
		{HubID: "hub-2", DeviceID: "d3", EventType: "lesson_started"},
	}
	for i := range events {
		_, err := svc.Collect(ctx, apiCtx, &events[i])
		require.NoError(t, err)
	}

	summary, err := svc.Summary(ctx, rbac.SystemContext("report"), "hub-1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalEvents)
	assert.Equal(t, map[string]int{"lesson_started": 2, "quiz_completed": 1}, summary.EventsByType)
	assert.Equal(t, 2, summary.UniqueDevices)
	assert.Equal(t, 2, summary.UniqueStudents)

	_, err = svc.Summary(ctx, apiCtx, "hub-1")
	assert.True(t, rbac.IsAccessError(err))
}

func TestAnonymize(t *testing.T) {
	svc, _ := newTestService(100)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.Collect(ctx, apiCtx, &types.AnalyticsEvent{
		StudentID: "s1", EventType: "old", OccurredAt: now.AddDate(-2, 0, -1),
		Properties: map[string]interface{}{"score": 9},
	})
	require.NoError(t, err)
	_, err = svc.Collect(ctx, apiCtx, &types.AnalyticsEvent{
		StudentID: "s2", EventType: "recent", OccurredAt: now.AddDate(-1, 0, 0),
	})
	require.NoError(t, err)

	changed, err := svc.Anonymize(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	again, err := svc.Anonymize(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, again)

	summary, err := svc.Summary(ctx, rbac.SystemContext("report"), "hub-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AnonymizedEvents)
	assert.Equal(t, 1, summary.UniqueStudents)
}

func TestExportEvents(t *testing.T) {
	svc, audit := newTestService(100)
	ctx := context.Background()

	_, err := svc.Collect(ctx, apiCtx, &types.AnalyticsEvent{EventType: "lesson_started"})
	require.NoError(t, err)

	admin := &rbac.AccessContext{UserID: "admin-1", UserType: rbac.UserTypeAdmin}
	exported, err := svc.ExportEvents(ctx, admin, "hub-1")
	require.NoError(t, err)
	assert.Len(t, exported, 1)

	page := audit.GetAuditLogs(rbac.AuditFilter{Action: rbac.ActionExport, Resource: rbac.DataTypeAnalytics})
	require.Len(t, page.Logs, 1)
	assert.Equal(t, 1, page.Logs[0].Details["record_count"])
}

func TestCollect_RingKeepsArrivalOrder(t *testing.T) {
	svc, _ := newTestService(3)
	ctx := context.Background()

	for _, typ := range []string{"a", "b", "c", "d", "e"} {
		_, err := svc.Collect(ctx, apiCtx, &types.AnalyticsEvent{HubID: "hub-1", EventType: typ})
		require.NoError(t, err)
	}

	admin := &rbac.AccessContext{UserID: "admin-1", UserType: rbac.UserTypeAdmin}
	exported, err := svc.ExportEvents(ctx, admin, "")
	require.NoError(t, err)

	var order []string
	for _, e := range exported {
		order = append(order, e.EventType)
	}
	assert.Equal(t, []string{"c", "d", "e"}, order)
}

func TestService_AuditsOutcomes(t *testing.T) {
	svc, audit := newTestService(100)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.Collect(ctx, apiCtx, &types.AnalyticsEvent{
		StudentID: "s1", EventType: "lesson_started", OccurredAt: now.AddDate(-3, 0, 0),
		Properties: map[string]interface{}{"score": 7},
	})
	require.NoError(t, err)
	_, err = svc.Collect(ctx, apiCtx, &types.AnalyticsEvent{})
	require.Error(t, err)

	collected := audit.GetAuditLogs(rbac.AuditFilter{Resource: rbac.ResourceAnalytics, Action: rbac.ActionCollect})
	require.Len(t, collected.Logs, 2)
	failed, ok := collected.Logs[0], collected.Logs[1]
	assert.False(t, failed.Success)
	assert.Contains(t, failed.ErrorMessage, "event type is required")
	assert.True(t, ok.Success)
	assert.Equal(t, "lesson_started", ok.Details["event_type"])
	assert.NotContains(t, ok.Details, "score")
	assert.Equal(t, "tablet-app", ok.UserID)

	_, err = svc.Summary(ctx, rbac.SystemContext("report"), "hub-1")
	require.NoError(t, err)
	views := audit.GetAuditLogs(rbac.AuditFilter{Resource: rbac.ResourceAnalytics, Action: rbac.ActionView})
	require.Len(t, views.Logs, 1)
	assert.True(t, views.Logs[0].Success)
	assert.Equal(t, 1, views.Logs[0].Details["total_events"])

	changed, err := svc.Anonymize(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, changed)
	_, err = svc.Anonymize(ctx, now)
	require.NoError(t, err)

	anonymized := audit.GetAuditLogs(rbac.AuditFilter{Resource: rbac.ResourceAnalytics, Action: rbac.ActionAnonymize})
	require.Len(t, anonymized.Logs, 1)
	entry := anonymized.Logs[0]
	assert.Equal(t, rbac.UserTypeSystem, entry.UserType)
	assert.Equal(t, 1, entry.Details["record_count"])
	assert.Equal(t, []string{rbac.ComplianceGDPR}, entry.ComplianceFlags)
}
