package students

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalrbac "github.com/edgehub/hubcore/internal/rbac"
	"github.com/edgehub/hubcore/pkg/codegen"
	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/rbac"
	"github.com/edgehub/hubcore/pkg/repository"
	"github.com/edgehub/hubcore/pkg/security"
	"github.com/edgehub/hubcore/pkg/types"
)

type testEnv struct {
	svc   *Service
	repo  *repository.MemoryStudentRepository
	audit *internalrbac.AuditLogger
	sec   *security.Service
}

type cryptoCounter struct {
	failures map[string]int
}

func (c *cryptoCounter) RecordCryptoFailure(op string) {
	c.failures[op]++
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLogger(t, logger.NewWithOutput("panic", io.Discard))
}

func newTestEnvWithLogger(t *testing.T, log *logger.Logger) *testEnv {
	t.Helper()

	sec, err := security.NewService(security.Options{Key: "test-key-that-is-long-enough-for-checks"})
	require.NoError(t, err)

	audit := internalrbac.NewAuditLogger(internalrbac.AuditConfig{Capacity: 100}, log)
	access := internalrbac.NewAccessControlService(audit, log)
	repo := repository.NewMemoryStudentRepository()
	codes := codegen.NewGenerator(sec, codegen.Config{}, log.Logger)

	return &testEnv{
		svc:   NewService(repo, access, audit, sec, codes, log),
		repo:  repo,
		audit: audit,
		sec:   sec,
	}
}

func systemCtx() *rbac.AccessContext {
	return &rbac.AccessContext{UserID: "sync-agent", UserType: rbac.UserTypeSystem, HubID: "hub-1"}
}

func adminCtx() *rbac.AccessContext {
	return &rbac.AccessContext{UserID: "admin-1", UserType: rbac.UserTypeAdmin, HubID: "hub-1"}
}

func intPtr(v int) *int { return &v }

func createRequest(age *int) *types.CreateStudentRequest {
	return &types.CreateStudentRequest{
		HubID:       "hub-1",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		ParentEmail: "parent@example.com",
		Age:         age,
	}
}

func TestCreateStudent_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.CreateStudent(ctx, systemCtx(), createRequest(intPtr(10)))
	require.NoError(t, err)

	st := result.Student
	assert.Equal(t, "Ada", st.FirstName)
	assert.Equal(t, "Lovelace", st.LastName)
	assert.Equal(t, "parent@example.com", st.ParentEmail)
	assert.True(t, st.ParentalConsentRequired)
	assert.False(t, st.ParentalConsentGiven)
	assert.True(t, codegen.ValidStudentCode(st.StudentCode))
	assert.Equal(t, []string{rbac.ComplianceCOPPA, rbac.ComplianceGDPR}, result.ComplianceFlags)
	assert.NotEmpty(t, result.Warnings)

	stored, err := env.repo.GetByID(ctx, st.ID)
	require.NoError(t, err)
	for _, token := range []string{stored.FirstName, stored.LastName, stored.ParentEmail} {
		assert.Len(t, strings.Split(token, ":"), 3)
		assert.True(t, security.IsEncrypted(token))
	}
	assert.NotContains(t, stored.FirstName, "Ada")

	page := env.audit.GetAuditLogs(rbac.AuditFilter{Resource: rbac.ResourceStudent, Action: rbac.ActionCreate})
	require.Len(t, page.Logs, 1)
	entry := page.Logs[0]
	assert.True(t, entry.Success)
	assert.True(t, entry.SensitiveData)
	assert.Equal(t, st.ID, entry.ResourceID)
	assert.Equal(t, []string{rbac.ComplianceCOPPA, rbac.ComplianceGDPR}, entry.ComplianceFlags)
}

func TestCreateStudent_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  *types.CreateStudentRequest
	}{
		{name: "below minimum age", req: createRequest(intPtr(2))},
		{name: "missing age", req: createRequest(nil)},
		{name: "missing name", req: &types.CreateStudentRequest{HubID: "hub-1", LastName: "X", Age: intPtr(12)}},
		{name: "nil request", req: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.svc.CreateStudent(context.Background(), systemCtx(), tt.req)
			require.Error(t, err)

			page := env.audit.GetAuditLogs(rbac.AuditFilter{Resource: rbac.ResourceStudent, Success: boolPtr(false)})
			assert.Len(t, page.Logs, 1)
			assert.NotEmpty(t, page.Logs[0].ErrorMessage)
		})
	}
}

func TestCreateStudent_AgeErrorIsValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateStudent(context.Background(), systemCtx(), createRequest(intPtr(2)))
	typ, ok := types.ErrorTypeOf(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeValidation, typ)
}

func TestCreateStudent_AccessDenied(t *testing.T) {
	env := newTestEnv(t)
	ac := &rbac.AccessContext{UserType: rbac.UserTypeAPI, HubID: "hub-1"}

	_, err := env.svc.CreateStudent(context.Background(), ac, createRequest(intPtr(14)))
	require.Error(t, err)
	assert.True(t, rbac.IsAccessError(err))

	all, err := env.repo.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, all)

	page := env.audit.GetAuditLogs(rbac.AuditFilter{Success: boolPtr(false)})
	require.Len(t, page.Logs, 1)
	assert.Equal(t, rbac.ActionCreate, page.Logs[0].Action)
}

func TestCreateStudent_RequiresHub(t *testing.T) {
	env := newTestEnv(t)
	ac := &rbac.AccessContext{UserType: rbac.UserTypeSystem}

	_, err := env.svc.CreateStudent(context.Background(), ac, createRequest(intPtr(14)))
	accessErr, ok := rbac.GetAccessError(err)
	require.True(t, ok)
	assert.Equal(t, rbac.ReasonHubRequired, accessErr.Reason)
}

func TestGetStudent_ByIDAndCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateStudent(ctx, systemCtx(), createRequest(intPtr(15)))
	require.NoError(t, err)
	assert.False(t, created.Student.ParentalConsentRequired)

	got, err := env.svc.GetStudent(ctx, systemCtx(), created.Student.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Student.FirstName)

	byCode, err := env.svc.GetStudentByCode(ctx, systemCtx(), strings.ToLower(created.Student.StudentCode))
	require.NoError(t, err)
	assert.Equal(t, created.Student.ID, byCode.Student.ID)

	_, err = env.svc.GetStudentByCode(ctx, systemCtx(), "1ABC")
	typ, _ := types.ErrorTypeOf(err)
	assert.Equal(t, types.ErrorTypeValidation, typ)

	_, err = env.svc.GetStudent(ctx, systemCtx(), "missing")
	typ, _ = types.ErrorTypeOf(err)
	assert.Equal(t, types.ErrorTypeNotFound, typ)
}

func TestListStudents_RedactsUnreadableRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	counter := &cryptoCounter{failures: map[string]int{}}
	env.svc.WithObserver(counter)

	_, err := env.svc.CreateStudent(ctx, systemCtx(), createRequest(intPtr(11)))
	require.NoError(t, err)
	require.NoError(t, env.repo.Create(ctx, &types.Student{
		HubID:       "hub-1",
		StudentCode: "ZZZ9",
		FirstName:   "not-a-token",
		LastName:    "not-a-token",
		Status:      types.StudentStatusActive,
	}))

	list, err := env.svc.ListStudents(ctx, systemCtx(), &types.StudentFilters{HubID: "hub-1"})
	require.NoError(t, err)
	require.Len(t, list, 2)

	names := map[string]string{}
	for _, st := range list {
		names[st.StudentCode] = st.FirstName
	}
	assert.Equal(t, security.Redacted, names["ZZZ9"])
	assert.Contains(t, names, "ZZZ9")
	assert.Equal(t, 1, counter.failures["decrypt"])
}

func TestUpdateStudent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateStudent(ctx, systemCtx(), createRequest(intPtr(12)))
	require.NoError(t, err)

	newName := "Augusta"
	consent := true
	updated, err := env.svc.UpdateStudent(ctx, systemCtx(), created.Student.ID, &types.StudentUpdates{
		FirstName:            &newName,
		Age:                  intPtr(13),
		ParentalConsentGiven: &consent,
	})
	require.NoError(t, err)
	assert.Equal(t, "Augusta", updated.Student.FirstName)
	assert.Equal(t, "Lovelace", updated.Student.LastName)
	assert.False(t, updated.Student.ParentalConsentRequired)
	assert.True(t, updated.Student.ParentalConsentGiven)

	stored, err := env.repo.GetByID(ctx, created.Student.ID)
	require.NoError(t, err)
	plain, err := env.sec.Decrypt(stored.FirstName)
	require.NoError(t, err)
	assert.Equal(t, "Augusta", plain)

	_, err = env.svc.UpdateStudent(ctx, systemCtx(), created.Student.ID, &types.StudentUpdates{Age: intPtr(1)})
	typ, _ := types.ErrorTypeOf(err)
	assert.Equal(t, types.ErrorTypeValidation, typ)
}

func TestDeleteAndExportStudent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateStudent(ctx, systemCtx(), createRequest(intPtr(9)))
	require.NoError(t, err)
	id := created.Student.ID

	_, err = env.svc.ExportStudentData(ctx, systemCtx(), id)
	assert.True(t, rbac.IsAccessError(err))

	export, err := env.svc.ExportStudentData(ctx, adminCtx(), id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", export.Student.FirstName)

	exports := env.audit.GetAuditLogs(rbac.AuditFilter{Action: rbac.ActionExport, Success: boolPtr(true)})
	require.Len(t, exports.Logs, 1)
	assert.Contains(t, exports.Logs[0].ComplianceFlags, rbac.ComplianceDataPortability)

	require.NoError(t, env.svc.DeleteStudent(ctx, adminCtx(), id, "parent request"))
	_, err = env.repo.GetByID(ctx, id)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	deletions := env.audit.GetAuditLogs(rbac.AuditFilter{Action: rbac.ActionDelete, Success: boolPtr(true)})
	require.Len(t, deletions.Logs, 1)
	assert.Contains(t, deletions.Logs[0].ComplianceFlags, rbac.ComplianceRightToBeForgotten)

	err = env.svc.DeleteStudent(ctx, adminCtx(), id, "")
	typ, _ := types.ErrorTypeOf(err)
	assert.Equal(t, types.ErrorTypeNotFound, typ)
}

func TestApplyRetention(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	stale := &types.Student{HubID: "hub-1", StudentCode: "AAA2", Status: types.StudentStatusInactive,
		Age: intPtr(10), LastActivityAt: now.AddDate(-3, 0, -1)}
	fresh := &types.Student{HubID: "hub-1", StudentCode: "AAA3", Status: types.StudentStatusActive,
		LastActivityAt: now.AddDate(-2, 0, 0)}
	require.NoError(t, env.repo.Create(ctx, stale))
	require.NoError(t, env.repo.Create(ctx, fresh))

	removed, err := env.svc.ApplyRetention(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = env.repo.GetByID(ctx, stale.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = env.repo.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)

	page := env.audit.GetAuditLogs(rbac.AuditFilter{Action: rbac.ActionDelete})
	require.Len(t, page.Logs, 1)
	assert.Equal(t, rbac.UserTypeSystem, page.Logs[0].UserType)
	assert.Equal(t, stale.ID, page.Logs[0].ResourceID)
}

func boolPtr(v bool) *bool { return &v }

func TestCreateStudent_LogsPendingConsent(t *testing.T) {
	var buf bytes.Buffer
	env := newTestEnvWithLogger(t, logger.NewWithOutput("info", &buf))
	ctx := context.Background()

	_, err := env.svc.CreateStudent(ctx, systemCtx(), createRequest(intPtr(15)))
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "parental_consent_pending")

	created, err := env.svc.CreateStudent(ctx, systemCtx(), createRequest(intPtr(8)))
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `"compliance":true`)
	assert.Contains(t, out, "parental_consent_pending")
	assert.Contains(t, out, created.Student.ID)
	assert.NotContains(t, out, "Lovelace")
}

func TestStudents_ScopedToCallerHub(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateStudent(ctx, systemCtx(), createRequest(intPtr(12)))
	require.NoError(t, err)
	id := created.Student.ID

	otherAPI := &rbac.AccessContext{UserID: "api-2", UserType: rbac.UserTypeAPI, HubID: "hub-2"}
	otherAdmin := &rbac.AccessContext{UserID: "admin-2", UserType: rbac.UserTypeAdmin, HubID: "hub-2"}

	_, err = env.svc.GetStudent(ctx, otherAPI, id)
	assert.True(t, rbac.IsAccessError(err))

	_, err = env.svc.GetStudentByCode(ctx, otherAPI, created.Student.StudentCode)
	assert.True(t, rbac.IsAccessError(err))

	list, err := env.svc.ListStudents(ctx, otherAPI, &types.StudentFilters{HubID: "hub-1"})
	require.NoError(t, err)
	assert.Empty(t, list)

	newName := "Mallory"
	_, err = env.svc.UpdateStudent(ctx, otherAdmin, id, &types.StudentUpdates{FirstName: &newName})
	assert.True(t, rbac.IsAccessError(err))

	_, err = env.svc.ExportStudentData(ctx, otherAdmin, id)
	assert.True(t, rbac.IsAccessError(err))

	err = env.svc.DeleteStudent(ctx, otherAdmin, id, "")
	assert.True(t, rbac.IsAccessError(err))

	got, err := env.svc.GetStudent(ctx, adminCtx(), id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Student.FirstName)

	unbound := &rbac.AccessContext{UserID: "admin-0", UserType: rbac.UserTypeAdmin}
	list, err = env.svc.ListStudents(ctx, unbound, &types.StudentFilters{HubID: "hub-1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	denied := env.audit.GetAuditLogs(rbac.AuditFilter{Resource: rbac.ResourceStudent, Success: boolPtr(false)})
	require.Len(t, denied.Logs, 5)
	for _, entry := range denied.Logs {
		assert.Equal(t, "hub-2", entry.HubID)
		assert.Contains(t, entry.ErrorMessage, rbac.ReasonHubMismatch)
	}
}
