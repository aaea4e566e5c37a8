package rbac

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestValidateStudentAge(t *testing.T) {
	tests := []struct {
		name      string
		age       *int
		compliant bool
		consent   bool
	}{
		{name: "missing", age: nil, compliant: false, consent: true},
		{name: "two", age: intPtr(2), compliant: false, consent: false},
		{name: "three", age: intPtr(3), compliant: true, consent: true},
		{name: "twelve", age: intPtr(12), compliant: true, consent: true},
		{name: "thirteen", age: intPtr(13), compliant: true, consent: false},
		{name: "seventeen", age: intPtr(17), compliant: true, consent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ValidateStudentAge(tt.age)
			assert.Equal(t, tt.compliant, v.Compliant)
			assert.Equal(t, tt.consent, v.RequiresParentalConsent)
			if !tt.compliant || tt.consent {
				assert.NotEmpty(t, v.Warnings)
			}
		})
	}
}

func TestShouldRetainData(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	d := ShouldRetainDataAt(DataTypeStudent, now.AddDate(-3, 0, -1), nil, now)
	assert.False(t, d.Retain)
	assert.Equal(t, RetentionActionDelete, d.Action)

	d = ShouldRetainDataAt(DataTypeStudent, now.AddDate(-2, 0, 0), nil, now)
	assert.True(t, d.Retain)
	assert.Empty(t, d.Action)

	d = ShouldRetainDataAt(DataTypeAnalytics, now.AddDate(-2, 0, -1), nil, now)
	assert.False(t, d.Retain)
	assert.Equal(t, RetentionActionAnonymize, d.Action)

	d = ShouldRetainDataAt(DataTypeAudit, now.AddDate(-6, 0, 0), nil, now)
	assert.True(t, d.Retain)

	d = ShouldRetainDataAt(DataTypeAudit, now.AddDate(-7, 0, -1), nil, now)
	assert.False(t, d.Retain)
	assert.Equal(t, RetentionActionDelete, d.Action)

	d = ShouldRetainDataAt(DataTypeStudent, now.AddDate(-4, 0, 0), intPtr(9), now)
	assert.False(t, d.Retain)
	assert.Contains(t, d.Reason, "COPPA")

	d = ShouldRetainDataAt("photos", now.AddDate(-50, 0, 0), nil, now)
	assert.True(t, d.Retain)

	d = ShouldRetainData(DataTypeStudent, time.Now().AddDate(-3, 0, -1), nil)
	assert.False(t, d.Retain)
}

func TestReferenceData_IsCopied(t *testing.T) {
	policies := RetentionPolicies()
	require.Len(t, policies, 3)
	assert.Equal(t, 3, policies[DataTypeStudent].Years)
	assert.Equal(t, 2, policies[DataTypeAnalytics].Years)
	assert.Equal(t, 7, policies[DataTypeAudit].Years)

	policies[DataTypeStudent] = RetentionPolicy{Years: 100}
	assert.Equal(t, 3, RetentionPolicies()[DataTypeStudent].Years)

	coppa := COPPARequirements()
	require.NotEmpty(t, coppa)
	coppa[0].Description = "changed"
	assert.NotEqual(t, "changed", COPPARequirements()[0].Description)

	assert.NotEmpty(t, GDPRRequirements())
}

func TestRuleTable(t *testing.T) {
	rule, ok := LookupRule(ResourceStudent, ActionDelete)
	require.True(t, ok)
	assert.Equal(t, []string{UserTypeAdmin}, rule.AllowedUserTypes)
	assert.Equal(t, []string{ComplianceCOPPA, ComplianceGDPR, ComplianceRightToBeForgotten}, rule.ComplianceFlags)
	assert.True(t, rule.SensitiveData)

	rule, ok = LookupRule(ResourceDevice, ActionRegister)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{UserTypeSystem, UserTypeAPI, UserTypeAnonymous}, rule.AllowedUserTypes)
	assert.Empty(t, rule.RequiredPermissions)
	assert.False(t, rule.RequiresHub)

	_, ok = LookupRule("unknown-resource", "unknown-action")
	assert.False(t, ok)

	// callers cannot mutate the table through a returned rule
	rule, _ = LookupRule(ResourceStudent, ActionView)
	rule.AllowedUserTypes[0] = UserTypeAnonymous
	again, _ := LookupRule(ResourceStudent, ActionView)
	assert.Equal(t, UserTypeAdmin, again.AllowedUserTypes[0])

	assert.Len(t, Rules(), 18)
}

func TestAccessError(t *testing.T) {
	ac := &AccessContext{UserID: "u1", UserType: UserTypeAPI}
	decision := &AccessDecision{Reason: ReasonMissingPermissions}

	err := fmt.Errorf("create student: %w", NewAccessError(ac, ResourceStudent, ActionCreate, "", decision))

	assert.True(t, errors.Is(err, ErrAccessDenied))
	assert.True(t, IsAccessError(err))

	accessErr, ok := GetAccessError(err)
	require.True(t, ok)
	assert.Equal(t, UserTypeAPI, accessErr.UserType)
	assert.Contains(t, err.Error(), ReasonMissingPermissions)
}

func TestAccessContext_HasPermission(t *testing.T) {
	ac := &AccessContext{Permissions: []string{PermissionStudentRead}}
	assert.True(t, ac.HasPermission(PermissionStudentRead))
	assert.False(t, ac.HasPermission(PermissionStudentWrite))
}
