package rbac

import (
	"sort"
)

type ruleKey struct {
	resource string
	action   string
}

var (
	adminOnly          = []string{UserTypeAdmin}
	adminSystem        = []string{UserTypeAdmin, UserTypeSystem}
	adminSystemAPI     = []string{UserTypeAdmin, UserTypeSystem, UserTypeAPI}
	systemAPI          = []string{UserTypeSystem, UserTypeAPI}
	systemAPIAnonymous = []string{UserTypeSystem, UserTypeAPI, UserTypeAnonymous}

	studentFlags = []string{ComplianceCOPPA, ComplianceGDPR}
)

// accessRules is never mutated after init
var accessRules = buildRules([]AccessRule{
	{
		Resource:            ResourceStudent,
		Action:              ActionView,
		AllowedUserTypes:    adminSystemAPI,
		RequiredPermissions: []string{PermissionStudentRead},
		RequiresHub:         true,
		SensitiveData:       true,
		ComplianceFlags:     studentFlags,
	},
	{
		Resource:            ResourceStudent,
		Action:              ActionCreate,
		AllowedUserTypes:    adminSystem,
		RequiredPermissions: []string{PermissionStudentWrite},
		RequiresHub:         true,
		SensitiveData:       true,
		ComplianceFlags:     studentFlags,
	},
	{
		Resource:            ResourceStudent,
		Action:              ActionUpdate,
		AllowedUserTypes:    adminSystem,
		RequiredPermissions: []string{PermissionStudentWrite},
		RequiresHub:         true,
		SensitiveData:       true,
		ComplianceFlags:     studentFlags,
	},
	{
		Resource:            ResourceStudent,
		Action:              ActionDelete,
		AllowedUserTypes:    adminOnly,
		RequiredPermissions: []string{PermissionStudentDelete},
		SensitiveData:       true,
		ComplianceFlags:     []string{ComplianceCOPPA, ComplianceGDPR, ComplianceRightToBeForgotten},
	},
	{
		Resource:            ResourceStudent,
		Action:              ActionExport,
		AllowedUserTypes:    adminOnly,
		RequiredPermissions: []string{PermissionStudentExport},
		SensitiveData:       true,
		ComplianceFlags:     []string{ComplianceGDPR, ComplianceDataPortability},
	},
	{
		Resource:         ResourceDevice,
		Action:           ActionRegister,
		AllowedUserTypes: systemAPIAnonymous,
	},
	{
		Resource:         ResourceDevice,
		Action:           ActionValidate,
		AllowedUserTypes: systemAPIAnonymous,
	},
	{
		Resource:            ResourceDevice,
		Action:              ActionView,
		AllowedUserTypes:    adminSystemAPI,
		RequiredPermissions: []string{PermissionDeviceRead},
	},
	{
		Resource:            ResourceDevice,
		Action:              ActionUpdate,
		AllowedUserTypes:    adminSystem,
		RequiredPermissions: []string{PermissionDeviceWrite},
	},
	{
		Resource:            ResourceDevice,
		Action:              ActionDelete,
		AllowedUserTypes:    adminOnly,
		RequiredPermissions: []string{PermissionDeviceDelete},
	},
	{
		Resource:         ResourceDevice,
		Action:           ActionAuthenticate,
		AllowedUserTypes: systemAPIAnonymous,
	},
	{
		Resource:         ResourceAnalytics,
		Action:           ActionCollect,
		AllowedUserTypes: systemAPI,
	},
	{
		Resource:            ResourceAnalytics,
		Action:              ActionView,
		AllowedUserTypes:    adminSystem,
		RequiredPermissions: []string{PermissionAnalyticsRead},
	},
	{
		Resource:            ResourceAnalytics,
		Action:              ActionExport,
		AllowedUserTypes:    adminOnly,
		RequiredPermissions: []string{PermissionAnalyticsExport},
		SensitiveData:       true,
		ComplianceFlags:     []string{ComplianceGDPR},
	},
	{
		Resource:            ResourceHub,
		Action:              ActionView,
		AllowedUserTypes:    adminSystemAPI,
		RequiredPermissions: []string{PermissionHubRead},
	},
	{
		Resource:            ResourceHub,
		Action:              ActionManage,
		AllowedUserTypes:    adminOnly,
		RequiredPermissions: []string{PermissionHubManage},
	},
	{
		Resource:            ResourceAudit,
		Action:              ActionView,
		AllowedUserTypes:    adminOnly,
		RequiredPermissions: []string{PermissionAuditRead},
		SensitiveData:       true,
	},
	{
		Resource:            ResourceAudit,
		Action:              ActionExport,
		AllowedUserTypes:    adminOnly,
		RequiredPermissions: []string{PermissionAuditExport},
		SensitiveData:       true,
		ComplianceFlags:     []string{ComplianceGDPR},
	},
})

func buildRules(rules []AccessRule) map[ruleKey]AccessRule {
	m := make(map[ruleKey]AccessRule, len(rules))
	for _, r := range rules {
		k := ruleKey{resource: r.Resource, action: r.Action}
		if _, dup := m[k]; dup {
			panic("duplicate access rule " + r.Resource + ":" + r.Action)
		}
		m[k] = r
	}
	return m
}

// LookupRule returns a copy of the rule for (resource, action)
func LookupRule(resource, action string) (AccessRule, bool) {
	r, ok := accessRules[ruleKey{resource: resource, action: action}]
	if !ok {
		return AccessRule{}, false
	}
	return r.clone(), true
}

// Rules returns a copy of the rule table ordered by resource and action
func Rules() []AccessRule {
	out := make([]AccessRule, 0, len(accessRules))
	for _, r := range accessRules {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out
}

func (r AccessRule) clone() AccessRule {
	r.AllowedUserTypes = cloneStrings(r.AllowedUserTypes)
	r.RequiredPermissions = cloneStrings(r.RequiredPermissions)
	r.ComplianceFlags = cloneStrings(r.ComplianceFlags)
	return r
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
