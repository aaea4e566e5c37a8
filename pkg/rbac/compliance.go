package rbac

import (
	"fmt"
	"time"
)

var coppaRequirements = []Requirement{
	{ID: "parental_consent", Description: "Verifiable parental consent is required before collecting personal information from children under 13"},
	{ID: "data_minimization", Description: "Collect only the personal information reasonably necessary for the activity"},
	{ID: "parental_access", Description: "Parents may review and request deletion of their child's personal information"},
	{ID: "secure_storage", Description: "Personal information of children must be protected with reasonable security measures"},
	{ID: "retention_limit", Description: "Children's personal information is retained only as long as necessary for its purpose"},
}

var gdprRequirements = []Requirement{
	{ID: "lawful_basis", Description: "Processing of personal data requires a lawful basis"},
	{ID: "right_of_access", Description: "Data subjects may obtain a copy of their personal data"},
	{ID: "right_to_erasure", Description: "Data subjects may request deletion of their personal data"},
	{ID: "data_portability", Description: "Personal data is exportable in a structured machine-readable form"},
	{ID: "privacy_by_design", Description: "Personal data is encrypted at rest and access is logged"},
	{ID: "storage_limitation", Description: "Personal data is kept no longer than necessary"},
}

var retentionPolicies = map[string]RetentionPolicy{
	DataTypeStudent: {
		DataType:    DataTypeStudent,
		Years:       3,
		Action:      RetentionActionDelete,
		Description: "Student records are deleted 3 years after last activity",
	},
	DataTypeAnalytics: {
		DataType:    DataTypeAnalytics,
		Years:       2,
		Action:      RetentionActionAnonymize,
		Description: "Analytics events are anonymized 2 years after collection",
	},
	DataTypeAudit: {
		DataType:    DataTypeAudit,
		Years:       7,
		Action:      RetentionActionDelete,
		Description: "Audit records are deleted 7 years after creation",
	},
}

// COPPARequirements returns the COPPA requirement descriptions
func COPPARequirements() []Requirement {
	out := make([]Requirement, len(coppaRequirements))
	copy(out, coppaRequirements)
	return out
}

// GDPRRequirements returns the GDPR requirement descriptions
func GDPRRequirements() []Requirement {
	out := make([]Requirement, len(gdprRequirements))
	copy(out, gdprRequirements)
	return out
}

// RetentionPolicies returns the retention policy table keyed by data type
func RetentionPolicies() map[string]RetentionPolicy {
	out := make(map[string]RetentionPolicy, len(retentionPolicies))
	for k, v := range retentionPolicies {
		out[k] = v
	}
	return out
}

// ValidateStudentAge applies the COPPA age rules. A nil age is treated as
// unknown.
func ValidateStudentAge(age *int) AgeValidation {
	if age == nil {
		return AgeValidation{
			Compliant:               false,
			RequiresParentalConsent: true,
			Warnings:                []string{"Student age is required for COPPA compliance"},
		}
	}

	switch {
	case *age < MinimumStudentAge:
		return AgeValidation{
			Compliant: false,
			Warnings:  []string{fmt.Sprintf("Student age %d is below the minimum supported age of %d", *age, MinimumStudentAge)},
		}
	case *age < COPPAConsentAge:
		return AgeValidation{
			Compliant:               true,
			RequiresParentalConsent: true,
			Warnings:                []string{"Parental consent is required for students under 13 (COPPA)"},
		}
	default:
		return AgeValidation{Compliant: true}
	}
}

// ShouldRetainData evaluates the retention policy for dataType against the
// current time.
func ShouldRetainData(dataType string, lastActivity time.Time, studentAge *int) RetentionDecision {
	return ShouldRetainDataAt(dataType, lastActivity, studentAge, time.Now())
}

// ShouldRetainDataAt evaluates the retention policy for dataType as of now.
// Data types without a policy are always retained.
func ShouldRetainDataAt(dataType string, lastActivity time.Time, studentAge *int, now time.Time) RetentionDecision {
	policy, ok := retentionPolicies[dataType]
	if !ok {
		return RetentionDecision{
			Retain: true,
			Reason: fmt.Sprintf("No retention policy defined for %s", dataType),
		}
	}

	cutoff := lastActivity.AddDate(policy.Years, 0, 0)
	subject := policy.DataType + " data"
	if dataType == DataTypeStudent && studentAge != nil && *studentAge < COPPAConsentAge {
		subject = "COPPA-protected student data"
	}

	if now.After(cutoff) {
		return RetentionDecision{
			Retain: false,
			Reason: fmt.Sprintf("Retention period of %d years exceeded for %s", policy.Years, subject),
			Action: policy.Action,
		}
	}

	return RetentionDecision{
		Retain: true,
		Reason: fmt.Sprintf("Within %d year retention period for %s", policy.Years, subject),
	}
}
