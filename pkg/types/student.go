package types

import "time"

// StudentStatus represents the lifecycle state of a student record
type StudentStatus string

const (
	StudentStatusActive   StudentStatus = "active"
	StudentStatusInactive StudentStatus = "inactive"
)

// Student represents a student enrolled on a hub. FirstName, LastName and
// ParentEmail hold ciphertext tokens while at rest.
type Student struct {
	ID                      string        `json:"id" db:"id"`
	HubID                   string        `json:"hub_id" db:"hub_id"`
	StudentCode             string        `json:"student_code" db:"student_code"`
	FirstName               string        `json:"first_name" db:"first_name"`
	LastName                string        `json:"last_name" db:"last_name"`
	ParentEmail             string        `json:"parent_email,omitempty" db:"parent_email"`
	Age                     *int          `json:"age,omitempty" db:"age"`
	ParentalConsentRequired bool          `json:"parental_consent_required" db:"parental_consent_required"`
	ParentalConsentGiven    bool          `json:"parental_consent_given" db:"parental_consent_given"`
	Status                  StudentStatus `json:"status" db:"status"`
	LastActivityAt          time.Time     `json:"last_activity_at" db:"last_activity_at"`
	CreatedAt               time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the student
func (s *Student) Clone() *Student {
	out := *s
	if s.Age != nil {
		age := *s.Age
		out.Age = &age
	}
	return &out
}

// CreateStudentRequest represents student creation data
type CreateStudentRequest struct {
	HubID                string `json:"hub_id"`
	FirstName            string `json:"first_name"`
	LastName             string `json:"last_name"`
	ParentEmail          string `json:"parent_email,omitempty"`
	Age                  *int   `json:"age,omitempty"`
	ParentalConsentGiven bool   `json:"parental_consent_given"`
}

// StudentUpdates represents a partial student update. Nil fields are left
// unchanged.
type StudentUpdates struct {
	FirstName            *string        `json:"first_name,omitempty"`
	LastName             *string        `json:"last_name,omitempty"`
	ParentEmail          *string        `json:"parent_email,omitempty"`
	Age                  *int           `json:"age,omitempty"`
	ParentalConsentGiven *bool          `json:"parental_consent_given,omitempty"`
	Status               *StudentStatus `json:"status,omitempty"`
}

// StudentFilters represents filters for student listing
type StudentFilters struct {
	HubID  string        `json:"hub_id,omitempty"`
	Status StudentStatus `json:"status,omitempty"`
	Limit  int           `json:"limit,omitempty"`
	Offset int           `json:"offset,omitempty"`
}

// StudentResult is a created or fetched student plus COPPA outcome
type StudentResult struct {
	Student         *Student `json:"student"`
	ComplianceFlags []string `json:"compliance_flags,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// StudentExport is the portable form of one student's data
type StudentExport struct {
	Student    *Student  `json:"student"`
	ExportedAt time.Time `json:"exported_at"`
}
