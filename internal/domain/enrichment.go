package domain

import "time"

// EnrichmentRecord is a third-party profile bound to a warehouse person-id.
// At most one fresh record (age below the staleness window) exists per
// person; older records are retained for audit.
type EnrichmentRecord struct {
	PersonID         string    `json:"person_id"`
	ProviderRecordID string    `json:"provider_record_id"`
	MatchLikelihood  float64   `json:"match_likelihood"` // [0,10]
	Payload          []byte    `json:"payload"`          // opaque provider blob
	EnrichedAt       time.Time `json:"enriched_at"`

	HasEmail     bool `json:"has_email"`
	HasPhone     bool `json:"has_phone"`
	HasLinkedIn  bool `json:"has_linkedin"`
	HasJob       bool `json:"has_job"`
	HasEducation bool `json:"has_education"`

	// Extracted scalars for convenience.
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
	JobTitle string `json:"job_title,omitempty"`
	JobCompany string `json:"job_company,omitempty"`
}

// Fresh reports whether the record is within the staleness window.
func (r *EnrichmentRecord) Fresh(window time.Duration, now time.Time) bool {
	return now.Sub(r.EnrichedAt) < window
}
