package domain

import "time"

// SavedQuery is a named, re-executable SELECT definition scoped to its
// owning user (referred to as a "voter list" in the product). Only the
// query definition is persisted, never materialized rows, so reruns always
// reflect current warehouse data.
type SavedQuery struct {
	ID             string     `json:"list_id"`
	OwnerUserID    string     `json:"owner_user_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	SQLText        string     `json:"sql_text"`
	Prompt         string     `json:"natural_language_prompt,omitempty"`
	RowCount       int        `json:"row_count"` // last observed; may be stale
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	IsActive       bool       `json:"is_active"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}
