package domain

import "time"

// MessageRole identifies the speaker of a conversation turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Session is a conversation container owned by one user.
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsActive  bool      `json:"is_active"`
}

// Message is one turn of one speaker within a session.
// SequenceNumber is monotonic within the session, starting at 1 and dense:
// two concurrent appends must never produce duplicates or gaps.
type Message struct {
	ID             string      `json:"message_id"`
	SessionID      string      `json:"session_id"`
	Role           MessageRole `json:"role"`
	Text           string      `json:"text"`
	Timestamp      time.Time   `json:"timestamp"`
	SequenceNumber int         `json:"sequence_number"`
}
