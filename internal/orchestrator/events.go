package orchestrator

// Server-to-client event types.
const (
	EventSessionCreated      = "session_created"
	EventMessageConfirmed    = "message_confirmed"
	EventMessageChunk        = "message_chunk"
	EventMessageEnd          = "message_end"
	EventMessageRecovery     = "message_recovery"
	EventSessionModelUpdated = "session_model_updated"
	EventError               = "error"
)

// Event is the outbound envelope; only the fields relevant to its Type
// are populated.
type Event struct {
	Type string `json:"type"`

	SessionID   string `json:"session_id,omitempty"`
	SessionName string `json:"session_name,omitempty"`

	MessageID      string `json:"message_id,omitempty"`
	MessageType    string `json:"message_type,omitempty"`
	SequenceNumber int    `json:"sequence_number,omitempty"`

	Chunk    string `json:"chunk,omitempty"`
	Sequence int    `json:"sequence,omitempty"`

	RecoveredText string `json:"recovered_text,omitempty"`
	IsComplete    bool   `json:"is_complete,omitempty"`

	ModelID string `json:"model_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Emitter delivers events to one transport connection. Emit reports
// false when the connection is gone; the caller stops emitting but keeps
// consuming upstream.
type Emitter interface {
	Emit(sid string, ev Event) bool
}
