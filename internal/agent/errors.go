package agent

import "errors"

var (
	// ErrCorruptedHistory means the runtime rejected the conversation
	// (mixed content types). The session's agent must be evicted and the
	// user advised to start a new session.
	ErrCorruptedHistory = errors.New("conversation history corrupted")

	// ErrExtraction means a chunk's text could not be extracted after
	// retries. The caller apologizes and ends the message.
	ErrExtraction = errors.New("could not extract text from model output")
)

// EmptyResponseText is returned in place of a blank assistant message
// when the stream ends with explicitly empty text.
const EmptyResponseText = "I wasn't able to produce a response to that. Please try rephrasing."

// CorruptedHistoryText is the user-facing advice for ErrCorruptedHistory.
const CorruptedHistoryText = "This conversation's history can no longer be replayed. Please start a new session."
