package session

import "errors"

var (
	// ErrNotFound means the session does not exist for that user.
	ErrNotFound = errors.New("session not found")

	// ErrSequenceConflict means sequence allocation lost too many races
	// and gave up; the caller may retry the whole append.
	ErrSequenceConflict = errors.New("message sequence allocation conflict")
)
