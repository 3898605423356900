package campaign

import "errors"

var (
	// ErrNotFound means no campaign exists with that id for the owner.
	ErrNotFound = errors.New("campaign not found")

	// ErrNotEditable means the campaign has left draft and its content is
	// frozen.
	ErrNotEditable = errors.New("campaign is no longer editable")

	// ErrMissingContent blocks a send without a list, subject, and body.
	ErrMissingContent = errors.New("campaign needs a list, subject, and body before sending")

	// ErrNoRecipients means list resolution produced zero valid emails.
	ErrNoRecipients = errors.New("list resolved to no valid recipients")
)
