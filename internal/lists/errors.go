package lists

import "errors"

var (
	// ErrNotFound means no active list with that id exists for the user.
	ErrNotFound = errors.New("list not found")

	// ErrRecentlyDeleted means the list existed but was deleted within the
	// recall window.
	ErrRecentlyDeleted = errors.New("list was recently deleted")

	// ErrNameRequired is returned when a list is created without a name.
	ErrNameRequired = errors.New("list name is required")

	// ErrSQLRequired is returned when a list is created without a query.
	ErrSQLRequired = errors.New("list sql is required")

	// ErrNotOwner means the list belongs to a different user.
	ErrNotOwner = errors.New("list is owned by another user")
)
