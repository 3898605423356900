package enrichment

import "errors"

var (
	// ErrNoRecord means no enrichment record exists for the person.
	ErrNoRecord = errors.New("no enrichment record")

	// ErrProviderAuth means the provider rejected our credentials.
	ErrProviderAuth = errors.New("enrichment provider rejected credentials")

	// ErrBulkTooLarge means a bulk call exceeded the provider's 100-person
	// per-request ceiling; the coordinator chunks, so seeing this is a bug.
	ErrBulkTooLarge = errors.New("bulk enrichment request exceeds 100 persons")
)
