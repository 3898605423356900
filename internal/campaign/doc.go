// Package campaign implements the email campaign lifecycle: recipient
// resolution from saved lists, document rendering, batched provider
// dispatch, and webhook-driven stats reconciliation.
package campaign
