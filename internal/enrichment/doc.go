// Package enrichment coordinates third-party profile enrichment for
// warehouse persons. Spend is governed twice: a process-wide daily budget
// kept in Redis, and a per-session confirmation threshold above which the
// caller must explicitly confirm before any provider call is made. Budget
// and match failures are outcomes, not errors: a partially-enriched batch
// is a normal result.
package enrichment
