package warehouse

import (
	"fmt"
	"regexp"
	"strings"
)

// RejectReason classifies why the guard refused a statement.
type RejectReason string

const (
	RejectNotSelect        RejectReason = "not_select"
	RejectForbiddenKeyword RejectReason = "forbidden_keyword"
	RejectOffAllowlist     RejectReason = "off_allowlist"
)

// RejectError is returned when a statement fails guard validation.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("query rejected (%s): %s", e.Reason, e.Detail)
}

// forbidden are write/DDL keywords that must never appear as a whole token.
// The allow-list plus SELECT-only gating is the security boundary; the
// warehouse credentials are additionally scoped to read.
var forbidden = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE", "CREATE",
	"ALTER", "DROP", "TRUNCATE", "REPLACE",
}

var forbiddenRe = func() *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(` + strings.Join(forbidden, "|") + `)\b`)
}()

// tableRefRe extracts fully-qualified table references of the shape
// project.dataset.table, with each part optionally back-tick quoted, or
// the whole reference quoted as one.
var tableRefRe = regexp.MustCompile("`?[A-Za-z0-9_-]+`?\\.`?[A-Za-z0-9_]+`?\\.`?[A-Za-z0-9_]+`?")

// Guard performs syntactic and semantic gating of warehouse SQL. It is
// deliberately not a full parser: writes are structurally impossible under
// SELECT-only, so tokenizer-level checks suffice, and malformed SQL is the
// warehouse's problem to reject.
type Guard struct {
	allowed map[string]bool
}

// NewGuard builds a guard from the configured allow-list of fully-qualified
// table/view names. Matching is case-insensitive.
func NewGuard(allowlist []string) *Guard {
	allowed := make(map[string]bool, len(allowlist))
	for _, t := range allowlist {
		allowed[strings.ToLower(t)] = true
	}
	return &Guard{allowed: allowed}
}

// Validate accepts or rejects a statement. It returns nil on acceptance and
// a *RejectError with a precise reason otherwise. It never swallows
// warehouse errors: acceptance only means the statement may be submitted.
func (g *Guard) Validate(sql string) error {
	// Keyword screening runs first so a DELETE statement reports the DELETE,
	// not just the missing SELECT prefix.
	if m := forbiddenRe.FindString(sql); m != "" {
		return &RejectError{
			Reason: RejectForbiddenKeyword,
			Detail: "forbidden keyword " + strings.ToUpper(m),
		}
	}

	stripped := stripLeadingComments(sql)
	if !hasSelectPrefix(stripped) {
		return &RejectError{Reason: RejectNotSelect, Detail: "only SELECT statements are permitted"}
	}

	// A query with zero extracted references is permitted; the warehouse
	// rejects malformed SQL on its own.
	for _, ref := range extractTableRefs(sql) {
		if !g.allowed[strings.ToLower(ref)] {
			return &RejectError{
				Reason: RejectOffAllowlist,
				Detail: "table " + ref + " is not on the allow-list",
			}
		}
	}
	return nil
}

// Allowed reports whether a fully-qualified table name is allow-listed.
func (g *Guard) Allowed(table string) bool {
	return g.allowed[strings.ToLower(table)]
}

// stripLeadingComments removes leading whitespace, line comments (-- and #)
// and block comments so the first keyword can be inspected.
func stripLeadingComments(sql string) string {
	s := strings.TrimSpace(sql)
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = strings.TrimSpace(s[idx+1:])
		case strings.HasPrefix(s, "#"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = strings.TrimSpace(s[idx+1:])
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return ""
			}
			s = strings.TrimSpace(s[idx+2:])
		default:
			return s
		}
	}
}

func hasSelectPrefix(s string) bool {
	if len(s) < len("select") {
		return false
	}
	head := s[:len("select")]
	if !strings.EqualFold(head, "select") {
		return false
	}
	// Must be a whole word: "selection" is not SELECT.
	if len(s) > len("select") {
		c := s[len("select")]
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' && c != '(' && c != '*' {
			return false
		}
	}
	return true
}

// extractTableRefs returns every project.dataset.table reference in the
// statement with back-ticks removed.
func extractTableRefs(sql string) []string {
	matches := tableRefRe.FindAllString(sql, -1)
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, strings.ReplaceAll(m, "`", ""))
	}
	return refs
}
