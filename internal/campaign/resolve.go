package campaign

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/warehouse"
)

// defaultRecipientCap bounds a send regardless of list size.
const defaultRecipientCap = 1000

// QueryRunner is the guarded warehouse surface resolution runs on.
type QueryRunner interface {
	Execute(ctx context.Context, sql string) (*domain.QueryResult, error)
}

// ListFetcher loads the saved list backing a campaign.
type ListFetcher interface {
	Get(ctx context.Context, userID, listID string) (*domain.SavedQuery, error)
}

// Resolver turns a saved list into a bounded set of emailable
// recipients. The stored SQL is never mutated; any wrapping is local to
// the send.
type Resolver struct {
	lists        ListFetcher
	runner       QueryRunner
	votersTable  string
	recipientCap int
}

// NewResolver wires a resolver. cap<=0 selects the default.
func NewResolver(lists ListFetcher, runner QueryRunner, votersTable string, cap int) *Resolver {
	if cap <= 0 {
		cap = defaultRecipientCap
	}
	return &Resolver{lists: lists, runner: runner, votersTable: votersTable, recipientCap: cap}
}

// selectListRe captures the outermost SELECT clause.
var selectListRe = regexp.MustCompile(`(?is)^\s*select\s+(.*?)\s+from\s`)

// projection returns the lowercased outer SELECT list, or "" when the
// statement shape is unrecognized.
func projection(sqlText string) string {
	m := selectListRe.FindStringSubmatch(sqlText)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

var (
	idColRe        = regexp.MustCompile(`\b(person_)?id\b`)
	emailColRe     = regexp.MustCompile(`\bemail\b`)
	nameFirstColRe = regexp.MustCompile(`\bname_first\b`)
	nameLastColRe  = regexp.MustCompile(`\bname_last\b`)
)

// ErrNoJoinColumn is returned when a stored list keeps no column the
// resolver can join back to the voter table.
var ErrNoJoinColumn = fmt.Errorf("list projects no identifying column (need id, email, or name_first and name_last)")

// idQuery builds the statement that yields recipient ids. A list that
// already projects the voter id runs as stored; otherwise it is wrapped
// in a CTE and joined back to the voter table on whichever identifying
// columns it kept, preferring email over name matching.
func (r *Resolver) idQuery(stored string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(stored), ";")
	proj := projection(trimmed)
	if strings.Contains(proj, "*") || idColRe.MatchString(proj) {
		return trimmed, nil
	}

	var join string
	switch {
	case emailColRe.MatchString(proj):
		join = "lower(v.email) = lower(r.email)"
	case nameFirstColRe.MatchString(proj) && nameLastColRe.MatchString(proj):
		join = "v.name_first = r.name_first AND v.name_last = r.name_last"
	default:
		return "", ErrNoJoinColumn
	}
	return fmt.Sprintf("WITH r AS (%s) SELECT v.id AS person_id FROM `%s` v JOIN r ON %s",
		trimmed, r.votersTable, join), nil
}

// Resolve executes the list (wrapped to recover the voter id when
// needed), caps the id set, and fetches personalization fields for ids
// with a usable email address.
func (r *Resolver) Resolve(ctx context.Context, userID, listID string) ([]domain.Recipient, error) {
	list, err := r.lists.Get(ctx, userID, listID)
	if err != nil {
		return nil, err
	}

	idSQL, err := r.idQuery(list.SQLText)
	if err != nil {
		return nil, fmt.Errorf("resolving list %s: %w", listID, err)
	}

	ctx = warehouse.WithCaller(ctx, "campaign")
	res, err := r.runner.Execute(ctx, idSQL)
	if err != nil {
		return nil, fmt.Errorf("resolving list %s: %w", listID, err)
	}

	ids := collectPersonIDs(res)
	if len(ids) > r.recipientCap {
		ids = ids[:r.recipientCap]
	}
	if len(ids) == 0 {
		return nil, ErrNoRecipients
	}

	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + strings.ReplaceAll(id, "'", "''") + "'"
	}
	detailSQL := fmt.Sprintf(
		"SELECT id AS person_id, email, name_first, name_last, city FROM `%s` WHERE id IN (%s) AND email IS NOT NULL",
		r.votersTable, strings.Join(quoted, ", "))

	detail, err := r.runner.Execute(ctx, detailSQL)
	if err != nil {
		return nil, fmt.Errorf("fetching recipients: %w", err)
	}

	recipients := recipientsFromResult(detail)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return recipients, nil
}

func collectPersonIDs(res *domain.QueryResult) []string {
	col := -1
	for i, name := range res.Columns {
		if strings.EqualFold(name, "person_id") || strings.EqualFold(name, "id") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(res.Rows))
	var ids []string
	for _, row := range res.Rows {
		id, _ := row[col].(string)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func recipientsFromResult(res *domain.QueryResult) []domain.Recipient {
	idx := map[string]int{}
	for i, name := range res.Columns {
		idx[strings.ToLower(name)] = i
	}
	str := func(row []interface{}, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		s, _ := row[i].(string)
		return s
	}

	var out []domain.Recipient
	for _, row := range res.Rows {
		email := str(row, "email")
		if !validEmail(email) {
			continue
		}
		out = append(out, domain.Recipient{
			PersonID:  str(row, "person_id"),
			Email:     email,
			FirstName: str(row, "name_first"),
			LastName:  str(row, "name_last"),
			City:      str(row, "city"),
		})
	}
	return out
}

func validEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && strings.Contains(s[at:], ".") && !strings.ContainsAny(s, " \t")
}
