package warehouse

import (
	"fmt"
	"regexp"
	"strings"
)

// IdentifierRule rewrites a column/field identifier outside string literals.
// Match is whole-word and case-insensitive.
type IdentifierRule struct {
	From string
	To   string
	// SkipForTables suppresses the rule when the statement references any of
	// these fully-qualified tables. Used when a legacy name is still the
	// live name on some tables.
	SkipForTables []string
}

// LiteralRule rewrites a value inside single-quoted string literals.
type LiteralRule struct {
	From string
	To   string
}

// Remapper corrects model-generated SQL that drifts toward stale schema
// vocabulary. Remapping is pure and idempotent: applying it to already
// correct SQL is a no-op.
type Remapper struct {
	identifiers []compiledIdentifierRule
	literals    []LiteralRule
}

type compiledIdentifierRule struct {
	re         *regexp.Regexp
	to         string
	skipTables map[string]bool
}

// DefaultIdentifierRules covers the schema drift observed in generated SQL
// against the voter warehouse: models reach for the natural column name
// where the warehouse kept a prefixed one.
var DefaultIdentifierRules = []IdentifierRule{
	{From: "party", To: "demo_party"},
	{From: "voter_id", To: "id"},
	// The geocode table's address column is the live name there.
	{From: "address", To: "addr_residential_line1", SkipForTables: []string{"proj-voter.nj.geocodes"}},
}

// DefaultLiteralRules normalizes enumeration values: party names the model
// spells in title case, and the shorthand congressional district labels.
var DefaultLiteralRules = func() []LiteralRule {
	rules := []LiteralRule{
		{From: "Democrat", To: "DEMOCRAT"},
		{From: "Republican", To: "REPUBLICAN"},
		{From: "Unaffiliated", To: "UNAFFILIATED"},
		{From: "Independent", To: "UNAFFILIATED"},
	}
	for d := 1; d <= 12; d++ {
		rules = append(rules, LiteralRule{
			From: fmt.Sprintf("NJ-%02d", d),
			To:   fmt.Sprintf("NJ CONGRESSIONAL DISTRICT %02d", d),
		})
	}
	return rules
}()

// NewRemapper compiles the rule set. Rules apply in declaration order.
func NewRemapper(identifiers []IdentifierRule, literals []LiteralRule) *Remapper {
	r := &Remapper{literals: literals}
	for _, rule := range identifiers {
		skip := make(map[string]bool, len(rule.SkipForTables))
		for _, t := range rule.SkipForTables {
			skip[strings.ToLower(t)] = true
		}
		r.identifiers = append(r.identifiers, compiledIdentifierRule{
			re:         regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(rule.From) + `\b`),
			to:         rule.To,
			skipTables: skip,
		})
	}
	return r
}

// Apply rewrites the statement and returns the effective SQL. Identifier
// rules never touch the inside of string literals; literal rules only touch
// the inside of string literals.
func (r *Remapper) Apply(sql string) string {
	refs := make(map[string]bool)
	for _, ref := range extractTableRefs(sql) {
		refs[strings.ToLower(ref)] = true
	}

	segments := splitLiterals(sql)
	var b strings.Builder
	b.Grow(len(sql))
	for _, seg := range segments {
		if seg.literal {
			b.WriteString(r.applyLiterals(seg.text))
		} else {
			b.WriteString(r.applyIdentifiers(seg.text, refs))
		}
	}
	return b.String()
}

func (r *Remapper) applyIdentifiers(code string, refs map[string]bool) string {
	for _, rule := range r.identifiers {
		if suppressed(rule.skipTables, refs) {
			continue
		}
		code = rule.re.ReplaceAllString(code, rule.to)
	}
	return code
}

func (r *Remapper) applyLiterals(lit string) string {
	// lit includes the surrounding quotes; only the body is rewritten, and
	// only on exact full-value match so substrings of longer values survive.
	if len(lit) < 2 {
		return lit
	}
	body := lit[1 : len(lit)-1]
	for _, rule := range r.literals {
		if strings.EqualFold(body, rule.From) {
			return "'" + rule.To + "'"
		}
	}
	return lit
}

func suppressed(skip map[string]bool, refs map[string]bool) bool {
	for t := range skip {
		if refs[t] {
			return true
		}
	}
	return false
}

type segment struct {
	text    string
	literal bool
}

// splitLiterals partitions SQL into code and single-quoted literal segments.
// Doubled quotes ('') inside a literal are the standard escape and stay
// inside the literal segment.
func splitLiterals(sql string) []segment {
	var segs []segment
	start := 0
	inLit := false
	for i := 0; i < len(sql); i++ {
		if sql[i] != '\'' {
			continue
		}
		if inLit {
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++ // escaped quote
				continue
			}
			segs = append(segs, segment{text: sql[start : i+1], literal: true})
			start = i + 1
			inLit = false
		} else {
			if i > start {
				segs = append(segs, segment{text: sql[start:i]})
			}
			start = i
			inLit = true
		}
	}
	if start < len(sql) {
		// An unterminated literal is passed through as-is; the warehouse
		// will reject it.
		segs = append(segs, segment{text: sql[start:], literal: false})
	}
	return segs
}
