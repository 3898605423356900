package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// sqlSystemPrompt carries the curated schema vocabulary. The model is
// told the canonical column names so generated SQL mostly skips the
// remapping pass.
const sqlSystemPrompt = `You translate questions about New Jersey voters into BigQuery SQL.

Tables:
- ` + "`proj-voter.nj.voters`" + ` (id, name_first, name_last, demo_party, email, city, county, state, zip, addr_residential_line1, registration_date, last_voted_date, age)
- ` + "`proj-voter.nj.geocodes`" + ` (person_id, address, latitude, longitude)
- ` + "`proj-voter.nj.donations`" + ` (person_id, amount, committee, donated_at)

geocodes.person_id and donations.person_id join to voters.id.
Party values: DEMOCRAT, REPUBLICAN, UNAFFILIATED.
Return exactly one SELECT statement. No DML, no DDL, no commentary.
Wrap the statement in a ` + "```sql" + ` code fence.`

// SQLPreparer remaps and guard-checks generated SQL before it leaves the
// service.
type SQLPreparer interface {
	Prepare(sqlText string) (string, error)
}

// SQLGenerator turns a natural-language prompt into a guarded SELECT via
// a non-streaming model invoke.
type SQLGenerator struct {
	runtime  Runtime
	preparer SQLPreparer
	modelID  string
}

// NewSQLGenerator wires the generator.
func NewSQLGenerator(runtime Runtime, preparer SQLPreparer, modelID string) *SQLGenerator {
	return &SQLGenerator{runtime: runtime, preparer: preparer, modelID: modelID}
}

// Generate asks the model for SQL answering the prompt, then applies the
// vocabulary remap and guard. Guard rejections surface as errors so the
// caller never returns unrunnable SQL.
func (g *SQLGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(AnthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        1024,
		System:           sqlSystemPrompt,
		Messages: []AnthropicMessage{{
			Role:    "user",
			Content: []ContentBlock{{Type: "text", Text: prompt}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	raw, err := g.runtime.Invoke(ctx, g.modelID, body)
	if err != nil {
		return "", err
	}

	var resp AnthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding model response: %w", err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	sqlText := extractSQL(text.String())
	if strings.TrimSpace(sqlText) == "" {
		return "", fmt.Errorf("model returned no SQL")
	}
	return g.preparer.Prepare(sqlText)
}

// extractSQL pulls the statement out of a code fence, tolerating a bare
// response with no fence.
func extractSQL(s string) string {
	lower := strings.ToLower(s)
	start := strings.Index(lower, "```sql")
	if start >= 0 {
		rest := s[start+len("```sql"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	if start := strings.Index(s, "```"); start >= 0 {
		rest := s[start+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	return strings.TrimSpace(s)
}
