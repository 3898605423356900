package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperPreparer struct{ seen string }

func (p *upperPreparer) Prepare(sqlText string) (string, error) {
	p.seen = sqlText
	return sqlText, nil
}

func modelTextResponse(t *testing.T, text string) []byte {
	t.Helper()
	raw, err := json.Marshal(AnthropicResponse{
		Content:    []ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
	})
	require.NoError(t, err)
	return raw
}

func TestGenerateExtractsFencedSQL(t *testing.T) {
	rt := &fakeRuntime{invokeOut: modelTextResponse(t,
		"Here you go:\n```sql\nSELECT id FROM `proj-voter.nj.voters` WHERE demo_party = 'DEMOCRAT'\n```\nLet me know.")}
	prep := &upperPreparer{}
	g := NewSQLGenerator(rt, prep, "test-model")

	got, err := g.Generate(context.Background(), "democrats")
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM `proj-voter.nj.voters` WHERE demo_party = 'DEMOCRAT'", got)
	assert.Equal(t, got, prep.seen)

	// The schema vocabulary rides in the system prompt.
	require.Len(t, rt.bodies, 1)
	assert.Contains(t, rt.bodies[0].System, "proj-voter.nj.voters")
}

func TestGenerateToleratesBareResponse(t *testing.T) {
	rt := &fakeRuntime{invokeOut: modelTextResponse(t, "SELECT count(*) FROM `proj-voter.nj.donations`")}
	g := NewSQLGenerator(rt, &upperPreparer{}, "test-model")

	got, err := g.Generate(context.Background(), "how many donations")
	require.NoError(t, err)
	assert.Equal(t, "SELECT count(*) FROM `proj-voter.nj.donations`", got)
}

func TestGenerateEmptyModelOutputFails(t *testing.T) {
	rt := &fakeRuntime{invokeOut: modelTextResponse(t, "   ")}
	g := NewSQLGenerator(rt, &upperPreparer{}, "test-model")

	_, err := g.Generate(context.Background(), "anything")
	assert.Error(t, err)
}
